package ledger

import (
	"errors"
	"math/big"

	"escrowd/core/types"
)

// The ledger is the atomic value-transfer collaborator consumed by the
// escrow engine. It is deliberately single-asset: multi-asset support is a
// non-goal of the node.
var (
	ErrAmountZero     = errors.New("ledger: amount must not be zero")
	ErrAmountNegative = errors.New("ledger: amount must not be negative")
	ErrBalanceLow     = errors.New("ledger: insufficient balance")
)

// AccountState is the storage surface the ledger mutates.
type AccountState interface {
	GetAccount(addr types.Address) (*types.Account, error)
	PutAccount(addr types.Address, acc *types.Account) error
}

// SupplyState tracks the total minted supply alongside account balances.
type SupplyState interface {
	AccountState
	TotalSupplyGet() (*big.Int, error)
	TotalSupplyPut(*big.Int) error
}

// Move transfers amount from one account to the other. The debit and credit
// are applied together; a failed write surfaces before the caller observes
// either side (callers needing rollback run Move inside a transactional
// scope).
func Move(state AccountState, from, to types.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return ErrAmountZero
	}
	if amount.Sign() < 0 {
		return ErrAmountNegative
	}
	fromAcc, err := state.GetAccount(from)
	if err != nil {
		return err
	}
	fromAcc = types.EnsureAccount(fromAcc)
	if fromAcc.Balance.Cmp(amount) < 0 {
		return ErrBalanceLow
	}
	if from == to {
		// Self-transfer nets to the original balance.
		return nil
	}
	toAcc, err := state.GetAccount(to)
	if err != nil {
		return err
	}
	toAcc = types.EnsureAccount(toAcc)
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amount)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amount)
	if err := state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return state.PutAccount(to, toAcc)
}

// Balance returns the spendable balance of an address. Unknown addresses
// report zero.
func Balance(state AccountState, addr types.Address) (*big.Int, error) {
	acc, err := state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	acc = types.EnsureAccount(acc)
	return new(big.Int).Set(acc.Balance), nil
}

// Mint credits newly issued value to an address and grows the recorded total
// supply. Only genesis allocation and operator funding paths call this.
func Mint(state SupplyState, to types.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return ErrAmountZero
	}
	if amount.Sign() < 0 {
		return ErrAmountNegative
	}
	acc, err := state.GetAccount(to)
	if err != nil {
		return err
	}
	acc = types.EnsureAccount(acc)
	acc.Balance = new(big.Int).Add(acc.Balance, amount)
	if err := state.PutAccount(to, acc); err != nil {
		return err
	}
	supply, err := state.TotalSupplyGet()
	if err != nil {
		return err
	}
	if supply == nil {
		supply = big.NewInt(0)
	}
	return state.TotalSupplyPut(new(big.Int).Add(supply, amount))
}
