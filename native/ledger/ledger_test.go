package ledger

import (
	"errors"
	"math/big"
	"testing"

	"escrowd/core/types"
)

type memState struct {
	accounts map[types.Address]*types.Account
	supply   *big.Int
}

func newMemState() *memState {
	return &memState{
		accounts: make(map[types.Address]*types.Account),
		supply:   big.NewInt(0),
	}
}

func (m *memState) GetAccount(addr types.Address) (*types.Account, error) {
	acc, ok := m.accounts[addr]
	if !ok {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	return &types.Account{Nonce: acc.Nonce, Balance: new(big.Int).Set(acc.Balance)}, nil
}

func (m *memState) PutAccount(addr types.Address, acc *types.Account) error {
	m.accounts[addr] = &types.Account{Nonce: acc.Nonce, Balance: new(big.Int).Set(acc.Balance)}
	return nil
}

func (m *memState) TotalSupplyGet() (*big.Int, error) {
	return new(big.Int).Set(m.supply), nil
}

func (m *memState) TotalSupplyPut(supply *big.Int) error {
	m.supply = new(big.Int).Set(supply)
	return nil
}

func (m *memState) seed(addr types.Address, balance int64) {
	m.accounts[addr] = &types.Account{Balance: big.NewInt(balance)}
}

func acct(fill byte) types.Address {
	var a types.Address
	for i := range a {
		a[i] = fill
	}
	return a
}

func TestMoveRejectsBadAmounts(t *testing.T) {
	state := newMemState()
	from, to := acct(0x01), acct(0x02)
	state.seed(from, 100)

	if err := Move(state, from, to, nil); !errors.Is(err, ErrAmountZero) {
		t.Fatalf("expected ErrAmountZero for nil, got %v", err)
	}
	if err := Move(state, from, to, big.NewInt(0)); !errors.Is(err, ErrAmountZero) {
		t.Fatalf("expected ErrAmountZero, got %v", err)
	}
	if err := Move(state, from, to, big.NewInt(-5)); !errors.Is(err, ErrAmountNegative) {
		t.Fatalf("expected ErrAmountNegative, got %v", err)
	}
	if err := Move(state, from, to, big.NewInt(101)); !errors.Is(err, ErrBalanceLow) {
		t.Fatalf("expected ErrBalanceLow, got %v", err)
	}

	balance, _ := Balance(state, to)
	if balance.Sign() != 0 {
		t.Fatalf("rejected moves credited recipient: %v", balance)
	}
}

func TestMoveConservesValue(t *testing.T) {
	state := newMemState()
	from, to := acct(0x01), acct(0x02)
	state.seed(from, 100)
	state.seed(to, 25)

	if err := Move(state, from, to, big.NewInt(40)); err != nil {
		t.Fatalf("move: %v", err)
	}
	fromBal, _ := Balance(state, from)
	toBal, _ := Balance(state, to)
	if fromBal.Int64() != 60 || toBal.Int64() != 65 {
		t.Fatalf("unexpected balances %v/%v", fromBal, toBal)
	}
	if total := new(big.Int).Add(fromBal, toBal); total.Int64() != 125 {
		t.Fatalf("value not conserved: %v", total)
	}
}

func TestMoveSelfTransfer(t *testing.T) {
	state := newMemState()
	addr := acct(0x01)
	state.seed(addr, 100)

	if err := Move(state, addr, addr, big.NewInt(30)); err != nil {
		t.Fatalf("self transfer: %v", err)
	}
	balance, _ := Balance(state, addr)
	if balance.Int64() != 100 {
		t.Fatalf("self transfer changed balance: %v", balance)
	}

	if err := Move(state, addr, addr, big.NewInt(200)); !errors.Is(err, ErrBalanceLow) {
		t.Fatalf("oversized self transfer accepted: %v", err)
	}
}

func TestBalanceUnknownAddress(t *testing.T) {
	state := newMemState()
	balance, err := Balance(state, acct(0x09))
	if err != nil || balance.Sign() != 0 {
		t.Fatalf("expected zero balance, got %v (%v)", balance, err)
	}
}

func TestMint(t *testing.T) {
	state := newMemState()
	to := acct(0x01)

	if err := Mint(state, to, big.NewInt(0)); !errors.Is(err, ErrAmountZero) {
		t.Fatalf("expected ErrAmountZero, got %v", err)
	}
	if err := Mint(state, to, big.NewInt(-1)); !errors.Is(err, ErrAmountNegative) {
		t.Fatalf("expected ErrAmountNegative, got %v", err)
	}

	if err := Mint(state, to, big.NewInt(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := Mint(state, to, big.NewInt(250)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	balance, _ := Balance(state, to)
	if balance.Int64() != 750 {
		t.Fatalf("expected balance 750, got %v", balance)
	}
	supply, _ := state.TotalSupplyGet()
	if supply.Int64() != 750 {
		t.Fatalf("expected supply 750, got %v", supply)
	}
}
