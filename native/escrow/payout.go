package escrow

import (
	"errors"
	"math/big"
)

var oneHundred = big.NewInt(100)

var errNegativeAmount = errors.New("escrow: negative payout amount")

// FinalizePayouts splits each requested amount into the two oracle fees and
// the net recipient amount. Fees are floored per entry, so the aggregate fee
// can undershoot stake% of the total by at most one base unit per fee per
// entry; the remainder stays with the recipient. Net amounts saturate at
// zero rather than going negative.
//
// Conservation holds per entry: repFee + recFee + net == amount whenever the
// subtraction does not saturate, and the saturation branch is unreachable for
// stakes summing to at most 100 (which SanitizeEscrow enforces).
func FinalizePayouts(esc *Escrow, amounts []*big.Int) (repTotal, recTotal *big.Int, nets []*big.Int) {
	repTotal = big.NewInt(0)
	recTotal = big.NewInt(0)
	nets = make([]*big.Int, len(amounts))
	if esc == nil {
		for i := range nets {
			nets[i] = big.NewInt(0)
		}
		return repTotal, recTotal, nets
	}
	repStake := big.NewInt(int64(esc.ReputationStake))
	recStake := big.NewInt(int64(esc.RecordingStake))
	for i, amount := range amounts {
		amt := big.NewInt(0)
		if amount != nil && amount.Sign() > 0 {
			amt.Set(amount)
		}
		repFee := new(big.Int).Mul(amt, repStake)
		repFee.Div(repFee, oneHundred)
		recFee := new(big.Int).Mul(amt, recStake)
		recFee.Div(recFee, oneHundred)
		net := new(big.Int).Sub(amt, repFee)
		net.Sub(net, recFee)
		if net.Sign() < 0 {
			net.SetInt64(0)
		}
		repTotal.Add(repTotal, repFee)
		recTotal.Add(recTotal, recFee)
		nets[i] = net
	}
	return repTotal, recTotal, nets
}

// sumAmounts adds the requested amounts, treating nil entries as zero.
// Negative entries are surfaced so callers can reject the whole request.
func sumAmounts(amounts []*big.Int) (*big.Int, bool) {
	sum := big.NewInt(0)
	for _, amount := range amounts {
		if amount == nil {
			continue
		}
		if amount.Sign() < 0 {
			return nil, false
		}
		sum.Add(sum, amount)
	}
	return sum, true
}

// validateBulkTransfer enforces the bulk transfer shape and limits before any
// value moves: recipient count, list length equality, and the configured
// value ceiling on the summed amounts.
func validateBulkTransfer(recipients int, amounts []*big.Int, params Params) error {
	if recipients > params.BulkAccountsLimit {
		return ErrTooManyTos
	}
	if recipients != len(amounts) {
		return ErrMismatchBulkTransfer
	}
	sum, ok := sumAmounts(amounts)
	if !ok {
		return errNegativeAmount
	}
	if params.BulkBalanceLimit != nil && sum.Cmp(params.BulkBalanceLimit) > 0 {
		return ErrTransferTooBig
	}
	return nil
}
