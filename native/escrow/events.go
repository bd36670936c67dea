package escrow

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"escrowd/core/types"
)

const (
	EventTypePending             = "escrow.pending"
	EventTypeIntermediateResults = "escrow.intermediate_results"
	EventTypeBulkPayout          = "escrow.bulk_payout"
	EventTypeFinalResults        = "escrow.final_results"
	EventTypeCancelled           = "escrow.cancelled"
	EventTypeAborted             = "escrow.aborted"
	EventTypeCompleted           = "escrow.completed"
)

// NewPendingEvent returns the canonical event payload for a newly created
// escrow, carrying the id, creator, manifest pointer and custodial account.
func NewPendingEvent(e *Escrow, creator types.Address) *types.Event {
	attrs := baseAttrs(e)
	attrs["creator"] = creator.Hex()
	if e != nil {
		attrs["manifestUrl"] = string(e.ManifestURL)
		attrs["manifestHash"] = hex.EncodeToString(e.ManifestHash)
	}
	return &types.Event{Type: EventTypePending, Attributes: attrs}
}

// NewIntermediateResultsEvent returns the event payload announcing an
// off-chain intermediate results pointer. The pointer is only ever emitted,
// never persisted.
func NewIntermediateResultsEvent(id EscrowID, url, hash []byte) *types.Event {
	return &types.Event{Type: EventTypeIntermediateResults, Attributes: map[string]string{
		"id":          id.Hex(),
		"resultsUrl":  string(url),
		"resultsHash": hex.EncodeToString(hash),
	}}
}

// NewBulkPayoutEvent returns the event payload emitted after a successful
// bulk payout settlement.
func NewBulkPayoutEvent(e *Escrow, recipients int, total *big.Int) *types.Event {
	attrs := baseAttrs(e)
	attrs["recipients"] = strconv.Itoa(recipients)
	if total != nil {
		attrs["total"] = total.String()
	}
	return &types.Event{Type: EventTypeBulkPayout, Attributes: attrs}
}

// NewFinalResultsEvent returns the event payload emitted when the stored
// final results pointer is overwritten.
func NewFinalResultsEvent(id EscrowID, results *ResultInfo) *types.Event {
	attrs := map[string]string{"id": id.Hex()}
	if results != nil {
		attrs["resultsUrl"] = string(results.ResultsURL)
		attrs["resultsHash"] = hex.EncodeToString(results.ResultsHash)
	}
	return &types.Event{Type: EventTypeFinalResults, Attributes: attrs}
}

// NewCancelledEvent returns the event payload emitted when an escrow is
// cancelled and its balance refunded.
func NewCancelledEvent(e *Escrow, refunded *big.Int) *types.Event {
	attrs := baseAttrs(e)
	if refunded != nil {
		attrs["refunded"] = refunded.String()
	}
	return &types.Event{Type: EventTypeCancelled, Attributes: attrs}
}

// NewAbortedEvent returns the event payload emitted when an escrow is
// destroyed. The record is gone by the time subscribers see this.
func NewAbortedEvent(id EscrowID, canceller types.Address, refunded *big.Int) *types.Event {
	attrs := map[string]string{
		"id":        id.Hex(),
		"canceller": canceller.Hex(),
	}
	if refunded != nil {
		attrs["refunded"] = refunded.String()
	}
	return &types.Event{Type: EventTypeAborted, Attributes: attrs}
}

// NewCompletedEvent returns the event payload emitted when a paid escrow is
// marked complete.
func NewCompletedEvent(e *Escrow) *types.Event {
	return &types.Event{Type: EventTypeCompleted, Attributes: baseAttrs(e)}
}

func baseAttrs(e *Escrow) map[string]string {
	attrs := make(map[string]string)
	if e == nil {
		return attrs
	}
	attrs["id"] = e.ID.Hex()
	attrs["account"] = e.Account.Hex()
	attrs["status"] = e.Status.String()
	attrs["endTime"] = strconv.FormatInt(e.EndTime, 10)
	return attrs
}
