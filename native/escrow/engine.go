package escrow

import (
	"errors"
	"math/big"
	"time"

	"escrowd/core/events"
	"escrowd/core/types"
)

var errNilState = errors.New("escrow engine: state not configured")

// EngineState is the storage surface the engine mutates. Implementations
// must give the engine point access to escrow records, the trust registry,
// the final results table, the monotonic id counter, the factory index and
// the underlying value ledger.
type EngineState interface {
	EscrowPut(*Escrow) error
	EscrowGet(id EscrowID) (*Escrow, bool)
	EscrowDelete(id EscrowID) error
	EscrowNextID() (EscrowID, error)

	IsTrustedHandler(id EscrowID, addr types.Address) bool
	TrustedPut(id EscrowID, addr types.Address) error
	TrustedCount(id EscrowID) (int, error)
	TrustedClear(id EscrowID) error

	ResultsPut(id EscrowID, results *ResultInfo) error
	ResultsGet(id EscrowID) (*ResultInfo, bool)
	ResultsDelete(id EscrowID) error

	FactoryAdd(factory string, id EscrowID) error
	FactoryRemove(factory string, id EscrowID) error
	FactoryList(factory string) ([]EscrowID, error)

	Transfer(from, to types.Address, amount *big.Int) error
	BalanceOf(addr types.Address) (*big.Int, error)

	// WithTransaction stages every write performed by fn and commits them
	// only when fn returns nil. On error nothing becomes visible.
	WithTransaction(fn func(EngineState) error) error
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine wires the escrow state machine to external state and event
// emitters. All mutating operations take the caller identity explicitly;
// there is no ambient authentication context.
type Engine struct {
	state   EngineState
	emitter events.Emitter
	params  Params
	nowFn   func() int64
}

// NewEngine creates an escrow engine with default parameters and a no-op
// emitter. Callers can override both via SetParams and SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		params:  DefaultParams(),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state EngineState) { e.state = state }

// SetParams configures the runtime limits enforced by the engine.
func (e *Engine) SetParams(params Params) { e.params = params.Sanitize() }

// Params returns the limits currently enforced by the engine.
func (e *Engine) Params() Params { return e.params }

// SetNowFunc overrides the time source used by the engine. Primarily
// intended for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// CreateParams bundles the caller-supplied inputs of Create.
type CreateParams struct {
	ManifestURL      []byte
	ManifestHash     []byte
	ReputationOracle types.Address
	RecordingOracle  types.Address
	ReputationStake  uint8
	RecordingStake   uint8
	// Canceller receives refunds on cancel/abort. Zero means the creator.
	Canceller types.Address
	// ExtraHandlers are registered as trusted alongside the creator, the
	// oracles and the canceller. Bounded by HandlersLimit.
	ExtraHandlers []types.Address
	// Factory optionally groups the escrow for bulk enumeration.
	Factory string
}

// Create validates the definition, allocates the next id, derives the
// custodial account, registers the initial trusted handlers and persists the
// record in Pending status. The id counter only advances on success.
func (e *Engine) Create(caller types.Address, params CreateParams) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if len(params.ManifestURL) > e.params.StringLimit || len(params.ManifestHash) > e.params.StringLimit {
		return nil, ErrStringSize
	}
	if params.ReputationStake > 100 || params.RecordingStake > 100 {
		return nil, ErrStakeOutOfBounds
	}
	// 100 + 100 < 256 so the plain addition cannot overflow.
	if int(params.ReputationStake)+int(params.RecordingStake) > 100 {
		return nil, ErrStakeOutOfBounds
	}
	if len(params.ExtraHandlers) > e.params.HandlersLimit {
		return nil, ErrTooManyHandlers
	}
	canceller := params.Canceller
	if canceller.IsZero() {
		canceller = caller
	}
	id, err := e.state.EscrowNextID()
	if err != nil {
		return nil, err
	}
	esc := &Escrow{
		ID:               id,
		Status:           StatusPending,
		EndTime:          e.now() + e.params.StandardDuration,
		ManifestURL:      append([]byte(nil), params.ManifestURL...),
		ManifestHash:     append([]byte(nil), params.ManifestHash...),
		ReputationOracle: params.ReputationOracle,
		RecordingOracle:  params.RecordingOracle,
		ReputationStake:  params.ReputationStake,
		RecordingStake:   params.RecordingStake,
		Canceller:        canceller,
		Account:          DeriveAccount(id),
		Factory:          params.Factory,
	}
	trusted := make([]types.Address, 0, 4+len(params.ExtraHandlers))
	trusted = append(trusted, params.RecordingOracle, params.ReputationOracle, caller, canceller)
	trusted = append(trusted, params.ExtraHandlers...)
	for _, handler := range trusted {
		if err := e.state.TrustedPut(id, handler); err != nil {
			return nil, err
		}
	}
	if esc.Factory != "" {
		if err := e.state.FactoryAdd(esc.Factory, id); err != nil {
			return nil, err
		}
	}
	if err := e.state.EscrowPut(esc); err != nil {
		return nil, err
	}
	e.emit(NewPendingEvent(esc, caller))
	return esc.Clone(), nil
}

// AddTrustedHandlers registers additional handlers for an existing escrow.
// The union insert is idempotent; re-adding a present handler is a no-op.
func (e *Engine) AddTrustedHandlers(caller types.Address, id EscrowID, handlers []types.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if !e.state.IsTrustedHandler(id, caller) {
		return ErrNonTrustedAccount
	}
	if _, ok := e.state.EscrowGet(id); !ok {
		return ErrMissingEscrow
	}
	current, err := e.state.TrustedCount(id)
	if err != nil {
		return err
	}
	added := 0
	for _, handler := range handlers {
		if !e.state.IsTrustedHandler(id, handler) {
			added++
		}
	}
	if current+added > e.params.HandlersLimit {
		return ErrTooManyHandlers
	}
	for _, handler := range handlers {
		if err := e.state.TrustedPut(id, handler); err != nil {
			return err
		}
	}
	return nil
}

// Abort destroys the escrow: any custodial balance is refunded to the
// canceller, then the record, its trust entries and any stored result
// pointer are removed. This is unrecoverable.
func (e *Engine) Abort(caller types.Address, id EscrowID) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if !e.state.IsTrustedHandler(id, caller) {
		return ErrNonTrustedAccount
	}
	esc, ok := e.state.EscrowGet(id)
	if !ok {
		return ErrMissingEscrow
	}
	if esc.Status == StatusComplete || esc.Status == StatusPaid {
		return ErrEscrowClosed
	}
	var refunded *big.Int
	err := e.state.WithTransaction(func(state EngineState) error {
		balance, err := state.BalanceOf(esc.Account)
		if err != nil {
			return err
		}
		if balance.Sign() > 0 {
			if err := state.Transfer(esc.Account, esc.Canceller, balance); err != nil {
				return err
			}
		}
		refunded = balance
		if err := state.EscrowDelete(id); err != nil {
			return err
		}
		if err := state.TrustedClear(id); err != nil {
			return err
		}
		if err := state.ResultsDelete(id); err != nil {
			return err
		}
		if esc.Factory != "" {
			if err := state.FactoryRemove(esc.Factory, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.emit(NewAbortedEvent(id, esc.Canceller, refunded))
	return nil
}

// Cancel refunds the remaining balance to the canceller and marks the escrow
// Cancelled. Unlike Abort the record is retained.
func (e *Engine) Cancel(caller types.Address, id EscrowID) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if !e.state.IsTrustedHandler(id, caller) {
		return ErrNonTrustedAccount
	}
	esc, ok := e.state.EscrowGet(id)
	if !ok {
		return ErrMissingEscrow
	}
	if !esc.Status.open() {
		return ErrEscrowClosed
	}
	var refunded *big.Int
	err := e.state.WithTransaction(func(state EngineState) error {
		balance, err := state.BalanceOf(esc.Account)
		if err != nil {
			return err
		}
		if balance.Sign() == 0 {
			return ErrOutOfFunds
		}
		if err := state.Transfer(esc.Account, esc.Canceller, balance); err != nil {
			return err
		}
		refunded = balance
		esc.Status = StatusCancelled
		return state.EscrowPut(esc)
	})
	if err != nil {
		return err
	}
	e.emit(NewCancelledEvent(esc, refunded))
	return nil
}

// Complete marks a fully paid escrow as complete before its end time,
// prohibiting any further changes.
func (e *Engine) Complete(caller types.Address, id EscrowID) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if !e.state.IsTrustedHandler(id, caller) {
		return ErrNonTrustedAccount
	}
	esc, ok := e.state.EscrowGet(id)
	if !ok {
		return ErrMissingEscrow
	}
	if esc.EndTime <= e.now() {
		return ErrEscrowExpired
	}
	if esc.Status != StatusPaid {
		return ErrEscrowNotPaid
	}
	esc.Status = StatusComplete
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	e.emit(NewCompletedEvent(esc))
	return nil
}

// loadOpen resolves the caller and returns the escrow when it is still open
// for results and payouts: trusted caller, record present, end time not
// passed, status Pending or Partial.
func (e *Engine) loadOpen(caller types.Address, id EscrowID) (*Escrow, error) {
	if !e.state.IsTrustedHandler(id, caller) {
		return nil, ErrNonTrustedAccount
	}
	esc, ok := e.state.EscrowGet(id)
	if !ok {
		return nil, ErrMissingEscrow
	}
	if esc.EndTime <= e.now() {
		return nil, ErrEscrowExpired
	}
	if !esc.Status.open() {
		return nil, ErrEscrowClosed
	}
	return esc, nil
}

// NoteIntermediateResults announces an intermediate results pointer. The
// pointer is emitted as an event only and never persisted.
func (e *Engine) NoteIntermediateResults(caller types.Address, id EscrowID, url, hash []byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if len(url) > e.params.StringLimit || len(hash) > e.params.StringLimit {
		return ErrStringSize
	}
	if _, err := e.loadOpen(caller, id); err != nil {
		return err
	}
	e.emit(NewIntermediateResultsEvent(id, url, hash))
	return nil
}

// StoreFinalResults overwrites the stored final results pointer.
func (e *Engine) StoreFinalResults(caller types.Address, id EscrowID, url, hash []byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if len(url) > e.params.StringLimit || len(hash) > e.params.StringLimit {
		return ErrStringSize
	}
	if _, err := e.loadOpen(caller, id); err != nil {
		return err
	}
	results := &ResultInfo{
		ResultsURL:  append([]byte(nil), url...),
		ResultsHash: append([]byte(nil), hash...),
	}
	if err := e.state.ResultsPut(id, results); err != nil {
		return err
	}
	e.emit(NewFinalResultsEvent(id, results))
	return nil
}

// BulkPayout distributes funds to recipients net of oracle fees and advances
// the escrow status. The whole settlement runs inside one transactional
// scope: either every transfer and state write commits, or none do. An
// optional results pointer is persisted with the same atomicity.
func (e *Engine) BulkPayout(caller types.Address, id EscrowID, recipients []types.Address, amounts []*big.Int, results *ResultInfo) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if results != nil {
		if len(results.ResultsURL) > e.params.StringLimit || len(results.ResultsHash) > e.params.StringLimit {
			return ErrStringSize
		}
	}
	esc, err := e.loadOpen(caller, id)
	if err != nil {
		return err
	}
	balance, err := e.state.BalanceOf(esc.Account)
	if err != nil {
		return err
	}
	if balance.Sign() == 0 {
		return ErrOutOfFunds
	}
	sum, ok := sumAmounts(amounts)
	if !ok {
		return errNegativeAmount
	}
	if balance.Cmp(sum) < 0 {
		return ErrOutOfFunds
	}
	if err := validateBulkTransfer(len(recipients), amounts, e.params); err != nil {
		return err
	}
	repFee, recFee, nets := FinalizePayouts(esc, amounts)
	err = e.state.WithTransaction(func(state EngineState) error {
		if err := e.transfer(state, esc.Account, esc.ReputationOracle, repFee); err != nil {
			return err
		}
		if err := e.transfer(state, esc.Account, esc.RecordingOracle, recFee); err != nil {
			return err
		}
		for i, recipient := range recipients {
			if err := e.transfer(state, esc.Account, recipient, nets[i]); err != nil {
				return err
			}
		}
		remaining, err := state.BalanceOf(esc.Account)
		if err != nil {
			return err
		}
		if esc.Status == StatusPending {
			esc.Status = StatusPartial
		}
		if remaining.Sign() == 0 && esc.Status == StatusPartial {
			esc.Status = StatusPaid
		}
		if err := state.EscrowPut(esc); err != nil {
			return err
		}
		if results != nil {
			if err := state.ResultsPut(id, results.Clone()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if results != nil {
		e.emit(NewFinalResultsEvent(id, results))
	}
	e.emit(NewBulkPayoutEvent(esc, len(recipients), sum))
	return nil
}

// transfer moves value between accounts, skipping zero amounts so that
// zero-fee and fully-fee-consumed entries do not touch the ledger.
func (e *Engine) transfer(state EngineState, from, to types.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	return state.Transfer(from, to, amount)
}

// Get returns a copy of the stored escrow record.
func (e *Engine) Get(id EscrowID) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	esc, ok := e.state.EscrowGet(id)
	if !ok {
		return nil, ErrMissingEscrow
	}
	return esc.Clone(), nil
}

// FinalResults returns the stored final results pointer, if any.
func (e *Engine) FinalResults(id EscrowID) (*ResultInfo, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, ok := e.state.EscrowGet(id); !ok {
		return nil, ErrMissingEscrow
	}
	results, ok := e.state.ResultsGet(id)
	if !ok {
		return nil, nil
	}
	return results.Clone(), nil
}

// IsTrustedHandler reports whether the principal may invoke privileged
// operations on the escrow.
func (e *Engine) IsTrustedHandler(id EscrowID, addr types.Address) bool {
	if e == nil || e.state == nil {
		return false
	}
	return e.state.IsTrustedHandler(id, addr)
}

// FactoryEscrows lists the escrow ids registered under a factory group.
func (e *Engine) FactoryEscrows(factory string) ([]EscrowID, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.FactoryList(factory)
}
