package core

import (
	"log/slog"
	"math/big"
	"sync"

	"escrowd/core/events"
	"escrowd/core/state"
	"escrowd/core/types"
	"escrowd/native/escrow"
	"escrowd/native/kvstore"
	"escrowd/native/ledger"
	"escrowd/storage"
)

// eventBufferSize bounds the in-memory event history served over RPC.
const eventBufferSize = 1024

// Node owns the state manager and the native modules and serializes every
// mutating operation behind one mutex. The engines themselves are
// synchronous and lock-free; the node supplies the "one active mutation at a
// time" discipline the escrow semantics assume.
type Node struct {
	mu      sync.Mutex
	state   *state.Manager
	escrow  *escrow.Engine
	kv      *kvstore.Store
	eventMu sync.Mutex
	events  []types.Event
}

// NewNode wires a node over the given database with the supplied escrow
// parameters.
func NewNode(db storage.Database, params escrow.Params) *Node {
	n := &Node{state: state.NewManager(db)}

	engine := escrow.NewEngine()
	engine.SetState(n.state)
	engine.SetParams(params)
	engine.SetEmitter(n)
	n.escrow = engine

	kv := kvstore.NewStore()
	kv.SetState(n.state)
	kv.SetStringLimit(params.StringLimit)
	kv.SetEmitter(n)
	n.kv = kv

	return n
}

// Escrow exposes the escrow engine, primarily for tests that want to tweak
// the time source.
func (n *Node) Escrow() *escrow.Engine { return n.escrow }

// Emit implements events.Emitter: emitted events are logged and retained in
// a bounded buffer for RPC consumers.
func (n *Node) Emit(evt events.Event) {
	carrier, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return
	}
	payload := carrier.Event()
	if payload == nil {
		return
	}
	slog.Info("event emitted", "type", payload.Type, "attributes", payload.Attributes)
	n.eventMu.Lock()
	defer n.eventMu.Unlock()
	n.events = append(n.events, *payload)
	if len(n.events) > eventBufferSize {
		n.events = n.events[len(n.events)-eventBufferSize:]
	}
}

// Events returns a copy of the buffered event history.
func (n *Node) Events() []types.Event {
	n.eventMu.Lock()
	defer n.eventMu.Unlock()
	out := make([]types.Event, len(n.events))
	copy(out, n.events)
	return out
}

// --- escrow operations ---

func (n *Node) EscrowCreate(caller types.Address, params escrow.CreateParams) (*escrow.Escrow, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.Create(caller, params)
}

func (n *Node) EscrowAddTrustedHandlers(caller types.Address, id escrow.EscrowID, handlers []types.Address) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.AddTrustedHandlers(caller, id, handlers)
}

func (n *Node) EscrowAbort(caller types.Address, id escrow.EscrowID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.Abort(caller, id)
}

func (n *Node) EscrowCancel(caller types.Address, id escrow.EscrowID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.Cancel(caller, id)
}

func (n *Node) EscrowComplete(caller types.Address, id escrow.EscrowID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.Complete(caller, id)
}

func (n *Node) EscrowNoteIntermediateResults(caller types.Address, id escrow.EscrowID, url, hash []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.NoteIntermediateResults(caller, id, url, hash)
}

func (n *Node) EscrowStoreFinalResults(caller types.Address, id escrow.EscrowID, url, hash []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.StoreFinalResults(caller, id, url, hash)
}

func (n *Node) EscrowBulkPayout(caller types.Address, id escrow.EscrowID, recipients []types.Address, amounts []*big.Int, results *escrow.ResultInfo) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.BulkPayout(caller, id, recipients, amounts, results)
}

func (n *Node) EscrowGet(id escrow.EscrowID) (*escrow.Escrow, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.Get(id)
}

func (n *Node) EscrowFinalResults(id escrow.EscrowID) (*escrow.ResultInfo, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.FinalResults(id)
}

func (n *Node) EscrowFactoryList(factory string) ([]escrow.EscrowID, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.FactoryEscrows(factory)
}

// --- ledger operations ---

func (n *Node) TokenTransfer(from, to types.Address, amount *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return ledger.Move(n.state, from, to, amount)
}

func (n *Node) TokenBalanceOf(addr types.Address) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return ledger.Balance(n.state, addr)
}

func (n *Node) TokenTotalSupply() (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.TotalSupplyGet()
}

// ApplyGenesis seeds ledger balances on a fresh database. It is a no-op once
// any supply has been minted, so restarting the node does not double-mint.
func (n *Node) ApplyGenesis(allocs map[types.Address]*big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	supply, err := n.state.TotalSupplyGet()
	if err != nil {
		return err
	}
	if supply.Sign() > 0 {
		return nil
	}
	for addr, amount := range allocs {
		if err := ledger.Mint(n.state, addr, amount); err != nil {
			return err
		}
	}
	return nil
}

// --- kvstore operations ---

func (n *Node) KVSet(caller types.Address, key, value []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.kv.Set(caller, key, value)
}

func (n *Node) KVGet(owner types.Address, key []byte) ([]byte, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.kv.Get(owner, key)
}
