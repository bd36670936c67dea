package kvstore

import (
	"encoding/hex"
	"errors"

	"escrowd/core/events"
	"escrowd/core/types"
)

// The kvstore module gives every account a small private key-value space.
// It is independent of the escrow state machine; the two share nothing but
// the storage backend.
var (
	ErrKeyTooLong   = errors.New("kvstore: key exceeds configured limit")
	ErrValueTooLong = errors.New("kvstore: value exceeds configured limit")

	errNilState = errors.New("kvstore: state not configured")
)

// EventTypeStored is emitted after every successful Set.
const EventTypeStored = "kvstore.stored"

// State is the storage surface used by the module.
type State interface {
	KVPut(owner types.Address, key, value []byte) error
	KVGet(owner types.Address, key []byte) ([]byte, bool, error)
}

// DefaultStringLimit bounds keys and values when no limit is configured.
const DefaultStringLimit = 512

type storeEvent struct {
	evt *types.Event
}

func (e storeEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e storeEvent) Event() *types.Event { return e.evt }

// Store validates and dispatches key-value writes scoped to the caller.
type Store struct {
	state   State
	emitter events.Emitter
	limit   int
}

// NewStore creates a kvstore module with the default string limit and a
// no-op emitter.
func NewStore() *Store {
	return &Store{
		emitter: events.NoopEmitter{},
		limit:   DefaultStringLimit,
	}
}

// SetState configures the storage backend used by the module.
func (s *Store) SetState(state State) { s.state = state }

// SetStringLimit overrides the key/value size limit. Non-positive values
// reset the default.
func (s *Store) SetStringLimit(limit int) {
	if limit <= 0 {
		limit = DefaultStringLimit
	}
	s.limit = limit
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (s *Store) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		s.emitter = events.NoopEmitter{}
		return
	}
	s.emitter = emitter
}

// Set writes value under (caller, key) and emits a Stored event.
func (s *Store) Set(caller types.Address, key, value []byte) error {
	if s == nil || s.state == nil {
		return errNilState
	}
	if len(key) > s.limit {
		return ErrKeyTooLong
	}
	if len(value) > s.limit {
		return ErrValueTooLong
	}
	if err := s.state.KVPut(caller, key, value); err != nil {
		return err
	}
	s.emitter.Emit(storeEvent{evt: &types.Event{Type: EventTypeStored, Attributes: map[string]string{
		"account": caller.Hex(),
		"key":     hex.EncodeToString(key),
		"value":   hex.EncodeToString(value),
	}}})
	return nil
}

// Get reads the value stored under (owner, key).
func (s *Store) Get(owner types.Address, key []byte) ([]byte, bool, error) {
	if s == nil || s.state == nil {
		return nil, false, errNilState
	}
	return s.state.KVGet(owner, key)
}
