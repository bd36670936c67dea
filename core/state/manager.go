package state

import (
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"escrowd/core/types"
	"escrowd/native/escrow"
	"escrowd/native/ledger"
	"escrowd/storage"
)

// Manager provides typed access to the node's logical tables (escrow
// records, trust registry, results, id counter, ledger accounts, factory
// index, kvstore entries) on top of a flat key-value Database. It implements
// the state interfaces consumed by the native modules.
type Manager struct {
	db storage.Database
}

// NewManager binds a manager to the given database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func escrowRecordKey(id escrow.EscrowID) []byte {
	return hashedKey(escrowRecordPrefix, id[:])
}

func escrowResultsKey(id escrow.EscrowID) []byte {
	return hashedKey(escrowResultsPrefix, id[:])
}

func escrowTrustKey(id escrow.EscrowID, addr types.Address) []byte {
	raw := make([]byte, 0, len(id)+len(addr))
	raw = append(raw, id[:]...)
	raw = append(raw, addr[:]...)
	return hashedKey(escrowTrustPrefix, raw)
}

func escrowTrustListKey(id escrow.EscrowID) []byte {
	return hashedKey(escrowTrustListPref, id[:])
}

func escrowFactoryKey(factory string) []byte {
	return hashedKey(escrowFactoryPrefix, []byte(factory))
}

func accountKey(addr types.Address) []byte {
	return hashedKey(accountPrefix, addr[:])
}

func kvEntryKey(owner types.Address, key []byte) []byte {
	raw := make([]byte, 0, len(owner)+len(key))
	raw = append(raw, owner[:]...)
	raw = append(raw, key...)
	return hashedKey(kvEntryPrefix, raw)
}

func hashedKey(prefix, raw []byte) []byte {
	buf := make([]byte, 0, len(prefix)+len(raw))
	buf = append(buf, prefix...)
	buf = append(buf, raw...)
	return ethcrypto.Keccak256(buf)
}

// --- escrow records ---

type storedEscrow struct {
	ID               [16]byte
	Status           uint8
	EndTime          uint64
	ManifestURL      []byte
	ManifestHash     []byte
	ReputationOracle [20]byte
	RecordingOracle  [20]byte
	ReputationStake  uint8
	RecordingStake   uint8
	Canceller        [20]byte
	Account          [20]byte
	Factory          []byte
}

func newStoredEscrow(e *escrow.Escrow) *storedEscrow {
	return &storedEscrow{
		ID:               e.ID,
		Status:           uint8(e.Status),
		EndTime:          uint64(e.EndTime),
		ManifestURL:      e.ManifestURL,
		ManifestHash:     e.ManifestHash,
		ReputationOracle: e.ReputationOracle,
		RecordingOracle:  e.RecordingOracle,
		ReputationStake:  e.ReputationStake,
		RecordingStake:   e.RecordingStake,
		Canceller:        e.Canceller,
		Account:          e.Account,
		Factory:          []byte(e.Factory),
	}
}

func (s *storedEscrow) toEscrow() *escrow.Escrow {
	return &escrow.Escrow{
		ID:               s.ID,
		Status:           escrow.EscrowStatus(s.Status),
		EndTime:          int64(s.EndTime),
		ManifestURL:      append([]byte(nil), s.ManifestURL...),
		ManifestHash:     append([]byte(nil), s.ManifestHash...),
		ReputationOracle: s.ReputationOracle,
		RecordingOracle:  s.RecordingOracle,
		ReputationStake:  s.ReputationStake,
		RecordingStake:   s.RecordingStake,
		Canceller:        s.Canceller,
		Account:          s.Account,
		Factory:          string(s.Factory),
	}
}

// EscrowPut persists the escrow record, sanitizing it first.
func (m *Manager) EscrowPut(e *escrow.Escrow) error {
	sanitized, err := escrow.SanitizeEscrow(e)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(newStoredEscrow(sanitized))
	if err != nil {
		return fmt.Errorf("state: encode escrow: %w", err)
	}
	return m.db.Put(escrowRecordKey(sanitized.ID), encoded)
}

// EscrowGet loads the escrow record for id.
func (m *Manager) EscrowGet(id escrow.EscrowID) (*escrow.Escrow, bool) {
	raw, err := m.db.Get(escrowRecordKey(id))
	if err != nil {
		return nil, false
	}
	var stored storedEscrow
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false
	}
	return stored.toEscrow(), true
}

// EscrowDelete removes the escrow record for id.
func (m *Manager) EscrowDelete(id escrow.EscrowID) error {
	return m.db.Delete(escrowRecordKey(id))
}

// EscrowNextID hands out the next identifier and advances the counter. The
// counter never moves backwards, even when the escrow is later aborted.
func (m *Manager) EscrowNextID() (escrow.EscrowID, error) {
	var id escrow.EscrowID
	raw, err := m.db.Get(escrowCounterKey)
	switch {
	case err == nil:
		if len(raw) != len(id) {
			return id, fmt.Errorf("state: malformed escrow counter")
		}
		copy(id[:], raw)
	case errors.Is(err, storage.ErrKeyNotFound):
		// First allocation starts at zero.
	default:
		return id, err
	}
	next := id.Next()
	if err := m.db.Put(escrowCounterKey, next[:]); err != nil {
		return id, err
	}
	return id, nil
}

// --- trust registry ---

// IsTrustedHandler reports whether addr is registered for the escrow.
func (m *Manager) IsTrustedHandler(id escrow.EscrowID, addr types.Address) bool {
	raw, err := m.db.Get(escrowTrustKey(id, addr))
	return err == nil && len(raw) == 1 && raw[0] == 1
}

// TrustedPut registers addr as a handler for the escrow. Registering an
// already-present handler is a no-op.
func (m *Manager) TrustedPut(id escrow.EscrowID, addr types.Address) error {
	if m.IsTrustedHandler(id, addr) {
		return nil
	}
	list, err := m.trustedList(id)
	if err != nil {
		return err
	}
	list = append(list, addr)
	if err := m.writeTrustedList(id, list); err != nil {
		return err
	}
	return m.db.Put(escrowTrustKey(id, addr), []byte{1})
}

// TrustedCount returns the number of registered handlers.
func (m *Manager) TrustedCount(id escrow.EscrowID) (int, error) {
	list, err := m.trustedList(id)
	if err != nil {
		return 0, err
	}
	return len(list), nil
}

// TrustedHandlers returns the registered handlers in insertion order.
func (m *Manager) TrustedHandlers(id escrow.EscrowID) ([]types.Address, error) {
	return m.trustedList(id)
}

// TrustedClear removes every trust entry for the escrow.
func (m *Manager) TrustedClear(id escrow.EscrowID) error {
	list, err := m.trustedList(id)
	if err != nil {
		return err
	}
	for _, addr := range list {
		if err := m.db.Delete(escrowTrustKey(id, addr)); err != nil {
			return err
		}
	}
	return m.db.Delete(escrowTrustListKey(id))
}

func (m *Manager) trustedList(id escrow.EscrowID) ([]types.Address, error) {
	raw, err := m.db.Get(escrowTrustListKey(id))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var list [][20]byte
	if err := rlp.DecodeBytes(raw, &list); err != nil {
		return nil, fmt.Errorf("state: decode trust list: %w", err)
	}
	out := make([]types.Address, len(list))
	for i, addr := range list {
		out[i] = addr
	}
	return out, nil
}

func (m *Manager) writeTrustedList(id escrow.EscrowID, list []types.Address) error {
	raw := make([][20]byte, len(list))
	for i, addr := range list {
		raw[i] = addr
	}
	encoded, err := rlp.EncodeToBytes(raw)
	if err != nil {
		return fmt.Errorf("state: encode trust list: %w", err)
	}
	return m.db.Put(escrowTrustListKey(id), encoded)
}

// --- final results ---

type storedResults struct {
	ResultsURL  []byte
	ResultsHash []byte
}

// ResultsPut overwrites the final results pointer for the escrow.
func (m *Manager) ResultsPut(id escrow.EscrowID, results *escrow.ResultInfo) error {
	if results == nil {
		return fmt.Errorf("state: nil results")
	}
	encoded, err := rlp.EncodeToBytes(&storedResults{
		ResultsURL:  results.ResultsURL,
		ResultsHash: results.ResultsHash,
	})
	if err != nil {
		return fmt.Errorf("state: encode results: %w", err)
	}
	return m.db.Put(escrowResultsKey(id), encoded)
}

// ResultsGet loads the final results pointer, if stored.
func (m *Manager) ResultsGet(id escrow.EscrowID) (*escrow.ResultInfo, bool) {
	raw, err := m.db.Get(escrowResultsKey(id))
	if err != nil {
		return nil, false
	}
	var stored storedResults
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false
	}
	return &escrow.ResultInfo{
		ResultsURL:  append([]byte(nil), stored.ResultsURL...),
		ResultsHash: append([]byte(nil), stored.ResultsHash...),
	}, true
}

// ResultsDelete removes the final results pointer, if any.
func (m *Manager) ResultsDelete(id escrow.EscrowID) error {
	return m.db.Delete(escrowResultsKey(id))
}

// --- factory index ---

// FactoryAdd registers the escrow id under the factory group.
func (m *Manager) FactoryAdd(factory string, id escrow.EscrowID) error {
	list, err := m.FactoryList(factory)
	if err != nil {
		return err
	}
	for _, existing := range list {
		if existing == id {
			return nil
		}
	}
	list = append(list, id)
	return m.writeFactoryList(factory, list)
}

// FactoryRemove deregisters the escrow id from the factory group.
func (m *Manager) FactoryRemove(factory string, id escrow.EscrowID) error {
	list, err := m.FactoryList(factory)
	if err != nil {
		return err
	}
	filtered := list[:0]
	for _, existing := range list {
		if existing != id {
			filtered = append(filtered, existing)
		}
	}
	if len(filtered) == 0 {
		return m.db.Delete(escrowFactoryKey(factory))
	}
	return m.writeFactoryList(factory, filtered)
}

// FactoryList enumerates the escrow ids registered under the factory group.
func (m *Manager) FactoryList(factory string) ([]escrow.EscrowID, error) {
	raw, err := m.db.Get(escrowFactoryKey(factory))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var list [][16]byte
	if err := rlp.DecodeBytes(raw, &list); err != nil {
		return nil, fmt.Errorf("state: decode factory list: %w", err)
	}
	out := make([]escrow.EscrowID, len(list))
	for i, id := range list {
		out[i] = id
	}
	return out, nil
}

func (m *Manager) writeFactoryList(factory string, list []escrow.EscrowID) error {
	raw := make([][16]byte, len(list))
	for i, id := range list {
		raw[i] = id
	}
	encoded, err := rlp.EncodeToBytes(raw)
	if err != nil {
		return fmt.Errorf("state: encode factory list: %w", err)
	}
	return m.db.Put(escrowFactoryKey(factory), encoded)
}

// --- ledger accounts ---

type storedAccount struct {
	Nonce   uint64
	Balance *big.Int
}

// GetAccount loads the account for addr. Unknown addresses return a fresh
// zero-balance account.
func (m *Manager) GetAccount(addr types.Address) (*types.Account, error) {
	raw, err := m.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	if err != nil {
		return nil, err
	}
	var stored storedAccount
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("state: decode account: %w", err)
	}
	acc := &types.Account{Nonce: stored.Nonce, Balance: stored.Balance}
	return types.EnsureAccount(acc), nil
}

// PutAccount persists the account for addr.
func (m *Manager) PutAccount(addr types.Address, acc *types.Account) error {
	acc = types.EnsureAccount(acc)
	encoded, err := rlp.EncodeToBytes(&storedAccount{Nonce: acc.Nonce, Balance: acc.Balance})
	if err != nil {
		return fmt.Errorf("state: encode account: %w", err)
	}
	return m.db.Put(accountKey(addr), encoded)
}

// TotalSupplyGet returns the recorded minted supply.
func (m *Manager) TotalSupplyGet() (*big.Int, error) {
	raw, err := m.db.Get(totalSupplyKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(raw), nil
}

// TotalSupplyPut records the minted supply.
func (m *Manager) TotalSupplyPut(supply *big.Int) error {
	if supply == nil || supply.Sign() < 0 {
		return fmt.Errorf("state: invalid total supply")
	}
	return m.db.Put(totalSupplyKey, supply.Bytes())
}

// Transfer moves value between ledger accounts.
func (m *Manager) Transfer(from, to types.Address, amount *big.Int) error {
	return ledger.Move(m, from, to, amount)
}

// BalanceOf returns the spendable balance of addr.
func (m *Manager) BalanceOf(addr types.Address) (*big.Int, error) {
	return ledger.Balance(m, addr)
}

// --- kvstore entries ---

// KVPut writes value under (owner, key).
func (m *Manager) KVPut(owner types.Address, key, value []byte) error {
	return m.db.Put(kvEntryKey(owner, key), value)
}

// KVGet reads the value stored under (owner, key).
func (m *Manager) KVGet(owner types.Address, key []byte) ([]byte, bool, error) {
	raw, err := m.db.Get(kvEntryKey(owner, key))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

// --- transactional scope ---

// WithTransaction stages every write performed by fn on an overlay and
// commits the overlay only when fn returns nil. On error the base database
// is untouched. This is the unit of work wrapped around multi-step
// settlement.
func (m *Manager) WithTransaction(fn func(escrow.EngineState) error) error {
	overlay := storage.NewOverlay(m.db)
	if err := fn(NewManager(overlay)); err != nil {
		return err
	}
	return overlay.Commit()
}
