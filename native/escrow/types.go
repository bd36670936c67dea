package escrow

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"escrowd/core/types"
)

// EscrowID is a 128-bit monotonically assigned identifier. IDs are handed out
// by the state counter, are never reused, and survive aborts (the counter
// only moves forward).
type EscrowID [16]byte

// Next returns the identifier following id in big-endian order.
func (id EscrowID) Next() EscrowID {
	next := id
	for i := len(next) - 1; i >= 0; i-- {
		next[i]++
		if next[i] != 0 {
			break
		}
	}
	return next
}

// Hex returns the 0x-prefixed hex encoding of the identifier.
func (id EscrowID) Hex() string { return "0x" + hex.EncodeToString(id[:]) }

func (id EscrowID) String() string { return id.Hex() }

// EscrowIDFromUint64 builds an identifier from a small counter value.
// Primarily useful in tests.
func EscrowIDFromUint64(v uint64) EscrowID {
	var id EscrowID
	for i := 0; i < 8; i++ {
		id[15-i] = byte(v >> (8 * i))
	}
	return id
}

// ParseEscrowID decodes a 0x-prefixed or bare 32-character hex string.
func ParseEscrowID(s string) (EscrowID, error) {
	var id EscrowID
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(trimmed) != 2*len(id) {
		return id, fmt.Errorf("invalid escrow id length: %q", s)
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, fmt.Errorf("invalid escrow id %q: %w", s, err)
	}
	copy(id[:], raw)
	return id, nil
}

// EscrowStatus represents the lifecycle states of an escrow.
type EscrowStatus uint8

const (
	// StatusPending is the state at creation. Open for results and payouts,
	// can be cancelled.
	StatusPending EscrowStatus = iota
	// StatusPartial marks an escrow that has paid out part of its balance.
	StatusPartial
	// StatusPaid marks an escrow whose balance is fully spent.
	StatusPaid
	// StatusComplete marks a finished escrow that can no longer be altered.
	StatusComplete
	// StatusCancelled marks an escrow whose remaining balance was refunded.
	StatusCancelled
)

// Valid reports whether the status value is within the supported range.
func (s EscrowStatus) Valid() bool {
	switch s {
	case StatusPending, StatusPartial, StatusPaid, StatusComplete, StatusCancelled:
		return true
	default:
		return false
	}
}

func (s EscrowStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusPartial:
		return "partial"
	case StatusPaid:
		return "paid"
	case StatusComplete:
		return "complete"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// open reports whether the escrow still accepts results and payouts.
func (s EscrowStatus) open() bool {
	return s == StatusPending || s == StatusPartial
}

// Escrow captures the metadata and runtime status of a single escrow managed
// by the engine. Everything except Status is immutable after creation.
type Escrow struct {
	ID               EscrowID
	Status           EscrowStatus
	EndTime          int64
	ManifestURL      []byte
	ManifestHash     []byte
	ReputationOracle types.Address
	RecordingOracle  types.Address
	ReputationStake  uint8
	RecordingStake   uint8
	Canceller        types.Address
	Account          types.Address
	Factory          string
}

// Clone returns a deep copy of the escrow so callers can safely mutate the
// copy without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	clone.ManifestURL = append([]byte(nil), e.ManifestURL...)
	clone.ManifestHash = append([]byte(nil), e.ManifestHash...)
	return &clone
}

// ResultInfo is the latest-known pointer to off-chain final results. At most
// one is stored per escrow; each store overwrites the previous value.
type ResultInfo struct {
	ResultsURL  []byte
	ResultsHash []byte
}

// Clone returns a deep copy of the result pointer.
func (r *ResultInfo) Clone() *ResultInfo {
	if r == nil {
		return nil
	}
	return &ResultInfo{
		ResultsURL:  append([]byte(nil), r.ResultsURL...),
		ResultsHash: append([]byte(nil), r.ResultsHash...),
	}
}

// SanitizeEscrow validates and normalises the supplied escrow record,
// returning a cloned instance. The function does not mutate the original.
func SanitizeEscrow(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("nil escrow")
	}
	clone := e.Clone()
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid escrow status: %d", clone.Status)
	}
	if clone.ReputationStake > 100 || clone.RecordingStake > 100 {
		return nil, ErrStakeOutOfBounds
	}
	if int(clone.ReputationStake)+int(clone.RecordingStake) > 100 {
		return nil, ErrStakeOutOfBounds
	}
	clone.Factory = strings.TrimSpace(clone.Factory)
	return clone, nil
}

var vaultPrefix = []byte("escrow/vault/")

// DeriveAccount computes the custodial account for an escrow id. The mapping
// is injective over ids, so no two escrows ever share a custodial account.
func DeriveAccount(id EscrowID) types.Address {
	digest := ethcrypto.Keccak256(vaultPrefix, id[:])
	var addr types.Address
	copy(addr[:], digest[12:])
	return addr
}

// Params carries the runtime limits enforced by the engine.
type Params struct {
	// StandardDuration is the escrow validity window in seconds; EndTime is
	// fixed to creation time plus this duration.
	StandardDuration int64
	// StringLimit bounds manifest/result URLs and hashes in bytes.
	StringLimit int
	// BulkBalanceLimit bounds the total value moved by one bulk payout.
	BulkBalanceLimit *big.Int
	// BulkAccountsLimit bounds the recipient count of one bulk payout.
	BulkAccountsLimit int
	// HandlersLimit bounds the explicitly supplied trusted handlers.
	HandlersLimit int
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	limit := new(big.Int)
	limit.SetString("1000000000000000000000000", 10) // 1e24 base units
	return Params{
		StandardDuration:  100 * 24 * 60 * 60,
		StringLimit:       512,
		BulkBalanceLimit:  limit,
		BulkAccountsLimit: 100,
		HandlersLimit:     64,
	}
}

// Sanitize normalises zero-valued fields back to the defaults so a partially
// populated Params (e.g. from config) is safe to use.
func (p Params) Sanitize() Params {
	def := DefaultParams()
	if p.StandardDuration <= 0 {
		p.StandardDuration = def.StandardDuration
	}
	if p.StringLimit <= 0 {
		p.StringLimit = def.StringLimit
	}
	if p.BulkBalanceLimit == nil || p.BulkBalanceLimit.Sign() <= 0 {
		p.BulkBalanceLimit = def.BulkBalanceLimit
	}
	if p.BulkAccountsLimit <= 0 {
		p.BulkAccountsLimit = def.BulkAccountsLimit
	}
	if p.HandlersLimit <= 0 {
		p.HandlersLimit = def.HandlersLimit
	}
	return p
}
