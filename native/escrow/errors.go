package escrow

import "errors"

// Error taxonomy for the escrow state machine. Every precondition failure
// maps onto exactly one of these sentinels so callers can match with
// errors.Is and react (retry with corrected input, fund the account, ...).
var (
	// Validation: caller-supplied input rejected before any mutation.
	ErrStringSize           = errors.New("escrow: string exceeds configured limit")
	ErrStakeOutOfBounds     = errors.New("escrow: oracle stakes exceed 100 percent")
	ErrTooManyHandlers      = errors.New("escrow: too many trusted handlers")
	ErrMismatchBulkTransfer = errors.New("escrow: recipients and amounts length mismatch")
	ErrTooManyTos           = errors.New("escrow: too many bulk transfer recipients")
	ErrTransferTooBig       = errors.New("escrow: bulk transfer exceeds value limit")

	// Authorization.
	ErrNonTrustedAccount = errors.New("escrow: caller is not a trusted handler")

	// Not-found.
	ErrMissingEscrow = errors.New("escrow: escrow not found")

	// State-conflict: operation invalid for the current status or time.
	ErrEscrowClosed  = errors.New("escrow: escrow closed for this operation")
	ErrEscrowNotPaid = errors.New("escrow: escrow not fully paid")
	ErrEscrowExpired = errors.New("escrow: escrow end time passed")

	// Resource.
	ErrOutOfFunds = errors.New("escrow: insufficient custodial balance")

	// Arithmetic. Stake inputs are bounded to [0,100] so this is unreachable
	// through the public surface; kept so the taxonomy stays complete.
	ErrOverflow = errors.New("escrow: arithmetic overflow")
)
