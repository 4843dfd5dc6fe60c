package engine

import "errors"

// All failures are synchronous and named. They fall into five groups:
// structural, temporal, state-mismatch, authorization and economic.
// Validation precedes all mutation: the first failing check aborts the
// call with zero side effects.
var (
	// Structural.
	ErrUnknownMarket     = errors.New("engine: unknown market")
	ErrDuplicateID       = errors.New("engine: market id already exists")
	ErrOutcomeOutOfRange = errors.New("engine: outcome index out of range")
	ErrReceiptMismatch   = errors.New("engine: receipt does not belong to market")

	// Temporal. "Too early" means retry later; "too late" means the next
	// eligible actor takes over.
	ErrTooLate          = errors.New("engine: past the allowed window")
	ErrTooEarly         = errors.New("engine: before the allowed window")
	ErrDeadlineExceeded = errors.New("engine: caller deadline exceeded")

	// State-mismatch.
	ErrWrongState      = errors.New("engine: operation not allowed in current state")
	ErrNotTransferable = errors.New("engine: receipts not transferable in current state")

	// Authorization.
	ErrUnauthorized = errors.New("engine: caller lacks required role")

	// Economic.
	ErrAmountOutOfRange = errors.New("engine: amount outside commitment bounds")
	ErrAssetNotAllowed  = errors.New("engine: payment asset not on allow-list")
	ErrPaused           = errors.New("engine: system is paused")
	ErrReentered        = errors.New("engine: re-entrant call during effect phase")
)

// rejectionGroup maps an error to its failure group label for metrics.
func rejectionGroup(err error) string {
	switch {
	case errors.Is(err, ErrUnknownMarket),
		errors.Is(err, ErrDuplicateID),
		errors.Is(err, ErrOutcomeOutOfRange),
		errors.Is(err, ErrReceiptMismatch):
		return "structural"
	case errors.Is(err, ErrTooLate),
		errors.Is(err, ErrTooEarly),
		errors.Is(err, ErrDeadlineExceeded):
		return "temporal"
	case errors.Is(err, ErrWrongState),
		errors.Is(err, ErrNotTransferable):
		return "state"
	case errors.Is(err, ErrUnauthorized):
		return "authorization"
	default:
		return "economic"
	}
}
