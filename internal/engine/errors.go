package engine

import "errors"

// Sentinel errors for every rejection the engine can produce. Callers
// dispatch on these with errors.Is; the HTTP layer maps them to status
// codes via Classify.
var (
	// ErrInvalidRequest covers malformed inputs: nil identifiers,
	// non-positive amounts, undecodable price payloads.
	ErrInvalidRequest = errors.New("invalid liquidation request")

	// ErrUnknownPosition means no registered ledger owns the position.
	ErrUnknownPosition = errors.New("position not found on any ledger")

	// ErrLedgerNotAllowed means the owning ledger is outside the
	// configured allow-list.
	ErrLedgerNotAllowed = errors.New("ledger not allowed for liquidation")

	// ErrSelfLiquidation means the requested seize asset is the ledger's
	// debt asset. Repaying an asset to seize the same asset is never
	// meaningful and always rejected.
	ErrSelfLiquidation = errors.New("seize asset equals debt asset")

	// ErrNotEligible means the position's health factor is at or above
	// the trigger threshold.
	ErrNotEligible = errors.New("position not eligible for liquidation")

	// ErrSeizeBelowMinimum is the exact-debt slippage bound: the computed
	// seize amount came in below the caller's stated minimum.
	ErrSeizeBelowMinimum = errors.New("seize amount below caller minimum")

	// ErrRepayAboveMaximum is the exact-collateral slippage bound: the
	// computed repay amount exceeded the caller's stated maximum.
	ErrRepayAboveMaximum = errors.New("repay amount above caller maximum")

	// ErrInsufficientLiquidation means the post-liquidation health factor
	// is still below the trigger threshold.
	ErrInsufficientLiquidation = errors.New("liquidation left position below minimum health factor")

	// ErrExcessiveLiquidation means the post-liquidation health factor
	// rose above the configured ceiling.
	ErrExcessiveLiquidation = errors.New("liquidation pushed position above maximum health factor")

	// ErrReentrantCall means a liquidation for the same position is
	// already in flight on this engine.
	ErrReentrantCall = errors.New("liquidation already in flight for position")
)

// Kind buckets engine errors for metrics labels and HTTP status mapping.
type Kind int32

const (
	// KindInput: the caller sent something malformed. HTTP 400.
	KindInput Kind = iota
	// KindEligibility: well-formed, but the position or ledger cannot be
	// liquidated as requested. HTTP 409.
	KindEligibility
	// KindBound: a caller-supplied slippage bound was violated. HTTP 409.
	KindBound
	// KindPostCondition: execution completed but the resulting health
	// factor fell outside the configured band; everything rolled back.
	// HTTP 409.
	KindPostCondition
	// KindCollaborator: a ledger, oracle, or executor failure. HTTP 502.
	KindCollaborator
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindEligibility:
		return "eligibility"
	case KindBound:
		return "bound"
	case KindPostCondition:
		return "post_condition"
	case KindCollaborator:
		return "collaborator"
	default:
		return "unknown"
	}
}

// Classify maps an engine error to its taxonomy bucket. Unknown errors
// are collaborator failures: they came from a dependency, not the caller.
func Classify(err error) Kind {
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrUnknownPosition):
		return KindInput
	case errors.Is(err, ErrLedgerNotAllowed),
		errors.Is(err, ErrSelfLiquidation),
		errors.Is(err, ErrNotEligible),
		errors.Is(err, ErrReentrantCall):
		return KindEligibility
	case errors.Is(err, ErrSeizeBelowMinimum), errors.Is(err, ErrRepayAboveMaximum):
		return KindBound
	case errors.Is(err, ErrInsufficientLiquidation), errors.Is(err, ErrExcessiveLiquidation):
		return KindPostCondition
	default:
		return KindCollaborator
	}
}
