package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"liqengine/internal/asset"
)

// Mode identifies which liquidation entry point produced a result.
type Mode int32

const (
	ModeExactDebt Mode = iota
	ModeExactCollateral
)

func (m Mode) String() string {
	if m == ModeExactCollateral {
		return "exact_collateral"
	}
	return "exact_debt"
}

// Result is the committed outcome of one liquidation call. It is the unit
// handed to sinks for persistence and event publishing.
type Result struct {
	ID        uuid.UUID `json:"id"`
	Ledger    string    `json:"ledger"`
	Position  uuid.UUID `json:"position"`
	Caller    uuid.UUID `json:"caller"`
	Recipient uuid.UUID `json:"recipient"`
	Mode      Mode      `json:"-"`

	SeizeAsset    asset.ID `json:"-"`
	RepaidAmount  int64    `json:"repaid_amount"`
	DebtReduced   int64    `json:"debt_reduced"`
	SeizedAmount  int64    `json:"seized_amount"`
	FeeAmount     int64    `json:"fee_amount"`
	DebtRemaining int64    `json:"debt_remaining"`

	ExecutedAt time.Time `json:"executed_at"`
}

// Key identifies the liquidation scope: one ledger, one position, one
// seized asset. Two results with the same key touched the same claim.
func (r Result) Key() string {
	return fmt.Sprintf("%s:%s:%s", r.Ledger, r.Position, r.SeizeAsset.Symbol())
}

// ResultSink receives committed results. Implementations must not block
// the liquidation path; buffer internally and drop or backpressure there.
type ResultSink interface {
	Record(r Result)
}

// SinkFunc adapts a function to a ResultSink.
type SinkFunc func(Result)

func (f SinkFunc) Record(r Result) { f(r) }
