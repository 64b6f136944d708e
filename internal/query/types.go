package query

import (
	"time"

	"github.com/google/uuid"
)

// LiquidationRecord is one liquidation for API responses, read back from
// audit.liquidation_history.
type LiquidationRecord struct {
	LiquidationID uuid.UUID `json:"liquidation_id"`
	LedgerID      string    `json:"ledger_id"`
	Position      uuid.UUID `json:"position"`
	Caller        uuid.UUID `json:"caller"`
	Recipient     uuid.UUID `json:"recipient"`
	Mode          string    `json:"mode"`
	SeizeAsset    string    `json:"seize_asset"`
	RepaidAmount  int64     `json:"repaid_amount"`
	DebtReduced   int64     `json:"debt_reduced"`
	SeizedAmount  int64     `json:"seized_amount"`
	FeeAmount     int64     `json:"fee_amount"`
	DebtRemaining int64     `json:"debt_remaining"`
	ExecutedAt    time.Time `json:"executed_at"`
}

// LedgerSummary aggregates liquidation activity for one ledger.
type LedgerSummary struct {
	LedgerID     string `json:"ledger_id"`
	Liquidations int64  `json:"liquidations"`
	RepaidTotal  int64  `json:"repaid_total"`
	FeeTotal     int64  `json:"fee_total"`
}
