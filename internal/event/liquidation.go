package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LiquidationExecuted is emitted once per committed liquidation. All
// amounts are integer base units of their asset.
type LiquidationExecuted struct {
	LiquidationID uuid.UUID `json:"liquidation_id"`
	LedgerID      string    `json:"ledger_id"`
	Position      uuid.UUID `json:"position"`
	Caller        uuid.UUID `json:"caller"`
	Recipient     uuid.UUID `json:"recipient"`
	Mode          string    `json:"mode"`

	SeizeAsset    string `json:"seize_asset"`
	RepaidAmount  int64  `json:"repaid_amount"`
	DebtReduced   int64  `json:"debt_reduced"`
	SeizedAmount  int64  `json:"seized_amount"`
	FeeAmount     int64  `json:"fee_amount"`
	DebtRemaining int64  `json:"debt_remaining"`

	ExecutedAt time.Time `json:"executed_at"`
}

func (l *LiquidationExecuted) IdempotencyKey() string {
	return l.LiquidationID.String()
}

func (l *LiquidationExecuted) Type() Type {
	return TypeLiquidationExecuted
}

func (l *LiquidationExecuted) Ledger() string {
	return l.LedgerID
}

// FeesWithdrawn is emitted when an operator drains the accrued fee
// balance for a ledger.
type FeesWithdrawn struct {
	WithdrawalID uuid.UUID `json:"withdrawal_id"`
	LedgerID     string    `json:"ledger_id"`
	To           uuid.UUID `json:"to"`
	Amount       int64     `json:"amount"`
	WithdrawnAt  time.Time `json:"withdrawn_at"`
}

func (f *FeesWithdrawn) IdempotencyKey() string {
	return fmt.Sprintf("fees:%s", f.WithdrawalID)
}

func (f *FeesWithdrawn) Type() Type {
	return TypeFeesWithdrawn
}

func (f *FeesWithdrawn) Ledger() string {
	return f.LedgerID
}
