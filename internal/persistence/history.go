package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"liqengine/internal/engine"
)

// HistoryRow is one record in audit.liquidation_history.
type HistoryRow struct {
	LiquidationID uuid.UUID
	LedgerID      string
	Position      uuid.UUID
	Caller        uuid.UUID
	Recipient     uuid.UUID
	Mode          string
	SeizeAsset    string
	RepaidAmount  int64
	DebtReduced   int64
	SeizedAmount  int64
	FeeAmount     int64
	DebtRemaining int64
	ExecutedAt    time.Time
}

// RowFromResult converts a committed engine result to its audit row.
func RowFromResult(r engine.Result) HistoryRow {
	return HistoryRow{
		LiquidationID: r.ID,
		LedgerID:      r.Ledger,
		Position:      r.Position,
		Caller:        r.Caller,
		Recipient:     r.Recipient,
		Mode:          r.Mode.String(),
		SeizeAsset:    r.SeizeAsset.Symbol(),
		RepaidAmount:  r.RepaidAmount,
		DebtReduced:   r.DebtReduced,
		SeizedAmount:  r.SeizedAmount,
		FeeAmount:     r.FeeAmount,
		DebtRemaining: r.DebtRemaining,
		ExecutedAt:    r.ExecutedAt,
	}
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// HistoryWriter batch-inserts liquidation history rows using multi-row
// INSERT. Writes are idempotent on liquidation_id, so a retried batch
// never double-records.
type HistoryWriter struct {
	db *sql.DB
}

func NewHistoryWriter(db *sql.DB) *HistoryWriter {
	return &HistoryWriter{db: db}
}

// DB exposes the underlying handle for transaction control.
func (w *HistoryWriter) DB() *sql.DB { return w.db }

const historyColumns = 13

// WriteBatch inserts rows through the given execer.
func (w *HistoryWriter) WriteBatch(ctx context.Context, ex execer, rows []HistoryRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO audit.liquidation_history
		(liquidation_id, ledger_id, position, caller, recipient, mode, seize_asset,
		 repaid_amount, debt_reduced, seized_amount, fee_amount, debt_remaining, executed_at)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*historyColumns)

	for i, r := range rows {
		base := i * historyColumns
		placeholders := make([]string, historyColumns)
		for j := range placeholders {
			placeholders[j] = fmt.Sprintf("$%d", base+j+1)
		}
		values = append(values, "("+strings.Join(placeholders, ", ")+")")
		args = append(args,
			r.LiquidationID, r.LedgerID, r.Position, r.Caller, r.Recipient,
			r.Mode, r.SeizeAsset, r.RepaidAmount, r.DebtReduced,
			r.SeizedAmount, r.FeeAmount, r.DebtRemaining, r.ExecutedAt,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (liquidation_id) DO NOTHING"

	if _, err := ex.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %d history rows: %w", len(rows), err)
	}
	return nil
}
