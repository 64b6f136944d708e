package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Service provides read-only access to the liquidation history table.
// Reads go straight to Postgres; the engine's in-memory state is never
// consulted, so a restarted engine still serves its full history.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

const recordColumns = `liquidation_id, ledger_id, position, caller, recipient, mode, seize_asset,
	repaid_amount, debt_reduced, seized_amount, fee_amount, debt_remaining, executed_at`

// PositionHistory returns liquidations against one position, newest first.
func (s *Service) PositionHistory(ctx context.Context, position uuid.UUID, limit int) ([]LiquidationRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM audit.liquidation_history
		WHERE position = $1
		ORDER BY executed_at DESC
		LIMIT $2
	`, position, limit)
	if err != nil {
		return nil, fmt.Errorf("query position history: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// CallerHistory returns liquidations initiated by one caller, newest first.
func (s *Service) CallerHistory(ctx context.Context, caller uuid.UUID, limit int) ([]LiquidationRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM audit.liquidation_history
		WHERE caller = $1
		ORDER BY executed_at DESC
		LIMIT $2
	`, caller, limit)
	if err != nil {
		return nil, fmt.Errorf("query caller history: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Get returns one liquidation by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*LiquidationRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM audit.liquidation_history
		WHERE liquidation_id = $1
	`, id)

	var r LiquidationRecord
	if err := scanRecord(row, &r); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query liquidation %s: %w", id, err)
	}
	return &r, nil
}

// LedgerSummary aggregates totals for one ledger.
func (s *Service) LedgerSummary(ctx context.Context, ledgerID string) (*LedgerSummary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(repaid_amount), 0), COALESCE(SUM(fee_amount), 0)
		FROM audit.liquidation_history
		WHERE ledger_id = $1
	`, ledgerID)

	summary := &LedgerSummary{LedgerID: ledgerID}
	if err := row.Scan(&summary.Liquidations, &summary.RepaidTotal, &summary.FeeTotal); err != nil {
		return nil, fmt.Errorf("query ledger summary %s: %w", ledgerID, err)
	}
	return summary, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner, r *LiquidationRecord) error {
	return row.Scan(
		&r.LiquidationID, &r.LedgerID, &r.Position, &r.Caller, &r.Recipient,
		&r.Mode, &r.SeizeAsset, &r.RepaidAmount, &r.DebtReduced,
		&r.SeizedAmount, &r.FeeAmount, &r.DebtRemaining, &r.ExecutedAt,
	)
}

func scanRecords(rows *sql.Rows) ([]LiquidationRecord, error) {
	var records []LiquidationRecord
	for rows.Next() {
		var r LiquidationRecord
		if err := scanRecord(rows, &r); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
