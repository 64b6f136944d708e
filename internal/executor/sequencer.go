package executor

import (
	"context"
	"fmt"

	"liqengine/internal/ledger"
	fpmath "liqengine/internal/math"
)

// Executor applies an ordered batch of operations against a position
// atomically: the caller supplies the staged transaction, and either every
// op applies or the whole transaction is rolled back by the caller.
type Executor interface {
	Execute(ctx context.Context, tx *ledger.Tx, batch *Batch) error
	// SupportsInlineCheck reports whether OpAssertHealthFloor is honored.
	SupportsInlineCheck() bool
}

// Sequencer is the standard Executor over a ledger transaction.
type Sequencer struct{}

func NewSequencer() *Sequencer {
	return &Sequencer{}
}

func (s *Sequencer) SupportsInlineCheck() bool { return true }

// Execute applies ops in submission order. The first failure aborts; the
// caller's transaction rollback discards everything applied so far.
func (s *Sequencer) Execute(ctx context.Context, tx *ledger.Tx, batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for i, op := range batch.Ops {
		var err error
		switch op.Kind {
		case OpReduceDebt:
			err = tx.ReduceDebt(batch.Position, op.Amount)
		case OpTransferBalance:
			err = tx.Transfer(op.From, op.To, op.Asset, op.Amount)
		case OpWithdrawCollateral:
			err = tx.WithdrawCollateral(batch.Position, op.Asset, op.Amount, op.To)
		case OpAssertHealthFloor:
			err = s.assertHealthFloor(tx, batch, op.FloorBps)
		default:
			err = fmt.Errorf("unknown op kind %d", op.Kind)
		}
		if err != nil {
			return fmt.Errorf("batch %s op %d (%s): %w", batch.BatchID, i, op.Kind, err)
		}
	}
	return nil
}

func (s *Sequencer) assertHealthFloor(tx *ledger.Tx, batch *Batch, floorBps int64) error {
	collateralValue, debtValue, err := tx.Valuation(batch.Position)
	if err != nil {
		return err
	}
	if debtValue == 0 {
		return nil
	}
	// Violated when collateral * SCALE < debt * floor
	if fpmath.ProductLess(collateralValue, fpmath.RateScale, debtValue, floorBps) {
		return fmt.Errorf("health factor below floor %d after batch", floorBps)
	}
	return nil
}
