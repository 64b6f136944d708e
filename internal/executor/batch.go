package executor

import (
	"fmt"

	"github.com/google/uuid"

	"liqengine/internal/asset"
)

// OpKind discriminates batch operations
type OpKind int32

const (
	// OpReduceDebt decreases the position's debt by Amount.
	OpReduceDebt OpKind = iota
	// OpTransferBalance moves Amount of Asset between free accounts.
	OpTransferBalance
	// OpWithdrawCollateral moves Amount of Asset from the position's
	// collateral to the To account.
	OpWithdrawCollateral
	// OpAssertHealthFloor verifies health factor >= FloorBps against the
	// staged state. Carries no amount.
	OpAssertHealthFloor
)

func (k OpKind) String() string {
	switch k {
	case OpReduceDebt:
		return "ReduceDebt"
	case OpTransferBalance:
		return "TransferBalance"
	case OpWithdrawCollateral:
		return "WithdrawCollateral"
	case OpAssertHealthFloor:
		return "AssertHealthFloor"
	default:
		return "Unknown"
	}
}

// Op is a single step in an atomic liquidation batch.
type Op struct {
	Kind     OpKind
	Asset    asset.ID
	Amount   int64
	From     uuid.UUID // source account for transfers
	To       uuid.UUID // destination account for transfers/withdrawals
	FloorBps int64     // health floor for OpAssertHealthFloor
}

// Batch is an ordered set of operations against one position that commits
// or aborts as a unit.
type Batch struct {
	BatchID  uuid.UUID
	Position uuid.UUID
	Ops      []Op
}

func NewBatch(position uuid.UUID) *Batch {
	return &Batch{BatchID: uuid.New(), Position: position}
}

// Add appends an operation, preserving submission order.
func (b *Batch) Add(op Op) *Batch {
	b.Ops = append(b.Ops, op)
	return b
}

// Validate ensures the batch is well-formed before execution.
func (b *Batch) Validate() error {
	if len(b.Ops) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}
	if b.Position == uuid.Nil {
		return fmt.Errorf("batch %s has no position", b.BatchID)
	}

	for i, op := range b.Ops {
		switch op.Kind {
		case OpAssertHealthFloor:
			if op.FloorBps <= 0 {
				return fmt.Errorf("batch %s op %d: assert floor must be positive", b.BatchID, i)
			}
		default:
			if op.Amount <= 0 {
				return fmt.Errorf("batch %s op %d (%s): non-positive amount %d",
					b.BatchID, i, op.Kind, op.Amount)
			}
		}
	}
	return nil
}
