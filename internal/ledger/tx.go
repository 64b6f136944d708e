package ledger

import (
	"fmt"

	"github.com/google/uuid"

	"liqengine/internal/asset"
)

// Tx is a staged view of a Book. All liquidation mutations run inside one
// Tx so the batch and the post-condition check form a single indivisible
// unit: Commit publishes everything, Rollback publishes nothing.
//
// Positions are staged as clones; free balances are staged as signed
// deltas against the live book. Commit re-checks that every delta leaves
// its account non-negative, so two transactions touching a shared account
// (fee sink, treasury) merge instead of overwriting each other.
type Tx struct {
	book   *Book
	staged map[uuid.UUID]*positionState
	deltas map[accountKey]int64
	done   bool
}

func (tx *Tx) position(position uuid.UUID) (*positionState, error) {
	if pos, ok := tx.staged[position]; ok {
		return pos, nil
	}

	tx.book.mu.RLock()
	orig, ok := tx.book.positions[position]
	tx.book.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("position %s not found", position)
	}

	pos := orig.clone()
	tx.staged[position] = pos
	return pos, nil
}

func (tx *Tx) balance(key accountKey) int64 {
	tx.book.mu.RLock()
	base := tx.book.accounts[key]
	tx.book.mu.RUnlock()
	return base + tx.deltas[key]
}

// Balance returns the staged free balance of an account.
func (tx *Tx) Balance(account uuid.UUID, assetID asset.ID) int64 {
	return tx.balance(accountKey{Account: account, Asset: assetID})
}

// Transfer moves a free balance between accounts. The source must cover
// the amount; accounts never go negative.
func (tx *Tx) Transfer(from, to uuid.UUID, assetID asset.ID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("transfer amount must be positive, got %d", amount)
	}

	fromKey := accountKey{Account: from, Asset: assetID}
	toKey := accountKey{Account: to, Asset: assetID}

	have := tx.balance(fromKey)
	if have < amount {
		return fmt.Errorf("insufficient balance on %s for %s: have=%d, need=%d",
			from, assetID.Symbol(), have, amount)
	}

	tx.deltas[fromKey] -= amount
	tx.deltas[toKey] += amount
	return nil
}

// ReduceDebt decreases a position's debt. Leaving a non-zero residual below
// the ledger's minimum is rejected; repaying past zero is rejected.
func (tx *Tx) ReduceDebt(position uuid.UUID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("debt reduction must be positive, got %d", amount)
	}

	pos, err := tx.position(position)
	if err != nil {
		return err
	}
	if amount > pos.debt {
		return fmt.Errorf("debt reduction %d exceeds outstanding debt %d", amount, pos.debt)
	}

	residual := pos.debt - amount
	if residual > 0 && residual < tx.book.params.MinDebt {
		return fmt.Errorf("residual debt %d below platform minimum %d", residual, tx.book.params.MinDebt)
	}

	pos.debt = residual
	return nil
}

// WithdrawCollateral moves collateral from a position to a free account.
func (tx *Tx) WithdrawCollateral(position uuid.UUID, assetID asset.ID, amount int64, to uuid.UUID) error {
	if amount <= 0 {
		return fmt.Errorf("withdrawal amount must be positive, got %d", amount)
	}

	pos, err := tx.position(position)
	if err != nil {
		return err
	}
	if pos.collateral[assetID] < amount {
		return fmt.Errorf("insufficient collateral %s on position %s: have=%d, need=%d",
			assetID.Symbol(), position, pos.collateral[assetID], amount)
	}

	pos.collateral[assetID] -= amount
	tx.deltas[accountKey{Account: to, Asset: assetID}] += amount
	return nil
}

// Valuation computes (risk-weighted collateral value, debt value) against
// the staged state. Used for inline health asserts and the post-condition
// validation before Commit.
func (tx *Tx) Valuation(position uuid.UUID) (collateralValue, debtValue int64, err error) {
	pos, err := tx.position(position)
	if err != nil {
		return 0, 0, err
	}

	tx.book.mu.RLock()
	defer tx.book.mu.RUnlock()
	return tx.book.valueLocked(pos)
}

// Commit publishes all staged mutations to the book. Balance deltas are
// re-validated against the live balances under the write lock: if a
// concurrent commit already drained an account this transaction spends
// from, Commit fails and nothing is applied.
func (tx *Tx) Commit() error {
	if tx.done {
		return fmt.Errorf("transaction already finished")
	}
	tx.done = true

	tx.book.mu.Lock()
	defer tx.book.mu.Unlock()

	for key, d := range tx.deltas {
		if tx.book.accounts[key]+d < 0 {
			return fmt.Errorf("commit would overdraw %s balance of %s: have=%d, delta=%d",
				key.Asset.Symbol(), key.Account, tx.book.accounts[key], d)
		}
	}

	for id, pos := range tx.staged {
		tx.book.positions[id] = pos
	}
	for key, d := range tx.deltas {
		tx.book.accounts[key] += d
	}
	return nil
}

// Rollback discards all staged mutations. Safe to call after Commit
// (it becomes a no-op), which enables the defer-rollback pattern.
func (tx *Tx) Rollback() {
	if tx.done {
		return
	}
	tx.done = true
	tx.staged = nil
	tx.deltas = nil
}
