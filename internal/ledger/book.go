package ledger

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"liqengine/internal/asset"
	fpmath "liqengine/internal/math"
	"liqengine/internal/oracle"
)

// Params are the per-ledger parameters read at the moment of each
// liquidation. Rates are fractions of fpmath.RateScale (basis points).
type Params struct {
	DebtAsset    asset.ID
	FeeRate      int64 // protocol fee on repaid debt
	DiscountRate int64 // collateral sold at rate/RateScale of fair value
	MinDebt      int64 // platform minimum for a non-zero residual debt
}

// accountKey identifies a free balance: wallets, fee sink, holding area.
type accountKey struct {
	Account uuid.UUID
	Asset   asset.ID
}

// positionState is the mutable state of one margin position.
type positionState struct {
	owner      uuid.UUID
	debt       int64
	collateral map[asset.ID]int64
}

func (p *positionState) clone() *positionState {
	c := &positionState{
		owner:      p.owner,
		debt:       p.debt,
		collateral: make(map[asset.ID]int64, len(p.collateral)),
	}
	for k, v := range p.collateral {
		c.collateral[k] = v
	}
	return c
}

// Book is a margin ledger: positions with debt and collateral, free account
// balances, risk weights, and the valuation routine. The engine never stores
// position state itself; it reads and mutates through the Book.
type Book struct {
	id        string
	params    Params
	converter *oracle.Converter
	treasury  uuid.UUID

	mu          sync.RWMutex
	positions   map[uuid.UUID]*positionState
	accounts    map[accountKey]int64
	riskWeights map[asset.ID]int64 // bps, collateral factor per asset
}

func NewBook(id string, params Params, converter *oracle.Converter) *Book {
	return &Book{
		id:          id,
		params:      params,
		converter:   converter,
		treasury:    uuid.New(),
		positions:   make(map[uuid.UUID]*positionState),
		accounts:    make(map[accountKey]int64),
		riskWeights: make(map[asset.ID]int64),
	}
}

// ID returns the ledger identifier.
func (b *Book) ID() string { return b.id }

// Params returns the ledger's native liquidation parameters.
func (b *Book) Params() Params { return b.params }

// Treasury is the ledger's own account. Repaid debt principal lands here.
func (b *Book) Treasury() uuid.UUID { return b.treasury }

// SetRiskWeight sets the collateral factor (bps) for an asset.
func (b *Book) SetRiskWeight(assetID asset.ID, weightBps int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.riskWeights[assetID] = weightBps
}

// OpenPosition creates a position with an initial debt amount.
func (b *Book) OpenPosition(position, owner uuid.UUID, debt int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.positions[position]; exists {
		return fmt.Errorf("position %s already exists", position)
	}
	b.positions[position] = &positionState{
		owner:      owner,
		debt:       debt,
		collateral: make(map[asset.ID]int64),
	}
	return nil
}

// DepositCollateral adds collateral to a position.
func (b *Book) DepositCollateral(position uuid.UUID, assetID asset.ID, amount int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.positions[position]
	if !ok {
		return fmt.Errorf("position %s not found", position)
	}
	pos.collateral[assetID] += amount
	return nil
}

// Credit adds to a free account balance (wallet funding, tests, deposits).
func (b *Book) Credit(account uuid.UUID, assetID asset.ID, amount int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accounts[accountKey{Account: account, Asset: assetID}] += amount
}

// Balance returns a free account balance.
func (b *Book) Balance(account uuid.UUID, assetID asset.ID) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.accounts[accountKey{Account: account, Asset: assetID}]
}

// HasPosition reports whether this ledger owns the position.
func (b *Book) HasPosition(position uuid.UUID) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.positions[position]
	return ok
}

// PositionOwner returns the owning account of a position.
func (b *Book) PositionOwner(position uuid.UUID) (uuid.UUID, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	pos, ok := b.positions[position]
	if !ok {
		return uuid.Nil, fmt.Errorf("position %s not found", position)
	}
	return pos.owner, nil
}

// DebtOf returns the current debt of a position.
func (b *Book) DebtOf(position uuid.UUID) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	pos, ok := b.positions[position]
	if !ok {
		return 0, fmt.Errorf("position %s not found", position)
	}
	return pos.debt, nil
}

// CollateralOf returns a position's balance of one collateral asset.
func (b *Book) CollateralOf(position uuid.UUID, assetID asset.ID) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	pos, ok := b.positions[position]
	if !ok {
		return 0, fmt.Errorf("position %s not found", position)
	}
	return pos.collateral[assetID], nil
}

// Valuation computes (risk-weighted collateral value, debt value), both in
// debt-asset units at current oracle prices. Truncation throughout.
func (b *Book) Valuation(position uuid.UUID) (collateralValue, debtValue int64, err error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	pos, ok := b.positions[position]
	if !ok {
		return 0, 0, fmt.Errorf("position %s not found", position)
	}
	return b.valueLocked(pos)
}

func (b *Book) valueLocked(pos *positionState) (collateralValue, debtValue int64, err error) {
	for assetID, bal := range pos.collateral {
		if bal == 0 {
			continue
		}
		converted, err := b.converter.Convert(bal, assetID, b.params.DebtAsset)
		if err != nil {
			return 0, 0, fmt.Errorf("value collateral %s: %w", assetID.Symbol(), err)
		}
		weight, ok := b.riskWeights[assetID]
		if !ok {
			weight = fpmath.RateScale
		}
		collateralValue += fpmath.MulDivDown(converted, weight, fpmath.RateScale)
	}
	return collateralValue, pos.debt, nil
}

// Eligible is the ledger's native eligibility query. It only supports the
// baseline threshold: health factor strictly below 1.0.
func (b *Book) Eligible(position uuid.UUID) (bool, error) {
	collateralValue, debtValue, err := b.Valuation(position)
	if err != nil {
		return false, err
	}
	return collateralValue < debtValue, nil
}

// Begin starts a staged transaction over this book. Mutations are invisible
// until Commit; Rollback discards them.
func (b *Book) Begin() *Tx {
	return &Tx{
		book:   b,
		staged: make(map[uuid.UUID]*positionState),
		deltas: make(map[accountKey]int64),
	}
}
