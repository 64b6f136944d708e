package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"liqengine/internal/asset"
	"liqengine/internal/executor"
	"liqengine/internal/ledger"
	fpmath "liqengine/internal/math"
	"liqengine/internal/observability"
	"liqengine/internal/oracle"
)

// Engine drives partial liquidations end to end: price refresh, snapshot,
// eligibility, amount calculation, atomic batch execution, band validation.
// The engine owns no balance sheet of its own beyond the fee accrual
// account; every mutation goes through a ledger transaction.
type Engine struct {
	cfg       Config
	registry  *ledger.Registry
	converter *oracle.Converter
	exec      executor.Executor

	// accrual holds fees in FeeModeAccrue until WithdrawFees.
	accrual uuid.UUID

	log     zerolog.Logger
	metrics *observability.Metrics
	sink    ResultSink

	mu       sync.Mutex
	inFlight map[uuid.UUID]struct{}
}

// Deps carries the engine's collaborators. Metrics and Sink are optional.
type Deps struct {
	Registry  *ledger.Registry
	Converter *oracle.Converter
	Executor  executor.Executor
	Logger    zerolog.Logger
	Metrics   *observability.Metrics
	Sink      ResultSink
}

func New(cfg Config, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	if deps.Registry == nil || deps.Converter == nil || deps.Executor == nil {
		return nil, fmt.Errorf("engine requires registry, converter, and executor")
	}

	return &Engine{
		cfg:       cfg,
		registry:  deps.Registry,
		converter: deps.Converter,
		exec:      deps.Executor,
		accrual:   uuid.New(),
		log:       deps.Logger,
		metrics:   deps.Metrics,
		sink:      deps.Sink,
		inFlight:  make(map[uuid.UUID]struct{}),
	}, nil
}

// Config returns a copy of the engine's active configuration.
func (e *Engine) Config() Config { return e.cfg }

// ExactDebtRequest fixes the repay amount; the engine derives the seize
// amount. MinSeizeAmount of zero means no slippage bound.
type ExactDebtRequest struct {
	Caller         uuid.UUID
	Recipient      uuid.UUID // collateral destination; Nil means the caller
	Position       uuid.UUID
	SeizeAsset     asset.ID
	RepayAmount    int64
	MinSeizeAmount int64
	PriceUpdates   []oracle.PriceUpdate
}

// ExactCollateralRequest fixes the seize amount; the engine derives the
// repay amount. MaxRepayAmount of zero means no slippage bound.
type ExactCollateralRequest struct {
	Caller         uuid.UUID
	Recipient      uuid.UUID
	Position       uuid.UUID
	SeizeAsset     asset.ID
	SeizeAmount    int64
	MaxRepayAmount int64
	PriceUpdates   []oracle.PriceUpdate
}

// LiquidateExactDebt repays a fixed debt amount and seizes whatever
// collateral that purchases at the discounted price.
func (e *Engine) LiquidateExactDebt(ctx context.Context, req ExactDebtRequest) (*Result, error) {
	return e.liquidate(ctx, call{
		mode:       ModeExactDebt,
		caller:     req.Caller,
		recipient:  req.Recipient,
		position:   req.Position,
		seizeAsset: req.SeizeAsset,
		amount:     req.RepayAmount,
		bound:      req.MinSeizeAmount,
		updates:    req.PriceUpdates,
	})
}

// LiquidateExactCollateral seizes a fixed collateral amount and repays
// whatever debt that amount is worth at the discounted price.
func (e *Engine) LiquidateExactCollateral(ctx context.Context, req ExactCollateralRequest) (*Result, error) {
	return e.liquidate(ctx, call{
		mode:       ModeExactCollateral,
		caller:     req.Caller,
		recipient:  req.Recipient,
		position:   req.Position,
		seizeAsset: req.SeizeAsset,
		amount:     req.SeizeAmount,
		bound:      req.MaxRepayAmount,
		updates:    req.PriceUpdates,
	})
}

// call is the mode-normalized form of both request types. amount and
// bound are repay/minSeize in exact-debt mode, seize/maxRepay in
// exact-collateral mode.
type call struct {
	mode       Mode
	caller     uuid.UUID
	recipient  uuid.UUID
	position   uuid.UUID
	seizeAsset asset.ID
	amount     int64
	bound      int64
	updates    []oracle.PriceUpdate
}

func (e *Engine) liquidate(ctx context.Context, c call) (*Result, error) {
	start := time.Now()
	res, err := e.runLiquidation(ctx, c)
	e.observe(c, res, err, time.Since(start))
	return res, err
}

func (e *Engine) runLiquidation(ctx context.Context, c call) (*Result, error) {
	if c.caller == uuid.Nil {
		return nil, fmt.Errorf("%w: caller is nil", ErrInvalidRequest)
	}
	if c.position == uuid.Nil {
		return nil, fmt.Errorf("%w: position is nil", ErrInvalidRequest)
	}
	if c.amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive, got %d", ErrInvalidRequest, c.amount)
	}
	if c.bound < 0 {
		return nil, fmt.Errorf("%w: bound must be non-negative, got %d", ErrInvalidRequest, c.bound)
	}
	if c.recipient == uuid.Nil {
		c.recipient = c.caller
	}

	// Only one liquidation may touch a position at a time; overlapping
	// calls are rejected rather than queued.
	if !e.acquire(c.position) {
		return nil, fmt.Errorf("%w: %s", ErrReentrantCall, c.position)
	}
	defer e.release(c.position)

	// Caller-supplied prices apply before anything reads a valuation and
	// are scoped to this call: the touched feeds revert when it returns,
	// whether it commits or aborts. Stream quotes own the feeds between
	// calls.
	if len(c.updates) > 0 {
		restore, err := e.converter.ApplyScoped(c.updates)
		if err != nil {
			return nil, fmt.Errorf("%w: apply price updates: %v", ErrInvalidRequest, err)
		}
		defer restore()
		if e.metrics != nil {
			e.metrics.PriceUpdatesApplied.Add(float64(len(c.updates)))
		}
	}

	book, err := e.registry.OwnerOf(c.position)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPosition, c.position)
	}
	if !e.cfg.ledgerAllowed(book.ID()) {
		return nil, fmt.Errorf("%w: %s", ErrLedgerNotAllowed, book.ID())
	}

	params := book.Params()
	if c.seizeAsset == params.DebtAsset {
		return nil, fmt.Errorf("%w: %s on ledger %s", ErrSelfLiquidation, c.seizeAsset.Symbol(), book.ID())
	}

	// Ledger parameters are read fresh each call and scaled by engine
	// policy. The scaled rates must stay meaningful: a discount of zero
	// would make the seize amount unbounded.
	effFee := fpmath.ScaleRate(params.FeeRate, e.cfg.FeeScaleFactor)
	effDiscount := fpmath.ScaleRate(params.DiscountRate, e.cfg.PremiumScaleFactor)
	if effDiscount <= 0 || effDiscount > fpmath.RateScale {
		return nil, fmt.Errorf("effective discount %d out of range for ledger %s", effDiscount, book.ID())
	}
	if effFee < 0 || effFee >= fpmath.RateScale {
		return nil, fmt.Errorf("effective fee %d out of range for ledger %s", effFee, book.ID())
	}

	if err := e.checkEligible(book, c.position); err != nil {
		return nil, err
	}

	var amounts Amounts
	switch c.mode {
	case ModeExactDebt:
		amounts, err = calcExactDebt(e.converter, params.DebtAsset, c.seizeAsset,
			c.amount, c.bound, effFee, effDiscount)
	case ModeExactCollateral:
		amounts, err = calcExactCollateral(e.converter, params.DebtAsset, c.seizeAsset,
			c.amount, c.bound, effFee, effDiscount)
	default:
		err = fmt.Errorf("unknown liquidation mode %d", c.mode)
	}
	if err != nil {
		return nil, err
	}

	// The batch and the band validation share one transaction: either
	// everything below commits or none of it is visible.
	tx := book.Begin()
	defer tx.Rollback()

	batch := e.buildBatch(c, book, params.DebtAsset, amounts)
	if err := e.exec.Execute(ctx, tx, batch); err != nil {
		return nil, fmt.Errorf("execute liquidation batch: %w", err)
	}

	debtRemaining, err := e.validateBand(tx, c.position)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit liquidation: %w", err)
	}

	return &Result{
		ID:            uuid.New(),
		Ledger:        book.ID(),
		Position:      c.position,
		Caller:        c.caller,
		Recipient:     c.recipient,
		Mode:          c.mode,
		SeizeAsset:    c.seizeAsset,
		RepaidAmount:  amounts.Repay,
		DebtReduced:   amounts.Net,
		SeizedAmount:  amounts.Seize,
		FeeAmount:     amounts.Fee,
		DebtRemaining: debtRemaining,
		ExecutedAt:    time.Now().UTC(),
	}, nil
}

// checkEligible rejects positions at or above the trigger threshold. At
// the baseline trigger the ledger's own eligibility query is used; any
// stricter trigger needs the engine's valuation.
func (e *Engine) checkEligible(book *ledger.Book, position uuid.UUID) error {
	if e.cfg.MinHealthFactor == fpmath.RateScale {
		eligible, err := book.Eligible(position)
		if err != nil {
			return fmt.Errorf("eligibility query: %w", err)
		}
		if !eligible {
			return fmt.Errorf("%w: %s", ErrNotEligible, position)
		}
		return nil
	}

	collateralValue, debtValue, err := book.Valuation(position)
	if err != nil {
		return fmt.Errorf("value position: %w", err)
	}
	// Eligible while collateral * SCALE < debt * minHF.
	if debtValue == 0 || !fpmath.ProductLess(collateralValue, fpmath.RateScale, debtValue, e.cfg.MinHealthFactor) {
		return fmt.Errorf("%w: %s", ErrNotEligible, position)
	}
	return nil
}

// buildBatch lays out the atomic operation sequence: pull repay funds,
// reduce debt, collect the fee, release collateral, optionally assert an
// inline health floor. Order matters; the sequencer applies it verbatim.
func (e *Engine) buildBatch(c call, book *ledger.Book, debtAsset asset.ID, a Amounts) *executor.Batch {
	batch := executor.NewBatch(c.position)

	payer := c.caller
	if e.cfg.RepayMode == RepayModeHolding {
		batch.Add(executor.Op{
			Kind:   executor.OpTransferBalance,
			Asset:  debtAsset,
			Amount: a.Repay,
			From:   c.caller,
			To:     e.cfg.HoldingAccount,
		})
		payer = e.cfg.HoldingAccount
	}

	batch.Add(executor.Op{
		Kind:   executor.OpTransferBalance,
		Asset:  debtAsset,
		Amount: a.Net,
		From:   payer,
		To:     book.Treasury(),
	})
	batch.Add(executor.Op{
		Kind:   executor.OpReduceDebt,
		Asset:  debtAsset,
		Amount: a.Net,
	})
	if a.Fee > 0 {
		batch.Add(executor.Op{
			Kind:   executor.OpTransferBalance,
			Asset:  debtAsset,
			Amount: a.Fee,
			From:   payer,
			To:     e.feeDestination(),
		})
	}
	batch.Add(executor.Op{
		Kind:   executor.OpWithdrawCollateral,
		Asset:  c.seizeAsset,
		Amount: a.Seize,
		To:     c.recipient,
	})

	if e.cfg.InlineHealthFloor > 0 && e.exec.SupportsInlineCheck() {
		batch.Add(executor.Op{
			Kind:     executor.OpAssertHealthFloor,
			FloorBps: e.cfg.InlineHealthFloor,
		})
	}
	return batch
}

func (e *Engine) feeDestination() uuid.UUID {
	if e.cfg.FeeMode == FeeModeAccrue {
		return e.accrual
	}
	return e.cfg.FeeSink
}

// validateBand checks the post-liquidation health factor against the
// configured [min, max] band on the staged state, before commit. Returns
// the staged remaining debt for the result record.
func (e *Engine) validateBand(tx *ledger.Tx, position uuid.UUID) (int64, error) {
	collateralValue, debtValue, err := tx.Valuation(position)
	if err != nil {
		return 0, fmt.Errorf("value staged position: %w", err)
	}
	if !e.cfg.needsPostValidation() {
		return debtValue, nil
	}

	// Still eligible at the trigger threshold: the repay was too small.
	if debtValue > 0 && e.cfg.MinHealthFactor > fpmath.RateScale &&
		fpmath.ProductLess(collateralValue, fpmath.RateScale, debtValue, e.cfg.MinHealthFactor) {
		return 0, fmt.Errorf("%w: %s", ErrInsufficientLiquidation, position)
	}

	// Above the ceiling when no longer eligible at maxHF + 1, i.e. the
	// health factor strictly exceeds maxHF. A fully repaid position has
	// an unbounded health factor and always trips a configured ceiling.
	if e.cfg.MaxHealthFactor > 0 &&
		!fpmath.ProductLess(collateralValue, fpmath.RateScale, debtValue, e.cfg.MaxHealthFactor+1) {
		return 0, fmt.Errorf("%w: %s", ErrExcessiveLiquidation, position)
	}

	return debtValue, nil
}

func (e *Engine) acquire(position uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inFlight[position]; busy {
		return false
	}
	e.inFlight[position] = struct{}{}
	return true
}

func (e *Engine) release(position uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, position)
}

// observe records metrics, logs, and forwards committed results to the sink.
func (e *Engine) observe(c call, res *Result, err error, elapsed time.Duration) {
	mode := c.mode.String()
	if e.metrics != nil {
		e.metrics.LiquidationDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
	}

	if err != nil {
		kind := Classify(err)
		if e.metrics != nil {
			e.metrics.LiquidationsRejected.WithLabelValues(mode, kind.String()).Inc()
		}
		e.log.Warn().
			Str("mode", mode).
			Str("position", c.position.String()).
			Str("kind", kind.String()).
			Err(err).
			Msg("liquidation rejected")
		return
	}

	if e.metrics != nil {
		e.metrics.LiquidationsExecuted.WithLabelValues(mode, res.Ledger).Inc()
		e.metrics.RepaidTotal.WithLabelValues(res.Ledger).Add(float64(res.RepaidAmount))
		e.metrics.SeizedTotal.WithLabelValues(res.Ledger, res.SeizeAsset.Symbol()).Add(float64(res.SeizedAmount))
		e.metrics.FeesTotal.WithLabelValues(res.Ledger).Add(float64(res.FeeAmount))
	}
	e.log.Info().
		Str("mode", mode).
		Str("ledger", res.Ledger).
		Str("position", res.Position.String()).
		Str("seize_asset", res.SeizeAsset.Symbol()).
		Int64("repaid", res.RepaidAmount).
		Int64("seized", res.SeizedAmount).
		Int64("fee", res.FeeAmount).
		Int64("debt_remaining", res.DebtRemaining).
		Dur("elapsed", elapsed).
		Msg("liquidation executed")

	if e.sink != nil {
		e.sink.Record(*res)
	}
}

// AccruedFees reports the fee balance parked for one ledger in accrue mode.
func (e *Engine) AccruedFees(ledgerID string) (int64, error) {
	book, ok := e.registry.Get(ledgerID)
	if !ok {
		return 0, fmt.Errorf("unknown ledger %s", ledgerID)
	}
	return book.Balance(e.accrual, book.Params().DebtAsset), nil
}

// WithdrawFees moves the full accrued fee balance for a ledger to the
// target account. Only meaningful in FeeModeAccrue.
func (e *Engine) WithdrawFees(ctx context.Context, ledgerID string, to uuid.UUID) (int64, error) {
	if e.cfg.FeeMode != FeeModeAccrue {
		return 0, fmt.Errorf("fee withdrawal requires accrue mode, engine is in %s", e.cfg.FeeMode)
	}
	if to == uuid.Nil {
		return 0, fmt.Errorf("%w: withdrawal target is nil", ErrInvalidRequest)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	book, ok := e.registry.Get(ledgerID)
	if !ok {
		return 0, fmt.Errorf("unknown ledger %s", ledgerID)
	}

	debtAsset := book.Params().DebtAsset
	amount := book.Balance(e.accrual, debtAsset)
	if amount == 0 {
		return 0, nil
	}

	tx := book.Begin()
	defer tx.Rollback()
	if err := tx.Transfer(e.accrual, to, debtAsset, amount); err != nil {
		return 0, fmt.Errorf("withdraw fees: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit fee withdrawal: %w", err)
	}

	e.log.Info().
		Str("ledger", ledgerID).
		Str("to", to.String()).
		Int64("amount", amount).
		Msg("accrued fees withdrawn")
	return amount, nil
}
