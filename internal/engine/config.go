package engine

import (
	"fmt"

	"github.com/google/uuid"

	fpmath "liqengine/internal/math"
)

// FeeMode selects where liquidation fees land at execution time.
type FeeMode int32

const (
	// FeeModeSweep sends each fee straight to the configured fee sink.
	FeeModeSweep FeeMode = iota
	// FeeModeAccrue parks fees on an engine-owned account until an
	// operator calls WithdrawFees.
	FeeModeAccrue
)

func (m FeeMode) String() string {
	if m == FeeModeAccrue {
		return "accrue"
	}
	return "sweep"
}

// ParseFeeMode maps a config string to a FeeMode.
func ParseFeeMode(s string) (FeeMode, error) {
	switch s {
	case "sweep", "":
		return FeeModeSweep, nil
	case "accrue":
		return FeeModeAccrue, nil
	default:
		return 0, fmt.Errorf("unknown fee mode %q", s)
	}
}

// RepayMode selects how repay funds are pulled from the caller.
type RepayMode int32

const (
	// RepayModeDirect pulls the repay amount straight from the caller's
	// account.
	RepayModeDirect RepayMode = iota
	// RepayModeHolding routes the repay amount through an intermediate
	// holding account before it is split into principal and fee. Keeps
	// the caller-facing debit a single transfer.
	RepayModeHolding
)

func (m RepayMode) String() string {
	if m == RepayModeHolding {
		return "holding"
	}
	return "direct"
}

// ParseRepayMode maps a config string to a RepayMode.
func ParseRepayMode(s string) (RepayMode, error) {
	switch s {
	case "direct", "":
		return RepayModeDirect, nil
	case "holding":
		return RepayModeHolding, nil
	default:
		return 0, fmt.Errorf("unknown repay mode %q", s)
	}
}

// Config is the engine's operator-set policy. All rate fields are in
// basis points of fpmath.RateScale.
type Config struct {
	// MinHealthFactor is the eligibility trigger: a position is
	// liquidatable while its health factor is strictly below this.
	// Must be at least RateScale (parity). At exactly RateScale the
	// engine defers to the ledger's native eligibility query.
	MinHealthFactor int64

	// MaxHealthFactor is the post-liquidation ceiling. Zero disables it.
	// When set it must be at least MinHealthFactor.
	MaxHealthFactor int64

	// PremiumScaleFactor scales each ledger's native discount rate.
	// RateScale leaves it unchanged.
	PremiumScaleFactor int64

	// FeeScaleFactor scales each ledger's native fee rate. RateScale
	// leaves it unchanged.
	FeeScaleFactor int64

	// InlineHealthFloor, when positive and the executor supports inline
	// checks, appends a health-floor assert to every batch. The
	// post-condition validator remains authoritative; the inline assert
	// only fails batches earlier.
	InlineHealthFloor int64

	FeeMode   FeeMode
	RepayMode RepayMode

	// FeeSink receives fees in sweep mode.
	FeeSink uuid.UUID

	// HoldingAccount is the intermediate account for RepayModeHolding.
	HoldingAccount uuid.UUID

	// AllowedLedgers restricts which ledgers the engine will touch.
	// Empty means all registered ledgers.
	AllowedLedgers []string
}

// Validate checks internal consistency and fills defaults in place.
func (c *Config) Validate() error {
	if c.MinHealthFactor == 0 {
		c.MinHealthFactor = fpmath.RateScale
	}
	if c.MinHealthFactor < fpmath.RateScale {
		return fmt.Errorf("min health factor %d below parity %d", c.MinHealthFactor, fpmath.RateScale)
	}
	if c.MaxHealthFactor != 0 && c.MaxHealthFactor < c.MinHealthFactor {
		return fmt.Errorf("max health factor %d below min %d", c.MaxHealthFactor, c.MinHealthFactor)
	}
	if c.PremiumScaleFactor == 0 {
		c.PremiumScaleFactor = fpmath.RateScale
	}
	if c.PremiumScaleFactor < 0 {
		return fmt.Errorf("premium scale factor must be non-negative, got %d", c.PremiumScaleFactor)
	}
	if c.FeeScaleFactor == 0 {
		c.FeeScaleFactor = fpmath.RateScale
	}
	if c.FeeScaleFactor < 0 {
		return fmt.Errorf("fee scale factor must be non-negative, got %d", c.FeeScaleFactor)
	}
	if c.InlineHealthFloor < 0 {
		return fmt.Errorf("inline health floor must be non-negative, got %d", c.InlineHealthFloor)
	}
	if c.FeeMode == FeeModeSweep && c.FeeSink == uuid.Nil {
		return fmt.Errorf("fee sink required in sweep mode")
	}
	if c.RepayMode == RepayModeHolding && c.HoldingAccount == uuid.Nil {
		return fmt.Errorf("holding account required in holding repay mode")
	}
	return nil
}

// needsPostValidation reports whether the band check must run after the
// batch: it is redundant only at the baseline trigger with no ceiling.
func (c *Config) needsPostValidation() bool {
	return c.MinHealthFactor > fpmath.RateScale || c.MaxHealthFactor != 0
}

func (c *Config) ledgerAllowed(id string) bool {
	if len(c.AllowedLedgers) == 0 {
		return true
	}
	for _, allowed := range c.AllowedLedgers {
		if allowed == id {
			return true
		}
	}
	return false
}
