package engine

import (
	"fmt"

	"liqengine/internal/asset"
	fpmath "liqengine/internal/math"
	"liqengine/internal/oracle"
)

// Amounts are the quantities of one liquidation, fully determined before
// any ledger mutation. All rounding truncates toward zero, which never
// favors the liquidator at a boundary.
type Amounts struct {
	Repay int64 // gross debt-asset amount the caller pays, fee included
	Net   int64 // Repay minus Fee; the actual debt reduction
	Seize int64 // collateral units transferred to the recipient
	Fee   int64 // protocol fee, in debt-asset units
}

// calcExactDebt fixes the repay amount and derives the seize amount.
//
//	fee   = repay * effFee / SCALE
//	net   = repay - fee
//	seize = convert(net, debt->collateral) * SCALE / effDiscount
//
// The discount divides: the liquidator buys collateral below fair value,
// so a given net repay purchases more than its fair conversion.
func calcExactDebt(conv *oracle.Converter, debtAsset, seizeAsset asset.ID,
	repay, minSeize, effFee, effDiscount int64) (Amounts, error) {

	fee := fpmath.MulDivDown(repay, effFee, fpmath.RateScale)
	net := repay - fee
	if net <= 0 {
		return Amounts{}, fmt.Errorf("%w: repay %d fully consumed by fee %d", ErrInvalidRequest, repay, fee)
	}

	fair, err := conv.Convert(net, debtAsset, seizeAsset)
	if err != nil {
		return Amounts{}, fmt.Errorf("convert repay to collateral: %w", err)
	}

	seize := fpmath.MulDivDown(fair, fpmath.RateScale, effDiscount)
	if seize <= 0 {
		return Amounts{}, fmt.Errorf("%w: repay %d rounds to zero collateral", ErrInvalidRequest, repay)
	}
	if seize < minSeize {
		return Amounts{}, fmt.Errorf("%w: computed %d, minimum %d", ErrSeizeBelowMinimum, seize, minSeize)
	}

	return Amounts{Repay: repay, Net: net, Seize: seize, Fee: fee}, nil
}

// calcExactCollateral fixes the seize amount and derives the repay amount.
// Algebraic inverse of calcExactDebt up to truncation:
//
//	gross = convert(seize, collateral->debt) * effDiscount / SCALE
//	fee   = gross * effFee / (SCALE - effFee)
//	repay = gross + fee
//
// The fee divides by (SCALE - effFee) so that taking effFee/SCALE of the
// resulting repay reproduces the same fee. A maxRepay of zero means no bound.
func calcExactCollateral(conv *oracle.Converter, debtAsset, seizeAsset asset.ID,
	seize, maxRepay, effFee, effDiscount int64) (Amounts, error) {

	fair, err := conv.Convert(seize, seizeAsset, debtAsset)
	if err != nil {
		return Amounts{}, fmt.Errorf("convert collateral to repay: %w", err)
	}

	gross := fpmath.MulDivDown(fair, effDiscount, fpmath.RateScale)
	if gross <= 0 {
		return Amounts{}, fmt.Errorf("%w: seize %d rounds to zero repay", ErrInvalidRequest, seize)
	}

	fee := fpmath.MulDivDown(gross, effFee, fpmath.RateScale-effFee)
	repay := gross + fee
	if maxRepay > 0 && repay > maxRepay {
		return Amounts{}, fmt.Errorf("%w: computed %d, maximum %d", ErrRepayAboveMaximum, repay, maxRepay)
	}

	return Amounts{Repay: repay, Net: gross, Seize: seize, Fee: fee}, nil
}
