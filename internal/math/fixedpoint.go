package math

import (
	"math/big"
	"sync"
)

// Fixed-point scales used across the engine.
const (
	// RateScale is the percentage scale for fees, discounts, scale factors
	// and health factors: 10_000 = 100% = health factor 1.0.
	RateScale int64 = 10_000

	// PriceScale is the fixed-point scale for oracle prices
	// (price of one asset unit in the common numeraire).
	PriceScale int64 = 100_000_000
)

// RoundingMode selects how MulDiv resolves a non-zero remainder.
type RoundingMode int

const (
	// RoundDown truncates toward zero. This is the engine-wide policy:
	// every conversion rounds against the liquidator, never in their favor.
	RoundDown RoundingMode = iota
	RoundUp
)

// intPool recycles big.Int values used for 128-bit intermediates.
var intPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt() *big.Int {
	return intPool.Get().(*big.Int)
}

func putInt(v *big.Int) {
	v.SetInt64(0)
	intPool.Put(v)
}

// MulDiv computes a * b / den using a 128-bit intermediate so the product
// cannot overflow. den must be > 0.
func MulDiv(a, b, den int64, mode RoundingMode) int64 {
	prod := getInt()
	rem := getInt()

	prod.Mul(big.NewInt(a), big.NewInt(b))
	prod.QuoRem(prod, big.NewInt(den), rem)

	result := prod.Int64()
	if mode == RoundUp && rem.Sign() != 0 {
		if result >= 0 {
			result++
		} else {
			result--
		}
	}

	putInt(prod)
	putInt(rem)

	return result
}

// MulDivDown is MulDiv with truncation toward zero.
func MulDivDown(a, b, den int64) int64 {
	return MulDiv(a, b, den, RoundDown)
}

// ProductLess reports a*b < c*d without overflow.
func ProductLess(a, b, c, d int64) bool {
	left := getInt()
	right := getInt()

	left.Mul(big.NewInt(a), big.NewInt(b))
	right.Mul(big.NewInt(c), big.NewInt(d))
	less := left.Cmp(right) < 0

	putInt(left)
	putInt(right)

	return less
}

// ScaleRate applies a scale factor to a rate: rate * factor / RateScale,
// truncated. Used for effective fee and discount computation.
func ScaleRate(rate, factor int64) int64 {
	return MulDivDown(rate, factor, RateScale)
}
