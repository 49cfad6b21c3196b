package fees

import (
	"math/big"

	"github.com/sbneo2022/gmx-synthetics/internal/fixedmath"
	"github.com/sbneo2022/gmx-synthetics/internal/marketconfig"
)

// impactForImbalance evaluates the convex impact function at an absolute
// USD imbalance: impact(d) = d^2 * factor / FactorScale, where factor is the
// USD-per-squared-USD coefficient. Quadratic shape means the marginal
// penalty grows with the imbalance the action leaves behind.
func impactForImbalance(imbalance, factor *big.Int) *big.Int {
	return fixedmath.ApplyFactor(fixedmath.Mul(imbalance, imbalance), factor)
}

// PriceImpactUsd returns the signed impact USD for an action that moves a
// pool's two-sided imbalance from initialImbalance to nextImbalance (both
// absolute values). Shrinking the imbalance earns positive impact priced at
// the positive factor; growing it costs negative impact priced at the
// negative factor. Equal imbalances yield zero.
func PriceImpactUsd(initialImbalance, nextImbalance *big.Int, params *marketconfig.MarketParams) *big.Int {
	cmp := nextImbalance.Cmp(initialImbalance)
	if cmp == 0 {
		return fixedmath.Zero()
	}
	if cmp < 0 {
		// Imbalance shrinks: reward.
		return fixedmath.Sub(
			impactForImbalance(initialImbalance, params.PositiveImpactFactor),
			impactForImbalance(nextImbalance, params.PositiveImpactFactor),
		)
	}
	// Imbalance grows: penalty.
	return fixedmath.Neg(fixedmath.Sub(
		impactForImbalance(nextImbalance, params.NegativeImpactFactor),
		impactForImbalance(initialImbalance, params.NegativeImpactFactor),
	))
}

// SwapImpactUsd prices a hop that adds deltaUsd of tokenIn value and
// removes deltaUsd of tokenOut value, given the pool's current USD value on
// each side.
func SwapImpactUsd(poolUsdIn, poolUsdOut, deltaUsd *big.Int, params *marketconfig.MarketParams) *big.Int {
	initial := fixedmath.Abs(fixedmath.Sub(poolUsdIn, poolUsdOut))
	nextIn := fixedmath.Add(poolUsdIn, deltaUsd)
	nextOut := fixedmath.Sub(poolUsdOut, deltaUsd)
	next := fixedmath.Abs(fixedmath.Sub(nextIn, nextOut))
	return PriceImpactUsd(initial, next, params)
}

// PositionImpactUsd prices a decrease that removes sizeDeltaUsd of open
// interest from one side, given current long/short open interest in USD.
func PositionImpactUsd(longOIUsd, shortOIUsd, sizeDeltaUsd *big.Int, isLong bool, params *marketconfig.MarketParams) *big.Int {
	initial := fixedmath.Abs(fixedmath.Sub(longOIUsd, shortOIUsd))

	nextLong := fixedmath.Copy(longOIUsd)
	nextShort := fixedmath.Copy(shortOIUsd)
	if isLong {
		nextLong = fixedmath.Sub(nextLong, sizeDeltaUsd)
	} else {
		nextShort = fixedmath.Sub(nextShort, sizeDeltaUsd)
	}
	next := fixedmath.Abs(fixedmath.Sub(nextLong, nextShort))
	return PriceImpactUsd(initial, next, params)
}

// SplitImpactUsd divides a total impact USD across two legs proportionally
// to each leg's USD share. The first leg gets the truncated proportional
// share and the second leg gets the exact remainder, so the parts always
// sum to the total regardless of rounding.
func SplitImpactUsd(totalImpactUsd, firstLegUsd, totalUsd *big.Int) (first, second *big.Int) {
	if totalUsd.Sign() == 0 {
		return fixedmath.Copy(totalImpactUsd), fixedmath.Zero()
	}
	first = fixedmath.MulDiv(totalImpactUsd, firstLegUsd, totalUsd)
	second = fixedmath.Sub(totalImpactUsd, first)
	return first, second
}
