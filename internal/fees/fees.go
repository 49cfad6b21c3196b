package fees

import (
	"math/big"

	"github.com/sbneo2022/gmx-synthetics/internal/fixedmath"
	"github.com/sbneo2022/gmx-synthetics/internal/marketconfig"
	"github.com/sbneo2022/gmx-synthetics/internal/pricing"
)

// SwapFees is the fee breakdown for one swap hop, in tokenIn units.
type SwapFees struct {
	FeeReceiverAmount *big.Int
	FeesForPool       *big.Int
	AmountAfterFees   *big.Int
}

// ComputeSwapFees charges the swap fee factor on amountIn and splits it
// between the fee receiver and the pool.
func ComputeSwapFees(amountIn *big.Int, params *marketconfig.MarketParams) SwapFees {
	feeAmount := fixedmath.ApplyFactor(amountIn, params.SwapFeeFactor)
	feeReceiver := fixedmath.ApplyFactor(feeAmount, params.FeeReceiverFactor)
	return SwapFees{
		FeeReceiverAmount: feeReceiver,
		FeesForPool:       fixedmath.Sub(feeAmount, feeReceiver),
		AmountAfterFees:   fixedmath.Sub(amountIn, feeAmount),
	}
}

// PositionFees is the full cost record for a position decrease, in
// collateral-token units. A zero-value record (via ZeroPositionFees) is the
// waived-fees record used on the liquidation absorption paths.
type PositionFees struct {
	FundingFeeAmount  *big.Int
	BorrowingFeeAmount *big.Int
	PositionFeeAmount *big.Int // closing fee on the size delta
	FeeReceiverAmount *big.Int
	FeesForPool       *big.Int
	TotalCostAmount   *big.Int
}

// ZeroPositionFees returns the empty fee record.
func ZeroPositionFees() PositionFees {
	return PositionFees{
		FundingFeeAmount:   fixedmath.Zero(),
		BorrowingFeeAmount: fixedmath.Zero(),
		PositionFeeAmount:  fixedmath.Zero(),
		FeeReceiverAmount:  fixedmath.Zero(),
		FeesForPool:        fixedmath.Zero(),
		TotalCostAmount:    fixedmath.Zero(),
	}
}

// ComputePositionFees derives funding, borrowing, and closing costs for a
// decrease. fundingFactorDelta and borrowingFactorDelta are the differences
// between the market's current accumulators and the position's stored
// snapshots (FactorScale-scaled cost per USD of size); the closing fee is
// charged on sizeDeltaUsd. Costs convert to collateral tokens at the min
// price bound, the bound unfavorable to the fee payer. The fee receiver's
// share comes out of the closing fee only; funding and borrowing accrue
// entirely to the pool.
func ComputePositionFees(
	sizeDeltaUsd *big.Int,
	sizeInUsd *big.Int,
	fundingFactorDelta *big.Int,
	borrowingFactorDelta *big.Int,
	collateralPrice pricing.Price,
	params *marketconfig.MarketParams,
) PositionFees {
	fundingUsd := fixedmath.ApplyFactor(sizeInUsd, fundingFactorDelta)
	borrowingUsd := fixedmath.ApplyFactor(sizeInUsd, borrowingFactorDelta)
	closingUsd := fixedmath.ApplyFactor(sizeDeltaUsd, params.PositionFeeFactor)

	funding := fixedmath.Quo(fundingUsd, collateralPrice.Min)
	borrowing := fixedmath.Quo(borrowingUsd, collateralPrice.Min)
	closing := fixedmath.Quo(closingUsd, collateralPrice.Min)

	feeReceiver := fixedmath.ApplyFactor(closing, params.FeeReceiverFactor)
	forPool := fixedmath.Sub(closing, feeReceiver)
	forPool = forPool.Add(forPool, funding)
	forPool = forPool.Add(forPool, borrowing)

	total := fixedmath.Add(funding, borrowing)
	total = total.Add(total, closing)

	return PositionFees{
		FundingFeeAmount:   funding,
		BorrowingFeeAmount: borrowing,
		PositionFeeAmount:  closing,
		FeeReceiverAmount:  feeReceiver,
		FeesForPool:        forPool,
		TotalCostAmount:    total,
	}
}
