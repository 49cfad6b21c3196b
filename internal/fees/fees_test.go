package fees_test

import (
	"testing"

	"github.com/sbneo2022/gmx-synthetics/internal/fees"
	"github.com/sbneo2022/gmx-synthetics/internal/fixedmath"
	"github.com/sbneo2022/gmx-synthetics/internal/marketconfig"
	"github.com/sbneo2022/gmx-synthetics/internal/pricing"
)

func TestComputeSwapFees_SplitsAndSums(t *testing.T) {
	params := marketconfig.DefaultParams("M") // 0.1% swap fee, 30% receiver share

	f := fees.ComputeSwapFees(fixedmath.New(1_000), params)

	totalFee := fixedmath.Add(f.FeeReceiverAmount, f.FeesForPool)
	if totalFee.Int64() != 1 {
		t.Errorf("total fee: got %s, want 1", totalFee)
	}
	if f.AmountAfterFees.Int64() != 999 {
		t.Errorf("amount after fees: got %s, want 999", f.AmountAfterFees)
	}

	// Conservation: after + receiver + pool == in
	sum := fixedmath.Add(f.AmountAfterFees, totalFee)
	if sum.Int64() != 1_000 {
		t.Errorf("fee conservation broken: %s", sum)
	}
}

func TestComputePositionFees_ClosingFeeOnly(t *testing.T) {
	params := marketconfig.DefaultParams("M") // 0.05% position fee
	price := pricing.NewPrice(1, 1)

	f := fees.ComputePositionFees(
		fixedmath.New(10_000), // sizeDeltaUsd
		fixedmath.New(10_000), // sizeInUsd
		fixedmath.Zero(),      // no funding delta
		fixedmath.Zero(),      // no borrowing delta
		price,
		params,
	)

	if f.PositionFeeAmount.Int64() != 5 {
		t.Errorf("closing fee: got %s, want 5", f.PositionFeeAmount)
	}
	if f.FundingFeeAmount.Sign() != 0 || f.BorrowingFeeAmount.Sign() != 0 {
		t.Error("funding/borrowing should be zero with zero accumulator deltas")
	}
	if f.TotalCostAmount.Cmp(f.PositionFeeAmount) != 0 {
		t.Errorf("total: got %s, want %s", f.TotalCostAmount, f.PositionFeeAmount)
	}

	sum := fixedmath.Add(f.FeeReceiverAmount, f.FeesForPool)
	if sum.Cmp(f.TotalCostAmount) != 0 {
		t.Errorf("receiver+pool=%s must equal total=%s", sum, f.TotalCostAmount)
	}
}

func TestComputePositionFees_FundingAndBorrowing(t *testing.T) {
	params := marketconfig.DefaultParams("M")
	price := pricing.NewPrice(2, 2)

	// 1% funding delta, 0.5% borrowing delta on 10_000 USD of size.
	fundingDelta := fixedmath.Quo(fixedmath.FactorScale, fixedmath.New(100))
	borrowingDelta := fixedmath.Quo(fixedmath.FactorScale, fixedmath.New(200))

	f := fees.ComputePositionFees(
		fixedmath.New(1_000),
		fixedmath.New(10_000),
		fundingDelta,
		borrowingDelta,
		price,
		params,
	)

	// fundingUsd = 100, at price 2 -> 50 tokens
	if f.FundingFeeAmount.Int64() != 50 {
		t.Errorf("funding: got %s, want 50", f.FundingFeeAmount)
	}
	// borrowingUsd = 50, at price 2 -> 25 tokens
	if f.BorrowingFeeAmount.Int64() != 25 {
		t.Errorf("borrowing: got %s, want 25", f.BorrowingFeeAmount)
	}

	sum := fixedmath.Add(f.FeeReceiverAmount, f.FeesForPool)
	if sum.Cmp(f.TotalCostAmount) != 0 {
		t.Errorf("receiver+pool=%s must equal total=%s", sum, f.TotalCostAmount)
	}
}

func TestZeroPositionFees(t *testing.T) {
	f := fees.ZeroPositionFees()
	if f.TotalCostAmount.Sign() != 0 || f.FeesForPool.Sign() != 0 || f.FeeReceiverAmount.Sign() != 0 {
		t.Error("waived fee record must be all zero")
	}
}

func impactParams(t *testing.T) *marketconfig.MarketParams {
	t.Helper()
	params := marketconfig.DefaultParams("M")
	// positive 1e-8 per USD^2, negative 2e-8
	params.PositiveImpactFactor = fixedmath.Quo(fixedmath.FactorScale, fixedmath.New(100_000_000))
	params.NegativeImpactFactor = fixedmath.Quo(fixedmath.FactorScale, fixedmath.New(50_000_000))
	if err := params.Validate(); err != nil {
		t.Fatalf("params: %v", err)
	}
	return params
}

func TestPriceImpactUsd_Signs(t *testing.T) {
	params := impactParams(t)

	// Imbalance shrinks: positive impact.
	pos := fees.PriceImpactUsd(fixedmath.New(100_000), fixedmath.New(50_000), params)
	if pos.Sign() <= 0 {
		t.Errorf("shrinking imbalance should yield positive impact, got %s", pos)
	}

	// Imbalance grows: negative impact.
	neg := fees.PriceImpactUsd(fixedmath.New(50_000), fixedmath.New(100_000), params)
	if neg.Sign() >= 0 {
		t.Errorf("growing imbalance should yield negative impact, got %s", neg)
	}

	// Negative factor is steeper, so the round trip never profits.
	if fixedmath.Add(pos, neg).Sign() > 0 {
		t.Error("round trip must not extract value from the pool")
	}

	// No change: zero.
	if z := fees.PriceImpactUsd(fixedmath.New(70_000), fixedmath.New(70_000), params); z.Sign() != 0 {
		t.Errorf("unchanged imbalance should be zero impact, got %s", z)
	}
}

func TestSwapImpactUsd_BalancingSwapRewarded(t *testing.T) {
	params := impactParams(t)

	// Pool is heavy on the out side; swapping in rebalances.
	got := fees.SwapImpactUsd(fixedmath.New(40_000), fixedmath.New(60_000), fixedmath.New(5_000), params)
	if got.Sign() <= 0 {
		t.Errorf("rebalancing swap should earn positive impact, got %s", got)
	}

	// Pool is heavy on the in side; swapping in makes it worse.
	got = fees.SwapImpactUsd(fixedmath.New(60_000), fixedmath.New(40_000), fixedmath.New(5_000), params)
	if got.Sign() >= 0 {
		t.Errorf("imbalancing swap should pay negative impact, got %s", got)
	}
}

func TestSplitImpactUsd_ExactRemainder(t *testing.T) {
	total := fixedmath.New(101)
	first, second := fees.SplitImpactUsd(total, fixedmath.New(1), fixedmath.New(3))

	// 101 * 1/3 truncates to 33; remainder 68 goes to the second leg.
	if first.Int64() != 33 {
		t.Errorf("first: got %s, want 33", first)
	}
	if second.Int64() != 68 {
		t.Errorf("second: got %s, want 68", second)
	}
	if fixedmath.Add(first, second).Cmp(total) != 0 {
		t.Error("split must sum exactly to the total")
	}

	// Negative totals split the same way.
	first, second = fees.SplitImpactUsd(fixedmath.New(-101), fixedmath.New(1), fixedmath.New(3))
	if fixedmath.Add(first, second).Int64() != -101 {
		t.Error("negative split must sum exactly to the total")
	}
}
