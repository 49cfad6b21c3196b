package swap

import (
	"fmt"
	"math/big"

	"github.com/sbneo2022/gmx-synthetics/internal/fees"
	"github.com/sbneo2022/gmx-synthetics/internal/fixedmath"
	"github.com/sbneo2022/gmx-synthetics/internal/market"
	"github.com/sbneo2022/gmx-synthetics/internal/marketconfig"
	"github.com/sbneo2022/gmx-synthetics/internal/pool"
	"github.com/sbneo2022/gmx-synthetics/internal/pricing"
)

// InsufficientSwapOutputAmountError reports a final swap output below the
// caller's minimum. It carries both amounts so the caller can distinguish a
// near miss from a gross one.
type InsufficientSwapOutputAmountError struct {
	Actual *big.Int
	Min    *big.Int
}

func (e *InsufficientSwapOutputAmountError) Error() string {
	return fmt.Sprintf("insufficient swap output amount: got %s, want at least %s", e.Actual, e.Min)
}

// Params describes one multi-hop swap. Path lists market addresses in hop
// order; the output token of each hop is the input of the next.
type Params struct {
	TokenIn         string
	AmountIn        *big.Int
	Path            []string
	MinOutputAmount *big.Int
	Receiver        string
	UnwrapNative    bool
}

// HopFees records the fees charged on one hop, in the hop's input token.
type HopFees struct {
	Market            string
	Token             string
	FeeReceiverAmount *big.Int
	FeesForPool       *big.Int
}

// Result is the final outcome of a full path swap.
type Result struct {
	TokenOut  string
	AmountOut *big.Int
	Fees      []HopFees
}

// Engine executes swaps against pool state held in a Tx. Per hop it charges
// the swap fee, prices the impact of the imbalance change, moves pool
// balances, and validates the reserve on the side that paid out. The minimum
// output is checked once, after the last hop.
//
// The engine never touches the fee receiver: the fee-receiver share of each
// hop rides back in Result.Fees and is credited by the caller only after the
// tx commits, so an aborted path leaves no fee behind.
type Engine struct {
	markets market.Store
	cfg     marketconfig.Config
}

func NewEngine(markets market.Store, cfg marketconfig.Config) *Engine {
	return &Engine{markets: markets, cfg: cfg}
}

// Swap runs every hop of the path inside tx. On any error the tx should be
// discarded; no hop leaves partial state behind.
func (e *Engine) Swap(tx *pool.Tx, oracle pricing.Oracle, p Params) (Result, error) {
	if p.AmountIn == nil || p.AmountIn.Sign() <= 0 {
		return Result{}, fmt.Errorf("swap amount in must be positive, got %v", p.AmountIn)
	}
	if len(p.Path) == 0 {
		return Result{}, fmt.Errorf("swap path is empty")
	}

	seen := make(map[string]bool, len(p.Path))
	for _, addr := range p.Path {
		if seen[addr] {
			return Result{}, fmt.Errorf("market %s appears twice in swap path", addr)
		}
		seen[addr] = true
	}

	tokenIn := p.TokenIn
	amountIn := fixedmath.Copy(p.AmountIn)
	hopFees := make([]HopFees, 0, len(p.Path))
	for _, addr := range p.Path {
		mkt, err := e.markets.Get(addr)
		if err != nil {
			return Result{}, err
		}
		tokenOut, amountOut, fees, err := e.swapHop(tx, oracle, mkt, tokenIn, amountIn)
		if err != nil {
			return Result{}, err
		}
		hopFees = append(hopFees, fees)
		tokenIn, amountIn = tokenOut, amountOut
	}

	if p.MinOutputAmount != nil && amountIn.Cmp(p.MinOutputAmount) < 0 {
		return Result{}, &InsufficientSwapOutputAmountError{
			Actual: amountIn,
			Min:    fixedmath.Copy(p.MinOutputAmount),
		}
	}
	return Result{TokenOut: tokenIn, AmountOut: amountIn, Fees: hopFees}, nil
}

// swapHop settles one market of the path and returns what flows into the
// next hop.
func (e *Engine) swapHop(tx *pool.Tx, oracle pricing.Oracle, mkt market.Market, tokenIn string, amountIn *big.Int) (string, *big.Int, HopFees, error) {
	tokenOut, err := mkt.OppositeToken(tokenIn)
	if err != nil {
		return "", nil, HopFees{}, err
	}
	params, err := e.cfg.Params(mkt.Address)
	if err != nil {
		return "", nil, HopFees{}, err
	}
	priceIn, err := oracle.GetPrimaryPrice(tokenIn)
	if err != nil {
		return "", nil, HopFees{}, err
	}
	priceOut, err := oracle.GetPrimaryPrice(tokenOut)
	if err != nil {
		return "", nil, HopFees{}, err
	}

	swapFees := fees.ComputeSwapFees(amountIn, params)

	// Impact is priced on the post-fee notional against the pool's current
	// USD imbalance, both sides valued at mid price.
	poolUsdIn := fixedmath.Mul(tx.PoolAmount(mkt.Address, tokenIn), priceIn.Mid())
	poolUsdOut := fixedmath.Mul(tx.PoolAmount(mkt.Address, tokenOut), priceOut.Mid())
	deltaUsd := fixedmath.Mul(swapFees.AmountAfterFees, priceIn.Mid())
	impactUsd := fees.SwapImpactUsd(poolUsdIn, poolUsdOut, deltaUsd, params)

	amountInUsed := swapFees.AmountAfterFees
	var impactAmountOut *big.Int
	if impactUsd.Sign() > 0 {
		// Paid out of the tokenOut impact pool at the max price, capped at
		// the pool's balance.
		want := fixedmath.Quo(impactUsd, priceOut.Max)
		impactAmountOut = tx.ApplyPositiveImpact(mkt.Address, tokenOut, want)
	} else {
		impactAmountOut = fixedmath.Zero()
		if impactUsd.Sign() < 0 {
			// Deducted from the input at the min price and parked in the
			// tokenIn impact pool. The deduction never exceeds the input.
			impactAmountIn := fixedmath.Quo(fixedmath.Neg(impactUsd), priceIn.Min)
			impactAmountIn = fixedmath.Min(impactAmountIn, amountInUsed)
			amountInUsed = fixedmath.Sub(amountInUsed, impactAmountIn)
			tx.ApplyNegativeImpact(mkt.Address, tokenIn, impactAmountIn)
		}
	}

	// Convert at the bounds unfavorable to the trader.
	amountOut := fixedmath.MulDiv(amountInUsed, priceIn.Min, priceOut.Max)
	amountOut = fixedmath.Add(amountOut, impactAmountOut)

	tx.IncreasePoolAmount(mkt.Address, tokenIn, fixedmath.Add(amountInUsed, swapFees.FeesForPool))
	if err := tx.DecreasePoolAmount(mkt.Address, tokenOut, amountOut); err != nil {
		return "", nil, HopFees{}, err
	}
	if err := tx.ValidateReserve(mkt, oracle, mkt.IsLongToken(tokenOut)); err != nil {
		return "", nil, HopFees{}, err
	}
	fees := HopFees{
		Market:            mkt.Address,
		Token:             tokenIn,
		FeeReceiverAmount: swapFees.FeeReceiverAmount,
		FeesForPool:       swapFees.FeesForPool,
	}
	return tokenOut, amountOut, fees, nil
}
