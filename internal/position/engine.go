package position

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/sbneo2022/gmx-synthetics/internal/fees"
	"github.com/sbneo2022/gmx-synthetics/internal/fixedmath"
	"github.com/sbneo2022/gmx-synthetics/internal/market"
	"github.com/sbneo2022/gmx-synthetics/internal/marketconfig"
	"github.com/sbneo2022/gmx-synthetics/internal/pool"
	"github.com/sbneo2022/gmx-synthetics/internal/pricing"
)

// ErrInvalidLiquidation is returned for a liquidation order on a position
// that does not meet the liquidation predicate.
var ErrInvalidLiquidation = errors.New("invalid liquidation")

// ErrInvalidOrderSize is returned when a market-decrease or liquidation
// order requests more size than the position holds.
var ErrInvalidOrderSize = errors.New("invalid order size")

// ErrInsufficientCollateral is returned when netting fees and losses would
// leave the position's collateral negative on a non-liquidation path, or
// when a partial decrease would leave the position under its minimum
// collateral constraints.
var ErrInsufficientCollateral = errors.New("insufficient collateral")

// InvalidAcceptablePriceError reports an execution price outside the
// order's acceptable bound.
type InvalidAcceptablePriceError struct {
	ExecutionPrice  *big.Int
	AcceptablePrice *big.Int
	IsLong          bool
}

func (e *InvalidAcceptablePriceError) Error() string {
	return fmt.Sprintf("invalid acceptable price: execution %s vs acceptable %s (isLong=%v)",
		e.ExecutionPrice, e.AcceptablePrice, e.IsLong)
}

// DecreaseResult is what settlement hands back to the caller for payout
// routing, order-store adjustment, and events.
type DecreaseResult struct {
	OutputToken  string
	OutputAmount *big.Int

	// SizeDeltaUsd is the size actually settled after clamping.
	SizeDeltaUsd     *big.Int
	SizeDeltaTokens  *big.Int
	ExecutionPrice   *big.Int
	PnlAmount        *big.Int // signed, collateral tokens
	Fees             fees.PositionFees
	Closed           bool
	RemainingSizeUsd *big.Int
}

// Engine settles position decreases. Every call runs inside a pool.Tx
// supplied by the caller; an error means the tx must be discarded and
// nothing, including the position store, has changed. The fee receiver is
// not credited here: its share rides back in DecreaseResult.Fees and the
// caller credits it only after the tx commits.
type Engine struct {
	markets   market.Store
	positions Store
	cfg       marketconfig.Config
}

func NewEngine(markets market.Store, positions Store, cfg marketconfig.Config) *Engine {
	return &Engine{markets: markets, positions: positions, cfg: cfg}
}

// DecreasePosition runs the full decrease state machine: liquidation gate,
// accumulator refresh, size clamp, collateral/PnL netting, fee netting,
// position update, and pool/open-interest updates. now stamps the funding
// accumulators, block stamps the position.
//
// The position store is written last, after every pool check has passed, so
// a failed call leaves the store untouched.
func (e *Engine) DecreasePosition(tx *pool.Tx, oracle pricing.Oracle, o Order, now, block int64) (DecreaseResult, error) {
	if err := o.Validate(); err != nil {
		return DecreaseResult{}, err
	}
	mkt, err := e.markets.Get(o.Market)
	if err != nil {
		return DecreaseResult{}, err
	}
	params, err := e.cfg.Params(o.Market)
	if err != nil {
		return DecreaseResult{}, err
	}
	pos, err := e.positions.Get(o.positionKey())
	if err != nil {
		return DecreaseResult{}, err
	}

	indexPrice, err := oracle.GetPrice(mkt.IndexToken)
	if err != nil {
		return DecreaseResult{}, err
	}
	collateralPrice, err := oracle.GetPrice(o.CollateralToken)
	if err != nil {
		return DecreaseResult{}, err
	}

	if o.Kind == Liquidation {
		liquidatable, err := e.isLiquidatable(tx, pos, mkt, oracle, params)
		if err != nil {
			return DecreaseResult{}, err
		}
		if !liquidatable {
			return DecreaseResult{}, fmt.Errorf("%w: position %s is not liquidatable", ErrInvalidLiquidation, pos.Key())
		}
	}

	// Advance the accumulators before any cost is read so every settlement
	// in this call sees one snapshot.
	if err := tx.UpdateFundingAndBorrowing(mkt, oracle, now); err != nil {
		return DecreaseResult{}, err
	}
	fs := tx.Funding(o.Market)

	sizeDeltaUsd := fixedmath.Copy(o.SizeDeltaUsd)
	if sizeDeltaUsd.Cmp(pos.SizeInUsd) > 0 {
		if !o.Kind.clampable() {
			return DecreaseResult{}, fmt.Errorf("%w: %s order for %s exceeds position size %s",
				ErrInvalidOrderSize, o.Kind, sizeDeltaUsd, pos.SizeInUsd)
		}
		sizeDeltaUsd = fixedmath.Copy(pos.SizeInUsd)
	}
	fullClose := sizeDeltaUsd.Cmp(pos.SizeInUsd) == 0 && pos.SizeInUsd.Sign() > 0

	// 4a: requested withdrawal, clamped to what the position holds.
	collateralDelta := fixedmath.Min(o.InitialCollateralDeltaAmount, pos.CollateralAmount)
	remainingCollateral := fixedmath.Sub(pos.CollateralAmount, collateralDelta)
	outputAmount := fixedmath.Copy(collateralDelta)

	// 4b: execution price from the impact-adjusted oracle price.
	var sizeDeltaTokens, executionPrice, pnlAmount *big.Int
	if sizeDeltaUsd.Sign() > 0 {
		impactUsd := fees.PositionImpactUsd(
			tx.OpenInterestUsd(o.Market, true),
			tx.OpenInterestUsd(o.Market, false),
			sizeDeltaUsd, pos.IsLong, params,
		)
		executionPrice = decreaseExecutionPrice(indexPrice, impactUsd, sizeDeltaUsd, pos.IsLong)
		if err := checkAcceptablePrice(executionPrice, o.AcceptablePrice, pos.IsLong); err != nil {
			return DecreaseResult{}, err
		}

		// Tokens leave in exact proportion to the USD size reduction, so a
		// full close always clears SizeInTokens.
		if fullClose {
			sizeDeltaTokens = fixedmath.Copy(pos.SizeInTokens)
		} else {
			sizeDeltaTokens = fixedmath.MulDiv(pos.SizeInTokens, sizeDeltaUsd, pos.SizeInUsd)
		}

		// 4c: realized PnL against the proportional cost basis, converted at
		// the price bound that never overpays the user.
		pnlUsd := realizedPnlUsd(executionPrice, sizeDeltaUsd, sizeDeltaTokens, pos.IsLong)
		pnlAmount = pnlToCollateral(pnlUsd, collateralPrice)
	} else {
		sizeDeltaTokens = fixedmath.Zero()
		executionPrice = fixedmath.Zero()
		pnlAmount = fixedmath.Zero()
	}

	// 4d: liquidation shortfall absorption. The position is underwater past
	// its collateral; it is liquidated for whatever it has, fees waived, no
	// proceeds to the user.
	feesWaived := false
	if o.Kind == Liquidation && fixedmath.Add(remainingCollateral, pnlAmount).Sign() < 0 {
		feesWaived = true
		pnlAmount = fixedmath.Neg(remainingCollateral)
		outputAmount = fixedmath.Zero()
		remainingCollateral = fixedmath.Zero()
	} else if pnlAmount.Sign() > 0 {
		outputAmount = fixedmath.Add(outputAmount, pnlAmount)
	} else {
		remainingCollateral = fixedmath.Add(remainingCollateral, pnlAmount)
	}

	// 4e: position costs, waived rather than reverting when a liquidation
	// cannot pay them.
	positionFees := fees.ZeroPositionFees()
	if !feesWaived {
		positionFees = fees.ComputePositionFees(
			sizeDeltaUsd, pos.SizeInUsd,
			fixedmath.Sub(fs.FundingFactor(pos.IsLong), pos.FundingFactor),
			fixedmath.Sub(fs.BorrowingFactor(pos.IsLong), pos.BorrowingFactor),
			collateralPrice, params,
		)
		if o.Kind == Liquidation &&
			positionFees.TotalCostAmount.Cmp(fixedmath.Add(remainingCollateral, outputAmount)) > 0 {
			positionFees = fees.ZeroPositionFees()
		}
	}

	// 4f: fees reduce the payout before touching collateral.
	feeFromOutput := fixedmath.Min(positionFees.TotalCostAmount, outputAmount)
	outputAmount = fixedmath.Sub(outputAmount, feeFromOutput)
	remainingCollateral = fixedmath.Sub(remainingCollateral,
		fixedmath.Sub(positionFees.TotalCostAmount, feeFromOutput))

	// 5: only non-liquidation paths can get here negative.
	if remainingCollateral.Sign() < 0 {
		return DecreaseResult{}, fmt.Errorf("%w: position %s would have %s collateral after netting",
			ErrInsufficientCollateral, pos.Key(), remainingCollateral)
	}

	// 6: state update.
	newSizeUsd := fixedmath.Sub(pos.SizeInUsd, sizeDeltaUsd)
	newSizeTokens := fixedmath.Sub(pos.SizeInTokens, sizeDeltaTokens)
	closed := newSizeUsd.Sign() == 0 || newSizeTokens.Sign() == 0
	if closed {
		outputAmount = fixedmath.Add(outputAmount, remainingCollateral)
		remainingCollateral = fixedmath.Zero()
	} else {
		if err := validateRemainingCollateral(remainingCollateral, newSizeUsd, collateralPrice, params); err != nil {
			return DecreaseResult{}, err
		}
	}

	// 7: pool and open-interest updates. Collateral physically sits in the
	// pool balance, so releasing it debits both ledgers; losses and the
	// pool's fee share flow back in.
	collateralWithdrawn := fixedmath.Sub(pos.CollateralAmount, remainingCollateral)
	if err := tx.DecreasePoolAmount(o.Market, o.CollateralToken, collateralWithdrawn); err != nil {
		return DecreaseResult{}, err
	}
	if err := tx.DecreaseCollateralSum(o.Market, o.CollateralToken, collateralWithdrawn); err != nil {
		return DecreaseResult{}, err
	}
	poolDelta := fixedmath.Sub(positionFees.FeesForPool, pnlAmount)
	if poolDelta.Sign() >= 0 {
		tx.IncreasePoolAmount(o.Market, o.CollateralToken, poolDelta)
	} else if err := tx.DecreasePoolAmount(o.Market, o.CollateralToken, fixedmath.Neg(poolDelta)); err != nil {
		return DecreaseResult{}, err
	}
	if sizeDeltaUsd.Sign() > 0 {
		if err := tx.DecreaseOpenInterest(o.Market, pos.IsLong, sizeDeltaUsd, sizeDeltaTokens); err != nil {
			return DecreaseResult{}, err
		}
	}
	// The reserve is re-checked on the side whose pool the collateral
	// withdrawal drained, which need not be the position's side.
	if err := tx.ValidateReserve(mkt, oracle, mkt.IsLongToken(o.CollateralToken)); err != nil {
		return DecreaseResult{}, err
	}

	// 8: payout is never negative.
	if outputAmount.Sign() < 0 {
		return DecreaseResult{}, fmt.Errorf("negative output amount %s for position %s", outputAmount, pos.Key())
	}

	if closed {
		if err := e.positions.Remove(pos.Key()); err != nil {
			return DecreaseResult{}, err
		}
	} else {
		pos.SizeInUsd = newSizeUsd
		pos.SizeInTokens = newSizeTokens
		pos.CollateralAmount = remainingCollateral
		pos.FundingFactor = fixedmath.Copy(fs.FundingFactor(pos.IsLong))
		pos.BorrowingFactor = fixedmath.Copy(fs.BorrowingFactor(pos.IsLong))
		pos.DecreasedAtBlock = block
		if err := e.positions.Set(pos); err != nil {
			return DecreaseResult{}, err
		}
	}

	return DecreaseResult{
		OutputToken:      o.CollateralToken,
		OutputAmount:     outputAmount,
		SizeDeltaUsd:     sizeDeltaUsd,
		SizeDeltaTokens:  sizeDeltaTokens,
		ExecutionPrice:   executionPrice,
		PnlAmount:        pnlAmount,
		Fees:             positionFees,
		Closed:           closed,
		RemainingSizeUsd: newSizeUsd,
	}, nil
}

// decreaseExecutionPrice adjusts the oracle baseline by the position's price
// impact, spread over the size delta. The baseline is the bound unfavorable
// to the trader: a closing long sells at min, a closing short buys at max.
// Positive impact always moves the price in the trader's favor.
func decreaseExecutionPrice(indexPrice pricing.Price, impactUsd, sizeDeltaUsd *big.Int, isLong bool) *big.Int {
	baseline := indexPrice.Pick(!isLong)
	priceDelta := fixedmath.MulDiv(impactUsd, baseline, sizeDeltaUsd)
	var exec *big.Int
	if isLong {
		exec = fixedmath.Add(baseline, priceDelta)
	} else {
		exec = fixedmath.Sub(baseline, priceDelta)
	}
	if exec.Sign() < 0 {
		exec = fixedmath.Zero()
	}
	return exec
}

// checkAcceptablePrice enforces the order's price bound for a decrease: a
// long seller demands at least the acceptable price, a short buyer at most.
func checkAcceptablePrice(executionPrice, acceptable *big.Int, isLong bool) error {
	if acceptable == nil {
		return nil
	}
	ok := executionPrice.Cmp(acceptable) >= 0
	if !isLong {
		ok = executionPrice.Cmp(acceptable) <= 0
	}
	if !ok {
		return &InvalidAcceptablePriceError{
			ExecutionPrice:  fixedmath.Copy(executionPrice),
			AcceptablePrice: fixedmath.Copy(acceptable),
			IsLong:          isLong,
		}
	}
	return nil
}

// realizedPnlUsd is the settled gain or loss against the proportional cost
// basis: the removed tokens valued at execution price versus the USD size
// they carried.
func realizedPnlUsd(executionPrice, sizeDeltaUsd, sizeDeltaTokens *big.Int, isLong bool) *big.Int {
	settledUsd := fixedmath.Mul(sizeDeltaTokens, executionPrice)
	if isLong {
		return fixedmath.Sub(settledUsd, sizeDeltaUsd)
	}
	return fixedmath.Sub(sizeDeltaUsd, settledUsd)
}

// pnlToCollateral converts signed PnL USD to collateral tokens. Profit
// divides by the max price so the pool never overpays; loss divides by the
// min price so the pool is never undercompensated. Both truncate.
func pnlToCollateral(pnlUsd *big.Int, collateralPrice pricing.Price) *big.Int {
	if pnlUsd.Sign() >= 0 {
		return fixedmath.Quo(pnlUsd, collateralPrice.Max)
	}
	return fixedmath.Neg(fixedmath.Quo(fixedmath.Neg(pnlUsd), collateralPrice.Min))
}

// validateRemainingCollateral enforces the minimum-collateral floor and the
// leverage bound on a position that stays open after a partial decrease.
func validateRemainingCollateral(remaining, sizeInUsd *big.Int, collateralPrice pricing.Price, params *marketconfig.MarketParams) error {
	collateralUsd := fixedmath.Mul(remaining, collateralPrice.Min)
	if collateralUsd.Cmp(params.MinCollateralUsd) < 0 {
		return fmt.Errorf("%w: remaining collateral %s USD below minimum %s",
			ErrInsufficientCollateral, collateralUsd, params.MinCollateralUsd)
	}
	minForLeverage := fixedmath.ApplyFactor(sizeInUsd, params.MinCollateralFactor)
	if collateralUsd.Cmp(minForLeverage) < 0 {
		return fmt.Errorf("%w: remaining collateral %s USD below leverage minimum %s",
			ErrInsufficientCollateral, collateralUsd, minForLeverage)
	}
	return nil
}

// isLiquidatable computes the maintenance-margin predicate: collateral value
// plus unrealized PnL minus the full cost of closing, compared to the
// minimum collateral constraints. Prices come from the primary oracle feed.
func (e *Engine) isLiquidatable(tx *pool.Tx, pos *Position, mkt market.Market, oracle pricing.Oracle, params *marketconfig.MarketParams) (bool, error) {
	if pos.SizeInUsd.Sign() == 0 {
		return false, nil
	}
	indexPrice, err := oracle.GetPrimaryPrice(mkt.IndexToken)
	if err != nil {
		return false, err
	}
	collateralPrice, err := oracle.GetPrimaryPrice(pos.CollateralToken)
	if err != nil {
		return false, err
	}

	mark := indexPrice.Pick(!pos.IsLong)
	pnlUsd := realizedPnlUsd(mark, pos.SizeInUsd, pos.SizeInTokens, pos.IsLong)

	fs := tx.Funding(pos.Market)
	closeCost := fees.ComputePositionFees(
		pos.SizeInUsd, pos.SizeInUsd,
		fixedmath.Sub(fs.FundingFactor(pos.IsLong), pos.FundingFactor),
		fixedmath.Sub(fs.BorrowingFactor(pos.IsLong), pos.BorrowingFactor),
		collateralPrice, params,
	)
	costUsd := fixedmath.Mul(closeCost.TotalCostAmount, collateralPrice.Min)

	collateralUsd := fixedmath.Mul(pos.CollateralAmount, collateralPrice.Min)
	remainingUsd := fixedmath.Sub(fixedmath.Add(collateralUsd, pnlUsd), costUsd)

	if remainingUsd.Cmp(params.MinCollateralUsd) < 0 {
		return true, nil
	}
	minForLeverage := fixedmath.ApplyFactor(pos.SizeInUsd, params.MinCollateralFactor)
	return remainingUsd.Cmp(minForLeverage) < 0, nil
}
