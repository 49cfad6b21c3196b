package core

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/sbneo2022/gmx-synthetics/internal/bank"
	"github.com/sbneo2022/gmx-synthetics/internal/event"
	"github.com/sbneo2022/gmx-synthetics/internal/market"
	"github.com/sbneo2022/gmx-synthetics/internal/marketconfig"
	"github.com/sbneo2022/gmx-synthetics/internal/observability"
	"github.com/sbneo2022/gmx-synthetics/internal/pool"
	"github.com/sbneo2022/gmx-synthetics/internal/position"
	"github.com/sbneo2022/gmx-synthetics/internal/pricing"
	"github.com/sbneo2022/gmx-synthetics/internal/swap"
)

// Core coordinates one settlement or swap call end to end: it opens the
// accounting context, runs the engines, routes the payout through the bank,
// commits, and emits events. Every mutating path either commits fully or
// leaves no trace.
type Core struct {
	log         zerolog.Logger
	ledger      *pool.Ledger
	cfg         marketconfig.Config
	markets     market.Store
	positions   position.Store
	oracle      pricing.Oracle
	bank        bank.Bank
	feeReceiver bank.FeeReceiver

	posEngine  *position.Engine
	swapEngine *swap.Engine
	emitter    *event.Emitter
	metrics    *observability.Metrics

	clock func() time.Time
}

// Options wires the collaborators. Oracle, Bank, and the stores are owned
// externally; the core only drives them.
type Options struct {
	Logger      zerolog.Logger
	Ledger      *pool.Ledger
	Config      marketconfig.Config
	Markets     market.Store
	Positions   position.Store
	Oracle      pricing.Oracle
	Bank        bank.Bank
	FeeReceiver bank.FeeReceiver
	Sink        event.Sink
	Metrics     *observability.Metrics

	// Clock stamps funding accumulators; defaults to time.Now.
	Clock func() time.Time

	// StartSequence resumes event numbering after the durable log watermark.
	StartSequence int64
}

func New(opts Options) *Core {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Sink == nil {
		opts.Sink = event.NopSink{}
	}
	emitter := event.NewEmitter(opts.Sink)
	emitter.Resume(opts.StartSequence)
	return &Core{
		log:         opts.Logger,
		ledger:      opts.Ledger,
		cfg:         opts.Config,
		markets:     opts.Markets,
		positions:   opts.Positions,
		oracle:      opts.Oracle,
		bank:        opts.Bank,
		feeReceiver: opts.FeeReceiver,
		posEngine:   position.NewEngine(opts.Markets, opts.Positions, opts.Config),
		swapEngine:  swap.NewEngine(opts.Markets, opts.Config),
		emitter:     emitter,
		metrics:     opts.Metrics,
		clock:       opts.Clock,
	}
}

// DecreasePosition settles one decrease order at the given block, pays the
// output (directly or through the order's swap path), and commits.
func (c *Core) DecreasePosition(ctx context.Context, o position.Order, block int64) (position.DecreaseResult, error) {
	start := time.Now()
	now := c.clock().Unix()
	tx := pool.NewTx(c.ledger, c.cfg)

	// The engine writes the position store as its final step, before the
	// pool state commits. Snapshot the position so a failure in the payout
	// leg can put the store back.
	snapshot, snapErr := c.positions.Get(position.Key{
		Account: o.Account, Market: o.Market, CollateralToken: o.CollateralToken, IsLong: o.IsLong,
	})

	res, err := c.posEngine.DecreasePosition(tx, c.oracle, o, now, block)
	if err != nil {
		c.rejectDecrease(o, err)
		return position.DecreaseResult{}, err
	}

	outputToken, outputAmount := res.OutputToken, res.OutputAmount
	var swapHopFees []swap.HopFees
	if len(o.SwapPath) > 0 && outputAmount.Sign() > 0 {
		swapRes, swapErr := c.swapEngine.Swap(tx, c.oracle, swap.Params{
			TokenIn:         outputToken,
			AmountIn:        outputAmount,
			Path:            o.SwapPath,
			MinOutputAmount: o.MinOutputAmount,
			Receiver:        o.Receiver,
			UnwrapNative:    o.UnwrapNative,
		})
		if swapErr != nil {
			c.restorePosition(snapshot, snapErr, o)
			c.rejectDecrease(o, swapErr)
			return position.DecreaseResult{}, swapErr
		}
		outputToken, outputAmount = swapRes.TokenOut, swapRes.AmountOut
		swapHopFees = swapRes.Fees
	}

	if outputAmount.Sign() > 0 {
		if err := c.bank.TransferOut(outputToken, o.Receiver, outputAmount, o.UnwrapNative); err != nil {
			c.restorePosition(snapshot, snapErr, o)
			c.rejectDecrease(o, err)
			return position.DecreaseResult{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		c.restorePosition(snapshot, snapErr, o)
		c.rejectDecrease(o, err)
		return position.DecreaseResult{}, err
	}

	// Fee-receiver credits happen strictly after the commit: an aborted
	// call must leave the receiver exactly as it found it.
	c.feeReceiver.CreditFee(o.Market, o.CollateralToken, res.Fees.FeeReceiverAmount)
	c.emitDecrease(ctx, o, res)
	c.settleSwapFees(ctx, swapHopFees)
	if c.metrics != nil {
		c.metrics.DecreasesSettled.WithLabelValues(o.Market, o.Kind.String()).Inc()
		c.metrics.DecreaseDuration.WithLabelValues(o.Market).Observe(time.Since(start).Seconds())
		if o.Kind == position.Liquidation {
			outcome := "closed"
			if res.OutputAmount.Sign() == 0 {
				outcome = "absorbed"
			}
			c.metrics.Liquidations.WithLabelValues(o.Market, outcome).Inc()
		}
	}
	c.log.Info().
		Str("account", o.Account).
		Str("market", o.Market).
		Str("kind", o.Kind.String()).
		Str("size_delta_usd", res.SizeDeltaUsd.String()).
		Str("output_amount", outputAmount.String()).
		Bool("closed", res.Closed).
		Msg("position decrease settled")
	return res, nil
}

// Swap executes one multi-hop swap, pays the receiver, and commits.
func (c *Core) Swap(ctx context.Context, p swap.Params) (swap.Result, error) {
	start := time.Now()
	tx := pool.NewTx(c.ledger, c.cfg)

	res, err := c.swapEngine.Swap(tx, c.oracle, p)
	if err != nil {
		c.rejectSwap(p, err)
		return swap.Result{}, err
	}
	if res.AmountOut.Sign() > 0 {
		if err := c.bank.TransferOut(res.TokenOut, p.Receiver, res.AmountOut, p.UnwrapNative); err != nil {
			c.rejectSwap(p, err)
			return swap.Result{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		c.rejectSwap(p, err)
		return swap.Result{}, err
	}

	c.emitter.Emit(ctx, &event.SwapExecuted{
		Receiver:  p.Receiver,
		TokenIn:   p.TokenIn,
		TokenOut:  res.TokenOut,
		AmountIn:  p.AmountIn,
		AmountOut: res.AmountOut,
		Path:      p.Path,
	})
	c.settleSwapFees(ctx, res.Fees)
	if c.metrics != nil {
		c.metrics.EventsEmitted.WithLabelValues(event.EventTypeSwapExecuted.String()).Inc()
		c.metrics.SwapsExecuted.WithLabelValues(p.TokenIn, res.TokenOut).Inc()
		c.metrics.SwapDuration.Observe(time.Since(start).Seconds())
		c.metrics.SwapHops.Observe(float64(len(p.Path)))
	}
	c.log.Info().
		Str("token_in", p.TokenIn).
		Str("token_out", res.TokenOut).
		Str("amount_in", p.AmountIn.String()).
		Str("amount_out", res.AmountOut.String()).
		Int("hops", len(p.Path)).
		Msg("swap executed")
	return res, nil
}

// settleSwapFees credits the fee receiver for each hop and records the fee
// events. Only called once the pool tx has committed.
func (c *Core) settleSwapFees(ctx context.Context, hops []swap.HopFees) {
	for _, hop := range hops {
		c.feeReceiver.CreditFee(hop.Market, hop.Token, hop.FeeReceiverAmount)
		c.emitter.Emit(ctx, &event.FeesCollected{
			MarketAddress:     hop.Market,
			Token:             hop.Token,
			Source:            "swap",
			FeeReceiverAmount: hop.FeeReceiverAmount,
			FeesForPool:       hop.FeesForPool,
		})
		if c.metrics != nil {
			c.metrics.EventsEmitted.WithLabelValues(event.EventTypeFeesCollected.String()).Inc()
			if hop.FeeReceiverAmount.Sign() > 0 {
				c.metrics.FeeReceiverCredits.WithLabelValues(hop.Market, "swap").Inc()
			}
		}
	}
}

// restorePosition undoes the engine's store write after a payout-leg
// failure. The pool tx is simply discarded; the store is the one side
// effect that needs compensating.
func (c *Core) restorePosition(snapshot *position.Position, snapErr error, o position.Order) {
	key := position.Key{Account: o.Account, Market: o.Market, CollateralToken: o.CollateralToken, IsLong: o.IsLong}
	var err error
	if snapErr == nil {
		err = c.positions.Set(snapshot)
	} else if errors.Is(snapErr, position.ErrNotFound) {
		err = c.positions.Remove(key)
	}
	if err != nil {
		c.log.Error().Err(err).Stringer("position", key).Msg("failed to restore position after aborted call")
	}
}

func (c *Core) emitDecrease(ctx context.Context, o position.Order, res position.DecreaseResult) {
	c.emitter.Emit(ctx, &event.PositionDecrease{
		Account:         o.Account,
		MarketAddress:   o.Market,
		CollateralToken: o.CollateralToken,
		IsLong:          o.IsLong,
		Liquidation:     o.Kind == position.Liquidation,
		SizeDeltaUsd:    res.SizeDeltaUsd,
		SizeDeltaTokens: res.SizeDeltaTokens,
		ExecutionPrice:  res.ExecutionPrice,
		PnlAmount:       res.PnlAmount,
		OutputToken:     res.OutputToken,
		OutputAmount:    res.OutputAmount,
		Closed:          res.Closed,
	})
	c.emitter.Emit(ctx, &event.FeesCollected{
		MarketAddress:      o.Market,
		Token:              o.CollateralToken,
		Source:             "position",
		FeeReceiverAmount:  res.Fees.FeeReceiverAmount,
		FeesForPool:        res.Fees.FeesForPool,
		FundingFeeAmount:   res.Fees.FundingFeeAmount,
		BorrowingFeeAmount: res.Fees.BorrowingFeeAmount,
	})
	if c.metrics != nil {
		c.metrics.EventsEmitted.WithLabelValues(event.EventTypePositionDecrease.String()).Inc()
		c.metrics.EventsEmitted.WithLabelValues(event.EventTypeFeesCollected.String()).Inc()
		if res.Fees.FeeReceiverAmount.Sign() > 0 {
			c.metrics.FeeReceiverCredits.WithLabelValues(o.Market, "position").Inc()
		}
	}
}

func (c *Core) rejectDecrease(o position.Order, err error) {
	if c.metrics != nil {
		c.metrics.DecreasesRejected.WithLabelValues(o.Market, failureReason(err)).Inc()
		if errors.Is(err, pool.ErrInsufficientReserve) {
			c.metrics.ReserveViolations.WithLabelValues(o.Market).Inc()
		}
		if errors.Is(err, pool.ErrInsufficientPoolBalance) {
			c.metrics.PoolUnderflows.WithLabelValues(o.Market).Inc()
		}
	}
	c.log.Warn().Err(err).
		Str("account", o.Account).
		Str("market", o.Market).
		Str("kind", o.Kind.String()).
		Msg("position decrease rejected")
}

func (c *Core) rejectSwap(p swap.Params, err error) {
	if c.metrics != nil {
		c.metrics.SwapsRejected.WithLabelValues(failureReason(err)).Inc()
	}
	c.log.Warn().Err(err).
		Str("token_in", p.TokenIn).
		Strs("path", p.Path).
		Msg("swap rejected")
}

// failureReason maps the error taxonomy to a stable metric label.
func failureReason(err error) string {
	var priceErr *position.InvalidAcceptablePriceError
	var outputErr *swap.InsufficientSwapOutputAmountError
	switch {
	case errors.Is(err, position.ErrInvalidLiquidation):
		return "invalid_liquidation"
	case errors.Is(err, position.ErrInvalidOrderSize):
		return "invalid_order_size"
	case errors.Is(err, position.ErrInsufficientCollateral):
		return "insufficient_collateral"
	case errors.Is(err, pool.ErrInsufficientPoolBalance):
		return "insufficient_pool_balance"
	case errors.Is(err, pool.ErrInsufficientReserve):
		return "insufficient_reserve"
	case errors.As(err, &priceErr):
		return "invalid_acceptable_price"
	case errors.As(err, &outputErr):
		return "insufficient_swap_output"
	case errors.Is(err, position.ErrNotFound):
		return "position_not_found"
	default:
		return "other"
	}
}
