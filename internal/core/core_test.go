package core_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/sbneo2022/gmx-synthetics/internal/bank"
	"github.com/sbneo2022/gmx-synthetics/internal/core"
	"github.com/sbneo2022/gmx-synthetics/internal/event"
	"github.com/sbneo2022/gmx-synthetics/internal/fixedmath"
	"github.com/sbneo2022/gmx-synthetics/internal/market"
	"github.com/sbneo2022/gmx-synthetics/internal/marketconfig"
	"github.com/sbneo2022/gmx-synthetics/internal/pool"
	"github.com/sbneo2022/gmx-synthetics/internal/position"
	"github.com/sbneo2022/gmx-synthetics/internal/pricing"
	"github.com/sbneo2022/gmx-synthetics/internal/swap"
)

type harness struct {
	core        *core.Core
	ledger      *pool.Ledger
	positions   *position.MemStore
	cfg         *marketconfig.Manager
	bank        *bank.MemBank
	feeReceiver *bank.MemFeeReceiver
	sink        *event.MemSink
	oracle      *pricing.StaticOracle
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	markets := market.NewMemStore()
	for _, m := range []market.Market{
		{Address: "ETH-USDC", IndexToken: "ETH", LongToken: "ETH", ShortToken: "USDC", PoolToken: "ETH-USDC-LP"},
		{Address: "BTC-USDC", IndexToken: "BTC", LongToken: "BTC", ShortToken: "USDC", PoolToken: "BTC-USDC-LP"},
	} {
		if err := markets.Set(m); err != nil {
			t.Fatal(err)
		}
	}
	cfg := marketconfig.NewManager()
	for _, addr := range []string{"ETH-USDC", "BTC-USDC"} {
		p := marketconfig.DefaultParams(addr)
		p.PositionFeeFactor = fixedmath.Zero()
		p.SwapFeeFactor = fixedmath.Zero()
		if err := cfg.Set(p); err != nil {
			t.Fatal(err)
		}
	}

	h := &harness{
		ledger:      pool.NewLedger(),
		positions:   position.NewMemStore(),
		cfg:         cfg,
		bank:        bank.NewMemBank("core"),
		feeReceiver: bank.NewMemFeeReceiver(),
		sink:        &event.MemSink{},
		oracle:      pricing.NewStaticOracle(),
	}
	h.oracle.Set("ETH", pricing.NewPrice(995, 995))
	h.oracle.Set("BTC", pricing.NewPrice(40_000, 40_000))
	h.oracle.Set("USDC", pricing.NewPrice(1, 1))

	h.ledger.SetPoolAmount("ETH-USDC", "USDC", fixedmath.New(100_000))
	h.ledger.SetPoolAmount("ETH-USDC", "ETH", fixedmath.New(1_000))
	h.ledger.SetPoolAmount("BTC-USDC", "USDC", fixedmath.New(1_000_000))
	h.ledger.SetPoolAmount("BTC-USDC", "BTC", fixedmath.New(100))

	h.core = core.New(core.Options{
		Logger:      zerolog.Nop(),
		Ledger:      h.ledger,
		Config:      cfg,
		Markets:     markets,
		Positions:   h.positions,
		Oracle:      h.oracle,
		Bank:        h.bank,
		FeeReceiver: h.feeReceiver,
		Sink:        h.sink,
	})
	return h
}

func (h *harness) seedLong(t *testing.T, collateral int64) {
	t.Helper()
	if err := h.positions.Set(&position.Position{
		Account:          "alice",
		Market:           "ETH-USDC",
		CollateralToken:  "USDC",
		IsLong:           true,
		SizeInUsd:        fixedmath.New(10_000),
		SizeInTokens:     fixedmath.New(10),
		CollateralAmount: fixedmath.New(collateral),
		FundingFactor:    fixedmath.Zero(),
		BorrowingFactor:  fixedmath.Zero(),
	}); err != nil {
		t.Fatal(err)
	}
	h.ledger.SetCollateralSum("ETH-USDC", "USDC", fixedmath.New(collateral))
	h.ledger.SetOpenInterest("ETH-USDC", true, fixedmath.New(10_000), fixedmath.New(10))
}

func TestCore_DecreasePaysReceiverAndEmits(t *testing.T) {
	h := newHarness(t)
	h.seedLong(t, 1_000)

	res, err := h.core.DecreasePosition(context.Background(), position.Order{
		Kind:                         position.MarketDecrease,
		Account:                      "alice",
		Market:                       "ETH-USDC",
		CollateralToken:              "USDC",
		IsLong:                       true,
		SizeDeltaUsd:                 fixedmath.New(10_000),
		InitialCollateralDeltaAmount: fixedmath.Zero(),
		Receiver:                     "alice",
	}, 42)
	if err != nil {
		t.Fatal(err)
	}
	if res.OutputAmount.Int64() != 950 {
		t.Errorf("output: got %s, want 950", res.OutputAmount)
	}
	if got := h.bank.Outflow("alice", "USDC").Int64(); got != 950 {
		t.Errorf("bank outflow: got %d, want 950", got)
	}
	if n := len(h.sink.ByType(event.EventTypePositionDecrease)); n != 1 {
		t.Errorf("decrease events: got %d, want 1", n)
	}
	if n := len(h.sink.ByType(event.EventTypeFeesCollected)); n != 1 {
		t.Errorf("fee events: got %d, want 1", n)
	}
	// Sequences are monotonic from 1.
	if h.sink.Recorded[0].Sequence != 1 || h.sink.Recorded[1].Sequence != 2 {
		t.Errorf("sequences: %d, %d", h.sink.Recorded[0].Sequence, h.sink.Recorded[1].Sequence)
	}
}

func TestCore_DecreaseRoutesOutputThroughSwapPath(t *testing.T) {
	h := newHarness(t)
	h.seedLong(t, 1_000)

	res, err := h.core.DecreasePosition(context.Background(), position.Order{
		Kind:                         position.MarketDecrease,
		Account:                      "alice",
		Market:                       "ETH-USDC",
		CollateralToken:              "USDC",
		IsLong:                       true,
		SizeDeltaUsd:                 fixedmath.New(10_000),
		InitialCollateralDeltaAmount: fixedmath.Zero(),
		Receiver:                     "alice",
		SwapPath:                     []string{"BTC-USDC"},
	}, 42)
	if err != nil {
		t.Fatal(err)
	}
	if res.OutputAmount.Int64() != 950 {
		t.Errorf("settlement output: got %s, want 950", res.OutputAmount)
	}
	// 950 USDC at BTC 40_000 truncates to 0 whole units, so nothing is
	// paid out, but the pool credit still happened.
	if got := h.bank.Outflow("alice", "BTC").Int64(); got != 0 {
		t.Errorf("BTC outflow: got %d", got)
	}
	if got := h.ledger.PoolAmount("BTC-USDC", "USDC").Int64(); got != 1_000_000+950 {
		t.Errorf("swap pool credited: got %d, want %d", got, 1_000_000+950)
	}
}

func TestCore_FailedDecreaseLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	h.seedLong(t, 40)
	// Loss of 100 exceeds collateral on a market order.

	_, err := h.core.DecreasePosition(context.Background(), position.Order{
		Kind:                         position.MarketDecrease,
		Account:                      "alice",
		Market:                       "ETH-USDC",
		CollateralToken:              "USDC",
		IsLong:                       true,
		SizeDeltaUsd:                 fixedmath.New(10_000),
		InitialCollateralDeltaAmount: fixedmath.Zero(),
		Receiver:                     "alice",
	}, 42)
	if err == nil {
		t.Fatal("want error")
	}
	if got := h.ledger.PoolAmount("ETH-USDC", "USDC").Int64(); got != 100_000 {
		t.Errorf("pool mutated: %d", got)
	}
	p, perr := h.positions.Get(position.Key{Account: "alice", Market: "ETH-USDC", CollateralToken: "USDC", IsLong: true})
	if perr != nil {
		t.Fatal(perr)
	}
	if p.SizeInUsd.Int64() != 10_000 || p.CollateralAmount.Int64() != 40 {
		t.Errorf("position mutated: size %s collateral %s", p.SizeInUsd, p.CollateralAmount)
	}
	if len(h.sink.Recorded) != 0 {
		t.Errorf("events emitted for failed call: %d", len(h.sink.Recorded))
	}
}

func TestCore_SwapPathFailureRestoresPosition(t *testing.T) {
	h := newHarness(t)
	h.seedLong(t, 1_000)

	_, err := h.core.DecreasePosition(context.Background(), position.Order{
		Kind:                         position.MarketDecrease,
		Account:                      "alice",
		Market:                       "ETH-USDC",
		CollateralToken:              "USDC",
		IsLong:                       true,
		SizeDeltaUsd:                 fixedmath.New(10_000),
		InitialCollateralDeltaAmount: fixedmath.Zero(),
		Receiver:                     "alice",
		SwapPath:                     []string{"BTC-USDC"},
		MinOutputAmount:              fixedmath.New(1), // 950 USDC buys 0 whole BTC
	}, 42)
	var outputErr *swap.InsufficientSwapOutputAmountError
	if !errors.As(err, &outputErr) {
		t.Fatalf("want InsufficientSwapOutputAmountError, got %v", err)
	}
	// The engine's position removal was compensated.
	p, perr := h.positions.Get(position.Key{Account: "alice", Market: "ETH-USDC", CollateralToken: "USDC", IsLong: true})
	if perr != nil {
		t.Fatalf("position not restored: %v", perr)
	}
	if p.SizeInUsd.Int64() != 10_000 {
		t.Errorf("restored size: %s", p.SizeInUsd)
	}
	if got := h.ledger.PoolAmount("ETH-USDC", "USDC").Int64(); got != 100_000 {
		t.Errorf("pool mutated: %d", got)
	}
}

// enableDefaultFees restores the stock fee schedule on a market.
func (h *harness) enableDefaultFees(t *testing.T, addr string) {
	t.Helper()
	if err := h.cfg.Set(marketconfig.DefaultParams(addr)); err != nil {
		t.Fatal(err)
	}
}

func TestCore_SwapCreditsFeeReceiverOnCommit(t *testing.T) {
	h := newHarness(t)
	h.enableDefaultFees(t, "ETH-USDC")

	// 0.1% fee on 10_000 is 10; the receiver's 30% share is 3.
	res, err := h.core.Swap(context.Background(), swap.Params{
		TokenIn:  "USDC",
		AmountIn: fixedmath.New(10_000),
		Path:     []string{"ETH-USDC"},
		Receiver: "bob",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.AmountOut.Int64() != 10 {
		t.Errorf("amount out: got %s, want 10", res.AmountOut)
	}
	if got := h.feeReceiver.Credited("ETH-USDC", "USDC").Int64(); got != 3 {
		t.Errorf("fee receiver: got %d, want 3", got)
	}
	if n := len(h.sink.ByType(event.EventTypeFeesCollected)); n != 1 {
		t.Errorf("fee events: got %d, want 1", n)
	}
}

func TestCore_AbortedSwapCreditsNoFees(t *testing.T) {
	h := newHarness(t)
	h.enableDefaultFees(t, "ETH-USDC")

	// The min-output check fires after every hop has charged its fee; none
	// of those fees may survive the abort.
	_, err := h.core.Swap(context.Background(), swap.Params{
		TokenIn:         "USDC",
		AmountIn:        fixedmath.New(10_000),
		Path:            []string{"ETH-USDC"},
		MinOutputAmount: fixedmath.New(10_001),
		Receiver:        "bob",
	})
	var outputErr *swap.InsufficientSwapOutputAmountError
	if !errors.As(err, &outputErr) {
		t.Fatalf("want InsufficientSwapOutputAmountError, got %v", err)
	}
	if got := h.feeReceiver.Credited("ETH-USDC", "USDC").Int64(); got != 0 {
		t.Errorf("fee receiver credited on aborted swap: %d", got)
	}
	if got := h.ledger.PoolAmount("ETH-USDC", "USDC").Int64(); got != 100_000 {
		t.Errorf("pool mutated: %d", got)
	}
	if len(h.sink.Recorded) != 0 {
		t.Errorf("events emitted for failed call: %d", len(h.sink.Recorded))
	}
}

func TestCore_DecreaseCreditsFeeReceiverOnCommit(t *testing.T) {
	h := newHarness(t)
	h.enableDefaultFees(t, "ETH-USDC")
	h.seedLong(t, 1_000)

	// Closing fee: 5 on a 10_000 close, receiver share 1.
	res, err := h.core.DecreasePosition(context.Background(), position.Order{
		Kind:                         position.MarketDecrease,
		Account:                      "alice",
		Market:                       "ETH-USDC",
		CollateralToken:              "USDC",
		IsLong:                       true,
		SizeDeltaUsd:                 fixedmath.New(10_000),
		InitialCollateralDeltaAmount: fixedmath.Zero(),
		Receiver:                     "alice",
	}, 42)
	if err != nil {
		t.Fatal(err)
	}
	if res.OutputAmount.Int64() != 945 {
		t.Errorf("output: got %s, want 945", res.OutputAmount)
	}
	if got := h.feeReceiver.Credited("ETH-USDC", "USDC").Int64(); got != 1 {
		t.Errorf("fee receiver: got %d, want 1", got)
	}
}

func TestCore_FailedDecreaseCreditsNoFees(t *testing.T) {
	h := newHarness(t)
	h.enableDefaultFees(t, "ETH-USDC")
	h.seedLong(t, 40)
	// The 100 loss plus the closing fee exceeds the collateral.

	_, err := h.core.DecreasePosition(context.Background(), position.Order{
		Kind:                         position.MarketDecrease,
		Account:                      "alice",
		Market:                       "ETH-USDC",
		CollateralToken:              "USDC",
		IsLong:                       true,
		SizeDeltaUsd:                 fixedmath.New(10_000),
		InitialCollateralDeltaAmount: fixedmath.Zero(),
		Receiver:                     "alice",
	}, 42)
	if !errors.Is(err, position.ErrInsufficientCollateral) {
		t.Fatalf("want ErrInsufficientCollateral, got %v", err)
	}
	if got := h.feeReceiver.Credited("ETH-USDC", "USDC").Int64(); got != 0 {
		t.Errorf("fee receiver credited on failed decrease: %d", got)
	}
}

func TestCore_SwapPaysReceiver(t *testing.T) {
	h := newHarness(t)

	res, err := h.core.Swap(context.Background(), swap.Params{
		TokenIn:         "USDC",
		AmountIn:        fixedmath.New(80_000),
		Path:            []string{"BTC-USDC"},
		MinOutputAmount: fixedmath.New(2),
		Receiver:        "bob",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.TokenOut != "BTC" || res.AmountOut.Int64() != 2 {
		t.Errorf("swap result: %s %s", res.TokenOut, res.AmountOut)
	}
	if got := h.bank.Outflow("bob", "BTC").Int64(); got != 2 {
		t.Errorf("outflow: got %d, want 2", got)
	}
	if n := len(h.sink.ByType(event.EventTypeSwapExecuted)); n != 1 {
		t.Errorf("swap events: got %d, want 1", n)
	}
}
