package swap_test

import (
	"errors"
	"testing"

	"github.com/sbneo2022/gmx-synthetics/internal/fixedmath"
	"github.com/sbneo2022/gmx-synthetics/internal/market"
	"github.com/sbneo2022/gmx-synthetics/internal/marketconfig"
	"github.com/sbneo2022/gmx-synthetics/internal/pool"
	"github.com/sbneo2022/gmx-synthetics/internal/pricing"
	"github.com/sbneo2022/gmx-synthetics/internal/swap"
)

type fixture struct {
	markets *market.MemStore
	cfg     *marketconfig.Manager
	ledger  *pool.Ledger
	oracle  *pricing.StaticOracle
	engine  *swap.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		markets: market.NewMemStore(),
		cfg:     marketconfig.NewManager(),
		ledger:  pool.NewLedger(),
		oracle:  pricing.NewStaticOracle(),
	}
	f.engine = swap.NewEngine(f.markets, f.cfg)
	return f
}

func (f *fixture) addMarket(t *testing.T, addr, index, long, short string) {
	t.Helper()
	if err := f.markets.Set(market.Market{
		Address: addr, IndexToken: index, LongToken: long, ShortToken: short, PoolToken: addr + "-LP",
	}); err != nil {
		t.Fatal(err)
	}
	if err := f.cfg.Set(marketconfig.DefaultParams(addr)); err != nil {
		t.Fatal(err)
	}
}

func TestSwap_SingleHopFeeOnly(t *testing.T) {
	f := newFixture(t)
	f.addMarket(t, "ETH-USDC", "ETH", "ETH", "USDC")
	f.oracle.Set("ETH", pricing.NewPrice(1, 1))
	f.oracle.Set("USDC", pricing.NewPrice(1, 1))
	f.ledger.SetPoolAmount("ETH-USDC", "ETH", fixedmath.New(100_000))
	f.ledger.SetPoolAmount("ETH-USDC", "USDC", fixedmath.New(100_000))

	tx := pool.NewTx(f.ledger, f.cfg)
	res, err := f.engine.Swap(tx, f.oracle, swap.Params{
		TokenIn:         "ETH",
		AmountIn:        fixedmath.New(1_000),
		Path:            []string{"ETH-USDC"},
		MinOutputAmount: fixedmath.New(999),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.TokenOut != "USDC" {
		t.Errorf("token out: got %s, want USDC", res.TokenOut)
	}
	// 0.1% fee on 1000 leaves 999 at equal prices with no impact.
	if res.AmountOut.Int64() != 999 {
		t.Errorf("amount out: got %s, want 999", res.AmountOut)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	// Pool gains the net input plus its fee share, loses the output.
	wantIn := int64(100_000 + 999 + 1) // fee is 1, receiver share truncates to 0
	if got := f.ledger.PoolAmount("ETH-USDC", "ETH").Int64(); got != wantIn {
		t.Errorf("tokenIn pool: got %d, want %d", got, wantIn)
	}
	if got := f.ledger.PoolAmount("ETH-USDC", "USDC").Int64(); got != 100_000-999 {
		t.Errorf("tokenOut pool: got %d, want %d", got, 100_000-999)
	}
}

func TestSwap_MultiHopChainsOutput(t *testing.T) {
	f := newFixture(t)
	f.addMarket(t, "ETH-USDC", "ETH", "ETH", "USDC")
	f.addMarket(t, "BTC-USDC", "BTC", "BTC", "USDC")
	f.oracle.Set("ETH", pricing.NewPrice(2_000, 2_000))
	f.oracle.Set("USDC", pricing.NewPrice(1, 1))
	f.oracle.Set("BTC", pricing.NewPrice(40_000, 40_000))
	for _, m := range []string{"ETH-USDC", "BTC-USDC"} {
		f.ledger.SetPoolAmount(m, "USDC", fixedmath.New(10_000_000))
	}
	f.ledger.SetPoolAmount("ETH-USDC", "ETH", fixedmath.New(5_000))
	f.ledger.SetPoolAmount("BTC-USDC", "BTC", fixedmath.New(250))

	tx := pool.NewTx(f.ledger, f.cfg)
	res, err := f.engine.Swap(tx, f.oracle, swap.Params{
		TokenIn:  "ETH",
		AmountIn: fixedmath.New(100),
		Path:     []string{"ETH-USDC", "BTC-USDC"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.TokenOut != "BTC" {
		t.Errorf("token out: got %s, want BTC", res.TokenOut)
	}
	// Hop 1: 100 ETH, fee 0.1% -> 99.9 truncates within fee math:
	// fee = 0 (0.1% of 100 truncates to 0)... fee = 100*10/10000 = 0.1 -> 0.
	// With integer amounts the fee rounds down to zero, so 100 ETH ->
	// 200_000 USDC. Hop 2: fee 0.1% of 200_000 = 200, receiver 60, pool 140,
	// 199_800 USDC -> 4 BTC (truncating at 40_000).
	if res.AmountOut.Int64() != 4 {
		t.Errorf("amount out: got %s, want 4", res.AmountOut)
	}
	if len(res.Fees) != 2 {
		t.Fatalf("want fee records for both hops, got %d", len(res.Fees))
	}
	if res.Fees[1].FeeReceiverAmount.Int64() != 60 || res.Fees[1].FeesForPool.Int64() != 140 {
		t.Errorf("hop2 fee split: receiver %s, pool %s", res.Fees[1].FeeReceiverAmount, res.Fees[1].FeesForPool)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	// Intermediate USDC never leaves the system: hop 1's output became hop
	// 2's pool credit.
	if got := f.ledger.PoolAmount("ETH-USDC", "USDC").Int64(); got != 10_000_000-200_000 {
		t.Errorf("hop1 USDC pool: got %d", got)
	}
	if got := f.ledger.PoolAmount("BTC-USDC", "USDC").Int64(); got != 10_000_000+199_800+140 {
		t.Errorf("hop2 USDC pool: got %d", got)
	}
	// The receiver's 60 stays out of the pool; the record is the caller's
	// instruction to credit it after commit.
	if got := fixedmath.Add(res.Fees[0].FeeReceiverAmount, res.Fees[1].FeeReceiverAmount).Int64(); got != 60 {
		t.Errorf("total receiver share: got %d, want 60", got)
	}
}

func TestSwap_PathMatchesComposedSingleHops(t *testing.T) {
	seed := func() *fixture {
		f := newFixture(t)
		f.addMarket(t, "ETH-USDC", "ETH", "ETH", "USDC")
		f.addMarket(t, "BTC-USDC", "BTC", "BTC", "USDC")
		f.oracle.Set("ETH", pricing.NewPrice(2_000, 2_000))
		f.oracle.Set("USDC", pricing.NewPrice(1, 1))
		f.oracle.Set("BTC", pricing.NewPrice(40_000, 40_000))
		for _, m := range []string{"ETH-USDC", "BTC-USDC"} {
			f.ledger.SetPoolAmount(m, "USDC", fixedmath.New(10_000_000))
		}
		f.ledger.SetPoolAmount("ETH-USDC", "ETH", fixedmath.New(5_000))
		f.ledger.SetPoolAmount("BTC-USDC", "BTC", fixedmath.New(250))
		return f
	}

	routed := seed()
	tx := pool.NewTx(routed.ledger, routed.cfg)
	res, err := routed.engine.Swap(tx, routed.oracle, swap.Params{
		TokenIn:  "ETH",
		AmountIn: fixedmath.New(100),
		Path:     []string{"ETH-USDC", "BTC-USDC"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	composed := seed()
	tx1 := pool.NewTx(composed.ledger, composed.cfg)
	mid, err := composed.engine.Swap(tx1, composed.oracle, swap.Params{
		TokenIn:  "ETH",
		AmountIn: fixedmath.New(100),
		Path:     []string{"ETH-USDC"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := tx1.Commit(); err != nil {
		t.Fatal(err)
	}
	tx2 := pool.NewTx(composed.ledger, composed.cfg)
	final, err := composed.engine.Swap(tx2, composed.oracle, swap.Params{
		TokenIn:  mid.TokenOut,
		AmountIn: mid.AmountOut,
		Path:     []string{"BTC-USDC"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatal(err)
	}

	// Routing through [A, B] is exactly hop-by-hop composition.
	if res.TokenOut != final.TokenOut {
		t.Errorf("token out: routed %s, composed %s", res.TokenOut, final.TokenOut)
	}
	if res.AmountOut.Cmp(final.AmountOut) != 0 {
		t.Errorf("amount out: routed %s, composed %s", res.AmountOut, final.AmountOut)
	}
	for _, mt := range []struct{ market, token string }{
		{"ETH-USDC", "ETH"}, {"ETH-USDC", "USDC"},
		{"BTC-USDC", "USDC"}, {"BTC-USDC", "BTC"},
	} {
		got := composed.ledger.PoolAmount(mt.market, mt.token)
		want := routed.ledger.PoolAmount(mt.market, mt.token)
		if got.Cmp(want) != 0 {
			t.Errorf("%s %s pool: routed %s, composed %s", mt.market, mt.token, want, got)
		}
	}
}

func TestSwap_MinOutputCheckedOnceAtEnd(t *testing.T) {
	f := newFixture(t)
	f.addMarket(t, "ETH-USDC", "ETH", "ETH", "USDC")
	f.oracle.Set("ETH", pricing.NewPrice(1, 1))
	f.oracle.Set("USDC", pricing.NewPrice(1, 1))
	f.ledger.SetPoolAmount("ETH-USDC", "ETH", fixedmath.New(100_000))
	f.ledger.SetPoolAmount("ETH-USDC", "USDC", fixedmath.New(100_000))

	tx := pool.NewTx(f.ledger, f.cfg)
	_, err := f.engine.Swap(tx, f.oracle, swap.Params{
		TokenIn:         "ETH",
		AmountIn:        fixedmath.New(1_000),
		Path:            []string{"ETH-USDC"},
		MinOutputAmount: fixedmath.New(1_000),
	})
	var insufficient *swap.InsufficientSwapOutputAmountError
	if !errors.As(err, &insufficient) {
		t.Fatalf("want InsufficientSwapOutputAmountError, got %v", err)
	}
	if insufficient.Actual.Int64() != 999 || insufficient.Min.Int64() != 1_000 {
		t.Errorf("error payload: actual=%s min=%s", insufficient.Actual, insufficient.Min)
	}
}

func TestSwap_DuplicateMarketRejected(t *testing.T) {
	f := newFixture(t)
	f.addMarket(t, "ETH-USDC", "ETH", "ETH", "USDC")
	f.oracle.Set("ETH", pricing.NewPrice(1, 1))
	f.oracle.Set("USDC", pricing.NewPrice(1, 1))

	tx := pool.NewTx(f.ledger, f.cfg)
	_, err := f.engine.Swap(tx, f.oracle, swap.Params{
		TokenIn:  "ETH",
		AmountIn: fixedmath.New(100),
		Path:     []string{"ETH-USDC", "ETH-USDC"},
	})
	if err == nil {
		t.Fatal("want error for duplicate market in path")
	}
}

func TestSwap_NegativeImpactFeedsImpactPool(t *testing.T) {
	f := newFixture(t)
	f.addMarket(t, "ETH-USDC", "ETH", "ETH", "USDC")
	params := marketconfig.DefaultParams("ETH-USDC")
	params.NegativeImpactFactor = fixedmath.Quo(fixedmath.FactorScale, fixedmath.New(10_000_000))
	if err := f.cfg.Set(params); err != nil {
		t.Fatal(err)
	}
	f.oracle.Set("ETH", pricing.NewPrice(1, 1))
	f.oracle.Set("USDC", pricing.NewPrice(1, 1))
	// Pool already heavy on ETH, so swapping ETH in grows the imbalance.
	f.ledger.SetPoolAmount("ETH-USDC", "ETH", fixedmath.New(60_000))
	f.ledger.SetPoolAmount("ETH-USDC", "USDC", fixedmath.New(40_000))

	tx := pool.NewTx(f.ledger, f.cfg)
	res, err := f.engine.Swap(tx, f.oracle, swap.Params{
		TokenIn:  "ETH",
		AmountIn: fixedmath.New(1_000),
		Path:     []string{"ETH-USDC"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	impact := f.ledger.ImpactPoolAmount("ETH-USDC", "ETH")
	if impact.Sign() <= 0 {
		t.Fatal("imbalancing swap must credit the impact pool")
	}
	// The deduction came out of the trader's output one for one.
	if got := fixedmath.Add(res.AmountOut, impact).Int64(); got != 999 {
		t.Errorf("output + impact deduction: got %d, want 999", got)
	}
}

func TestSwap_PositiveImpactCappedByImpactPool(t *testing.T) {
	f := newFixture(t)
	f.addMarket(t, "ETH-USDC", "ETH", "ETH", "USDC")
	params := marketconfig.DefaultParams("ETH-USDC")
	params.PositiveImpactFactor = fixedmath.Quo(fixedmath.FactorScale, fixedmath.New(10_000_000))
	params.NegativeImpactFactor = fixedmath.Copy(params.PositiveImpactFactor)
	if err := f.cfg.Set(params); err != nil {
		t.Fatal(err)
	}
	f.oracle.Set("ETH", pricing.NewPrice(1, 1))
	f.oracle.Set("USDC", pricing.NewPrice(1, 1))
	// Pool heavy on USDC; swapping ETH in rebalances and earns impact, but
	// the USDC impact pool only holds 2 tokens.
	f.ledger.SetPoolAmount("ETH-USDC", "ETH", fixedmath.New(40_000))
	f.ledger.SetPoolAmount("ETH-USDC", "USDC", fixedmath.New(60_000))
	f.ledger.SetImpactPoolAmount("ETH-USDC", "USDC", fixedmath.New(2))

	tx := pool.NewTx(f.ledger, f.cfg)
	res, err := f.engine.Swap(tx, f.oracle, swap.Params{
		TokenIn:  "ETH",
		AmountIn: fixedmath.New(10_000),
		Path:     []string{"ETH-USDC"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	// Base output is 9990 after the 0.1% fee; the bonus cannot exceed the
	// impact pool balance.
	if res.AmountOut.Int64() != 9_990+2 {
		t.Errorf("amount out: got %s, want %d", res.AmountOut, 9_990+2)
	}
	if got := f.ledger.ImpactPoolAmount("ETH-USDC", "USDC").Int64(); got != 0 {
		t.Errorf("impact pool should be drained, has %d", got)
	}
}

func TestSwap_ReserveViolationAborts(t *testing.T) {
	f := newFixture(t)
	f.addMarket(t, "ETH-USDC", "ETH", "ETH", "USDC")
	f.oracle.Set("ETH", pricing.NewPrice(1, 1))
	f.oracle.Set("USDC", pricing.NewPrice(1, 1))
	f.ledger.SetPoolAmount("ETH-USDC", "ETH", fixedmath.New(100_000))
	f.ledger.SetPoolAmount("ETH-USDC", "USDC", fixedmath.New(100_000))
	// Short side open interest sits right at the 50% cap; draining USDC
	// shrinks poolUsd below what the cap requires.
	f.ledger.SetOpenInterest("ETH-USDC", false, fixedmath.New(50_000), fixedmath.New(50_000))

	tx := pool.NewTx(f.ledger, f.cfg)
	_, err := f.engine.Swap(tx, f.oracle, swap.Params{
		TokenIn:  "ETH",
		AmountIn: fixedmath.New(10_000),
		Path:     []string{"ETH-USDC"},
	})
	if !errors.Is(err, pool.ErrInsufficientReserve) {
		t.Fatalf("want ErrInsufficientReserve, got %v", err)
	}
	// Tx discarded: the committed ledger never saw the partial hop.
	if got := f.ledger.PoolAmount("ETH-USDC", "ETH").Int64(); got != 100_000 {
		t.Errorf("ledger mutated after aborted swap: %d", got)
	}
}
