package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sbneo2022/gmx-synthetics/internal/fixedmath"
	"github.com/sbneo2022/gmx-synthetics/internal/observability"
	"github.com/sbneo2022/gmx-synthetics/internal/position"
	"github.com/sbneo2022/gmx-synthetics/internal/testutil"
)

func setupStores(t *testing.T) (*PositionStore, *MarketStore, *SettlementLogWriter, func()) {
	t.Helper()
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)

	migrator := NewMigrator(db, "../../migrations", observability.NewLogger("test"))
	if err := migrator.Up(context.Background()); err != nil {
		cleanup()
		t.Fatalf("migrate: %v", err)
	}

	return NewPositionStore(db), NewMarketStore(db), NewSettlementLogWriter(db), cleanup
}

func TestPositionStoreRoundTrip(t *testing.T) {
	positions, _, _, cleanup := setupStores(t)
	defer cleanup()

	p := &position.Position{
		Account:          "alice",
		Market:           "ETH-USDC",
		CollateralToken:  "USDC",
		IsLong:           true,
		SizeInUsd:        fixedmath.New(10_000),
		SizeInTokens:     fixedmath.New(10),
		CollateralAmount: fixedmath.New(1_000),
		FundingFactor:    fixedmath.Zero(),
		BorrowingFactor:  fixedmath.Zero(),
		IncreasedAtBlock: 5,
	}
	if err := positions.Set(p); err != nil {
		t.Fatal(err)
	}

	got, err := positions.Get(p.Key())
	if err != nil {
		t.Fatal(err)
	}
	if got.SizeInUsd.Cmp(p.SizeInUsd) != 0 || got.CollateralAmount.Cmp(p.CollateralAmount) != 0 {
		t.Errorf("round trip changed amounts: %s / %s", got.SizeInUsd, got.CollateralAmount)
	}
	if got.IncreasedAtBlock != 5 {
		t.Errorf("block stamp: %d", got.IncreasedAtBlock)
	}

	// Upsert replaces, not duplicates.
	p.SizeInUsd = fixedmath.New(8_000)
	p.SizeInTokens = fixedmath.New(8)
	if err := positions.Set(p); err != nil {
		t.Fatal(err)
	}
	got, err = positions.Get(p.Key())
	if err != nil {
		t.Fatal(err)
	}
	if got.SizeInUsd.Int64() != 8_000 {
		t.Errorf("upsert: %s", got.SizeInUsd)
	}

	if err := positions.Remove(p.Key()); err != nil {
		t.Fatal(err)
	}
	if _, err := positions.Get(p.Key()); !errors.Is(err, position.ErrNotFound) {
		t.Errorf("want ErrNotFound after remove, got %v", err)
	}
}

func TestSettlementLogWriterIdempotent(t *testing.T) {
	_, _, writer, cleanup := setupStores(t)
	defer cleanup()

	ctx := context.Background()
	row := EventRow{
		Sequence:  1,
		EventID:   uuid.NewString(),
		EventType: "PositionDecrease",
		Market:    "ETH-USDC",
		Payload:   []byte(`{"account":"alice"}`),
		Timestamp: time.Now().UTC(),
	}

	if err := writer.WriteBatch(ctx, []EventRow{row}); err != nil {
		t.Fatal(err)
	}
	// A replayed batch after a crash must not duplicate rows.
	if err := writer.WriteBatch(ctx, []EventRow{row}); err != nil {
		t.Fatal(err)
	}

	var count int
	if err := writer.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM settlement_log.events WHERE sequence = 1`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("want 1 row after replay, got %d", count)
	}
}

func TestMarketStoreList(t *testing.T) {
	_, markets, _, cleanup := setupStores(t)
	defer cleanup()

	_, err := markets.db.Exec(`
		INSERT INTO settlement_log.markets (address, index_token, long_token, short_token, pool_token)
		VALUES ('ETH-USDC', 'ETH', 'ETH', 'USDC', 'GM-ETH-USDC')`)
	if err != nil {
		t.Fatal(err)
	}

	m, err := markets.Get("ETH-USDC")
	if err != nil {
		t.Fatal(err)
	}
	if m.LongToken != "ETH" || m.ShortToken != "USDC" {
		t.Errorf("descriptor: %+v", m)
	}

	all, err := markets.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("want 1 market, got %d", len(all))
	}
}
