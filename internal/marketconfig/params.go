package marketconfig

import (
	"fmt"
	"math/big"

	"github.com/sbneo2022/gmx-synthetics/internal/fixedmath"
)

// MarketParams holds the pool-configured economic parameters for one market.
// All fractional fields are fixed-point scaled by fixedmath.FactorScale.
type MarketParams struct {
	Market string

	// Fees
	SwapFeeFactor     *big.Int // fraction of amountIn charged on each hop
	PositionFeeFactor *big.Int // fraction of sizeDeltaUsd charged on decrease
	FeeReceiverFactor *big.Int // share of each fee routed to the fee receiver

	// Price impact. The impact function is quadratic in the USD imbalance:
	// impact(d) = d^2 * factor / FactorScale. The positive factor prices
	// imbalance-reducing actions, the negative factor imbalance-increasing
	// ones. NegativeImpactFactor >= PositiveImpactFactor so a round trip
	// never extracts value.
	PositiveImpactFactor *big.Int
	NegativeImpactFactor *big.Int

	// Solvency
	MaxReserveFactorLong  *big.Int // cap on reservedUsd / poolUsd, long side
	MaxReserveFactorShort *big.Int

	// Position constraints
	MinCollateralUsd    *big.Int // absolute floor on remaining collateral value
	MinCollateralFactor *big.Int // leverage bound: collateralUsd >= size * factor

	// Cost accumulators (per-second rates)
	FundingFactorPerSecond   *big.Int
	BorrowingFactorPerSecond *big.Int
}

// Validate checks parameter sanity before the params are accepted.
func (p *MarketParams) Validate() error {
	one := fixedmath.FactorScale

	for name, f := range map[string]*big.Int{
		"swap_fee_factor":         p.SwapFeeFactor,
		"position_fee_factor":     p.PositionFeeFactor,
		"fee_receiver_factor":     p.FeeReceiverFactor,
		"positive_impact_factor":  p.PositiveImpactFactor,
		"negative_impact_factor":  p.NegativeImpactFactor,
		"max_reserve_long":        p.MaxReserveFactorLong,
		"max_reserve_short":       p.MaxReserveFactorShort,
		"min_collateral_usd":      p.MinCollateralUsd,
		"min_collateral_factor":   p.MinCollateralFactor,
		"funding_factor_per_sec":  p.FundingFactorPerSecond,
		"borrowing_factor_per_sec": p.BorrowingFactorPerSecond,
	} {
		if f == nil {
			return fmt.Errorf("%s is nil for market %s", name, p.Market)
		}
		if f.Sign() < 0 {
			return fmt.Errorf("%s is negative for market %s: %s", name, p.Market, f)
		}
	}

	if p.SwapFeeFactor.Cmp(one) >= 0 {
		return fmt.Errorf("swap_fee_factor must be < 1 for market %s", p.Market)
	}
	if p.PositionFeeFactor.Cmp(one) >= 0 {
		return fmt.Errorf("position_fee_factor must be < 1 for market %s", p.Market)
	}
	if p.FeeReceiverFactor.Cmp(one) > 0 {
		return fmt.Errorf("fee_receiver_factor must be <= 1 for market %s", p.Market)
	}
	if p.NegativeImpactFactor.Cmp(p.PositiveImpactFactor) < 0 {
		return fmt.Errorf("negative_impact_factor below positive_impact_factor for market %s", p.Market)
	}
	if p.MaxReserveFactorLong.Cmp(one) > 0 || p.MaxReserveFactorShort.Cmp(one) > 0 {
		return fmt.Errorf("max_reserve_factor must be <= 1 for market %s", p.Market)
	}
	return nil
}

// MaxReserveFactor returns the reserve cap for one side.
func (p *MarketParams) MaxReserveFactor(isLong bool) *big.Int {
	if isLong {
		return p.MaxReserveFactorLong
	}
	return p.MaxReserveFactorShort
}

// Config resolves parameters per market. It is injected into every component
// that needs configuration — never a process-wide singleton.
type Config interface {
	Params(market string) (*MarketParams, error)
}

// Manager is the in-memory Config implementation.
type Manager struct {
	params map[string]*MarketParams
}

func NewManager() *Manager {
	return &Manager{params: make(map[string]*MarketParams)}
}

// Set validates and stores parameters for a market.
func (m *Manager) Set(p *MarketParams) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid market params: %w", err)
	}
	m.params[p.Market] = p
	return nil
}

func (m *Manager) Params(market string) (*MarketParams, error) {
	p, ok := m.params[market]
	if !ok {
		return nil, fmt.Errorf("no params for market %s", market)
	}
	return p, nil
}

// DefaultParams returns conservative parameters suitable for tests and
// local bootstrap: 0.1% swap fee, 0.05% position fee, 30% fee-receiver
// share, 50% reserve caps, no impact, no funding or borrowing accrual.
func DefaultParams(market string) *MarketParams {
	pct := func(bps int64) *big.Int {
		return fixedmath.MulDiv(fixedmath.FactorScale, fixedmath.New(bps), fixedmath.New(10_000))
	}
	return &MarketParams{
		Market:                   market,
		SwapFeeFactor:            pct(10), // 0.1%
		PositionFeeFactor:        pct(5),  // 0.05%
		FeeReceiverFactor:        pct(3_000),
		PositiveImpactFactor:     fixedmath.Zero(),
		NegativeImpactFactor:     fixedmath.Zero(),
		MaxReserveFactorLong:     pct(5_000),
		MaxReserveFactorShort:    pct(5_000),
		MinCollateralUsd:         fixedmath.Zero(),
		MinCollateralFactor:      fixedmath.Zero(),
		FundingFactorPerSecond:   fixedmath.Zero(),
		BorrowingFactorPerSecond: fixedmath.Zero(),
	}
}
