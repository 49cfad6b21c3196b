package pricing

import (
	"fmt"
	"math/big"

	"github.com/sbneo2022/gmx-synthetics/internal/fixedmath"
)

// Price is the (min, max) valuation bound for a token over the current
// window. Values follow the oracle convention usd = amount * price, with the
// per-token decimal scaling already folded into the price.
type Price struct {
	Min *big.Int
	Max *big.Int
}

// NewPrice builds a validated price from int64 bounds (test helper friendly).
func NewPrice(min, max int64) Price {
	return Price{Min: fixedmath.New(min), Max: fixedmath.New(max)}
}

// Validate checks the bounds are usable: non-negative and ordered.
func (p Price) Validate() error {
	if p.Min == nil || p.Max == nil {
		return fmt.Errorf("price has nil bound")
	}
	if p.Min.Sign() < 0 {
		return fmt.Errorf("price min is negative: %s", p.Min)
	}
	if p.Max.Cmp(p.Min) < 0 {
		return fmt.Errorf("price max %s below min %s", p.Max, p.Min)
	}
	return nil
}

// Mid returns the arithmetic mean of the bounds, truncating. Used as the
// input to impact computations; settlement legs use Min/Max directly.
func (p Price) Mid() *big.Int {
	sum := fixedmath.Add(p.Min, p.Max)
	return sum.Quo(sum, big.NewInt(2))
}

// Pick returns the bound unfavorable to the pool's counterparty: maximize
// when valuing what the pool receives, minimize when valuing what it pays.
func (p Price) Pick(maximize bool) *big.Int {
	if maximize {
		return p.Max
	}
	return p.Min
}

// IsZero reports an empty price (no oracle value).
func (p Price) IsZero() bool {
	return p.Min == nil || p.Max == nil || (p.Min.Sign() == 0 && p.Max.Sign() == 0)
}

// Oracle supplies per-token prices for one settlement call. Implementations
// are external collaborators; prices must already be staleness-validated by
// the caller before the core runs.
type Oracle interface {
	// GetPrice returns the execution-price bounds for a token.
	GetPrice(token string) (Price, error)

	// GetPrimaryPrice returns the bounds used for index-token valuation
	// (reserve checks, liquidation predicate). May equal GetPrice.
	GetPrimaryPrice(token string) (Price, error)
}

// StaticOracle is a map-backed Oracle for tests and local wiring.
type StaticOracle struct {
	Prices map[string]Price
}

func NewStaticOracle() *StaticOracle {
	return &StaticOracle{Prices: make(map[string]Price)}
}

func (o *StaticOracle) Set(token string, p Price) {
	o.Prices[token] = p
}

func (o *StaticOracle) GetPrice(token string) (Price, error) {
	p, ok := o.Prices[token]
	if !ok {
		return Price{}, fmt.Errorf("no price for token %s", token)
	}
	return p, nil
}

func (o *StaticOracle) GetPrimaryPrice(token string) (Price, error) {
	return o.GetPrice(token)
}
