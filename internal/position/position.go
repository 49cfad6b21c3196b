package position

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/sbneo2022/gmx-synthetics/internal/fixedmath"
)

// Key identifies the single position an account may hold per
// (market, collateral token, side).
type Key struct {
	Account         string
	Market          string
	CollateralToken string
	IsLong          bool
}

func (k Key) String() string {
	side := "short"
	if k.IsLong {
		side = "long"
	}
	return fmt.Sprintf("%s/%s/%s/%s", k.Account, k.Market, k.CollateralToken, side)
}

// Position is the mutable record of one open position. SizeInUsd and
// SizeInTokens reach zero together; either being zero means the position is
// closed and removed. FundingFactor and BorrowingFactor are the market
// accumulator snapshots captured at the last update; costs settle by the
// delta against the current accumulators.
type Position struct {
	Account         string
	Market          string
	CollateralToken string
	IsLong          bool

	SizeInUsd        *big.Int
	SizeInTokens     *big.Int
	CollateralAmount *big.Int

	FundingFactor   *big.Int
	BorrowingFactor *big.Int

	IncreasedAtBlock int64
	DecreasedAtBlock int64
}

func (p *Position) Key() Key {
	return Key{Account: p.Account, Market: p.Market, CollateralToken: p.CollateralToken, IsLong: p.IsLong}
}

// IsClosed reports whether the position has been fully decreased.
func (p *Position) IsClosed() bool {
	return p.SizeInUsd.Sign() == 0 || p.SizeInTokens.Sign() == 0
}

// Validate checks the record invariants.
func (p *Position) Validate() error {
	if p.SizeInUsd == nil || p.SizeInTokens == nil || p.CollateralAmount == nil {
		return fmt.Errorf("position %s has nil amount", p.Key())
	}
	if p.SizeInUsd.Sign() < 0 || p.SizeInTokens.Sign() < 0 {
		return fmt.Errorf("position %s has negative size", p.Key())
	}
	if p.CollateralAmount.Sign() < 0 {
		return fmt.Errorf("position %s has negative collateral", p.Key())
	}
	if (p.SizeInUsd.Sign() == 0) != (p.SizeInTokens.Sign() == 0) {
		return fmt.Errorf("position %s has inconsistent size: %s usd, %s tokens",
			p.Key(), p.SizeInUsd, p.SizeInTokens)
	}
	return nil
}

func (p *Position) clone() *Position {
	return &Position{
		Account:          p.Account,
		Market:           p.Market,
		CollateralToken:  p.CollateralToken,
		IsLong:           p.IsLong,
		SizeInUsd:        fixedmath.Copy(p.SizeInUsd),
		SizeInTokens:     fixedmath.Copy(p.SizeInTokens),
		CollateralAmount: fixedmath.Copy(p.CollateralAmount),
		FundingFactor:    fixedmath.Copy(p.FundingFactor),
		BorrowingFactor:  fixedmath.Copy(p.BorrowingFactor),
		IncreasedAtBlock: p.IncreasedAtBlock,
		DecreasedAtBlock: p.DecreasedAtBlock,
	}
}

// Store owns position persistence. The engine reads a snapshot, computes new
// values, and writes them back; the surrounding transaction makes the write
// atomic with the pool mutation.
type Store interface {
	Get(k Key) (*Position, error)
	Set(p *Position) error
	Remove(k Key) error
}

// ErrNotFound is returned by stores for an unknown key.
var ErrNotFound = errors.New("position not found")

// MemStore is a map-backed Store for tests and local wiring. Values are
// cloned both ways so callers never alias stored state.
type MemStore struct {
	positions map[Key]*Position
}

func NewMemStore() *MemStore {
	return &MemStore{positions: make(map[Key]*Position)}
}

func (s *MemStore) Get(k Key) (*Position, error) {
	p, ok := s.positions[k]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, k)
	}
	return p.clone(), nil
}

func (s *MemStore) Set(p *Position) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.positions[p.Key()] = p.clone()
	return nil
}

func (s *MemStore) Remove(k Key) error {
	delete(s.positions, k)
	return nil
}
