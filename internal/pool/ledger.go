package pool

import (
	"errors"
	"math/big"

	"github.com/sbneo2022/gmx-synthetics/internal/fixedmath"
)

// ErrInsufficientPoolBalance is returned when a pool decrease would take a
// (market, token) balance negative.
var ErrInsufficientPoolBalance = errors.New("insufficient pool balance")

// ErrInsufficientReserve is returned when a mutation would push the
// reserved-amount ratio of a pool side past the configured maximum.
var ErrInsufficientReserve = errors.New("insufficient reserve")

type tokenKey struct {
	Market string
	Token  string
}

type sideKey struct {
	Market string
	IsLong bool
}

// FundingState holds a market's cumulative funding and borrowing factor
// accumulators. Factors are cost-per-USD-of-size scaled by
// fixedmath.FactorScale and only ever increase; a position settles costs by
// the delta between its stored snapshot and the current accumulator.
type FundingState struct {
	FundingFactorLong    *big.Int
	FundingFactorShort   *big.Int
	BorrowingFactorLong  *big.Int
	BorrowingFactorShort *big.Int
	UpdatedAt            int64 // unix seconds of last advancement
}

func newFundingState() *FundingState {
	return &FundingState{
		FundingFactorLong:    fixedmath.Zero(),
		FundingFactorShort:   fixedmath.Zero(),
		BorrowingFactorLong:  fixedmath.Zero(),
		BorrowingFactorShort: fixedmath.Zero(),
	}
}

func (fs *FundingState) clone() *FundingState {
	return &FundingState{
		FundingFactorLong:    fixedmath.Copy(fs.FundingFactorLong),
		FundingFactorShort:   fixedmath.Copy(fs.FundingFactorShort),
		BorrowingFactorLong:  fixedmath.Copy(fs.BorrowingFactorLong),
		BorrowingFactorShort: fixedmath.Copy(fs.BorrowingFactorShort),
		UpdatedAt:            fs.UpdatedAt,
	}
}

// FundingFactor returns the cumulative funding factor for one side.
func (fs *FundingState) FundingFactor(isLong bool) *big.Int {
	if isLong {
		return fs.FundingFactorLong
	}
	return fs.FundingFactorShort
}

// BorrowingFactor returns the cumulative borrowing factor for one side.
func (fs *FundingState) BorrowingFactor(isLong bool) *big.Int {
	if isLong {
		return fs.BorrowingFactorLong
	}
	return fs.BorrowingFactorShort
}

// Ledger is the committed pool state: per-(market, token) pool amounts,
// swap-impact-pool balances and collateral sums, per-(market, side) open
// interest, and per-market cost accumulators. It is only ever mutated by
// committing a Tx; a read outside a Tx observes the last committed call.
type Ledger struct {
	poolAmounts        map[tokenKey]*big.Int
	impactPools        map[tokenKey]*big.Int
	collateralSums     map[tokenKey]*big.Int
	openInterestUsd    map[sideKey]*big.Int
	openInterestTokens map[sideKey]*big.Int
	funding            map[string]*FundingState
}

func NewLedger() *Ledger {
	return &Ledger{
		poolAmounts:        make(map[tokenKey]*big.Int),
		impactPools:        make(map[tokenKey]*big.Int),
		collateralSums:     make(map[tokenKey]*big.Int),
		openInterestUsd:    make(map[sideKey]*big.Int),
		openInterestTokens: make(map[sideKey]*big.Int),
		funding:            make(map[string]*FundingState),
	}
}

func get(m map[tokenKey]*big.Int, k tokenKey) *big.Int {
	if v, ok := m[k]; ok {
		return v
	}
	return fixedmath.Zero()
}

func getSide(m map[sideKey]*big.Int, k sideKey) *big.Int {
	if v, ok := m[k]; ok {
		return v
	}
	return fixedmath.Zero()
}

// PoolAmount returns the committed pool balance for (market, token).
func (l *Ledger) PoolAmount(market, token string) *big.Int {
	return fixedmath.Copy(get(l.poolAmounts, tokenKey{market, token}))
}

// ImpactPoolAmount returns the committed swap-impact-pool balance.
func (l *Ledger) ImpactPoolAmount(market, token string) *big.Int {
	return fixedmath.Copy(get(l.impactPools, tokenKey{market, token}))
}

// CollateralSum returns the committed collateral-sum ledger entry.
func (l *Ledger) CollateralSum(market, token string) *big.Int {
	return fixedmath.Copy(get(l.collateralSums, tokenKey{market, token}))
}

// OpenInterestUsd returns the committed open interest in USD for one side.
func (l *Ledger) OpenInterestUsd(market string, isLong bool) *big.Int {
	return fixedmath.Copy(getSide(l.openInterestUsd, sideKey{market, isLong}))
}

// OpenInterestTokens returns the committed open interest in index tokens.
func (l *Ledger) OpenInterestTokens(market string, isLong bool) *big.Int {
	return fixedmath.Copy(getSide(l.openInterestTokens, sideKey{market, isLong}))
}

// Funding returns the committed accumulator state for a market.
func (l *Ledger) Funding(market string) *FundingState {
	if fs, ok := l.funding[market]; ok {
		return fs.clone()
	}
	return newFundingState()
}

// --- Seed/restore setters: used by bootstrap and tests, not by settlement ---

func (l *Ledger) SetPoolAmount(market, token string, v *big.Int) {
	l.poolAmounts[tokenKey{market, token}] = fixedmath.Copy(v)
}

func (l *Ledger) SetImpactPoolAmount(market, token string, v *big.Int) {
	l.impactPools[tokenKey{market, token}] = fixedmath.Copy(v)
}

func (l *Ledger) SetCollateralSum(market, token string, v *big.Int) {
	l.collateralSums[tokenKey{market, token}] = fixedmath.Copy(v)
}

func (l *Ledger) SetOpenInterest(market string, isLong bool, usd, tokens *big.Int) {
	l.openInterestUsd[sideKey{market, isLong}] = fixedmath.Copy(usd)
	l.openInterestTokens[sideKey{market, isLong}] = fixedmath.Copy(tokens)
}

func (l *Ledger) SetFunding(market string, fs *FundingState) {
	l.funding[market] = fs.clone()
}
