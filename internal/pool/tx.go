package pool

import (
	"fmt"
	"math/big"

	"github.com/sbneo2022/gmx-synthetics/internal/fixedmath"
	"github.com/sbneo2022/gmx-synthetics/internal/market"
	"github.com/sbneo2022/gmx-synthetics/internal/marketconfig"
	"github.com/sbneo2022/gmx-synthetics/internal/pricing"
)

// Tx is the accounting context for one settlement or swap call. All reads
// see pending values layered over the committed ledger; nothing reaches the
// ledger until Commit. Discarding the Tx aborts the call with no partial
// state, which is what makes every error in the core terminal and safe.
type Tx struct {
	ledger *Ledger
	cfg    marketconfig.Config

	poolAmounts        map[tokenKey]*big.Int
	impactPools        map[tokenKey]*big.Int
	collateralSums     map[tokenKey]*big.Int
	openInterestUsd    map[sideKey]*big.Int
	openInterestTokens map[sideKey]*big.Int
	funding            map[string]*FundingState
}

// NewTx opens an accounting context over the ledger.
func NewTx(l *Ledger, cfg marketconfig.Config) *Tx {
	return &Tx{
		ledger:             l,
		cfg:                cfg,
		poolAmounts:        make(map[tokenKey]*big.Int),
		impactPools:        make(map[tokenKey]*big.Int),
		collateralSums:     make(map[tokenKey]*big.Int),
		openInterestUsd:    make(map[sideKey]*big.Int),
		openInterestTokens: make(map[sideKey]*big.Int),
		funding:            make(map[string]*FundingState),
	}
}

func (tx *Tx) read(pending map[tokenKey]*big.Int, committed map[tokenKey]*big.Int, k tokenKey) *big.Int {
	if v, ok := pending[k]; ok {
		return v
	}
	return get(committed, k)
}

func (tx *Tx) readSide(pending, committed map[sideKey]*big.Int, k sideKey) *big.Int {
	if v, ok := pending[k]; ok {
		return v
	}
	return getSide(committed, k)
}

// PoolAmount returns the pending pool balance for (market, token).
func (tx *Tx) PoolAmount(mkt, token string) *big.Int {
	return fixedmath.Copy(tx.read(tx.poolAmounts, tx.ledger.poolAmounts, tokenKey{mkt, token}))
}

// ImpactPoolAmount returns the pending swap-impact-pool balance.
func (tx *Tx) ImpactPoolAmount(mkt, token string) *big.Int {
	return fixedmath.Copy(tx.read(tx.impactPools, tx.ledger.impactPools, tokenKey{mkt, token}))
}

// CollateralSum returns the pending collateral-sum entry.
func (tx *Tx) CollateralSum(mkt, token string) *big.Int {
	return fixedmath.Copy(tx.read(tx.collateralSums, tx.ledger.collateralSums, tokenKey{mkt, token}))
}

// OpenInterestUsd returns the pending open interest in USD for one side.
func (tx *Tx) OpenInterestUsd(mkt string, isLong bool) *big.Int {
	return fixedmath.Copy(tx.readSide(tx.openInterestUsd, tx.ledger.openInterestUsd, sideKey{mkt, isLong}))
}

// OpenInterestTokens returns the pending open interest in index tokens.
func (tx *Tx) OpenInterestTokens(mkt string, isLong bool) *big.Int {
	return fixedmath.Copy(tx.readSide(tx.openInterestTokens, tx.ledger.openInterestTokens, sideKey{mkt, isLong}))
}

// IncreasePoolAmount credits a (market, token) pool balance.
func (tx *Tx) IncreasePoolAmount(mkt, token string, amount *big.Int) {
	k := tokenKey{mkt, token}
	cur := tx.read(tx.poolAmounts, tx.ledger.poolAmounts, k)
	tx.poolAmounts[k] = fixedmath.Add(cur, amount)
}

// DecreasePoolAmount debits a (market, token) pool balance, failing with
// ErrInsufficientPoolBalance rather than letting it go negative.
func (tx *Tx) DecreasePoolAmount(mkt, token string, amount *big.Int) error {
	k := tokenKey{mkt, token}
	cur := tx.read(tx.poolAmounts, tx.ledger.poolAmounts, k)
	next := fixedmath.Sub(cur, amount)
	if next.Sign() < 0 {
		return fmt.Errorf("%w: market %s token %s has %s, need %s",
			ErrInsufficientPoolBalance, mkt, token, cur, amount)
	}
	tx.poolAmounts[k] = next
	return nil
}

// ApplyNegativeImpact credits the swap-impact pool with an amount deducted
// from what the user receives or pays.
func (tx *Tx) ApplyNegativeImpact(mkt, token string, amount *big.Int) {
	k := tokenKey{mkt, token}
	cur := tx.read(tx.impactPools, tx.ledger.impactPools, k)
	tx.impactPools[k] = fixedmath.Add(cur, amount)
}

// ApplyPositiveImpact withdraws up to amount from the swap-impact pool and
// returns what was actually paid. The payout is capped at the pool's
// balance — positive impact never manufactures tokens.
func (tx *Tx) ApplyPositiveImpact(mkt, token string, amount *big.Int) *big.Int {
	k := tokenKey{mkt, token}
	cur := tx.read(tx.impactPools, tx.ledger.impactPools, k)
	paid := fixedmath.Min(amount, cur)
	if paid.Sign() < 0 {
		paid = fixedmath.Zero()
	}
	tx.impactPools[k] = fixedmath.Sub(cur, paid)
	return paid
}

// IncreaseCollateralSum credits the collateral-sum ledger.
func (tx *Tx) IncreaseCollateralSum(mkt, token string, amount *big.Int) {
	k := tokenKey{mkt, token}
	cur := tx.read(tx.collateralSums, tx.ledger.collateralSums, k)
	tx.collateralSums[k] = fixedmath.Add(cur, amount)
}

// DecreaseCollateralSum debits the collateral-sum ledger.
func (tx *Tx) DecreaseCollateralSum(mkt, token string, amount *big.Int) error {
	k := tokenKey{mkt, token}
	cur := tx.read(tx.collateralSums, tx.ledger.collateralSums, k)
	next := fixedmath.Sub(cur, amount)
	if next.Sign() < 0 {
		return fmt.Errorf("collateral sum underflow for market %s token %s: have %s, need %s",
			mkt, token, cur, amount)
	}
	tx.collateralSums[k] = next
	return nil
}

// IncreaseOpenInterest adds to one side's aggregate position size.
func (tx *Tx) IncreaseOpenInterest(mkt string, isLong bool, usd, tokens *big.Int) {
	ku := sideKey{mkt, isLong}
	tx.openInterestUsd[ku] = fixedmath.Add(tx.readSide(tx.openInterestUsd, tx.ledger.openInterestUsd, ku), usd)
	tx.openInterestTokens[ku] = fixedmath.Add(tx.readSide(tx.openInterestTokens, tx.ledger.openInterestTokens, ku), tokens)
}

// DecreaseOpenInterest removes settled size from one side's aggregates.
func (tx *Tx) DecreaseOpenInterest(mkt string, isLong bool, usd, tokens *big.Int) error {
	ku := sideKey{mkt, isLong}
	nextUsd := fixedmath.Sub(tx.readSide(tx.openInterestUsd, tx.ledger.openInterestUsd, ku), usd)
	nextTokens := fixedmath.Sub(tx.readSide(tx.openInterestTokens, tx.ledger.openInterestTokens, ku), tokens)
	if nextUsd.Sign() < 0 || nextTokens.Sign() < 0 {
		return fmt.Errorf("open interest underflow for market %s isLong=%v", mkt, isLong)
	}
	tx.openInterestUsd[ku] = nextUsd
	tx.openInterestTokens[ku] = nextTokens
	return nil
}

// ValidateReserve recomputes the reserved-amount ratio for one side of a
// market and fails with ErrInsufficientReserve when the configured maximum
// reserve factor is exceeded. This is the solvency gate every mutating path
// passes through before returning success.
func (tx *Tx) ValidateReserve(mkt market.Market, oracle pricing.Oracle, isLong bool) error {
	params, err := tx.cfg.Params(mkt.Address)
	if err != nil {
		return err
	}

	sideToken := mkt.ShortToken
	if isLong {
		sideToken = mkt.LongToken
	}
	price, err := oracle.GetPrimaryPrice(sideToken)
	if err != nil {
		return err
	}

	// Pool value is taken at the min price: the conservative bound for the
	// collateral actually available to pay out open interest.
	poolUsd := fixedmath.Mul(tx.PoolAmount(mkt.Address, sideToken), price.Min)
	reservedUsd := tx.OpenInterestUsd(mkt.Address, isLong)

	maxReservedUsd := fixedmath.ApplyFactor(poolUsd, params.MaxReserveFactor(isLong))
	if reservedUsd.Cmp(maxReservedUsd) > 0 {
		return fmt.Errorf("%w: market %s isLong=%v reserved %s exceeds max %s",
			ErrInsufficientReserve, mkt.Address, isLong, reservedUsd, maxReservedUsd)
	}
	return nil
}

// Funding returns the pending accumulator state for a market.
func (tx *Tx) Funding(mkt string) *FundingState {
	if fs, ok := tx.funding[mkt]; ok {
		return fs
	}
	fs := tx.ledger.Funding(mkt)
	tx.funding[mkt] = fs
	return fs
}

// UpdateFundingAndBorrowing advances the market's cumulative funding and
// borrowing factors to now. Funding accrues against the heavier open
// interest side proportionally to the imbalance; borrowing accrues on each
// side proportionally to its reserve utilization. Both increments truncate,
// so the accumulators advance monotonically and never overshoot. Settlement
// must call this before reading the accumulators so every position settling
// in the same call sees one consistent snapshot.
func (tx *Tx) UpdateFundingAndBorrowing(mkt market.Market, oracle pricing.Oracle, now int64) error {
	params, err := tx.cfg.Params(mkt.Address)
	if err != nil {
		return err
	}

	fs := tx.Funding(mkt.Address)
	elapsed := now - fs.UpdatedAt
	if elapsed <= 0 {
		return nil
	}
	elapsedBig := fixedmath.New(elapsed)

	longOI := tx.OpenInterestUsd(mkt.Address, true)
	shortOI := tx.OpenInterestUsd(mkt.Address, false)
	totalOI := fixedmath.Add(longOI, shortOI)

	if totalOI.Sign() > 0 {
		imbalance := fixedmath.Abs(fixedmath.Sub(longOI, shortOI))
		// increment = elapsed * rate * imbalance / totalOI
		inc := fixedmath.MulDiv(fixedmath.Mul(elapsedBig, params.FundingFactorPerSecond), imbalance, totalOI)
		if longOI.Cmp(shortOI) > 0 {
			fs.FundingFactorLong = fixedmath.Add(fs.FundingFactorLong, inc)
		} else if shortOI.Cmp(longOI) > 0 {
			fs.FundingFactorShort = fixedmath.Add(fs.FundingFactorShort, inc)
		}
	}

	for _, isLong := range []bool{true, false} {
		sideToken := mkt.ShortToken
		if isLong {
			sideToken = mkt.LongToken
		}
		price, err := oracle.GetPrimaryPrice(sideToken)
		if err != nil {
			return err
		}
		poolUsd := fixedmath.Mul(tx.PoolAmount(mkt.Address, sideToken), price.Min)
		if poolUsd.Sign() <= 0 {
			continue
		}
		reservedUsd := tx.OpenInterestUsd(mkt.Address, isLong)
		// increment = elapsed * rate * utilization
		inc := fixedmath.MulDiv(fixedmath.Mul(elapsedBig, params.BorrowingFactorPerSecond), reservedUsd, poolUsd)
		if isLong {
			fs.BorrowingFactorLong = fixedmath.Add(fs.BorrowingFactorLong, inc)
		} else {
			fs.BorrowingFactorShort = fixedmath.Add(fs.BorrowingFactorShort, inc)
		}
	}

	fs.UpdatedAt = now
	return nil
}

// Commit writes the pending state back to the ledger. Non-negativity of
// every ledger quantity is re-checked; a violation aborts the commit and
// leaves the ledger untouched.
func (tx *Tx) Commit() error {
	for k, v := range tx.poolAmounts {
		if v.Sign() < 0 {
			return fmt.Errorf("commit: negative pool amount for %s/%s: %s", k.Market, k.Token, v)
		}
	}
	for k, v := range tx.impactPools {
		if v.Sign() < 0 {
			return fmt.Errorf("commit: negative impact pool for %s/%s: %s", k.Market, k.Token, v)
		}
	}
	for k, v := range tx.collateralSums {
		if v.Sign() < 0 {
			return fmt.Errorf("commit: negative collateral sum for %s/%s: %s", k.Market, k.Token, v)
		}
	}
	for k, v := range tx.openInterestUsd {
		if v.Sign() < 0 {
			return fmt.Errorf("commit: negative open interest for %s isLong=%v: %s", k.Market, k.IsLong, v)
		}
	}
	for k, v := range tx.openInterestTokens {
		if v.Sign() < 0 {
			return fmt.Errorf("commit: negative token open interest for %s isLong=%v: %s", k.Market, k.IsLong, v)
		}
	}

	for k, v := range tx.poolAmounts {
		tx.ledger.poolAmounts[k] = v
	}
	for k, v := range tx.impactPools {
		tx.ledger.impactPools[k] = v
	}
	for k, v := range tx.collateralSums {
		tx.ledger.collateralSums[k] = v
	}
	for k, v := range tx.openInterestUsd {
		tx.ledger.openInterestUsd[k] = v
	}
	for k, v := range tx.openInterestTokens {
		tx.ledger.openInterestTokens[k] = v
	}
	for m, fs := range tx.funding {
		tx.ledger.funding[m] = fs
	}
	return nil
}
