package persistence

import (
	"database/sql"
	"fmt"
	"math/big"

	"github.com/sbneo2022/gmx-synthetics/internal/market"
	"github.com/sbneo2022/gmx-synthetics/internal/position"
)

// PositionStore is the Postgres-backed position.Store. Fixed-point amounts
// are stored as NUMERIC and scanned through text; they do not fit int64.
type PositionStore struct {
	db *sql.DB
}

func NewPositionStore(db *sql.DB) *PositionStore {
	return &PositionStore{db: db}
}

func scanBig(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("column %s holds non-integer value %q", field, s)
	}
	return v, nil
}

func (s *PositionStore) Get(k position.Key) (*position.Position, error) {
	row := s.db.QueryRow(`
		SELECT size_in_usd::text, size_in_tokens::text, collateral_amount::text,
		       funding_factor::text, borrowing_factor::text,
		       increased_at_block, decreased_at_block
		FROM settlement_log.positions
		WHERE account = $1 AND market = $2 AND collateral_token = $3 AND is_long = $4`,
		k.Account, k.Market, k.CollateralToken, k.IsLong,
	)

	var sizeUsd, sizeTokens, collateral, funding, borrowing string
	p := &position.Position{
		Account:         k.Account,
		Market:          k.Market,
		CollateralToken: k.CollateralToken,
		IsLong:          k.IsLong,
	}
	err := row.Scan(&sizeUsd, &sizeTokens, &collateral, &funding, &borrowing,
		&p.IncreasedAtBlock, &p.DecreasedAtBlock)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", position.ErrNotFound, k)
	}
	if err != nil {
		return nil, fmt.Errorf("load position %s: %w", k, err)
	}

	if p.SizeInUsd, err = scanBig("size_in_usd", sizeUsd); err != nil {
		return nil, err
	}
	if p.SizeInTokens, err = scanBig("size_in_tokens", sizeTokens); err != nil {
		return nil, err
	}
	if p.CollateralAmount, err = scanBig("collateral_amount", collateral); err != nil {
		return nil, err
	}
	if p.FundingFactor, err = scanBig("funding_factor", funding); err != nil {
		return nil, err
	}
	if p.BorrowingFactor, err = scanBig("borrowing_factor", borrowing); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PositionStore) Set(p *position.Position) error {
	if err := p.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(`
		INSERT INTO settlement_log.positions
			(account, market, collateral_token, is_long,
			 size_in_usd, size_in_tokens, collateral_amount,
			 funding_factor, borrowing_factor,
			 increased_at_block, decreased_at_block)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8::numeric, $9::numeric, $10, $11)
		ON CONFLICT (account, market, collateral_token, is_long) DO UPDATE SET
			size_in_usd = EXCLUDED.size_in_usd,
			size_in_tokens = EXCLUDED.size_in_tokens,
			collateral_amount = EXCLUDED.collateral_amount,
			funding_factor = EXCLUDED.funding_factor,
			borrowing_factor = EXCLUDED.borrowing_factor,
			increased_at_block = EXCLUDED.increased_at_block,
			decreased_at_block = EXCLUDED.decreased_at_block`,
		p.Account, p.Market, p.CollateralToken, p.IsLong,
		p.SizeInUsd.String(), p.SizeInTokens.String(), p.CollateralAmount.String(),
		p.FundingFactor.String(), p.BorrowingFactor.String(),
		p.IncreasedAtBlock, p.DecreasedAtBlock,
	)
	if err != nil {
		return fmt.Errorf("store position %s: %w", p.Key(), err)
	}
	return nil
}

func (s *PositionStore) Remove(k position.Key) error {
	_, err := s.db.Exec(`
		DELETE FROM settlement_log.positions
		WHERE account = $1 AND market = $2 AND collateral_token = $3 AND is_long = $4`,
		k.Account, k.Market, k.CollateralToken, k.IsLong,
	)
	if err != nil {
		return fmt.Errorf("remove position %s: %w", k, err)
	}
	return nil
}

// MarketStore is the Postgres-backed market.Store. Market descriptors are
// written by governance tooling; the core only reads them.
type MarketStore struct {
	db *sql.DB
}

func NewMarketStore(db *sql.DB) *MarketStore {
	return &MarketStore{db: db}
}

func (s *MarketStore) Get(address string) (market.Market, error) {
	row := s.db.QueryRow(`
		SELECT index_token, long_token, short_token, pool_token
		FROM settlement_log.markets
		WHERE address = $1`, address,
	)
	m := market.Market{Address: address}
	err := row.Scan(&m.IndexToken, &m.LongToken, &m.ShortToken, &m.PoolToken)
	if err == sql.ErrNoRows {
		return market.Market{}, fmt.Errorf("unknown market %s", address)
	}
	if err != nil {
		return market.Market{}, fmt.Errorf("load market %s: %w", address, err)
	}
	return m, nil
}

// All returns every configured market, used at startup to warm caches and
// seed the ledger.
func (s *MarketStore) All() ([]market.Market, error) {
	rows, err := s.db.Query(`
		SELECT address, index_token, long_token, short_token, pool_token
		FROM settlement_log.markets ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}
	defer rows.Close()

	var markets []market.Market
	for rows.Next() {
		var m market.Market
		if err := rows.Scan(&m.Address, &m.IndexToken, &m.LongToken, &m.ShortToken, &m.PoolToken); err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}
