package query

import (
	"context"
	"database/sql"
	"fmt"
)

// Service provides read-only access to the durable settlement log and the
// persisted position table. Queries never touch the in-memory ledger; they
// lag settlement by however far the persistence worker is behind, which the
// watermark in Status exposes.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// ListPositions returns all open positions for an account.
func (s *Service) ListPositions(ctx context.Context, account string) ([]PositionResponse, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account, market, collateral_token, is_long,
		       size_in_usd::text, size_in_tokens::text, collateral_amount::text,
		       increased_at_block, decreased_at_block
		FROM settlement_log.positions
		WHERE account = $1
		ORDER BY market, is_long DESC`, account)
	if err != nil {
		return nil, fmt.Errorf("list positions for %s: %w", account, err)
	}
	defer rows.Close()

	var positions []PositionResponse
	for rows.Next() {
		var p PositionResponse
		if err := rows.Scan(
			&p.Account, &p.Market, &p.CollateralToken, &p.IsLong,
			&p.SizeInUsd, &p.SizeInTokens, &p.CollateralAmount,
			&p.IncreasedAtBlock, &p.DecreasedAtBlock,
		); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// ListEvents returns settlement events for a market in sequence order,
// cursor-paginated on the sequence column.
func (s *Service) ListEvents(ctx context.Context, mkt string, afterSequence int64, limit int) ([]EventResponse, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT sequence, event_id, event_type, market, payload, timestamp
		FROM settlement_log.events
		WHERE sequence > $1`
	args := []interface{}{afterSequence}
	if mkt != "" {
		query += " AND market = $2"
		args = append(args, mkt)
	}
	query += fmt.Sprintf(" ORDER BY sequence LIMIT %d", limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []EventResponse
	for rows.Next() {
		var e EventResponse
		if err := rows.Scan(&e.Sequence, &e.EventID, &e.EventType, &e.Market, &e.Payload, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListMarkets returns every configured market.
func (s *Service) ListMarkets(ctx context.Context) ([]MarketResponse, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, index_token, long_token, short_token, pool_token
		FROM settlement_log.markets ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}
	defer rows.Close()

	var markets []MarketResponse
	for rows.Next() {
		var m MarketResponse
		if err := rows.Scan(&m.Address, &m.IndexToken, &m.LongToken, &m.ShortToken, &m.PoolToken); err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// Status returns the durable log watermark.
func (s *Service) Status(ctx context.Context) (StatusResponse, error) {
	var st StatusResponse
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence), 0), COUNT(*)
		FROM settlement_log.events`).Scan(&st.LastSequence, &st.EventCount)
	if err != nil {
		return StatusResponse{}, fmt.Errorf("log status: %w", err)
	}
	return st, nil
}
