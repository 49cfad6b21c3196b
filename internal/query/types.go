package query

import (
	"encoding/json"
	"time"
)

// PositionResponse is one persisted position. Amounts are decimal strings
// since fixed-point values do not fit int64.
type PositionResponse struct {
	Account          string `json:"account"`
	Market           string `json:"market"`
	CollateralToken  string `json:"collateral_token"`
	IsLong           bool   `json:"is_long"`
	SizeInUsd        string `json:"size_in_usd"`
	SizeInTokens     string `json:"size_in_tokens"`
	CollateralAmount string `json:"collateral_amount"`
	IncreasedAtBlock int64  `json:"increased_at_block"`
	DecreasedAtBlock int64  `json:"decreased_at_block"`
}

// EventResponse is one row of the settlement log.
type EventResponse struct {
	Sequence  int64           `json:"sequence"`
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Market    string          `json:"market"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// MarketResponse is one configured market descriptor.
type MarketResponse struct {
	Address    string `json:"address"`
	IndexToken string `json:"index_token"`
	LongToken  string `json:"long_token"`
	ShortToken string `json:"short_token"`
	PoolToken  string `json:"pool_token"`
}

// StatusResponse reports the watermark of the durable settlement log.
type StatusResponse struct {
	LastSequence int64 `json:"last_sequence"`
	EventCount   int64 `json:"event_count"`
}
