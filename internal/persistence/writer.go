package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sbneo2022/gmx-synthetics/internal/event"
)

// SettlementLogWriter writes emitted settlement events to Postgres using
// multi-row INSERTs. Writes are idempotent on the sequence column, so a
// replayed batch after a crash is harmless.
type SettlementLogWriter struct {
	db *sql.DB
}

// EventRow is one row in settlement_log.events.
type EventRow struct {
	Sequence  int64
	EventID   string
	EventType string
	Market    string
	Payload   []byte // JSON-encoded event payload
	Timestamp time.Time
}

func NewSettlementLogWriter(db *sql.DB) *SettlementLogWriter {
	return &SettlementLogWriter{db: db}
}

// RowFromEnvelope flattens an envelope into its persisted form.
func RowFromEnvelope(env event.Envelope) (EventRow, error) {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return EventRow{}, fmt.Errorf("marshal payload for seq %d: %w", env.Sequence, err)
	}
	return EventRow{
		Sequence:  env.Sequence,
		EventID:   env.EventID.String(),
		EventType: env.EventType.String(),
		Market:    env.Market,
		Payload:   payload,
		Timestamp: env.Timestamp,
	}, nil
}

// WriteBatch writes a batch of events to settlement_log.events.
func (w *SettlementLogWriter) WriteBatch(ctx context.Context, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO settlement_log.events
		(sequence, event_id, event_type, market, payload, timestamp)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*6)

	for i, e := range events {
		base := i * 6
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))
		args = append(args, e.Sequence, e.EventID, e.EventType, e.Market, e.Payload, e.Timestamp)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := w.db.ExecContext(ctx, query, args...)
	return err
}
