package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/sbneo2022/gmx-synthetics/internal/event"
)

// Publisher publishes settlement outcomes to NATS for downstream consumers.
// Subjects follow the pattern gmx.settlement.events.{event_type}.{market}.
// It implements event.Sink: Emit enqueues without blocking and a full queue
// drops the envelope, since events are observability, not correctness.
type Publisher struct {
	js  jetstream.JetStream
	log zerolog.Logger
	ch  chan event.Envelope
}

func NewPublisher(js jetstream.JetStream, buffer int, log zerolog.Logger) *Publisher {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Publisher{js: js, log: log, ch: make(chan event.Envelope, buffer)}
}

// Emit hands an envelope to the publish loop.
func (p *Publisher) Emit(_ context.Context, env event.Envelope) {
	select {
	case p.ch <- env:
	default:
		p.log.Warn().Int64("sequence", env.Sequence).Msg("publish queue full, event dropped")
	}
}

// Run drains the queue until the context is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-p.ch:
			if err := p.publish(ctx, env); err != nil {
				// Non-fatal: consumers can rebuild from the persisted log.
				p.log.Warn().Err(err).Int64("sequence", env.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

type envelopeJSON struct {
	Sequence  int64       `json:"sequence"`
	EventID   string      `json:"event_id"`
	EventType string      `json:"event_type"`
	Market    string      `json:"market,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

func (p *Publisher) publish(ctx context.Context, env event.Envelope) error {
	data, err := json.Marshal(envelopeJSON{
		Sequence:  env.Sequence,
		EventID:   env.EventID.String(),
		EventType: env.EventType.String(),
		Market:    env.Market,
		Timestamp: env.Timestamp,
		Payload:   env.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("gmx.settlement.events.%s", strings.ToLower(env.EventType.String()))
	if env.Market != "" {
		subject = fmt.Sprintf("%s.%s", subject, env.Market)
	}

	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "GMX_SETTLEMENT_EVENTS",
		Subjects:  []string{"gmx.settlement.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
