package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/sbneo2022/gmx-synthetics/internal/event"
	"github.com/sbneo2022/gmx-synthetics/internal/observability"
)

// Worker drains emitted envelopes and batch-writes them to Postgres. It
// runs independently from the settlement path; a slow database delays the
// durable log, never the core. It implements event.Sink so it can be
// composed with the NATS publisher via FanOutSink.
type Worker struct {
	writer       *SettlementLogWriter
	ch           chan event.Envelope
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewWorker(db *sql.DB, batchSize int, flushTimeout time.Duration, metrics *observability.Metrics, log zerolog.Logger) *Worker {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushTimeout <= 0 {
		flushTimeout = 50 * time.Millisecond
	}
	return &Worker{
		writer:       NewSettlementLogWriter(db),
		ch:           make(chan event.Envelope, batchSize*4),
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          log,
	}
}

// Emit enqueues one envelope without blocking the settlement path. A full
// queue drops the envelope and counts the drop.
func (w *Worker) Emit(_ context.Context, env event.Envelope) {
	select {
	case w.ch <- env:
	default:
		w.log.Warn().Int64("sequence", env.Sequence).Msg("persist queue full, event dropped")
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("queue_full").Inc()
		}
	}
}

// Run batches and flushes until the context is cancelled, then drains what
// is left.
func (w *Worker) Run(ctx context.Context) error {
	batch := make([]EventRow, 0, w.batchSize)
	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.flush(context.Background(), batch)
			return ctx.Err()

		case env := <-w.ch:
			row, err := RowFromEnvelope(env)
			if err != nil {
				w.log.Error().Err(err).Msg("unpersistable event dropped")
				if w.metrics != nil {
					w.metrics.PersistErrors.WithLabelValues("marshal").Inc()
				}
				continue
			}
			batch = append(batch, row)
			if len(batch) >= w.batchSize {
				w.flush(ctx, batch)
				batch = batch[:0]
				resetTimer(timer, w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				w.flush(ctx, batch)
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

func (w *Worker) flush(ctx context.Context, batch []EventRow) {
	if len(batch) == 0 {
		return
	}
	start := time.Now()
	if err := w.writer.WriteBatch(ctx, batch); err != nil {
		w.log.Error().Err(err).Int("batch", len(batch)).Msg("settlement log write failed")
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write").Inc()
		}
		return
	}
	if w.metrics != nil {
		w.metrics.PersistWrites.WithLabelValues("events").Add(float64(len(batch)))
		w.metrics.PersistLatency.Observe(time.Since(start).Seconds())
		w.metrics.EventSequence.Set(float64(batch[len(batch)-1].Sequence))
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// FanOutSink forwards every envelope to multiple sinks.
type FanOutSink []event.Sink

func (s FanOutSink) Emit(ctx context.Context, env event.Envelope) {
	for _, sink := range s {
		sink.Emit(ctx, env)
	}
}
