package event

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sink receives event envelopes after a call commits. Emission is not
// required for correctness, so implementations must not fail the caller;
// delivery problems are logged and dropped.
type Sink interface {
	Emit(ctx context.Context, env Envelope)
}

// Emitter assigns sequence numbers and wraps payloads for a Sink.
type Emitter struct {
	mu   sync.Mutex
	seq  int64
	sink Sink
}

func NewEmitter(sink Sink) *Emitter {
	return &Emitter{sink: sink}
}

// Emit stamps and forwards one event.
func (e *Emitter) Emit(ctx context.Context, ev Event) {
	e.mu.Lock()
	e.seq++
	seq := e.seq
	e.mu.Unlock()

	e.sink.Emit(ctx, Envelope{
		Sequence:  seq,
		EventID:   uuid.New(),
		EventType: ev.EventType(),
		Market:    ev.Market(),
		Timestamp: time.Now().UTC(),
		Payload:   ev,
	})
}

// Resume advances the sequence counter past seq so a restarted process
// continues the durable log instead of colliding with persisted rows.
func (e *Emitter) Resume(seq int64) {
	e.mu.Lock()
	if seq > e.seq {
		e.seq = seq
	}
	e.mu.Unlock()
}

// NopSink drops everything.
type NopSink struct{}

func (NopSink) Emit(context.Context, Envelope) {}

// MemSink records envelopes for tests.
type MemSink struct {
	mu       sync.Mutex
	Recorded []Envelope
}

func (s *MemSink) Emit(_ context.Context, env Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Recorded = append(s.Recorded, env)
}

// ByType returns recorded envelopes matching one type.
func (s *MemSink) ByType(et EventType) []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Envelope
	for _, env := range s.Recorded {
		if env.EventType == et {
			out = append(out, env)
		}
	}
	return out
}
