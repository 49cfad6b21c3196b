package event

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypePositionDecrease
	EventTypePositionLiquidation
	EventTypeSwapExecuted
	EventTypeFeesCollected
)

func (et EventType) String() string {
	switch et {
	case EventTypePositionDecrease:
		return "PositionDecrease"
	case EventTypePositionLiquidation:
		return "PositionLiquidation"
	case EventTypeSwapExecuted:
		return "SwapExecuted"
	case EventTypeFeesCollected:
		return "FeesCollected"
	default:
		return "Unknown"
	}
}

// Envelope wraps every emitted event. Sequence is the core's monotonic
// counter, assigned at emit time after the call commits.
type Envelope struct {
	Sequence  int64
	EventID   uuid.UUID
	EventType EventType
	Market    string
	Timestamp time.Time
	Payload   Event
}

// Event is the interface all event payloads implement. Events are
// fire-and-forget: they carry accounting outcomes for downstream consumers
// and are never read back by the core.
type Event interface {
	EventType() EventType

	// Market returns the market context, empty for global events.
	Market() string
}
