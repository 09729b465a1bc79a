package orchestrator

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// EventEmitter buffers events for a consumer running on another goroutine,
// such as the TUI. Pass its Emit method to WithEvents.
type EventEmitter struct {
	events       chan Event
	droppedCount atomic.Uint64
	logger       zerolog.Logger
}

// NewEventEmitter creates a new EventEmitter with the given buffer size.
func NewEventEmitter(bufferSize int, logger zerolog.Logger) *EventEmitter {
	return &EventEmitter{
		events: make(chan Event, bufferSize),
		logger: logger,
	}
}

// Emit sends an event to the events channel.
// If the channel is full, it waits briefly before dropping the event.
func (e *EventEmitter) Emit(event Event) {
	select {
	case e.events <- event:
		return
	default:
	}

	select {
	case e.events <- event:
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 {
			e.logger.Warn().
				Uint64("dropped", count).
				Str("type", string(event.Type)).
				Msg("event channel full, dropping event")
		}
	}
}

// DroppedCount returns the total number of events that have been dropped.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns a read-only channel of events.
func (e *EventEmitter) Events() <-chan Event {
	return e.events
}

// Close closes the events channel. Call it once the run has returned.
func (e *EventEmitter) Close() {
	close(e.events)
}
