package orchestrator

import (
	"time"

	"github.com/ShayCichocki/lakeforge/internal/loop"
	"github.com/ShayCichocki/lakeforge/pkg/models"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventRunStarted indicates a pipeline run has passed validation and started.
	EventRunStarted EventType = "run_started"
	// EventStageStarted indicates a stage's loop is about to run.
	EventStageStarted EventType = "stage_started"
	// EventStageFinished indicates a stage reached a terminal outcome.
	EventStageFinished EventType = "stage_finished"
	// EventStageSkipped indicates a stage never ran because the run halted.
	EventStageSkipped EventType = "stage_skipped"
	// EventLoop wraps a progress event from the running stage's loop.
	EventLoop EventType = "loop"
	// EventRunFinished indicates the whole run is over.
	EventRunFinished EventType = "run_finished"
)

// Event represents an event emitted by the orchestrator.
// These events are used to update the TUI and track progress.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// RunID identifies the pipeline run.
	RunID string
	// Stage is the name of the related stage, if applicable.
	Stage string
	// Ordinal is the related stage's ordinal.
	Ordinal int
	// Index is the 1-based position of the stage in the run and Total the stage count.
	Index int
	Total int
	// Outcome is set on EventStageFinished.
	Outcome models.StageOutcome
	// Loop is set on EventLoop.
	Loop *loop.Event
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error error
	// TokensIn and TokensOut are the stage totals on EventStageFinished.
	TokensIn  int64
	TokensOut int64
	// Duration is the elapsed time of the stage or run.
	Duration time.Duration
	// Timestamp is when the event occurred.
	Timestamp time.Time
}
