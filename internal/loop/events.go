package loop

// EventType identifies a loop progress event.
type EventType string

const (
	EventOracleCall   EventType = "oracle_call"
	EventText         EventType = "text"
	EventActionCall   EventType = "action_call"
	EventActionResult EventType = "action_result"
	EventDone         EventType = "done"
	EventExhausted    EventType = "exhausted"
	EventError        EventType = "error"
)

// Event represents a step of a loop run for streaming to a UI.
type Event struct {
	Type      EventType
	Iteration int
	Action    string
	RequestID string
	Content   string
	Failed    bool
}
