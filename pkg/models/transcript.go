package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Role identifies which side of the conversation produced a turn.
type Role string

const (
	// RoleUser marks turns authored locally (the task and action results).
	RoleUser Role = "user"
	// RoleOracle marks turns produced by the decision oracle.
	RoleOracle Role = "oracle"
)

// Turn is one entry of a transcript. It is a closed sum type:
// the only implementations are UserTurn and OracleTurn.
type Turn interface {
	Role() Role
	isTurn()
}

// ContentBlock is one block of an oracle turn. It is a closed sum type:
// the only implementations are TextBlock and ActionRequest.
type ContentBlock interface {
	isContentBlock()
}

// TextBlock is free-form text emitted by the oracle.
type TextBlock struct {
	Text string `json:"text"`
}

func (TextBlock) isContentBlock() {}

// ActionRequest asks the local environment to run a named capability.
type ActionRequest struct {
	// ID correlates the request with its ActionResult.
	ID string `json:"id"`
	// Name is the capability to invoke.
	Name string `json:"name"`
	// Arguments is the raw JSON object supplied by the oracle.
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

func (ActionRequest) isContentBlock() {}

// ActionResult is the outcome of dispatching one ActionRequest.
// It is created by the turn-taking loop and never mutated afterwards.
type ActionResult struct {
	// RequestID references the ActionRequest this result answers.
	RequestID string `json:"request_id"`
	// Payload is the serialized handler value, or a fault description when Failed.
	Payload string `json:"payload"`
	// Failed is true for unknown actions, invalid arguments and handler faults.
	Failed bool `json:"failed"`
}

// UserTurn carries either the initial task text or a batch of action results.
type UserTurn struct {
	Text    string         `json:"text,omitempty"`
	Results []ActionResult `json:"results,omitempty"`
}

// Role implements Turn.
func (UserTurn) Role() Role { return RoleUser }
func (UserTurn) isTurn()    {}

// OracleTurn holds the content blocks of one oracle response.
type OracleTurn struct {
	Blocks []ContentBlock `json:"blocks"`
}

// Role implements Turn.
func (OracleTurn) Role() Role { return RoleOracle }
func (OracleTurn) isTurn()    {}

// Requests returns the action requests of the turn in the order they appear.
func (t OracleTurn) Requests() []ActionRequest {
	var reqs []ActionRequest
	for _, b := range t.Blocks {
		if r, ok := b.(ActionRequest); ok {
			reqs = append(reqs, r)
		}
	}
	return reqs
}

// Text joins all text blocks of the turn in order, one per line.
func (t OracleTurn) Text() string {
	var texts []string
	for _, b := range t.Blocks {
		if tb, ok := b.(TextBlock); ok {
			texts = append(texts, tb.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// Transcript errors.
var (
	ErrTranscriptOrder    = errors.New("transcript turns must alternate between user and oracle")
	ErrResultMismatch     = errors.New("action results do not match the preceding action requests")
	ErrTranscriptNotEmpty = errors.New("transcript must start with a user turn")
)

// Transcript is the append-only conversation owned by one loop run.
// Append enforces strict alternation and result/request correlation.
type Transcript struct {
	turns []Turn
}

// NewTranscript creates a transcript seeded with the task as its first user turn.
func NewTranscript(task string) *Transcript {
	return &Transcript{turns: []Turn{UserTurn{Text: task}}}
}

// Len returns the number of turns.
func (t *Transcript) Len() int { return len(t.turns) }

// Turns returns a copy of the turns in order.
func (t *Transcript) Turns() []Turn {
	return append([]Turn(nil), t.turns...)
}

// Last returns the most recent turn, or nil for an empty transcript.
func (t *Transcript) Last() Turn {
	if len(t.turns) == 0 {
		return nil
	}
	return t.turns[len(t.turns)-1]
}

// Append adds a turn after validating the alternation invariants.
func (t *Transcript) Append(turn Turn) error {
	last := t.Last()
	if last == nil {
		if turn.Role() != RoleUser {
			return ErrTranscriptNotEmpty
		}
		t.turns = append(t.turns, turn)
		return nil
	}
	if last.Role() == turn.Role() {
		return fmt.Errorf("%w: %s after %s", ErrTranscriptOrder, turn.Role(), last.Role())
	}

	if ut, ok := turn.(UserTurn); ok {
		prev := last.(OracleTurn)
		if err := matchResults(prev.Requests(), ut.Results); err != nil {
			return err
		}
	}

	t.turns = append(t.turns, turn)
	return nil
}

// matchResults checks that results answer requests one-to-one, in order, by id.
func matchResults(reqs []ActionRequest, results []ActionResult) error {
	if len(reqs) != len(results) {
		return fmt.Errorf("%w: %d requests, %d results", ErrResultMismatch, len(reqs), len(results))
	}
	for i := range reqs {
		if reqs[i].ID != results[i].RequestID {
			return fmt.Errorf("%w: result %d answers %q, want %q", ErrResultMismatch, i, results[i].RequestID, reqs[i].ID)
		}
	}
	return nil
}
