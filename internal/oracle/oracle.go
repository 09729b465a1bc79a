// Package oracle defines the contract between the turn-taking loop and the
// reasoning service that decides which actions to take.
package oracle

import (
	"context"

	"github.com/ShayCichocki/lakeforge/internal/capability"
	"github.com/ShayCichocki/lakeforge/pkg/models"
)

// StopSignal tells the loop why the oracle ended its turn.
type StopSignal string

const (
	// StopCompleted means the turn is complete and no actions are requested.
	StopCompleted StopSignal = "completed"
	// StopActionsRequested means the response carries action requests.
	StopActionsRequested StopSignal = "actions_requested"
)

// Known reports whether the signal is one the loop can act on.
// Any other value is a protocol violation.
func (s StopSignal) Known() bool {
	return s == StopCompleted || s == StopActionsRequested
}

// Request is one oracle call.
type Request struct {
	// Framing is the system text steering the oracle.
	Framing string
	// Capabilities lists the actions the oracle may request.
	Capabilities []capability.Declaration
	// Transcript is the conversation so far, oldest first.
	Transcript []models.Turn
}

// Response is the oracle's answer to one Request.
type Response struct {
	Stop   StopSignal
	Blocks []models.ContentBlock
	Usage  Usage
}

// Oracle decides the next step given the transcript.
type Oracle interface {
	Decide(ctx context.Context, req Request) (*Response, error)
}
