package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/ShayCichocki/lakeforge/pkg/models"
)

// ErrScriptExhausted is returned when a Scripted oracle has no responses left.
var ErrScriptExhausted = errors.New("scripted oracle: no more responses available")

// Scripted is an Oracle that replays a pre-defined sequence of responses.
// Useful for testing multi-turn loops deterministically.
type Scripted struct {
	mu        sync.Mutex
	responses []Response
	// Repeat, when set, is returned once the script runs out.
	Repeat *Response
	// Err, when set, is returned by every call.
	Err error

	calls    int
	requests []Request
}

// NewScripted creates a Scripted oracle that returns responses in order.
func NewScripted(responses ...Response) *Scripted {
	return &Scripted{responses: responses}
}

// Decide pops the next scripted response.
func (s *Scripted) Decide(ctx context.Context, req Request) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	req.Transcript = append([]models.Turn(nil), req.Transcript...)
	s.requests = append(s.requests, req)

	if s.Err != nil {
		return nil, s.Err
	}
	if len(s.responses) == 0 {
		if s.Repeat != nil {
			resp := *s.Repeat
			return &resp, nil
		}
		return nil, ErrScriptExhausted
	}

	resp := s.responses[0]
	s.responses = s.responses[1:]
	return &resp, nil
}

// Calls returns how many times Decide was called.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Requests returns the requests received so far.
func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Completed builds a response that ends the run with the given text.
func Completed(text string) Response {
	return Response{
		Stop:   StopCompleted,
		Blocks: []models.ContentBlock{models.TextBlock{Text: text}},
	}
}

// RequestActions builds a response asking for the given actions.
func RequestActions(reqs ...models.ActionRequest) Response {
	blocks := make([]models.ContentBlock, 0, len(reqs))
	for _, r := range reqs {
		blocks = append(blocks, r)
	}
	return Response{Stop: StopActionsRequested, Blocks: blocks}
}

// Action builds an action request with JSON-encoded arguments.
// It panics if args cannot be encoded.
func Action(id, name string, args any) models.ActionRequest {
	var raw json.RawMessage
	if args != nil {
		b, err := json.Marshal(args)
		if err != nil {
			panic(err)
		}
		raw = b
	}
	return models.ActionRequest{ID: id, Name: name, Arguments: raw}
}
