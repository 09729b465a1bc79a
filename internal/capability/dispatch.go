package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ShayCichocki/lakeforge/pkg/models"
)

// ErrUnknownAction is reported when a request names no registered capability.
var ErrUnknownAction = errors.New("unknown action")

// HandlerError wraps a fault raised while a handler ran.
type HandlerError struct {
	Action   string
	Err      error
	Panicked bool
}

func (e *HandlerError) Error() string {
	if e.Panicked {
		return fmt.Sprintf("action %s panicked: %v", e.Action, e.Err)
	}
	return fmt.Sprintf("action %s failed: %v", e.Action, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// errorPayload formats a failure the way the oracle sees it.
func errorPayload(msg string) string {
	return "ERROR: " + msg
}

// Dispatch runs one action request and always returns a well-formed result.
// Unknown names, schema violations, handler errors and panics produce a
// failed result; the returned error describes that fault for logging and
// is never meant to abort the caller.
func (t *Table) Dispatch(ctx context.Context, req models.ActionRequest) (models.ActionResult, error) {
	result := models.ActionResult{RequestID: req.ID}

	var c *compiled
	if t != nil {
		c = t.byName[req.Name]
	}
	if c == nil {
		err := fmt.Errorf("%w: %q", ErrUnknownAction, req.Name)
		result.Failed = true
		result.Payload = errorPayload(fmt.Sprintf("Unknown action '%s'", req.Name))
		return result, err
	}

	args := req.Arguments
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	if err := c.validate(args); err != nil {
		result.Failed = true
		result.Payload = errorPayload(err.Error())
		return result, err
	}

	value, err := invoke(ctx, c.entry, args)
	if err != nil {
		result.Failed = true
		result.Payload = errorPayload(err.Error())
		return result, err
	}

	payload, err := json.Marshal(value)
	if err != nil {
		herr := &HandlerError{Action: req.Name, Err: fmt.Errorf("encode result: %w", err)}
		result.Failed = true
		result.Payload = errorPayload(herr.Error())
		return result, herr
	}

	result.Payload = string(payload)
	return result, nil
}

// invoke calls the handler and converts panics into HandlerErrors.
func invoke(ctx context.Context, e Entry, args json.RawMessage) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = &HandlerError{Action: e.Name, Err: fmt.Errorf("%v", r), Panicked: true}
		}
	}()

	value, err = e.Handler(ctx, args)
	if err != nil {
		var herr *HandlerError
		if !errors.As(err, &herr) {
			err = &HandlerError{Action: e.Name, Err: err}
		}
		return nil, err
	}
	return value, nil
}
