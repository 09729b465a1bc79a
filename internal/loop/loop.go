// Package loop implements the turn-taking loop that lets a decision oracle
// accomplish a task by requesting actions from a capability table.
//
// One iteration is one oracle call. The loop alternates between asking the
// oracle what to do and dispatching the actions it requested, feeding every
// result (including failures) back into the transcript, until the oracle
// reports completion or the iteration budget runs out.
package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/ShayCichocki/lakeforge/internal/capability"
	"github.com/ShayCichocki/lakeforge/internal/oracle"
	"github.com/ShayCichocki/lakeforge/pkg/models"
)

// DefaultBudget is the iteration budget used when none is configured.
const DefaultBudget = 25

// DefaultPreviewChars bounds the argument preview written to the log.
const DefaultPreviewChars = 100

// State is a state of the loop's state machine.
type State string

const (
	StateAwaitingOracle     State = "awaiting_oracle"
	StateDispatchingActions State = "dispatching_actions"
	StateDone               State = "done"
	StateExhausted          State = "exhausted"
)

// Result contains the outcome of one loop run.
type Result struct {
	// State is StateDone or StateExhausted for runs that returned no error.
	State State
	// Output is the oracle's final text, or ExhaustedMessage.
	Output     string
	Iterations int
	Dispatches int
	TokensIn   int64
	TokensOut  int64
	// Transcript is the full conversation in order.
	Transcript []models.Turn
}

// Completed reports whether the oracle signalled completion.
func (r *Result) Completed() bool { return r != nil && r.State == StateDone }

// Exhausted reports whether the budget ran out before completion.
func (r *Result) Exhausted() bool { return r != nil && r.State == StateExhausted }

// Config contains configuration for the loop.
type Config struct {
	Oracle oracle.Oracle
	// PreviewChars bounds logged argument previews (0 = DefaultPreviewChars).
	PreviewChars int
	Logger       zerolog.Logger
	// OnEvent, when set, receives progress events synchronously.
	OnEvent func(Event)
}

// Loop runs tasks against an oracle. A Loop holds no per-run state and may
// be reused sequentially; each Run owns its own transcript.
type Loop struct {
	oracle       oracle.Oracle
	previewChars int
	logger       zerolog.Logger
	onEvent      func(Event)
}

// New creates a loop with the given configuration.
func New(cfg Config) *Loop {
	preview := cfg.PreviewChars
	if preview <= 0 {
		preview = DefaultPreviewChars
	}
	return &Loop{
		oracle:       cfg.Oracle,
		previewChars: preview,
		logger:       cfg.Logger,
		onEvent:      cfg.OnEvent,
	}
}

// SetEventHandler replaces the progress callback and returns the previous one.
func (l *Loop) SetEventHandler(fn func(Event)) func(Event) {
	prev := l.onEvent
	l.onEvent = fn
	return prev
}

// loggerFor prefers a logger attached to ctx, so callers can add fields
// such as the stage name without building a new Loop.
func (l *Loop) loggerFor(ctx context.Context) zerolog.Logger {
	if ctxLog := zerolog.Ctx(ctx); ctxLog.GetLevel() != zerolog.Disabled {
		return *ctxLog
	}
	return l.logger
}

func (l *Loop) emit(e Event) {
	if l.onEvent != nil {
		l.onEvent(e)
	}
}

// Run executes the task under the given framing until the oracle completes
// or budget oracle calls have been made.
//
// A nil error means the run reached StateDone or StateExhausted; callers must
// check Result.State, exhaustion is not success. Errors are fatal and are an
// *OracleCallError, a *ProtocolError, or wrap ErrInterrupted or
// ErrInvalidBudget. The partial result is returned alongside fatal errors.
func (l *Loop) Run(ctx context.Context, framing, task string, table *capability.Table, budget int) (*Result, error) {
	if budget < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBudget, budget)
	}

	transcript := models.NewTranscript(task)
	decls := table.Declarations()
	result := &Result{State: StateAwaitingOracle}
	defer func() { result.Transcript = transcript.Turns() }()

	log := l.loggerFor(ctx).With().Int("budget", budget).Logger()
	var pending models.OracleTurn

	for {
		switch result.State {
		case StateAwaitingOracle:
			if result.Iterations >= budget {
				result.State = StateExhausted
				continue
			}
			if err := ctx.Err(); err != nil {
				return result, fmt.Errorf("%w before iteration %d: %w", ErrInterrupted, result.Iterations+1, err)
			}

			result.Iterations++
			log.Debug().Int("iteration", result.Iterations).Msg("calling oracle")
			l.emit(Event{Type: EventOracleCall, Iteration: result.Iterations})

			resp, err := l.oracle.Decide(ctx, oracle.Request{
				Framing:      framing,
				Capabilities: decls,
				Transcript:   transcript.Turns(),
			})
			if err != nil {
				l.emit(Event{Type: EventError, Iteration: result.Iterations, Content: err.Error()})
				if ctxErr := ctx.Err(); ctxErr != nil {
					return result, fmt.Errorf("%w during iteration %d: %w", ErrInterrupted, result.Iterations, ctxErr)
				}
				return result, &OracleCallError{Iteration: result.Iterations, Err: err}
			}
			if resp == nil {
				return result, &ProtocolError{Iteration: result.Iterations, Reason: "empty response"}
			}

			result.TokensIn += resp.Usage.InputTokens
			result.TokensOut += resp.Usage.OutputTokens

			turn := models.OracleTurn{Blocks: resp.Blocks}
			for _, b := range resp.Blocks {
				if tb, ok := b.(models.TextBlock); ok && tb.Text != "" {
					l.emit(Event{Type: EventText, Iteration: result.Iterations, Content: tb.Text})
				}
			}

			next, err := l.classify(result.Iterations, resp.Stop, turn)
			if err != nil {
				l.emit(Event{Type: EventError, Iteration: result.Iterations, Content: err.Error()})
				return result, err
			}
			if err := transcript.Append(turn); err != nil {
				return result, &ProtocolError{Iteration: result.Iterations, Signal: resp.Stop, Reason: err.Error()}
			}
			if next == StateDone {
				result.Output = turn.Text()
			}
			pending = turn
			result.State = next

		case StateDispatchingActions:
			reqs := pending.Requests()
			results := make([]models.ActionResult, 0, len(reqs))
			for _, req := range reqs {
				results = append(results, l.dispatch(ctx, log, result.Iterations, table, req))
			}
			result.Dispatches += len(results)

			if err := transcript.Append(models.UserTurn{Results: results}); err != nil {
				return result, fmt.Errorf("append action results: %w", err)
			}
			result.State = StateAwaitingOracle

		case StateDone:
			log.Info().
				Int("iterations", result.Iterations).
				Int("dispatches", result.Dispatches).
				Msg("agent completed")
			l.emit(Event{Type: EventDone, Iteration: result.Iterations, Content: result.Output})
			return result, nil

		case StateExhausted:
			result.Output = ExhaustedMessage
			log.Warn().
				Int("iterations", result.Iterations).
				Int("dispatches", result.Dispatches).
				Msg("iteration budget exhausted")
			l.emit(Event{Type: EventExhausted, Iteration: result.Iterations, Content: ExhaustedMessage})
			return result, nil

		default:
			return result, fmt.Errorf("loop reached unknown state %q", result.State)
		}
	}
}

// classify validates an oracle response and returns the next state.
func (l *Loop) classify(iteration int, stop oracle.StopSignal, turn models.OracleTurn) (State, error) {
	reqs := turn.Requests()
	switch stop {
	case oracle.StopCompleted:
		if len(reqs) > 0 {
			return "", &ProtocolError{Iteration: iteration, Signal: stop, Reason: fmt.Sprintf("completion carries %d action requests", len(reqs))}
		}
		return StateDone, nil

	case oracle.StopActionsRequested:
		if len(reqs) == 0 {
			return "", &ProtocolError{Iteration: iteration, Signal: stop, Reason: "no action requests in response"}
		}
		seen := make(map[string]struct{}, len(reqs))
		for i, r := range reqs {
			if r.ID == "" {
				return "", &ProtocolError{Iteration: iteration, Signal: stop, Reason: fmt.Sprintf("action request %d has no id", i)}
			}
			if _, dup := seen[r.ID]; dup {
				return "", &ProtocolError{Iteration: iteration, Signal: stop, Reason: fmt.Sprintf("duplicate action request id %q", r.ID)}
			}
			seen[r.ID] = struct{}{}
		}
		return StateDispatchingActions, nil

	default:
		return "", &ProtocolError{Iteration: iteration, Signal: stop, Reason: "unrecognized stop signal"}
	}
}

// dispatch runs one action and logs the call/result pair.
func (l *Loop) dispatch(ctx context.Context, log zerolog.Logger, iteration int, table *capability.Table, req models.ActionRequest) models.ActionResult {
	preview := truncate(argsPreview(req.Arguments), l.previewChars)
	log.Info().
		Int("iteration", iteration).
		Str("action", req.Name).
		Str("request_id", req.ID).
		Str("args_preview", preview).
		Msg("action call")
	l.emit(Event{Type: EventActionCall, Iteration: iteration, Action: req.Name, RequestID: req.ID, Content: preview})

	res, err := table.Dispatch(ctx, req)

	ev := log.Info()
	if res.Failed {
		ev = log.Warn().Err(err)
	}
	ev.Int("iteration", iteration).
		Str("action", req.Name).
		Str("request_id", req.ID).
		Bool("failed", res.Failed).
		Int("result_bytes", len(res.Payload)).
		Msg("action result")
	l.emit(Event{
		Type:      EventActionResult,
		Iteration: iteration,
		Action:    req.Name,
		RequestID: req.ID,
		Content:   truncate(res.Payload, 500),
		Failed:    res.Failed,
	})
	return res
}

func argsPreview(args json.RawMessage) string {
	if len(args) == 0 {
		return "{}"
	}
	return string(args)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
