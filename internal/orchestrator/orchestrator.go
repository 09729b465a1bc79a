package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ShayCichocki/lakeforge/internal/capability"
	"github.com/ShayCichocki/lakeforge/internal/loop"
	"github.com/ShayCichocki/lakeforge/internal/state"
	"github.com/ShayCichocki/lakeforge/pkg/models"
)

// Runner runs one stage's turn-taking loop. *loop.Loop implements it.
type Runner interface {
	Run(ctx context.Context, framing, task string, table *capability.Table, budget int) (*loop.Result, error)
}

// eventSource is implemented by runners that publish loop events.
type eventSource interface {
	SetEventHandler(fn func(loop.Event)) func(loop.Event)
}

// Policy decides what happens after a stage does not complete.
type Policy string

const (
	// PolicyHalt stops the run at the first stage that does not complete.
	PolicyHalt Policy = "halt"
	// PolicyContinue records the failure and moves on to the next stage.
	PolicyContinue Policy = "continue"
)

// PolicyFor maps the pipeline.halt_on_failure setting onto a Policy.
func PolicyFor(haltOnFailure bool) Policy {
	if haltOnFailure {
		return PolicyHalt
	}
	return PolicyContinue
}

// Report summarizes a pipeline run.
type Report struct {
	RunID  string
	Name   string
	Policy Policy
	// Stages holds one report per stage that ran, in execution order.
	Stages []models.StageReport
	// Skipped names the stages that never ran because the run halted.
	Skipped []string
	// Halted is true when the run stopped before the last stage.
	Halted     bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// Succeeded reports whether every stage ran and completed.
func (r *Report) Succeeded() bool {
	if r == nil || r.Halted || len(r.Skipped) > 0 {
		return false
	}
	for _, s := range r.Stages {
		if !s.Outcome.Succeeded() {
			return false
		}
	}
	return true
}

// Failed returns the stages that did not complete.
func (r *Report) Failed() []models.StageReport {
	var out []models.StageReport
	for _, s := range r.Stages {
		if !s.Outcome.Succeeded() {
			out = append(out, s)
		}
	}
	return out
}

// Tokens returns the oracle token totals across all stages.
func (r *Report) Tokens() (in, out int64) {
	for _, s := range r.Stages {
		in += s.TokensIn
		out += s.TokensOut
	}
	return in, out
}

// PlannedStage is a validated stage as it will run.
type PlannedStage struct {
	Task         models.PipelineTask
	Capabilities []string
	Budget       int
}

// Orchestrator sequences pipeline stages over a shared capability table.
type Orchestrator struct {
	runner Runner
	table  *capability.Table
	opts   orchestratorOptions
}

// New creates an orchestrator. Stages without a capability subset use table.
func New(runner Runner, table *capability.Table, opts ...Option) *Orchestrator {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Orchestrator{runner: runner, table: table, opts: o}
}

// Plan validates tasks and returns them in execution order without running anything.
func (o *Orchestrator) Plan(tasks []models.PipelineTask) ([]PlannedStage, error) {
	plans, err := plan(tasks, o.table, o.opts.defaultBudget)
	if err != nil {
		return nil, err
	}
	out := make([]PlannedStage, 0, len(plans))
	for _, p := range plans {
		out = append(out, PlannedStage{Task: p.task, Capabilities: p.table.Names(), Budget: p.budget})
	}
	return out, nil
}

// Run executes tasks in ordinal order, one loop per stage.
//
// Validation failures return ErrInvalidPipeline before any stage starts.
// Otherwise the report is always returned; the error joins a *StageError for
// every stage that exhausted its budget or failed. A cancelled or expired ctx
// halts the run regardless of policy.
func (o *Orchestrator) Run(ctx context.Context, tasks []models.PipelineTask) (*Report, error) {
	if o.opts.policy != PolicyHalt && o.opts.policy != PolicyContinue {
		return nil, fmt.Errorf("%w: unknown policy %q", ErrInvalidPipeline, o.opts.policy)
	}
	plans, err := plan(tasks, o.table, o.opts.defaultBudget)
	if err != nil {
		return nil, err
	}

	if o.opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.timeout)
		defer cancel()
	}

	report := &Report{
		RunID:     uuid.New().String(),
		Name:      o.opts.name,
		Policy:    o.opts.policy,
		StartedAt: time.Now(),
	}
	log := o.opts.logger.With().Str("run_id", report.RunID).Str("pipeline", report.Name).Logger()

	o.record(log, "create run", func(r state.RunStore) error {
		return r.CreateRun(&state.PipelineRun{
			ID:         report.RunID,
			Name:       report.Name,
			Policy:     string(report.Policy),
			Status:     state.RunRunning,
			StageCount: len(plans),
			PID:        os.Getpid(),
			StartedAt:  report.StartedAt,
		})
	})
	log.Info().Int("stages", len(plans)).Str("policy", string(report.Policy)).Msg("pipeline started")
	o.emit(Event{Type: EventRunStarted, RunID: report.RunID, Total: len(plans), Message: report.Name})

	var errs []error
	interrupted := false
	for i, p := range plans {
		sr, err := o.runStage(ctx, log, report.RunID, i+1, len(plans), p)
		report.Stages = append(report.Stages, sr)
		if err == nil {
			continue
		}
		errs = append(errs, err)
		interrupted = errors.Is(err, loop.ErrInterrupted)

		if o.opts.policy == PolicyHalt || interrupted {
			report.Halted = i < len(plans)-1
			for j, rest := range plans[i+1:] {
				report.Skipped = append(report.Skipped, rest.task.Name)
				o.emit(Event{
					Type:    EventStageSkipped,
					RunID:   report.RunID,
					Stage:   rest.task.Name,
					Ordinal: rest.task.Ordinal,
					Index:   i + j + 2,
					Total:   len(plans),
				})
			}
			break
		}
		log.Warn().Str("stage", sr.Name).Msg("stage did not complete, continuing")
	}

	report.FinishedAt = time.Now()
	runErr := errors.Join(errs...)

	status := state.RunCompleted
	switch {
	case interrupted:
		status = state.RunInterrupted
	case runErr != nil:
		status = state.RunFailed
	}
	var errMsg string
	if runErr != nil {
		errMsg = strings.ReplaceAll(runErr.Error(), "\n", "; ")
	}
	o.record(log, "finish run", func(r state.RunStore) error {
		return r.FinishRun(report.RunID, status, errMsg, report.FinishedAt)
	})

	in, out := report.Tokens()
	log.Info().
		Str("status", string(status)).
		Int("ran", len(report.Stages)).
		Int("skipped", len(report.Skipped)).
		Int64("tokens_in", in).
		Int64("tokens_out", out).
		Dur("duration", report.FinishedAt.Sub(report.StartedAt)).
		Msg("pipeline finished")
	o.emit(Event{
		Type:      EventRunFinished,
		RunID:     report.RunID,
		Total:     len(plans),
		Message:   string(status),
		Error:     runErr,
		TokensIn:  in,
		TokensOut: out,
		Duration:  report.FinishedAt.Sub(report.StartedAt),
	})
	return report, runErr
}

// runStage runs one stage and returns its report and, unless it completed,
// a *StageError.
func (o *Orchestrator) runStage(ctx context.Context, log zerolog.Logger, runID string, index, total int, p stagePlan) (models.StageReport, error) {
	t := p.task
	stageLog := log.With().Str("stage", t.Name).Int("ordinal", t.Ordinal).Logger()
	sr := models.StageReport{
		ID:        uuid.New().String(),
		Name:      t.Name,
		Ordinal:   t.Ordinal,
		StartedAt: time.Now(),
	}
	base := Event{RunID: runID, Stage: t.Name, Ordinal: t.Ordinal, Index: index, Total: total}

	stageLog.Info().Int("budget", p.budget).Int("capabilities", p.table.Len()).Msg("stage started")
	ev := base
	ev.Type = EventStageStarted
	o.emit(ev)

	if src, ok := o.runner.(eventSource); ok && o.opts.onEvent != nil {
		var prev func(loop.Event)
		prev = src.SetEventHandler(func(le loop.Event) {
			if prev != nil {
				prev(le)
			}
			ev := base
			ev.Type = EventLoop
			ev.Loop = &le
			o.emit(ev)
		})
		defer src.SetEventHandler(prev)
	}

	stageCtx := capability.ContextWithStage(stageLog.WithContext(ctx), t.Name)
	res, err := o.runner.Run(stageCtx, t.Framing, t.Task, p.table, p.budget)
	sr.FinishedAt = time.Now()
	if res != nil {
		sr.Iterations = res.Iterations
		sr.Dispatches = res.Dispatches
		sr.TokensIn = res.TokensIn
		sr.TokensOut = res.TokensOut
	}
	if err == nil && res == nil {
		err = errors.New("runner returned no result")
	}
	if err != nil && ctx.Err() != nil {
		if cause := context.Cause(ctx); cause != nil && !errors.Is(err, cause) {
			err = fmt.Errorf("%w: %w", err, cause)
		}
	}

	var stageErr error
	switch {
	case err != nil:
		sr.Outcome = models.OutcomeFailed
		sr.Error = err.Error()
		stageErr = &StageError{Stage: t.Name, Ordinal: t.Ordinal, Outcome: sr.Outcome, Err: err}
	case res.Exhausted():
		sr.Outcome = models.OutcomeExhausted
		sr.Output = res.Output
		sr.Error = ErrStageExhausted.Error()
		stageErr = &StageError{Stage: t.Name, Ordinal: t.Ordinal, Outcome: sr.Outcome, Err: ErrStageExhausted}
	default:
		sr.Outcome = models.OutcomeCompleted
		sr.Output = res.Output
	}

	o.record(stageLog, "record stage", func(r state.RunStore) error {
		return r.RecordStage(runID, sr)
	})

	done := stageLog.Info()
	if stageErr != nil {
		done = stageLog.Error().Err(err)
	}
	done.Str("outcome", string(sr.Outcome)).
		Int("iterations", sr.Iterations).
		Int("dispatches", sr.Dispatches).
		Dur("duration", sr.Duration()).
		Msg("stage finished")

	ev = base
	ev.Type = EventStageFinished
	ev.Outcome = sr.Outcome
	ev.Message = sr.Output
	ev.Error = stageErr
	ev.TokensIn = sr.TokensIn
	ev.TokensOut = sr.TokensOut
	ev.Duration = sr.Duration()
	o.emit(ev)

	return sr, stageErr
}

// record writes to the ledger when one is configured. Ledger failures are
// logged and never change the outcome of the run.
func (o *Orchestrator) record(log zerolog.Logger, what string, fn func(state.RunStore) error) {
	if o.opts.recorder == nil {
		return
	}
	if err := fn(o.opts.recorder); err != nil {
		log.Warn().Err(err).Msg(what + " failed")
	}
}

func (o *Orchestrator) emit(e Event) {
	if o.opts.onEvent == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	o.opts.onEvent(e)
}
