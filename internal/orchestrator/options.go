package orchestrator

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/ShayCichocki/lakeforge/internal/loop"
	"github.com/ShayCichocki/lakeforge/internal/state"
)

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*orchestratorOptions)

type orchestratorOptions struct {
	name          string
	policy        Policy
	defaultBudget int
	timeout       time.Duration
	logger        zerolog.Logger
	recorder      state.RunStore
	onEvent       func(Event)
}

func defaultOptions() orchestratorOptions {
	return orchestratorOptions{
		name:          "pipeline",
		policy:        PolicyHalt,
		defaultBudget: loop.DefaultBudget,
		logger:        zerolog.Nop(),
	}
}

// WithName sets the pipeline name recorded in the run ledger.
func WithName(name string) Option {
	return func(o *orchestratorOptions) { o.name = name }
}

// WithPolicy sets the failure policy (default PolicyHalt).
func WithPolicy(p Policy) Option {
	return func(o *orchestratorOptions) { o.policy = p }
}

// WithDefaultBudget sets the iteration budget for stages that declare none.
func WithDefaultBudget(n int) Option {
	return func(o *orchestratorOptions) { o.defaultBudget = n }
}

// WithTimeout caps the wall-clock duration of a whole run. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(o *orchestratorOptions) { o.timeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *orchestratorOptions) { o.logger = l }
}

// WithRecorder records runs and stage outcomes in the given ledger.
func WithRecorder(r state.RunStore) Option {
	return func(o *orchestratorOptions) { o.recorder = r }
}

// WithEvents sets a callback receiving orchestrator and loop events.
// It is called synchronously from the goroutine running the pipeline.
func WithEvents(fn func(Event)) Option {
	return func(o *orchestratorOptions) { o.onEvent = fn }
}
