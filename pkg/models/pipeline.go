package models

import "time"

// PipelineTask is one statically declared stage of a pipeline.
type PipelineTask struct {
	// Name identifies the stage (for example "etl_generator/sap").
	Name string `json:"name" yaml:"name"`
	// Ordinal fixes the execution order; lower runs first.
	Ordinal int `json:"ordinal" yaml:"ordinal"`
	// Framing is the system prompt specialising the agent for this stage.
	Framing string `json:"framing" yaml:"framing"`
	// Task is the initial user request handed to the loop.
	Task string `json:"task" yaml:"task"`
	// Capabilities optionally restricts the stage to a subset of the shared table.
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	// IterationBudget overrides the default budget when positive.
	IterationBudget int `json:"iteration_budget,omitempty" yaml:"iteration_budget,omitempty"`
}

// StageOutcome is the terminal state of one stage.
type StageOutcome string

const (
	// OutcomeCompleted means the loop reached DONE.
	OutcomeCompleted StageOutcome = "completed"
	// OutcomeExhausted means the iteration budget ran out.
	OutcomeExhausted StageOutcome = "exhausted"
	// OutcomeFailed means the loop aborted with a fatal error.
	OutcomeFailed StageOutcome = "failed"
)

// Valid returns true if the outcome is a known value.
func (o StageOutcome) Valid() bool {
	switch o {
	case OutcomeCompleted, OutcomeExhausted, OutcomeFailed:
		return true
	default:
		return false
	}
}

// Succeeded reports whether the stage completed normally.
func (o StageOutcome) Succeeded() bool {
	return o == OutcomeCompleted
}

// StageReport records what happened in one stage.
type StageReport struct {
	// ID is the unique identifier of this stage execution.
	ID string `json:"id"`
	// Name is the stage name.
	Name string `json:"name"`
	// Ordinal is the stage position.
	Ordinal int `json:"ordinal"`
	// Outcome is the terminal state.
	Outcome StageOutcome `json:"outcome"`
	// Output is the final oracle text for completed stages.
	Output string `json:"output,omitempty"`
	// Error describes the fault for failed or exhausted stages.
	Error string `json:"error,omitempty"`
	// Iterations is the number of oracle calls made.
	Iterations int `json:"iterations"`
	// Dispatches is the number of actions dispatched.
	Dispatches int `json:"dispatches"`
	// TokensIn and TokensOut are the oracle token totals for the stage.
	TokensIn  int64 `json:"tokens_in"`
	TokensOut int64 `json:"tokens_out"`
	// StartedAt and FinishedAt bound the stage execution.
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration returns how long the stage ran.
func (r StageReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
