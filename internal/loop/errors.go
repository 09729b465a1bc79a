package loop

import (
	"errors"
	"fmt"

	"github.com/ShayCichocki/lakeforge/internal/oracle"
)

// ExhaustedMessage is the Output of a run that used its whole budget.
const ExhaustedMessage = "max iterations reached: agent did not complete"

var (
	// ErrInvalidBudget is returned when the iteration budget is below 1.
	ErrInvalidBudget = errors.New("iteration budget must be at least 1")
	// ErrInterrupted is returned when the run's context is cancelled or its
	// deadline passes. It is distinct from budget exhaustion.
	ErrInterrupted = errors.New("loop interrupted")
)

// OracleCallError reports a transport or service fault from the oracle.
// It is fatal to the run and never retried by the loop.
type OracleCallError struct {
	Iteration int
	Err       error
}

func (e *OracleCallError) Error() string {
	return fmt.Sprintf("oracle call %d failed: %v", e.Iteration, e.Err)
}

func (e *OracleCallError) Unwrap() error { return e.Err }

// ProtocolError reports an oracle response the loop cannot act on: an
// unrecognized stop signal or malformed content.
type ProtocolError struct {
	Iteration int
	Signal    oracle.StopSignal
	Reason    string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol violation at iteration %d (stop signal %q): %s", e.Iteration, e.Signal, e.Reason)
}
