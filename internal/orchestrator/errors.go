package orchestrator

import (
	"errors"
	"fmt"

	"github.com/ShayCichocki/lakeforge/pkg/models"
)

var (
	// ErrInvalidPipeline is returned when the task list fails validation.
	// No stage runs in that case.
	ErrInvalidPipeline = errors.New("invalid pipeline")
	// ErrStageExhausted marks a stage that used its whole iteration budget
	// without completing.
	ErrStageExhausted = errors.New("stage exhausted its iteration budget")
)

// StageError attaches stage context to a stage that did not complete.
type StageError struct {
	Stage   string
	Ordinal int
	Outcome models.StageOutcome
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s (ordinal %d) %s: %v", e.Stage, e.Ordinal, e.Outcome, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
