// Package exec provides an interface for running external tools such as
// pytest, dbt and Great Expectations.
package exec

import (
	"context"
)

// CommandRunner defines the interface for running external commands.
// This abstraction allows mocking command execution in tests.
type CommandRunner interface {
	// Run executes a command and returns combined stdout/stderr output.
	// The working directory is set to workDir if non-empty. A command that
	// ran but exited non-zero returns its output and an *ExitError.
	Run(ctx context.Context, workDir string, name string, args ...string) (output []byte, err error)

	// LookPath reports the resolved path of an executable.
	LookPath(name string) (string, error)
}
