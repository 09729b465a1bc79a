// Package git provides the git operations used to commit generated pipeline code.
package git

import "context"

// CommitOperations defines the interface for git commit operations.
type CommitOperations interface {
	// Add stages the specified files for commit.
	Add(ctx context.Context, paths ...string) error
	// Commit creates a new commit with the given message.
	Commit(ctx context.Context, message string) error
}

// Runner defines the git operations lakeforge needs.
type Runner interface {
	CommitOperations
	// IsRepo reports whether the working directory is inside a git work tree.
	IsRepo(ctx context.Context) bool
	// CurrentBranch returns the name of the current branch.
	CurrentBranch(ctx context.Context) (string, error)
	// Status returns the output of git status --porcelain.
	Status(ctx context.Context) (string, error)
}
