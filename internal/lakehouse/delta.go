package lakehouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/lakeforge/internal/state"
)

type deltaArgs struct {
	Operation string `json:"operation" jsonschema:"enum=read,enum=write,enum=merge,enum=vacuum,enum=history,enum=describe"`
	Path      string `json:"path" jsonschema_description:"S3 path to the Delta table"`
	Query     string `json:"query,omitempty" jsonschema_description:"Optional SQL for read or merge"`
}

type deltaResult struct {
	Status    string `json:"status"`
	Operation string `json:"operation"`
	Path      string `json:"path"`
	// Version is the table version after the operation, -1 for an empty table.
	Version int    `json:"version"`
	Query   string `json:"query,omitempty"`
}

type deltaHistoryEntry struct {
	Version   int       `json:"version"`
	Operation string    `json:"operation"`
	Query     string    `json:"query,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type deltaDescription struct {
	Path          string         `json:"path"`
	Version       int            `json:"version"`
	Operations    map[string]int `json:"operations"`
	LastOperation string         `json:"last_operation,omitempty"`
	CreatedAt     *time.Time     `json:"created_at,omitempty"`
	LastModified  *time.Time     `json:"last_modified,omitempty"`
}

// isDeltaCommit reports whether op creates a new table version.
func isDeltaCommit(op string) bool {
	switch op {
	case "write", "merge", "vacuum":
		return true
	}
	return false
}

func (k *Toolkit) deltaLakeOperation(ctx context.Context, in deltaArgs) (any, error) {
	path := strings.TrimRight(strings.TrimSpace(in.Path), "/")
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	if in.Operation == "merge" && strings.TrimSpace(in.Query) == "" {
		return nil, fmt.Errorf("merge requires a query")
	}

	if isDeltaCommit(in.Operation) {
		op := &state.DeltaOperation{Operation: in.Operation, Path: path, Query: in.Query}
		if err := k.env.Store.RecordDeltaOperation(op); err != nil {
			return nil, err
		}
		k.env.Logger.Info().Str("operation", in.Operation).Str("path", path).Msg("delta commit")
	}

	ops, err := k.env.Store.ListDeltaOperations(path)
	if err != nil {
		return nil, err
	}

	switch in.Operation {
	case "history":
		history := make([]deltaHistoryEntry, 0, len(ops))
		// Newest first, as DESCRIBE HISTORY reports it.
		for i := len(ops) - 1; i >= 0; i-- {
			history = append(history, deltaHistoryEntry{
				Version:   i,
				Operation: ops[i].Operation,
				Query:     ops[i].Query,
				Timestamp: ops[i].CreatedAt,
			})
		}
		return map[string]any{"path": path, "version": len(ops) - 1, "history": history}, nil
	case "describe":
		return describeDelta(path, ops), nil
	default:
		return &deltaResult{
			Status:    "success",
			Operation: in.Operation,
			Path:      path,
			Version:   len(ops) - 1,
			Query:     in.Query,
		}, nil
	}
}

func describeDelta(path string, ops []state.DeltaOperation) *deltaDescription {
	d := &deltaDescription{Path: path, Version: len(ops) - 1, Operations: map[string]int{}}
	for _, op := range ops {
		d.Operations[op.Operation]++
	}
	if len(ops) > 0 {
		first, last := ops[0].CreatedAt, ops[len(ops)-1].CreatedAt
		d.CreatedAt = &first
		d.LastModified = &last
		d.LastOperation = ops[len(ops)-1].Operation
	}
	return d
}
