package state

import (
	"fmt"
	"time"
)

// GlueJob is an AWS Glue job created by the create_glue_job capability.
type GlueJob struct {
	Name           string    `json:"name"`
	ScriptLocation string    `json:"script_location"`
	Role           string    `json:"role"`
	JobRunID       string    `json:"job_run_id,omitempty"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

// RecordGlueJob stores or replaces a Glue job record.
func (db *DB) RecordGlueJob(j *GlueJob) error {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	_, err := db.Exec(`
		INSERT INTO glue_jobs (name, script_location, role, job_run_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			script_location = excluded.script_location,
			role = excluded.role,
			job_run_id = excluded.job_run_id,
			status = excluded.status
	`, j.Name, j.ScriptLocation, j.Role, j.JobRunID, j.Status, formatTime(j.CreatedAt))
	if err != nil {
		return fmt.Errorf("record glue job: %w", err)
	}
	return nil
}

// ListGlueJobs lists recorded Glue jobs by name.
func (db *DB) ListGlueJobs() ([]GlueJob, error) {
	rows, err := db.Query(`
		SELECT name, script_location, role, job_run_id, status, created_at
		FROM glue_jobs ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list glue jobs: %w", err)
	}
	defer rows.Close()

	var jobs []GlueJob
	for rows.Next() {
		var j GlueJob
		var createdAt string
		if err := rows.Scan(&j.Name, &j.ScriptLocation, &j.Role, &j.JobRunID, &j.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("scan glue job: %w", err)
		}
		j.CreatedAt, _ = parseTime(createdAt)
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// DeltaOperation is one entry of the Delta Lake operation log.
type DeltaOperation struct {
	ID        int64     `json:"version"`
	Operation string    `json:"operation"`
	Path      string    `json:"path"`
	Query     string    `json:"query,omitempty"`
	CreatedAt time.Time `json:"timestamp"`
}

// RecordDeltaOperation appends an operation to the log and sets its ID.
func (db *DB) RecordDeltaOperation(op *DeltaOperation) error {
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now()
	}
	res, err := db.Exec(`
		INSERT INTO delta_operations (operation, path, query, created_at) VALUES (?, ?, ?, ?)
	`, op.Operation, op.Path, op.Query, formatTime(op.CreatedAt))
	if err != nil {
		return fmt.Errorf("record delta operation: %w", err)
	}
	op.ID, _ = res.LastInsertId()
	return nil
}

// ListDeltaOperations lists the operations recorded for a table path, oldest first.
func (db *DB) ListDeltaOperations(path string) ([]DeltaOperation, error) {
	rows, err := db.Query(`
		SELECT id, operation, path, query, created_at
		FROM delta_operations WHERE path = ? ORDER BY id
	`, path)
	if err != nil {
		return nil, fmt.Errorf("list delta operations: %w", err)
	}
	defer rows.Close()

	var ops []DeltaOperation
	for rows.Next() {
		var op DeltaOperation
		var createdAt string
		if err := rows.Scan(&op.ID, &op.Operation, &op.Path, &op.Query, &createdAt); err != nil {
			return nil, fmt.Errorf("scan delta operation: %w", err)
		}
		op.CreatedAt, _ = parseTime(createdAt)
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// TestRun is one execution of the run_tests capability.
type TestRun struct {
	ID        int64     `json:"id"`
	TestType  string    `json:"test_type"`
	Target    string    `json:"target"`
	Passed    bool      `json:"passed"`
	ExitCode  int       `json:"exit_code"`
	Output    string    `json:"output"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordTestRun stores a test run and sets its ID.
func (db *DB) RecordTestRun(r *TestRun) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	res, err := db.Exec(`
		INSERT INTO test_runs (test_type, target, passed, exit_code, output, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.TestType, r.Target, r.Passed, r.ExitCode, r.Output, formatTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("record test run: %w", err)
	}
	r.ID, _ = res.LastInsertId()
	return nil
}

// ListTestRuns lists the most recent test runs first. A limit <= 0 lists all.
func (db *DB) ListTestRuns(limit int) ([]TestRun, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`
		SELECT id, test_type, target, passed, exit_code, output, created_at
		FROM test_runs ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list test runs: %w", err)
	}
	defer rows.Close()

	var runs []TestRun
	for rows.Next() {
		var r TestRun
		var createdAt string
		if err := rows.Scan(&r.ID, &r.TestType, &r.Target, &r.Passed, &r.ExitCode, &r.Output, &createdAt); err != nil {
			return nil, fmt.Errorf("scan test run: %w", err)
		}
		r.CreatedAt, _ = parseTime(createdAt)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
