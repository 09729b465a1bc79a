package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ShayCichocki/lakeforge/pkg/models"
)

// RunStatus represents the status of a pipeline run.
type RunStatus string

const (
	RunRunning     RunStatus = "running"
	RunCompleted   RunStatus = "completed"
	RunFailed      RunStatus = "failed"
	RunInterrupted RunStatus = "interrupted"
)

// PipelineRun is one execution of a pipeline.
type PipelineRun struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Policy     string     `json:"policy"`
	Status     RunStatus  `json:"status"`
	StageCount int        `json:"stage_count"`
	PID        int        `json:"pid"`
	Error      string     `json:"error"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
}

// CreateRun records the start of a pipeline run.
func (db *DB) CreateRun(r *PipelineRun) error {
	if r.Status == "" {
		r.Status = RunRunning
	}
	_, err := db.Exec(`
		INSERT INTO pipeline_runs (id, name, policy, status, stage_count, pid, error, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Name, r.Policy, string(r.Status), r.StageCount, r.PID, r.Error, formatTime(r.StartedAt))
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// FinishRun records the terminal status of a run.
func (db *DB) FinishRun(id string, status RunStatus, errMsg string, at time.Time) error {
	res, err := db.Exec(`
		UPDATE pipeline_runs SET status = ?, error = ?, finished_at = ? WHERE id = ?
	`, string(status), errMsg, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run: run %s not found", id)
	}
	return nil
}

// GetRun retrieves a run by ID. Returns nil if not found.
func (db *DB) GetRun(id string) (*PipelineRun, error) {
	row := db.QueryRow(`
		SELECT id, name, policy, status, stage_count, pid, error, started_at, finished_at
		FROM pipeline_runs WHERE id = ?
	`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns lists the most recent runs first. A limit <= 0 lists all runs.
func (db *DB) ListRuns(limit int) ([]PipelineRun, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`
		SELECT id, name, policy, status, stage_count, pid, error, started_at, finished_at
		FROM pipeline_runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []PipelineRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// listRunsByStatus lists runs with the given status.
func (db *DB) listRunsByStatus(status RunStatus) ([]PipelineRun, error) {
	rows, err := db.Query(`
		SELECT id, name, policy, status, stage_count, pid, error, started_at, finished_at
		FROM pipeline_runs WHERE status = ? ORDER BY started_at
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list runs by status: %w", err)
	}
	defer rows.Close()

	var runs []PipelineRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func scanRun(s scanner) (*PipelineRun, error) {
	var r PipelineRun
	var startedAt string
	var finishedAt sql.NullString
	if err := s.Scan(&r.ID, &r.Name, &r.Policy, &r.Status, &r.StageCount, &r.PID, &r.Error, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	r.StartedAt, _ = parseTime(startedAt)
	r.FinishedAt = parseNullableTime(finishedAt)
	return &r, nil
}

// RecordStage stores the report of one stage of a run.
func (db *DB) RecordStage(runID string, r models.StageReport) error {
	_, err := db.Exec(`
		INSERT INTO stage_runs (id, run_id, name, ordinal, outcome, output, error,
			iterations, dispatches, tokens_in, tokens_out, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, runID, r.Name, r.Ordinal, string(r.Outcome), r.Output, r.Error,
		r.Iterations, r.Dispatches, r.TokensIn, r.TokensOut,
		formatTime(r.StartedAt), formatTime(r.FinishedAt))
	if err != nil {
		return fmt.Errorf("record stage: %w", err)
	}
	return nil
}

// ListStages lists the stage reports of a run in ordinal order.
func (db *DB) ListStages(runID string) ([]models.StageReport, error) {
	rows, err := db.Query(`
		SELECT id, name, ordinal, outcome, output, error, iterations, dispatches,
			tokens_in, tokens_out, started_at, finished_at
		FROM stage_runs WHERE run_id = ? ORDER BY ordinal
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()

	var stages []models.StageReport
	for rows.Next() {
		var r models.StageReport
		var startedAt, finishedAt string
		if err := rows.Scan(&r.ID, &r.Name, &r.Ordinal, &r.Outcome, &r.Output, &r.Error,
			&r.Iterations, &r.Dispatches, &r.TokensIn, &r.TokensOut, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		r.StartedAt, _ = parseTime(startedAt)
		r.FinishedAt, _ = parseTime(finishedAt)
		stages = append(stages, r)
	}
	return stages, rows.Err()
}
