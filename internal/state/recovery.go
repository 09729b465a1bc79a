package state

import (
	"fmt"
	"os"
	"syscall"
	"time"
)

// RecoverInterrupted marks runs left in the running state by a process
// that no longer exists as interrupted. Runs owned by a live process are
// left alone. Returns the runs that were marked.
func (db *DB) RecoverInterrupted() ([]PipelineRun, error) {
	running, err := db.listRunsByStatus(RunRunning)
	if err != nil {
		return nil, err
	}

	var recovered []PipelineRun
	for _, r := range running {
		if r.PID == os.Getpid() || isProcessAlive(r.PID) {
			continue
		}
		now := time.Now()
		if err := db.FinishRun(r.ID, RunInterrupted, "process exited before the run finished", now); err != nil {
			return recovered, fmt.Errorf("recover run %s: %w", r.ID, err)
		}
		r.Status = RunInterrupted
		r.FinishedAt = &now
		recovered = append(recovered, r)
	}
	return recovered, nil
}

// isProcessAlive checks if a process with the given PID is still running.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Send signal 0 to check if process exists
	err = process.Signal(syscall.Signal(0))
	return err == nil
}
