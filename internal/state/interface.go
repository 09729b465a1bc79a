package state

import (
	"io"
	"time"

	"github.com/ShayCichocki/lakeforge/pkg/models"
)

// ArtifactStore is the shared store through which stages discover
// each other's output.
type ArtifactStore interface {
	PutArtifact(a *Artifact) error
	GetArtifact(name string) (*Artifact, error)
	ListArtifacts(prefix string) ([]Artifact, error)
}

// RunStore is the pipeline run ledger.
type RunStore interface {
	CreateRun(r *PipelineRun) error
	FinishRun(id string, status RunStatus, errMsg string, at time.Time) error
	GetRun(id string) (*PipelineRun, error)
	ListRuns(limit int) ([]PipelineRun, error)
	RecordStage(runID string, r models.StageReport) error
	ListStages(runID string) ([]models.StageReport, error)
}

// LakehouseLog records the side effects of lakehouse capabilities.
type LakehouseLog interface {
	RecordGlueJob(j *GlueJob) error
	ListGlueJobs() ([]GlueJob, error)
	RecordDeltaOperation(op *DeltaOperation) error
	ListDeltaOperations(path string) ([]DeltaOperation, error)
	RecordTestRun(r *TestRun) error
	ListTestRuns(limit int) ([]TestRun, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// StateStore composes every persistence concern lakeforge needs.
type StateStore interface {
	io.Closer
	Migrator
	ArtifactStore
	RunStore
	LakehouseLog
}

// Compile-time verification that DB implements all interfaces.
var (
	_ StateStore    = (*DB)(nil)
	_ Migrator      = (*DB)(nil)
	_ ArtifactStore = (*DB)(nil)
	_ RunStore      = (*DB)(nil)
	_ LakehouseLog  = (*DB)(nil)
)
