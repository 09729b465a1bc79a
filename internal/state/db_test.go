package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ShayCichocki/lakeforge/pkg/models"
)

// tempDBPath returns a path to a temp database file.
func tempDBPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "test.db")
}

// setupTestDB creates a new temporary database for testing.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func TestOpen(t *testing.T) {
	path := tempDBPath(t)
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("database file does not exist at %s", path)
	}
}

func TestOpen_CreatesParentDirectories(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b", "c")

	db, err := Open(filepath.Join(nested, "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(nested); os.IsNotExist(err) {
		t.Errorf("parent directories not created: %s", nested)
	}
}

func TestOpenWorkspace(t *testing.T) {
	dir := t.TempDir()
	db, err := OpenWorkspace(dir)
	if err != nil {
		t.Fatalf("OpenWorkspace failed: %v", err)
	}
	defer db.Close()

	if db.Path() != filepath.Join(dir, "state.db") {
		t.Errorf("Path() = %q", db.Path())
	}
}

func TestClose(t *testing.T) {
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	if _, err := db.Query("SELECT 1"); err == nil {
		t.Error("expected error after close, got nil")
	}
}

func TestMigrate(t *testing.T) {
	db := setupTestDB(t)

	tables := []string{"schema_version", "artifacts", "pipeline_runs", "stage_runs", "glue_jobs", "delta_operations", "test_runs"}
	for _, table := range tables {
		var count int
		row := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table)
		if err := row.Scan(&count); err != nil {
			t.Errorf("failed to check table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s does not exist", table)
		}
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	for i := 0; i < 3; i++ {
		if err := db.Migrate(); err != nil {
			t.Fatalf("Migrate (iteration %d) failed: %v", i, err)
		}
	}

	var version int
	if err := db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
		t.Fatalf("failed to get schema version: %v", err)
	}
	if version != SchemaVersion {
		t.Errorf("schema version = %d, want %d", version, SchemaVersion)
	}
}

func TestArtifacts(t *testing.T) {
	db := setupTestDB(t)

	a := &Artifact{Name: "pipelines/sap/extract.py", Path: "/repo/pipelines/sap/extract.py", Language: "pyspark", SizeBytes: 120, Stage: "etl_generator/sap"}
	if err := db.PutArtifact(a); err != nil {
		t.Fatalf("PutArtifact failed: %v", err)
	}
	if a.ID == "" {
		t.Error("PutArtifact should assign an ID")
	}
	if err := db.PutArtifact(&Artifact{Name: "dbt/models/dim_customer.sql", Path: "/repo/dbt/models/dim_customer.sql", Language: "dbt_sql"}); err != nil {
		t.Fatalf("PutArtifact failed: %v", err)
	}

	// Rewriting a file updates the existing entry.
	if err := db.PutArtifact(&Artifact{Name: "pipelines/sap/extract.py", Path: a.Path, Language: "pyspark", SizeBytes: 300, Stage: "etl_generator/sap"}); err != nil {
		t.Fatalf("PutArtifact (update) failed: %v", err)
	}

	got, err := db.GetArtifact("pipelines/sap/extract.py")
	if err != nil {
		t.Fatalf("GetArtifact failed: %v", err)
	}
	if got == nil || got.SizeBytes != 300 || got.ID != a.ID {
		t.Errorf("GetArtifact = %+v, want size 300 and id %s", got, a.ID)
	}

	missing, err := db.GetArtifact("nope")
	if err != nil || missing != nil {
		t.Errorf("GetArtifact(nope) = %v, %v; want nil, nil", missing, err)
	}

	all, err := db.ListArtifacts("")
	if err != nil {
		t.Fatalf("ListArtifacts failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("ListArtifacts(\"\") = %d, want 2", len(all))
	}

	pipelines, err := db.ListArtifacts("pipelines/")
	if err != nil {
		t.Fatalf("ListArtifacts failed: %v", err)
	}
	if len(pipelines) != 1 || pipelines[0].Name != "pipelines/sap/extract.py" {
		t.Errorf("ListArtifacts(pipelines/) = %+v", pipelines)
	}
}

func TestArtifactName(t *testing.T) {
	tests := map[string]string{
		"./dbt/models/x.sql": "dbt/models/x.sql",
		"dags\\mdm.py":       "dags/mdm.py",
		"README.md":          "README.md",
	}
	for in, want := range tests {
		if got := ArtifactName(in); got != want {
			t.Errorf("ArtifactName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRunLedger(t *testing.T) {
	db := setupTestDB(t)
	start := time.Now().Add(-time.Minute)

	run := &PipelineRun{ID: "run-1", Name: "mdm", Policy: "halt", StageCount: 2, PID: os.Getpid(), StartedAt: start}
	if err := db.CreateRun(run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	stages := []models.StageReport{
		{ID: "s-2", Name: "dq_engine", Ordinal: 2, Outcome: models.OutcomeExhausted, Error: "budget", Iterations: 25, StartedAt: start, FinishedAt: start.Add(time.Second)},
		{ID: "s-1", Name: "etl_generator/sap", Ordinal: 1, Outcome: models.OutcomeCompleted, Output: "done", Iterations: 3, Dispatches: 4, TokensIn: 100, TokensOut: 20, StartedAt: start, FinishedAt: start.Add(time.Second)},
	}
	for _, s := range stages {
		if err := db.RecordStage(run.ID, s); err != nil {
			t.Fatalf("RecordStage failed: %v", err)
		}
	}

	if err := db.FinishRun(run.ID, RunFailed, "stage dq_engine exhausted", time.Now()); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	got, err := db.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != RunFailed || got.FinishedAt == nil || got.Error == "" {
		t.Errorf("GetRun = %+v", got)
	}

	listed, err := db.ListStages(run.ID)
	if err != nil {
		t.Fatalf("ListStages failed: %v", err)
	}
	if len(listed) != 2 || listed[0].Ordinal != 1 || listed[1].Outcome != models.OutcomeExhausted {
		t.Errorf("ListStages = %+v", listed)
	}
	if listed[0].TokensIn != 100 || listed[0].Dispatches != 4 {
		t.Errorf("stage counters lost: %+v", listed[0])
	}

	if err := db.FinishRun("missing", RunCompleted, "", time.Now()); err == nil {
		t.Error("FinishRun on a missing run should fail")
	}
}

func TestRecordStage_RequiresRun(t *testing.T) {
	db := setupTestDB(t)
	err := db.RecordStage("no-such-run", models.StageReport{ID: "s", Name: "x", Outcome: models.OutcomeCompleted})
	if err == nil {
		t.Error("RecordStage should fail for an unknown run")
	}
}

func TestListRuns(t *testing.T) {
	db := setupTestDB(t)
	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"a", "b", "c"} {
		if err := db.CreateRun(&PipelineRun{ID: id, Name: "mdm", Policy: "halt", StartedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}
	}

	runs, err := db.ListRuns(2)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Errorf("ListRuns(2) = %+v", runs)
	}

	all, err := db.ListRuns(0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("ListRuns(0) = %d runs, want 3", len(all))
	}
}

func TestPurgeOldRuns(t *testing.T) {
	db := setupTestDB(t)

	old := &PipelineRun{ID: "old", Name: "mdm", Policy: "halt", StartedAt: time.Now().Add(-48 * time.Hour)}
	fresh := &PipelineRun{ID: "fresh", Name: "mdm", Policy: "halt", StartedAt: time.Now()}
	for _, r := range []*PipelineRun{old, fresh} {
		if err := db.CreateRun(r); err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}
	}
	if err := db.RecordStage("old", models.StageReport{ID: "s-old", Name: "x", Outcome: models.OutcomeCompleted, StartedAt: old.StartedAt, FinishedAt: old.StartedAt}); err != nil {
		t.Fatalf("RecordStage failed: %v", err)
	}

	n, err := db.PurgeOldRuns(24 * time.Hour)
	if err != nil {
		t.Fatalf("PurgeOldRuns failed: %v", err)
	}
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}

	stages, err := db.ListStages("old")
	if err != nil {
		t.Fatalf("ListStages failed: %v", err)
	}
	if len(stages) != 0 {
		t.Errorf("stages of purged run = %d, want 0", len(stages))
	}
}

func TestRecoverInterrupted(t *testing.T) {
	db := setupTestDB(t)

	runs := []*PipelineRun{
		{ID: "dead", Name: "mdm", Policy: "halt", PID: 0, StartedAt: time.Now()},
		{ID: "self", Name: "mdm", Policy: "halt", PID: os.Getpid(), StartedAt: time.Now()},
		{ID: "done", Name: "mdm", Policy: "halt", Status: RunCompleted, StartedAt: time.Now()},
	}
	for _, r := range runs {
		if err := db.CreateRun(r); err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}
	}

	recovered, err := db.RecoverInterrupted()
	if err != nil {
		t.Fatalf("RecoverInterrupted failed: %v", err)
	}
	if len(recovered) != 1 || recovered[0].ID != "dead" {
		t.Fatalf("recovered = %+v, want only 'dead'", recovered)
	}

	got, _ := db.GetRun("dead")
	if got.Status != RunInterrupted {
		t.Errorf("status = %q, want %q", got.Status, RunInterrupted)
	}
	self, _ := db.GetRun("self")
	if self.Status != RunRunning {
		t.Errorf("live run status = %q, want %q", self.Status, RunRunning)
	}
}

func TestLakehouseLog(t *testing.T) {
	db := setupTestDB(t)

	job := &GlueJob{Name: "sap_extract", ScriptLocation: "s3://bucket/sap.py", Role: "AWSGlueServiceRole", Status: "created"}
	if err := db.RecordGlueJob(job); err != nil {
		t.Fatalf("RecordGlueJob failed: %v", err)
	}
	job.Status = "running"
	job.JobRunID = "jr_1"
	if err := db.RecordGlueJob(job); err != nil {
		t.Fatalf("RecordGlueJob (update) failed: %v", err)
	}
	jobs, err := db.ListGlueJobs()
	if err != nil {
		t.Fatalf("ListGlueJobs failed: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Status != "running" || jobs[0].JobRunID != "jr_1" {
		t.Errorf("ListGlueJobs = %+v", jobs)
	}

	for _, op := range []string{"write", "merge"} {
		if err := db.RecordDeltaOperation(&DeltaOperation{Operation: op, Path: "s3://lake/golden/customer"}); err != nil {
			t.Fatalf("RecordDeltaOperation failed: %v", err)
		}
	}
	if err := db.RecordDeltaOperation(&DeltaOperation{Operation: "write", Path: "s3://lake/other"}); err != nil {
		t.Fatalf("RecordDeltaOperation failed: %v", err)
	}
	ops, err := db.ListDeltaOperations("s3://lake/golden/customer")
	if err != nil {
		t.Fatalf("ListDeltaOperations failed: %v", err)
	}
	if len(ops) != 2 || ops[0].Operation != "write" || ops[1].Operation != "merge" {
		t.Errorf("ListDeltaOperations = %+v", ops)
	}
	if ops[0].ID >= ops[1].ID {
		t.Errorf("operation ids not increasing: %d, %d", ops[0].ID, ops[1].ID)
	}

	if err := db.RecordTestRun(&TestRun{TestType: "pytest", Target: "tests/", Passed: false, ExitCode: 1, Output: "1 failed"}); err != nil {
		t.Fatalf("RecordTestRun failed: %v", err)
	}
	if err := db.RecordTestRun(&TestRun{TestType: "dbt_test", Target: "dim_customer", Passed: true}); err != nil {
		t.Fatalf("RecordTestRun failed: %v", err)
	}
	testRuns, err := db.ListTestRuns(1)
	if err != nil {
		t.Fatalf("ListTestRuns failed: %v", err)
	}
	if len(testRuns) != 1 || testRuns[0].TestType != "dbt_test" || !testRuns[0].Passed {
		t.Errorf("ListTestRuns(1) = %+v", testRuns)
	}
}
