// Package lakehouse provides the enterprise data capabilities that MDM
// lakehouse agents act through, and the default pipeline that uses them.
//
// Every capability is a typed handler whose input schema is reflected from
// its argument struct. Handlers own their side effects: warehouse queries,
// generated files, test runs, Salesforce and Glue calls. Files and jobs are
// registered in the shared store so later stages can find them by name.
package lakehouse

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ShayCichocki/lakeforge/internal/capability"
	"github.com/ShayCichocki/lakeforge/internal/exec"
	"github.com/ShayCichocki/lakeforge/internal/git"
	"github.com/ShayCichocki/lakeforge/internal/protect"
	"github.com/ShayCichocki/lakeforge/internal/state"
)

// Capability names.
const (
	QueryDatabase      = "query_database"
	ProfileDataSource  = "profile_data_source"
	WritePipelineCode  = "write_pipeline_code"
	RunTests           = "run_tests"
	SalesforceQuery    = "salesforce_query"
	CreateGlueJob      = "create_glue_job"
	DeltaLakeOperation = "delta_lake_operation"
	ListArtifacts      = "list_artifacts"
	ReadArtifact       = "read_artifact"
)

// DefaultTestTimeout bounds run_tests when Env.TestTimeout is unset.
const DefaultTestTimeout = 10 * time.Minute

// Store is the persistence the capabilities need.
type Store interface {
	state.ArtifactStore
	state.LakehouseLog
}

// Env holds the dependencies of the capability handlers.
type Env struct {
	// RepoDir is the root generated code is written under.
	RepoDir string
	// WarehouseDir holds one SQLite file per database connection.
	WarehouseDir string
	// Store is the shared artifact store and side-effect log.
	Store Store
	// Commands runs test tools. Nil uses the os/exec runner.
	Commands exec.CommandRunner
	// Git, when set, commits every written file.
	Git git.CommitOperations
	// Protected lists repo paths write_pipeline_code refuses. Nil uses
	// the default patterns.
	Protected *protect.Detector
	// Glue creates jobs. Nil makes create_glue_job report it is unconfigured.
	Glue GlueAPI
	// GlueRole is the default IAM role for new Glue jobs.
	GlueRole string
	// Salesforce runs SOQL. Nil makes salesforce_query report it is unconfigured.
	Salesforce *SalesforceClient
	// TestTimeout bounds each test subprocess.
	TestTimeout time.Duration
	Logger      zerolog.Logger
}

// Toolkit binds the capability handlers to an Env.
type Toolkit struct {
	env Env
	// writeMu serializes file writes and their artifact registration.
	writeMu sync.Mutex
}

// NewToolkit validates env and fills in defaults.
func NewToolkit(env Env) (*Toolkit, error) {
	if env.RepoDir == "" {
		return nil, fmt.Errorf("lakehouse: repo dir is required")
	}
	if env.Store == nil {
		return nil, fmt.Errorf("lakehouse: store is required")
	}
	if env.Commands == nil {
		env.Commands = exec.NewRunner()
	}
	if env.Protected == nil {
		env.Protected = protect.New()
	}
	if env.TestTimeout <= 0 {
		env.TestTimeout = DefaultTestTimeout
	}
	if env.GlueRole == "" {
		env.GlueRole = "AWSGlueServiceRole"
	}
	return &Toolkit{env: env}, nil
}

// Entries returns the capability entries in declaration order.
func (k *Toolkit) Entries() []capability.Entry {
	return []capability.Entry{
		capability.Typed(QueryDatabase,
			"Execute a read-only SQL query against SAP HANA, Oracle, SQL Server, or Snowflake.",
			k.queryDatabase),
		capability.Typed(ProfileDataSource,
			"Discover schema, column stats, null rates and cardinality for a table.",
			k.profileDataSource),
		capability.Typed(WritePipelineCode,
			"Write a PySpark, dbt, Airflow, or Python file to the git repo and register it as an artifact.",
			k.writePipelineCode),
		capability.Typed(RunTests,
			"Execute a pytest, dbt test, or Great Expectations validation suite.",
			k.runTests),
		capability.Typed(SalesforceQuery,
			"Execute a SOQL query against Salesforce.",
			k.salesforceQuery),
		capability.Typed(CreateGlueJob,
			"Create and optionally start an AWS Glue ETL job.",
			k.createGlueJob),
		capability.Typed(DeltaLakeOperation,
			"Perform Delta Lake operations: read, write, merge, vacuum, history, describe.",
			k.deltaLakeOperation),
		capability.Typed(ListArtifacts,
			"List files generated by earlier pipeline stages, optionally filtered by name prefix.",
			k.listArtifacts),
		capability.Typed(ReadArtifact,
			"Read the content of a file generated by an earlier pipeline stage.",
			k.readArtifact),
	}
}

// Table builds the immutable capability table.
func (k *Toolkit) Table() (*capability.Table, error) {
	return capability.NewTable(k.Entries()...)
}
