package lakehouse

import (
	"fmt"
	"slices"

	"github.com/ShayCichocki/lakeforge/pkg/models"
)

// Framings for the six specialised agents.
const (
	ETLGeneratorFraming = `You are an ETL Pipeline Generator agent. Your job is to:
1. Profile source system schemas (SAP, Salesforce, Oracle)
2. Generate PySpark extraction jobs for each table
3. Add Bronze metadata columns (_ingestion_ts, _source_system, _row_hash)
4. Write Delta Lake format with partitioning
5. Generate one pipeline per source table`

	DQEngineFraming = `You are a Data Quality Engine agent. Your job is to:
1. Profile each table's column statistics
2. Generate Great Expectations validation suites
3. Create DQ gates between Bronze→Silver, Silver→MDM, MDM→Gold
4. Set pass threshold at 95%
5. Configure SNS alerts for failures`

	MDMMatcherFraming = `You are an MDM Matching Engine agent. Your job is to:
1. Analyze customer data patterns across sources
2. Implement blocking strategy (Soundex) to reduce comparisons
3. Generate weighted fuzzy matching (Jaro-Winkler: 30% name, 25% email, 20% phone, 15% address, 10% source diversity)
4. Create match tier classification (AUTO_MERGE ≥ 0.92, REVIEW 0.75-0.92, NO_MATCH < 0.75)
5. Implement survivorship rules for golden record creation`

	DBTModelerFraming = `You are a dbt Star Schema Modeler agent. Your job is to:
1. Inspect Silver and MDM layers
2. Generate dimension tables (dim_customer SCD2, dim_product, dim_date)
3. Generate fact tables (fact_sales, fact_interactions)
4. Create dbt models with proper refs and tests
5. Configure Snowflake external table integration`

	DAGBuilderFraming = `You are a DAG Builder agent. Your job is to:
1. Read all generated pipeline code
2. Build AWS Step Functions state machine (ASL)
3. Define parallel extraction, sequential transformation
4. Add DQ gate checkpoints with failure handling
5. Configure SNS notifications`

	DocWriterFraming = `You are a Documentation Writer agent. Your job is to:
1. Read all generated code and configurations
2. Generate data dictionary with column descriptions
3. Create data lineage documentation
4. Write operational runbook
5. Produce ERD descriptions for the star schema`
)

// artifactGuidance is appended to every framing so stages hand work to
// each other through the artifact store.
const artifactGuidance = `

Save every file you generate with write_pipeline_code. Files written by earlier stages are
available through list_artifacts and read_artifact; read them before building on their work.`

// Source is an enterprise system the ETL phase extracts from.
type Source struct {
	Key     string
	Name    string
	Type    string
	Objects []string
}

// EnterpriseSources are the systems the default pipeline extracts from.
var EnterpriseSources = []Source{
	{Key: "sap_ecc", Name: "SAP ECC", Type: "sap", Objects: []string{"KNA1", "KNB1", "MARA", "MAKT", "VBAK", "VBAP"}},
	{Key: "salesforce", Name: "Salesforce", Type: "salesforce", Objects: []string{"Account", "Contact", "Opportunity", "Case"}},
	{Key: "oracle_crm", Name: "Oracle CRM", Type: "oracle", Objects: []string{"CUSTOMERS", "ORDERS", "PRODUCTS"}},
	{Key: "ecommerce", Name: "E-Commerce", Type: "rest_api", Objects: []string{"/orders", "/products", "/reviews"}},
}

var (
	discovery = []string{ListArtifacts, ReadArtifact}

	etlCapabilities = append([]string{
		ProfileDataSource, QueryDatabase, SalesforceQuery,
		WritePipelineCode, CreateGlueJob, DeltaLakeOperation,
	}, discovery...)
	dqCapabilities = append([]string{
		ProfileDataSource, QueryDatabase, WritePipelineCode, RunTests,
	}, discovery...)
	mdmCapabilities = append([]string{
		ProfileDataSource, QueryDatabase, WritePipelineCode, RunTests, DeltaLakeOperation,
	}, discovery...)
	dbtCapabilities = append([]string{
		QueryDatabase, WritePipelineCode, RunTests, DeltaLakeOperation,
	}, discovery...)
	dagCapabilities = append([]string{
		WritePipelineCode, CreateGlueJob,
	}, discovery...)
	docCapabilities = append([]string{
		ProfileDataSource, WritePipelineCode,
	}, discovery...)
)

// DefaultPipeline returns the MDM lakehouse pipeline: one ETL stage per
// enterprise source followed by the data quality, matching, modelling,
// orchestration and documentation stages.
func DefaultPipeline() []models.PipelineTask {
	var tasks []models.PipelineTask
	for i, src := range EnterpriseSources {
		tasks = append(tasks, models.PipelineTask{
			Name:         "etl_generator/" + src.Key,
			Ordinal:      10 + i,
			Framing:      ETLGeneratorFraming + artifactGuidance,
			Task:         fmt.Sprintf("Generate extraction pipelines for %s (%s)", src.Name, src.Type),
			Capabilities: slices.Clone(etlCapabilities),
		})
	}
	return append(tasks,
		models.PipelineTask{
			Name:         "dq_engine",
			Ordinal:      20,
			Framing:      DQEngineFraming + artifactGuidance,
			Task:         "Generate DQ suites for all layers",
			Capabilities: slices.Clone(dqCapabilities),
		},
		models.PipelineTask{
			Name:         "mdm_matcher",
			Ordinal:      30,
			Framing:      MDMMatcherFraming + artifactGuidance,
			Task:         "Create customer matching engine",
			Capabilities: slices.Clone(mdmCapabilities),
		},
		models.PipelineTask{
			Name:         "dbt_modeler",
			Ordinal:      40,
			Framing:      DBTModelerFraming + artifactGuidance,
			Task:         "Generate star schema models",
			Capabilities: slices.Clone(dbtCapabilities),
		},
		models.PipelineTask{
			Name:         "dag_builder",
			Ordinal:      50,
			Framing:      DAGBuilderFraming + artifactGuidance,
			Task:         "Build Step Functions pipeline",
			Capabilities: slices.Clone(dagCapabilities),
		},
		models.PipelineTask{
			Name:         "doc_writer",
			Ordinal:      60,
			Framing:      DocWriterFraming + artifactGuidance,
			Task:         "Generate all documentation",
			Capabilities: slices.Clone(docCapabilities),
		},
	)
}
