package lakehouse

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ShayCichocki/lakeforge/internal/state"
	"github.com/ShayCichocki/lakeforge/pkg/models"
)

type testEnv struct {
	kit  *Toolkit
	db   *state.DB
	repo string
}

func newTestToolkit(t *testing.T, mutate func(*Env)) *testEnv {
	t.Helper()
	repo := t.TempDir()
	db, err := state.OpenWorkspace(filepath.Join(repo, ".lakeforge"))
	if err != nil {
		t.Fatalf("OpenWorkspace failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	env := Env{
		RepoDir:      repo,
		WarehouseDir: filepath.Join(repo, ".lakeforge", "warehouse"),
		Store:        db,
		Commands:     &fakeCommands{},
	}
	if mutate != nil {
		mutate(&env)
	}
	kit, err := NewToolkit(env)
	if err != nil {
		t.Fatalf("NewToolkit failed: %v", err)
	}
	return &testEnv{kit: kit, db: db, repo: repo}
}

// seedWarehouse creates a warehouse file for conn and runs the statements.
func seedWarehouse(t *testing.T, dir, conn string, stmts ...string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	db, err := sql.Open("sqlite3", WarehousePath(dir, conn))
	if err != nil {
		t.Fatalf("open warehouse: %v", err)
	}
	defer db.Close()
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("seed %q: %v", s, err)
		}
	}
}

func TestNewToolkit_Requires(t *testing.T) {
	if _, err := NewToolkit(Env{}); err == nil {
		t.Error("expected error without a repo dir")
	}
	if _, err := NewToolkit(Env{RepoDir: t.TempDir()}); err == nil {
		t.Error("expected error without a store")
	}
}

func TestTable_DeclaresEveryCapability(t *testing.T) {
	te := newTestToolkit(t, nil)
	table, err := te.kit.Table()
	if err != nil {
		t.Fatalf("Table failed: %v", err)
	}

	want := []string{
		QueryDatabase, ProfileDataSource, WritePipelineCode, RunTests, SalesforceQuery,
		CreateGlueJob, DeltaLakeOperation, ListArtifacts, ReadArtifact,
	}
	if table.Len() != len(want) {
		t.Fatalf("Len() = %d, want %d", table.Len(), len(want))
	}
	for _, name := range want {
		if _, ok := table.Lookup(name); !ok {
			t.Errorf("missing capability %s", name)
		}
	}

	for _, d := range table.Declarations() {
		if d.Name != QueryDatabase {
			continue
		}
		var schema map[string]any
		if err := json.Unmarshal(d.InputSchema, &schema); err != nil {
			t.Fatalf("schema is not JSON: %v", err)
		}
		props := schema["properties"].(map[string]any)
		conn := props["connection"].(map[string]any)
		if len(conn["enum"].([]any)) != 4 {
			t.Errorf("connection enum = %v", conn["enum"])
		}
	}
}

func TestDispatch_SchemaViolation(t *testing.T) {
	te := newTestToolkit(t, nil)
	table, err := te.kit.Table()
	if err != nil {
		t.Fatal(err)
	}

	res, err := table.Dispatch(context.Background(), models.ActionRequest{
		ID:        "req_1",
		Name:      QueryDatabase,
		Arguments: json.RawMessage(`{"connection":"db2","sql":"SELECT 1"}`),
	})
	if err == nil || !res.Failed {
		t.Fatalf("expected failed result for bad enum, got %+v", res)
	}
	if !strings.HasPrefix(res.Payload, "ERROR: ") {
		t.Errorf("Payload = %q", res.Payload)
	}
}

func TestQueryDatabase(t *testing.T) {
	te := newTestToolkit(t, nil)
	seedWarehouse(t, te.kit.env.WarehouseDir, "sap_hana",
		`CREATE TABLE KNA1 (KUNNR TEXT PRIMARY KEY, NAME1 TEXT, LAND1 TEXT)`,
		`INSERT INTO KNA1 VALUES ('0001', 'Acme GmbH', 'DE'), ('0002', 'Globex', 'US'), ('0003', NULL, 'US')`,
	)
	ctx := context.Background()

	out, err := te.kit.queryDatabase(ctx, queryDatabaseArgs{
		Connection: "sap_hana",
		SQL:        "SELECT KUNNR, NAME1 FROM KNA1 ORDER BY KUNNR",
		MaxRows:    2,
	})
	if err != nil {
		t.Fatalf("queryDatabase failed: %v", err)
	}
	res := out.(*queryDatabaseResult)
	if res.RowCount != 2 || !res.Truncated {
		t.Errorf("RowCount = %d, Truncated = %v, want 2, true", res.RowCount, res.Truncated)
	}
	if res.Columns[0] != "KUNNR" || res.Rows[0][1] != "Acme GmbH" {
		t.Errorf("result = %+v", res)
	}

	_, err = te.kit.queryDatabase(ctx, queryDatabaseArgs{Connection: "sap_hana", SQL: "DELETE FROM KNA1"})
	if !errors.Is(err, ErrNotReadOnly) {
		t.Errorf("DELETE err = %v, want ErrNotReadOnly", err)
	}

	_, err = te.kit.queryDatabase(ctx, queryDatabaseArgs{Connection: "snowflake", SQL: "SELECT 1"})
	if err == nil || !strings.Contains(err.Error(), "not available") {
		t.Errorf("missing warehouse err = %v", err)
	}
}

func TestCheckReadOnly(t *testing.T) {
	tests := []struct {
		query   string
		wantErr bool
	}{
		{"SELECT * FROM KNA1", false},
		{"  with x as (select 1) select * from x;", false},
		{"-- list columns\nPRAGMA table_info(KNA1)", false},
		{"/* plan */ EXPLAIN SELECT 1", false},
		{"INSERT INTO KNA1 VALUES (1)", true},
		{"SELECT 1; DROP TABLE KNA1", true},
		{"", true},
		{"-- only a comment", true},
	}
	for _, tt := range tests {
		err := checkReadOnly(tt.query)
		if (err != nil) != tt.wantErr {
			t.Errorf("checkReadOnly(%q) error = %v, wantErr %v", tt.query, err, tt.wantErr)
		}
	}
}

func TestProfileDataSource(t *testing.T) {
	te := newTestToolkit(t, nil)
	seedWarehouse(t, te.kit.env.WarehouseDir, "oracle",
		`CREATE TABLE CUSTOMERS (ID INTEGER PRIMARY KEY, EMAIL TEXT, COUNTRY TEXT NOT NULL)`,
		`INSERT INTO CUSTOMERS VALUES (1, 'a@x.com', 'US'), (2, NULL, 'US'), (3, 'c@x.com', 'DE'), (4, NULL, 'FR')`,
	)

	out, err := te.kit.profileDataSource(context.Background(), profileArgs{Source: "Oracle CRM", Table: "CUSTOMERS"})
	if err != nil {
		t.Fatalf("profileDataSource failed: %v", err)
	}
	p := out.(*Profile)
	if p.Connection != "oracle" || p.RowCount != 4 || len(p.Columns) != 3 {
		t.Fatalf("profile = %+v", p)
	}
	if p.NullRates["EMAIL"] != 0.5 {
		t.Errorf("EMAIL null rate = %v, want 0.5", p.NullRates["EMAIL"])
	}
	country := p.Columns[2]
	if country.Nullable || country.Cardinality != 3 {
		t.Errorf("COUNTRY = %+v", country)
	}
	if !p.Columns[0].PrimaryKey {
		t.Error("ID should be the primary key")
	}

	if _, err := te.kit.profileDataSource(context.Background(), profileArgs{Source: "mainframe", Table: "X"}); !errors.Is(err, ErrUnknownConnection) {
		t.Errorf("err = %v, want ErrUnknownConnection", err)
	}
	if _, err := te.kit.profileDataSource(context.Background(), profileArgs{Source: "oracle", Table: "X; DROP"}); err == nil {
		t.Error("expected error for an invalid table name")
	}
	if _, err := te.kit.profileDataSource(context.Background(), profileArgs{Source: "oracle", Table: "ORDERS"}); err == nil {
		t.Error("expected error for a missing table")
	}
}

func TestConnectionFor(t *testing.T) {
	tests := map[string]string{
		"SAP ECC":    "sap_hana",
		"oracle-crm": "oracle",
		"SQL Server": "sqlserver",
		"Snowflake":  "snowflake",
	}
	for source, want := range tests {
		got, err := ConnectionFor(source)
		if err != nil || got != want {
			t.Errorf("ConnectionFor(%q) = %q, %v, want %q", source, got, err, want)
		}
	}
}
