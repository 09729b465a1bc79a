package lakehouse

import (
	"context"
	"testing"
)

func TestDeltaLakeOperation(t *testing.T) {
	te := newTestToolkit(t, nil)
	ctx := context.Background()
	path := "s3://mdm-lake/silver/customers"

	run := func(in deltaArgs) any {
		t.Helper()
		out, err := te.kit.deltaLakeOperation(ctx, in)
		if err != nil {
			t.Fatalf("%s failed: %v", in.Operation, err)
		}
		return out
	}

	res := run(deltaArgs{Operation: "describe", Path: path}).(*deltaDescription)
	if res.Version != -1 || res.CreatedAt != nil {
		t.Errorf("empty table description = %+v", res)
	}

	w := run(deltaArgs{Operation: "write", Path: path + "/"}).(*deltaResult)
	if w.Version != 0 || w.Path != path {
		t.Errorf("write = %+v", w)
	}
	m := run(deltaArgs{Operation: "merge", Path: path, Query: "MERGE INTO t USING s ON t.id = s.id"}).(*deltaResult)
	if m.Version != 1 {
		t.Errorf("merge version = %d, want 1", m.Version)
	}

	r := run(deltaArgs{Operation: "read", Path: path, Query: "SELECT * FROM t"}).(*deltaResult)
	if r.Version != 1 {
		t.Errorf("read should not add a version, got %d", r.Version)
	}

	hist := run(deltaArgs{Operation: "history", Path: path}).(map[string]any)
	entries := hist["history"].([]deltaHistoryEntry)
	if len(entries) != 2 || entries[0].Operation != "merge" || entries[0].Version != 1 {
		t.Errorf("history = %+v", entries)
	}

	desc := run(deltaArgs{Operation: "describe", Path: path}).(*deltaDescription)
	if desc.Version != 1 || desc.LastOperation != "merge" || desc.Operations["write"] != 1 {
		t.Errorf("describe = %+v", desc)
	}

	other := run(deltaArgs{Operation: "history", Path: "s3://mdm-lake/gold/dim_customer"}).(map[string]any)
	if other["version"] != -1 {
		t.Errorf("tables should have separate logs, got version %v", other["version"])
	}
}

func TestDeltaLakeOperation_Errors(t *testing.T) {
	te := newTestToolkit(t, nil)
	ctx := context.Background()

	if _, err := te.kit.deltaLakeOperation(ctx, deltaArgs{Operation: "merge", Path: "s3://x/t"}); err == nil {
		t.Error("merge without a query should fail")
	}
	if _, err := te.kit.deltaLakeOperation(ctx, deltaArgs{Operation: "write", Path: " "}); err == nil {
		t.Error("empty path should fail")
	}
}
