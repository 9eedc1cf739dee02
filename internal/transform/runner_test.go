package transform

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"queryverse/internal/ingest"
	"queryverse/internal/storage"
	_ "queryverse/internal/storage/sqlite"
)

func newTestRunner(t *testing.T) (*Runner, storage.Store) {
	t.Helper()
	dir := t.TempDir()
	s, err := storage.Open(context.Background(), storage.Config{
		Kind: "sqlite",
		DSN:  filepath.Join(dir, "test.db"),
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(s.Close)
	return NewRunner(s, filepath.Join(dir, "models"), nil), s
}

func loadRawTable(t *testing.T, s storage.Store, identity string) {
	t.Helper()
	ds := &ingest.Dataset{
		Columns: []string{"id", "name"},
		Types:   []ingest.ColumnType{ingest.TypeInteger, ingest.TypeText},
		Rows:    [][]any{{int64(1), "a"}, {int64(2), "b"}},
	}
	if _, err := s.ReplaceTable(context.Background(), storage.NamespaceRaw, identity, ds); err != nil {
		t.Fatalf("ReplaceTable: %v", err)
	}
}

func TestRun_NoRawTables(t *testing.T) {
	t.Parallel()
	r, _ := newTestRunner(t)

	rep := r.Run(context.Background())
	if rep.Success {
		t.Error("expected failure with no raw tables")
	}
	if rep.Stderr != "No raw tables found to transform" {
		t.Errorf("stderr = %q", rep.Stderr)
	}
}

func TestRun_BuildsStaging(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, s := newTestRunner(t)
	loadRawTable(t, s, "raw_orders")

	rep := r.Run(ctx)
	if !rep.Success {
		t.Fatalf("Run failed: %s", rep.Stderr)
	}
	if !strings.Contains(rep.Stdout, "transformed raw_orders (2 rows)") {
		t.Errorf("stdout = %q", rep.Stdout)
	}

	n, err := s.CountRows(ctx, storage.NamespaceStaging, "stg_raw_orders")
	if err != nil {
		t.Fatalf("CountRows: %v", err)
	}
	if n != 2 {
		t.Errorf("staging rows = %d, want 2", n)
	}
}

func TestTest_ReportsStagingCounts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, s := newTestRunner(t)

	rep := r.Test(ctx)
	if !rep.Success || rep.Stdout != "No staging tables to test" {
		t.Errorf("empty store test = %+v", rep)
	}

	loadRawTable(t, s, "raw_t")
	if rep := r.Run(ctx); !rep.Success {
		t.Fatalf("Run failed: %s", rep.Stderr)
	}

	rep = r.Test(ctx)
	if !rep.Success {
		t.Fatalf("Test failed: %s", rep.Stderr)
	}
	if !strings.Contains(rep.Stdout, "PASS staging.stg_raw_t has 2 rows") {
		t.Errorf("stdout = %q", rep.Stdout)
	}
}

func TestDocs_GroupsBySchema(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, s := newTestRunner(t)
	loadRawTable(t, s, "raw_t")
	if rep := r.Run(ctx); !rep.Success {
		t.Fatalf("Run failed: %s", rep.Stderr)
	}

	rep := r.Docs(ctx)
	if !rep.Success {
		t.Fatalf("Docs failed: %s", rep.Stderr)
	}
	for _, frag := range []string{"RAW SCHEMA:", "STAGING SCHEMA:", "raw_t (2 columns)"} {
		if !strings.Contains(rep.Stdout, frag) {
			t.Errorf("docs missing %q:\n%s", frag, rep.Stdout)
		}
	}
}

func TestWriteModel(t *testing.T) {
	t.Parallel()
	r, _ := newTestRunner(t)

	path, err := r.WriteModel("raw_sales")
	if err != nil {
		t.Fatalf("WriteModel: %v", err)
	}
	if filepath.Base(path) != "stg_raw_sales.sql" {
		t.Errorf("path = %s", path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read model: %v", err)
	}
	if !strings.Contains(string(content), "FROM raw.raw_sales") {
		t.Errorf("model content:\n%s", content)
	}
}

func TestExec_UnknownCommand(t *testing.T) {
	t.Parallel()
	r, _ := newTestRunner(t)

	if _, err := r.Exec(context.Background(), "seed"); err == nil {
		t.Fatal("expected error for unknown command")
	}
	if _, err := r.Exec(context.Background(), "docs generate"); err != nil {
		t.Errorf("docs generate: %v", err)
	}
}
