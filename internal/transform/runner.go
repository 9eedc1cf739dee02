// Package transform implements the staging-layer transformation runner: a
// deliberately small dbt-style workflow (run, test, docs generate) over the
// raw and staging namespaces.
package transform

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"queryverse/internal/storage"
)

// Report is the outcome of one transformation command, shaped like a build
// tool's exit status plus captured output.
type Report struct {
	Success bool   `json:"success"`
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`
}

// Runner executes transformation commands against a store and maintains the
// on-disk model files under <modelsDir>/staging.
type Runner struct {
	store     storage.Store
	modelsDir string
	log       *slog.Logger
}

func NewRunner(store storage.Store, modelsDir string, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{store: store, modelsDir: modelsDir, log: log}
}

// Exec dispatches a command by name. Valid commands are "run", "test" and
// "docs generate"; anything else is an error for the caller to map to a 400.
func (r *Runner) Exec(ctx context.Context, command string) (*Report, error) {
	switch command {
	case "run":
		return r.Run(ctx), nil
	case "test":
		return r.Test(ctx), nil
	case "docs generate":
		return r.Docs(ctx), nil
	default:
		return nil, fmt.Errorf("unknown command: %s", command)
	}
}

// WriteModel writes the staging model file for one raw identity and returns
// its path. The file documents the projection Run executes; it is not parsed
// back.
func (r *Runner) WriteModel(identity string) (string, error) {
	dir := filepath.Join(r.modelsDir, "staging")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create models dir: %w", err)
	}

	sql := fmt.Sprintf(`-- Staging model for %s
SELECT
    *,
    CURRENT_TIMESTAMP AS _loaded_at,
    '%s' AS _source_table
FROM raw.%s
`, identity, identity, identity)

	path := filepath.Join(dir, "stg_"+identity+".sql")
	if err := os.WriteFile(path, []byte(sql), 0o644); err != nil {
		return "", fmt.Errorf("write model %s: %w", path, err)
	}
	r.log.Info("created staging model", "path", path)
	return path, nil
}

// Run rebuilds the staging copy of every raw table, reporting one line per
// table.
func (r *Runner) Run(ctx context.Context) *Report {
	tables, err := r.store.RawTables(ctx)
	if err != nil {
		return &Report{Stderr: err.Error()}
	}
	if len(tables) == 0 {
		return &Report{Stderr: "No raw tables found to transform"}
	}

	var lines []string
	for _, identity := range tables {
		n, err := r.store.BuildStaging(ctx, identity)
		if err != nil {
			r.log.Error("transformation failed", "table", identity, "error", err)
			lines = append(lines, fmt.Sprintf("FAIL transform %s: %v", identity, err))
			continue
		}
		r.log.Info("built staging table", "table", "staging.stg_"+identity, "rows", n)
		lines = append(lines, fmt.Sprintf("OK   transformed %s (%d rows)", identity, n))
	}
	return &Report{Success: true, Stdout: strings.Join(lines, "\n")}
}

// Test runs the data tests: every staging table must be non-empty.
func (r *Runner) Test(ctx context.Context) *Report {
	tables, err := r.store.ListTables(ctx)
	if err != nil {
		return &Report{Stderr: err.Error()}
	}

	var lines []string
	for _, t := range tables {
		if t.Schema != storage.NamespaceStaging {
			continue
		}
		n, err := r.store.CountRows(ctx, t.Schema, t.Name)
		if err != nil {
			lines = append(lines, fmt.Sprintf("FAIL %s: %v", t.FullName, err))
			continue
		}
		if n > 0 {
			lines = append(lines, fmt.Sprintf("PASS %s has %d rows", t.FullName, n))
		} else {
			lines = append(lines, fmt.Sprintf("FAIL %s is empty", t.FullName))
		}
	}
	if len(lines) == 0 {
		return &Report{Success: true, Stdout: "No staging tables to test"}
	}
	return &Report{Success: true, Stdout: strings.Join(lines, "\n")}
}

// Docs emits a plain-text summary of every managed table grouped by schema.
func (r *Runner) Docs(ctx context.Context) *Report {
	tables, err := r.store.ListTables(ctx)
	if err != nil {
		return &Report{Stderr: err.Error()}
	}

	docs := []string{"QueryVerse Data Documentation", strings.Repeat("=", 40)}
	var current string
	for _, t := range tables {
		if t.Schema != current {
			docs = append(docs, "", strings.ToUpper(t.Schema)+" SCHEMA:")
			current = t.Schema
		}
		docs = append(docs, fmt.Sprintf("  %s (%d columns)", t.Name, len(t.Columns)))
	}
	return &Report{Success: true, Stdout: strings.Join(docs, "\n")}
}
