// Package storage defines the backend-agnostic persistence contract for
// ingested datasets and the registry that backend packages plug into.
package storage

import (
	"context"
	"fmt"
	"sync"

	"queryverse/internal/ingest"
)

// Namespaces (schemas) the store manages. Raw holds ingested relations,
// staging holds the derived stg_* copies.
const (
	NamespaceRaw     = "raw"
	NamespaceStaging = "staging"
)

// ValidNamespace reports whether ns is one of the managed schemas. Backends
// reject anything else before interpolating it into DDL.
func ValidNamespace(ns string) bool {
	return ns == NamespaceRaw || ns == NamespaceStaging
}

// Config is the minimal configuration needed to open a store.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// ColumnInfo describes one column of a stored relation.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TableInfo describes one stored relation.
type TableInfo struct {
	Schema   string       `json:"schema"`
	Name     string       `json:"name"`
	FullName string       `json:"full_name"`
	Columns  []ColumnInfo `json:"columns"`
}

// ResultSet is the generic result of an ad-hoc read query.
type ResultSet struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// Store is the backend-agnostic persistence interface.
//
// IMPORTANT: This interface is intentionally minimal and focused on the
// operations the upload/query/transform paths need. Each backend implements
// these semantics in its own idiomatic way (Postgres schemas, SQLite attached
// databases, SQL Server sys.schemas, etc).
type Store interface {
	// Close releases any backend resources (connections, attached files, etc).
	// Callers should treat Close as "call once".
	Close()

	// Init creates the raw and staging namespaces if they do not exist.
	// Idempotent; safe to call on every open.
	Init(ctx context.Context) error

	// ReplaceTable atomically drops any existing relation <namespace>.<identity>
	// and recreates it from the dataset. Returns the number of rows written.
	// Readers never observe a partially written relation.
	ReplaceTable(ctx context.Context, namespace, identity string, ds *ingest.Dataset) (int64, error)

	// ListTables returns every relation in the managed namespaces with its
	// column metadata, ordered by schema then name.
	ListTables(ctx context.Context) ([]TableInfo, error)

	// Query runs an ad-hoc read query and materializes the full result.
	Query(ctx context.Context, query string) (*ResultSet, error)

	// RawTables returns the bare names of every relation in the raw namespace.
	RawTables(ctx context.Context) ([]string, error)

	// BuildStaging drops and rebuilds staging.stg_<identity> as a verbatim copy
	// of raw.<identity> plus _loaded_at and _source_table audit columns.
	// Returns the staged row count.
	BuildStaging(ctx context.Context, identity string) (int64, error)

	// CountRows returns the row count of <namespace>.<name>.
	CountRows(ctx context.Context, namespace, name string) (int64, error)
}

// ---- backend factories ----

type factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a store backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//   - The `kind` string becomes the lookup key used by Open.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered. This is intentional to fail fast and
//     avoid ambiguous backend selection.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// Kinds returns the registered backend kinds, for error messages and config
// validation.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	return out
}

// Open constructs a Store using the registered backend factory.
//
// Concurrency:
//   - Safe for concurrent use with Register. Open takes a read lock while
//     selecting the factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing storage.kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
