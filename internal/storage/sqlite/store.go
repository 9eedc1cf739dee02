// Package sqlite implements storage.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"queryverse/internal/ingest"
	"queryverse/internal/storage"
)

// Store implements storage.Store for SQLite.
//
// Key design points:
//   - SQLite has no CREATE SCHEMA. The raw and staging namespaces are real
//     attached databases (sibling files next to the main DSN), so qualified
//     names like raw.t and staging.stg_t work verbatim in user queries.
//   - ATTACH is per connection, so the pool is pinned to a single connection.
//   - SQLite has no native timestamp type; timestamps are stored as
//     RFC3339Nano TEXT for reliable round-trip behavior and easy debugging.
type Store struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", Open)
}

func Open(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	// Attached databases exist per connection; more than one connection would
	// intermittently lose the raw/staging namespaces.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	rawPath, stagingPath := attachTargets(cfg.DSN)
	for _, a := range []struct{ path, name string }{
		{rawPath, storage.NamespaceRaw},
		{stagingPath, storage.NamespaceStaging},
	} {
		if _, err := db.ExecContext(ctx, "ATTACH DATABASE ? AS "+a.name, a.path); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("attach %s: %w", a.name, err)
		}
	}

	return &Store{db: db}, nil
}

// attachTargets derives the sibling files backing the raw and staging
// namespaces. A memory DSN attaches empty paths, which SQLite treats as
// private temporary databases.
func attachTargets(dsn string) (rawPath, stagingPath string) {
	path := dsn
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimPrefix(path, "file:")
	if path == "" || path == ":memory:" {
		return "", ""
	}
	base := strings.TrimSuffix(path, filepath.Ext(path))
	return base + ".raw.db", base + ".staging.db"
}

func (s *Store) Close() { _ = s.db.Close() }

// Init is a no-op: the namespaces were attached at open time.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "SELECT 1")
	return err
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// sqlLiteral quotes a string literal for interpolation into DDL, where bound
// parameters are not accepted.
func sqlLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func qualified(namespace, name string) string {
	return namespace + "." + sqlIdent(name)
}

func sqlType(t ingest.ColumnType) string {
	switch t {
	case ingest.TypeInteger, ingest.TypeBoolean:
		return "INTEGER"
	case ingest.TypeFloat:
		return "REAL"
	default:
		return "TEXT"
	}
}

// bindValue converts a dataset cell into a driver-friendly value. Booleans
// become 0/1 and timestamps become RFC3339Nano strings.
func bindValue(v any) any {
	switch x := v.(type) {
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}

// maxBindVars caps bound parameters per INSERT so wide datasets stay well
// under SQLite's variable limit.
const maxBindVars = 900

// ReplaceTable drops and recreates <namespace>.<identity> inside one
// transaction, so readers see either the old relation or the complete new one.
func (s *Store) ReplaceTable(ctx context.Context, namespace, identity string, ds *ingest.Dataset) (int64, error) {
	if !storage.ValidNamespace(namespace) {
		return 0, fmt.Errorf("sqlite: invalid namespace %q", namespace)
	}
	target := qualified(namespace, identity)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+target); err != nil {
		return 0, fmt.Errorf("drop %s: %w", target, err)
	}
	if _, err := tx.ExecContext(ctx, buildCreateSQL(target, ds)); err != nil {
		return 0, fmt.Errorf("create %s: %w", target, err)
	}

	batch := maxBindVars / ds.ColumnCount()
	if batch < 1 {
		batch = 1
	}
	for start := 0; start < len(ds.Rows); start += batch {
		end := start + batch
		if end > len(ds.Rows) {
			end = len(ds.Rows)
		}
		q, args := buildInsertSQL(target, ds.Columns, ds.Rows[start:end])
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return 0, fmt.Errorf("insert into %s: %w", target, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int64(len(ds.Rows)), nil
}

func buildCreateSQL(target string, ds *ingest.Dataset) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(target)
	b.WriteString(" (\n  ")
	for i, col := range ds.Columns {
		if i > 0 {
			b.WriteString(",\n  ")
		}
		b.WriteString(sqlIdent(col))
		b.WriteByte(' ')
		b.WriteString(sqlType(ds.Types[i]))
	}
	b.WriteString("\n);")
	return b.String()
}

func buildInsertSQL(target string, columns []string, rows [][]any) (string, []any) {
	colList := make([]string, 0, len(columns))
	for _, c := range columns {
		colList = append(colList, sqlIdent(c))
	}
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(target)
	b.WriteString(" (")
	b.WriteString(strings.Join(colList, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		for _, v := range row {
			args = append(args, bindValue(v))
		}
	}
	return b.String(), args
}

func (s *Store) ListTables(ctx context.Context) ([]storage.TableInfo, error) {
	var out []storage.TableInfo
	for _, schema := range []string{storage.NamespaceRaw, storage.NamespaceStaging} {
		names, err := s.tableNames(ctx, schema)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			cols, err := s.tableColumns(ctx, schema, name)
			if err != nil {
				return nil, err
			}
			out = append(out, storage.TableInfo{
				Schema:   schema,
				Name:     name,
				FullName: schema + "." + name,
				Columns:  cols,
			})
		}
	}
	return out, nil
}

func (s *Store) tableNames(ctx context.Context, schema string) ([]string, error) {
	q := fmt.Sprintf(
		`SELECT name FROM %s.sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%%' ORDER BY name`,
		schema,
	)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *Store) tableColumns(ctx context.Context, schema, table string) ([]storage.ColumnInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, type FROM pragma_table_info(?, ?) ORDER BY cid`, table, schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.ColumnInfo
	for rows.Next() {
		var c storage.ColumnInfo
		if err := rows.Scan(&c.Name, &c.Type); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) Query(ctx context.Context, query string) (*storage.ResultSet, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	rs := &storage.ResultSet{Columns: cols, Rows: []map[string]any{}}
	for rows.Next() {
		vals := make([]any, len(cols))
		scan := make([]any, len(cols))
		for i := range vals {
			scan[i] = &vals[i]
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, err
		}
		rec := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				rec[c] = string(b)
			} else {
				rec[c] = vals[i]
			}
		}
		rs.Rows = append(rs.Rows, rec)
	}
	return rs, rows.Err()
}

func (s *Store) RawTables(ctx context.Context) ([]string, error) {
	return s.tableNames(ctx, storage.NamespaceRaw)
}

// BuildStaging rebuilds staging.stg_<identity> from raw.<identity>, appending
// the load timestamp and source-table marker. DDL does not accept bound
// parameters, so the audit values are escaped literals.
func (s *Store) BuildStaging(ctx context.Context, identity string) (int64, error) {
	source := qualified(storage.NamespaceRaw, identity)
	target := qualified(storage.NamespaceStaging, "stg_"+identity)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+target); err != nil {
		return 0, fmt.Errorf("drop %s: %w", target, err)
	}

	loadedAt := time.Now().UTC().Format(time.RFC3339Nano)
	q := fmt.Sprintf(
		`CREATE TABLE %s AS SELECT *, %s AS _loaded_at, %s AS _source_table FROM %s`,
		target, sqlLiteral(loadedAt), sqlLiteral(identity), source,
	)
	if _, err := tx.ExecContext(ctx, q); err != nil {
		return 0, fmt.Errorf("build %s: %w", target, err)
	}

	var n int64
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+target).Scan(&n); err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

func (s *Store) CountRows(ctx context.Context, namespace, name string) (int64, error) {
	if !storage.ValidNamespace(namespace) {
		return 0, fmt.Errorf("sqlite: invalid namespace %q", namespace)
	}
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+qualified(namespace, name)).Scan(&n)
	return n, err
}
