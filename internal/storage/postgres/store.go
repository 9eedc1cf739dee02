// Package postgres implements storage.Store on PostgreSQL via pgx.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"queryverse/internal/ingest"
	"queryverse/internal/storage"
)

// Store implements storage.Store for PostgreSQL.
//
// The raw and staging namespaces are ordinary schemas; Init creates them with
// CREATE SCHEMA IF NOT EXISTS. One connection per store, matching the
// one-session-per-request model of the upload path.
type Store struct {
	conn *pgx.Conn
}

func init() {
	storage.Register("postgres", Open)
}

func Open(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	conn, err := pgx.Connect(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &Store{conn: conn}, nil
}

func (s *Store) Close() { _ = s.conn.Close(context.Background()) }

func (s *Store) Init(ctx context.Context) error {
	for _, schema := range []string{storage.NamespaceRaw, storage.NamespaceStaging} {
		if _, err := s.conn.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+schema); err != nil {
			return fmt.Errorf("create schema %s: %w", schema, err)
		}
	}
	return nil
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func sqlLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func qualified(namespace, name string) string {
	return namespace + "." + sqlIdent(name)
}

func sqlType(t ingest.ColumnType) string {
	switch t {
	case ingest.TypeInteger:
		return "BIGINT"
	case ingest.TypeFloat:
		return "DOUBLE PRECISION"
	case ingest.TypeBoolean:
		return "BOOLEAN"
	case ingest.TypeTimestamp:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

// maxBindVars keeps each INSERT comfortably under the wire protocol's 65535
// parameter limit.
const maxBindVars = 60000

func (s *Store) ReplaceTable(ctx context.Context, namespace, identity string, ds *ingest.Dataset) (int64, error) {
	if !storage.ValidNamespace(namespace) {
		return 0, fmt.Errorf("postgres: invalid namespace %q", namespace)
	}
	target := qualified(namespace, identity)

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+target); err != nil {
		return 0, fmt.Errorf("drop %s: %w", target, err)
	}
	if _, err := tx.Exec(ctx, buildCreateSQL(target, ds)); err != nil {
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
		if _, err := tx.Exec(ctx, q, args...); err != nil {
			return 0, fmt.Errorf("insert into %s: %w", target, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
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

// buildInsertSQL numbers placeholders $1..$n row-major, matching args.
func buildInsertSQL(target string, columns []string, rows [][]any) (string, []any) {
	colList := make([]string, 0, len(columns))
	for _, c := range columns {
		colList = append(colList, sqlIdent(c))
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(target)
	b.WriteString(" (")
	b.WriteString(strings.Join(colList, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	n := 0
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := range columns {
			if j > 0 {
				b.WriteByte(',')
			}
			n++
			fmt.Fprintf(&b, "$%d", n)
			args = append(args, row[j])
		}
		b.WriteByte(')')
	}
	return b.String(), args
}

func (s *Store) ListTables(ctx context.Context) ([]storage.TableInfo, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT table_schema, table_name
		FROM information_schema.tables
		WHERE table_schema IN ($1, $2)
		ORDER BY table_schema, table_name`,
		storage.NamespaceRaw, storage.NamespaceStaging)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.TableInfo
	for rows.Next() {
		var t storage.TableInfo
		if err := rows.Scan(&t.Schema, &t.Name); err != nil {
			return nil, err
		}
		t.FullName = t.Schema + "." + t.Name
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		cols, err := s.tableColumns(ctx, out[i].Schema, out[i].Name)
		if err != nil {
			return nil, err
		}
		out[i].Columns = cols
	}
	return out, nil
}

func (s *Store) tableColumns(ctx context.Context, schema, table string) ([]storage.ColumnInfo, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`,
		schema, table)
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
	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
	}

	rs := &storage.ResultSet{Columns: cols, Rows: []map[string]any{}}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
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
	rows, err := s.conn.Query(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1
		ORDER BY table_name`,
		storage.NamespaceRaw)
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

func (s *Store) BuildStaging(ctx context.Context, identity string) (int64, error) {
	source := qualified(storage.NamespaceRaw, identity)
	target := qualified(storage.NamespaceStaging, "stg_"+identity)

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+target); err != nil {
		return 0, fmt.Errorf("drop %s: %w", target, err)
	}
	q := fmt.Sprintf(
		`CREATE TABLE %s AS SELECT *, now() AS _loaded_at, %s::text AS _source_table FROM %s`,
		target, sqlLiteral(identity), source,
	)
	if _, err := tx.Exec(ctx, q); err != nil {
		return 0, fmt.Errorf("build %s: %w", target, err)
	}

	var n int64
	if err := tx.QueryRow(ctx, "SELECT COUNT(*) FROM "+target).Scan(&n); err != nil {
		return 0, err
	}
	return n, tx.Commit(ctx)
}

func (s *Store) CountRows(ctx context.Context, namespace, name string) (int64, error) {
	if !storage.ValidNamespace(namespace) {
		return 0, fmt.Errorf("postgres: invalid namespace %q", namespace)
	}
	var n int64
	err := s.conn.QueryRow(ctx, "SELECT COUNT(*) FROM "+qualified(namespace, name)).Scan(&n)
	return n, err
}
