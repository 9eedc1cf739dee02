// Package mssql implements storage.Store on SQL Server via database/sql.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"queryverse/internal/ingest"
	"queryverse/internal/storage"
)

// Store implements storage.Store for SQL Server.
//
// Schemas cannot be created with IF NOT EXISTS, so Init guards CREATE SCHEMA
// with a sys.schemas lookup. CREATE SCHEMA must also be the only statement in
// its batch, hence EXEC.
type Store struct {
	db *sql.DB
}

func init() {
	storage.Register("mssql", Open)
}

func Open(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() { _ = s.db.Close() }

func (s *Store) Init(ctx context.Context) error {
	for _, schema := range []string{storage.NamespaceRaw, storage.NamespaceStaging} {
		q := fmt.Sprintf(
			`IF NOT EXISTS (SELECT 1 FROM sys.schemas WHERE name = '%s') EXEC('CREATE SCHEMA %s')`,
			schema, schema,
		)
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create schema %s: %w", schema, err)
		}
	}
	return nil
}

func sqlIdent(id string) string {
	return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
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
		return "FLOAT"
	case ingest.TypeBoolean:
		return "BIT"
	case ingest.TypeTimestamp:
		return "DATETIMEOFFSET"
	default:
		return "NVARCHAR(MAX)"
	}
}

// maxBindVars stays under SQL Server's 2100-parameter statement limit.
const maxBindVars = 2000

func (s *Store) ReplaceTable(ctx context.Context, namespace, identity string, ds *ingest.Dataset) (int64, error) {
	if !storage.ValidNamespace(namespace) {
		return 0, fmt.Errorf("mssql: invalid namespace %q", namespace)
	}
	target := qualified(namespace, identity)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	drop := fmt.Sprintf(`IF OBJECT_ID('%s.%s', 'U') IS NOT NULL DROP TABLE %s`,
		namespace, identity, target)
	if _, err := tx.ExecContext(ctx, drop); err != nil {
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

// buildInsertSQL numbers placeholders @p1..@pN row-major, the go-mssqldb
// positional convention.
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
			fmt.Fprintf(&b, "@p%d", n)
			args = append(args, row[j])
		}
		b.WriteByte(')')
	}
	return b.String(), args
}

func (s *Store) ListTables(ctx context.Context) ([]storage.TableInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT TABLE_SCHEMA, TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA IN (@p1, @p2)
		ORDER BY TABLE_SCHEMA, TABLE_NAME`,
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
	rows, err := s.db.QueryContext(ctx, `
		SELECT COLUMN_NAME, DATA_TYPE
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2
		ORDER BY ORDINAL_POSITION`,
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
	rows, err := s.db.QueryContext(ctx, `
		SELECT TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = @p1
		ORDER BY TABLE_NAME`,
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

// BuildStaging uses SELECT INTO: SQL Server has no CREATE TABLE AS.
func (s *Store) BuildStaging(ctx context.Context, identity string) (int64, error) {
	source := qualified(storage.NamespaceRaw, identity)
	target := qualified(storage.NamespaceStaging, "stg_"+identity)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	drop := fmt.Sprintf(`IF OBJECT_ID('%s.stg_%s', 'U') IS NOT NULL DROP TABLE %s`,
		storage.NamespaceStaging, identity, target)
	if _, err := tx.ExecContext(ctx, drop); err != nil {
		return 0, fmt.Errorf("drop %s: %w", target, err)
	}

	q := fmt.Sprintf(
		`SELECT *, SYSDATETIMEOFFSET() AS _loaded_at, %s AS _source_table INTO %s FROM %s`,
		sqlLiteral(identity), target, source,
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
		return 0, fmt.Errorf("mssql: invalid namespace %q", namespace)
	}
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+qualified(namespace, name)).Scan(&n)
	return n, err
}
