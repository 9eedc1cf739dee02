// Package ingest resolves raw tabular file uploads (CSV/Excel) into
// rectangular datasets ready for persistence.
//
// The CSV path is deliberately forgiving: it walks an ordered list of parse
// attempts (encoding and delimiter variations) and, when every attempt fails,
// falls back to a line-by-line repair pass. The Excel path is a single
// attempt over the first worksheet.
package ingest

// ColumnType is the inferred storage type of a column.
type ColumnType string

const (
	TypeInteger   ColumnType = "integer"
	TypeFloat     ColumnType = "float"
	TypeBoolean   ColumnType = "boolean"
	TypeTimestamp ColumnType = "timestamp"
	TypeText      ColumnType = "text"
)

// Dataset is the resolver's output: ordered column names and ordered rows.
//
// Invariants:
//   - every row has exactly len(Columns) cells
//   - len(Types) == len(Columns)
//   - column names are unique after normalization
//
// Cell values are one of: nil, int64, float64, string, bool, time.Time.
type Dataset struct {
	Columns []string
	Types   []ColumnType
	Rows    [][]any

	// RowsSkipped counts input lines silently dropped by the winning parse
	// attempt (or by the repair pass). Callers can use it to detect lossy
	// parses that still "succeeded".
	RowsSkipped int

	// Strategy names the parse attempt that produced the dataset
	// ("utf8-strict", "latin1", ..., "manual-repair", "excel").
	Strategy string
}

// RowCount returns the number of data rows.
func (d *Dataset) RowCount() int { return len(d.Rows) }

// ColumnCount returns the number of columns.
func (d *Dataset) ColumnCount() int { return len(d.Columns) }
