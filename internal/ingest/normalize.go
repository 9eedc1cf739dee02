package ingest

import (
	"fmt"
	"path/filepath"
	"strings"
)

var columnReplacer = strings.NewReplacer(" ", "_", "-", "_", ".", "_")

// NormalizeColumn lower-cases a column name and replaces spaces, hyphens and
// periods with underscores.
func NormalizeColumn(name string) string {
	return columnReplacer.Replace(strings.ToLower(strings.TrimSpace(name)))
}

// normalizeHeader applies NormalizeColumn to every name and disambiguates
// collisions with a numeric suffix. Every emitted name is checked against the
// ones already taken: a source column can itself be a literal "name_2", so a
// single bump is not enough to keep the result unique.
func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	used := make(map[string]bool, len(header))
	for i, h := range header {
		name := NormalizeColumn(h)
		if name == "" {
			name = fmt.Sprintf("column_%d", i)
		}
		base := name
		for n := 2; used[name]; n++ {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		used[name] = true
		out[i] = name
	}
	return out
}

// TableIdentity derives the persisted relation identifier from the source
// filename: lower-cased, extension stripped, non-alphanumeric characters
// (other than underscore) replaced with underscore, prefixed "raw_".
// Deterministic: the same filename always maps to the same identity, so a
// re-upload replaces the prior relation.
func TableIdentity(filename string) string {
	name := strings.ToLower(filepath.Base(filename))
	for _, ext := range []string{".csv", ".xlsx", ".xls"} {
		name = strings.TrimSuffix(name, ext)
	}

	var b strings.Builder
	b.Grow(len(name) + 4)
	b.WriteString("raw_")
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// buildDataset turns a raw string table into a typed, normalized Dataset:
// header normalization, type inference, cell conversion, and removal of
// columns that are entirely empty across all rows.
func buildDataset(t *rawTable) (*Dataset, error) {
	if t == nil || len(t.header) == 0 || len(t.records) == 0 {
		return nil, fmt.Errorf("%w: no rows or columns after parsing", ErrEmptyDataset)
	}

	columns := normalizeHeader(t.header)
	types := inferColumnTypes(t.header, t.records)

	// Find columns with at least one non-empty cell.
	keep := make([]int, 0, len(columns))
	for col := range columns {
		for _, rec := range t.records {
			if col < len(rec) && strings.TrimSpace(rec[col]) != "" {
				keep = append(keep, col)
				break
			}
		}
	}
	if len(keep) == 0 {
		return nil, fmt.Errorf("%w: every column is empty", ErrEmptyDataset)
	}

	ds := &Dataset{
		Columns:     make([]string, len(keep)),
		Types:       make([]ColumnType, len(keep)),
		Rows:        make([][]any, len(t.records)),
		RowsSkipped: t.skipped,
	}
	for i, col := range keep {
		ds.Columns[i] = columns[col]
		ds.Types[i] = types[col]
	}
	for ri, rec := range t.records {
		row := make([]any, len(keep))
		for i, col := range keep {
			if col < len(rec) {
				row[i] = convertCell(rec[col], types[col])
			}
		}
		ds.Rows[ri] = row
	}
	return ds, nil
}
