package mssql

import (
	"strings"
	"testing"

	"queryverse/internal/ingest"
)

func TestBuildInsertSQL_PlaceholderNumbering(t *testing.T) {
	t.Parallel()

	q, args := buildInsertSQL("raw.[t]", []string{"a", "b"}, [][]any{
		{int64(1), "x"},
		{int64(2), "y"},
	})
	want := `INSERT INTO raw.[t] ([a], [b]) VALUES (@p1,@p2), (@p3,@p4)`
	if q != want {
		t.Errorf("sql = %q, want %q", q, want)
	}
	if len(args) != 4 {
		t.Errorf("args = %d, want 4", len(args))
	}
}

func TestBuildCreateSQL_Types(t *testing.T) {
	t.Parallel()

	ds := &ingest.Dataset{
		Columns: []string{"i", "f", "b", "ts", "s"},
		Types: []ingest.ColumnType{
			ingest.TypeInteger, ingest.TypeFloat, ingest.TypeBoolean,
			ingest.TypeTimestamp, ingest.TypeText,
		},
	}
	q := buildCreateSQL("raw.[t]", ds)
	for _, frag := range []string{
		"[i] BIGINT", "[f] FLOAT", "[b] BIT", "[ts] DATETIMEOFFSET", "[s] NVARCHAR(MAX)",
	} {
		if !strings.Contains(q, frag) {
			t.Errorf("create sql missing %q:\n%s", frag, q)
		}
	}
}

func TestSQLIdent_EscapesBrackets(t *testing.T) {
	t.Parallel()

	if got := sqlIdent("we]ird"); got != "[we]]ird]" {
		t.Errorf("sqlIdent = %q", got)
	}
}
