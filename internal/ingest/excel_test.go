package ingest

import (
	"errors"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func buildWorkbook(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}

func TestIngest_Excel(t *testing.T) {
	t.Parallel()

	content := buildWorkbook(t, [][]any{
		{"Product Name", "units", "price"},
		{"widget", 3, 1.5},
		{"gadget", 7, 2.25},
	})

	ds, err := newTestResolver().Ingest("sales.xlsx", content)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if got, want := ds.RowCount(), 2; got != want {
		t.Errorf("rows = %d, want %d", got, want)
	}
	if ds.Columns[0] != "product_name" {
		t.Errorf("columns[0] = %q, want product_name", ds.Columns[0])
	}
	if ds.Types[1] != TypeInteger {
		t.Errorf("units type = %s, want integer", ds.Types[1])
	}
	if got := ds.Rows[0][1]; got != int64(3) {
		t.Errorf("cell [0][1] = %v (%T), want int64 3", got, got)
	}
}

func TestIngest_ExcelRaggedRowsArePadded(t *testing.T) {
	t.Parallel()

	content := buildWorkbook(t, [][]any{
		{"a", "b", "c"},
		{"1", "2", "3"},
		{"4"}, // trailing cells absent in the sheet
	})

	ds, err := newTestResolver().Ingest("ragged.xlsx", content)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if got, want := ds.RowCount(), 2; got != want {
		t.Fatalf("rows = %d, want %d", got, want)
	}
	if ds.Rows[1][2] != nil {
		t.Errorf("padded cell = %v, want nil", ds.Rows[1][2])
	}
}

func TestIngest_ExcelGarbageIsMalformed(t *testing.T) {
	t.Parallel()

	_, err := newTestResolver().Ingest("junk.xlsx", []byte("this is not a zip archive"))
	if !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("err = %v, want ErrMalformedInput", err)
	}
}

func TestIngest_LegacyXLSNamesTheFormat(t *testing.T) {
	t.Parallel()

	content := append(append([]byte{}, oleMagic...), make([]byte, 512)...)
	_, err := newTestResolver().Ingest("old_report.xls", content)
	if !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("err = %v, want ErrMalformedInput", err)
	}
	if !strings.Contains(err.Error(), "legacy .xls") {
		t.Errorf("err = %q, want mention of legacy .xls", err)
	}
}

func TestIngest_ExcelHeaderOnlyIsEmpty(t *testing.T) {
	t.Parallel()

	content := buildWorkbook(t, [][]any{{"a", "b"}})
	_, err := newTestResolver().Ingest("headeronly.xlsx", content)
	if !errors.Is(err, ErrEmptyDataset) {
		t.Fatalf("err = %v, want ErrEmptyDataset", err)
	}
}
