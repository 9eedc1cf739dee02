package ingest

import (
	"bytes"
	"encoding/csv"
	"testing"
)

func TestRepairLines_MergeAndDrop(t *testing.T) {
	t.Parallel()

	content := []byte("a,b,c\n1,2,3\n1,2,3,4,5\n1,2\n")
	fixed, repairs, err := repairLines(content)
	if err != nil {
		t.Fatalf("repairLines: %v", err)
	}

	records, err := csv.NewReader(bytes.NewReader(fixed)).ReadAll()
	if err != nil {
		t.Fatalf("re-parse repaired output: %v", err)
	}
	if got, want := len(records), 3; got != want { // header + 2 surviving rows
		t.Fatalf("records = %d, want %d", got, want)
	}
	if got := records[2][2]; got != "3,4,5" {
		t.Errorf("merged field = %q, want %q", got, "3,4,5")
	}

	if len(repairs) != 2 {
		t.Fatalf("repairs = %d, want 2", len(repairs))
	}
	if repairs[0].Action != ActionMergeExcess || repairs[0].Line != 3 {
		t.Errorf("repairs[0] = %+v, want merge at line 3", repairs[0])
	}
	if repairs[1].Action != ActionDropLine || repairs[1].Line != 4 {
		t.Errorf("repairs[1] = %+v, want drop at line 4", repairs[1])
	}
}

func TestRepairLines_CRLFAndTrailingBlank(t *testing.T) {
	t.Parallel()

	fixed, repairs, err := repairLines([]byte("a,b\r\n1,2\r\n\r\n"))
	if err != nil {
		t.Fatalf("repairLines: %v", err)
	}
	if len(repairs) != 0 {
		t.Errorf("repairs = %v, want none", repairs)
	}
	records, err := csv.NewReader(bytes.NewReader(fixed)).ReadAll()
	if err != nil {
		t.Fatalf("re-parse: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("records = %d, want 2", len(records))
	}
}

func TestRepairLines_Empty(t *testing.T) {
	t.Parallel()

	if _, _, err := repairLines([]byte("\n\n")); err == nil {
		t.Fatal("expected error for blank content")
	}
}
