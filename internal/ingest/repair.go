package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
)

// RepairAction is the corrective action the manual repair pass took on a line.
type RepairAction string

const (
	ActionMergeExcess RepairAction = "merge-excess-fields"
	ActionDropLine    RepairAction = "drop-line"
)

// RepairedLine records one corrected line from the manual repair pass.
type RepairedLine struct {
	Line     int // 1-based line number in the original content
	Fields   int // field count found on the line
	Expected int // field count of the header
	Action   RepairAction
}

// repairLines is the last-resort CSV path, used only after every structured
// parse attempt has fatally failed.
//
// The content is decoded as UTF-8 with undecodable bytes replaced, split into
// lines, and reconciled against the header's comma-separated field count:
//
//   - equal count: kept as-is
//   - too many fields: everything from position expected-1 onward is merged
//     into a single trailing field (assumes the excess commas came from an
//     unquoted field containing literal commas)
//   - too few fields: the line is dropped
//
// The reconciled records are re-emitted through a CSV writer so merged fields
// containing commas are quoted before the strict re-parse. The heuristic is
// approximate, not correctness-preserving: a line whose real defect is a
// missing field elsewhere will be mis-merged.
func repairLines(content []byte) ([]byte, []RepairedLine, error) {
	text := strings.ToValidUTF8(string(content), "�")
	text = strings.ReplaceAll(text, "\r\n", "\n")

	lines := strings.Split(text, "\n")
	// Trim a trailing blank produced by a final newline.
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return nil, nil, errors.New("no lines to repair")
	}

	header := strings.Split(strings.TrimSpace(lines[0]), ",")
	expected := len(header)

	records := [][]string{header}
	var repairs []RepairedLine

	for i, line := range lines[1:] {
		lineNo := i + 2
		parts := strings.Split(strings.TrimSpace(line), ",")
		switch {
		case len(parts) == expected:
			records = append(records, parts)
		case len(parts) > expected:
			merged := append(parts[:expected-1:expected-1], strings.Join(parts[expected-1:], ","))
			records = append(records, merged)
			repairs = append(repairs, RepairedLine{Line: lineNo, Fields: len(parts), Expected: expected, Action: ActionMergeExcess})
		default:
			repairs = append(repairs, RepairedLine{Line: lineNo, Fields: len(parts), Expected: expected, Action: ActionDropLine})
		}
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(records); err != nil {
		return nil, nil, fmt.Errorf("rewrite repaired csv: %w", err)
	}

	return buf.Bytes(), repairs, nil
}
