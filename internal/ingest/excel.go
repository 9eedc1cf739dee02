package ingest

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// oleMagic is the compound-file signature of pre-2007 .xls workbooks.
var oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// parseExcel reads the first worksheet's tabular layout (first row = header).
// Single attempt, no fallback strategies: any decode error is surfaced as
// malformed input with the underlying message. Legacy .xls (pre-2007 OLE)
// workbooks fail here because the decoder only understands the xlsx
// container; they are sniffed up front so the error says so.
func parseExcel(content []byte) (*rawTable, error) {
	if bytes.HasPrefix(content, oleMagic) {
		return nil, fmt.Errorf("%w: legacy .xls (OLE) workbooks are not supported, re-save as .xlsx", ErrMalformedInput)
	}

	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no worksheets", ErrMalformedInput)
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: read worksheet %q: %v", ErrMalformedInput, sheets[0], err)
	}
	if len(rows) == 0 {
		return &rawTable{}, nil
	}

	t := &rawTable{header: rows[0]}
	for _, rec := range rows[1:] {
		// excelize trims trailing empty cells; pad so every record is
		// rectangular against the header.
		if len(rec) < len(t.header) {
			padded := make([]string, len(t.header))
			copy(padded, rec)
			rec = padded
		}
		t.records = append(t.records, rec[:len(t.header)])
	}
	return t, nil
}
