package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// parseAttempt is one fixed configuration of decoding, delimiter and
// error-policy tried during CSV ingestion.
type parseAttempt struct {
	name             string
	decode           func([]byte) (string, error)
	comma            rune
	lazyQuotes       bool
	trimLeadingSpace bool

	// skipBadLines makes record-level parse errors non-fatal: the offending
	// line is dropped and counted instead of failing the attempt.
	skipBadLines bool

	// hasHeader is false only for the last-resort strategy, which synthesizes
	// positional column names.
	hasHeader bool
}

func decodeUTF8Strict(b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", errors.New("invalid UTF-8 byte sequence")
	}
	return string(b), nil
}

func decodeLatin1(b []byte) (string, error) {
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func decodeWindows1252(b []byte) (string, error) {
	out, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// csvAttempts is the fixed priority order of parse strategies. The first
// attempt that completes without a fatal error wins, even if it skipped rows;
// later attempts are never tried after a success.
var csvAttempts = []parseAttempt{
	{name: "utf8-strict", decode: decodeUTF8Strict, comma: ',', hasHeader: true},
	{name: "latin1", decode: decodeLatin1, comma: ',', hasHeader: true},
	{name: "windows1252", decode: decodeWindows1252, comma: ',', hasHeader: true},
	{name: "utf8-skip-bad", decode: decodeUTF8Strict, comma: ',', hasHeader: true, skipBadLines: true},
	{name: "latin1-skip-bad", decode: decodeLatin1, comma: ',', hasHeader: true, skipBadLines: true},
	{name: "utf8-lazy-quotes", decode: decodeUTF8Strict, comma: ',', hasHeader: true, lazyQuotes: true, skipBadLines: true},
	{name: "latin1-lazy-quotes", decode: decodeLatin1, comma: ',', hasHeader: true, lazyQuotes: true, skipBadLines: true},
	{name: "utf8-trim-space", decode: decodeUTF8Strict, comma: ',', hasHeader: true, lazyQuotes: true, trimLeadingSpace: true, skipBadLines: true},
	{name: "utf8-no-header", decode: decodeUTF8Strict, comma: ',', hasHeader: false, skipBadLines: true},
}

// rawTable is the intermediate result of a parse attempt: header fields plus
// string records, before type inference and normalization.
type rawTable struct {
	header  []string
	records [][]string
	skipped int
}

// runAttempt executes a single parse attempt over the content.
// A nil error means the attempt "succeeded" in the fallback-chain sense,
// regardless of how many lines were skipped.
func runAttempt(a parseAttempt, content []byte) (*rawTable, error) {
	text, err := a.decode(content)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", a.name, err)
	}

	r := csv.NewReader(strings.NewReader(text))
	r.Comma = a.comma
	r.LazyQuotes = a.lazyQuotes
	r.TrimLeadingSpace = a.trimLeadingSpace
	// First record sets the expected field count; mismatches surface as
	// csv.ErrFieldCount, which skipBadLines treats as droppable.
	r.FieldsPerRecord = 0

	var t rawTable

	if a.hasHeader {
		hdr, err := r.Read()
		if err == io.EOF {
			// Structurally fine, just empty. The EmptyDataset check fires later.
			return &t, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}
		t.header = stripBOM(hdr)
	}

	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if a.skipBadLines && errors.As(err, &pe) {
				t.skipped++
				continue
			}
			return nil, err
		}
		if !a.hasHeader && t.header == nil {
			t.header = positionalHeader(len(rec))
			r.FieldsPerRecord = len(rec)
		}
		t.records = append(t.records, rec)
	}

	return &t, nil
}

// stripBOM removes a UTF-8 byte order mark from the first header field.
func stripBOM(hdr []string) []string {
	if len(hdr) > 0 {
		hdr[0] = strings.TrimPrefix(hdr[0], "\uFEFF")
	}
	return hdr
}

func positionalHeader(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("column_%d", i)
	}
	return out
}

// parseCSV walks the attempt chain and, if every attempt fails, runs the
// manual repair pass. It returns the winning raw table and the name of the
// strategy that produced it.
//
// An attempt wins only when it yields a non-empty rectangular result: a
// lenient attempt that skipped every data line is treated as a failure so the
// chain can fall through to repair (or report the dataset as empty there).
func parseCSV(content []byte) (*rawTable, string, error) {
	var lastErr error
	for _, a := range csvAttempts {
		t, err := runAttempt(a, content)
		switch {
		case err != nil:
		case len(t.records) == 0:
			err = fmt.Errorf("strategy %s: no data rows parsed", a.name)
		case !a.hasHeader && t.skipped > 0:
			// The headerless last resort treats every line as data, so a lossy
			// parse here would swallow the header row of a malformed file.
			// Only a clean headerless parse wins; anything else goes to repair.
			err = fmt.Errorf("strategy %s: skipped %d lines", a.name, t.skipped)
		default:
			return t, a.name, nil
		}
		lastErr = err
	}

	repaired, repairs, err := repairLines(content)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v (last strategy error: %v)", ErrMalformedInput, err, lastErr)
	}

	strict := parseAttempt{name: "repaired-utf8", decode: decodeUTF8Strict, comma: ',', hasHeader: true}
	t, err := runAttempt(strict, repaired)
	if err != nil {
		return nil, "", fmt.Errorf("%w: re-parse after repair failed: %v", ErrMalformedInput, err)
	}
	for _, rep := range repairs {
		if rep.Action == ActionDropLine {
			t.skipped++
		}
	}
	return t, "manual-repair", nil
}
