package ingest

import (
	"strconv"
	"strings"
	"time"
)

// inferColumnTypes infers a coarse type per column over all rows.
// Preference order when several interpretations hold: integer, boolean,
// timestamp, float, text. Empty cells are ignored; a column with no non-empty
// cells is text.
func inferColumnTypes(header []string, records [][]string) []ColumnType {
	out := make([]ColumnType, len(header))
	for i := range out {
		out[i] = TypeText
	}

	for col := range header {
		var seen bool
		allInt := true
		allFloat := true
		allBool := true
		allTS := true

		for _, rec := range records {
			if col >= len(rec) {
				continue
			}
			v := strings.TrimSpace(rec[col])
			if v == "" {
				continue
			}
			seen = true

			if allInt {
				if _, err := strconv.ParseInt(v, 10, 64); err != nil {
					allInt = false
				}
			}
			if allFloat {
				if _, err := strconv.ParseFloat(v, 64); err != nil {
					allFloat = false
				}
			}
			if allBool {
				if _, ok := parseBoolLoose(v); !ok {
					allBool = false
				}
			}
			if allTS {
				if _, ok := parseTimestampLoose(v); !ok {
					allTS = false
				}
			}
		}

		if !seen {
			continue
		}
		switch {
		case allInt:
			out[col] = TypeInteger
		case allBool:
			out[col] = TypeBoolean
		case allTS:
			out[col] = TypeTimestamp
		case allFloat:
			out[col] = TypeFloat
		default:
			out[col] = TypeText
		}
	}

	return out
}

// convertCell converts a raw string cell to the typed value for its column.
// Empty cells become nil. A cell that does not parse under the column type
// (possible only for rows shorter than the header) falls back to text.
func convertCell(raw string, t ColumnType) any {
	v := strings.TrimSpace(raw)
	if v == "" {
		return nil
	}
	switch t {
	case TypeInteger:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	case TypeFloat:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	case TypeBoolean:
		if b, ok := parseBoolLoose(v); ok {
			return b
		}
	case TypeTimestamp:
		if ts, ok := parseTimestampLoose(v); ok {
			return ts
		}
	}
	return v
}

func parseBoolLoose(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "t", "true", "yes", "y":
		return true, true
	case "0", "f", "false", "no", "n":
		return false, true
	default:
		return false, false
	}
}

// timestampLayouts covers dates and datetimes; plain dates parse to midnight.
var timestampLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02.01.2006 15:04:05",
	"2006-01-02",
	"02.01.2006",
	"02/01/2006",
	"01/02/2006",
}

func parseTimestampLoose(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, lay := range timestampLayouts {
		if t, err := time.Parse(lay, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
