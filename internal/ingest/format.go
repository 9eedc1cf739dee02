package ingest

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Format is the declared file format, derived from the filename extension.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatXLS  Format = "xls"
)

// Detect determines the declared format from the filename extension.
// The extension is authoritative; content is never sniffed.
func Detect(filename string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	case ".xls":
		return FormatXLS, nil
	case "":
		return "", fmt.Errorf("%w: %q has no extension (use .csv, .xlsx or .xls)", ErrUnsupportedFormat, filename)
	default:
		return "", fmt.Errorf("%w: %s (use .csv, .xlsx or .xls)", ErrUnsupportedFormat, ext)
	}
}
