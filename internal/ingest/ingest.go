package ingest

import (
	"fmt"
	"log/slog"
)

// DefaultMaxBytes bounds upload size before the fallback chain runs.
const DefaultMaxBytes = 256 << 20

// Resolver turns raw file bytes plus a declared filename into a Dataset.
// It is stateless and safe for concurrent use.
type Resolver struct {
	maxBytes int64
	log      *slog.Logger
}

// NewResolver constructs a Resolver. maxBytes <= 0 selects DefaultMaxBytes;
// a nil logger selects slog.Default.
func NewResolver(maxBytes int64, log *slog.Logger) *Resolver {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{maxBytes: maxBytes, log: log}
}

// Ingest resolves content declared by filename into a Dataset, or fails with
// one of the package's sentinel errors. The format check runs before any
// content is read; the byte ceiling runs before any parse attempt.
func (r *Resolver) Ingest(filename string, content []byte) (*Dataset, error) {
	format, err := Detect(filename)
	if err != nil {
		return nil, err
	}

	if int64(len(content)) > r.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrContentTooLarge, len(content), r.maxBytes)
	}

	var (
		table    *rawTable
		strategy string
	)
	switch format {
	case FormatCSV:
		table, strategy, err = parseCSV(content)
	case FormatXLSX, FormatXLS:
		table, err = parseExcel(content)
		strategy = "excel"
	}
	if err != nil {
		return nil, err
	}

	ds, err := buildDataset(table)
	if err != nil {
		return nil, err
	}
	ds.Strategy = strategy

	r.log.Info("resolved upload",
		"filename", filename,
		"strategy", strategy,
		"rows", ds.RowCount(),
		"columns", ds.ColumnCount(),
		"rows_skipped", ds.RowsSkipped,
	)
	return ds, nil
}
