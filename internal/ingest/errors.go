package ingest

import "errors"

// Failure taxonomy for an ingestion call. Callers match with errors.Is; the
// wrapped message carries the underlying parser diagnostic.
var (
	// ErrUnsupportedFormat indicates the filename extension is outside the
	// allow-set. Reported before any content is read.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrMalformedInput indicates every parse strategy, including the manual
	// repair pass, was exhausted without producing a dataset.
	ErrMalformedInput = errors.New("malformed input")

	// ErrEmptyDataset indicates parsing succeeded structurally but yielded
	// zero rows or zero columns.
	ErrEmptyDataset = errors.New("empty dataset")

	// ErrContentTooLarge indicates the upload exceeds the configured byte
	// ceiling. Checked before the fallback chain runs so worst-case parse
	// latency stays bounded.
	ErrContentTooLarge = errors.New("content too large")
)
