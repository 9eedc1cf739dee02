// Package metrics defines a minimal pluggable metrics facade. The rest of the
// codebase depends only on this package; concrete backends (Datadog) register
// themselves at startup via SetBackend. The default backend discards
// everything, so instrumented code needs no nil checks.
package metrics

import "sync"

// Labels attaches low-cardinality dimensions to a metric sample.
type Labels map[string]string

// Backend is the sink for metric samples.
type Backend interface {
	// IncCounter adds delta to a monotonically increasing counter.
	IncCounter(name string, delta float64, labels Labels)

	// ObserveHistogram records one sample of a distribution (seconds, bytes).
	ObserveHistogram(name string, value float64, labels Labels)

	// Flush submits any buffered samples.
	Flush() error
}

// Metric names used across the service.
const (
	UploadsTotal          = "ingest_uploads_total"           // labels: status, format
	RowsTotal             = "ingest_rows_total"              // labels: kind (loaded|skipped)
	ParseAttemptsTotal    = "ingest_parse_attempts_total"    // labels: strategy
	UploadDurationSeconds = "ingest_upload_duration_seconds" // labels: status
	HTTPRequestsTotal     = "http_requests_total"            // labels: status
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs the process-wide backend. Passing nil restores the nop
// backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		backend = nopBackend{}
		return
	}
	backend = b
}

func IncCounter(name string, delta float64, labels Labels) {
	mu.RLock()
	b := backend
	mu.RUnlock()
	b.IncCounter(name, delta, labels)
}

func ObserveHistogram(name string, value float64, labels Labels) {
	mu.RLock()
	b := backend
	mu.RUnlock()
	b.ObserveHistogram(name, value, labels)
}

func Flush() error {
	mu.RLock()
	b := backend
	mu.RUnlock()
	return b.Flush()
}
