package report

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"spectrum-etl/internal/stages"
)

// Report aggregates run statistics.
type Report struct {
	mu sync.Mutex

	Messages        int            `json:"messages"`
	Skipped         int            `json:"skipped"`
	Malformed       int            `json:"malformed"`
	SchemaWarnings  int            `json:"schema_warnings"`
	Extracted       int            `json:"extracted"`
	Dropped         map[string]int `json:"dropped"`
	TransformFailed int            `json:"transform_failed"`
	WrittenOK       int            `json:"written_ok"`
	WriteFailed     int            `json:"write_failed"`
	WriteRetries    int            `json:"write_retries"`
	DurationSeconds float64        `json:"duration_seconds"`
	Throughput      float64        `json:"throughput_per_second"`

	started time.Time
}

// NewReport initializes a Report with maps ready to use.
func NewReport() *Report {
	return &Report{
		Dropped: make(map[string]int),
		started: time.Now(),
	}
}

// Report implements stages.DiagnosticSink by counting diagnostics.
func (r *Report) Report(d stages.Diagnostic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch d.Kind {
	case stages.MalformedInput:
		r.Malformed++
	case stages.UnsupportedSchemaVersion:
		r.SchemaWarnings++
	}
}

// AddDropped increments the count for a drop reason.
func (r *Report) AddDropped(reason string) {
	if reason == "" {
		reason = "unspecified"
	}
	r.mu.Lock()
	r.Dropped[reason]++
	r.mu.Unlock()
}

// AddWritten counts records that reached the sink.
func (r *Report) AddWritten(n int) {
	r.mu.Lock()
	r.WrittenOK += n
	r.mu.Unlock()
}

// AddWriteFailed counts records the sink gave up on.
func (r *Report) AddWriteFailed(n int) {
	r.mu.Lock()
	r.WriteFailed += n
	r.mu.Unlock()
}

// AddWriteRetries counts write attempts beyond the first.
func (r *Report) AddWriteRetries(n int) {
	r.mu.Lock()
	r.WriteRetries += n
	r.mu.Unlock()
}

// Finish stamps duration and throughput of written records.
func (r *Report) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.DurationSeconds = time.Since(r.started).Seconds()
	if r.DurationSeconds > 0 {
		r.Throughput = float64(r.WrittenOK) / r.DurationSeconds
	}
}

// WriteJSON writes the report to a JSON file at the given path.
func (r *Report) WriteJSON(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r.mu.Lock()
	defer r.mu.Unlock()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
