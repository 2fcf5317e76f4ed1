package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"spectrum-etl/internal/logger"
	"spectrum-etl/internal/stages"
)

// DLQ appends malformed inputs to a JSONL dead-letter file.
type DLQ struct {
	mu   sync.Mutex
	sink *JSONLSink
	line func() int
}

// OpenDLQ opens path for appending. line reports the current input line
// number for each entry and may be nil.
func OpenDLQ(path string, line func() int) (*DLQ, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpenSink, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpenSink, err)
	}
	return &DLQ{sink: NewJSONLSink(f), line: line}, nil
}

// Report implements stages.DiagnosticSink; only malformed input is kept.
func (d *DLQ) Report(diag stages.Diagnostic) {
	if diag.Kind != stages.MalformedInput {
		return
	}
	rec := ErrorRecord{
		Stage: "extract",
		Raw:   diag.Raw,
	}
	if diag.Err != nil {
		rec.Error = diag.Err.Error()
	}
	if d.line != nil {
		rec.Line = d.line()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.sink.Write(rec); err != nil {
		logger.Error("dlq write failed", zap.Error(err))
	}
}

func (d *DLQ) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sink.Close()
}
