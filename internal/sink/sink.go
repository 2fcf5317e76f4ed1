package sink

import (
	"fmt"

	"spectrum-etl/internal/model"
)

// Writer accepts records for output.
type Writer interface {
	Write(record any) error
	Close() error
}

// BatchWriter is implemented by sinks that can ship many records at once.
type BatchWriter interface {
	WriteBatch(records []any) error
}

// recordsOf unwraps the record shapes the pipeline hands to sinks.
func recordsOf(record any) ([]model.OutputRecord, error) {
	switch r := record.(type) {
	case model.OutputRecord:
		return []model.OutputRecord{r}, nil
	case *model.OutputRecord:
		if r == nil {
			return nil, nil
		}
		return []model.OutputRecord{*r}, nil
	case model.Payload:
		return r, nil
	default:
		return nil, fmt.Errorf("%w: unsupported record type %T", ErrWriteSink, record)
	}
}

// payloadOf wraps output records into the one-element flow payload; other
// values pass through unchanged.
func payloadOf(record any) any {
	switch r := record.(type) {
	case model.OutputRecord:
		return model.Payload{r}
	case *model.OutputRecord:
		if r == nil {
			return nil
		}
		return model.Payload{*r}
	default:
		return record
	}
}

// RetriesInternally reports whether w handles write retries itself, so
// callers should not retry on top of it. A BatchedSink retries each batch and
// keeps failed records for the next flush.
func RetriesInternally(w Writer) bool {
	switch w.(type) {
	case *HTTPSink, *BatchedSink:
		return true
	default:
		return false
	}
}
