package sink

import (
	"encoding/json"
	"fmt"
	"io"
)

// JSONLSink writes one JSON document per line. Output records are written
// as the one-element payload array a flow would hand to its DB writer.
type JSONLSink struct {
	w   io.WriteCloser
	enc *json.Encoder
}

func NewJSONLSink(w io.WriteCloser) *JSONLSink {
	return &JSONLSink{
		w:   w,
		enc: json.NewEncoder(w),
	}
}

func (s *JSONLSink) Write(record any) error {
	if err := s.enc.Encode(payloadOf(record)); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteSink, err)
	}
	return nil
}

func (s *JSONLSink) Close() error {
	return s.w.Close()
}
