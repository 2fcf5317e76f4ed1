package sink

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"spectrum-etl/internal/model"
)

func TestRotatingSinkRotatesAndKeepsMaxFiles(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "out.jsonl")

	sink, err := NewRotatingJSONLSink(base, 200, 2)
	if err != nil {
		t.Fatalf("init sink: %v", err)
	}
	defer sink.Close()

	// Every record is larger than half the limit, so each write rotates.
	for i := 0; i < 6; i++ {
		if err := sink.Write(testRecord()); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("list dir: %v", err)
	}
	// base file plus at most maxFiles rotated files
	if len(entries) > 3 {
		t.Fatalf("expected at most 3 files, got %d", len(entries))
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "out.") || !strings.HasSuffix(e.Name(), ".jsonl") {
			t.Fatalf("unexpected file %s", e.Name())
		}
	}
}

func TestRotatingSinkWritesPayloadArrays(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "out.jsonl")

	sink, err := NewRotatingJSONLSink(base, 1<<20, 2)
	if err != nil {
		t.Fatalf("init sink: %v", err)
	}
	if err := sink.Write(testRecord()); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(base)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var payload model.Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	if len(payload) != 1 || payload[0].Measurement != "body_sound" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if v, _ := payload[0].Fields.Get("fft_size"); v != 512 {
		t.Fatalf("unexpected fields %v", payload[0].Fields.Keys())
	}
}
