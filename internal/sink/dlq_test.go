package sink

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"spectrum-etl/internal/stages"
)

func TestDLQKeepsMalformedInputOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dlq", "bad.jsonl")
	line := 0
	dlq, err := OpenDLQ(path, func() int { return line })
	if err != nil {
		t.Fatalf("OpenDLQ: %v", err)
	}

	line = 4
	dlq.Report(stages.Diagnostic{Kind: stages.MalformedInput, Raw: "{not json", Err: errors.New("boom")})
	dlq.Report(stages.Diagnostic{Kind: stages.UnsupportedSchemaVersion, Declared: 3, Supported: 1})
	if err := dlq.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var recs []ErrorRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec ErrorRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		recs = append(recs, rec)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(recs))
	}
	want := ErrorRecord{Line: 4, Error: "boom", Stage: "extract", Raw: "{not json"}
	if recs[0] != want {
		t.Fatalf("got %+v, want %+v", recs[0], want)
	}
}
