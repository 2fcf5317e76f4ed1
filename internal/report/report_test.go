package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"spectrum-etl/internal/stages"
)

func TestReportCountsAndWrites(t *testing.T) {
	rep := NewReport()
	rep.Messages = 4
	rep.WrittenOK = 2
	rep.Report(stages.Diagnostic{Kind: stages.MalformedInput})
	rep.Report(stages.Diagnostic{Kind: stages.UnsupportedSchemaVersion})
	rep.Report(stages.Diagnostic{Kind: stages.UnsupportedSchemaVersion})
	rep.AddDropped(stages.ReasonIdle)
	rep.AddDropped("")

	time.Sleep(time.Millisecond)
	rep.Finish()

	path := filepath.Join(t.TempDir(), "report.json")
	if err := rep.WriteJSON(path); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got Report
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Malformed != 1 || got.SchemaWarnings != 2 {
		t.Fatalf("unexpected diagnostic counts: %+v", &got)
	}
	if got.Dropped["idle"] != 1 || got.Dropped["unspecified"] != 1 {
		t.Fatalf("unexpected drops: %v", got.Dropped)
	}
	if got.DurationSeconds <= 0 || got.Throughput <= 0 {
		t.Fatalf("expected duration/throughput, got %f/%f", got.DurationSeconds, got.Throughput)
	}
}
