package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"spectrum-etl/internal/config"
	"spectrum-etl/internal/report"
)

func benchmarkInput() string {
	var input strings.Builder
	for i := 0; i < 1000; i++ {
		input.WriteString(`{"schema_version":1,"fs":1000,"n":512,"bin_hz":1.953,"rms":0.012,"peak_hz":49.2,`)
		input.WriteString(`"max_analysis_hz":300,"ts_ms":123456,"win_ms":512,"hop_ms":512,"seq":7,"epoch_ms":1700000000000,`)
		input.WriteString(`"bands":[12.5,8.3,15.7,22.1,3.2,4.4,1.1,0.9,0.5,0.4,0.3,0.2,0.2,0.1,0.1,0.1]}`)
		input.WriteString("\n")
	}
	return input.String()
}

func BenchmarkPipeline_NoBatching(b *testing.B) {
	input := benchmarkInput()

	cfg := config.Default()
	cfg.OutputType = "file"
	cfg.OutputPath = filepath.Join(b.TempDir(), "out.jsonl")
	cfg.BatchSize = 1

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rep := report.NewReport()
		_ = runPipeline(context.Background(), strings.NewReader(input), cfg, rep)
	}
}

func BenchmarkPipeline_WithBatching(b *testing.B) {
	input := benchmarkInput()

	cfg := config.Default()
	cfg.OutputType = "file"
	cfg.OutputPath = filepath.Join(b.TempDir(), "out.jsonl")
	cfg.BatchSize = 100
	cfg.BatchFlushInterval = 100

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rep := report.NewReport()
		_ = runPipeline(context.Background(), strings.NewReader(input), cfg, rep)
	}
}

func BenchmarkPipeline_Features(b *testing.B) {
	input := benchmarkInput()

	cfg := config.Default()
	cfg.OutputType = "file"
	cfg.OutputPath = filepath.Join(b.TempDir(), "out.jsonl")
	cfg.Transforms = []string{"field_filter", "features"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rep := report.NewReport()
		_ = runPipeline(context.Background(), strings.NewReader(input), cfg, rep)
	}
}
