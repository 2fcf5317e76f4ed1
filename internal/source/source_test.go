package source

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		payload string
		cpu     *float64
	}{
		{"raw document", `{"rms":1.5}`, `{"rms":1.5}`, nil},
		{"sentinel", `unknown`, `unknown`, nil},
		{"garbage", `{not json`, `{not json`, nil},
		{"string payload", `{"payload":"{\"rms\":2}","cpu_load":7}`, `{"rms":2}`, ptr(7)},
		{"object payload", `{"payload":{"rms":3},"cpu_load":"12.5"}`, `{"rms":3}`, ptr(12.5)},
		{"null payload", `{"payload":null}`, ``, nil},
		{"null cpu", `{"payload":"unavailable","cpu_load":null}`, `unavailable`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := ParseLine([]byte(tt.line))
			if msg.Payload != tt.payload {
				t.Fatalf("payload = %q, want %q", msg.Payload, tt.payload)
			}
			switch {
			case tt.cpu == nil && msg.CPULoad != nil:
				t.Fatalf("expected no cpu_load, got %v", *msg.CPULoad)
			case tt.cpu != nil && (msg.CPULoad == nil || *msg.CPULoad != *tt.cpu):
				t.Fatalf("cpu_load = %v, want %v", msg.CPULoad, *tt.cpu)
			}
		})
	}
}

func TestLineSourceSkipsBlankLines(t *testing.T) {
	input := "{\"rms\":1}\n\n   \n{\"payload\":\"unknown\"}\n"
	src := NewLineSource(io.NopCloser(strings.NewReader(input)))
	defer src.Close()

	ctx := context.Background()
	first, err := src.Next(ctx)
	if err != nil || first.Payload != `{"rms":1}` {
		t.Fatalf("first = %+v, %v", first, err)
	}
	second, err := src.Next(ctx)
	if err != nil || second.Payload != "unknown" {
		t.Fatalf("second = %+v, %v", second, err)
	}
	if src.Line() != 4 {
		t.Fatalf("expected line 4, got %d", src.Line())
	}
	if _, err := src.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestLineSourceHonorsContext(t *testing.T) {
	src := NewLineSource(io.NopCloser(strings.NewReader("{}\n")))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func ptr(v float64) *float64 { return &v }

func TestLineSourceSkipsOversizedLine(t *testing.T) {
	input := `{"rms":1}` + "\n" + strings.Repeat("x", 2<<20) + "\n" + `{"rms":3}` + "\n"
	src := NewLineSource(io.NopCloser(strings.NewReader(input)))
	ctx := context.Background()

	msg, err := src.Next(ctx)
	if err != nil || msg.Payload != `{"rms":1}` {
		t.Fatalf("first line: %+v, %v", msg, err)
	}

	msg, err = src.Next(ctx)
	if err != nil {
		t.Fatalf("oversized line must not end the stream: %v", err)
	}
	if !errors.Is(msg.Err, ErrLineTooLong) {
		t.Fatalf("expected ErrLineTooLong, got %v", msg.Err)
	}
	if len(msg.Payload) != previewBytes {
		t.Fatalf("expected %d byte preview, got %d", previewBytes, len(msg.Payload))
	}
	if src.Line() != 2 {
		t.Fatalf("line = %d, want 2", src.Line())
	}

	msg, err = src.Next(ctx)
	if err != nil || msg.Payload != `{"rms":3}` || msg.Err != nil {
		t.Fatalf("third line: %+v, %v", msg, err)
	}
	if _, err := src.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestLineSourceLastLineWithoutNewline(t *testing.T) {
	src := NewLineSource(io.NopCloser(strings.NewReader("unknown\n{\"rms\":2}")))
	ctx := context.Background()
	for _, want := range []string{"unknown", `{"rms":2}`} {
		msg, err := src.Next(ctx)
		if err != nil || msg.Payload != want {
			t.Fatalf("got %+v, %v; want %q", msg, err, want)
		}
	}
	if _, err := src.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}
