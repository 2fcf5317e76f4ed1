// Package source yields flow messages carrying spectrum text sensor states.
package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"spectrum-etl/internal/model"
)

// Source yields messages until it returns io.EOF.
type Source interface {
	Next(ctx context.Context) (model.Message, error)
	Close() error
}

const (
	maxLineBytes = 1 << 20
	// previewBytes of an oversized line are kept for diagnostics.
	previewBytes = 256
)

// ErrLineTooLong marks a line longer than the source accepts. The line is
// skipped and reading continues with the next one.
var ErrLineTooLong = errors.New("input line too long")

// LineSource reads one message per line. A line holding a JSON object with a
// "payload" key is a message envelope; any other line is the payload itself.
type LineSource struct {
	r    io.ReadCloser
	br   *bufio.Reader
	buf  []byte
	line int
}

func NewLineSource(r io.ReadCloser) *LineSource {
	return &LineSource{r: r, br: bufio.NewReaderSize(r, 64*1024)}
}

func (s *LineSource) Next(ctx context.Context) (model.Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return model.Message{}, err
		}
		raw, tooLong, err := s.readLine()
		if err != nil {
			return model.Message{}, err
		}
		s.line++
		if tooLong {
			return model.Message{
				Payload: string(raw[:min(len(raw), previewBytes)]),
				Err:     fmt.Errorf("%w: line %d exceeds %d bytes", ErrLineTooLong, s.line, maxLineBytes),
			}, nil
		}
		line := bytes.TrimSpace(raw)
		if len(line) == 0 {
			continue
		}
		return ParseLine(line), nil
	}
}

// readLine returns the next line without its terminator. Lines longer than
// maxLineBytes are consumed to their end and reported with tooLong set; only
// their first maxLineBytes are returned.
func (s *LineSource) readLine() (line []byte, tooLong bool, err error) {
	s.buf = s.buf[:0]
	for {
		chunk, err := s.br.ReadSlice('\n')
		if !tooLong {
			if len(s.buf)+len(chunk) > maxLineBytes+1 {
				room := maxLineBytes - len(s.buf)
				s.buf = append(s.buf, chunk[:room]...)
				tooLong = true
			} else {
				s.buf = append(s.buf, chunk...)
			}
		}
		switch {
		case err == nil:
			return bytes.TrimSuffix(s.buf, []byte{'\n'}), tooLong, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(s.buf) == 0 {
				return nil, false, io.EOF
			}
			return s.buf, tooLong, nil
		default:
			return nil, false, err
		}
	}
}

// Line returns the number of the most recently read line.
func (s *LineSource) Line() int { return s.line }

func (s *LineSource) Close() error { return s.r.Close() }

// ParseLine turns one input line into a message.
func ParseLine(line []byte) model.Message {
	if len(line) == 0 || line[0] != '{' {
		return model.Message{Payload: string(line)}
	}
	var env map[string]json.RawMessage
	if err := json.Unmarshal(line, &env); err != nil {
		return model.Message{Payload: string(line)}
	}
	payload, ok := env["payload"]
	if !ok {
		return model.Message{Payload: string(line)}
	}

	msg := model.Message{Payload: payloadText(payload)}
	if raw, ok := env["cpu_load"]; ok {
		var n model.Number
		if err := json.Unmarshal(raw, &n); err == nil && n.Present {
			v := n.Value
			msg.CPULoad = &v
		}
	}
	return msg
}

// payloadText returns string payloads unquoted, null as empty and anything
// else (an already parsed document) as its JSON text.
func payloadText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}
