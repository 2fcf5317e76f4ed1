package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// RotatingJSONLSink writes payload lines and starts a new file once maxBytes
// would be exceeded, keeping at most maxFiles rotated files besides the
// active one.
type RotatingJSONLSink struct {
	mu       sync.Mutex
	basePath string
	maxBytes int64
	maxFiles int

	current     *os.File
	currentSize int64
	index       int
}

func NewRotatingJSONLSink(path string, maxBytes int64, maxFiles int) (*RotatingJSONLSink, error) {
	s := &RotatingJSONLSink{
		basePath: path,
		maxBytes: maxBytes,
		maxFiles: maxFiles,
	}
	if err := s.openNew(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RotatingJSONLSink) Write(record any) error {
	data, err := json.Marshal(payloadOf(record))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteSink, err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentSize > 0 && s.currentSize+int64(len(data)) > s.maxBytes {
		if err := s.rotate(); err != nil {
			return err
		}
	}

	n, err := s.current.Write(data)
	s.currentSize += int64(n)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteSink, err)
	}
	return nil
}

func (s *RotatingJSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		err := s.current.Close()
		s.current = nil
		return err
	}
	return nil
}

func (s *RotatingJSONLSink) rotate() error {
	if err := s.current.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrRotateSink, err)
	}
	s.index++
	if s.maxFiles > 0 && s.index > s.maxFiles {
		os.Remove(s.rotatedPath(s.index - s.maxFiles))
	}
	return s.openNew()
}

func (s *RotatingJSONLSink) openNew() error {
	target := s.basePath
	if s.index > 0 {
		target = s.rotatedPath(s.index)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrOpenSink, err)
	}
	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOpenSink, err)
	}
	s.current = f
	s.currentSize = 0
	return nil
}

// rotatedPath puts the index before the extension: out.jsonl -> out.3.jsonl.
func (s *RotatingJSONLSink) rotatedPath(idx int) string {
	ext := filepath.Ext(s.basePath)
	return fmt.Sprintf("%s.%d%s", strings.TrimSuffix(s.basePath, ext), idx, ext)
}
