package sink

import "errors"

var (
	ErrOpenSink   = errors.New("open sink")
	ErrWriteSink  = errors.New("write sink")
	ErrRotateSink = errors.New("rotate sink")
)

// ErrorRecord is one dead-letter entry.
type ErrorRecord struct {
	Line  int    `json:"line"`
	Error string `json:"error"`
	Stage string `json:"stage"`
	Raw   string `json:"raw"`
}
