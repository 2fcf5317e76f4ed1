package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// HTTPOptions configures an HTTPSink.
type HTTPOptions struct {
	Org         string
	Bucket      string
	Token       string
	Gzip        bool
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Jitter      float64
	Timeout     time.Duration
}

// HTTPSink posts line protocol to an InfluxDB v2 compatible write endpoint.
type HTTPSink struct {
	ctx     context.Context
	url     string
	client  *http.Client
	opts    HTTPOptions
	backoff Backoff
}

// NewHTTPSink creates a new HTTP sink. When a bucket is configured the write
// path and query parameters are added to base.
func NewHTTPSink(ctx context.Context, base string, opts HTTPOptions) (*HTTPSink, error) {
	if base == "" {
		return nil, fmt.Errorf("%w: URL required for HTTP sink", ErrOpenSink)
	}
	target, err := writeURL(base, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL: %v", ErrOpenSink, err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTTPSink{
		ctx:     ctx,
		url:     target,
		opts:    opts,
		backoff: Backoff{Base: opts.BackoffBase, Max: opts.BackoffMax, Jitter: opts.Jitter},
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

func writeURL(base string, opts HTTPOptions) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if opts.Bucket == "" {
		return u.String(), nil
	}
	if !strings.HasSuffix(u.Path, "/api/v2/write") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/api/v2/write"
	}
	q := u.Query()
	if opts.Org != "" {
		q.Set("org", opts.Org)
	}
	q.Set("bucket", opts.Bucket)
	q.Set("precision", "ms")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// URL returns the resolved write URL.
func (hs *HTTPSink) URL() string { return hs.url }

// Write sends a record to the HTTP endpoint.
func (hs *HTTPSink) Write(record any) error {
	return hs.WriteBatch([]any{record})
}

// WriteBatch sends all records in one request, one point per line.
func (hs *HTTPSink) WriteBatch(records []any) error {
	var body bytes.Buffer
	for _, record := range records {
		recs, err := recordsOf(record)
		if err != nil {
			return err
		}
		for _, r := range recs {
			if r.Fields.Len() == 0 {
				continue
			}
			body.WriteString(LineProtocol(r))
			body.WriteByte('\n')
		}
	}
	if body.Len() == 0 {
		return nil
	}

	data := body.Bytes()
	if hs.opts.Gzip {
		var zbuf bytes.Buffer
		zw := gzip.NewWriter(&zbuf)
		if _, err := zw.Write(data); err != nil {
			return fmt.Errorf("%w: gzip: %v", ErrWriteSink, err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("%w: gzip: %v", ErrWriteSink, err)
		}
		data = zbuf.Bytes()
	}

	var lastErr error
	for attempt := 0; attempt <= hs.opts.MaxRetries; attempt++ {
		retry, err := hs.post(data)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || attempt == hs.opts.MaxRetries {
			break
		}
		if err := SleepContext(hs.ctx, hs.backoff.Delay(attempt)); err != nil {
			return err
		}
	}
	return lastErr
}

// post performs one request and reports whether a failure is retryable.
func (hs *HTTPSink) post(data []byte) (bool, error) {
	req, err := http.NewRequestWithContext(hs.ctx, http.MethodPost, hs.url, bytes.NewReader(data))
	if err != nil {
		return false, fmt.Errorf("%w: create request: %v", ErrWriteSink, err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if hs.opts.Token != "" {
		req.Header.Set("Authorization", "Token "+hs.opts.Token)
	}
	if hs.opts.Gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := hs.client.Do(req)
	if err != nil {
		if hs.ctx.Err() != nil {
			return false, hs.ctx.Err()
		}
		return true, fmt.Errorf("%w: http request failed: %v", ErrWriteSink, err)
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return false, nil
	}
	err = fmt.Errorf("%w: http error status %d: %s", ErrWriteSink, resp.StatusCode, strings.TrimSpace(string(msg)))
	retry := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
	return retry, err
}

// Close closes the HTTP sink.
func (hs *HTTPSink) Close() error {
	if hs.client != nil {
		hs.client.CloseIdleConnections()
	}
	return nil
}
