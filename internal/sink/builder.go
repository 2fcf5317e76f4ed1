package sink

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"spectrum-etl/internal/config"
)

// Build constructs a sink based on config, wrapped for batching when
// batch_size is greater than one. opts apply to the batching wrapper; batches
// are retried per the sink_* settings unless the wrapped sink retries itself.
func Build(ctx context.Context, cfg config.Config, opts ...BatchOption) (Writer, error) {
	w, err := build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.BatchSize > 1 {
		retries := cfg.SinkMaxRetries
		if RetriesInternally(w) {
			retries = 0
		}
		backoff := Backoff{
			Base:   time.Duration(cfg.SinkBackoffBaseMS) * time.Millisecond,
			Max:    time.Duration(cfg.SinkBackoffMaxMS) * time.Millisecond,
			Jitter: cfg.SinkBackoffJitter,
		}
		opts = append([]BatchOption{WithRetry(ctx, retries, backoff)}, opts...)
		bs, err := NewBatchedSink(w, cfg.BatchSize, time.Duration(cfg.BatchFlushInterval)*time.Millisecond, opts...)
		if err != nil {
			w.Close()
			return nil, err
		}
		return bs, nil
	}
	return w, nil
}

func build(ctx context.Context, cfg config.Config) (Writer, error) {
	switch strings.ToLower(cfg.OutputType) {
	case "", "stdout":
		return NewJSONLSink(nopCloser{os.Stdout}), nil
	case "file":
		if cfg.OutputPath == "" {
			return nil, fmt.Errorf("%w: output path required for file sink", ErrOpenSink)
		}
		f, err := os.Create(cfg.OutputPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrOpenSink, err)
		}
		return NewJSONLSink(f), nil
	case "rotate", "rotating":
		if cfg.OutputPath == "" {
			return nil, fmt.Errorf("%w: output path required for rotating sink", ErrOpenSink)
		}
		maxBytes := cfg.OutputMaxB
		if maxBytes <= 0 {
			maxBytes = 10 * 1024 * 1024 // fallback
		}
		maxFiles := cfg.OutputMaxFiles
		if maxFiles <= 0 {
			maxFiles = 5
		}
		return NewRotatingJSONLSink(cfg.OutputPath, maxBytes, maxFiles)
	case "http", "influx":
		if cfg.OutputPath == "" {
			return nil, fmt.Errorf("%w: output URL required for http sink", ErrOpenSink)
		}
		return NewHTTPSink(ctx, cfg.OutputPath, HTTPOptions{
			Org:         cfg.InfluxOrg,
			Bucket:      cfg.InfluxBucket,
			Token:       cfg.InfluxToken,
			Gzip:        cfg.HTTPGzip,
			MaxRetries:  cfg.SinkMaxRetries,
			BackoffBase: time.Duration(cfg.SinkBackoffBaseMS) * time.Millisecond,
			BackoffMax:  time.Duration(cfg.SinkBackoffMaxMS) * time.Millisecond,
			Jitter:      cfg.SinkBackoffJitter,
		})
	case "kafka":
		return NewKafkaSink(ctx, cfg.KafkaBrokers, cfg.KafkaTopic)
	default:
		return nil, fmt.Errorf("%w: unknown output type %q", ErrOpenSink, cfg.OutputType)
	}
}

type nopCloser struct {
	w *os.File
}

func (n nopCloser) Write(p []byte) (int, error) { return n.w.Write(p) }
func (n nopCloser) Close() error                { return nil }
