package sink

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"spectrum-etl/internal/logger"
)

// FlushResult describes how one flush settled. Records that were kept for a
// later flush are counted in neither Written nor Failed.
type FlushResult struct {
	Written int
	Failed  int
	Retries int
	Err     error
}

// BatchOption configures a BatchedSink.
type BatchOption func(*BatchedSink)

// WithRetry retries a failed batch up to maxRetries times, waiting per b
// between attempts. ctx bounds the waits.
func WithRetry(ctx context.Context, maxRetries int, b Backoff) BatchOption {
	return func(bs *BatchedSink) {
		if ctx != nil {
			bs.retryCtx = ctx
		}
		bs.maxRetries = maxRetries
		bs.backoff = b
	}
}

// WithFlushHook registers fn to observe every flush that wrote or gave up
// on records.
func WithFlushHook(fn func(FlushResult)) BatchOption {
	return func(bs *BatchedSink) {
		bs.onFlush = fn
	}
}

// BatchedSink wraps a Writer to batch writes. Wrapped sinks implementing
// BatchWriter receive each batch in a single call. A batch that still fails
// after retries goes back into the buffer for the next flush, up to
// maxPending records; beyond that, and on Close, it is reported as failed.
type BatchedSink struct {
	wrapped       Writer
	batchSize     int
	maxPending    int
	flushInterval time.Duration

	retryCtx   context.Context
	maxRetries int
	backoff    Backoff
	onFlush    func(FlushResult)

	mu     sync.Mutex
	buffer []any

	// flushMu keeps the wrapped writer single-threaded between Write and
	// the interval flusher.
	flushMu sync.Mutex

	flushTicker *time.Ticker
	wg          sync.WaitGroup
	cancel      context.CancelFunc
}

// NewBatchedSink creates a new batched sink wrapper.
func NewBatchedSink(wrapped Writer, batchSize int, flushInterval time.Duration, opts ...BatchOption) (*BatchedSink, error) {
	if batchSize <= 0 {
		return nil, ErrOpenSink
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	bs := &BatchedSink{
		wrapped:       wrapped,
		batchSize:     batchSize,
		maxPending:    10 * batchSize,
		flushInterval: flushInterval,
		retryCtx:      context.Background(),
		buffer:        make([]any, 0, batchSize),
		flushTicker:   time.NewTicker(flushInterval),
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(bs)
	}

	bs.wg.Add(1)
	go bs.flushLoop(ctx)

	return bs, nil
}

// Write adds a record to the batch. Flushes automatically when batch is full.
// A nil error means the record is buffered, not that it reached the sink.
func (bs *BatchedSink) Write(record any) error {
	bs.mu.Lock()
	bs.buffer = append(bs.buffer, record)
	shouldFlush := len(bs.buffer) >= bs.batchSize
	bs.mu.Unlock()

	if shouldFlush {
		return bs.Flush()
	}
	return nil
}

// Flush writes all buffered records to the wrapped sink.
func (bs *BatchedSink) Flush() error {
	return bs.flush(false)
}

func (bs *BatchedSink) flush(final bool) error {
	bs.flushMu.Lock()
	defer bs.flushMu.Unlock()

	bs.mu.Lock()
	if len(bs.buffer) == 0 {
		bs.mu.Unlock()
		return nil
	}
	batch := make([]any, len(bs.buffer))
	copy(batch, bs.buffer)
	bs.buffer = bs.buffer[:0]
	bs.mu.Unlock()

	written, retries, err := bs.writeWithRetry(batch)
	if err == nil {
		bs.report(FlushResult{Written: written, Retries: retries})
		return nil
	}

	rest := batch[written:]
	if !final && bs.requeue(rest) {
		logger.Warn("batch write failed, records kept for next flush",
			zap.Int("pending", len(rest)),
			zap.Error(err),
		)
		bs.report(FlushResult{Written: written, Retries: retries, Err: err})
		return err
	}
	logger.Error("batch write failed, records dropped",
		zap.Int("dropped", len(rest)),
		zap.Error(err),
	)
	bs.report(FlushResult{Written: written, Failed: len(rest), Retries: retries, Err: err})
	return err
}

// writeWithRetry resumes after the records already written, so a retry
// never duplicates them.
func (bs *BatchedSink) writeWithRetry(batch []any) (written, retries int, err error) {
	for attempt := 0; ; attempt++ {
		n, werr := bs.writeOnce(batch[written:])
		written += n
		if werr == nil {
			return written, attempt, nil
		}
		if attempt >= bs.maxRetries {
			return written, attempt, werr
		}
		if SleepContext(bs.retryCtx, bs.backoff.Delay(attempt)) != nil {
			return written, attempt, werr
		}
	}
}

func (bs *BatchedSink) writeOnce(batch []any) (int, error) {
	if bw, ok := bs.wrapped.(BatchWriter); ok {
		if err := bw.WriteBatch(batch); err != nil {
			return 0, err
		}
		return len(batch), nil
	}
	for i, record := range batch {
		if err := bs.wrapped.Write(record); err != nil {
			return i, err
		}
	}
	return len(batch), nil
}

// requeue puts records back at the front of the buffer unless that would
// exceed maxPending.
func (bs *BatchedSink) requeue(records []any) bool {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if len(records)+len(bs.buffer) > bs.maxPending {
		return false
	}
	bs.buffer = append(append(make([]any, 0, len(records)+len(bs.buffer)), records...), bs.buffer...)
	return true
}

func (bs *BatchedSink) report(r FlushResult) {
	if bs.onFlush != nil {
		bs.onFlush(r)
	}
}

func (bs *BatchedSink) flushLoop(ctx context.Context) {
	defer bs.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-bs.flushTicker.C:
			_ = bs.Flush()
		}
	}
}

// Close flushes remaining records and closes the wrapped sink. Records that
// still cannot be written are reported as failed.
func (bs *BatchedSink) Close() error {
	bs.cancel()
	bs.flushTicker.Stop()
	bs.wg.Wait()

	if err := bs.flush(true); err != nil {
		bs.wrapped.Close()
		return err
	}
	return bs.wrapped.Close()
}
