package sink

import (
	"context"
	"math/rand"
	"time"
)

// Backoff computes exponential delays capped at Max with +/- Jitter.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

// Delay returns the wait before retry number attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	d := b.Base << attempt
	if b.Max > 0 && (d > b.Max || d <= 0) {
		d = b.Max
	}
	if b.Jitter > 0 {
		delta := (rand.Float64()*2 - 1) * b.Jitter * float64(d)
		d += time.Duration(delta)
		if d < 0 {
			d = 0
		}
	}
	return d
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

