package cpuload

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/cpu"
	"go.uber.org/zap"

	"spectrum-etl/internal/logger"
)

// PercentFunc returns the host-wide CPU usage over the given interval.
type PercentFunc func(ctx context.Context, interval time.Duration) (float64, error)

// HostPercent samples all CPUs combined through gopsutil.
func HostPercent(ctx context.Context, interval time.Duration) (float64, error) {
	vals, err := cpu.PercentWithContext(ctx, interval, false)
	if err != nil {
		return 0, err
	}
	if len(vals) == 0 {
		return 0, nil
	}
	return vals[0], nil
}

// Sampler periodically writes the host CPU load into a Cache.
type Sampler struct {
	cache   *Cache
	every   time.Duration
	window  time.Duration
	percent PercentFunc
}

// NewSampler samples every interval, measuring over half of it.
func NewSampler(cache *Cache, every time.Duration) *Sampler {
	return &Sampler{
		cache:   cache,
		every:   every,
		window:  every / 2,
		percent: HostPercent,
	}
}

// Run samples until ctx is done.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()

	s.sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample(ctx)
		}
	}
}

func (s *Sampler) sample(ctx context.Context) {
	v, err := s.percent(ctx, s.window)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("cpu sample failed", zap.Error(err))
		}
		return
	}
	s.cache.SetLatest(v)
	logger.Debug("cpu sample", zap.Float64("cpu_load", v))
}
