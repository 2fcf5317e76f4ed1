package cpuload

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestReaderReportsMissingUntilSet(t *testing.T) {
	c := NewCache()
	r := c.Reader()

	if _, ok := r.LatestCPULoad(); ok {
		t.Fatalf("expected no cached value")
	}
	c.SetLatest(42)
	v, ok := r.LatestCPULoad()
	if !ok || v != 42 {
		t.Fatalf("expected 42, got %v (ok=%v)", v, ok)
	}
	c.SetLatest(17)
	if v, _ := r.LatestCPULoad(); v != 17 {
		t.Fatalf("expected last write to win, got %v", v)
	}
	c.Delete(LatestKey)
	if _, ok := r.LatestCPULoad(); ok {
		t.Fatalf("expected value to be gone after delete")
	}
}

func TestZeroReaderIsEmpty(t *testing.T) {
	var r Reader
	if _, ok := r.LatestCPULoad(); ok {
		t.Fatalf("zero reader should report no value")
	}
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := NewCache()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.SetLatest(float64(i))
				c.Reader().LatestCPULoad()
			}
		}(i)
	}
	wg.Wait()
	if _, ok := c.Get(LatestKey); !ok {
		t.Fatalf("expected a value after concurrent writes")
	}
}

func TestSamplerWritesIntoCache(t *testing.T) {
	c := NewCache()
	s := NewSampler(c, 10*time.Millisecond)
	calls := 0
	var mu sync.Mutex
	s.percent = func(ctx context.Context, _ time.Duration) (float64, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 2 {
			return 0, errors.New("transient")
		}
		return 12.5, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	v, ok := c.Reader().LatestCPULoad()
	if !ok || v != 12.5 {
		t.Fatalf("expected sampled 12.5, got %v (ok=%v)", v, ok)
	}
}
