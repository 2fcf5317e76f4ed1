package cpuload

import "sync"

// LatestKey is the flow-context key holding the most recent CPU load.
const LatestKey = "cpu_load_latest"

// Cache is a small flow-context store shared between the flows that feed
// it. Writes are last-write-wins.
type Cache struct {
	mu     sync.RWMutex
	values map[string]float64
}

func NewCache() *Cache {
	return &Cache{values: make(map[string]float64)}
}

func (c *Cache) Set(key string, v float64) {
	c.mu.Lock()
	c.values[key] = v
	c.mu.Unlock()
}

func (c *Cache) Get(key string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.values, key)
	c.mu.Unlock()
}

// SetLatest records v under LatestKey.
func (c *Cache) SetLatest(v float64) {
	c.Set(LatestKey, v)
}

// Reader exposes LatestKey read-only.
func (c *Cache) Reader() Reader {
	return Reader{cache: c}
}

// Reader satisfies stages.CPULoadReader.
type Reader struct {
	cache *Cache
}

func (r Reader) LatestCPULoad() (float64, bool) {
	if r.cache == nil {
		return 0, false
	}
	return r.cache.Get(LatestKey)
}
