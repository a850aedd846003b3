package storage

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// healthCache caches an availability probe for a TTL and collapses
// concurrent probes into one. A burst of health requests while the result
// is stale still runs the probe exactly once.
type healthCache struct {
	ttl   time.Duration
	probe func() error

	group singleflight.Group

	mu        sync.Mutex
	lastErr   error
	checkedAt time.Time
}

func newHealthCache(ttl time.Duration, probe func() error) *healthCache {
	return &healthCache{ttl: ttl, probe: probe}
}

func (h *healthCache) check() error {
	h.mu.Lock()
	if h.ttl > 0 && time.Since(h.checkedAt) < h.ttl {
		err := h.lastErr
		h.mu.Unlock()
		return err
	}
	h.mu.Unlock()

	_, err, _ := h.group.Do("probe", func() (any, error) {
		err := h.probe()
		h.mu.Lock()
		h.lastErr = err
		h.checkedAt = time.Now()
		h.mu.Unlock()
		return nil, err
	})
	return err
}
