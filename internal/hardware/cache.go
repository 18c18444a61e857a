package hardware

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Source produces a hardware description.
type Source interface {
	Describe(ctx context.Context) (Info, error)
}

// Cache holds the last hardware description and re-reads it once it is older than ttl.
type Cache struct {
	source Source
	ttl    time.Duration
	now    func() time.Time

	mu        sync.RWMutex
	info      Info
	refreshed time.Time
}

// NewCache wraps source. A non-positive ttl refreshes on every Get.
func NewCache(source Source, ttl time.Duration) *Cache {
	return &Cache{source: source, ttl: ttl, now: time.Now}
}

// Get returns the cached description, refreshing it when stale.
func (c *Cache) Get(ctx context.Context) Info {
	c.mu.RLock()
	info, refreshed := c.info, c.refreshed
	c.mu.RUnlock()

	if !refreshed.IsZero() && c.ttl > 0 && c.now().Sub(refreshed) < c.ttl {
		return info
	}
	return c.Refresh(ctx)
}

// Refresh re-reads the description. On failure the previous value is kept.
func (c *Cache) Refresh(ctx context.Context) Info {
	info, err := c.source.Describe(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		log.Debug().Err(err).Msg("Hardware refresh failed; serving previous description")
		return c.info
	}
	c.info = info
	c.refreshed = c.now()
	return info
}
