package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryBatchCache is an in-process BatchTokenCache for single-instance
// deployments.
type MemoryBatchCache struct {
	items *ttlcache.Cache[string, *BatchEntry]
}

// NewMemoryBatchCache creates a MemoryBatchCache and starts its cleanup
// goroutine. Call Stop on shutdown.
func NewMemoryBatchCache() *MemoryBatchCache {
	items := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, *BatchEntry](),
	)
	go items.Start()

	return &MemoryBatchCache{items: items}
}

func (c *MemoryBatchCache) Get(_ context.Context, digest string) (*BatchEntry, bool) {
	item := c.items.Get(digest)
	if item == nil || item.IsExpired() {
		return nil, false
	}
	return item.Value(), true
}

func (c *MemoryBatchCache) Set(_ context.Context, digest string, entry *BatchEntry, ttl time.Duration) error {
	c.items.Set(digest, entry, ttl)
	return nil
}

func (c *MemoryBatchCache) Delete(_ context.Context, digest string) error {
	c.items.Delete(digest)
	return nil
}

// Stop terminates the cleanup goroutine.
func (c *MemoryBatchCache) Stop() {
	c.items.Stop()
}

var _ BatchTokenCache = (*MemoryBatchCache)(nil)
