package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/himawari-dev/line-token-auth/cache"
)

// BatchCache implements cache.BatchTokenCache on Redis, for deployments
// where rotated tokens must stay acceptable across multiple instances.
type BatchCache struct {
	client *redis.Client
	prefix string
}

// NewBatchCache creates a new [BatchCache]. prefix namespaces the keys.
func NewBatchCache(client *redis.Client, prefix string) *BatchCache {
	return &BatchCache{
		client: client,
		prefix: prefix,
	}
}

func (c *BatchCache) key(digest string) string {
	return fmt.Sprintf("%s:batch:%s", c.prefix, digest)
}

func (c *BatchCache) Get(ctx context.Context, digest string) (*cache.BatchEntry, bool) {
	data, err := c.client.Get(ctx, c.key(digest)).Bytes()
	if err != nil {
		return nil, false
	}

	var entry cache.BatchEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false
	}
	return &entry, true
}

func (c *BatchCache) Set(ctx context.Context, digest string, entry *cache.BatchEntry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal batch entry: %w", err)
	}
	if err := c.client.Set(ctx, c.key(digest), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store batch entry: %w", err)
	}
	return nil
}

func (c *BatchCache) Delete(ctx context.Context, digest string) error {
	if err := c.client.Del(ctx, c.key(digest)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to delete batch entry: %w", err)
	}
	return nil
}

var _ cache.BatchTokenCache = (*BatchCache)(nil)
