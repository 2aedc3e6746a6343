package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	serrors "github.com/stratadb/strata/internal/errors"
)

// invalidateScanCount is the SCAN batch size during dataset invalidation.
const invalidateScanCount = 500

// RedisCache is the shared backend for multi-node deployments. All failures
// on the read/write path degrade to misses; only invalidation failures are
// reported upward, since a skipped invalidation can leave stale pages.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to Redis at addr and verifies the connection.
func NewRedisCache(ctx context.Context, addr, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, serrors.NewCacheUnavailable(fmt.Errorf("cache: failed to connect to redis at %s: %w", addr, err))
	}
	return &RedisCache{client: client}, nil
}

// Get returns the cached page for key, or (nil, false) on miss or any
// backend failure.
func (c *RedisCache) Get(ctx context.Context, key string) (*Page, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Printf("[WARN] cache: redis get %s failed, treating as miss: %v", key, err)
		return nil, false
	}
	page, err := decodePage(data)
	if err != nil {
		log.Printf("[WARN] cache: dropping undecodable entry %s: %v", key, err)
		return nil, false
	}
	return page, true
}

// Put stores a page under key with the given TTL. Failures are logged and
// ignored.
func (c *RedisCache) Put(ctx context.Context, key string, page *Page, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	payload, err := encodePage(page)
	if err != nil {
		log.Printf("[WARN] cache: failed to encode page for %s: %v", key, err)
		return
	}
	if err := c.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		log.Printf("[WARN] cache: redis set %s failed: %v", key, err)
	}
}

// InvalidateDataset scans for every key under the dataset's prefix and
// deletes them in batches.
func (c *RedisCache) InvalidateDataset(ctx context.Context, datasetID string) error {
	pattern := keyPrefix(datasetID) + "*"
	iter := c.client.Scan(ctx, 0, pattern, invalidateScanCount).Iterator()

	batch := make([]string, 0, invalidateScanCount)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			return serrors.NewCacheUnavailable(fmt.Errorf("cache: failed to delete keys for dataset %s: %w", datasetID, err))
		}
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= invalidateScanCount {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return serrors.NewCacheUnavailable(fmt.Errorf("cache: scan failed for dataset %s: %w", datasetID, err))
	}
	return flush()
}

// Close closes the Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
