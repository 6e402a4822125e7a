package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/appmantle/appmantle/pkg/model"
	"github.com/appmantle/appmantle/pkg/observability"
	"github.com/appmantle/appmantle/pkg/store"
)

const (
	devCacheEntries = 1024
	devCacheTTL     = 5 * time.Minute
)

// CachedDevStore wraps a DevStore with an in-process LRU in front of Redis.
// Every API request resolves an api_key to a dev row, so the lookup sits on
// the hot path of credential verification. Reads go LRU, then Redis, then
// the database; key rotation invalidates both layers.
type CachedDevStore struct {
	store   store.DevStore
	local   *lru.LRU[string, *model.Dev]
	redis   *redis.Client
	metrics *observability.Metrics
}

// NewCachedDevStore creates the caching layer. The Redis client may be nil,
// in which case only the in-process LRU is used.
func NewCachedDevStore(devStore store.DevStore, redisClient *redis.Client, metrics *observability.Metrics) *CachedDevStore {
	return &CachedDevStore{
		store:   devStore,
		local:   lru.NewLRU[string, *model.Dev](devCacheEntries, nil, devCacheTTL),
		redis:   redisClient,
		metrics: metrics,
	}
}

func devCacheKey(apiKey string) string {
	return fmt.Sprintf("dev:api_key:%s", apiKey)
}

// CreateDev passes through and primes no cache.
func (c *CachedDevStore) CreateDev(ctx context.Context, dev *model.Dev) error {
	return c.store.CreateDev(ctx, dev)
}

// GetDevByID passes through; the ID path is not hot.
func (c *CachedDevStore) GetDevByID(ctx context.Context, id int64) (*model.Dev, error) {
	return c.store.GetDevByID(ctx, id)
}

// GetDevByUserID passes through.
func (c *CachedDevStore) GetDevByUserID(ctx context.Context, userID int64) (*model.Dev, error) {
	return c.store.GetDevByUserID(ctx, userID)
}

// GetDevByAPIKey resolves an API key with a read-through cache.
func (c *CachedDevStore) GetDevByAPIKey(ctx context.Context, apiKey string) (*model.Dev, error) {
	if dev, ok := c.local.Get(apiKey); ok {
		c.metrics.CacheHitsTotal.WithLabelValues("local", "dev").Inc()
		return dev, nil
	}
	c.metrics.CacheMissesTotal.WithLabelValues("local", "dev").Inc()

	if c.redis != nil {
		cached, err := c.redis.Get(ctx, devCacheKey(apiKey)).Result()
		if err == nil {
			dev := &model.Dev{}
			if err := json.Unmarshal([]byte(cached), dev); err == nil {
				c.metrics.CacheHitsTotal.WithLabelValues("redis", "dev").Inc()
				c.local.Add(apiKey, dev)
				return dev, nil
			}
		}
		c.metrics.CacheMissesTotal.WithLabelValues("redis", "dev").Inc()
	}

	dev, err := c.store.GetDevByAPIKey(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	c.local.Add(apiKey, dev)
	if c.redis != nil {
		if data, err := json.Marshal(dev); err == nil {
			c.redis.Set(ctx, devCacheKey(apiKey), data, devCacheTTL)
		}
	}
	return dev, nil
}

// UpdateDevKeys rotates the key material and drops the stale cache entries
// so the old api_key stops verifying immediately on this instance.
func (c *CachedDevStore) UpdateDevKeys(ctx context.Context, id int64, apiKey, secretKey, devUUID string) error {
	dev, err := c.store.GetDevByID(ctx, id)
	if err != nil {
		return err
	}
	// The backing store may return an aliased record that the update
	// mutates in place, so capture the key being rotated away first.
	oldKey := dev.APIKey
	if err := c.store.UpdateDevKeys(ctx, id, apiKey, secretKey, devUUID); err != nil {
		return err
	}

	c.local.Remove(oldKey)
	if c.redis != nil {
		c.redis.Del(ctx, devCacheKey(oldKey))
	}
	return nil
}
