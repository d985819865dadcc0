package storage

import (
	"context"
	"encoding/json"
	"time"

	"IMCore/logger"
	redisx "IMCore/service/storage/redis"
	errs "IMCore/tools/errs"

	"github.com/redis/go-redis/v9"
)

// KV is the slice of the shared store the cache layer needs. The
// production implementation is Redis; tests use an in-memory map.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// InvalidationEvent travels on the cache_invalidation channel so
// sibling instances drop their copies too.
type InvalidationEvent struct {
	Key string `json:"key"`
}

// Cache is a short-TTL read-through / write-invalidate cache. Store
// failures never surface: reads degrade to a miss, writes to a no-op.
type Cache struct {
	kv      KV
	publish func(payload []byte) // cache_invalidation fanout; nil disables
}

func NewCache(kv KV, publish func(payload []byte)) *Cache {
	return &Cache{kv: kv, publish: publish}
}

// Get returns the cached payload, or a miss. Errors are logged and
// reported as a miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, ok, err := c.kv.Get(ctx, key)
	if err != nil {
		logger.Warnf("[cache] get %s degraded to miss: %v", key, err)
		return nil, false
	}
	return val, ok
}

// Put stores the payload under key with the given TTL.
func (c *Cache) Put(ctx context.Context, key string, payload []byte, ttl time.Duration) {
	if err := c.kv.Set(ctx, key, payload, ttl); err != nil {
		logger.Warnf("[cache] put %s dropped: %v", key, err)
	}
}

// GetOrLoad reads through to the loader on a miss and caches the
// loaded payload. Loader errors propagate; cache errors do not.
func (c *Cache) GetOrLoad(ctx context.Context, key string, ttl time.Duration, loader func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if val, ok := c.Get(ctx, key); ok {
		return val, nil
	}
	val, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	c.Put(ctx, key, val, ttl)
	return val, nil
}

// Invalidate deletes the entry locally and publishes the key on the
// fanout channel. Stale in-place updates are never an option: any
// change to the underlying truth goes through here.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	c.Drop(ctx, key)
	if c.publish != nil {
		b, _ := json.Marshal(InvalidationEvent{Key: key})
		c.publish(b)
	}
}

// Drop deletes the entry without re-publishing. Used when applying an
// invalidation event received from a sibling instance.
func (c *Cache) Drop(ctx context.Context, key string) {
	if err := c.kv.Del(ctx, key); err != nil {
		logger.Warnf("[cache] del %s failed: %v", key, err)
	}
}

// HandleInvalidation decodes a fanout event and drops the key.
func (c *Cache) HandleInvalidation(payload []byte) {
	var ev InvalidationEvent
	if err := json.Unmarshal(payload, &ev); err != nil || ev.Key == "" {
		logger.Warnf("[cache] bad invalidation payload: %v", err)
		return
	}
	c.Drop(context.Background(), ev.Key)
}

// ===== Redis-backed KV =====

type redisKV struct{}

// NewRedisKV returns the production KV over the shared Redis client.
func NewRedisKV() KV { return redisKV{} }

func (redisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	rdb, ok := redisx.TryGetRedis()
	if !ok {
		return nil, false, errs.ErrCacheUnavailable.WithDetail("redis not initialized")
	}
	val, err := rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (redisKV) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	rdb, ok := redisx.TryGetRedis()
	if !ok {
		return errs.ErrCacheUnavailable.WithDetail("redis not initialized")
	}
	return rdb.Set(ctx, key, val, ttl).Err()
}

func (redisKV) Del(ctx context.Context, key string) error {
	rdb, ok := redisx.TryGetRedis()
	if !ok {
		return errs.ErrCacheUnavailable.WithDetail("redis not initialized")
	}
	return rdb.Del(ctx, key).Err()
}
