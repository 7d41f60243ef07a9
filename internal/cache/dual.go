package cache

import (
	"context"
	"time"
)

// backfillTTL bounds how long a value read from Redis stays in memory.
const backfillTTL = 5 * time.Minute

// DualCache reads memory first, then Redis, and writes both.
type DualCache struct {
	memory *MemoryCache
	redis  *RedisCache
}

// NewDualCache creates a new dual-layer cache. redisCache may be nil.
func NewDualCache(memory *MemoryCache, redisCache *RedisCache) *DualCache {
	return &DualCache{memory: memory, redis: redisCache}
}

func (d *DualCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := d.memory.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if val != nil || d.redis == nil {
		return val, nil
	}

	val, err = d.redis.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		_ = d.memory.Set(ctx, key, val, backfillTTL)
	}
	return val, nil
}

func (d *DualCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := d.memory.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	if d.redis != nil {
		return d.redis.Set(ctx, key, value, ttl)
	}
	return nil
}

func (d *DualCache) Delete(ctx context.Context, key string) error {
	if err := d.memory.Delete(ctx, key); err != nil {
		return err
	}
	if d.redis != nil {
		return d.redis.Delete(ctx, key)
	}
	return nil
}

// Close releases both layers.
func (d *DualCache) Close() error {
	d.memory.Close()
	if d.redis != nil {
		return d.redis.Close()
	}
	return nil
}
