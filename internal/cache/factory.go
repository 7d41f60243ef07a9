package cache

import (
	"context"
	"fmt"

	"github.com/praxisllmlab/copydesk/internal/config"
)

// NewFromConfig creates a Cache from the cache config section.
// Supported types: memory, redis, dual, none.
func NewFromConfig(ctx context.Context, cfg config.CacheConfig) (Cache, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryCache(), nil

	case "redis":
		rc, err := NewRedisCacheFromURL(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		return rc, nil

	case "dual":
		rc, err := NewRedisCacheFromURL(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("dual cache: %w", err)
		}
		return NewDualCache(NewMemoryCache(), rc), nil

	case "none":
		return Nop{}, nil

	default:
		return nil, fmt.Errorf("unknown cache type: %s", cfg.Type)
	}
}
