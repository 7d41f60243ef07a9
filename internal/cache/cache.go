// Package cache keeps session snapshots so a dashboard reload, or a restart
// of copydesk, can still show the last known batch state.
package cache

import (
	"context"
	"time"
)

// Cache defines the interface for all cache backends. Get returns nil, nil on a miss.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// SessionKey is the cache key for a session's snapshot.
func SessionKey(session string) string {
	return "copydesk:session:" + session
}

// Nop is a Cache that stores nothing.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, error)                { return nil, nil }
func (Nop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Nop) Delete(context.Context, string) error                     { return nil }
