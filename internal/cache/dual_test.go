package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxisllmlab/copydesk/internal/config"
)

func newRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := NewRedisCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { rc.Close() })
	return rc, mr
}

func TestRedisCache_SetGetDelete(t *testing.T) {
	rc, mr := newRedis(t)
	ctx := context.Background()

	require.NoError(t, rc.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
	assert.Equal(t, time.Minute, mr.TTL("k"))

	val, err := rc.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)

	require.NoError(t, rc.Delete(ctx, "k"))
	val, err = rc.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestRedisCache_TTLExpiry(t *testing.T) {
	rc, mr := newRedis(t)
	ctx := context.Background()

	require.NoError(t, rc.Set(ctx, "k", []byte("v"), time.Second))
	mr.FastForward(2 * time.Second)

	val, err := rc.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestDualCache_MemoryOnly(t *testing.T) {
	dc := NewDualCache(newMemory(t), nil)
	ctx := context.Background()

	require.NoError(t, dc.Set(ctx, "key1", []byte("value1"), time.Hour))
	val, err := dc.Get(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, []byte("value1"), val)

	require.NoError(t, dc.Delete(ctx, "key1"))
	val, err = dc.Get(ctx, "key1")
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestDualCache_WritesBothLayers(t *testing.T) {
	rc, mr := newRedis(t)
	mem := newMemory(t)
	dc := NewDualCache(mem, rc)
	ctx := context.Background()

	require.NoError(t, dc.Set(ctx, "k", []byte("v"), time.Hour))
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	memVal, _ := mem.Get(ctx, "k")
	assert.Equal(t, []byte("v"), memVal)
}

func TestDualCache_BackfillsFromRedis(t *testing.T) {
	rc, mr := newRedis(t)
	mem := newMemory(t)
	dc := NewDualCache(mem, rc)
	ctx := context.Background()

	require.NoError(t, mr.Set("k", "from-redis"))

	val, err := dc.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("from-redis"), val)

	memVal, _ := mem.Get(ctx, "k")
	assert.Equal(t, []byte("from-redis"), memVal)
}

func TestNewFromConfig(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	tests := []struct {
		name    string
		cfg     config.CacheConfig
		want    any
		wantErr bool
	}{
		{"default", config.CacheConfig{}, &MemoryCache{}, false},
		{"memory", config.CacheConfig{Type: "memory"}, &MemoryCache{}, false},
		{"none", config.CacheConfig{Type: "none"}, Nop{}, false},
		{"redis", config.CacheConfig{Type: "redis", RedisURL: "redis://" + mr.Addr()}, &RedisCache{}, false},
		{"dual", config.CacheConfig{Type: "dual", RedisURL: "redis://" + mr.Addr()}, &DualCache{}, false},
		{"bad url", config.CacheConfig{Type: "redis", RedisURL: "::nope"}, nil, true},
		{"unknown", config.CacheConfig{Type: "memcached"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewFromConfig(ctx, tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, c)
			if closer, ok := c.(interface{ Close() error }); ok {
				closer.Close()
			}
		})
	}
}

func TestRedisClient(t *testing.T) {
	rc, _ := newRedis(t)

	_, ok := RedisClient(rc)
	assert.True(t, ok)
	_, ok = RedisClient(NewDualCache(NewMemoryCache(), rc))
	assert.True(t, ok)
	_, ok = RedisClient(NewDualCache(NewMemoryCache(), nil))
	assert.False(t, ok)
	_, ok = RedisClient(Nop{})
	assert.False(t, ok)
}
