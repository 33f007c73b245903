package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/strata/internal/orm/record"
	"github.com/conduit-lang/strata/internal/orm/schema"
	"github.com/conduit-lang/strata/internal/testing/fixtures"
)

func storedPost(t *testing.T, reg *schema.Registry, id int64) *record.Record {
	t.Helper()
	rec := fixtures.NewRecord(t, reg, "post", map[string]interface{}{
		"title":     "Hello",
		"views":     int64(3),
		"published": time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		"author":    int64(9),
		"tags":      []string{"a", "b"},
		"related":   []interface{}{int64(4), int64(5)},
		"extra":     "v",
		"body":      nil,
	})
	require.NoError(t, rec.AssignID(id))
	return rec
}

func setupTestRedis(t *testing.T, reg *schema.Registry) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisCacheWithClient(client, reg, DefaultConfig())
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestCacheContract(t *testing.T) {
	reg := fixtures.Registry(t)
	redisCache, _ := setupTestRedis(t, reg)

	caches := map[string]Cache{
		"memory": NewMemoryCache(),
		"redis":  redisCache,
	}

	for name, c := range caches {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := storedPost(t, reg, 1)

			_, err := c.Get(ctx, "post", 1)
			assert.True(t, IsCacheMiss(err))

			require.NoError(t, c.Put(ctx, rec))
			got, err := c.Get(ctx, "post", 1)
			require.NoError(t, err)
			assert.True(t, rec.Equal(got), "got %v", got)

			require.NoError(t, c.Invalidate(ctx, "post", 1))
			_, err = c.Get(ctx, "post", 1)
			assert.True(t, IsCacheMiss(err))

			require.NoError(t, c.Put(ctx, rec))
			require.NoError(t, c.Put(ctx, storedPost(t, reg, 2)))
			require.NoError(t, c.Clear(ctx))
			_, err = c.Get(ctx, "post", 2)
			assert.True(t, IsCacheMiss(err))

			unsaved := fixtures.NewRecord(t, reg, "post", map[string]interface{}{"title": "x"})
			assert.Error(t, c.Put(ctx, unsaved))
		})
	}
}

func TestMemoryCacheIsolation(t *testing.T) {
	reg := fixtures.Registry(t)
	c := NewMemoryCache()
	ctx := context.Background()

	rec := storedPost(t, reg, 1)
	require.NoError(t, c.Put(ctx, rec))
	require.NoError(t, rec.Set("title", "changed"))

	got, err := c.Get(ctx, "post", 1)
	require.NoError(t, err)
	assert.Equal(t, "Hello", got.MustGet("title").AsString())

	require.NoError(t, got.Set("title", "again"))
	again, err := c.Get(ctx, "post", 1)
	require.NoError(t, err)
	assert.Equal(t, "Hello", again.MustGet("title").AsString())
}

func TestMemoryCacheConcurrency(t *testing.T) {
	reg := fixtures.Registry(t)
	c := NewMemoryCache()
	ctx := context.Background()
	rs := fixtures.Resolve(t, reg, "data")

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			rec := record.Hydrate(rs, id, "obj")
			_ = rec.Set("name", "n")
			_ = c.Put(ctx, rec)
			_, _ = c.Get(ctx, "data", id)
			if id%2 == 0 {
				_ = c.Invalidate(ctx, "data", id)
			}
		}(int64(i))
	}
	wg.Wait()
	assert.Equal(t, 10, c.Len())
}

func TestMemoryCacheCancelledContext(t *testing.T) {
	c := NewMemoryCache()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Get(ctx, "post", 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, c.Clear(ctx), context.Canceled)
}

func TestRedisCacheKeys(t *testing.T) {
	reg := fixtures.Registry(t)
	c, mr := setupTestRedis(t, reg)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, storedPost(t, reg, 7)))
	assert.True(t, mr.Exists("strata:post:7"))
	assert.Equal(t, time.Duration(0), mr.TTL("strata:post:7"), "entries never expire")

	t.Run("clear keeps foreign keys", func(t *testing.T) {
		require.NoError(t, mr.Set("other:key", "x"))
		require.NoError(t, c.Clear(ctx))
		assert.False(t, mr.Exists("strata:post:7"))
		assert.True(t, mr.Exists("other:key"))
	})

	t.Run("undecodable entry is dropped", func(t *testing.T) {
		require.NoError(t, mr.Set("strata:post:8", `{"$model":"post"`))
		_, err := c.Get(ctx, "post", 8)
		assert.True(t, IsCacheMiss(err))
		assert.False(t, mr.Exists("strata:post:8"))
	})
}

func TestNewRedisCache(t *testing.T) {
	reg := fixtures.Registry(t)
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	c, err := NewRedisCache(RedisConfig{Addr: mr.Addr(), Config: DefaultConfig()}, reg)
	require.NoError(t, err)
	defer c.Close()

	_, err = NewRedisCache(RedisConfig{Addr: "localhost:99999", Config: DefaultConfig()}, reg)
	assert.Error(t, err)
}
