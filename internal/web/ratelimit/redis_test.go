package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestNewRedisLimiter_InvalidConfig(t *testing.T) {
	client := &redis.Client{}
	tests := []struct {
		name   string
		client *redis.Client
		limit  int
		window time.Duration
		want   string
	}{
		{"nil client", nil, 10, time.Minute, "redis client is required"},
		{"zero limit", client, 0, time.Minute, "limit must be greater than 0"},
		{"negative limit", client, -1, time.Minute, "limit must be greater than 0"},
		{"zero window", client, 10, 0, "window must be greater than 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRedisLimiter(tt.client, tt.limit, tt.window, "rl:")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRedisLimiter_Allow(t *testing.T) {
	client, mr := setupTestRedis(t)
	l, err := NewRedisLimiter(client, 3, time.Minute, "rl:")
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		info, err := l.Allow(ctx, "ada")
		require.NoError(t, err)
		assert.True(t, info.Allowed)
		assert.Equal(t, 2-i, info.Remaining)
	}

	info, err := l.Allow(ctx, "ada")
	require.NoError(t, err)
	assert.False(t, info.Allowed)
	assert.Equal(t, 0, info.Remaining)
	assert.True(t, info.ResetAt.After(time.Now()))

	assert.True(t, mr.Exists("rl:ada"))

	info, err = l.Allow(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, info.Allowed)
}

func TestRedisLimiter_Reset(t *testing.T) {
	client, _ := setupTestRedis(t)
	l, err := NewRedisLimiter(client, 1, time.Minute, "rl:")
	require.NoError(t, err)
	ctx := context.Background()

	info, _ := l.Allow(ctx, "ada")
	require.True(t, info.Allowed)
	info, _ = l.Allow(ctx, "ada")
	require.False(t, info.Allowed)

	require.NoError(t, l.Reset(ctx, "ada"))
	info, err = l.Allow(ctx, "ada")
	require.NoError(t, err)
	assert.True(t, info.Allowed)
}

func TestRedisLimiter_Unavailable(t *testing.T) {
	client, mr := setupTestRedis(t)
	l, err := NewRedisLimiter(client, 1, time.Minute, "rl:")
	require.NoError(t, err)
	mr.Close()

	_, err = l.Allow(context.Background(), "ada")
	assert.Error(t, err)
}
