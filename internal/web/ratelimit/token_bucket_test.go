package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clock is a settable time source
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newBucket(t *testing.T, capacity int, period time.Duration) (*TokenBucket, *clock) {
	tb := NewTokenBucket(capacity, period)
	t.Cleanup(func() { tb.Close() })
	c := &clock{t: time.Unix(1700000000, 0)}
	tb.now = c.now
	return tb, c
}

func TestTokenBucket_Exhausts(t *testing.T) {
	tb, _ := newBucket(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		info, err := tb.Allow(ctx, "ada")
		require.NoError(t, err)
		assert.True(t, info.Allowed, "request %d", i)
		assert.Equal(t, 3, info.Limit)
		assert.Equal(t, 2-i, info.Remaining)
	}

	info, err := tb.Allow(ctx, "ada")
	require.NoError(t, err)
	assert.False(t, info.Allowed)
	assert.Equal(t, 0, info.Remaining)
}

func TestTokenBucket_KeysAreIndependent(t *testing.T) {
	tb, _ := newBucket(t, 1, time.Minute)
	ctx := context.Background()

	info, _ := tb.Allow(ctx, "ada")
	assert.True(t, info.Allowed)
	info, _ = tb.Allow(ctx, "ada")
	assert.False(t, info.Allowed)

	info, _ = tb.Allow(ctx, "bob")
	assert.True(t, info.Allowed)
}

func TestTokenBucket_Refills(t *testing.T) {
	tb, c := newBucket(t, 2, time.Minute)
	ctx := context.Background()

	tb.Allow(ctx, "ada")
	tb.Allow(ctx, "ada")
	info, _ := tb.Allow(ctx, "ada")
	require.False(t, info.Allowed)
	assert.Equal(t, c.now().Add(time.Minute), info.ResetAt)

	// half a period restores one token
	c.advance(30 * time.Second)
	info, _ = tb.Allow(ctx, "ada")
	assert.True(t, info.Allowed)

	// refill never exceeds capacity
	c.advance(time.Hour)
	info, _ = tb.Allow(ctx, "ada")
	assert.True(t, info.Allowed)
	assert.Equal(t, 1, info.Remaining)
}

func TestTokenBucket_Cleanup(t *testing.T) {
	tb, c := newBucket(t, 1, time.Minute)
	tb.Allow(context.Background(), "ada")

	c.advance(3 * time.Minute)
	tb.cleanup()

	tb.mu.Lock()
	defer tb.mu.Unlock()
	assert.Empty(t, tb.buckets)
}

func TestTokenBucket_CloseTwice(t *testing.T) {
	tb := NewTokenBucket(1, time.Minute)
	assert.NoError(t, tb.Close())
	assert.NoError(t, tb.Close())
}

func TestTokenBucket_Concurrent(t *testing.T) {
	tb, _ := newBucket(t, 50, time.Hour)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			info, err := tb.Allow(ctx, "ada")
			if err == nil && info.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, allowed)
}
