package ratelimit

import (
	"context"
	"sync"
	"time"
)

// TokenBucket is an in-process limiter: each key holds up to capacity
// tokens, refilled at capacity per period
type TokenBucket struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	capacity int
	period   time.Duration
	now      func() time.Time
	done     chan struct{}
	once     sync.Once
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// NewTokenBucket creates a limiter allowing capacity requests per period.
// Idle buckets are dropped every two periods.
func NewTokenBucket(capacity int, period time.Duration) *TokenBucket {
	tb := &TokenBucket{
		buckets:  make(map[string]*bucket),
		capacity: capacity,
		period:   period,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	go tb.cleanupLoop()
	return tb
}

// Allow takes one token from key's bucket
func (tb *TokenBucket) Allow(ctx context.Context, key string) (*Info, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	b, ok := tb.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(tb.capacity), lastRefill: now}
		tb.buckets[key] = b
	}

	if elapsed := now.Sub(b.lastRefill); elapsed > 0 {
		b.tokens += float64(tb.capacity) * elapsed.Seconds() / tb.period.Seconds()
		if b.tokens > float64(tb.capacity) {
			b.tokens = float64(tb.capacity)
		}
		b.lastRefill = now
	}

	info := &Info{Limit: tb.capacity}
	if b.tokens >= 1 {
		b.tokens--
		info.Allowed = true
	}
	info.Remaining = int(b.tokens)
	// time until the bucket is full again
	missing := float64(tb.capacity) - b.tokens
	info.ResetAt = now.Add(time.Duration(missing / float64(tb.capacity) * float64(tb.period)))
	return info, nil
}

func (tb *TokenBucket) cleanupLoop() {
	ticker := time.NewTicker(2 * tb.period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			tb.cleanup()
		case <-tb.done:
			return
		}
	}
}

func (tb *TokenBucket) cleanup() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	threshold := tb.now().Add(-2 * tb.period)
	for key, b := range tb.buckets {
		if b.lastRefill.Before(threshold) {
			delete(tb.buckets, key)
		}
	}
}

// Close stops the cleanup goroutine
func (tb *TokenBucket) Close() error {
	tb.once.Do(func() { close(tb.done) })
	return nil
}
