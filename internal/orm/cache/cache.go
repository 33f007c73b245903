// Package cache memoizes stored records keyed by (model, id).
//
// Entries never expire; they are removed by explicit invalidation or Clear.
// Cached records hold every stored field with relationships as bare ids, so
// one entry can serve any read of that record that does not expand branches.
package cache

import (
	"context"
	"strconv"

	"github.com/conduit-lang/strata/internal/orm/record"
)

// Cache defines the interface for all record caches
type Cache interface {
	// Get returns the cached record, or ErrCacheMiss
	Get(ctx context.Context, model string, id int64) (*record.Record, error)

	// Put stores a record under its model and id
	Put(ctx context.Context, rec *record.Record) error

	// Invalidate removes one record
	Invalidate(ctx context.Context, model string, id int64) error

	// Clear removes every record
	Clear(ctx context.Context) error
}

// Config holds common configuration for caches
type Config struct {
	// Prefix is prepended to all cache keys
	Prefix string
}

// DefaultConfig returns a default cache configuration
func DefaultConfig() Config {
	return Config{
		Prefix: "strata:",
	}
}

// Key returns the cache key of a record, without prefix
func Key(model string, id int64) string {
	return model + ":" + strconv.FormatInt(id, 10)
}

// ErrCacheMiss is returned when a key is not found in the cache
type ErrCacheMiss struct {
	Key string
}

func (e ErrCacheMiss) Error() string {
	return "cache miss: " + e.Key
}

// IsCacheMiss checks if an error is a cache miss
func IsCacheMiss(err error) bool {
	_, ok := err.(ErrCacheMiss)
	return ok
}
