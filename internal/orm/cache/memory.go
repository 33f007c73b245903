package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/conduit-lang/strata/internal/orm/record"
)

// MemoryCache keeps records in process memory. Records are cloned on the way
// in and out, so callers never share state with the cache.
type MemoryCache struct {
	mu     sync.RWMutex
	data   map[string]*record.Record
	config Config
}

// NewMemoryCache creates a new in-memory cache
func NewMemoryCache() *MemoryCache {
	return NewMemoryCacheWithConfig(DefaultConfig())
}

// NewMemoryCacheWithConfig creates a new in-memory cache with custom configuration
func NewMemoryCacheWithConfig(config Config) *MemoryCache {
	return &MemoryCache{
		data:   make(map[string]*record.Record),
		config: config,
	}
}

// Get returns a copy of the cached record
func (m *MemoryCache) Get(ctx context.Context, model string, id int64) (*record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := Key(model, id)
	m.mu.RLock()
	rec, ok := m.data[m.config.Prefix+key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrCacheMiss{Key: key}
	}
	return rec.Clone(), nil
}

// Put stores a copy of rec
func (m *MemoryCache) Put(ctx context.Context, rec *record.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !rec.HasID() {
		return fmt.Errorf("cannot cache %s without an id", rec.Model())
	}

	clone := rec.Clone()
	m.mu.Lock()
	m.data[m.config.Prefix+Key(rec.Model(), rec.ID())] = clone
	m.mu.Unlock()
	return nil
}

// Invalidate removes one record
func (m *MemoryCache) Invalidate(ctx context.Context, model string, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.data, m.config.Prefix+Key(model, id))
	m.mu.Unlock()
	return nil
}

// Clear removes every record
func (m *MemoryCache) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.data = make(map[string]*record.Record)
	m.mu.Unlock()
	return nil
}

// Len returns the number of cached records
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
