package cache

import (
	"context"
	"hash/fnv"
	"io"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/conduit-lang/strata/internal/orm/backend"
	"github.com/conduit-lang/strata/internal/orm/query"
	"github.com/conduit-lang/strata/internal/orm/record"
	"github.com/conduit-lang/strata/internal/orm/schema"
)

// Backend decorates a backend with a record cache.
//
// Reads by id that expand no relationship branch are served from the cache;
// a miss loads the full stored record once and caches it. Writes and deletes
// invalidate the affected keys immediately before and after the change.
// Cache failures are logged and the wrapped backend answers instead.
//
// A miss only fills the cache when no invalidation of the same key ran while
// the stored record was being loaded. Writers outside this process are not
// seen by that check.
type Backend struct {
	inner   backend.Backend
	cache   Cache
	planner *query.Planner
	logger  *zap.Logger
	stripes [fillStripes]fillStripe
}

const fillStripes = 64

// fillStripe orders cache fills against invalidations for the keys hashing
// to it. gen changes on every invalidation.
type fillStripe struct {
	mu  sync.Mutex
	gen uint64
}

var _ backend.Backend = (*Backend)(nil)

// Option configures a caching Backend
type Option func(*Backend)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBackend wraps inner with c
func NewBackend(inner backend.Backend, c Cache, schemas query.SchemaResolver, opts ...Option) *Backend {
	b := &Backend{
		inner:   inner,
		cache:   c,
		planner: query.NewPlanner(schemas, query.WithMaxDepth(0)),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Inner returns the wrapped backend
func (b *Backend) Inner() backend.Backend {
	return b.inner
}

// Cache returns the record cache
func (b *Backend) Cache() Cache {
	return b.cache
}

// Read serves id lookups from the cache when the plan expands no branch
func (b *Backend) Read(ctx context.Context, plan *query.Plan) (*record.Record, error) {
	id, ok := plan.IDLookup()
	if !ok || len(plan.Root.Branches) > 0 || plan.Root.Schema.Abstract {
		return b.inner.Read(ctx, plan)
	}
	model := plan.Model()

	cached, err := b.cache.Get(ctx, model, id)
	if err == nil {
		cacheHits.WithLabelValues(model).Inc()
		return backend.Shape(cached, plan.Root), nil
	}
	if !IsCacheMiss(err) {
		cacheErrors.WithLabelValues("get").Inc()
		b.logger.Warn("cache read failed",
			zap.String("model", model),
			zap.Int64("id", id),
			zap.Error(err))
		return b.inner.Read(ctx, plan)
	}
	cacheMisses.WithLabelValues(model).Inc()

	full, err := b.planner.Plan(query.ByID(model, id, dataFields(plan.Root.Schema)...))
	if err != nil {
		return nil, err
	}
	st := b.stripe(model, id)
	gen := st.generation()
	stored, err := b.inner.Read(ctx, full)
	if err != nil || stored == nil {
		return stored, err
	}
	b.fill(ctx, st, gen, stored)
	return backend.Shape(stored, plan.Root), nil
}

// fill caches stored unless its key was invalidated after gen was taken
func (b *Backend) fill(ctx context.Context, st *fillStripe, gen uint64, stored *record.Record) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.gen != gen {
		cacheStaleFills.WithLabelValues(stored.Model()).Inc()
		return
	}
	if err := b.cache.Put(ctx, stored); err != nil {
		cacheErrors.WithLabelValues("put").Inc()
		b.logger.Warn("cache write failed",
			zap.String("model", stored.Model()),
			zap.Int64("id", stored.ID()),
			zap.Error(err))
	}
}

func (b *Backend) stripe(model string, id int64) *fillStripe {
	h := fnv.New32a()
	h.Write([]byte(model))
	h.Write([]byte(strconv.FormatInt(id, 10)))
	return &b.stripes[h.Sum32()%fillStripes]
}

func (s *fillStripe) generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Search always runs against the wrapped backend
func (b *Backend) Search(ctx context.Context, plan *query.Plan) ([]*record.Record, error) {
	return b.inner.Search(ctx, plan)
}

// Write invalidates the record before and after writing it
func (b *Backend) Write(ctx context.Context, rec *record.Record) (*record.Record, error) {
	if rec.HasID() {
		b.invalidate(ctx, rec.Model(), rec.ID())
	}
	stored, err := b.inner.Write(ctx, rec)
	if rec.HasID() {
		b.invalidate(ctx, rec.Model(), rec.ID())
	}
	return stored, err
}

// Delete invalidates every matching record before and after deleting
func (b *Backend) Delete(ctx context.Context, plan *query.Plan) (int, error) {
	ids, err := b.matching(ctx, plan)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		b.invalidate(ctx, plan.Model(), id)
	}
	n, err := b.inner.Delete(ctx, plan)
	for _, id := range ids {
		b.invalidate(ctx, plan.Model(), id)
	}
	return n, err
}

// EnsureSchema prepares storage in the wrapped backend
func (b *Backend) EnsureSchema(ctx context.Context, rs *schema.ResolvedSchema) error {
	return b.inner.EnsureSchema(ctx, rs)
}

// Close closes the wrapped backend and the cache when it holds resources
func (b *Backend) Close() error {
	err := b.inner.Close()
	if c, ok := b.cache.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// matching returns the ids a delete plan will remove
func (b *Backend) matching(ctx context.Context, plan *query.Plan) ([]int64, error) {
	if id, ok := plan.IDLookup(); ok {
		return []int64{id}, nil
	}
	idsOnly := *plan
	idsOnly.Root = &query.Node{Schema: plan.Root.Schema}
	recs, err := b.inner.Search(ctx, &idsOnly)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(recs))
	for i, rec := range recs {
		ids[i] = rec.ID()
	}
	return ids, nil
}

func (b *Backend) invalidate(ctx context.Context, model string, id int64) {
	st := b.stripe(model, id)
	st.mu.Lock()
	st.gen++
	st.mu.Unlock()

	cacheInvalidations.WithLabelValues(model).Inc()
	if err := b.cache.Invalidate(ctx, model, id); err != nil {
		cacheErrors.WithLabelValues("invalidate").Inc()
		b.logger.Warn("cache invalidation failed",
			zap.String("model", model),
			zap.Int64("id", id),
			zap.Error(err))
	}
}

func dataFields(rs *schema.ResolvedSchema) []string {
	fields := rs.DataFields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}
