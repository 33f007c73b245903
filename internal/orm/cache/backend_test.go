package cache

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/strata/internal/orm/backend"
	"github.com/conduit-lang/strata/internal/orm/backend/archive"
	"github.com/conduit-lang/strata/internal/orm/query"
	"github.com/conduit-lang/strata/internal/orm/record"
	"github.com/conduit-lang/strata/internal/orm/schema"
	"github.com/conduit-lang/strata/internal/testing/fixtures"
)

type harness struct {
	reg     *schema.Registry
	planner *query.Planner
	mem     *MemoryCache
	be      *Backend
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg := fixtures.Registry(t)
	inner, err := archive.Open(archive.Config{Path: t.TempDir(), InMemoryBlobs: true}, reg)
	require.NoError(t, err)
	mem := NewMemoryCache()
	be := NewBackend(inner, mem, reg)
	t.Cleanup(func() { be.Close() })
	return &harness{reg: reg, planner: query.NewPlanner(reg), mem: mem, be: be}
}

func (h *harness) read(t *testing.T, q *query.Query) *record.Record {
	t.Helper()
	plan, err := h.planner.Plan(q)
	require.NoError(t, err)
	rec, err := h.be.Read(context.Background(), plan)
	require.NoError(t, err)
	return rec
}

func TestCachedRead(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec := fixtures.NewRecord(t, h.reg, "post", map[string]interface{}{"title": "Hello", "body": "text"})
	_, err := h.be.Write(ctx, rec)
	require.NoError(t, err)

	hits := testutil.ToFloat64(cacheHits.WithLabelValues("post"))
	misses := testutil.ToFloat64(cacheMisses.WithLabelValues("post"))

	first := h.read(t, query.ByID("post", rec.ID(), "title"))
	require.NotNil(t, first)
	assert.Equal(t, 1, h.mem.Len())
	assert.Equal(t, misses+1, testutil.ToFloat64(cacheMisses.WithLabelValues("post")))

	second := h.read(t, query.ByID("post", rec.ID(), "title", "score"))
	require.NotNil(t, second)
	assert.Equal(t, hits+1, testutil.ToFloat64(cacheHits.WithLabelValues("post")))
	assert.Equal(t, []string{"id", "objectId", "title", "score"}, second.Populated(), "cached reads keep the plan's shape")
	assert.True(t, second.MustGet("score").IsNull())

	t.Run("update invalidates", func(t *testing.T) {
		changes := record.Hydrate(rec.Schema(), rec.ID(), rec.ObjectID())
		require.NoError(t, changes.Set("title", "After"))
		_, err := h.be.Write(ctx, changes)
		require.NoError(t, err)
		assert.Equal(t, 0, h.mem.Len())

		got := h.read(t, query.ByID("post", rec.ID(), "title"))
		assert.Equal(t, "After", got.MustGet("title").AsString())
	})

	t.Run("missing record is not cached", func(t *testing.T) {
		require.NoError(t, h.mem.Clear(ctx))
		assert.Nil(t, h.read(t, query.ByID("post", 404)))
		assert.Equal(t, 0, h.mem.Len())
	})
}

func TestUncacheableReads(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	author := fixtures.NewRecord(t, h.reg, "author", map[string]interface{}{"name": "Ada"})
	_, err := h.be.Write(ctx, author)
	require.NoError(t, err)
	post := fixtures.NewRecord(t, h.reg, "post", map[string]interface{}{"title": "x", "author": author.ID()})
	_, err = h.be.Write(ctx, post)
	require.NoError(t, err)

	got := h.read(t, query.ByID("post", post.ID(), "title", "author.name"))
	require.NotNil(t, got)
	assert.True(t, got.MustGet("author").AsForeign().IsEmbedded())
	assert.Equal(t, 0, h.mem.Len(), "plans expanding branches bypass the cache")

	got = h.read(t, query.New("post").Where(query.Eq("title", "x")))
	require.NotNil(t, got)
	assert.Equal(t, 0, h.mem.Len())
}

func TestDeleteInvalidates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var ids []int64
	for _, name := range []string{"keep", "drop", "drop"} {
		rec := fixtures.NewRecord(t, h.reg, "data", map[string]interface{}{"name": name})
		_, err := h.be.Write(ctx, rec)
		require.NoError(t, err)
		ids = append(ids, rec.ID())
		require.NotNil(t, h.read(t, query.ByID("data", rec.ID())))
	}
	assert.Equal(t, 3, h.mem.Len())

	plan, err := h.planner.Plan(query.New("data").Where(query.Eq("name", "drop")))
	require.NoError(t, err)
	n, err := h.be.Delete(ctx, plan)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, h.mem.Len())

	assert.Nil(t, h.read(t, query.ByID("data", ids[1])))
	assert.NotNil(t, h.read(t, query.ByID("data", ids[0])))
}

// stallingBackend holds its first Read after loading until released
type stallingBackend struct {
	backend.Backend
	once    sync.Once
	loaded  chan struct{}
	release chan struct{}
}

func (s *stallingBackend) Read(ctx context.Context, plan *query.Plan) (*record.Record, error) {
	rec, err := s.Backend.Read(ctx, plan)
	s.once.Do(func() {
		close(s.loaded)
		<-s.release
	})
	return rec, err
}

func TestMissRacingWriteIsNotCached(t *testing.T) {
	reg := fixtures.Registry(t)
	inner, err := archive.Open(archive.Config{Path: t.TempDir(), InMemoryBlobs: true}, reg)
	require.NoError(t, err)
	stall := &stallingBackend{Backend: inner, loaded: make(chan struct{}), release: make(chan struct{})}
	mem := NewMemoryCache()
	be := NewBackend(stall, mem, reg)
	t.Cleanup(func() { be.Close() })
	planner := query.NewPlanner(reg)
	ctx := context.Background()

	rec := fixtures.NewRecord(t, reg, "post", map[string]interface{}{"title": "old"})
	_, err = inner.Write(ctx, rec)
	require.NoError(t, err)

	plan, err := planner.Plan(query.ByID("post", rec.ID(), "title"))
	require.NoError(t, err)

	skipped := testutil.ToFloat64(cacheStaleFills.WithLabelValues("post"))
	stale := make(chan *record.Record, 1)
	go func() {
		got, _ := be.Read(ctx, plan)
		stale <- got
	}()

	<-stall.loaded
	changes := record.Hydrate(rec.Schema(), rec.ID(), rec.ObjectID())
	require.NoError(t, changes.Set("title", "new"))
	_, err = be.Write(ctx, changes)
	require.NoError(t, err)
	close(stall.release)

	assert.Equal(t, "old", (<-stale).MustGet("title").AsString(), "the racing read returns what it loaded")
	assert.Equal(t, 0, mem.Len(), "but does not cache it")
	assert.Equal(t, skipped+1, testutil.ToFloat64(cacheStaleFills.WithLabelValues("post")))

	got, err := be.Read(ctx, plan)
	require.NoError(t, err)
	assert.Equal(t, "new", got.MustGet("title").AsString())
}
