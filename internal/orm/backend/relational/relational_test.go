package relational

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/strata/internal/orm/backend"
	"github.com/conduit-lang/strata/internal/orm/migrate"
	"github.com/conduit-lang/strata/internal/orm/query"
	"github.com/conduit-lang/strata/internal/orm/record"
	"github.com/conduit-lang/strata/internal/orm/schema"
	"github.com/conduit-lang/strata/internal/testing/fixtures"
)

type harness struct {
	reg     *schema.Registry
	planner *query.Planner
	be      *Backend
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return openHarness(t, ":memory:")
}

func openHarness(t *testing.T, url string) *harness {
	t.Helper()
	reg := fixtures.Registry(t)
	be, err := Open(Config{Driver: "sqlite", URL: url}, reg)
	require.NoError(t, err)
	t.Cleanup(func() { be.Close() })

	for _, rs := range reg.Concrete() {
		require.NoError(t, be.EnsureSchema(context.Background(), rs))
	}
	return &harness{reg: reg, planner: query.NewPlanner(reg), be: be}
}

func (h *harness) plan(t *testing.T, q *query.Query) *query.Plan {
	t.Helper()
	plan, err := h.planner.Plan(q)
	require.NoError(t, err)
	return plan
}

func (h *harness) create(t *testing.T, model string, values map[string]interface{}) *record.Record {
	t.Helper()
	rec := fixtures.NewRecord(t, h.reg, model, values)
	_, err := h.be.Write(context.Background(), rec)
	require.NoError(t, err)
	require.True(t, rec.HasID())
	return rec
}

func TestRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec := h.create(t, "data", map[string]interface{}{
		"name":    "Demo Data",
		"content": []byte("hello"),
	})
	assert.Equal(t, int64(1), rec.ID())

	got, err := h.be.Read(ctx, h.plan(t, query.ByID("data", rec.ID(), "name", "content")))
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, []byte("hello"), got.MustGet("content").AsBytes())
	assert.Equal(t, "Demo Data", got.MustGet("name").AsString())
	assert.Equal(t, rec.ObjectID(), got.ObjectID())
}

func TestPartialPopulation(t *testing.T) {
	h := newHarness(t)

	rec := h.create(t, "post", map[string]interface{}{"title": "Hello", "body": "text", "views": 3})

	got, err := h.be.Read(context.Background(), h.plan(t, query.ByID("post", rec.ID(), "title", "score")))
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, []string{"id", "objectId", "title", "score"}, got.Populated())
	assert.True(t, got.MustGet("score").IsNull())
	assert.True(t, got.MustGet("body").IsAbsent())
}

func TestCreateAppliesDefaults(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec := fixtures.NewRecord(t, h.reg, "post", map[string]interface{}{"title": "Hello"})
	_, err := h.be.Write(ctx, rec)
	require.NoError(t, err)

	got, err := h.be.Read(ctx, h.plan(t, query.ByID("post", rec.ID(), "views", "status")))
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.MustGet("views").AsInt())
	assert.Equal(t, "draft", got.MustGet("status").AsString())
}

func TestCreateRequiresValues(t *testing.T) {
	h := newHarness(t)

	rec := fixtures.NewRecord(t, h.reg, "link", nil)
	_, err := h.be.Write(context.Background(), rec)
	require.Error(t, err)

	var we *backend.WriterError
	require.True(t, errors.As(err, &we))
	assert.Equal(t, "create", we.Op)
	assert.True(t, record.IsValueError(err))
	assert.False(t, rec.HasID())
}

func TestPartialUpdate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec := h.create(t, "post", map[string]interface{}{
		"title":   "before",
		"body":    "keep",
		"tags":    []string{"a"},
		"related": []interface{}{},
	})
	other := h.create(t, "post", map[string]interface{}{"title": "other"})

	changes := record.Hydrate(rec.Schema(), rec.ID(), rec.ObjectID())
	require.NoError(t, changes.Set("title", "after"))
	require.NoError(t, changes.Set("related", []interface{}{other.ID()}))
	stored, err := h.be.Write(ctx, changes)
	require.NoError(t, err)
	assert.Equal(t, "keep", stored.MustGet("body").AsString())
	assert.Equal(t, "after", stored.MustGet("title").AsString())

	got, err := h.be.Read(ctx, h.plan(t, query.ByID("post", rec.ID(), "title", "body", "tags", "related")))
	require.NoError(t, err)
	assert.Equal(t, "after", got.MustGet("title").AsString())
	assert.Equal(t, "keep", got.MustGet("body").AsString())
	assert.Equal(t, "a", got.MustGet("tags").AsList()[0].AsString())

	shallow, err := query.NewPlanner(h.reg, query.WithMaxDepth(0)).Plan(query.ByID("post", rec.ID(), "related"))
	require.NoError(t, err)
	refs, err := h.be.Read(ctx, shallow)
	require.NoError(t, err)
	assert.Equal(t, []int64{other.ID()}, backend.References(refs.MustGet("related")))

	t.Run("only links changed", func(t *testing.T) {
		changes := record.Hydrate(rec.Schema(), rec.ID(), rec.ObjectID())
		require.NoError(t, changes.Set("related", nil))
		_, err := h.be.Write(ctx, changes)
		require.NoError(t, err)

		refs, err := h.be.Read(ctx, shallow)
		require.NoError(t, err)
		assert.True(t, refs.MustGet("related").IsNull())
	})

	t.Run("required value cleared", func(t *testing.T) {
		changes := record.Hydrate(rec.Schema(), rec.ID(), rec.ObjectID())
		require.NoError(t, changes.Put("title", record.Null()))
		_, err := h.be.Write(ctx, changes)
		assert.True(t, record.IsValueError(err))
	})

	t.Run("missing record", func(t *testing.T) {
		ghost := record.Hydrate(rec.Schema(), 999, "ghost")
		require.NoError(t, ghost.Set("title", "x"))
		_, err := h.be.Write(ctx, ghost)
		assert.True(t, backend.IsNotFound(err))
	})
}

func TestSearch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i, title := range []string{"alpha", "beta", "Gamma", "delta"} {
		h.create(t, "post", map[string]interface{}{"title": title, "views": int64(i * 10)})
	}
	h.create(t, "post", map[string]interface{}{"title": "epsilon", "score": 2.5})

	tests := []struct {
		name     string
		query    *query.Query
		expected []string
	}{
		{"all by id", query.New("post"), []string{"alpha", "beta", "Gamma", "delta", "epsilon"}},
		{"filter", query.New("post").Where(query.Gte("views", 20)), []string{"Gamma", "delta"}},
		{"like is case sensitive", query.New("post").Where(query.Like("title", "g%")), nil},
		{"ilike", query.New("post").Where(query.ILike("title", "g%")), []string{"Gamma"}},
		{"in", query.New("post").Where(query.In("title", "beta", "delta")), []string{"beta", "delta"}},
		{"empty in", query.New("post").Where(query.In("title")), nil},
		{"is not null", query.New("post").Where(query.IsNotNull("score")), []string{"epsilon"}},
		{"nulls sort first", query.New("post").OrderBy("score", query.Asc).Take(1), []string{"alpha"}},
		{"paginated", query.New("post").OrderBy("views", query.Desc).Skip(1).Take(2), []string{"Gamma", "beta"}},
		{"offset only", query.New("post").Skip(3), []string{"delta", "epsilon"}},
		{"no match", query.New("post").Where(query.Eq("title", "omega")), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := h.be.Search(ctx, h.plan(t, tt.query))
			require.NoError(t, err)
			var titles []string
			for _, r := range recs {
				titles = append(titles, r.MustGet("title").AsString())
			}
			assert.Equal(t, tt.expected, titles)
		})
	}

	t.Run("matches in-memory evaluation", func(t *testing.T) {
		all, err := h.be.Search(ctx, h.plan(t, query.New("post").Select("title", "views", "score")))
		require.NoError(t, err)

		plan := h.plan(t, query.New("post").Where(query.Lt("views", 25)).OrderBy("views", query.Desc))
		want := plan.Apply(all)
		got, err := h.be.Search(ctx, plan)
		require.NoError(t, err)
		require.Len(t, got, len(want))
		for i := range want {
			assert.Equal(t, want[i].ID(), got[i].ID())
		}
	})

	t.Run("read without match", func(t *testing.T) {
		got, err := h.be.Read(ctx, h.plan(t, query.ByID("post", 404)))
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestRelationshipBranches(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	author := h.create(t, "author", map[string]interface{}{"name": "Ada", "email": "ada@example.com"})
	post := h.create(t, "post", map[string]interface{}{"title": "Engines", "author": author})
	h.create(t, "comment", map[string]interface{}{"text": "first", "post": post.ID(), "author": author.ID()})
	h.create(t, "comment", map[string]interface{}{"text": "orphan"})

	plan := h.plan(t, query.New("comment").Select("text", "author.name", "post.title", "post.author.name"))
	recs, err := h.be.Search(ctx, plan)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	c := recs[0]

	a := c.MustGet("author").AsForeign()
	require.True(t, a.IsEmbedded())
	assert.Equal(t, "Ada", a.Record().MustGet("name").AsString())
	assert.True(t, a.Record().MustGet("email").IsAbsent())

	p := c.MustGet("post").AsForeign()
	require.True(t, p.IsEmbedded())
	assert.Equal(t, "Engines", p.Record().MustGet("title").AsString())

	nested := p.Record().MustGet("author").AsForeign()
	assert.False(t, nested.IsEmbedded(), "author is already expanded at a shallower depth")
	assert.Equal(t, author.ID(), nested.ID())

	orphan := recs[1]
	assert.True(t, orphan.MustGet("author").IsNull())
	assert.True(t, orphan.MustGet("post").IsNull())
}

func TestSelfReferenceChain(t *testing.T) {
	h := newHarness(t)

	tail := h.create(t, "link", map[string]interface{}{"name": "tail"})
	mid := h.create(t, "link", map[string]interface{}{"name": "mid", "next": tail.ID()})
	head := h.create(t, "link", map[string]interface{}{"name": "head", "next": mid.ID()})

	got, err := h.be.Read(context.Background(), h.plan(t, query.ByID("link", head.ID(), "name", "next.name", "next.next")))
	require.NoError(t, err)

	next := got.MustGet("next").AsForeign()
	require.True(t, next.IsEmbedded())
	assert.Equal(t, "mid", next.Record().MustGet("name").AsString())
	assert.Equal(t, record.Reference(tail.ID()), next.Record().MustGet("next").AsForeign())
}

func TestListRelationship(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	author := h.create(t, "author", map[string]interface{}{"name": "Ada"})
	a := h.create(t, "post", map[string]interface{}{"title": "a", "author": author.ID()})
	b := h.create(t, "post", map[string]interface{}{"title": "b"})
	root := h.create(t, "post", map[string]interface{}{
		"title":   "root",
		"tags":    []string{"x", "y"},
		"related": []interface{}{b, a.ID()},
	})

	got, err := h.be.Read(ctx, h.plan(t, query.ByID("post", root.ID(), "tags", "related.title", "related.author.name")))
	require.NoError(t, err)

	tags := got.MustGet("tags").AsList()
	require.Len(t, tags, 2)
	assert.Equal(t, "y", tags[1].AsString())

	related := got.MustGet("related").AsList()
	require.Len(t, related, 2)
	assert.Equal(t, "b", related[0].AsForeign().Record().MustGet("title").AsString())
	assert.Equal(t, "a", related[1].AsForeign().Record().MustGet("title").AsString())

	ra := related[1].AsForeign().Record().MustGet("author").AsForeign()
	require.True(t, ra.IsEmbedded(), "single branches of list items are joined")
	assert.Equal(t, "Ada", ra.Record().MustGet("name").AsString())
}

func TestTimestampAndFlex(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	published := time.Date(2024, 5, 1, 12, 30, 0, 250, time.UTC)
	rec := h.create(t, "post", map[string]interface{}{
		"title":     "stamped",
		"published": published,
		"extra":     "v",
	})
	h.create(t, "post", map[string]interface{}{"title": "later", "published": published.Add(time.Hour)})

	got, err := h.be.Read(ctx, h.plan(t, query.ByID("post", rec.ID(), "published", "extra")))
	require.NoError(t, err)
	assert.True(t, published.Truncate(time.Microsecond).Equal(got.MustGet("published").AsTime()), "stored at microsecond precision")
	assert.Equal(t, "v", got.MustGet("extra").AsString())

	recs, err := h.be.Search(ctx, h.plan(t, query.New("post").Where(query.Gt("published", published))))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "later", recs[0].MustGet("title").AsString())
}

func TestUnsavedReference(t *testing.T) {
	h := newHarness(t)

	author := fixtures.NewRecord(t, h.reg, "author", map[string]interface{}{"name": "Ada"})
	post := fixtures.NewRecord(t, h.reg, "post", map[string]interface{}{"title": "x", "author": author})
	_, err := h.be.Write(context.Background(), post)
	assert.True(t, errors.Is(err, backend.ErrUnsavedReference))
}

func TestDelete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, name := range []string{"keep", "drop", "drop"} {
		h.create(t, "data", map[string]interface{}{"name": name})
	}

	n, err := h.be.Delete(ctx, h.plan(t, query.New("data").Where(query.Eq("name", "drop"))))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	recs, err := h.be.Search(ctx, h.plan(t, query.New("data")))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "keep", recs[0].MustGet("name").AsString())

	next := h.create(t, "data", map[string]interface{}{"name": "new"})
	assert.Equal(t, int64(4), next.ID(), "deleted ids are not reused")

	t.Run("link rows go with their owner", func(t *testing.T) {
		a := h.create(t, "post", map[string]interface{}{"title": "a"})
		h.create(t, "post", map[string]interface{}{"title": "b", "related": []interface{}{a.ID()}})

		n, err := h.be.Delete(ctx, h.plan(t, query.New("post").Where(query.Eq("title", "b"))))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		var links int
		require.NoError(t, h.be.DB().QueryRow(`SELECT COUNT(*) FROM "post_related"`).Scan(&links))
		assert.Equal(t, 0, links)
	})
}

func TestAbstractAndClosed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	recs, err := h.be.Search(ctx, h.plan(t, query.New("named")))
	require.NoError(t, err)
	assert.Empty(t, recs)

	_, err = h.be.DB().Exec(`SELECT 1 FROM "named"`)
	assert.Error(t, err, "abstract schemas have no table")

	require.NoError(t, h.be.Close())
	require.NoError(t, h.be.Close())

	_, err = h.be.Write(ctx, fixtures.NewRecord(t, h.reg, "data", map[string]interface{}{"name": "x"}))
	assert.True(t, errors.Is(err, backend.ErrClosed))
	_, err = h.be.Search(ctx, h.plan(t, query.New("data")))
	assert.True(t, errors.Is(err, backend.ErrClosed))
}

func noteSchema(t *testing.T, fields ...schema.FieldDef) (*schema.Registry, *schema.ResolvedSchema) {
	t.Helper()
	reg := schema.NewRegistry()
	_, err := reg.RegisterAll([]schema.SchemaDef{{Name: "note", Fields: fields}})
	require.NoError(t, err)
	return reg, fixtures.Resolve(t, reg, "note")
}

func TestMigrate(t *testing.T) {
	ctx := context.Background()
	reg1, v1 := noteSchema(t,
		schema.FieldDef{Name: "title", Type: "string"},
		schema.FieldDef{Name: "score", Type: "string", Nullable: true},
		schema.FieldDef{Name: "draft", Type: "string", Nullable: true})
	reg2, v2 := noteSchema(t,
		schema.FieldDef{Name: "title", Type: "string"},
		schema.FieldDef{Name: "score", Type: "double", Nullable: true},
		schema.FieldDef{Name: "pinned", Type: "bool", Nullable: true})

	be, err := Open(Config{Driver: "sqlite", URL: ":memory:"}, reg1)
	require.NoError(t, err)
	defer be.Close()

	changes, err := be.Migrate(ctx, v1)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, migrate.ChangeAddModel, changes[0].Type)

	rec := fixtures.NewRecord(t, reg1, "note", map[string]interface{}{"title": "a", "score": "1.5", "draft": "x"})
	_, err = be.Write(ctx, rec)
	require.NoError(t, err)

	changes, err = be.Migrate(ctx, v2)
	require.NoError(t, err)
	var applied []string
	for _, c := range changes {
		applied = append(applied, fmt.Sprintf("%s %s", c.Type, c.Field))
	}
	assert.ElementsMatch(t, []string{"add_field pinned", "drop_field draft", "modify_field score"}, applied)

	again, err := be.Migrate(ctx, v2)
	require.NoError(t, err)
	assert.Empty(t, again, "unchanged schema is a no-op")

	snap, err := be.Snapshot(ctx, "note")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, migrate.Capture(v2).Checksum(), snap.Checksum())

	plan, err := query.NewPlanner(reg2).Plan(query.ByID("note", rec.ID(), "title", "score", "pinned"))
	require.NoError(t, err)
	got, err := be.Read(ctx, plan)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a", got.MustGet("title").AsString())
	assert.Equal(t, 1.5, got.MustGet("score").AsFloat(), "castable values survive a type change")
	assert.True(t, got.MustGet("pinned").IsNull())

	t.Run("drop model", func(t *testing.T) {
		require.NoError(t, be.ApplySchema(ctx, v2, nil))
		snap, err := be.Snapshot(ctx, "note")
		require.NoError(t, err)
		assert.Nil(t, snap)

		_, err = be.Search(ctx, plan)
		assert.Error(t, err)
	})
}

func TestReset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a := h.create(t, "post", map[string]interface{}{"title": "a"})
	h.create(t, "post", map[string]interface{}{"title": "b", "related": []interface{}{a.ID()}})

	require.NoError(t, h.be.Reset(ctx, []*schema.ResolvedSchema{
		fixtures.Resolve(t, h.reg, "named"),
		fixtures.Resolve(t, h.reg, "post"),
	}))

	recs, err := h.be.Search(ctx, h.plan(t, query.New("post")))
	require.NoError(t, err)
	assert.Empty(t, recs)

	next := h.create(t, "post", map[string]interface{}{"title": "fresh"})
	assert.Equal(t, int64(1), next.ID())
}

func TestConcurrentCreates(t *testing.T) {
	h := openHarness(t, filepath.Join(t.TempDir(), "strata.db"))
	ctx := context.Background()

	const workers, perWorker = 25, 4
	rs := fixtures.Resolve(t, h.reg, "data")
	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				rec, err := record.New(rs)
				if err == nil {
					err = rec.Set("name", fmt.Sprintf("w%d-%d", w, i))
				}
				if err == nil {
					_, err = h.be.Write(ctx, rec)
				}
				errs <- err
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	recs, err := h.be.Search(ctx, h.plan(t, query.New("data")))
	require.NoError(t, err)
	require.Len(t, recs, workers*perWorker)

	seen := make(map[int64]bool)
	for _, r := range recs {
		assert.False(t, seen[r.ID()])
		seen[r.ID()] = true
	}
}

func TestAbstractTargetReadsAsReference(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	author := h.create(t, "author", map[string]interface{}{"name": "Ada"})
	badge := h.create(t, "badge", map[string]interface{}{"label": "founder", "holder": author})

	got, err := h.be.Read(ctx, h.plan(t, query.ByID("badge", badge.ID(), "label", "holder")))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "founder", got.MustGet("label").AsString())
	assert.Equal(t, []int64{author.ID()}, backend.References(got.MustGet("holder")))
}
