package query

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/strata/internal/orm/record"
	"github.com/conduit-lang/strata/internal/orm/schema"
	"github.com/conduit-lang/strata/internal/testing/fixtures"
)

func TestPlanDefaults(t *testing.T) {
	planner := NewPlanner(fixtures.Registry(t))

	plan, err := planner.Plan(New("post"))
	require.NoError(t, err)
	assert.Equal(t, "post", plan.Model())
	assert.Equal(t, []string{"title", "status"}, plan.Root.Fields)
	assert.Empty(t, plan.Root.Branches)
	assert.Equal(t, DefaultMaxDepth, plan.MaxDepth)
	assert.Equal(t, SortKey{Field: "id", Direction: Asc}, plan.Sort)

	plan, err = planner.Plan(New("data"))
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "content"}, plan.Root.Fields, "no common set means every non-relationship field")
}

func TestPlanBranches(t *testing.T) {
	planner := NewPlanner(fixtures.Registry(t))

	t.Run("relationship uses target defaults", func(t *testing.T) {
		plan, err := planner.Plan(New("post").Select("title", "author"))
		require.NoError(t, err)

		assert.Equal(t, []string{"title", "author"}, plan.Root.Fields)
		b := plan.Root.Branch("author")
		require.NotNil(t, b)
		assert.Equal(t, "author", b.Node.Path)
		assert.Equal(t, 1, b.Node.Depth)
		assert.Equal(t, []string{"name", "email"}, b.Node.Fields)
	})

	t.Run("dotted paths narrow the child", func(t *testing.T) {
		plan, err := planner.Plan(New("comment").Select("text", "post.title", "post.author.name"))
		require.NoError(t, err)

		post := plan.Root.Branch("post")
		require.NotNil(t, post)
		assert.Equal(t, []string{"title", "author"}, post.Node.Fields)
		author := post.Node.Branch("author")
		require.NotNil(t, author)
		assert.Equal(t, "post.author", author.Node.Path)
		assert.Equal(t, []string{"name"}, author.Node.Fields)
		assert.Len(t, plan.Nodes(), 3)
	})

	t.Run("field order follows the schema", func(t *testing.T) {
		plan, err := planner.Plan(New("post").Select("status", "title"))
		require.NoError(t, err)
		assert.Equal(t, []string{"title", "status"}, plan.Root.Fields)
	})

	t.Run("identity fields are implicit", func(t *testing.T) {
		plan, err := planner.Plan(New("data").Select("id", "objectId", "name"))
		require.NoError(t, err)
		assert.Equal(t, []string{"name"}, plan.Root.Fields)
	})
}

func TestPlanPruning(t *testing.T) {
	planner := NewPlanner(fixtures.Registry(t))

	t.Run("self reference expands once per branch", func(t *testing.T) {
		plan, err := planner.Plan(New("link").Select("name", "next.next.next.name"))
		require.NoError(t, err)

		first := plan.Root.Branch("next")
		require.NotNil(t, first)
		assert.Empty(t, first.Node.Branches)
		assert.Equal(t, []string{"next"}, first.Node.References, "link.next was already expanded on this branch")
	})

	t.Run("depth ceiling", func(t *testing.T) {
		plan, err := planner.Plan(New("comment").Select("post.author.name").Depth(1))
		require.NoError(t, err)

		post := plan.Root.Branch("post")
		require.NotNil(t, post)
		assert.Equal(t, []string{"author"}, post.Node.References)
		assert.Equal(t, 1, plan.EstimateCost().MaxDepth)
	})

	t.Run("zero depth makes every relationship a reference", func(t *testing.T) {
		p := NewPlanner(fixtures.Registry(t), WithMaxDepth(0))
		plan, err := p.Plan(New("post").Select("title", "author", "related"))
		require.NoError(t, err)
		assert.Empty(t, plan.Root.Branches)
		assert.Equal(t, []string{"author", "related"}, plan.Root.References)
	})

	t.Run("abstract target stays a reference", func(t *testing.T) {
		plan, err := planner.Plan(New("badge").Select("label", "holder.name"))
		require.NoError(t, err)
		assert.Nil(t, plan.Root.Branch("holder"))
		assert.Equal(t, []string{"holder"}, plan.Root.References)
	})

	t.Run("shallower path wins", func(t *testing.T) {
		plan, err := planner.Plan(New("comment").Select("author", "post.author"))
		require.NoError(t, err)

		require.NotNil(t, plan.Root.Branch("author"))
		post := plan.Root.Branch("post")
		require.NotNil(t, post)
		assert.Nil(t, post.Node.Branch("author"))
		assert.Equal(t, []string{"author"}, post.Node.References)
	})

	t.Run("siblings at the same depth both expand", func(t *testing.T) {
		plan, err := planner.Plan(New("comment").Select("post", "parent"))
		require.NoError(t, err)
		assert.Len(t, plan.Root.Branches, 2)
	})

	t.Run("list relationship branch", func(t *testing.T) {
		plan, err := planner.Plan(New("post").Select("title", "related.title"))
		require.NoError(t, err)

		b := plan.Root.Branch("related")
		require.NotNil(t, b)
		assert.True(t, b.Field.IsList())
		cost := plan.EstimateCost()
		assert.Equal(t, 1, cost.ListStatements)
		assert.Equal(t, 0, cost.Joins)
	})
}

func TestPlanSupportFields(t *testing.T) {
	planner := NewPlanner(fixtures.Registry(t))

	plan, err := planner.Plan(New("secret").Select("body"))
	require.NoError(t, err)
	assert.Equal(t, []string{"body"}, plan.Root.Fields)
	assert.Equal(t, []string{"salt"}, plan.Root.Support)
	assert.Equal(t, []string{"body", "salt"}, plan.Root.FetchFields())

	plan, err = planner.Plan(New("secret").Select("body", "salt"))
	require.NoError(t, err)
	assert.Empty(t, plan.Root.Support)
}

func TestPlanErrors(t *testing.T) {
	planner := NewPlanner(fixtures.Registry(t))

	tests := []struct {
		name  string
		query *Query
		is    error
	}{
		{"unknown model", New("ghost"), schema.ErrSchemaNotFound},
		{"unknown field", New("post").Select("color"), record.ErrUnknownField},
		{"path through scalar", New("post").Select("title.length"), nil},
		{"unknown nested field", New("post").Select("author.age"), record.ErrUnknownField},
		{"unknown predicate field", New("post").Where(Eq("color", "red")), record.ErrUnknownField},
		{"blob predicate", New("data").Where(Eq("content", "x")), ErrNotQueryable},
		{"list predicate", New("post").Where(Eq("tags", "x")), ErrNotQueryable},
		{"flex predicate", New("post").Where(Eq("extra", 1)), ErrNotQueryable},
		{"embedded list predicate", New("post").Where(Eq("related", 1)), ErrNotQueryable},
		{"encrypted predicate", New("secret").Where(Eq("body", "x")), ErrNotQueryable},
		{"like on number", New("post").Where(Like("views", "1%")), ErrInvalidPredicate},
		{"between arity", New("post").Where(Predicate{Field: "views", Operator: OpBetween, Value: []interface{}{1}}), ErrInvalidPredicate},
		{"in needs list", New("post").Where(Predicate{Field: "views", Operator: OpIn, Value: 3}), ErrInvalidPredicate},
		{"sort on blob", New("data").OrderBy("content", Asc), ErrNotQueryable},
		{"negative limit", New("data").Take(-1), ErrInvalidPredicate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := planner.Plan(tt.query)
			require.Error(t, err)
			if tt.is != nil {
				assert.True(t, errors.Is(err, tt.is), "expected %v, got %v", tt.is, err)
			}
		})
	}

	t.Run("bad predicate value is a value error", func(t *testing.T) {
		_, err := planner.Plan(New("post").Where(Eq("published", "not a date")))
		assert.True(t, record.IsValueError(err))
	})
}

func TestPlanConditions(t *testing.T) {
	planner := NewPlanner(fixtures.Registry(t))

	plan, err := planner.Plan(ByID("post", 7, "title"))
	require.NoError(t, err)
	id, ok := plan.IDLookup()
	assert.True(t, ok)
	assert.Equal(t, int64(7), id)
	assert.Equal(t, 1, plan.Limit)

	plan, err = planner.Plan(New("post").Where(Eq("author", int64(3)), In("views", 1, 2.0, "3")).OrderBy("views", Desc))
	require.NoError(t, err)
	_, ok = plan.IDLookup()
	assert.False(t, ok)
	require.Len(t, plan.Conditions, 2)
	assert.Equal(t, int64(3), plan.Conditions[0].Values[0].AsForeign().ID())
	assert.Len(t, plan.Conditions[1].Values, 3)
	assert.Equal(t, schema.KindLong, plan.Conditions[1].Values[2].Kind())
	assert.Equal(t, Desc, plan.Sort.Direction)

	explained := plan.Explain()
	assert.Contains(t, explained, "plan post")
	assert.Contains(t, explained, "where author =")
	assert.Contains(t, explained, "order by views DESC")
}
