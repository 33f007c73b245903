package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/strata/internal/orm/schema"
)

func resolve(t *testing.T, def schema.SchemaDef) *schema.ResolvedSchema {
	t.Helper()
	rs, err := schema.NewRegistry().Register(def)
	require.NoError(t, err)
	return rs
}

func articleDef(fields ...schema.FieldDef) schema.SchemaDef {
	return schema.SchemaDef{Name: "article", Version: "1", Fields: fields}
}

func TestCapture(t *testing.T) {
	rs := resolve(t, articleDef(
		schema.FieldDef{Name: "title", Type: "string", MaxLength: 40},
		schema.FieldDef{Name: "views", Type: "long", Default: 0},
		schema.FieldDef{Name: "tags", Type: "list<string>", Nullable: true},
	))

	snap := Capture(rs)
	assert.Equal(t, "article", snap.Model)
	assert.Equal(t, []string{"title", "views", "tags"}, snap.FieldNames(), "identity fields are not captured")

	views, ok := snap.Field("views")
	require.True(t, ok)
	assert.True(t, views.HasDefault)
	assert.Equal(t, "long", views.Type)

	tags, _ := snap.Field("tags")
	desc, err := tags.Descriptor()
	require.NoError(t, err)
	assert.Equal(t, schema.KindList, desc.Kind)
	assert.Equal(t, schema.KindString, desc.Elem)

	data, err := snap.Marshal()
	require.NoError(t, err)
	parsed, err := ParseSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, snap.Checksum(), parsed.Checksum())

	_, err = ParseSnapshot([]byte(`{"fields":[]}`))
	assert.Error(t, err)
}

func TestChecksumIgnoresVersion(t *testing.T) {
	a := Capture(resolve(t, articleDef(schema.FieldDef{Name: "title", Type: "string"})))
	b := *a
	b.Version = "2"
	assert.Equal(t, a.Checksum(), b.Checksum())

	c := Capture(resolve(t, articleDef(schema.FieldDef{Name: "title", Type: "string", MaxLength: 10})))
	assert.NotEqual(t, a.Checksum(), c.Checksum())
}

func TestDiffSchemas(t *testing.T) {
	old := resolve(t, articleDef(
		schema.FieldDef{Name: "title", Type: "string", MaxLength: 40},
		schema.FieldDef{Name: "body", Type: "string", Nullable: true},
		schema.FieldDef{Name: "score", Type: "int", Nullable: true},
		schema.FieldDef{Name: "legacy", Type: "string", Nullable: true},
	))
	updated := resolve(t, articleDef(
		schema.FieldDef{Name: "title", Type: "string", MaxLength: 20},
		schema.FieldDef{Name: "body", Type: "string", Nullable: true},
		schema.FieldDef{Name: "score", Type: "double", Nullable: true},
		schema.FieldDef{Name: "subtitle", Type: "string", Nullable: true},
		schema.FieldDef{Name: "rank", Type: "long"},
	))

	changes := DiffSchemas(old, updated)
	require.Len(t, changes, 5)

	byField := map[string]SchemaChange{}
	for _, c := range changes {
		assert.Equal(t, "article", c.Model)
		byField[c.Field] = c
	}

	assert.Equal(t, ChangeAddField, byField["subtitle"].Type)
	assert.False(t, byField["subtitle"].Breaking)
	assert.Equal(t, ChangeAddField, byField["rank"].Type)
	assert.True(t, byField["rank"].Breaking, "required field without default")

	assert.Equal(t, ChangeDropField, byField["legacy"].Type)
	assert.True(t, byField["legacy"].DataLoss)

	assert.Equal(t, ChangeModifyField, byField["score"].Type)
	assert.Equal(t, "int", byField["score"].Old.Type)
	assert.Equal(t, "double", byField["score"].New.Type)
	assert.True(t, byField["score"].DataLoss)

	assert.Equal(t, ChangeModifyField, byField["title"].Type)
	assert.True(t, byField["title"].DataLoss, "length reduction")

	_, unchanged := byField["body"]
	assert.False(t, unchanged)
	assert.True(t, HasBreaking(changes))
}

func TestDiffSchemasModels(t *testing.T) {
	rs := resolve(t, articleDef(schema.FieldDef{Name: "title", Type: "string"}))

	added := DiffSchemas(nil, rs)
	require.Len(t, added, 1)
	assert.Equal(t, ChangeAddModel, added[0].Type)
	assert.False(t, added[0].Breaking)

	dropped := DiffSchemas(rs, nil)
	require.Len(t, dropped, 1)
	assert.Equal(t, ChangeDropModel, dropped[0].Type)
	assert.True(t, dropped[0].DataLoss)

	assert.Empty(t, DiffSchemas(rs, rs))
}

func TestDiffOrdering(t *testing.T) {
	oldSet := map[string]*Snapshot{
		"b": {Model: "b"},
		"c": {Model: "c", Fields: []*FieldSnapshot{{Name: "gone", Type: "string", Nullable: true}}},
	}
	newSet := map[string]*Snapshot{
		"a": {Model: "a"},
		"c": {Model: "c", Fields: []*FieldSnapshot{{Name: "x", Type: "string", Nullable: true}}},
	}

	var got []string
	for _, c := range Diff(oldSet, newSet) {
		got = append(got, c.String())
	}
	assert.Equal(t, []string{"add_model a", "drop_model b", "add_field c.x", "drop_field c.gone"}, got)
}

func TestChangeTypeString(t *testing.T) {
	assert.Equal(t, "modify_field", ChangeModifyField.String())
	assert.Equal(t, "unknown", ChangeType(99).String())
	assert.Equal(t, "unknown", ChangeType(-1).String())
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "no changes", Summary(nil))
	assert.Equal(t, "+note; post: +summary ~score -legacy; -draft", Summary([]SchemaChange{
		{Type: ChangeAddModel, Model: "note"},
		{Type: ChangeAddField, Model: "post", Field: "summary"},
		{Type: ChangeModifyField, Model: "post", Field: "score"},
		{Type: ChangeDropField, Model: "post", Field: "legacy"},
		{Type: ChangeDropModel, Model: "draft"},
	}))
}
