// Package fixtures provides shared schemas and records for package tests
package fixtures

import (
	"testing"

	"github.com/conduit-lang/strata/internal/orm/record"
	"github.com/conduit-lang/strata/internal/orm/schema"
)

// Definitions returns the standard test schemas:
//
//	data     name, content (blob)
//	named    abstract, name
//	author   named + email, bio (internal)
//	post     title, body, score, published, status, author (foreign), tags, related, extra (flex), notes (internal)
//	comment  text, post (foreign), parent (foreign, self), author (foreign)
//	link     name, next (foreign, self)
//	secret   salt (key), body (encrypted)
//	badge    label, holder (foreign to the abstract named)
func Definitions() []schema.SchemaDef {
	return []schema.SchemaDef{
		{
			Name: "data",
			Fields: []schema.FieldDef{
				{Name: "name", Type: "string", Trim: true, MaxLength: 96},
				{Name: "content", Type: "blob", Nullable: true},
			},
		},
		{
			Name:     "named",
			Abstract: true,
			Common:   []string{"name"},
			Fields: []schema.FieldDef{
				{Name: "name", Type: "string", Trim: true, MaxLength: 96},
			},
		},
		{
			Name:     "author",
			Inherits: []string{"named"},
			Common:   []string{"name", "email"},
			Fields: []schema.FieldDef{
				{Name: "email", Type: "string", Nullable: true},
				{Name: "bio", Type: "string", Nullable: true, Internal: true},
			},
		},
		{
			Name:   "post",
			Common: []string{"title", "status"},
			Fields: []schema.FieldDef{
				{Name: "title", Type: "string", Trim: true, MaxLength: 20},
				{Name: "body", Type: "string", Nullable: true},
				{Name: "score", Type: "double", Nullable: true},
				{Name: "views", Type: "long", Default: 0},
				{Name: "published", Type: "timestamp", Nullable: true},
				{Name: "status", Type: "enum", Enum: []string{"draft", "published"}, Default: "draft"},
				{Name: "author", Type: "model", Target: "author", Foreign: true, Nullable: true},
				{Name: "tags", Type: "list<string>", Nullable: true},
				{Name: "related", Type: "list<model>", Target: "post", Nullable: true},
				{Name: "extra", Type: "flex", Nullable: true},
				{Name: "notes", Type: "string", Nullable: true, Internal: true},
			},
		},
		{
			Name: "comment",
			Fields: []schema.FieldDef{
				{Name: "text", Type: "string"},
				{Name: "post", Type: "model", Target: "post", Foreign: true, Nullable: true},
				{Name: "parent", Type: "model", Target: "comment", Foreign: true, Nullable: true},
				{Name: "author", Type: "model", Target: "author", Foreign: true, Nullable: true},
			},
		},
		{
			Name: "link",
			Fields: []schema.FieldDef{
				{Name: "name", Type: "string", Trim: true},
				{Name: "next", Type: "model", Target: "link", Foreign: true, Nullable: true},
			},
		},
		{
			Name: "secret",
			Fields: []schema.FieldDef{
				{Name: "label", Type: "string"},
				{Name: "salt", Type: "string", Priority: 10, Internal: true, Nullable: true},
				{Name: "body", Type: "string", Encrypt: true, Provider: "secretbox", KeyField: "salt", Nullable: true},
			},
		},
		{
			Name: "badge",
			Fields: []schema.FieldDef{
				{Name: "label", Type: "string"},
				{Name: "holder", Type: "model", Target: "named", Foreign: true, Nullable: true},
			},
		},
	}
}

// Registry returns a registry with the standard test schemas registered
func Registry(t testing.TB) *schema.Registry {
	t.Helper()

	reg := schema.NewRegistry()
	if _, err := reg.RegisterAll(Definitions()); err != nil {
		t.Fatalf("failed to register fixture schemas: %v", err)
	}
	return reg
}

// Resolve returns a resolved fixture schema or fails the test
func Resolve(t testing.TB, reg *schema.Registry, name string) *schema.ResolvedSchema {
	t.Helper()

	rs, err := reg.Resolve(name)
	if err != nil {
		t.Fatalf("failed to resolve %s: %v", name, err)
	}
	return rs
}

// NewRecord builds a record of model with the given values or fails the test
func NewRecord(t testing.TB, reg *schema.Registry, model string, values map[string]interface{}) *record.Record {
	t.Helper()

	r, err := record.New(Resolve(t, reg, model))
	if err != nil {
		t.Fatalf("failed to create %s: %v", model, err)
	}
	for _, f := range r.Schema().DataFields() {
		v, ok := values[f.Name]
		if !ok {
			continue
		}
		if err := r.Set(f.Name, v); err != nil {
			t.Fatalf("failed to set %s.%s: %v", model, f.Name, err)
		}
	}
	return r
}
