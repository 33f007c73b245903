package backend

import (
	"context"
	"fmt"

	"github.com/conduit-lang/strata/internal/orm/query"
	"github.com/conduit-lang/strata/internal/orm/record"
	"github.com/conduit-lang/strata/internal/orm/schema"
)

// Complete marks every named field that has no value as null, so a fetch
// result always carries the full requested set.
func Complete(rec *record.Record, fields []string) {
	for _, name := range fields {
		if !rec.Has(name) {
			// fields come from a plan over rec's schema
			_ = rec.Put(name, record.Null())
		}
	}
}

// Shape narrows a stored record to the node's fetch fields and completes it
func Shape(stored *record.Record, node *query.Node) *record.Record {
	out := stored.Project(node.FetchFields())
	Complete(out, node.FetchFields())
	return out
}

// CheckRequired fails when a non-nullable field without a default is unset.
// Backends call it before creating a record, after defaults are applied.
func CheckRequired(rec *record.Record) error {
	for _, f := range rec.Schema().DataFields() {
		if f.Nullable || f.Default != nil {
			continue
		}
		v := rec.MustGet(f.Name)
		if v.IsAbsent() || v.IsNull() {
			return &record.ValueError{Model: rec.Model(), Field: f.Name, Kind: f.Kind, Reason: "value is required"}
		}
	}
	return nil
}

// Flatten returns a copy of rec in which every embedded related record is
// replaced by its id. Embedded records must already have been created.
func Flatten(rec *record.Record) (*record.Record, error) {
	out := rec.Clone()
	var err error
	rec.Range(func(f *schema.FieldDescriptor, v record.Value) bool {
		if !f.IsRelationship() || v.IsNull() || v.IsAbsent() {
			return true
		}
		var flat record.Value
		flat, err = flattenValue(f, v)
		if err != nil {
			err = &record.FieldError{Model: rec.Model(), Field: f.Name, Err: err}
			return false
		}
		err = out.Put(f.Name, flat)
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func flattenValue(f *schema.FieldDescriptor, v record.Value) (record.Value, error) {
	if v.Kind() == schema.KindList {
		items := v.AsList()
		for i, item := range items {
			flat, err := flattenForeign(item)
			if err != nil {
				return record.Value{}, fmt.Errorf("item %d: %w", i, err)
			}
			items[i] = flat
		}
		return record.List(f.Elem, items), nil
	}
	return flattenForeign(v)
}

func flattenForeign(v record.Value) (record.Value, error) {
	fv := v.AsForeign()
	if fv.ID() <= 0 {
		return record.Value{}, ErrUnsavedReference
	}
	return record.Model(record.Reference(fv.ID())), nil
}

// References returns the related ids held by a relationship value in order
func References(v record.Value) []int64 {
	if v.IsAbsent() || v.IsNull() {
		return nil
	}
	if v.Kind() == schema.KindList {
		ids := make([]int64, 0, v.Len())
		for _, item := range v.AsList() {
			if id := item.AsForeign().ID(); id > 0 {
				ids = append(ids, id)
			}
		}
		return ids
	}
	if id := v.AsForeign().ID(); id > 0 {
		return []int64{id}
	}
	return nil
}

// Fetcher loads the records of one plan node by id. Implementations shape the
// records for the node and expand the node's own branches.
type Fetcher func(ctx context.Context, node *query.Node, ids []int64) (map[int64]*record.Record, error)

// Expand populates every branch of node with one sub-fetch per branch.
// References whose target no longer exists stay bare ids.
func Expand(ctx context.Context, node *query.Node, recs []*record.Record, fetch Fetcher) error {
	for _, b := range node.Branches {
		seen := make(map[int64]bool)
		var ids []int64
		for _, rec := range recs {
			for _, id := range References(rec.MustGet(b.Field.Name)) {
				if !seen[id] {
					seen[id] = true
					ids = append(ids, id)
				}
			}
		}
		if len(ids) == 0 {
			continue
		}

		related, err := fetch(ctx, b.Node, ids)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if err := Embed(rec, b.Field, related); err != nil {
				return err
			}
		}
	}
	return nil
}

// Embed replaces the references of one relationship field with the matching related records
func Embed(rec *record.Record, f *schema.FieldDescriptor, related map[int64]*record.Record) error {
	v := rec.MustGet(f.Name)
	if v.IsAbsent() || v.IsNull() {
		return nil
	}
	embed := func(item record.Value) record.Value {
		if target, ok := related[item.AsForeign().ID()]; ok {
			return record.Model(record.Embedded(target))
		}
		return item
	}
	if v.Kind() == schema.KindList {
		items := v.AsList()
		for i := range items {
			items[i] = embed(items[i])
		}
		return rec.Put(f.Name, record.List(f.Elem, items))
	}
	return rec.Put(f.Name, embed(v))
}
