// Package tracking computes field-level changes between a stored record and a
// partial update. The store uses it to skip no-op patches, to check field
// locks only for fields that really change, and to describe changes to hooks.
package tracking

import (
	"github.com/conduit-lang/strata/internal/orm/record"
	"github.com/conduit-lang/strata/internal/orm/schema"
)

// FieldChange is the old and new value of one field
type FieldChange struct {
	Field    string
	OldValue record.Value
	NewValue record.Value
}

// ChangeTracker is an immutable diff of a patch against the stored record,
// safe for concurrent reads
type ChangeTracker struct {
	original *record.Record
	current  *record.Record
	changes  []FieldChange
	index    map[string]int
}

// NewChangeTracker compares the populated fields of current with original.
// Fields original does not populate count as absent. Both records are
// copied, so later mutations are not observed.
func NewChangeTracker(original, current *record.Record) *ChangeTracker {
	ct := &ChangeTracker{
		original: original.Clone(),
		current:  current.Clone(),
		index:    make(map[string]int),
	}
	ct.current.Range(func(f *schema.FieldDescriptor, v record.Value) bool {
		old, _ := ct.original.Get(f.Name)
		if !old.Equal(v) {
			ct.index[f.Name] = len(ct.changes)
			ct.changes = append(ct.changes, FieldChange{Field: f.Name, OldValue: old, NewValue: v})
		}
		return true
	})
	return ct
}

// HasChanges reports whether any field differs
func (ct *ChangeTracker) HasChanges() bool {
	return len(ct.changes) > 0
}

// Changed reports whether field differs
func (ct *ChangeTracker) Changed(field string) bool {
	_, ok := ct.index[field]
	return ok
}

// ChangedFields lists the differing fields in schema order
func (ct *ChangeTracker) ChangedFields() []string {
	names := make([]string, len(ct.changes))
	for i, c := range ct.changes {
		names[i] = c.Field
	}
	return names
}

// Change returns the change of field, if any
func (ct *ChangeTracker) Change(field string) (FieldChange, bool) {
	i, ok := ct.index[field]
	if !ok {
		return FieldChange{}, false
	}
	return ct.changes[i], true
}

// PreviousValue returns the stored value of field
func (ct *ChangeTracker) PreviousValue(field string) record.Value {
	v, _ := ct.original.Get(field)
	return v
}

// ChangedTo reports whether field changed to value
func (ct *ChangeTracker) ChangedTo(field string, value record.Value) bool {
	c, ok := ct.Change(field)
	return ok && c.NewValue.Equal(value)
}

// ChangedFrom reports whether field changed away from value
func (ct *ChangeTracker) ChangedFrom(field string, value record.Value) bool {
	c, ok := ct.Change(field)
	return ok && c.OldValue.Equal(value)
}

// ChangedRecord returns a partial record holding only the differing fields,
// ready to be written as an update
func (ct *ChangeTracker) ChangedRecord() *record.Record {
	return ct.current.Project(ct.ChangedFields())
}
