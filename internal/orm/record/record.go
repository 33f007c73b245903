// Package record provides the dynamically typed record container.
// A Record holds only the fields that were populated; absence is not null.
package record

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/conduit-lang/strata/internal/orm/schema"
)

// Record is a sparsely populated instance of a resolved schema
type Record struct {
	schema   *schema.ResolvedSchema
	values   map[string]Value
	id       int64
	objectID string
}

// New creates an empty record with a fresh object id
func New(s *schema.ResolvedSchema) (*Record, error) {
	if s.Abstract {
		return nil, fmt.Errorf("%s: %w", s.Name, ErrAbstractSchema)
	}
	return &Record{
		schema:   s,
		values:   make(map[string]Value),
		objectID: uuid.NewString(),
	}, nil
}

// Hydrate rebuilds a persisted record from its stored identity.
// Backends use it when reading; callers create records with New.
func Hydrate(s *schema.ResolvedSchema, id int64, objectID string) *Record {
	return &Record{
		schema:   s,
		values:   make(map[string]Value),
		id:       id,
		objectID: objectID,
	}
}

// Schema returns the resolved schema of the record
func (r *Record) Schema() *schema.ResolvedSchema { return r.schema }

// Model returns the schema name
func (r *Record) Model() string { return r.schema.Name }

// ID returns the backend-assigned id, or 0 before the first create
func (r *Record) ID() int64 { return r.id }

// HasID reports whether a backend has assigned the id
func (r *Record) HasID() bool { return r.id > 0 }

// ObjectID returns the external object id
func (r *Record) ObjectID() string { return r.objectID }

// AssignID sets the numeric id. It may be called once, by the owning backend.
func (r *Record) AssignID(id int64) error {
	if r.id != 0 {
		return &FieldError{Model: r.Model(), Field: schema.FieldID, Err: ErrIDAssigned}
	}
	if id <= 0 {
		return &ValueError{Model: r.Model(), Field: schema.FieldID, Kind: schema.KindLong, Reason: fmt.Sprintf("invalid id %d", id)}
	}
	r.id = id
	return nil
}

// Get returns the value of a field. Unpopulated fields return an absent Value.
func (r *Record) Get(name string) (Value, error) {
	f, ok := r.schema.Field(name)
	if !ok {
		return Value{}, unknownField(r.Model(), name)
	}
	switch f.Name {
	case schema.FieldID:
		if r.id == 0 {
			return Value{}, nil
		}
		return Long(r.id), nil
	case schema.FieldObjectID:
		return String(r.objectID), nil
	}
	return r.values[name], nil
}

// MustGet returns the value of a field, or an absent Value for unknown names
func (r *Record) MustGet(name string) Value {
	v, _ := r.Get(name)
	return v
}

// Set coerces and validates a value and stores it in the field
func (r *Record) Set(name string, in interface{}) error {
	f, ok := r.schema.Field(name)
	if !ok {
		return unknownField(r.Model(), name)
	}
	if f.Identity {
		return &FieldError{Model: r.Model(), Field: name, Err: ErrIdentityField}
	}

	v, err := Coerce(f, in)
	if err != nil {
		return r.tag(err)
	}
	if f.Kind == schema.KindFlex {
		if prev, ok := r.values[name]; ok && !prev.IsNull() && !v.IsNull() && prev.Kind() != v.Kind() {
			return &ValueError{
				Model:  r.Model(),
				Field:  name,
				Kind:   f.Kind,
				Reason: fmt.Sprintf("flex field holds %s, cannot assign %s", prev.Kind(), v.Kind()),
			}
		}
	}
	r.values[name] = v
	return nil
}

// Put stores an already typed value without the null check.
// Backends use it to mark requested fields that have no stored value.
func (r *Record) Put(name string, v Value) error {
	f, ok := r.schema.Field(name)
	if !ok {
		return unknownField(r.Model(), name)
	}
	if f.Identity {
		return &FieldError{Model: r.Model(), Field: name, Err: ErrIdentityField}
	}
	if v.IsAbsent() {
		delete(r.values, name)
		return nil
	}
	if v.IsNull() {
		r.values[name] = v
		return nil
	}
	if f.Kind != schema.KindFlex && (v.Kind() != f.Kind || (f.Kind == schema.KindList && v.Elem() != f.Elem)) {
		return &ValueError{Model: r.Model(), Field: name, Kind: f.Kind, Reason: fmt.Sprintf("cannot store %s value", v.Kind())}
	}
	r.values[name] = v
	return nil
}

// Unset removes a field from the populated set
func (r *Record) Unset(name string) {
	delete(r.values, name)
}

// Has reports whether the field is populated
func (r *Record) Has(name string) bool {
	switch name {
	case schema.FieldID:
		return r.id != 0
	case schema.FieldObjectID:
		return true
	}
	_, ok := r.values[name]
	return ok
}

// Populated returns the populated field names in schema order, identity included
func (r *Record) Populated() []string {
	var out []string
	for _, f := range r.schema.Fields() {
		if r.Has(f.Name) {
			out = append(out, f.Name)
		}
	}
	return out
}

// Range calls fn for every populated data field in schema order
func (r *Record) Range(fn func(f *schema.FieldDescriptor, v Value) bool) {
	for _, f := range r.schema.DataFields() {
		v, ok := r.values[f.Name]
		if !ok {
			continue
		}
		if !fn(f, v) {
			return
		}
	}
}

// ApplyDefaults populates unset fields that declare a default value
func (r *Record) ApplyDefaults() error {
	for _, f := range r.schema.DataFields() {
		if f.Default == nil || r.Has(f.Name) {
			continue
		}
		v, err := Coerce(f, f.Default)
		if err != nil {
			return r.tag(err)
		}
		r.values[f.Name] = v
	}
	return nil
}

// Clone returns a deep copy of the record, identity included
func (r *Record) Clone() *Record {
	out := &Record{
		schema:   r.schema,
		values:   make(map[string]Value, len(r.values)),
		id:       r.id,
		objectID: r.objectID,
	}
	for k, v := range r.values {
		out.values[k] = v.clone()
	}
	return out
}

// Project returns a copy holding only the named fields (plus identity)
func (r *Record) Project(fields []string) *Record {
	out := &Record{
		schema:   r.schema,
		values:   make(map[string]Value, len(fields)),
		id:       r.id,
		objectID: r.objectID,
	}
	for _, name := range fields {
		if v, ok := r.values[name]; ok {
			out.values[name] = v.clone()
		}
	}
	return out
}

// Merge copies every populated field of other into r
func (r *Record) Merge(other *Record) {
	for k, v := range other.values {
		r.values[k] = v.clone()
	}
}

// Equal compares schema, identity and populated values
func (r *Record) Equal(o *Record) bool {
	if r == nil || o == nil {
		return r == o
	}
	if r.Model() != o.Model() || r.id != o.id || r.objectID != o.objectID {
		return false
	}
	if len(r.values) != len(o.values) {
		return false
	}
	for k, v := range r.values {
		ov, ok := o.values[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer
func (r *Record) String() string {
	return fmt.Sprintf("%s#%d(%s)", r.Model(), r.id, r.objectID)
}

// tag fills in the model name on errors produced by Coerce
func (r *Record) tag(err error) error {
	var ve *ValueError
	if errors.As(err, &ve) && ve.Model == "" {
		ve.Model = r.Model()
	}
	return err
}
