package schema

import (
	"fmt"
	"sort"
	"sync"
)

// OverridePolicy decides which descriptor wins when two ancestors that are not
// related to each other declare a field with the same name.
// A descendant's own declaration always replaces inherited ones.
type OverridePolicy int

const (
	// OverrideLastWins keeps the descriptor of the later parent in inherits order
	OverrideLastWins OverridePolicy = iota
	// OverrideFirstWins keeps the descriptor of the earlier parent
	OverrideFirstWins
	// OverrideStrict behaves like OverrideLastWins but rejects differently shaped fields
	OverrideStrict
)

// String returns the string representation of the policy
func (p OverridePolicy) String() string {
	switch p {
	case OverrideLastWins:
		return "last_wins"
	case OverrideFirstWins:
		return "first_wins"
	case OverrideStrict:
		return "strict"
	default:
		return "unknown"
	}
}

// ParseOverridePolicy converts a string to an OverridePolicy
func ParseOverridePolicy(s string) (OverridePolicy, error) {
	switch s {
	case "", "last_wins":
		return OverrideLastWins, nil
	case "first_wins":
		return OverrideFirstWins, nil
	case "strict":
		return OverrideStrict, nil
	default:
		return 0, fmt.Errorf("unknown override policy: %s", s)
	}
}

// Option configures a Registry
type Option func(*Registry)

// WithOverridePolicy sets the inherited-field conflict policy
func WithOverridePolicy(p OverridePolicy) Option {
	return func(r *Registry) {
		r.policy = p
	}
}

// Registry holds every registered schema and its resolved form.
// Schemas are flattened once at registration; lookups never walk ancestors.
type Registry struct {
	schemas  map[string]*Schema
	resolved map[string]*ResolvedSchema
	policy   OverridePolicy
	mu       sync.RWMutex
}

// NewRegistry creates a new schema registry
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		schemas:  make(map[string]*Schema),
		resolved: make(map[string]*ResolvedSchema),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the registry's override policy
func (r *Registry) Policy() OverridePolicy {
	return r.policy
}

// Register validates, flattens and stores one schema definition.
// Parents and relationship targets must already be registered, except that a
// schema may reference itself.
func (r *Registry) Register(def SchemaDef) (*ResolvedSchema, error) {
	out, err := r.RegisterAll([]SchemaDef{def})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// RegisterAll registers a batch of definitions that may reference each other.
// Either every definition is registered or none is.
func (r *Registry) RegisterAll(defs []SchemaDef) ([]*ResolvedSchema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	batch := make(map[string]*Schema, len(defs))
	order := make([]string, 0, len(defs))
	for i := range defs {
		def := &defs[i]
		if err := def.Validate(); err != nil {
			return nil, err
		}
		if _, exists := r.schemas[def.Name]; exists {
			return nil, &SchemaError{Schema: def.Name, Err: ErrAlreadyRegistered}
		}
		if _, dup := batch[def.Name]; dup {
			return nil, &SchemaError{Schema: def.Name, Err: ErrAlreadyRegistered}
		}
		s, err := def.toSchema()
		if err != nil {
			return nil, err
		}
		batch[def.Name] = s
		order = append(order, def.Name)
	}

	candidate := make(map[string]*Schema, len(r.schemas)+len(batch))
	for k, v := range r.schemas {
		candidate[k] = v
	}
	for k, v := range batch {
		candidate[k] = v
	}

	for _, name := range order {
		for _, p := range batch[name].Inherits {
			if _, ok := candidate[p]; !ok {
				return nil, &SchemaError{Schema: name, Err: fmt.Errorf("%w: %s", ErrMissingParent, p)}
			}
		}
	}
	sorted, err := inheritanceOrder(candidate)
	if err != nil {
		return nil, &SchemaError{Schema: order[0], Err: err}
	}

	resolved := make(map[string]*ResolvedSchema, len(r.resolved)+len(batch))
	for k, v := range r.resolved {
		resolved[k] = v
	}
	for _, name := range sorted {
		s, isNew := batch[name]
		if !isNew {
			continue
		}
		rs, err := r.flatten(s, resolved)
		if err != nil {
			return nil, err
		}
		resolved[name] = rs
	}

	for _, name := range order {
		if err := checkResolved(resolved[name], candidate); err != nil {
			return nil, err
		}
	}

	// commit only after the whole batch checked out
	out := make([]*ResolvedSchema, 0, len(order))
	for _, name := range order {
		r.schemas[name] = batch[name]
		r.resolved[name] = resolved[name]
		out = append(out, resolved[name])
	}
	return out, nil
}

// flatten merges ancestor fields into one ordered descriptor list
func (r *Registry) flatten(s *Schema, resolved map[string]*ResolvedSchema) (*ResolvedSchema, error) {
	fields := identityFields(s.Name)
	index := make(map[string]int, len(fields))
	for i, f := range fields {
		index[f.Name] = i
	}

	var ancestors []string
	seenAncestor := make(map[string]bool)
	addAncestor := func(name string) {
		if !seenAncestor[name] {
			seenAncestor[name] = true
			ancestors = append(ancestors, name)
		}
	}

	var common []string
	seenCommon := make(map[string]bool)

	for _, parentName := range s.Inherits {
		parent, ok := resolved[parentName]
		if !ok {
			return nil, &SchemaError{Schema: s.Name, Err: fmt.Errorf("%w: %s", ErrMissingParent, parentName)}
		}
		addAncestor(parentName)
		for _, a := range parent.Ancestors {
			addAncestor(a)
		}
		if len(s.Common) == 0 {
			for _, c := range parent.Common {
				if !seenCommon[c] {
					seenCommon[c] = true
					common = append(common, c)
				}
			}
		}

		for _, f := range parent.DataFields() {
			pos, exists := index[f.Name]
			if !exists {
				index[f.Name] = len(fields)
				fields = append(fields, f)
				continue
			}
			existing := fields[pos]
			if existing == f {
				continue // diamond: same descriptor through two paths
			}
			if moreDerived(resolved, existing.DeclaredBy, f.DeclaredBy) {
				continue
			}
			if moreDerived(resolved, f.DeclaredBy, existing.DeclaredBy) {
				fields[pos] = f
				continue
			}
			switch r.policy {
			case OverrideFirstWins:
				// keep existing
			case OverrideStrict:
				if !existing.sameShape(f) {
					return nil, &SchemaError{
						Schema: s.Name,
						Field:  f.Name,
						Err: fmt.Errorf("%w: %s declares %s, %s declares %s",
							ErrFieldConflict, existing.DeclaredBy, existing.TypeName(), f.DeclaredBy, f.TypeName()),
					}
				}
				fields[pos] = f
			default:
				fields[pos] = f
			}
		}
	}

	for _, f := range s.Fields {
		if pos, exists := index[f.Name]; exists {
			fields[pos] = f
			continue
		}
		index[f.Name] = len(fields)
		fields = append(fields, f)
	}

	if len(s.Common) > 0 {
		common = append([]string(nil), s.Common...)
	}

	rs := &ResolvedSchema{
		Name:      s.Name,
		Abstract:  s.Abstract,
		Group:     s.Group,
		Version:   s.Version,
		Ancestors: ancestors,
		Common:    common,
		fields:    fields,
		byName:    make(map[string]*FieldDescriptor, len(fields)),
	}
	for _, f := range fields {
		rs.byName[f.Name] = f
	}
	return rs, nil
}

// moreDerived reports whether schema a inherits (directly or not) from b
func moreDerived(resolved map[string]*ResolvedSchema, a, b string) bool {
	if a == b {
		return false
	}
	rs, ok := resolved[a]
	if !ok {
		return false
	}
	return rs.IsA(b)
}

// checkResolved validates cross-field and cross-schema references after flattening
func checkResolved(rs *ResolvedSchema, schemas map[string]*Schema) error {
	for _, c := range rs.Common {
		f, ok := rs.Field(c)
		if !ok || f.Identity {
			return &SchemaError{Schema: rs.Name, Field: c, Err: fmt.Errorf("common field is not declared")}
		}
	}
	for _, f := range rs.fields {
		if f.IsRelationship() {
			if _, ok := schemas[f.Target]; !ok {
				return &SchemaError{Schema: rs.Name, Field: f.Name, Err: fmt.Errorf("%w: %s", ErrUnknownTarget, f.Target)}
			}
		}
		if f.Encrypt && f.KeyField != "" {
			key, ok := rs.Field(f.KeyField)
			if !ok || key.Identity {
				return &SchemaError{Schema: rs.Name, Field: f.Name, Err: fmt.Errorf("key field %s is not declared", f.KeyField)}
			}
			if key.Kind != KindString && key.Kind != KindBlob {
				return &SchemaError{Schema: rs.Name, Field: f.Name, Err: fmt.Errorf("key field %s must be string or blob", f.KeyField)}
			}
			if key.Priority <= f.Priority {
				return &SchemaError{Schema: rs.Name, Field: f.Name, Err: fmt.Errorf("key field %s must resolve before %s (priority %d <= %d)", key.Name, f.Name, key.Priority, f.Priority)}
			}
		}
	}
	return nil
}

// Resolve returns the flattened schema for a model name
func (r *Registry) Resolve(name string) (*ResolvedSchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rs, ok := r.resolved[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSchemaNotFound, name)
	}
	return rs, nil
}

// Get retrieves the unflattened schema by name
func (r *Registry) Get(name string) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schemas[name]
	return s, ok
}

// List returns the sorted names of all registered schemas
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.resolved))
	for name := range r.resolved {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Concrete returns the resolved schemas that can be instantiated, sorted by name
func (r *Registry) Concrete() []*ResolvedSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ResolvedSchema, 0, len(r.resolved))
	for _, rs := range r.resolved {
		if !rs.Abstract {
			out = append(out, rs)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Descendants returns the names of schemas inheriting from name, sorted
func (r *Registry) Descendants(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for n, rs := range r.resolved {
		if n != name && rs.IsA(name) {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// Exists checks if a schema is registered
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.resolved[name]
	return ok
}

// Count returns the number of registered schemas
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.resolved)
}

// Clear removes all registered schemas (useful for testing)
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.schemas = make(map[string]*Schema)
	r.resolved = make(map[string]*ResolvedSchema)
}
