package query

import (
	"errors"
	"fmt"
	"strings"

	"github.com/conduit-lang/strata/internal/orm/record"
	"github.com/conduit-lang/strata/internal/orm/schema"
)

var (
	// ErrNotQueryable is returned when a predicate or sort uses a non-queryable field
	ErrNotQueryable = errors.New("field is not queryable")

	// ErrInvalidPredicate is returned for malformed predicate values
	ErrInvalidPredicate = errors.New("invalid predicate")
)

// SchemaResolver looks up resolved schemas by model name
type SchemaResolver interface {
	Resolve(name string) (*schema.ResolvedSchema, error)
}

// Node is one schema in the fetch tree
type Node struct {
	Schema *schema.ResolvedSchema

	// Path is the dotted relationship path from the root ("" for the root)
	Path  string
	Depth int

	// Fields are the requested data fields in schema order, relationships included
	Fields []string

	// Support are key fields fetched only so encrypted fields can be opened
	Support []string

	// Branches expand relationship fields into related records
	Branches []*Branch

	// References are requested relationship fields populated with ids only
	References []string
}

// Branch links a relationship field to the node that populates its target
type Branch struct {
	Field *schema.FieldDescriptor
	Node  *Node
}

// Branch returns the branch for a relationship field, or nil
func (n *Node) Branch(field string) *Branch {
	for _, b := range n.Branches {
		if b.Field.Name == field {
			return b
		}
	}
	return nil
}

// FetchFields returns Fields followed by Support
func (n *Node) FetchFields() []string {
	out := make([]string, 0, len(n.Fields)+len(n.Support))
	out = append(out, n.Fields...)
	return append(out, n.Support...)
}

// Condition is a validated predicate with values coerced to the field's kind
type Condition struct {
	Field    *schema.FieldDescriptor
	Operator Operator
	Values   []record.Value
}

// Plan is the bounded fetch tree derived from exactly one Query
type Plan struct {
	Query      *Query
	Root       *Node
	Conditions []Condition
	Sort       SortKey
	Offset     int
	Limit      int
	MaxDepth   int
}

// Model returns the root schema name
func (p *Plan) Model() string {
	return p.Root.Schema.Name
}

// IDLookup returns the id when the plan's only condition is id = n
func (p *Plan) IDLookup() (int64, bool) {
	if len(p.Conditions) != 1 || p.Offset != 0 {
		return 0, false
	}
	c := p.Conditions[0]
	if c.Field.Name != schema.FieldID || c.Operator != OpEqual || len(c.Values) != 1 {
		return 0, false
	}
	return c.Values[0].AsInt(), true
}

// Nodes returns every node in breadth-first order
func (p *Plan) Nodes() []*Node {
	out := []*Node{p.Root}
	for i := 0; i < len(out); i++ {
		for _, b := range out[i].Branches {
			out = append(out, b.Node)
		}
	}
	return out
}

// Planner derives query plans from the schema graph
type Planner struct {
	schemas  SchemaResolver
	maxDepth int
}

// PlannerOption configures a Planner
type PlannerOption func(*Planner)

// WithMaxDepth sets the depth ceiling used when a query sets none
func WithMaxDepth(n int) PlannerOption {
	return func(p *Planner) {
		if n >= 0 {
			p.maxDepth = n
		}
	}
}

// NewPlanner creates a planner over the given schemas
func NewPlanner(schemas SchemaResolver, opts ...PlannerOption) *Planner {
	p := &Planner{schemas: schemas, maxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// pending is a node waiting for expansion during the breadth-first walk
type pending struct {
	node      *Node
	requested []string
	// visited holds the (schema.field) pairs already expanded on this branch
	visited map[string]bool
}

// Plan expands q into a fetch tree.
// Relationship fields are expanded breadth-first; a field becomes
// reference-only when expanding it would exceed the depth ceiling, repeat a
// (schema, field) pair already expanded on the same branch, or reach a schema
// that a shallower branch already expands.
func (p *Planner) Plan(q *Query) (*Plan, error) {
	root, err := p.schemas.Resolve(q.Model)
	if err != nil {
		return nil, err
	}

	maxDepth := p.maxDepth
	if q.MaxDepth > 0 {
		maxDepth = q.MaxDepth
	}

	plan := &Plan{
		Query:    q,
		Root:     &Node{Schema: root},
		Offset:   q.Offset,
		Limit:    q.Limit,
		MaxDepth: maxDepth,
		Sort:     SortKey{Field: schema.FieldID, Direction: Asc},
	}
	if q.Offset < 0 || q.Limit < 0 {
		return nil, fmt.Errorf("%w: offset and limit must not be negative", ErrInvalidPredicate)
	}

	requested := q.Fields
	if len(requested) == 0 {
		requested = root.DefaultFields()
	}

	// schema name -> shallowest depth at which a branch expands it
	expanded := make(map[string]int)
	queue := []pending{{node: plan.Root, requested: requested, visited: map[string]bool{}}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		children, err := p.expand(cur, maxDepth, expanded)
		if err != nil {
			return nil, err
		}
		queue = append(queue, children...)
	}

	for _, pred := range q.Predicates {
		cond, err := buildCondition(root, pred)
		if err != nil {
			return nil, err
		}
		plan.Conditions = append(plan.Conditions, cond)
	}

	if q.Sort != nil {
		f, ok := root.Field(q.Sort.Field)
		if !ok {
			return nil, &record.FieldError{Model: root.Name, Field: q.Sort.Field, Err: record.ErrUnknownField}
		}
		if !f.Queryable() {
			return nil, &record.FieldError{Model: root.Name, Field: f.Name, Err: ErrNotQueryable}
		}
		plan.Sort = *q.Sort
	}
	return plan, nil
}

// expand fills one node's field lists and returns its child nodes
func (p *Planner) expand(cur pending, maxDepth int, expanded map[string]int) ([]pending, error) {
	node := cur.node
	rs := node.Schema

	// group dotted paths by their first segment
	subpaths := make(map[string][]string)
	wanted := make(map[string]bool)
	for _, path := range cur.requested {
		head, rest, nested := strings.Cut(path, ".")
		f, ok := rs.Field(head)
		if !ok {
			return nil, &record.FieldError{Model: rs.Name, Field: joinPath(node.Path, head), Err: record.ErrUnknownField}
		}
		if nested && !f.IsRelationship() {
			return nil, &record.FieldError{Model: rs.Name, Field: joinPath(node.Path, path), Err: fmt.Errorf("%s is not a relationship", head)}
		}
		if f.Identity {
			continue
		}
		wanted[head] = true
		if nested {
			subpaths[head] = append(subpaths[head], rest)
		}
	}

	var children []pending
	for _, f := range rs.DataFields() {
		if !wanted[f.Name] {
			continue
		}
		node.Fields = append(node.Fields, f.Name)
		if !f.IsRelationship() {
			continue
		}

		target, err := p.schemas.Resolve(f.Target)
		if err != nil {
			return nil, err
		}
		pair := rs.Name + "." + f.Name
		childDepth := node.Depth + 1
		// abstract targets have no storage of their own to expand from
		if target.Abstract || childDepth > maxDepth || cur.visited[pair] {
			node.References = append(node.References, f.Name)
			continue
		}
		if d, seen := expanded[target.Name]; seen && d < childDepth {
			node.References = append(node.References, f.Name)
			continue
		}
		if _, seen := expanded[target.Name]; !seen {
			expanded[target.Name] = childDepth
		}

		child := &Node{Schema: target, Path: joinPath(node.Path, f.Name), Depth: childDepth}
		node.Branches = append(node.Branches, &Branch{Field: f, Node: child})

		requested := subpaths[f.Name]
		if len(requested) == 0 {
			requested = target.DefaultFields()
		}
		visited := make(map[string]bool, len(cur.visited)+1)
		for k := range cur.visited {
			visited[k] = true
		}
		visited[pair] = true
		children = append(children, pending{node: child, requested: requested, visited: visited})
	}

	for _, key := range record.KeyFields(rs, node.Fields) {
		if !wanted[key] {
			node.Support = append(node.Support, key)
		}
	}
	return children, nil
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// buildCondition validates a predicate against the root schema and coerces its values
func buildCondition(rs *schema.ResolvedSchema, pred Predicate) (Condition, error) {
	f, ok := rs.Field(pred.Field)
	if !ok {
		return Condition{}, &record.FieldError{Model: rs.Name, Field: pred.Field, Err: record.ErrUnknownField}
	}
	if !f.Queryable() {
		return Condition{}, &record.FieldError{Model: rs.Name, Field: f.Name, Err: ErrNotQueryable}
	}
	cond := Condition{Field: f, Operator: pred.Operator}

	if (pred.Operator == OpLike || pred.Operator == OpILike) && f.Kind != schema.KindString && f.Kind != schema.KindEnum {
		return Condition{}, &record.FieldError{Model: rs.Name, Field: f.Name, Err: fmt.Errorf("%w: %s requires a text field", ErrInvalidPredicate, pred.Operator)}
	}

	var raw []interface{}
	switch arity := pred.Operator.arity(); arity {
	case 0:
		return cond, nil
	case 1:
		raw = []interface{}{pred.Value}
	default:
		list, ok := pred.Value.([]interface{})
		if !ok {
			return Condition{}, &record.FieldError{Model: rs.Name, Field: f.Name, Err: fmt.Errorf("%w: %s requires a list value", ErrInvalidPredicate, pred.Operator)}
		}
		if arity > 0 && len(list) != arity {
			return Condition{}, &record.FieldError{Model: rs.Name, Field: f.Name, Err: fmt.Errorf("%w: %s requires %d values", ErrInvalidPredicate, pred.Operator, arity)}
		}
		raw = list
	}

	// values normalize like stored ones; patterns are matched as raw text,
	// not trimmed or validated as enum members
	desc := *f
	desc.Nullable = false
	desc.MaxLength = 0
	if pred.Operator == OpLike || pred.Operator == OpILike {
		desc.Kind = schema.KindString
		desc.EnumValues = nil
		desc.Trim = false
	}
	for _, x := range raw {
		v, err := record.Coerce(&desc, x)
		if err != nil {
			var ve *record.ValueError
			if errors.As(err, &ve) {
				ve.Model = rs.Name
			}
			return Condition{}, err
		}
		cond.Values = append(cond.Values, v)
	}
	return cond, nil
}
