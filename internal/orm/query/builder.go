package query

import (
	"strings"
)

// Direction is a sort direction
type Direction int

const (
	Asc Direction = iota
	Desc
)

// String returns the SQL keyword for the direction
func (d Direction) String() string {
	if d == Desc {
		return "DESC"
	}
	return "ASC"
}

// ParseDirection converts "asc"/"desc" (any case) to a Direction
func ParseDirection(s string) Direction {
	if strings.EqualFold(strings.TrimSpace(s), "desc") {
		return Desc
	}
	return Asc
}

// SortKey orders query results by one field
type SortKey struct {
	Field     string
	Direction Direction
}

// DefaultMaxDepth bounds relationship expansion when a query does not set one
const DefaultMaxDepth = 3

// Query is a declarative request against one registered schema.
// Fields may use dotted paths ("author.name") to request fields of related
// records; an empty Fields list requests the schema's default set.
type Query struct {
	Model      string
	Predicates []Predicate
	Sort       *SortKey
	Offset     int
	Limit      int
	Fields     []string
	MaxDepth   int
}

// New starts a query against model
func New(model string) *Query {
	return &Query{Model: model}
}

// ByID returns a query matching a single record id
func ByID(model string, id int64, fields ...string) *Query {
	return New(model).Where(Eq("id", id)).Select(fields...).Take(1)
}

// Where appends predicates; all predicates must match
func (q *Query) Where(preds ...Predicate) *Query {
	q.Predicates = append(q.Predicates, preds...)
	return q
}

// Select sets the requested fields
func (q *Query) Select(fields ...string) *Query {
	q.Fields = append(q.Fields, fields...)
	return q
}

// OrderBy sets the sort key
func (q *Query) OrderBy(field string, dir Direction) *Query {
	q.Sort = &SortKey{Field: field, Direction: dir}
	return q
}

// Skip sets the number of records to skip
func (q *Query) Skip(n int) *Query {
	q.Offset = n
	return q
}

// Take sets the maximum number of records returned; 0 means no limit
func (q *Query) Take(n int) *Query {
	q.Limit = n
	return q
}

// Depth sets the maximum relationship expansion depth
func (q *Query) Depth(n int) *Query {
	q.MaxDepth = n
	return q
}

// Clone returns a copy of the query that can be modified independently
func (q *Query) Clone() *Query {
	out := *q
	out.Predicates = append([]Predicate(nil), q.Predicates...)
	out.Fields = append([]string(nil), q.Fields...)
	if q.Sort != nil {
		s := *q.Sort
		out.Sort = &s
	}
	return &out
}
