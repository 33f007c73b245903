// Package query provides predicates, the declarative Query and the planner
// that expands a Query into a bounded fetch tree.
package query

import (
	"fmt"
	"strings"
)

// Operator represents a comparison operator
type Operator int

const (
	OpEqual Operator = iota
	OpNotEqual
	OpGreaterThan
	OpGreaterThanOrEqual
	OpLessThan
	OpLessThanOrEqual
	OpIn
	OpNotIn
	OpLike
	OpILike
	OpIsNull
	OpIsNotNull
	OpBetween
)

type opInfo struct {
	symbol  string
	aliases []string
	// arity is the number of values taken; -1 means one or more
	arity int
}

var operators = [...]opInfo{
	OpEqual:              {"=", []string{"==", "EQ"}, 1},
	OpNotEqual:           {"!=", []string{"<>", "NE"}, 1},
	OpGreaterThan:        {">", []string{"GT"}, 1},
	OpGreaterThanOrEqual: {">=", []string{"GTE"}, 1},
	OpLessThan:           {"<", []string{"LT"}, 1},
	OpLessThanOrEqual:    {"<=", []string{"LTE"}, 1},
	OpIn:                 {"IN", nil, -1},
	OpNotIn:              {"NOT IN", []string{"NIN"}, -1},
	OpLike:               {"LIKE", nil, 1},
	OpILike:              {"ILIKE", nil, 1},
	OpIsNull:             {"IS NULL", []string{"NULL"}, 0},
	OpIsNotNull:          {"IS NOT NULL", []string{"NOTNULL"}, 0},
	OpBetween:            {"BETWEEN", nil, 2},
}

var operatorsBySymbol = func() map[string]Operator {
	m := make(map[string]Operator)
	for op, info := range operators {
		m[info.symbol] = Operator(op)
		for _, a := range info.aliases {
			m[a] = Operator(op)
		}
	}
	return m
}()

func (o Operator) String() string {
	if o < 0 || int(o) >= len(operators) {
		return "UNKNOWN"
	}
	return operators[o].symbol
}

// ParseOperator converts an operator string such as ">=", "gte" or "not in"
func ParseOperator(s string) (Operator, error) {
	key := strings.Join(strings.Fields(strings.ToUpper(s)), " ")
	if op, ok := operatorsBySymbol[key]; ok {
		return op, nil
	}
	return 0, fmt.Errorf("unknown operator: %s", s)
}

func (o Operator) arity() int {
	if o < 0 || int(o) >= len(operators) {
		return 1
	}
	return operators[o].arity
}

// Predicate is one (field, operator, value) filter on the query's target schema.
// In, NotIn and Between take a []interface{} value.
type Predicate struct {
	Field    string
	Operator Operator
	Value    interface{}
}

// String returns a readable form of the predicate
func (p Predicate) String() string {
	switch p.Operator.arity() {
	case 0:
		return fmt.Sprintf("%s %s", p.Field, p.Operator)
	default:
		return fmt.Sprintf("%s %s %v", p.Field, p.Operator, p.Value)
	}
}

// Eq builds an equality predicate
func Eq(field string, value interface{}) Predicate {
	return Predicate{Field: field, Operator: OpEqual, Value: value}
}

// NotEq builds an inequality predicate
func NotEq(field string, value interface{}) Predicate {
	return Predicate{Field: field, Operator: OpNotEqual, Value: value}
}

// Gt builds a greater-than predicate
func Gt(field string, value interface{}) Predicate {
	return Predicate{Field: field, Operator: OpGreaterThan, Value: value}
}

// Gte builds a greater-or-equal predicate
func Gte(field string, value interface{}) Predicate {
	return Predicate{Field: field, Operator: OpGreaterThanOrEqual, Value: value}
}

// Lt builds a less-than predicate
func Lt(field string, value interface{}) Predicate {
	return Predicate{Field: field, Operator: OpLessThan, Value: value}
}

// Lte builds a less-or-equal predicate
func Lte(field string, value interface{}) Predicate {
	return Predicate{Field: field, Operator: OpLessThanOrEqual, Value: value}
}

// In builds a membership predicate
func In(field string, values ...interface{}) Predicate {
	return Predicate{Field: field, Operator: OpIn, Value: values}
}

// NotIn builds a negated membership predicate
func NotIn(field string, values ...interface{}) Predicate {
	return Predicate{Field: field, Operator: OpNotIn, Value: values}
}

// Like builds a pattern predicate using % and _ wildcards
func Like(field, pattern string) Predicate {
	return Predicate{Field: field, Operator: OpLike, Value: pattern}
}

// ILike builds a case-insensitive pattern predicate
func ILike(field, pattern string) Predicate {
	return Predicate{Field: field, Operator: OpILike, Value: pattern}
}

// IsNull builds a null check
func IsNull(field string) Predicate {
	return Predicate{Field: field, Operator: OpIsNull}
}

// IsNotNull builds a not-null check
func IsNotNull(field string) Predicate {
	return Predicate{Field: field, Operator: OpIsNotNull}
}

// Between builds an inclusive range predicate
func Between(field string, min, max interface{}) Predicate {
	return Predicate{Field: field, Operator: OpBetween, Value: []interface{}{min, max}}
}
