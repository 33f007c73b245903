package query

import (
	"bytes"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/conduit-lang/strata/internal/orm/record"
	"github.com/conduit-lang/strata/internal/orm/schema"
)

// Match reports whether the record satisfies every condition of the plan.
// Backends without a query engine filter with it; absent fields behave as null.
func (p *Plan) Match(r *record.Record) bool {
	for _, c := range p.Conditions {
		if !c.Match(r) {
			return false
		}
	}
	return true
}

// Match evaluates the condition against one record
func (c Condition) Match(r *record.Record) bool {
	v := r.MustGet(c.Field.Name)
	isNull := v.IsAbsent() || v.IsNull()

	switch c.Operator {
	case OpIsNull:
		return isNull
	case OpIsNotNull:
		return !isNull
	}
	if isNull {
		// SQL semantics: comparisons with null are never true
		return false
	}

	switch c.Operator {
	case OpEqual:
		return Compare(v, c.Values[0]) == 0
	case OpNotEqual:
		return Compare(v, c.Values[0]) != 0
	case OpGreaterThan:
		return Compare(v, c.Values[0]) > 0
	case OpGreaterThanOrEqual:
		return Compare(v, c.Values[0]) >= 0
	case OpLessThan:
		return Compare(v, c.Values[0]) < 0
	case OpLessThanOrEqual:
		return Compare(v, c.Values[0]) <= 0
	case OpIn, OpNotIn:
		found := false
		for _, want := range c.Values {
			if Compare(v, want) == 0 {
				found = true
				break
			}
		}
		return found == (c.Operator == OpIn)
	case OpBetween:
		return Compare(v, c.Values[0]) >= 0 && Compare(v, c.Values[1]) <= 0
	case OpLike:
		return likeMatch(v.AsString(), c.Values[0].AsString())
	case OpILike:
		return likeMatch(strings.ToLower(v.AsString()), strings.ToLower(c.Values[0].AsString()))
	default:
		return false
	}
}

// Compare orders two non-null values of the same kind.
// Relationship values compare by referenced id; null sorts first.
func Compare(a, b record.Value) int {
	an := a.IsAbsent() || a.IsNull()
	bn := b.IsAbsent() || b.IsNull()
	switch {
	case an && bn:
		return 0
	case an:
		return -1
	case bn:
		return 1
	}

	switch a.Kind() {
	case schema.KindBool:
		return compareBool(a.AsBool(), b.AsBool())
	case schema.KindInt, schema.KindLong:
		if b.Kind() == schema.KindDouble {
			return compareFloat(float64(a.AsInt()), b.AsFloat())
		}
		return compareInt(a.AsInt(), b.AsInt())
	case schema.KindDouble:
		if b.Kind() == schema.KindInt || b.Kind() == schema.KindLong {
			return compareFloat(a.AsFloat(), float64(b.AsInt()))
		}
		return compareFloat(a.AsFloat(), b.AsFloat())
	case schema.KindString, schema.KindEnum:
		return strings.Compare(a.AsString(), b.AsString())
	case schema.KindTimestamp:
		return a.AsTime().Compare(b.AsTime())
	case schema.KindBlob:
		return bytes.Compare(a.AsBytes(), b.AsBytes())
	case schema.KindModel:
		return compareInt(a.AsForeign().ID(), b.AsForeign().ID())
	default:
		return strings.Compare(a.String(), b.String())
	}
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// likeMatch implements SQL LIKE with % (any run) and _ (one character)
func likeMatch(s, pattern string) bool {
	for len(pattern) > 0 {
		r, size := utf8.DecodeRuneInString(pattern)
		switch r {
		case '%':
			rest := strings.TrimLeft(pattern, "%")
			if rest == "" {
				return true
			}
			for i := 0; i <= len(s); {
				if likeMatch(s[i:], rest) {
					return true
				}
				if i == len(s) {
					break
				}
				_, n := utf8.DecodeRuneInString(s[i:])
				i += n
			}
			return false
		case '_':
			if s == "" {
				return false
			}
			_, n := utf8.DecodeRuneInString(s)
			s = s[n:]
		default:
			if !strings.HasPrefix(s, string(r)) {
				return false
			}
			s = s[len(string(r)):]
		}
		pattern = pattern[size:]
	}
	return s == ""
}

// Apply sorts, offsets and limits records the way the plan asks
func (p *Plan) Apply(records []*record.Record) []*record.Record {
	key := p.Sort
	sort.SliceStable(records, func(i, j int) bool {
		c := Compare(records[i].MustGet(key.Field), records[j].MustGet(key.Field))
		if c == 0 && key.Field != schema.FieldID {
			c = compareInt(records[i].ID(), records[j].ID())
		}
		if key.Direction == Desc {
			return c > 0
		}
		return c < 0
	})

	if p.Offset > 0 {
		if p.Offset >= len(records) {
			return nil
		}
		records = records[p.Offset:]
	}
	if p.Limit > 0 && len(records) > p.Limit {
		records = records[:p.Limit]
	}
	return records
}
