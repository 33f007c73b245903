// Package query translates HTTP query parameters into store queries.
package query

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	ormquery "github.com/conduit-lang/strata/internal/orm/query"
)

// filterPattern matches query parameters like filter[key] and filter[key][op]
var filterPattern = regexp.MustCompile(`^filter\[([^\]]+)\](?:\[([^\]]+)\])?$`)

// MaxLimit caps page sizes requested through limit
const MaxLimit = 1000

// splitList splits a comma separated value, dropping blanks
func splitList(s string) []string {
	if s == "" {
		return []string{}
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// ParseFields parses the fields query parameter.
// Example: ?fields=title,author.name returns ["title", "author.name"]
func ParseFields(r *http.Request) []string {
	return splitList(r.URL.Query().Get("fields"))
}

// ParseFilter parses filter parameters into predicates.
// Example: ?filter[status]=published&filter[score][gte]=10
// A bare filter[key] is an equality test. in, nin and between take comma
// separated values; null and notnull ignore the value.
func ParseFilter(r *http.Request) ([]ormquery.Predicate, error) {
	var preds []ormquery.Predicate

	for key, values := range r.URL.Query() {
		matches := filterPattern.FindStringSubmatch(key)
		if matches == nil || len(values) == 0 {
			continue
		}

		field, opName, value := matches[1], matches[2], values[0]
		if opName == "" {
			opName = "eq"
		}
		op, err := ormquery.ParseOperator(opName)
		if err != nil {
			return nil, fmt.Errorf("filter[%s]: %w", field, err)
		}

		pred := ormquery.Predicate{Field: field, Operator: op}
		switch op {
		case ormquery.OpIsNull, ormquery.OpIsNotNull:
		case ormquery.OpIn, ormquery.OpNotIn, ormquery.OpBetween:
			list := splitList(value)
			items := make([]interface{}, len(list))
			for i, v := range list {
				items[i] = v
			}
			pred.Value = items
		default:
			pred.Value = value
		}
		preds = append(preds, pred)
	}

	return preds, nil
}

// ParseSort parses the sort query parameter.
// Example: ?sort=-score sorts by score descending. Only one key is supported.
func ParseSort(r *http.Request) (*ormquery.SortKey, error) {
	keys := splitList(r.URL.Query().Get("sort"))
	switch len(keys) {
	case 0:
		return nil, nil
	case 1:
	default:
		return nil, fmt.Errorf("sort accepts a single field, got %d", len(keys))
	}

	key := keys[0]
	if strings.HasPrefix(key, "-") {
		return &ormquery.SortKey{Field: key[1:], Direction: ormquery.Desc}, nil
	}
	return &ormquery.SortKey{Field: strings.TrimPrefix(key, "+"), Direction: ormquery.Asc}, nil
}

// ParsePage parses the offset and limit parameters
func ParsePage(r *http.Request) (offset, limit int, err error) {
	if offset, err = parseNonNegative(r, "offset"); err != nil {
		return 0, 0, err
	}
	if limit, err = parseNonNegative(r, "limit"); err != nil {
		return 0, 0, err
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return offset, limit, nil
}

func parseNonNegative(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", name, raw)
	}
	return n, nil
}

// Parse builds a query against model from the request's fields, filter,
// sort, offset, limit and depth parameters
func Parse(r *http.Request, model string) (*ormquery.Query, error) {
	q := ormquery.New(model).Select(ParseFields(r)...)

	preds, err := ParseFilter(r)
	if err != nil {
		return nil, err
	}
	q.Where(preds...)

	if q.Sort, err = ParseSort(r); err != nil {
		return nil, err
	}
	if q.Offset, q.Limit, err = ParsePage(r); err != nil {
		return nil, err
	}
	if raw := r.URL.Query().Get("depth"); raw != "" {
		depth, err := strconv.Atoi(raw)
		if err != nil || depth < 1 {
			return nil, fmt.Errorf("depth must be a positive integer, got %q", raw)
		}
		q.Depth(depth)
	}
	return q, nil
}
