package query

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ormquery "github.com/conduit-lang/strata/internal/orm/query"
)

func get(target string) *http.Request {
	return httptest.NewRequest(http.MethodGet, "/records/post"+target, nil)
}

func TestParseFields(t *testing.T) {
	cases := map[string][]string{
		"":                           {},
		"?fields=title":              {"title"},
		"?fields=title,author.name":  {"title", "author.name"},
		"?fields=title,%20body%20,x": {"title", "body", "x"},
		"?fields=title,,body":        {"title", "body"},
	}
	for query, want := range cases {
		assert.Equal(t, want, ParseFields(get(query)), query)
	}
}

func TestParseFilter(t *testing.T) {
	t.Run("operators", func(t *testing.T) {
		cases := []struct {
			query string
			want  []ormquery.Predicate
		}{
			{"", nil},
			{"?filters=x&status=draft", nil},
			{"?filter[status]=published", []ormquery.Predicate{ormquery.Eq("status", "published")}},
			{"?filter[score][gte]=10", []ormquery.Predicate{ormquery.Gte("score", "10")}},
			{"?filter[status][in]=draft,published", []ormquery.Predicate{
				{Field: "status", Operator: ormquery.OpIn, Value: []interface{}{"draft", "published"}},
			}},
			{"?filter[body][null]=1", []ormquery.Predicate{{Field: "body", Operator: ormquery.OpIsNull}}},
		}
		for _, tc := range cases {
			got, err := ParseFilter(get(tc.query))
			require.NoError(t, err, tc.query)
			assert.Equal(t, tc.want, got, tc.query)
		}
	})

	t.Run("unknown operator", func(t *testing.T) {
		_, err := ParseFilter(get("?filter[score][near]=3"))
		assert.Error(t, err)
	})
}

func TestParseSort(t *testing.T) {
	key, err := ParseSort(get(""))
	require.NoError(t, err)
	assert.Nil(t, key)

	key, err = ParseSort(get("?sort=title"))
	require.NoError(t, err)
	assert.Equal(t, &ormquery.SortKey{Field: "title"}, key)

	key, err = ParseSort(get("?sort=-score"))
	require.NoError(t, err)
	assert.Equal(t, &ormquery.SortKey{Field: "score", Direction: ormquery.Desc}, key)

	_, err = ParseSort(get("?sort=title,-score"))
	assert.Error(t, err, "only one sort key is accepted")
}

func TestParsePage(t *testing.T) {
	offset, limit, err := ParsePage(get("?offset=20&limit=5000"))
	require.NoError(t, err)
	assert.Equal(t, 20, offset)
	assert.Equal(t, MaxLimit, limit, "limit is capped")

	_, _, err = ParsePage(get("?offset=-1"))
	assert.Error(t, err)
}

func TestParse(t *testing.T) {
	q, err := Parse(get("?fields=title,score&filter[status]=draft&filter[score][gt]=3&sort=-score&offset=1&limit=2&depth=1"), "post")
	require.NoError(t, err)

	assert.Equal(t, "post", q.Model)
	assert.Equal(t, []string{"title", "score"}, q.Fields)
	require.Len(t, q.Predicates, 2)
	assert.ElementsMatch(t, []string{"score", "status"}, []string{q.Predicates[0].Field, q.Predicates[1].Field})
	assert.Equal(t, &ormquery.SortKey{Field: "score", Direction: ormquery.Desc}, q.Sort)
	assert.Equal(t, 1, q.Offset)
	assert.Equal(t, 2, q.Limit)
	assert.Equal(t, 1, q.MaxDepth)

	_, err = Parse(get("?depth=0"), "post")
	assert.Error(t, err, "depth must be positive")
}
