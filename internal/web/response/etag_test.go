package response

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestETag(t *testing.T) {
	a := ETag([]byte(`{"id":1}`))
	assert.Equal(t, a, ETag([]byte(`{"id":1}`)))
	assert.NotEqual(t, a, ETag([]byte(`{"id":2}`)))
	assert.Len(t, a, 34)
}

func TestNotModified(t *testing.T) {
	etag := ETag([]byte("doc"))
	tests := []struct {
		name   string
		header string
		want   bool
	}{
		{"absent", "", false},
		{"exact", etag, true},
		{"weak", "W/" + etag, true},
		{"list", `"other", ` + etag, true},
		{"star", "*", true},
		{"different", `"other"`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("If-None-Match", tt.header)
			}
			assert.Equal(t, tt.want, NotModified(r, etag))
		})
	}
}

func TestRawCached(t *testing.T) {
	body := []byte(`{"$model":"post","id":1}`)

	w := httptest.NewRecorder()
	RawCached(w, httptest.NewRequest(http.MethodGet, "/", nil), body)
	assert.Equal(t, http.StatusOK, w.Code)
	etag := w.Header().Get("ETag")
	assert.NotEmpty(t, etag)
	assert.Equal(t, string(body), w.Body.String())

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("If-None-Match", etag)
	w = httptest.NewRecorder()
	RawCached(w, r, body)
	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Empty(t, w.Body.String())
}
