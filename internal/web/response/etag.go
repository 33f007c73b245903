package response

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// ETag returns a strong entity tag for body
func ETag(body []byte) string {
	sum := sha256.Sum256(body)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

// parseIfNoneMatch splits an If-None-Match header into its tags
func parseIfNoneMatch(header string) []string {
	var tags []string
	for _, part := range strings.Split(header, ",") {
		if tag := strings.TrimSpace(part); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// NotModified reports whether the request's If-None-Match matches etag.
// Comparison is weak: W/ prefixes are ignored.
func NotModified(r *http.Request, etag string) bool {
	header := r.Header.Get("If-None-Match")
	if header == "" {
		return false
	}
	want := strings.TrimPrefix(etag, "W/")
	for _, tag := range parseIfNoneMatch(header) {
		if tag == "*" || strings.TrimPrefix(tag, "W/") == want {
			return true
		}
	}
	return false
}

// RawCached writes a JSON document with its ETag, or 304 when the client
// already holds it
func RawCached(w http.ResponseWriter, r *http.Request, body []byte) {
	etag := ETag(body)
	w.Header().Set("ETag", etag)
	if NotModified(r, etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	Raw(w, http.StatusOK, body)
}
