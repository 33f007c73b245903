package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type failing struct{}

func (failing) Allow(context.Context, string) (*Info, error) {
	return nil, errors.New("down")
}

func byHeader(r *http.Request) string { return r.Header.Get("X-Actor") }

func serve(h http.Handler, actor string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/records/post/", nil)
	if actor != "" {
		req.Header.Set("X-Actor", actor)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware(t *testing.T) {
	tb := NewTokenBucket(1, time.Minute)
	defer tb.Close()
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := Middleware(tb, byHeader, nil)(ok)

	rec := serve(h, "ada")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = serve(h, "ada")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate_limited")

	// anonymous requests are not limited
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusNoContent, serve(h, "").Code)
	}
}

func TestMiddlewareFailsOpen(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := Middleware(failing{}, byHeader, zap.New(core))(ok)

	assert.Equal(t, http.StatusNoContent, serve(h, "ada").Code)
	assert.Equal(t, 1, logs.FilterMessage("rate limit check failed").Len())
}
