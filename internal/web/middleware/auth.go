// Package middleware holds the HTTP middleware of the strata API
package middleware

import (
	"net/http"
	"strings"

	"github.com/conduit-lang/strata/internal/orm/store"
	"github.com/conduit-lang/strata/internal/web/auth"
	"github.com/conduit-lang/strata/internal/web/response"
)

// Middleware wraps an http.Handler
type Middleware func(http.Handler) http.Handler

// Auth requires a valid bearer token on every path but skipPaths and stores
// the token subject as the request actor. A nil service accepts every
// request anonymously.
func Auth(service *auth.AuthService, skipPaths ...string) Middleware {
	return func(next http.Handler) http.Handler {
		if service == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, p := range skipPaths {
				if r.URL.Path == p {
					next.ServeHTTP(w, r)
					return
				}
			}
			token, ok := bearer(r)
			if !ok {
				response.RenderError(w, http.StatusUnauthorized, "a bearer token is required", nil)
				return
			}
			actor, err := service.ValidateToken(token)
			if err != nil {
				response.RenderError(w, http.StatusUnauthorized, "invalid token", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(store.WithActor(r.Context(), actor)))
		})
	}
}

func bearer(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}
