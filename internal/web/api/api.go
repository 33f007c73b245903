// Package api exposes a store over HTTP: schema listing, record CRUD, field
// locks, relationship links, a websocket change feed and prometheus metrics.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/conduit-lang/strata/internal/orm/record"
	"github.com/conduit-lang/strata/internal/orm/store"
	"github.com/conduit-lang/strata/internal/web/auth"
	"github.com/conduit-lang/strata/internal/web/middleware"
	"github.com/conduit-lang/strata/internal/web/profiling"
	"github.com/conduit-lang/strata/internal/web/ratelimit"
	"github.com/conduit-lang/strata/internal/web/response"
	"github.com/conduit-lang/strata/internal/web/websocket"
)

// ActorHeader names the acting user when authentication is disabled
const ActorHeader = "X-Actor"

// API serves a store over HTTP
type API struct {
	store  *store.Store
	hub    *websocket.Hub
	auth   *auth.AuthService
	logger *zap.Logger
	prefix string
	mode   record.Mode

	limiter   ratelimit.Limiter
	profiling bool
}

// Option configures an API
type Option func(*API)

// WithLogger sets the request and feed logger
func WithLogger(l *zap.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithAuth requires bearer tokens signed by svc. Without it the actor is
// taken from the X-Actor header.
func WithAuth(svc *auth.AuthService) Option {
	return func(a *API) {
		a.auth = svc
	}
}

// WithFeed publishes store changes to hub and serves it on /feed. The
// caller runs and shuts down the hub.
func WithFeed(hub *websocket.Hub) Option {
	return func(a *API) {
		a.hub = hub
	}
}

// WithPrefix mounts every route under prefix, for example "/api"
func WithPrefix(prefix string) Option {
	return func(a *API) {
		a.prefix = prefix
	}
}

// WithMode sets the serialization mode used when a request names none
func WithMode(m record.Mode) Option {
	return func(a *API) {
		a.mode = m
	}
}

// WithRateLimit limits each actor's requests with l. Anonymous requests
// are not limited.
func WithRateLimit(l ratelimit.Limiter) Option {
	return func(a *API) {
		a.limiter = l
	}
}

// WithProfiling serves pprof under /debug/pprof to authenticated actors
func WithProfiling() Option {
	return func(a *API) {
		a.profiling = true
	}
}

// New creates an API over s
func New(s *store.Store, opts ...Option) *API {
	a := &API{
		store:  s,
		logger: zap.NewNop(),
		mode:   record.ModeForeign,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.hub != nil {
		a.publishChanges()
	}
	return a
}

// Handler returns the routed HTTP handler
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.NotFound(response.NotFound)
	r.MethodNotAllowed(response.MethodNotAllowed)
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(a.logger, "/health", "/metrics"))
	r.Use(middleware.Recovery(a.logger))
	r.Use(instrument)

	r.Get("/health", a.health)
	r.Handle("/metrics", promhttp.Handler())
	if a.hub != nil {
		cfg := websocket.DefaultConfig()
		if a.auth != nil {
			cfg.Authenticate = a.auth.ValidateToken
		}
		r.Handle("/feed", websocket.NewUpgrader(cfg, a.hub))
	}

	r.Group(func(r chi.Router) {
		if a.auth != nil {
			r.Use(middleware.Auth(a.auth))
		} else {
			r.Use(actorFromHeader)
		}
		if a.limiter != nil {
			r.Use(ratelimit.Middleware(a.limiter, actorKey, a.logger))
		}
		if a.profiling {
			r.Mount(profiling.Path, profiling.Routes())
		}

		r.Get("/schemas", a.listSchemas)
		r.Get("/schemas/{model}", a.showSchema)

		r.Post("/import", a.importRecord)

		r.Route("/records/{model}", func(r chi.Router) {
			r.Get("/", a.searchRecords)
			r.Post("/", a.createRecord)
			r.Delete("/", a.deleteRecords)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.showRecord)
				r.Patch("/", a.patchRecord)
				r.Delete("/", a.deleteRecord)

				r.Get("/locks", a.listLocks)
				r.Put("/locks/{field}", a.lockField)
				r.Delete("/locks/{field}", a.unlockField)

				r.Get("/links/{relation}", a.listMembers)
				r.Put("/links/{relation}", a.link)
				r.Get("/links/{relation}/{target}/{targetID}", a.isLinked)
			})
		})
	})

	if a.prefix == "" {
		return r
	}
	root := chi.NewRouter()
	root.Mount(a.prefix, r)
	return root
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Write([]byte(`{"status":"ok"}`))
}

func actorKey(r *http.Request) string {
	return store.ActorFrom(r.Context())
}

// actorFromHeader stores the X-Actor header as the request actor
func actorFromHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor := r.Header.Get(ActorHeader); actor != "" {
			r = r.WithContext(store.WithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}
