package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/strata/internal/cli/config"
	"github.com/conduit-lang/strata/internal/web/api"
	"github.com/conduit-lang/strata/internal/web/auth"
	"github.com/conduit-lang/strata/internal/web/ratelimit"
	"github.com/conduit-lang/strata/internal/web/server"
	"github.com/conduit-lang/strata/internal/web/websocket"
)

var servePortFlag int

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the record API, the websocket change feed at /feed and Prometheus
metrics at /metrics.

Requests are authenticated with bearer tokens when server.jwt_secret is
set (see "strata token"); otherwise the acting user is read from the
X-Actor header.`,
		Example: `  # Serve on the configured port
  strata serve

  # Serve on port 8080
  strata serve --port 8080`,
		RunE: runServe,
	}

	cmd.Flags().IntVarP(&servePortFlag, "port", "p", 0, "Override server.port")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, cfg, logger, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if servePortFlag != 0 {
		cfg.Server.Port = servePortFlag
	}

	hub := websocket.NewHub(ctx, logger)
	go hub.Run()

	opts := []api.Option{
		api.WithLogger(logger),
		api.WithFeed(hub),
		api.WithPrefix(cfg.Server.APIPrefix),
	}
	if cfg.Server.JWTSecret != "" {
		opts = append(opts, api.WithAuth(auth.NewAuthService(cfg.Server.JWTSecret, 0)))
	} else {
		logger.Warn("server.jwt_secret not set, trusting the X-Actor header")
	}
	if cfg.Server.Profiling {
		opts = append(opts, api.WithProfiling())
	}
	limiter, closeLimiter, err := newLimiter(cfg.Server.RateLimit)
	if err != nil {
		s.Close()
		return err
	}
	if limiter != nil {
		opts = append(opts, api.WithRateLimit(limiter))
	}

	srv, err := server.New(server.DefaultConfig(cfg.Server.Addr(), api.New(s, opts...).Handler()), logger)
	if err != nil {
		closeLimiter()
		s.Close()
		return fmt.Errorf("create server: %w", err)
	}
	srv.OnShutdown(func(context.Context) error {
		hub.Shutdown()
		return nil
	})
	srv.OnShutdown(func(context.Context) error {
		return closeLimiter()
	})
	srv.OnShutdown(func(context.Context) error {
		return s.Close()
	})

	logger.Info("serving",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("prefix", cfg.Server.APIPrefix),
		zap.Int("schemas", s.Registry().Count()),
	)
	return srv.Run(ctx)
}

// newLimiter builds the per-actor limiter: redis when an address is set,
// in process otherwise. A zero request budget disables limiting.
func newLimiter(cfg config.RateLimitConfig) (ratelimit.Limiter, func() error, error) {
	noop := func() error { return nil }
	if cfg.Requests == 0 {
		return nil, noop, nil
	}
	if cfg.RedisAddr == "" {
		tb := ratelimit.NewTokenBucket(cfg.Requests, cfg.Window)
		return tb, tb.Close, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	l, err := ratelimit.NewRedisLimiter(client, cfg.Requests, cfg.Window, "strata:ratelimit:")
	if err != nil {
		client.Close()
		return nil, noop, err
	}
	return l, client.Close, nil
}
