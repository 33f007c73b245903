package store

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/strata/internal/orm/backend"
	"github.com/conduit-lang/strata/internal/orm/backend/archive"
	"github.com/conduit-lang/strata/internal/orm/backend/relational"
	"github.com/conduit-lang/strata/internal/orm/cache"
	"github.com/conduit-lang/strata/internal/orm/crypto"
	"github.com/conduit-lang/strata/internal/orm/hooks"
	"github.com/conduit-lang/strata/internal/orm/schema"
)

// Config describes how Open builds a store
type Config struct {
	Backend   BackendConfig `mapstructure:"backend"`
	Cache     CacheConfig   `mapstructure:"cache"`
	Schemas   SchemaConfig  `mapstructure:"schemas"`
	MasterKey string        `mapstructure:"master_key"`
	// Workers is the number of async hook workers
	Workers int `mapstructure:"workers"`
}

// BackendConfig selects and configures the storage backend
type BackendConfig struct {
	Kind     backend.Kind   `mapstructure:"kind"`
	File     FileConfig     `mapstructure:"file"`
	Database DatabaseConfig `mapstructure:"database"`
}

// FileConfig configures the archive backend
type FileConfig struct {
	Path       string `mapstructure:"path"`
	Packed     bool   `mapstructure:"packed"`
	SyncWrites bool   `mapstructure:"sync_writes"`
}

// DatabaseConfig configures the relational backend
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	URL             string        `mapstructure:"url"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	TxTimeout       time.Duration `mapstructure:"tx_timeout"`
	// ResetSchema drops and recreates every table on open
	ResetSchema bool `mapstructure:"reset_schema"`
}

// CacheConfig selects the record cache: memory, redis or none
type CacheConfig struct {
	Kind   string      `mapstructure:"kind"`
	Prefix string      `mapstructure:"prefix"`
	Redis  RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds the redis connection settings
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SchemaConfig lists schema sources
type SchemaConfig struct {
	// Paths are schema files or directories, loaded in order
	Paths  []string `mapstructure:"paths"`
	Policy string   `mapstructure:"policy"`
}

// DefaultConfig returns a file-backed store under ./data with a memory cache
func DefaultConfig() Config {
	return Config{
		Backend: BackendConfig{
			Kind: backend.KindFile,
			File: FileConfig{Path: "data"},
			Database: DatabaseConfig{
				Driver:       "postgres",
				MaxOpenConns: 25,
				MaxIdleConns: 5,
			},
		},
		Cache: CacheConfig{
			Kind:   "memory",
			Prefix: cache.DefaultConfig().Prefix,
			Redis:  RedisConfig{Addr: cache.DefaultRedisConfig().Addr},
		},
		Schemas: SchemaConfig{Paths: []string{"schemas"}},
		Workers: 4,
	}
}

// Validate reports configuration errors
func (c Config) Validate() error {
	var errs []string
	switch c.Backend.Kind {
	case backend.KindFile:
		if c.Backend.File.Path == "" {
			errs = append(errs, "backend.file.path is required")
		}
	case backend.KindDatabase:
		if c.Backend.Database.URL == "" {
			errs = append(errs, "backend.database.url is required")
		}
		if _, err := relational.DialectFor(c.Backend.Database.Driver); err != nil {
			errs = append(errs, err.Error())
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown backend kind: %q", c.Backend.Kind))
	}
	switch c.Cache.Kind {
	case "", "none", "memory":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			errs = append(errs, "cache.redis.addr is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown cache kind: %q", c.Cache.Kind))
	}
	if _, err := schema.ParseOverridePolicy(c.Schemas.Policy); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid store configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// LoadRegistry builds a registry from the configured schema sources and
// registers the system schemas
func LoadRegistry(cfg SchemaConfig) (*schema.Registry, error) {
	policy, err := schema.ParseOverridePolicy(cfg.Policy)
	if err != nil {
		return nil, err
	}
	reg := schema.NewRegistry(schema.WithOverridePolicy(policy))
	for _, path := range cfg.Paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read schemas: %w", err)
		}
		if info.IsDir() {
			_, err = reg.LoadDir(path)
		} else {
			_, err = reg.LoadFile(path)
		}
		if err != nil {
			return nil, err
		}
	}
	if err := RegisterSystemSchemas(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// Open builds a store from cfg over reg: backend, cache, cipher and hook
// workers. Storage is reset when reset_schema is set, then migrated.
func Open(ctx context.Context, cfg Config, reg *schema.Registry, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	be, err := openBackend(cfg, reg, logger)
	if err != nil {
		return nil, err
	}

	opts := []Option{WithLogger(logger)}
	if cfg.MasterKey != "" {
		vault, err := crypto.NewVault([]byte(cfg.MasterKey))
		if err != nil {
			be.Close()
			return nil, err
		}
		opts = append(opts, WithCipher(vault))
	}

	queue := hooks.NewAsyncQueue(cfg.Workers, hooks.WithQueueLogger(logger))
	queue.Start()
	opts = append(opts, WithHooks(hooks.NewExecutor(queue, logger)))

	s, err := New(reg, be, opts...)
	if err != nil {
		queue.Shutdown()
		be.Close()
		return nil, err
	}

	if cfg.Backend.Kind == backend.KindDatabase && cfg.Backend.Database.ResetSchema {
		logger.Warn("resetting database schema")
		if err := s.Reset(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to reset schema: %w", err)
		}
	}
	changes, err := s.Migrate(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}
	for _, c := range changes {
		logger.Info("schema change applied",
			zap.String("model", c.Model),
			zap.String("change", c.Type.String()),
			zap.String("field", c.Field))
	}
	return s, nil
}

func openBackend(cfg Config, reg *schema.Registry, logger *zap.Logger) (backend.Backend, error) {
	var (
		be  backend.Backend
		err error
	)
	switch cfg.Backend.Kind {
	case backend.KindDatabase:
		db := cfg.Backend.Database
		be, err = relational.Open(relational.Config{
			Driver:          db.Driver,
			URL:             db.URL,
			User:            db.User,
			Password:        db.Password,
			MaxOpenConns:    db.MaxOpenConns,
			MaxIdleConns:    db.MaxIdleConns,
			ConnMaxLifetime: db.ConnMaxLifetime,
			TxTimeout:       db.TxTimeout,
		}, reg, relational.WithLogger(logger))
	default:
		f := cfg.Backend.File
		be, err = archive.Open(archive.Config{
			Path:       f.Path,
			Packed:     f.Packed,
			SyncWrites: f.SyncWrites,
		}, reg, archive.WithLogger(logger))
	}
	if err != nil {
		return nil, err
	}

	cacheCfg := cache.Config{Prefix: cfg.Cache.Prefix}
	switch cfg.Cache.Kind {
	case "memory":
		return cache.NewBackend(be, cache.NewMemoryCacheWithConfig(cacheCfg), reg, cache.WithLogger(logger)), nil
	case "redis":
		rc, err := cache.NewRedisCache(cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			Config:   cacheCfg,
		}, reg)
		if err != nil {
			be.Close()
			return nil, err
		}
		return cache.NewBackend(be, rc, reg, cache.WithLogger(logger)), nil
	default:
		return be, nil
	}
}
