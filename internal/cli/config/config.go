package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conduit-lang/strata/internal/orm/store"
)

// Config represents the strata configuration
type Config struct {
	Store   store.Config  `mapstructure:"store"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Port      int    `mapstructure:"port"`
	Host      string `mapstructure:"host"`
	APIPrefix string `mapstructure:"api_prefix"`
	// JWTSecret signs and verifies actor tokens; empty disables authentication
	JWTSecret string          `mapstructure:"jwt_secret"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	// Profiling serves pprof to authenticated actors
	Profiling bool `mapstructure:"profiling"`
}

// RateLimitConfig bounds requests per actor; zero Requests disables it
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
	// RedisAddr shares the budget across servers; empty keeps it in process
	RedisAddr string `mapstructure:"redis_addr"`
}

// LoggingConfig represents logger configuration
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// projectFiles are the config file names searched for, in order
var projectFiles = []string{"strata.yml", "strata.yaml"}

func setDefaults(v *viper.Viper) {
	d := store.DefaultConfig()
	for key, value := range map[string]any{
		"store.backend.kind":                       string(d.Backend.Kind),
		"store.backend.file.path":                  d.Backend.File.Path,
		"store.backend.file.packed":                false,
		"store.backend.file.sync_writes":           false,
		"store.backend.database.driver":            d.Backend.Database.Driver,
		"store.backend.database.url":               "",
		"store.backend.database.user":              "",
		"store.backend.database.password":          "",
		"store.backend.database.max_open_conns":    d.Backend.Database.MaxOpenConns,
		"store.backend.database.max_idle_conns":    d.Backend.Database.MaxIdleConns,
		"store.backend.database.conn_max_lifetime": "0s",
		"store.backend.database.tx_timeout":        "0s",
		"store.backend.database.reset_schema":      false,
		"store.cache.kind":                         d.Cache.Kind,
		"store.cache.prefix":                       d.Cache.Prefix,
		"store.cache.redis.addr":                   d.Cache.Redis.Addr,
		"store.cache.redis.password":               "",
		"store.cache.redis.db":                     0,
		"store.schemas.paths":                      d.Schemas.Paths,
		"store.schemas.policy":                     "last_wins",
		"store.master_key":                         "",
		"store.workers":                            d.Workers,

		"server.port":                  3000,
		"server.host":                  "localhost",
		"server.api_prefix":            "",
		"server.jwt_secret":            "",
		"server.rate_limit.requests":   0,
		"server.rate_limit.window":     "1m",
		"server.rate_limit.redis_addr": "",
		"server.profiling":             false,

		"logging.level":       "info",
		"logging.development": false,
	} {
		v.SetDefault(key, value)
	}
}

// Load loads the configuration from strata.yml or strata.yaml in the
// current directory. STRATA_ environment variables override file values,
// for example STRATA_STORE_BACKEND_KIND=database.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile loads the configuration from file, or searches the current
// directory when file is empty
func LoadFile(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("strata")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("STRATA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err != nil && (file != "" || !errors.As(err, &notFound)) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if url := os.Getenv("DATABASE_URL"); url != "" && config.Store.Backend.Database.URL == "" {
		config.Store.Backend.Database.URL = url
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// GetProjectRoot finds the nearest directory holding strata.yml
func GetProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		for _, name := range projectFiles {
			if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
				return dir, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not in a strata project (no strata.yml found)")
		}
		dir = parent
	}
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.Server.APIPrefix != "" {
		if !strings.HasPrefix(cfg.Server.APIPrefix, "/") {
			return fmt.Errorf("server.api_prefix must start with '/', got: %s", cfg.Server.APIPrefix)
		}
		if strings.HasSuffix(cfg.Server.APIPrefix, "/") {
			return fmt.Errorf("server.api_prefix must not end with '/', got: %s", cfg.Server.APIPrefix)
		}
	}
	if cfg.Server.RateLimit.Requests < 0 {
		return fmt.Errorf("server.rate_limit.requests must not be negative, got: %d", cfg.Server.RateLimit.Requests)
	}
	if cfg.Server.RateLimit.Requests > 0 && cfg.Server.RateLimit.Window <= 0 {
		return fmt.Errorf("server.rate_limit.window must be positive")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", cfg.Server.Port)
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got: %s", cfg.Logging.Level)
	}
	return cfg.Store.Validate()
}
