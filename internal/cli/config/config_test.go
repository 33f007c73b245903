package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/strata/internal/orm/backend"
)

// inProject moves the test into a fresh directory holding strata.yml with
// content, or no config file at all when content is empty.
func inProject(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("DATABASE_URL", "")

	if content != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "strata.yml"), []byte(content), 0o644))
	}
	return dir
}

func TestLoadDefaults(t *testing.T) {
	inProject(t, "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost:3000", cfg.Server.Addr())
	assert.Equal(t, backend.KindFile, cfg.Store.Backend.Kind)
	assert.Equal(t, "data", cfg.Store.Backend.File.Path)
	assert.Equal(t, "memory", cfg.Store.Cache.Kind)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, time.Minute, cfg.Server.RateLimit.Window)
	assert.Zero(t, cfg.Server.RateLimit.Requests)
	assert.False(t, cfg.Server.Profiling)
}

func TestLoadFromFile(t *testing.T) {
	inProject(t, `
server:
  port: 8080
  host: 0.0.0.0
  jwt_secret: s3cret
  profiling: true
  rate_limit:
    requests: 30
    window: 10s
    redis_addr: localhost:6379
store:
  backend:
    kind: database
    database:
      driver: sqlite
      url: app.db
      tx_timeout: 5s
      reset_schema: true
  cache:
    kind: none
  schemas:
    paths: [defs, more/post.yml]
    policy: strict
  master_key: k
logging:
  level: debug
`)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "s3cret", cfg.Server.JWTSecret)
	assert.True(t, cfg.Server.Profiling)
	assert.Equal(t, RateLimitConfig{Requests: 30, Window: 10 * time.Second, RedisAddr: "localhost:6379"}, cfg.Server.RateLimit)

	db := cfg.Store.Backend.Database
	assert.Equal(t, backend.KindDatabase, cfg.Store.Backend.Kind)
	assert.Equal(t, "sqlite", db.Driver)
	assert.Equal(t, "app.db", db.URL)
	assert.Equal(t, 5*time.Second, db.TxTimeout)
	assert.True(t, db.ResetSchema)

	assert.Equal(t, []string{"defs", "more/post.yml"}, cfg.Store.Schemas.Paths)
	assert.Equal(t, "strict", string(cfg.Store.Schemas.Policy))
	assert.Equal(t, "k", cfg.Store.MasterKey)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestEnvironmentOverrides(t *testing.T) {
	inProject(t, "server:\n  port: 4000\n")
	t.Setenv("STRATA_SERVER_PORT", "9090")
	t.Setenv("STRATA_STORE_BACKEND_KIND", "database")
	t.Setenv("DATABASE_URL", "postgresql://env/testdb")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgresql://env/testdb", cfg.Store.Backend.Database.URL)
}

func TestValidation(t *testing.T) {
	cases := map[string]string{
		"bad prefix":   "server:\n  api_prefix: api\n",
		"slash prefix": "server:\n  api_prefix: /api/\n",
		"bad kind":     "store:\n  backend:\n    kind: tape\n",
		"missing url":  "store:\n  backend:\n    kind: database\n",
		"bad cache":    "store:\n  cache:\n    kind: disk\n",
		"bad policy":   "store:\n  schemas:\n    policy: random\n",
		"bad level":    "logging:\n  level: loud\n",
		"bad port":     "server:\n  port: 70000\n",
		"bad driver":   "store:\n  backend:\n    kind: database\n    database:\n      url: x\n      driver: oracle\n",
		"missing path": "store:\n  backend:\n    file:\n      path: \"\"\n",
		"neg limit":    "server:\n  rate_limit:\n    requests: -1\n",
		"zero window":  "server:\n  rate_limit:\n    requests: 5\n    window: 0s\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			inProject(t, content)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := inProject(t, "")

	_, err := LoadFile("nope.yml")
	assert.Error(t, err, "an explicit file must exist")

	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 5555\n"), 0o644))
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 5555, cfg.Server.Port)
}

func TestGetProjectRoot(t *testing.T) {
	t.Run("found from a nested directory", func(t *testing.T) {
		root := inProject(t, "logging:\n  level: warn\n")
		nested := filepath.Join(root, "schemas", "blog")
		require.NoError(t, os.MkdirAll(nested, 0o755))
		require.NoError(t, os.Chdir(nested))

		got, err := GetProjectRoot()
		require.NoError(t, err)

		want, _ := filepath.EvalSymlinks(root)
		got, _ = filepath.EvalSymlinks(got)
		assert.Equal(t, want, got)
	})

	t.Run("outside a project", func(t *testing.T) {
		inProject(t, "")
		_, err := GetProjectRoot()
		assert.Error(t, err)
	})
}
