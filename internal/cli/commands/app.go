package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/strata/internal/cli/config"
	"github.com/conduit-lang/strata/internal/cli/ui"
	"github.com/conduit-lang/strata/internal/logging"
	"github.com/conduit-lang/strata/internal/orm/schema"
	"github.com/conduit-lang/strata/internal/orm/store"
)

// globalFlags are shared by every command
type globalFlags struct {
	configFile string
	logLevel   string
	noColor    bool
}

var flags globalFlags

// loadConfig reads strata.yml (or --config) and applies --log-level
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(flags.configFile)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Logging.Level, cfg.Logging.Development)
}

// openStore loads config, schemas and the configured backend. The caller
// closes the store and syncs the logger.
func openStore(ctx context.Context) (*store.Store, *config.Config, *zap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	reg, err := store.LoadRegistry(cfg.Store.Schemas)
	if err != nil {
		logger.Sync()
		return nil, nil, nil, err
	}
	s, err := store.Open(ctx, cfg.Store, reg, logger)
	if err != nil {
		logger.Sync()
		return nil, nil, nil, err
	}
	return s, cfg, logger, nil
}

// withStore runs fn against an open store and closes it afterwards
func withStore(cmd *cobra.Command, fn func(ctx context.Context, s *store.Store) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, _, logger, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer s.Close()
	return fn(ctx, s)
}

// resolveModel checks that model is registered and suggests close names
// when it is not
func resolveModel(cmd *cobra.Command, reg *schema.Registry, model string) (*schema.ResolvedSchema, error) {
	rs, err := reg.Resolve(model)
	if err == nil {
		return rs, nil
	}
	if schema.IsNotFound(err) {
		suggestions := ui.FindSimilar(model, reg.List(), nil)
		fmt.Fprint(cmd.ErrOrStderr(), ui.SchemaNotFoundError(model, suggestions, flags.noColor))
	}
	return nil, err
}
