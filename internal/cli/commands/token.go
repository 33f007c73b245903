package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/strata/internal/cli/ui"
	"github.com/conduit-lang/strata/internal/web/auth"
)

var tokenTTLFlag time.Duration

// NewTokenCommand creates the token command
func NewTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <actor>",
		Short: "Issue an API token for an actor",
		Long: `Issue a bearer token for the HTTP API. The token is signed with
server.jwt_secret and names the actor used for field locks and hooks.`,
		Example: `  # Token valid for a day
  strata token ada --ttl 24h

  # Call the API with it
  curl -H "Authorization: Bearer $(strata token ada)" localhost:3000/schemas`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Server.JWTSecret == "" {
				fmt.Fprint(cmd.ErrOrStderr(), ui.ConfigError("server.jwt_secret is not set",
					[]string{"set STRATA_SERVER_JWT_SECRET"}, flags.noColor))
				return fmt.Errorf("server.jwt_secret is not set")
			}
			token, err := auth.NewAuthService(cfg.Server.JWTSecret, tokenTTLFlag).GenerateToken(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().DurationVar(&tokenTTLFlag, "ttl", 0, "Token lifetime (0 for no expiry)")

	return cmd
}
