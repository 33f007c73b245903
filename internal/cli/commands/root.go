package commands

import (
	"fmt"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/strata/internal/cli/ui"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = "unknown"
)

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "strata",
		Short: "Schema-driven record storage",
		Long: color.CyanString(`Strata - schema-driven record storage

Strata stores records described by YAML schemas in an embedded file
archive or a relational database, with a cache in front.

Features:
  • Inheritance-aware schemas with relationships
  • Bounded relationship expansion on read
  • Field-level encryption and advisory field locks
  • HTTP API with a websocket change feed`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flags.noColor {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "Config file (default ./strata.yml)")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override logging.level")
	rootCmd.PersistentFlags().BoolVar(&flags.noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(NewSchemaCommand())
	rootCmd.AddCommand(NewRecordCommand())
	rootCmd.AddCommand(NewDBCommand())
	rootCmd.AddCommand(NewServeCommand())
	rootCmd.AddCommand(NewTokenCommand())
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd
}

var versionShort bool

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			if versionShort {
				fmt.Fprintln(out, Version)
				return
			}
			goVersion := GoVersion
			if goVersion == "unknown" {
				goVersion = runtime.Version()
			}
			kv := ui.NewKeyValueTable(out, flags.noColor)
			kv.AddRow("Version", Version)
			kv.AddRow("Commit", GitCommit)
			kv.AddRow("Built", BuildDate)
			kv.AddRow("Go", fmt.Sprintf("%s %s/%s", goVersion, runtime.GOOS, runtime.GOARCH))
			kv.Render()
		},
	}
	cmd.Flags().BoolVarP(&versionShort, "short", "s", false, "Print only the version")
	return cmd
}

// Execute runs the root command and prints a failure to stderr
func Execute() error {
	root := NewRootCommand()
	err := root.Execute()
	if err != nil {
		color.New(color.FgRed, color.Bold).Fprintf(root.ErrOrStderr(), "Error: %v\n", err)
	}
	return err
}
