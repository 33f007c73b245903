package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/strata/internal/cli/ui"
	"github.com/conduit-lang/strata/internal/orm/schema"
	"github.com/conduit-lang/strata/internal/orm/store"
)

// NewSchemaCommand creates the schema command
func NewSchemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect and validate schemas",
		Long: `Inspect and validate the schema documents listed under store.schemas.paths.

Schemas are loaded in order; a later definition of the same name is handled
by store.schemas.policy (last_wins, first_wins or strict).`,
	}

	cmd.AddCommand(newSchemaListCommand())
	cmd.AddCommand(newSchemaShowCommand())
	cmd.AddCommand(newSchemaValidateCommand())

	return cmd
}

// loadSchemas builds the registry from the configured paths, or from paths
// when given
func loadSchemas(paths []string) (*schema.Registry, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	sc := cfg.Store.Schemas
	if len(paths) > 0 {
		sc.Paths = paths
	}
	return store.LoadRegistry(sc)
}

func newSchemaListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered schemas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadSchemas(nil)
			if err != nil {
				return err
			}

			table := ui.NewTable(cmd.OutOrStdout(), []string{"NAME", "GROUP", "INHERITS", "FIELDS", "ABSTRACT"}, &ui.TableOptions{NoColor: flags.noColor})
			for _, name := range reg.List() {
				rs, err := reg.Resolve(name)
				if err != nil {
					return err
				}
				abstract := ""
				if rs.Abstract {
					abstract = "yes"
				}
				table.AddRow(rs.Name, rs.Group, strings.Join(rs.Ancestors, ", "), strconv.Itoa(len(rs.Fields())), abstract)
			}
			table.Render()
			return nil
		},
	}
}

func newSchemaShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <model>",
		Short: "Show the resolved fields of a schema",
		Example: `  # Show a schema with inherited fields
  strata schema show author`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadSchemas(nil)
			if err != nil {
				return err
			}
			rs, err := resolveModel(cmd, reg, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			ui.Header(out, rs.Name, flags.noColor)
			info := ui.NewKeyValueTable(out, flags.noColor)
			if len(rs.Ancestors) > 0 {
				info.AddRow("Inherits", strings.Join(rs.Ancestors, ", "))
			}
			if rs.Group != "" {
				info.AddRow("Group", rs.Group)
			}
			if rs.Version != "" {
				info.AddRow("Version", rs.Version)
			}
			info.AddRow("Common", strings.Join(rs.DefaultFields(), ", "))
			info.Render()
			fmt.Fprintln(out)

			table := ui.NewTable(out, []string{"FIELD", "TYPE", "TARGET", "FLAGS", "FROM"}, &ui.TableOptions{NoColor: flags.noColor})
			for _, f := range rs.Fields() {
				table.AddRow(f.Name, f.TypeName(), f.Target, fieldFlags(f), f.DeclaredBy)
			}
			table.Render()

			if rels := rs.Relationships(); len(rels) > 0 {
				fmt.Fprintln(out)
				section := ui.NewSection(out, "Relationships", flags.noColor)
				for _, f := range rels {
					line := fmt.Sprintf("%s -> %s", f.Name, f.Target)
					if f.Kind == schema.KindList {
						line = fmt.Sprintf("%s -> [%s]", f.Name, f.Target)
					}
					section.AddLine(line)
				}
				section.Render()
			}
			return nil
		},
	}
}

// fieldFlags summarizes the options of a field
func fieldFlags(f *schema.FieldDescriptor) string {
	var out []string
	if f.Identity {
		out = append(out, "identity")
	}
	if f.Nullable {
		out = append(out, "nullable")
	}
	if f.Foreign {
		out = append(out, "foreign")
	}
	if f.Encrypt {
		out = append(out, "encrypt:"+f.Provider)
	}
	if f.Internal {
		out = append(out, "internal")
	}
	if f.MaxLength > 0 && !f.Identity {
		out = append(out, fmt.Sprintf("max:%d", f.MaxLength))
	}
	if len(f.EnumValues) > 0 {
		out = append(out, "enum:"+strings.Join(f.EnumValues, "|"))
	}
	if f.Default != nil {
		out = append(out, fmt.Sprintf("default:%v", f.Default))
	}
	return strings.Join(out, " ")
}

func newSchemaValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [paths...]",
		Short: "Validate schema documents",
		Long: `Load and resolve schema documents without opening a store.

Defaults to store.schemas.paths from the configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadSchemas(args)
			if err != nil {
				fmt.Fprint(cmd.ErrOrStderr(), ui.ConfigError(err.Error(), nil, flags.noColor))
				return fmt.Errorf("schema validation failed")
			}

			concrete := len(reg.Concrete())
			ui.WriteSuccess(cmd.OutOrStdout(),
				fmt.Sprintf("%d schemas resolved (%d concrete, %d abstract)", reg.Count(), concrete, reg.Count()-concrete),
				flags.noColor)
			color.New(color.FgCyan).Fprintf(cmd.OutOrStdout(), "  override policy: %s\n", reg.Policy())
			list := ui.NewList(cmd.OutOrStdout(), ui.ListOptions{NoColor: flags.noColor})
			for _, name := range reg.List() {
				list.AddItem(name)
			}
			list.Render()
			return nil
		},
	}
}
