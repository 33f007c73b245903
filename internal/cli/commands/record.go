package commands

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/strata/internal/cli/ui"
	"github.com/conduit-lang/strata/internal/orm/query"
	"github.com/conduit-lang/strata/internal/orm/record"
	"github.com/conduit-lang/strata/internal/orm/relationships"
	"github.com/conduit-lang/strata/internal/orm/schema"
	"github.com/conduit-lang/strata/internal/orm/store"
)

// recordFlags holds the flags of the record subcommands
type recordFlags struct {
	fields      []string
	mode        string
	json        bool
	set         []string
	body        string
	actor       string
	filters     []string
	limit       int
	out         string
	interactive bool
	explain     bool
}

// NewRecordCommand creates the record command
func NewRecordCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Read and write records",
		Long: `Read and write records in the configured store.

Field values given with --set are coerced to the schema type; lists and
objects may be written as JSON, for example --set 'tags=["a","b"]'.`,
	}

	cmd.AddCommand(newRecordGetCommand())
	cmd.AddCommand(newRecordSearchCommand())
	cmd.AddCommand(newRecordCreateCommand())
	cmd.AddCommand(newRecordPatchCommand())
	cmd.AddCommand(newRecordDeleteCommand())
	cmd.AddCommand(newRecordExportCommand())
	cmd.AddCommand(newRecordImportCommand())

	return cmd
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid record id: %q", raw)
	}
	return id, nil
}

// parseAssignments converts name=value pairs to field values. Values that
// look like JSON arrays or objects are decoded.
func parseAssignments(pairs []string) (map[string]interface{}, error) {
	values := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid assignment %q (expected name=value)", pair)
		}
		trimmed := strings.TrimSpace(raw)
		if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
			dec := json.NewDecoder(strings.NewReader(trimmed))
			dec.UseNumber()
			var v interface{}
			if err := dec.Decode(&v); err != nil {
				return nil, fmt.Errorf("invalid JSON for %s: %w", name, err)
			}
			values[name] = v
			continue
		}
		values[name] = raw
	}
	return values, nil
}

// collectValues merges --json and --set; --set wins
func collectValues(rf *recordFlags) (map[string]interface{}, error) {
	values := map[string]interface{}{}
	if rf.body != "" {
		dec := json.NewDecoder(strings.NewReader(rf.body))
		dec.UseNumber()
		if err := dec.Decode(&values); err != nil {
			return nil, fmt.Errorf("invalid --json: %w", err)
		}
	}
	set, err := parseAssignments(rf.set)
	if err != nil {
		return nil, err
	}
	for k, v := range set {
		values[k] = v
	}
	return values, nil
}

// printRecord writes rec as a JSON document or as a field table
func printRecord(cmd *cobra.Command, rec *record.Record, rf *recordFlags) error {
	mode, err := record.ParseMode(rf.mode)
	if err != nil {
		return err
	}
	if rf.json {
		doc, err := record.Export(rec, mode)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, doc, "", "  "); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), buf.String())
		return nil
	}

	out := cmd.OutOrStdout()
	ui.Header(out, fmt.Sprintf("%s #%d", rec.Model(), rec.ID()), flags.noColor)
	table := ui.NewKeyValueTable(out, flags.noColor)
	table.AddRow(schema.FieldObjectID, rec.ObjectID())
	rec.Range(func(f *schema.FieldDescriptor, v record.Value) bool {
		if mode == record.ModeCondensed && f.Internal {
			return true
		}
		table.AddRow(f.Name, v.String())
		return true
	})
	table.Render()
	return nil
}

func newRecordGetCommand() *cobra.Command {
	rf := &recordFlags{}
	cmd := &cobra.Command{
		Use:   "get <model> <id>",
		Short: "Show one record",
		Example: `  # Show the common fields of post 1
  strata record get post 1

  # Expand the author and print JSON
  strata record get post 1 --fields title,author.name --json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[1])
			if err != nil {
				return err
			}
			return withStore(cmd, func(ctx context.Context, s *store.Store) error {
				if _, err := resolveModel(cmd, s.Registry(), args[0]); err != nil {
					return err
				}
				rec, err := s.Get(ctx, args[0], id, rf.fields...)
				if err != nil {
					return err
				}
				return printRecord(cmd, rec, rf)
			})
		},
	}
	cmd.Flags().StringSliceVarP(&rf.fields, "fields", "f", nil, "Fields to read; dotted paths expand relationships")
	cmd.Flags().StringVarP(&rf.mode, "mode", "m", "", "Serialization mode: unfiltered, foreign, hidden-foreign, condensed")
	cmd.Flags().BoolVar(&rf.json, "json", false, "Print the record as JSON")
	return cmd
}

// filterOperators are tried in order so that >= wins over = and >
var filterOperators = []struct {
	token string
	op    query.Operator
}{
	{">=", query.OpGreaterThanOrEqual},
	{"<=", query.OpLessThanOrEqual},
	{"!=", query.OpNotEqual},
	{"~", query.OpLike},
	{"=", query.OpEqual},
	{">", query.OpGreaterThan},
	{"<", query.OpLessThan},
}

// parseFilters converts name=value, name>=value and name~pattern filters
// to predicates
func parseFilters(filters []string) ([]query.Predicate, error) {
	preds := make([]query.Predicate, 0, len(filters))
	for _, f := range filters {
		matched := false
		for _, fo := range filterOperators {
			name, value, ok := strings.Cut(f, fo.token)
			if !ok || name == "" {
				continue
			}
			preds = append(preds, query.Predicate{Field: strings.TrimSpace(name), Operator: fo.op, Value: value})
			matched = true
			break
		}
		if !matched {
			return nil, fmt.Errorf("invalid filter %q", f)
		}
	}
	return preds, nil
}

func newRecordSearchCommand() *cobra.Command {
	rf := &recordFlags{}
	cmd := &cobra.Command{
		Use:   "search <model>",
		Short: "List records matching filters",
		Example: `  # Published posts with a score of at least 3
  strata record search post --where status=published --where 'score>=3'

  # Titles starting with "Go"
  strata record search post --where 'title~Go%'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			preds, err := parseFilters(rf.filters)
			if err != nil {
				return err
			}
			return withStore(cmd, func(ctx context.Context, s *store.Store) error {
				rs, err := resolveModel(cmd, s.Registry(), args[0])
				if err != nil {
					return err
				}
				q := query.New(rs.Name).Where(preds...).Select(rf.fields...).Take(rf.limit)
				if rf.explain {
					plan, err := s.Planner().Plan(q)
					if err != nil {
						return err
					}
					fmt.Fprint(cmd.OutOrStdout(), plan.Explain())
					return nil
				}
				recs, err := s.Search(ctx, q)
				if err != nil {
					return err
				}
				if rf.json {
					return writeLines(cmd.OutOrStdout(), recs, rf.mode)
				}

				columns := rf.fields
				if len(columns) == 0 {
					columns = rs.DefaultFields()
				}
				table := ui.NewTable(cmd.OutOrStdout(), append([]string{"ID"}, columns...), &ui.TableOptions{NoColor: flags.noColor})
				for _, rec := range recs {
					row := []string{strconv.FormatInt(rec.ID(), 10)}
					for _, c := range columns {
						v, _ := rec.Get(c)
						row = append(row, v.String())
					}
					table.AddRow(row...)
				}
				table.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVarP(&rf.filters, "where", "w", nil, "Filter as name=value, name>=value or name~pattern (repeatable)")
	cmd.Flags().StringSliceVarP(&rf.fields, "fields", "f", nil, "Fields to show")
	cmd.Flags().IntVarP(&rf.limit, "limit", "n", 50, "Maximum number of records (0 for all)")
	cmd.Flags().StringVarP(&rf.mode, "mode", "m", "", "Serialization mode for --json")
	cmd.Flags().BoolVar(&rf.json, "json", false, "Print one JSON document per line")
	cmd.Flags().BoolVar(&rf.explain, "explain", false, "Print the query plan instead of running it")
	return cmd
}

// writeLines writes one exported document per line
func writeLines(w io.Writer, recs []*record.Record, modeName string) error {
	mode, err := record.ParseMode(modeName)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		doc, err := record.Export(rec, mode)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(doc))
	}
	return nil
}

// promptValues asks for the common fields of rs
func promptValues(rs *schema.ResolvedSchema, values map[string]interface{}) error {
	for _, name := range rs.DefaultFields() {
		if _, ok := values[name]; ok {
			continue
		}
		f, _ := rs.Field(name)
		var answer string
		if len(f.EnumValues) > 0 {
			prompt := &survey.Select{Message: name + ":", Options: f.EnumValues}
			if d, ok := f.Default.(string); ok {
				prompt.Default = d
			}
			if err := survey.AskOne(prompt, &answer); err != nil {
				return err
			}
		} else {
			prompt := &survey.Input{Message: fmt.Sprintf("%s (%s):", name, f.TypeName())}
			var opts []survey.AskOpt
			if !f.Nullable && f.Default == nil {
				opts = append(opts, survey.WithValidator(survey.Required))
			}
			if err := survey.AskOne(prompt, &answer, opts...); err != nil {
				return err
			}
		}
		if answer != "" {
			values[name] = answer
		}
	}
	return nil
}

func newRecordCreateCommand() *cobra.Command {
	rf := &recordFlags{}
	cmd := &cobra.Command{
		Use:   "create [model]",
		Short: "Create a record",
		Example: `  # Create a post
  strata record create post --set title=Hello --set 'tags=["go"]'

  # Prompt for the model and its common fields
  strata record create -i`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := collectValues(rf)
			if err != nil {
				return err
			}
			if len(args) == 0 && !rf.interactive {
				return fmt.Errorf("model is required (or use --interactive)")
			}

			return withStore(cmd, func(ctx context.Context, s *store.Store) error {
				reg := s.Registry()
				var model string
				if len(args) == 1 {
					model = args[0]
				} else {
					var names []string
					for _, rs := range reg.Concrete() {
						if rs.Group != relationships.SystemGroup {
							names = append(names, rs.Name)
						}
					}
					if err := survey.AskOne(&survey.Select{Message: "Model:", Options: names}, &model); err != nil {
						return err
					}
				}
				rs, err := resolveModel(cmd, reg, model)
				if err != nil {
					return err
				}
				if rf.interactive {
					if err := promptValues(rs, values); err != nil {
						return err
					}
				}

				rec, err := s.New(rs.Name)
				if err != nil {
					return err
				}
				for name, v := range values {
					if err := rec.Set(name, v); err != nil {
						if errors.Is(err, record.ErrUnknownField) {
							if best := ui.FindBestMatch(name, rs.FieldNames(), nil); best != "" {
								fmt.Fprint(cmd.ErrOrStderr(), ui.Info(fmt.Sprintf("Did you mean %s?", best), flags.noColor))
							}
						}
						return err
					}
				}
				stored, err := s.Create(store.WithActor(ctx, rf.actor), rec)
				if err != nil {
					return err
				}
				ui.WriteSuccess(cmd.ErrOrStderr(), fmt.Sprintf("Created %s #%d", stored.Model(), stored.ID()), flags.noColor)
				return printRecord(cmd, stored, rf)
			})
		},
	}
	cmd.Flags().StringArrayVarP(&rf.set, "set", "s", nil, "Field assignment name=value (repeatable)")
	cmd.Flags().StringVar(&rf.body, "json-body", "", "Field values as a JSON object")
	cmd.Flags().StringVar(&rf.actor, "actor", "", "Acting user passed to hooks")
	cmd.Flags().BoolVarP(&rf.interactive, "interactive", "i", false, "Prompt for the model and common fields")
	cmd.Flags().BoolVar(&rf.json, "json", false, "Print the created record as JSON")
	return cmd
}

func newRecordPatchCommand() *cobra.Command {
	rf := &recordFlags{}
	cmd := &cobra.Command{
		Use:   "patch <model> <id>",
		Short: "Change fields of a record",
		Long: `Change fields of a record as --actor. Fields locked by another actor
are refused and nothing is written.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[1])
			if err != nil {
				return err
			}
			changes, err := collectValues(rf)
			if err != nil {
				return err
			}
			if len(changes) == 0 {
				return fmt.Errorf("nothing to change (use --set or --json-body)")
			}
			return withStore(cmd, func(ctx context.Context, s *store.Store) error {
				if _, err := resolveModel(cmd, s.Registry(), args[0]); err != nil {
					return err
				}
				rec, err := s.Patch(ctx, rf.actor, args[0], id, changes)
				if err != nil {
					var locked *store.FieldLockedError
					if errors.As(err, &locked) {
						fmt.Fprint(cmd.ErrOrStderr(), ui.FieldLockedError(locked.Model, locked.ID, locked.Field, locked.Actor, flags.noColor))
					}
					return err
				}
				ui.WriteSuccess(cmd.ErrOrStderr(), fmt.Sprintf("Patched %s #%d", rec.Model(), rec.ID()), flags.noColor)
				return printRecord(cmd, rec, rf)
			})
		},
	}
	cmd.Flags().StringArrayVarP(&rf.set, "set", "s", nil, "Field assignment name=value (repeatable)")
	cmd.Flags().StringVar(&rf.body, "json-body", "", "Changes as a JSON object")
	cmd.Flags().StringVar(&rf.actor, "actor", "", "Acting user checked against field locks")
	cmd.Flags().BoolVar(&rf.json, "json", false, "Print the changed fields as JSON")
	return cmd
}

func newRecordDeleteCommand() *cobra.Command {
	rf := &recordFlags{}
	cmd := &cobra.Command{
		Use:   "delete <model> <id>",
		Short: "Delete a record and its field locks",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[1])
			if err != nil {
				return err
			}
			return withStore(cmd, func(ctx context.Context, s *store.Store) error {
				if _, err := resolveModel(cmd, s.Registry(), args[0]); err != nil {
					return err
				}
				ok, err := s.Delete(store.WithActor(ctx, rf.actor), args[0], id)
				if err != nil {
					return err
				}
				if !ok {
					return &store.NotFoundError{Model: args[0], ID: id}
				}
				ui.WriteSuccess(cmd.OutOrStdout(), fmt.Sprintf("Deleted %s #%d", args[0], id), flags.noColor)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&rf.actor, "actor", "", "Acting user passed to hooks")
	return cmd
}

// exportFields lists every non-identity field of rs
func exportFields(rs *schema.ResolvedSchema) []string {
	var out []string
	for _, f := range rs.DataFields() {
		out = append(out, f.Name)
	}
	return out
}

func newRecordExportCommand() *cobra.Command {
	rf := &recordFlags{}
	cmd := &cobra.Command{
		Use:   "export <model>",
		Short: "Export every record of a model as JSON lines",
		Example: `  # Export posts with relationships as ids
  strata record export post --mode foreign --out posts.jsonl`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := record.ParseMode(rf.mode)
			if err != nil {
				return err
			}
			return withStore(cmd, func(ctx context.Context, s *store.Store) error {
				rs, err := resolveModel(cmd, s.Registry(), args[0])
				if err != nil {
					return err
				}
				recs, err := s.Search(ctx, query.New(rs.Name).Select(exportFields(rs)...).Depth(1))
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				if rf.out != "" {
					f, err := os.Create(rf.out)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				buf := bufio.NewWriter(w)
				err = ui.WithProgress(cmd.ErrOrStderr(), fmt.Sprintf("Exported %s", rs.Name), len(recs), flags.noColor, func(bar *ui.ProgressBar) error {
					for _, rec := range recs {
						doc, err := record.Export(rec, mode)
						if err != nil {
							return err
						}
						buf.Write(doc)
						buf.WriteByte('\n')
						bar.Add(1)
					}
					return nil
				})
				if err != nil {
					return err
				}
				return buf.Flush()
			})
		},
	}
	cmd.Flags().StringVarP(&rf.mode, "mode", "m", "foreign", "Serialization mode")
	cmd.Flags().StringVarP(&rf.out, "out", "o", "", "Write to a file instead of stdout")
	return cmd
}

func newRecordImportCommand() *cobra.Command {
	rf := &recordFlags{}
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import JSON lines produced by export",
		Long: `Import one record document per line. A document whose id names an
existing record updates it; any other document creates a new record.
Use - to read standard input.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := record.ParseMode(rf.mode)
			if err != nil {
				return err
			}
			var data []byte
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}
			var docs [][]byte
			for _, line := range bytes.Split(data, []byte("\n")) {
				if line = bytes.TrimSpace(line); len(line) > 0 {
					docs = append(docs, line)
				}
			}

			if len(docs) == 0 {
				fmt.Fprint(cmd.ErrOrStderr(), ui.Warning(fmt.Sprintf("%s holds no documents", args[0]), nil, flags.noColor))
				return nil
			}

			return withStore(cmd, func(ctx context.Context, s *store.Store) error {
				ctx = store.WithActor(ctx, rf.actor)
				return ui.WithProgress(cmd.ErrOrStderr(), fmt.Sprintf("Imported %d records", len(docs)), len(docs), flags.noColor, func(bar *ui.ProgressBar) error {
					for i, doc := range docs {
						if _, err := s.Import(ctx, doc, mode); err != nil {
							return fmt.Errorf("line %d: %w", i+1, err)
						}
						bar.Add(1)
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVarP(&rf.mode, "mode", "m", "foreign", "Serialization mode of the documents")
	cmd.Flags().StringVar(&rf.actor, "actor", "", "Acting user passed to hooks")
	return cmd
}
