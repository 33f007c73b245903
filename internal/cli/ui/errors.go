package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// ErrorLevel is the severity of a message
type ErrorLevel int

const (
	ErrorLevelError ErrorLevel = iota
	ErrorLevelWarning
	ErrorLevelInfo
)

type levelStyle struct {
	symbol string
	attr   color.Attribute
}

var levelStyles = map[ErrorLevel]levelStyle{
	ErrorLevelError:   {"❌", color.FgRed},
	ErrorLevelWarning: {"⚠️", color.FgYellow},
	ErrorLevelInfo:    {"ℹ️", color.FgCyan},
}

// ErrorOptions describes a message shown to the user
type ErrorOptions struct {
	Level        ErrorLevel
	Context      string
	Problem      string
	Consequence  string
	Suggestions  []string
	HelpCommands []string
	NoColor      bool
}

// FormatError renders opts as a block:
//
//	❌ SCHEMA NOT FOUND: Cannot find schema 'pst'.
//	   Cannot find schema 'pst'.
//
//	   Did you mean: post, author?
//
//	   → See all schemas: strata schema list
func FormatError(opts ErrorOptions) string {
	style, ok := levelStyles[opts.Level]
	if !ok {
		style = levelStyles[ErrorLevelError]
	}
	head := paint(opts.NoColor, style.attr, color.Bold)
	body := paint(opts.NoColor, style.attr)

	var b strings.Builder
	if opts.Context == "" {
		head.Fprintf(&b, "%s %s\n", style.symbol, opts.Problem)
	} else {
		head.Fprintf(&b, "%s %s: %s\n", style.symbol, strings.ToUpper(opts.Context), opts.Problem)
		if opts.Problem != "" {
			body.Fprintf(&b, "   %s\n", opts.Problem)
		}
	}

	block := func(c *color.Color, lines ...string) {
		if len(lines) == 0 {
			return
		}
		b.WriteByte('\n')
		for _, l := range lines {
			c.Fprintf(&b, "   %s\n", l)
		}
	}
	if opts.Consequence != "" {
		block(body, opts.Consequence)
	}
	if len(opts.Suggestions) > 0 {
		block(paint(opts.NoColor, color.FgYellow), "Did you mean: "+strings.Join(opts.Suggestions, ", ")+"?")
	}
	help := make([]string, len(opts.HelpCommands))
	for i, h := range opts.HelpCommands {
		help[i] = "→ " + h
	}
	block(paint(opts.NoColor, color.FgCyan), help...)
	return b.String()
}

// WriteError writes FormatError(opts) to w
func WriteError(w io.Writer, opts ErrorOptions) {
	io.WriteString(w, FormatError(opts))
}

// FormatSuccess renders a check-marked message
func FormatSuccess(message string, noColor bool) string {
	return paint(noColor, color.FgGreen, color.Bold).Sprint("✓ " + message)
}

// WriteSuccess writes FormatSuccess(message) and a newline to w
func WriteSuccess(w io.Writer, message string, noColor bool) {
	fmt.Fprintln(w, FormatSuccess(message, noColor))
}

// SchemaNotFoundError reports an unregistered model name
func SchemaNotFoundError(name string, suggestions []string, noColor bool) string {
	return FormatError(ErrorOptions{
		Context:     "schema not found",
		Problem:     fmt.Sprintf("Cannot find schema '%s'.", name),
		Suggestions: suggestions,
		HelpCommands: []string{
			"See all schemas: strata schema list",
			"Check schema files: strata schema validate",
		},
		NoColor: noColor,
	})
}

// FieldLockedError reports a change refused because another actor holds
// the field lock
func FieldLockedError(model string, id int64, field, actor string, noColor bool) string {
	return FormatError(ErrorOptions{
		Context:     "field locked",
		Problem:     fmt.Sprintf("Field '%s' of %s #%d is locked by '%s'.", field, model, id, actor),
		Consequence: "No changes were written.",
		HelpCommands: []string{
			fmt.Sprintf("Retry as the lock holder: strata record patch %s %d --actor %s", model, id, actor),
		},
		NoColor: noColor,
	})
}

// MigrationError reports a failed schema migration
func MigrationError(message, consequence string, suggestions []string, noColor bool) string {
	return FormatError(ErrorOptions{
		Context:      "migration failed",
		Problem:      message,
		Consequence:  consequence,
		Suggestions:  suggestions,
		HelpCommands: []string{"Retry: strata db migrate", "Get help: strata db --help"},
		NoColor:      noColor,
	})
}

// ConfigError reports an unusable strata.yml
func ConfigError(message string, suggestions []string, noColor bool) string {
	return FormatError(ErrorOptions{
		Context:      "configuration error",
		Problem:      message,
		Suggestions:  suggestions,
		HelpCommands: []string{"View config: cat strata.yml", "Get help: strata --help"},
		NoColor:      noColor,
	})
}

// Warning renders a warning without context
func Warning(message string, suggestions []string, noColor bool) string {
	return FormatError(ErrorOptions{Level: ErrorLevelWarning, Problem: message, Suggestions: suggestions, NoColor: noColor})
}

// Info renders an informational line
func Info(message string, noColor bool) string {
	return FormatError(ErrorOptions{Level: ErrorLevelInfo, Problem: message, NoColor: noColor})
}
