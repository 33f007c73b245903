package ui

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
)

// TableOptions configures a Table
type TableOptions struct {
	NoColor bool
	// MaxCellWidth truncates longer cells with "…"; zero keeps them whole
	MaxCellWidth int
}

// Table renders rows under aligned column headers
type Table struct {
	w       io.Writer
	headers []string
	rows    [][]string
	opts    TableOptions
}

// NewTable creates a table; opts may be nil
func NewTable(w io.Writer, headers []string, opts *TableOptions) *Table {
	t := &Table{w: w, headers: headers}
	if opts != nil {
		t.opts = *opts
	}
	return t
}

// AddRow appends a row; missing cells render empty and extra cells are dropped
func (t *Table) AddRow(cells ...string) {
	row := make([]string, len(t.headers))
	for i := range row {
		if i < len(cells) {
			row[i] = t.clip(cells[i])
		}
	}
	t.rows = append(t.rows, row)
}

func (t *Table) clip(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if t.opts.MaxCellWidth <= 0 || utf8.RuneCountInString(s) <= t.opts.MaxCellWidth {
		return s
	}
	r := []rune(s)
	return string(r[:t.opts.MaxCellWidth-1]) + "…"
}

// Render writes the header, a rule and every row
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range t.rows {
		for i, c := range row {
			if n := utf8.RuneCountInString(c); n > widths[i] {
				widths[i] = n
			}
		}
	}

	head := paint(t.opts.NoColor, color.Bold, color.FgCyan)
	rule := paint(t.opts.NoColor, color.FgHiBlack)
	line := func(cells []string, c *color.Color) {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			parts[i] = pad(cell, widths[i])
		}
		text := strings.TrimRight(strings.Join(parts, "  "), " ")
		if c != nil {
			c.Fprintln(t.w, text)
			return
		}
		fmt.Fprintln(t.w, text)
	}

	line(t.headers, head)
	rules := make([]string, len(widths))
	for i, n := range widths {
		rules[i] = strings.Repeat("─", n)
	}
	line(rules, rule)
	for _, row := range t.rows {
		line(row, nil)
	}
}

// pad right-pads s with spaces to width runes
func pad(s string, width int) string {
	if n := utf8.RuneCountInString(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}

// KeyValueTable renders "key: value" lines with aligned values
type KeyValueTable struct {
	w       io.Writer
	keys    []string
	values  []string
	noColor bool
}

// NewKeyValueTable creates an empty key/value table
func NewKeyValueTable(w io.Writer, noColor bool) *KeyValueTable {
	return &KeyValueTable{w: w, noColor: noColor}
}

// AddRow appends a pair
func (t *KeyValueTable) AddRow(key, value string) {
	t.keys = append(t.keys, key)
	t.values = append(t.values, value)
}

// Render writes the pairs in insertion order
func (t *KeyValueTable) Render() {
	width := 0
	for _, k := range t.keys {
		if n := utf8.RuneCountInString(k) + 1; n > width {
			width = n
		}
	}
	key := paint(t.noColor, color.FgCyan)
	for i, k := range t.keys {
		key.Fprint(t.w, pad(k+":", width))
		fmt.Fprintf(t.w, " %s\n", t.values[i])
	}
}

// Section is a titled block of indented lines
type Section struct {
	w       io.Writer
	title   string
	lines   []string
	noColor bool
}

// NewSection creates an empty section
func NewSection(w io.Writer, title string, noColor bool) *Section {
	return &Section{w: w, title: title, noColor: noColor}
}

// AddLine appends a line
func (s *Section) AddLine(line string) {
	s.lines = append(s.lines, line)
}

// Render writes the title, the lines and a blank line
func (s *Section) Render() {
	paint(s.noColor, color.Bold, color.FgCyan).Fprintln(s.w, s.title)
	for _, l := range s.lines {
		fmt.Fprintf(s.w, "  %s\n", l)
	}
	fmt.Fprintln(s.w)
}

// ListOptions configures a List
type ListOptions struct {
	Numbered bool
	NoColor  bool
}

// List is a bulleted or numbered list
type List struct {
	w     io.Writer
	items []string
	opts  ListOptions
}

// NewList creates an empty list
func NewList(w io.Writer, opts ListOptions) *List {
	return &List{w: w, opts: opts}
}

// AddItem appends an item
func (l *List) AddItem(item string) {
	l.items = append(l.items, item)
}

// Render writes one item per line
func (l *List) Render() {
	marker := paint(l.opts.NoColor, color.FgCyan)
	for i, item := range l.items {
		if l.opts.Numbered {
			marker.Fprintf(l.w, "%d. ", i+1)
		} else {
			marker.Fprint(l.w, "• ")
		}
		fmt.Fprintln(l.w, item)
	}
}

// Divider writes a horizontal rule of width cells (80 when zero)
func Divider(w io.Writer, width int, noColor bool) {
	if width <= 0 {
		width = 80
	}
	paint(noColor, color.FgHiBlack).Fprintln(w, strings.Repeat("─", width))
}

// Header writes a bold title underlined by a divider
func Header(w io.Writer, title string, noColor bool) {
	paint(noColor, color.Bold, color.FgCyan).Fprintln(w, title)
	Divider(w, utf8.RuneCountInString(title), noColor)
}
