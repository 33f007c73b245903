package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func lines(s string) []string {
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}

func TestTable(t *testing.T) {
	var out bytes.Buffer
	table := NewTable(&out, []string{"NAME", "FIELDS"}, &TableOptions{NoColor: true})
	table.AddRow("post", "11")
	table.AddRow("participation", "9", "ignored")
	table.AddRow("author")
	table.Render()

	assert.Equal(t, []string{
		"NAME           FIELDS",
		"─────────────  ──────",
		"post           11",
		"participation  9",
		"author",
	}, lines(out.String()))
}

func TestTableClipsCells(t *testing.T) {
	var out bytes.Buffer
	table := NewTable(&out, []string{"BODY"}, &TableOptions{NoColor: true, MaxCellWidth: 6})
	table.AddRow("a very long body")
	table.AddRow("two\nlines")
	table.Render()

	got := lines(out.String())
	assert.Equal(t, "a ver…", got[2])
	assert.Equal(t, "two l…", got[3])
}

func TestTableNoHeaders(t *testing.T) {
	var out bytes.Buffer
	NewTable(&out, nil, nil).Render()
	assert.Empty(t, out.String())
}

func TestKeyValueTable(t *testing.T) {
	var out bytes.Buffer
	kv := NewKeyValueTable(&out, true)
	kv.AddRow("objectId", "6f1c")
	kv.AddRow("title", "Hello")
	kv.Render()

	assert.Equal(t, []string{
		"objectId: 6f1c",
		"title:    Hello",
	}, lines(out.String()))
}

func TestSectionAndList(t *testing.T) {
	var out bytes.Buffer
	s := NewSection(&out, "Relationships", true)
	s.AddLine("author -> author")
	s.Render()
	assert.Equal(t, "Relationships\n  author -> author\n\n", out.String())

	out.Reset()
	l := NewList(&out, ListOptions{NoColor: true})
	l.AddItem("post")
	l.AddItem("author")
	l.Render()
	assert.Equal(t, "• post\n• author\n", out.String())

	out.Reset()
	l = NewList(&out, ListOptions{Numbered: true, NoColor: true})
	l.AddItem("first")
	l.Render()
	assert.Equal(t, "1. first\n", out.String())
}

func TestHeader(t *testing.T) {
	var out bytes.Buffer
	Header(&out, "post #1", true)
	assert.Equal(t, "post #1\n───────\n", out.String())

	out.Reset()
	Divider(&out, 0, true)
	assert.Equal(t, strings.Repeat("─", 80)+"\n", out.String())
}
