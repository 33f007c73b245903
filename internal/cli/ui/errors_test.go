package ui

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatErrorLayout(t *testing.T) {
	got := FormatError(ErrorOptions{
		Context:      "schema not found",
		Problem:      "Cannot find schema 'pst'.",
		Consequence:  "Nothing was loaded.",
		Suggestions:  []string{"post", "author"},
		HelpCommands: []string{"See all schemas: strata schema list"},
		NoColor:      true,
	})

	assert.Equal(t, "❌ SCHEMA NOT FOUND: Cannot find schema 'pst'.\n"+
		"   Cannot find schema 'pst'.\n"+
		"\n"+
		"   Nothing was loaded.\n"+
		"\n"+
		"   Did you mean: post, author?\n"+
		"\n"+
		"   → See all schemas: strata schema list\n", got)
}

func TestFormatErrorLevels(t *testing.T) {
	tests := []struct {
		level ErrorLevel
		want  string
	}{
		{ErrorLevelError, "❌ boom\n"},
		{ErrorLevelWarning, "⚠️ boom\n"},
		{ErrorLevelInfo, "ℹ️ boom\n"},
		{ErrorLevel(42), "❌ boom\n"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatError(ErrorOptions{Level: tt.level, Problem: "boom", NoColor: true}))
	}
}

func TestCannedMessages(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want []string
	}{
		{
			name: "schema not found",
			got:  SchemaNotFoundError("pst", []string{"post", "author"}, true),
			want: []string{"SCHEMA NOT FOUND", "Cannot find schema 'pst'.", "Did you mean: post, author?", "→ See all schemas: strata schema list"},
		},
		{
			name: "field locked",
			got:  FieldLockedError("post", 7, "title", "ada", true),
			want: []string{"FIELD LOCKED", "Field 'title' of post #7 is locked by 'ada'.", "No changes were written.", "strata record patch post 7 --actor ada"},
		},
		{
			name: "migration",
			got:  MigrationError("column type change refused", "Existing rows were kept.", nil, true),
			want: []string{"MIGRATION FAILED", "column type change refused", "Existing rows were kept.", "→ Retry: strata db migrate"},
		},
		{
			name: "config",
			got:  ConfigError("server.jwt_secret is not set", []string{"STRATA_SERVER_JWT_SECRET"}, true),
			want: []string{"CONFIGURATION ERROR", "server.jwt_secret is not set", "Did you mean: STRATA_SERVER_JWT_SECRET?", "→ View config: cat strata.yml"},
		},
		{
			name: "warning",
			got:  Warning("export.jsonl holds no documents", nil, true),
			want: []string{"⚠️ export.jsonl holds no documents"},
		},
		{
			name: "info",
			got:  Info("Schemas are up to date", true),
			want: []string{"ℹ️ Schemas are up to date"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, w := range tt.want {
				assert.Contains(t, tt.got, w)
			}
		})
	}
}

func TestWriters(t *testing.T) {
	var buf bytes.Buffer
	WriteError(&buf, ErrorOptions{Context: "test", Problem: "broken", NoColor: true})
	assert.Contains(t, buf.String(), "TEST: broken")

	buf.Reset()
	WriteSuccess(&buf, "Created post #1", true)
	assert.Equal(t, "✓ Created post #1\n", buf.String())
	assert.Equal(t, "✓ done", FormatSuccess("done", true))
}
