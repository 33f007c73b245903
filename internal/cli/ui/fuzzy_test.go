package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevenshteinDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "post", 4},
		{"post", "", 4},
		{"post", "post", 0},
		{"pst", "post", 1},
		{"kitten", "sitting", 3},
		{"café", "cafe", 1},
	}
	for _, tt := range tests {
		t.Run(tt.a+"/"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, LevenshteinDistance(tt.a, tt.b))
			assert.Equal(t, tt.want, LevenshteinDistance(tt.b, tt.a))
		})
	}
}

func TestFindSimilar(t *testing.T) {
	schemas := []string{"author", "comment", "data", "link", "post", "secret"}

	tests := []struct {
		name   string
		target string
		opts   *FuzzyMatchOptions
		want   []string
	}{
		{"typo", "pots", nil, []string{"post"}},
		{"case insensitive", "POST", nil, []string{"post"}},
		{"case sensitive", "POST", &FuzzyMatchOptions{CaseSensitive: true}, []string{}},
		{"prefix", "auth", &FuzzyMatchOptions{MaxDistance: 1}, []string{"author"}},
		{"nearest first", "dat", nil, []string{"data", "post"}},
		{"nothing close", "participation", nil, []string{}},
		{"capped", "x", &FuzzyMatchOptions{MaxDistance: 10, MaxSuggestions: 2}, []string{"data", "link"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FindSimilar(tt.target, schemas, tt.opts))
		})
	}
}

func TestFindBestMatch(t *testing.T) {
	fields := []string{"title", "status", "score"}
	assert.Equal(t, "title", FindBestMatch("titel", fields, nil))
	assert.Equal(t, "", FindBestMatch("published", fields, nil))
	assert.Equal(t, "", FindBestMatch("title", nil, nil))
}
