package ui

import (
	"sort"
	"strings"
)

// FuzzyMatchOptions bounds name suggestions
type FuzzyMatchOptions struct {
	// MaxDistance is the largest edit distance suggested (default 3)
	MaxDistance int
	// MaxSuggestions caps the result (default 3)
	MaxSuggestions int
	// CaseSensitive compares names as given instead of lowercased
	CaseSensitive bool
}

func (o *FuzzyMatchOptions) withDefaults() FuzzyMatchOptions {
	out := FuzzyMatchOptions{MaxDistance: 3, MaxSuggestions: 3}
	if o != nil {
		out.CaseSensitive = o.CaseSensitive
		if o.MaxDistance > 0 {
			out.MaxDistance = o.MaxDistance
		}
		if o.MaxSuggestions > 0 {
			out.MaxSuggestions = o.MaxSuggestions
		}
	}
	return out
}

// FindSimilar returns the candidates closest to target, nearest first.
// A candidate that starts with target always qualifies, so "auth" suggests
// "author". Ties keep the candidates' order.
func FindSimilar(target string, candidates []string, opts *FuzzyMatchOptions) []string {
	o := opts.withDefaults()
	norm := func(s string) string {
		if o.CaseSensitive {
			return s
		}
		return strings.ToLower(s)
	}

	type scored struct {
		name string
		dist int
	}
	t := norm(target)
	var hits []scored
	for _, c := range candidates {
		n := norm(c)
		d := LevenshteinDistance(t, n)
		if t != "" && strings.HasPrefix(n, t) && d > o.MaxDistance {
			d = o.MaxDistance
		}
		if d <= o.MaxDistance {
			hits = append(hits, scored{c, d})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].dist < hits[j].dist })

	out := make([]string, 0, o.MaxSuggestions)
	for i := 0; i < len(hits) && i < o.MaxSuggestions; i++ {
		out = append(out, hits[i].name)
	}
	return out
}

// FindBestMatch returns the closest candidate, or "" when none is close
func FindBestMatch(target string, candidates []string, opts *FuzzyMatchOptions) string {
	if m := FindSimilar(target, candidates, opts); len(m) > 0 {
		return m[0]
	}
	return ""
}

// LevenshteinDistance counts the single-rune insertions, deletions and
// substitutions turning a into b
func LevenshteinDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = minInt(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

func minInt(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
