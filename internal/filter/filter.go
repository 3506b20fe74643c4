// Package filter decides which pages and link targets stay out of the graph.
package filter

import "strings"

// Filter is an immutable set of disallowed namespace prefixes. It is safe to
// share between workers.
type Filter struct {
	prefixes []string
}

// New builds a Filter; the prefixes are copied.
func New(prefixes []string) *Filter {
	return &Filter{prefixes: append([]string(nil), prefixes...)}
}

// IsExcluded reports whether a page is kept out of the graph: redirects, and
// titles containing any disallowed prefix (case-sensitive substring match).
func (f *Filter) IsExcluded(title string, isRedirect bool) bool {
	if isRedirect {
		return true
	}
	for _, p := range f.prefixes {
		if strings.Contains(title, p) {
			return true
		}
	}
	return false
}

// Prefixes returns a copy of the disallowed prefixes.
func (f *Filter) Prefixes() []string {
	return append([]string(nil), f.prefixes...)
}
