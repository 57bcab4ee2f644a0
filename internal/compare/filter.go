package compare

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ExcludeFilter decides which relative paths a scan should skip.
// Matching is case-insensitive. A pattern matches when it glob-matches
// the whole relative path or any single path segment, so "node_modules"
// excludes the directory wherever it appears and "*.pyc" excludes by
// extension at any depth.
type ExcludeFilter struct {
	patterns []string
}

// NewExcludeFilter creates a filter from the given patterns.
func NewExcludeFilter(patterns []string) *ExcludeFilter {
	lowered := make([]string, 0, len(patterns))

	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}

		lowered = append(lowered, strings.ToLower(p))
	}

	return &ExcludeFilter{patterns: lowered}
}

// Match reports whether relPath should be excluded.
func (f *ExcludeFilter) Match(relPath string) bool {
	if len(f.patterns) == 0 {
		return false
	}

	lower := strings.ToLower(relPath)
	segments := strings.Split(lower, "/")

	for _, pattern := range f.patterns {
		// Invalid patterns never match; a typo in an exclude list
		// should not silently exclude everything or nothing.
		if ok, err := doublestar.Match(pattern, lower); err == nil && ok {
			return true
		}

		for _, segment := range segments {
			if ok, err := doublestar.Match(pattern, segment); err == nil && ok {
				return true
			}
		}
	}

	return false
}

// Excluded reports whether relPath or any ancestor directory of it is
// excluded, so children of an excluded directory are dropped with it.
func (f *ExcludeFilter) Excluded(relPath string) bool {
	if f.Match(relPath) {
		return true
	}

	for {
		idx := strings.LastIndex(relPath, "/")
		if idx < 0 {
			return false
		}

		relPath = relPath[:idx]
		if f.Match(relPath) {
			return true
		}
	}
}
