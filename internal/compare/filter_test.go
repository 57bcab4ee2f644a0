package compare_test

import (
	"testing"

	"github.com/joe/dirsync/internal/compare"
)

func TestExcludeFilterMatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		patterns []string
		path     string
		want     bool
	}{
		{
			name:     "bare name matches segment anywhere",
			patterns: []string{"node_modules"},
			path:     "web/node_modules/lodash/index.js",
			want:     true,
		},
		{
			name:     "extension glob matches at any depth",
			patterns: []string{"*.pyc"},
			path:     "src/app/__init__.pyc",
			want:     true,
		},
		{
			name:     "case insensitive",
			patterns: []string{"thumbs.db"},
			path:     "photos/Thumbs.db",
			want:     true,
		},
		{
			name:     "full path glob",
			patterns: []string{"build/*"},
			path:     "build/output.bin",
			want:     true,
		},
		{
			name:     "no match",
			patterns: []string{"node_modules", "*.pyc"},
			path:     "src/main.go",
			want:     false,
		},
		{
			name:     "empty pattern list matches nothing",
			patterns: nil,
			path:     "anything",
			want:     false,
		},
		{
			name:     "invalid glob never matches",
			patterns: []string{"[unclosed"},
			path:     "unclosed",
			want:     false,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			filter := compare.NewExcludeFilter(test.patterns)
			if got := filter.Match(test.path); got != test.want {
				t.Errorf("Match(%q) = %v, want %v", test.path, got, test.want)
			}
		})
	}
}

func TestExcludeFilterAncestors(t *testing.T) {
	t.Parallel()

	filter := compare.NewExcludeFilter([]string{".git"})

	if !filter.Excluded(".git/objects/ab/cdef") {
		t.Error("children of an excluded directory should be excluded")
	}

	if filter.Excluded("src/git-helpers.go") {
		t.Error("similar but different names should not be excluded")
	}
}
