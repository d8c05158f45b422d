package sync

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Excluder decides which paths are left out of mirroring. Excluded paths are
// neither copied from the source nor deleted from the target. The zero value
// excludes nothing.
type Excluder struct {
	patterns []string
}

// NewExcluder compiles the given glob patterns. Patterns without a slash
// match an entry's name at any depth, e.g. ".git" or "*.swp". Patterns with
// a slash match the whole relative path, and support "**", e.g.
// "build/**/*.o". Excluding a directory excludes everything inside it.
func NewExcluder(patterns []string) (Excluder, error) {
	for _, pattern := range patterns {
		if !doublestar.ValidatePattern(pattern) {
			return Excluder{}, fmt.Errorf("invalid exclude pattern %q", pattern)
		}
	}
	return Excluder{patterns: patterns}, nil
}

// Excludes returns whether `p`, or any directory containing it, matches an
// exclude pattern.
func (e Excluder) Excludes(p RelativePath) bool {
	if len(e.patterns) == 0 {
		return false
	}

	for ; p != ""; p = p.Parent() {
		if e.matches(p) {
			return true
		}
	}
	return false
}

func (e Excluder) matches(p RelativePath) bool {
	for _, pattern := range e.patterns {
		name := string(p)
		if !strings.Contains(pattern, "/") {
			name = path.Base(name)
		}

		// Patterns are validated by NewExcluder, so Match can't fail.
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}
