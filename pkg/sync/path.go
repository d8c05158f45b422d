package sync

import (
	"fmt"
	"path/filepath"
	"strings"
)

// RelativePath identifies an entry relative to the root of its tree. It's
// what correlates entries between the source and target trees, and across
// filesystem notifications.
// Segments are always separated by forward slashes, regardless of the host
// OS. The empty RelativePath refers to the root itself.
type RelativePath string

// NewRelativePath returns `path` relative to `root`. It fails if `path` isn't
// inside `root`.
func NewRelativePath(root, path string) (RelativePath, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", err
	}

	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%q is not inside %q", path, root)
	}

	if rel == "." {
		return "", nil
	}
	return RelativePath(filepath.ToSlash(rel)), nil
}

// Segments returns the path's components, from the root downwards.
func (p RelativePath) Segments() []string {
	if p == "" {
		return nil
	}
	return strings.Split(string(p), "/")
}

// Depth returns the number of segments in the path.
func (p RelativePath) Depth() int {
	return len(p.Segments())
}

// Parent returns the path of the directory containing `p`. The parent of a
// top-level entry is the root.
func (p RelativePath) Parent() RelativePath {
	i := strings.LastIndex(string(p), "/")
	if i < 0 {
		return ""
	}
	return p[:i]
}

// IsAncestorOf returns whether `other` is strictly inside `p`.
func (p RelativePath) IsAncestorOf(other RelativePath) bool {
	if p == "" {
		return other != ""
	}
	return strings.HasPrefix(string(other), string(p)+"/")
}

// Under resolves the path against the given tree root.
func (p RelativePath) Under(root string) string {
	return filepath.Join(root, filepath.FromSlash(string(p)))
}

// Less orders paths segment by segment, so a directory always sorts before
// everything inside it.
func (p RelativePath) Less(other RelativePath) bool {
	a, b := p.Segments(), other.Segments()
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
