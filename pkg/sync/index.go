package sync

import (
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/treemirror/pkg/errors"
)

// EntryKind is the type of a tree entry. An entry never changes kind in
// place: a file replaced by a directory is a deletion followed by a creation.
type EntryKind int

const (
	// File is any entry that isn't a directory.
	File EntryKind = iota

	// Directory is a directory entry.
	Directory
)

func (kind EntryKind) String() string {
	switch kind {
	case File:
		return "file"
	case Directory:
		return "directory"
	default:
		return "unknown"
	}
}

// Entry describes a single path in a tree.
type Entry struct {
	Kind EntryKind

	// FileAttributes is only meaningful for files.
	FileAttributes
}

// PathIndex is a snapshot of every entry in a tree, keyed by its path
// relative to the tree's root. The root itself isn't included.
type PathIndex map[RelativePath]Entry

// Add records the entry at the given path.
func (index PathIndex) Add(path RelativePath, entry Entry) {
	index[path] = entry
}

// IndexOptions controls how BuildIndex walks a tree.
type IndexOptions struct {
	// Exclude lists the paths that are left out of the index.
	Exclude Excluder

	// FollowSymlinks records each symlink as the entry it points to. Links
	// to directories are recorded as directories, but the walk doesn't
	// descend into them. Dangling links are skipped.
	//
	// Without it, every symlink is recorded as a File with the link's own
	// attributes. Target trees are indexed this way, so that a link in the
	// target is replaced rather than written through.
	FollowSymlinks bool
}

// BuildIndex walks every descendant of `root` that isn't excluded, and
// records it in a new PathIndex. It returns a TreeWalkError if the root is
// missing, isn't a directory, or if any part of the walk fails. Partial
// indexes are never returned.
func BuildIndex(root string, opts IndexOptions) (PathIndex, error) {
	fi, err := fs.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			err = errors.FileNotFound{Path: root}
		}
		return nil, errors.TreeWalkError{Root: root, Cause: err}
	}

	if !fi.IsDir() {
		return nil, errors.TreeWalkError{Root: root, Cause: errors.New("not a directory")}
	}

	index := PathIndex{}
	err = afero.Walk(fs, root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		relPath, err := NewRelativePath(root, path)
		if err != nil {
			// This shouldn't happen because `path` is always a child of `root`.
			return errors.WithContext(err, "normalize path")
		}

		if relPath == "" {
			return nil
		}

		if opts.Exclude.Excludes(relPath) {
			if fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if fi.Mode()&os.ModeSymlink != 0 && opts.FollowSymlinks {
			target, err := fs.Stat(path)
			if err != nil {
				log.WithError(err).WithField("path", relPath).Debug(
					"Skipping dangling symlink")
				return nil
			}
			fi = target
		}

		index.Add(relPath, newEntry(fi))
		return nil
	})
	if err != nil {
		return nil, errors.TreeWalkError{Root: root, Cause: err}
	}
	return index, nil
}

func newEntry(fi os.FileInfo) Entry {
	if fi.IsDir() {
		return Entry{Kind: Directory, FileAttributes: FileAttributes{Mode: fi.Mode().Perm()}}
	}
	return Entry{
		Kind: File,
		FileAttributes: FileAttributes{
			Size:    fi.Size(),
			Mode:    fi.Mode().Perm(),
			ModTime: fi.ModTime(),
		},
	}
}

// EnsureRoot creates the directory at `root` if it doesn't exist yet.
func EnsureRoot(root string) error {
	fi, err := fs.Stat(root)
	switch {
	case err == nil && fi.IsDir():
		return nil
	case err == nil:
		return errors.New("exists and is not a directory")
	case !os.IsNotExist(err):
		return errors.WithContext(err, "stat")
	}

	if err := fs.MkdirAll(root, 0755); err != nil {
		return errors.WithContext(err, "create")
	}
	return nil
}
