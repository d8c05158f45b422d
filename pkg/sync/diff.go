package sync

import (
	"sort"
)

// DiffOptions controls which differences Diff acts on.
type DiffOptions struct {
	// DeleteOrphans removes target entries that don't exist in the source.
	// When it's false the mirror only ever grows.
	DeleteOrphans bool
}

// Diff returns the operations necessary to make the target tree match the
// source tree.
// * Entries that are missing from the target are created.
// * Files that `equal` doesn't consider up to date are copied again.
// * Entries whose kind differs are deleted, and then recreated.
// * Entries that only exist in the target are deleted, if opts.DeleteOrphans
//   is set.
//
// All deletions come before all creations. Deletions are ordered deepest
// first, so a directory's contents are removed before the directory.
// Creations are ordered so that a directory is created before anything inside
// it.
func Diff(source, target PathIndex, equal FileComparator, opts DiffOptions) []Operation {
	if equal == nil {
		equal = AttributesEqual(0)
	}

	var toCreate, toDelete []Operation
	for path, src := range source {
		dst, ok := target[path]
		switch {
		case !ok:
			toCreate = append(toCreate, createOp(path, src.Kind))
		case dst.Kind != src.Kind:
			toDelete = append(toDelete, deleteOp(path, dst.Kind))
			toCreate = append(toCreate, createOp(path, src.Kind))
		case src.Kind == File && !equal(path, src, dst):
			toCreate = append(toCreate, Operation{Type: CopyFile, Path: path})
		}
	}

	if opts.DeleteOrphans {
		for path, dst := range target {
			if _, ok := source[path]; !ok {
				toDelete = append(toDelete, deleteOp(path, dst.Kind))
			}
		}
	}

	sort.Slice(toDelete, func(i, j int) bool {
		di, dj := toDelete[i].Path.Depth(), toDelete[j].Path.Depth()
		if di != dj {
			return di > dj
		}
		return toDelete[i].Path < toDelete[j].Path
	})
	sort.Slice(toCreate, func(i, j int) bool {
		return toCreate[i].Path.Less(toCreate[j].Path)
	})

	return append(toDelete, toCreate...)
}
