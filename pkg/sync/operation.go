package sync

import "fmt"

// OpType is the kind of change an Operation makes to the target tree.
type OpType int

const (
	// CreateDir creates a directory if it doesn't exist yet.
	CreateDir OpType = iota

	// CopyFile copies a file from the source tree, replacing any existing
	// file in the target tree.
	CopyFile

	// DeleteFile removes a file if it exists.
	DeleteFile

	// DeleteDirRecursive removes a directory and everything inside it, if it
	// exists.
	DeleteDirRecursive
)

func (t OpType) String() string {
	switch t {
	case CreateDir:
		return "create-dir"
	case CopyFile:
		return "copy-file"
	case DeleteFile:
		return "delete-file"
	case DeleteDirRecursive:
		return "delete-dir"
	default:
		return fmt.Sprintf("unknown-op(%d)", int(t))
	}
}

// Operation is a single change to the target tree. Paths are resolved against
// the target root when applied, and against the source root for the source
// side of a copy.
type Operation struct {
	Type OpType
	Path RelativePath
}

func (op Operation) String() string {
	return fmt.Sprintf("%s %s", op.Type, op.Path)
}

// IsDelete returns whether the operation removes entries.
func (op Operation) IsDelete() bool {
	return op.Type == DeleteFile || op.Type == DeleteDirRecursive
}

func createOp(path RelativePath, kind EntryKind) Operation {
	if kind == Directory {
		return Operation{Type: CreateDir, Path: path}
	}
	return Operation{Type: CopyFile, Path: path}
}

func deleteOp(path RelativePath, kind EntryKind) Operation {
	if kind == Directory {
		return Operation{Type: DeleteDirRecursive, Path: path}
	}
	return Operation{Type: DeleteFile, Path: path}
}
