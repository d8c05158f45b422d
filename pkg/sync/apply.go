package sync

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/sidkik/treemirror/pkg/errors"
)

// Directories created in the target are always writable by their owner, even
// if the source directory isn't. Otherwise a read-only source directory would
// lock later passes out of updating its contents.
const ownerWrite = 0200

// Applier executes a single Operation.
type Applier interface {
	Apply(Operation) error
}

// Executor applies Operations to a target tree, reading file contents from a
// source tree.
type Executor struct {
	SourceRoot string
	TargetRoot string
}

// Apply executes `op`. Every operation is idempotent: creating something that
// already exists, or deleting something that's already gone, succeeds.
// Any failure is returned as an errors.IOError, including panics, so that a
// single bad entry can't take down the caller.
func (e Executor) Apply(op Operation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			err = errors.IOError{Op: op.Type.String(), Path: string(op.Path), Cause: err}
		}
	}()

	target := op.Path.Under(e.TargetRoot)
	switch op.Type {
	case CreateDir:
		if err := checkAncestors(e.TargetRoot, op.Path); err != nil {
			return err
		}
		return createDir(op.Path.Under(e.SourceRoot), target)
	case CopyFile:
		if err := checkAncestors(e.TargetRoot, op.Path); err != nil {
			return err
		}
		return copyFile(op.Path.Under(e.SourceRoot), target)
	case DeleteFile:
		return removeFile(target)
	case DeleteDirRecursive:
		return removeTree(target)
	default:
		return fmt.Errorf("unknown operation type %d", int(op.Type))
	}
}

// checkAncestors returns an error if any directory between `root` and `p`
// is a symlink in the target. Writing through it would modify files outside
// the target tree.
func checkAncestors(root string, p RelativePath) error {
	segments := p.Segments()
	for i := 1; i < len(segments); i++ {
		ancestor := RelativePath(strings.Join(segments[:i], "/"))
		fi, err := lstat(ancestor.Under(root))
		switch {
		case os.IsNotExist(err):
			return nil
		case err != nil:
			return errors.WithContext(err, "stat parent")
		case fi.Mode()&os.ModeSymlink != 0:
			return fmt.Errorf("parent %q is a symlink", ancestor)
		}
	}
	return nil
}

func createDir(src, dst string) error {
	if fi, err := lstat(dst); err == nil {
		if fi.IsDir() {
			return nil
		}
		return errors.New("target exists and is not a directory")
	} else if !os.IsNotExist(err) {
		return errors.WithContext(err, "stat target")
	}

	mode := os.FileMode(0755)
	if fi, err := fs.Stat(src); err == nil && fi.IsDir() {
		mode = fi.Mode().Perm() | ownerWrite
	}

	if err := fs.MkdirAll(dst, mode); err != nil {
		return errors.WithContext(err, "mkdir")
	}
	return nil
}

// copyFile writes the contents of `src` to a temporary file next to `dst`,
// and then renames it into place. The mirror therefore never contains a
// partially written file. The source's mode and modification time are
// preserved so that later passes see the two files as equal.
func copyFile(src, dst string) error {
	srcInfo, err := fs.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.FileNotFound{Path: src}
		}
		return errors.WithContext(err, "stat source")
	}

	if srcInfo.IsDir() {
		return errors.New("source is a directory")
	}

	// The target may still be a directory if the source entry changed kind
	// while being watched.
	if dstInfo, err := lstat(dst); err == nil && dstInfo.IsDir() {
		if err := removeTree(dst); err != nil {
			return errors.WithContext(err, "replace directory")
		}
	}

	in, err := fs.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.FileNotFound{Path: src}
		}
		return errors.WithContext(err, "open source")
	}
	defer in.Close()

	tmp, err := afero.TempFile(fs, filepath.Dir(dst), "."+filepath.Base(dst)+".treemirror-")
	if err != nil {
		return errors.WithContext(err, "create temp file")
	}
	tmpName := tmp.Name()

	cleanup := func(err error) error {
		tmp.Close()
		fs.Remove(tmpName)
		return err
	}

	if _, err := io.Copy(tmp, in); err != nil {
		return cleanup(errors.WithContext(err, "write"))
	}

	if err := tmp.Close(); err != nil {
		return cleanup(errors.WithContext(err, "close"))
	}

	if err := fs.Chmod(tmpName, srcInfo.Mode().Perm()); err != nil {
		return cleanup(errors.WithContext(err, "set file mode"))
	}

	if err := fs.Rename(tmpName, dst); err != nil {
		return cleanup(errors.WithContext(err, "rename"))
	}

	// Change the modification time as the last step so that it doesn't get
	// reset by other file operations.
	if err := fs.Chtimes(dst, time.Now(), srcInfo.ModTime()); err != nil {
		return errors.WithContext(err, "set file modtime")
	}
	return nil
}

func removeFile(path string) error {
	if err := fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.WithContext(err, "remove")
	}
	return nil
}

// removeTree removes `path` and everything inside it. Entries are removed
// deepest first, so each directory is empty by the time it's removed.
// `path` may also be a plain file.
func removeTree(path string) error {
	fi, err := lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.WithContext(err, "stat")
	}

	if !fi.IsDir() {
		return removeFile(path)
	}

	var paths []string
	err = afero.Walk(fs, path, func(path string, _ os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return errors.WithContext(err, "walk")
	}

	// afero.Walk visits a directory before its contents, so walking the list
	// backwards visits the contents first.
	for i := len(paths) - 1; i >= 0; i-- {
		if err := removeFile(paths[i]); err != nil {
			return err
		}
	}
	return nil
}

func lstat(path string) (os.FileInfo, error) {
	if lstater, ok := fs.(afero.Lstater); ok {
		fi, _, err := lstater.LstatIfPossible(path)
		return fi, err
	}
	return fs.Stat(path)
}

// Summary counts the outcomes of a batch of operations.
type Summary struct {
	Applied int
	Failed  int
}

// Apply executes each operation in order, calling `report` with the outcome
// of each one. Failures don't stop the batch.
// The context is only checked between operations: an operation that has
// started always finishes. If the context is cancelled, the remaining
// operations are skipped and errors.ErrCancelled is returned.
func Apply(ctx context.Context, ops []Operation, applier Applier,
	report func(Operation, error)) (Summary, error) {

	var summary Summary
	for _, op := range ops {
		if ctx.Err() != nil {
			return summary, errors.ErrCancelled
		}

		err := applier.Apply(op)
		if err != nil {
			summary.Failed++
		} else {
			summary.Applied++
		}

		if report != nil {
			report(op, err)
		}
	}
	return summary, nil
}
