// Package fswatch translates filesystem notifications for a source tree into
// the operations that keep its mirror up to date.
package fswatch

import (
	"context"
	"fmt"
	"os"
	goSync "sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/treemirror/pkg/errors"
	"github.com/sidkik/treemirror/pkg/sync"
)

var fs = afero.NewOsFs()

// ChangeType is the kind of change reported for a path.
type ChangeType int

const (
	// Created means the path appeared.
	Created ChangeType = iota

	// Modified means the contents or metadata of the path changed.
	Modified

	// Deleted means the path was removed, or moved out of the watched tree.
	Deleted
)

func (t ChangeType) String() string {
	switch t {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// ChangeEvent is a single change within the watched tree.
type ChangeEvent struct {
	Type ChangeType
	Path sync.RelativePath
}

// Options configures a Subscription.
type Options struct {
	// Recursive watches every directory in the tree, including directories
	// created after the subscription starts. Otherwise, only entries directly
	// inside the root are watched.
	Recursive bool
}

type watcher interface {
	Add(string) error
	Close() error
}

// Subscription receives the changes under a root directory. It holds open
// file handles until it's closed.
type Subscription struct {
	root    string
	opts    Options
	watcher watcher
	events  <-chan fsnotify.Event
	errors  <-chan error

	// pending holds changes discovered while handling another change, e.g.
	// the contents of a directory that was moved into the tree. It's only
	// accessed by Next.
	pending []ChangeEvent

	closeOnce goSync.Once
	closeErr  error
	closed    chan struct{}
}

// Subscribe starts watching `root`.
func Subscribe(root string, opts Options) (*Subscription, error) {
	paths := []string{root}
	if opts.Recursive {
		subdirs, err := getSubdirectories(root)
		if err != nil {
			return nil, errors.WatchSubscriptionError{Root: root,
				Cause: errors.WithContext(err, "get subdirs")}
		}
		paths = append(paths, subdirs...)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.WatchSubscriptionError{Root: root,
			Cause: errors.WithContext(err, "create watcher")}
	}

	for _, path := range paths {
		if err := w.Add(path); err != nil {
			// Close the watcher so that we release the file handlers for the
			// previously added paths.
			if err := w.Close(); err != nil {
				log.WithError(err).Warn("Failed to close file watcher")
			}

			return nil, errors.WatchSubscriptionError{Root: root,
				Cause: errors.WithContext(err, fmt.Sprintf("watch %q", path))}
		}
	}
	return newSubscription(root, opts, w, w.Events, w.Errors), nil
}

func newSubscription(root string, opts Options, w watcher,
	events <-chan fsnotify.Event, errs <-chan error) *Subscription {
	return &Subscription{
		root:    root,
		opts:    opts,
		watcher: w,
		events:  events,
		errors:  errs,
		closed:  make(chan struct{}),
	}
}

// Root returns the watched directory.
func (s *Subscription) Root() string {
	return s.root
}

// Next blocks until the next change is available.
// It returns errors.ErrCancelled if the subscription is closed or the context
// is cancelled while waiting, and a WatchSubscriptionError if the underlying
// watcher fails. After a WatchSubscriptionError, changes may have been missed
// and the subscription should be closed.
// Next must not be called concurrently.
func (s *Subscription) Next(ctx context.Context) (ChangeEvent, error) {
	for {
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}

		select {
		case <-ctx.Done():
			return ChangeEvent{}, errors.ErrCancelled
		case <-s.closed:
			return ChangeEvent{}, errors.ErrCancelled
		case raw, ok := <-s.events:
			if !ok {
				return ChangeEvent{}, errors.ErrCancelled
			}

			ev, ok := s.translate(raw)
			if !ok {
				continue
			}

			if s.opts.Recursive && ev.Type == Created {
				if err := s.track(ev.Path); err != nil {
					return ChangeEvent{}, err
				}
			}
			return ev, nil
		case err, ok := <-s.errors:
			if !ok {
				return ChangeEvent{}, errors.ErrCancelled
			}
			return ChangeEvent{}, errors.WatchSubscriptionError{Root: s.root, Cause: err}
		}
	}
}

// Close releases the watcher. It's safe to call multiple times, and from any
// goroutine. Blocked calls to Next return errors.ErrCancelled.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.closeErr = s.watcher.Close()
	})
	return s.closeErr
}

func (s *Subscription) translate(raw fsnotify.Event) (ChangeEvent, bool) {
	path, err := sync.NewRelativePath(s.root, raw.Name)
	if err != nil || path == "" {
		// Changes to the root itself aren't mirrored.
		return ChangeEvent{}, false
	}

	switch {
	case raw.Op&fsnotify.Create != 0:
		return ChangeEvent{Type: Created, Path: path}, true
	case raw.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		return ChangeEvent{Type: Deleted, Path: path}, true
	case raw.Op&(fsnotify.Write|fsnotify.Chmod) != 0:
		return ChangeEvent{Type: Modified, Path: path}, true
	default:
		return ChangeEvent{}, false
	}
}

// track starts watching a directory that was created after the subscription
// started. Anything that was already inside it by the time the watch is
// added wouldn't generate events, so it's reported as created.
func (s *Subscription) track(path sync.RelativePath) error {
	dir := path.Under(s.root)
	fi, err := fs.Stat(dir)
	if err != nil || !fi.IsDir() {
		return nil
	}

	var discovered []ChangeEvent
	err = afero.Walk(fs, dir, func(child string, fi os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}

		if fi.IsDir() {
			if err := s.watcher.Add(child); err != nil {
				return errors.WithContext(err, fmt.Sprintf("watch %q", child))
			}
		}

		if child == dir {
			return nil
		}

		relPath, err := sync.NewRelativePath(s.root, child)
		if err != nil {
			return errors.WithContext(err, "normalize path")
		}
		discovered = append(discovered, ChangeEvent{Type: Created, Path: relPath})
		return nil
	})
	if err != nil {
		return errors.WatchSubscriptionError{Root: s.root, Cause: err}
	}

	s.pending = append(s.pending, discovered...)
	return nil
}

// ToOperation returns the operation that applies `ev` to the mirror of the
// tree at `root`.
// Created and modified paths are looked up in the source tree to decide
// whether they're files or directories. Deleted paths can't be looked up, so
// they're removed recursively, which covers both kinds.
func ToOperation(root string, ev ChangeEvent) sync.Operation {
	if ev.Type == Deleted {
		return sync.Operation{Type: sync.DeleteDirRecursive, Path: ev.Path}
	}

	fi, err := fs.Stat(ev.Path.Under(root))
	switch {
	case err != nil && os.IsNotExist(err):
		// The path was removed again before we got to it.
		return sync.Operation{Type: sync.DeleteDirRecursive, Path: ev.Path}
	case err == nil && fi.IsDir():
		return sync.Operation{Type: sync.CreateDir, Path: ev.Path}
	default:
		return sync.Operation{Type: sync.CopyFile, Path: ev.Path}
	}
}

func getSubdirectories(root string) (paths []string, err error) {
	err = afero.Walk(fs, root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return errors.WithContext(err, "walk error")
		}

		if path != root && fi.IsDir() {
			paths = append(paths, path)
		}
		return nil
	})
	return paths, err
}
