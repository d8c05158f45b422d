package errors

import (
	"fmt"
)

// ErrCancelled is returned when a blocking operation was interrupted because
// the session was stopped. It's the expected way for monitoring to end, and
// isn't reported to the user as a failure.
var ErrCancelled = New("cancelled")

// FileNotFound represents when we were unable to access a file
// because the path didn't exist.
type FileNotFound struct {
	Path string
}

func (err FileNotFound) Error() string {
	return fmt.Sprintf("%q does not exist", err.Path)
}

// InvalidSource is returned when a session is started on a source root that
// doesn't exist or isn't a directory.
type InvalidSource struct {
	Path   string
	Reason string
}

func (err InvalidSource) Error() string {
	return fmt.Sprintf("invalid source %q: %s", err.Path, err.Reason)
}

func (err InvalidSource) FriendlyMessage() string {
	return fmt.Sprintf("Cannot mirror %q: %s.", err.Path, err.Reason)
}

// InvalidTarget is returned when the target root can't hold a mirror of the
// source, e.g. because it's nested inside the source.
type InvalidTarget struct {
	Path   string
	Reason string
}

func (err InvalidTarget) Error() string {
	return fmt.Sprintf("invalid target %q: %s", err.Path, err.Reason)
}

func (err InvalidTarget) FriendlyMessage() string {
	return fmt.Sprintf("Cannot mirror into %q: %s.", err.Path, err.Reason)
}

// TreeWalkError is returned when indexing a tree fails. The partially built
// index is discarded.
type TreeWalkError struct {
	Root  string
	Cause error
}

func (err TreeWalkError) Error() string {
	return fmt.Sprintf("walk %q: %s", err.Root, err.Cause)
}

func (err TreeWalkError) Unwrap() error {
	return err.Cause
}

// IOError is the failure of a single apply operation. It only affects the
// operation that produced it.
type IOError struct {
	Op    string
	Path  string
	Cause error
}

func (err IOError) Error() string {
	return fmt.Sprintf("%s %s: %s", err.Op, err.Path, err.Cause)
}

func (err IOError) Unwrap() error {
	return err.Cause
}

// WatchSubscriptionError means the filesystem notifications for a root can no
// longer be trusted. Live monitoring ends when it occurs.
type WatchSubscriptionError struct {
	Root  string
	Cause error
}

func (err WatchSubscriptionError) Error() string {
	return fmt.Sprintf("watch %q: %s", err.Root, err.Cause)
}

func (err WatchSubscriptionError) Unwrap() error {
	return err.Cause
}
