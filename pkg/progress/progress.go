// Package progress implements the stream of human-readable notifications that
// a mirroring session produces for its front end.
package progress

import (
	"context"
	"fmt"
	"io"
	goSync "sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/sidkik/treemirror/pkg/sync"
)

// DefaultLimit is the number of notifications a Feed retains by default.
const DefaultLimit = 1024

// Kind classifies a Notification.
type Kind int

const (
	// Info notifications report progress.
	Info Kind = iota

	// Error notifications report failures.
	Error
)

func (kind Kind) String() string {
	if kind == Error {
		return "error"
	}
	return "info"
}

// Notification is a single progress or error record.
type Notification struct {
	Time time.Time
	Kind Kind

	// Path is the entry the notification is about. It's empty for
	// notifications about the session as a whole.
	Path sync.RelativePath

	Message string
}

func (n Notification) String() string {
	if n.Path == "" {
		return n.Message
	}
	return fmt.Sprintf("%s: %s", n.Path, n.Message)
}

// Feed is an append-only log of notifications. Publishing never blocks:
// subscribers read at their own pace through a Cursor, and a subscriber that
// falls more than `limit` notifications behind skips the ones that were
// dropped.
type Feed struct {
	clock clockwork.Clock
	limit int
	log   *logrus.Logger

	lock    goSync.Mutex
	records []Notification

	// offset is the sequence number of records[0].
	offset int

	// changed is closed, and replaced, whenever a notification is published
	// or the feed is closed.
	changed chan struct{}
	closed  bool
}

// NewFeed creates a Feed that timestamps notifications with `clock`, and
// mirrors every notification to `log`.
func NewFeed(clock clockwork.Clock, limit int, log *logrus.Logger) *Feed {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Feed{
		clock:   clock,
		limit:   limit,
		log:     log,
		changed: make(chan struct{}),
	}
}

// Publish appends `n` to the feed, and logs it. Notifications published
// after Close are dropped.
func (f *Feed) Publish(n Notification) {
	if n.Time.IsZero() {
		n.Time = f.clock.Now()
	}

	f.lock.Lock()
	if f.closed {
		f.lock.Unlock()
		return
	}

	f.records = append(f.records, n)
	if drop := len(f.records) - f.limit; drop > 0 {
		// The dropped records are released once append reallocates.
		f.records = f.records[drop:]
		f.offset += drop
	}
	f.broadcast()
	f.lock.Unlock()

	entry := f.log.WithField("time", n.Time)
	if n.Path != "" {
		entry = entry.WithField("path", n.Path)
	}
	if n.Kind == Error {
		entry.Error(n.Message)
	} else {
		entry.Info(n.Message)
	}
}

// Info publishes an Info notification.
func (f *Feed) Info(path sync.RelativePath, format string, args ...interface{}) {
	f.Publish(Notification{Kind: Info, Path: path, Message: fmt.Sprintf(format, args...)})
}

// Error publishes an Error notification describing `err`.
func (f *Feed) Error(path sync.RelativePath, err error) {
	f.Publish(Notification{Kind: Error, Path: path, Message: err.Error()})
}

// Close marks the end of the feed. Cursors return io.EOF once they've read
// every retained notification.
func (f *Feed) Close() {
	f.lock.Lock()
	defer f.lock.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	f.broadcast()
}

func (f *Feed) broadcast() {
	close(f.changed)
	f.changed = make(chan struct{})
}

// Subscribe returns a Cursor positioned at the oldest retained notification.
// Each Cursor is independent, so every subscriber sees the whole feed.
func (f *Feed) Subscribe() *Cursor {
	f.lock.Lock()
	defer f.lock.Unlock()
	return &Cursor{feed: f, next: f.offset}
}

// Cursor reads a Feed in order.
type Cursor struct {
	feed *Feed
	next int
}

// Next blocks until the next notification is available. It returns io.EOF
// after the feed is closed and drained, or the context's error if it's
// cancelled first.
func (c *Cursor) Next(ctx context.Context) (Notification, error) {
	for {
		f := c.feed
		f.lock.Lock()
		if c.next < f.offset {
			c.next = f.offset
		}

		if i := c.next - f.offset; i < len(f.records) {
			n := f.records[i]
			c.next++
			f.lock.Unlock()
			return n, nil
		}

		if f.closed {
			f.lock.Unlock()
			return Notification{}, io.EOF
		}

		changed := f.changed
		f.lock.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return Notification{}, ctx.Err()
		}
	}
}
