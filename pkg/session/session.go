// Package session runs a mirroring session: an initial reconciliation of the
// target against the source, followed by applying changes to the source as
// they're observed.
package session

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	goSync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/treemirror/pkg/config"
	"github.com/sidkik/treemirror/pkg/errors"
	"github.com/sidkik/treemirror/pkg/fswatch"
	"github.com/sidkik/treemirror/pkg/progress"
	"github.com/sidkik/treemirror/pkg/sync"
)

var fs = afero.NewOsFs()

// The following are overridden in unit tests.
var (
	buildIndex = sync.BuildIndex
	newApplier = func(source, target string) sync.Applier {
		return sync.Executor{SourceRoot: source, TargetRoot: target}
	}
	subscribe = func(root string, opts fswatch.Options) (subscription, error) {
		sub, err := fswatch.Subscribe(root, opts)
		if err != nil {
			return nil, err
		}
		return sub, nil
	}
)

// subscription is the part of fswatch.Subscription used by the session.
type subscription interface {
	Next(context.Context) (fswatch.ChangeEvent, error)
	Close() error
}

// State is the lifecycle stage of a Session.
type State int

const (
	// Idle is the state before the session goroutine starts.
	Idle State = iota

	// InitialSync means the target is being reconciled against the source.
	InitialSync

	// Monitoring means the initial sync finished, and changes to the source
	// are being applied as they happen.
	Monitoring

	// Stopped is terminal.
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case InitialSync:
		return "Initial Sync"
	case Monitoring:
		return "Monitoring"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Session mirrors a source directory into a target directory. All
// operations are applied by a single goroutine, one at a time.
type Session struct {
	id      string
	cfg     config.Session
	feed    *progress.Feed
	applier sync.Applier
	equal   sync.FileComparator
	exclude sync.Excluder
	sub     subscription
	log     *log.Entry

	startedAt time.Time

	lock  goSync.Mutex
	state State
	err   error

	cancel   context.CancelFunc
	stopOnce goSync.Once
	done     chan struct{}
}

// Start validates the configuration, and starts mirroring in the background.
// Progress is published to `feed`. If `feed` is nil, a new one is created
// and is available through Feed.
//
// The watcher is subscribed before the initial scan so that changes made
// while the scan is running aren't missed.
func Start(ctx context.Context, cfg config.Session, feed *progress.Feed) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	exclude, err := sync.NewExcluder(cfg.Exclude)
	if err != nil {
		return nil, errors.NewFriendlyError("%s.", err)
	}

	source, target, err := checkRoots(cfg.Source, cfg.Target)
	if err != nil {
		return nil, err
	}
	cfg.Source, cfg.Target = source, target

	if feed == nil {
		feed = progress.NewFeed(clockwork.NewRealClock(), cfg.HistoryLimit, nil)
	}

	equal := sync.AttributesEqual(cfg.ModTimeWindow.Duration)
	if cfg.Compare == config.CompareContents {
		equal = sync.ContentsEqual(source, target)
	}

	id := uuid.New().String()
	s := &Session{
		id:      id,
		cfg:     cfg,
		feed:    feed,
		applier: newApplier(source, target),
		equal:   equal,
		exclude: exclude,
		log: log.WithFields(log.Fields{
			"session": id,
			"source":  source,
			"target":  target,
		}),
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}

	if cfg.Watch {
		s.sub, err = subscribe(source, fswatch.Options{Recursive: cfg.Recursive})
		if err != nil {
			return nil, err
		}
	}

	// The target is only created once nothing else can prevent the session
	// from starting.
	if err := sync.EnsureRoot(target); err != nil {
		s.closeSubscription()
		return nil, errors.InvalidTarget{Path: target, Reason: err.Error()}
	}

	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)
	return s, nil
}

// checkRoots returns the absolute paths of the source and target. The target
// doesn't need to exist, but if it does it must be a directory.
func checkRoots(source, target string) (string, string, error) {
	source, err := filepath.Abs(source)
	if err != nil {
		return "", "", errors.InvalidSource{Path: source, Reason: err.Error()}
	}

	fi, err := fs.Stat(source)
	switch {
	case err != nil:
		return "", "", errors.InvalidSource{Path: source, Reason: "it does not exist"}
	case !fi.IsDir():
		return "", "", errors.InvalidSource{Path: source, Reason: "it is not a directory"}
	}

	target, err = filepath.Abs(target)
	if err != nil {
		return "", "", errors.InvalidTarget{Path: target, Reason: err.Error()}
	}

	// The target can't overlap the source. Otherwise the session would
	// observe its own writes, or delete the source as an orphan.
	switch {
	case target == source:
		return "", "", errors.InvalidTarget{Path: target,
			Reason: "it is the same as the source directory"}
	case isWithin(source, target):
		return "", "", errors.InvalidTarget{Path: target,
			Reason: "it is inside the source directory"}
	case isWithin(target, source):
		return "", "", errors.InvalidTarget{Path: target,
			Reason: "it contains the source directory"}
	}

	if fi, err := fs.Stat(target); err == nil && !fi.IsDir() {
		return "", "", errors.InvalidTarget{Path: target, Reason: "exists and is not a directory"}
	}
	return source, target, nil
}

func isWithin(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ID returns the unique identifier of the session.
func (s *Session) ID() string {
	return s.id
}

// Config returns the configuration of the session, with absolute source and
// target paths.
func (s *Session) Config() config.Session {
	return s.cfg
}

// StartedAt returns when the session was started.
func (s *Session) StartedAt() time.Time {
	return s.startedAt
}

// Feed returns the feed that the session publishes its progress to.
func (s *Session) Feed() *progress.Feed {
	return s.feed
}

// State returns the current lifecycle stage.
func (s *Session) State() State {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.state
}

// Done is closed once the session has stopped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session stops, and returns the error that stopped
// it. Sessions that are stopped with Stop, or that finish their initial sync
// with watching disabled, return nil.
func (s *Session) Wait() error {
	<-s.done

	s.lock.Lock()
	defer s.lock.Unlock()
	return s.err
}

// Stop cancels the session and waits for it to exit. An operation that's in
// progress is allowed to finish first. It's safe to call Stop multiple
// times.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.closeSubscription()
	})
	<-s.done
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.closeSubscription()

	err := s.runUntilStopped(ctx)
	if errors.Is(err, errors.ErrCancelled) {
		err = nil
	}

	s.lock.Lock()
	s.err = err
	s.lock.Unlock()

	s.setState(Stopped)
	s.feed.Info("", "Session stopped")
}

func (s *Session) runUntilStopped(ctx context.Context) error {
	s.setState(InitialSync)
	s.feed.Info("", "Initial sync of %s to %s started", s.cfg.Source, s.cfg.Target)

	summary, err := s.initialSync(ctx)
	if err != nil {
		if !errors.Is(err, errors.ErrCancelled) {
			s.feed.Error("", err)
		}
		return err
	}
	s.feed.Info("", "Initial sync finished: %d applied, %d failed",
		summary.Applied, summary.Failed)

	if s.sub == nil {
		return nil
	}

	s.setState(Monitoring)
	s.feed.Info("", "Monitoring for changes")
	for {
		ev, err := s.sub.Next(ctx)
		if err != nil {
			if !errors.Is(err, errors.ErrCancelled) {
				s.feed.Error("", err)
			}
			return err
		}

		if s.exclude.Excludes(ev.Path) {
			s.log.WithField("path", ev.Path).Debug("Ignoring change to excluded path")
			continue
		}

		op := fswatch.ToOperation(s.cfg.Source, ev)
		if op.IsDelete() && !s.cfg.DeleteOrphans {
			s.log.WithField("path", op.Path).Debug("Ignoring deletion because deleteOrphans is disabled")
			continue
		}
		s.report(op, s.applier.Apply(op), describeChange)
	}
}

func (s *Session) initialSync(ctx context.Context) (sync.Summary, error) {
	if ctx.Err() != nil {
		return sync.Summary{}, errors.ErrCancelled
	}

	source, err := buildIndex(s.cfg.Source, sync.IndexOptions{Exclude: s.exclude, FollowSymlinks: true})
	if err != nil {
		return sync.Summary{}, err
	}

	target, err := buildIndex(s.cfg.Target, sync.IndexOptions{Exclude: s.exclude})
	if err != nil {
		return sync.Summary{}, err
	}

	ops := sync.Diff(source, target, s.equal, sync.DiffOptions{DeleteOrphans: s.cfg.DeleteOrphans})
	s.log.WithField("operations", len(ops)).Debug("Computed initial sync")
	return sync.Apply(ctx, ops, s.applier, func(op sync.Operation, err error) {
		s.report(op, err, describe)
	})
}

func (s *Session) report(op sync.Operation, err error, describe func(sync.Operation) string) {
	if err != nil {
		s.feed.Error(op.Path, err)
		return
	}
	s.feed.Info(op.Path, "%s", describe(op))
}

// describeChange describes an operation applied in response to a watch
// event. Deletions are removed recursively whatever the kind of the entry,
// which is unknown once it's gone from the source.
func describeChange(op sync.Operation) string {
	if op.Type == sync.DeleteDirRecursive {
		return "Deleted"
	}
	return describe(op)
}

func describe(op sync.Operation) string {
	switch op.Type {
	case sync.CreateDir:
		return "Created directory"
	case sync.CopyFile:
		return "Copied file"
	case sync.DeleteFile:
		return "Deleted file"
	case sync.DeleteDirRecursive:
		return "Deleted directory"
	default:
		return fmt.Sprintf("Applied %s", op.Type)
	}
}

func (s *Session) setState(state State) {
	s.lock.Lock()
	s.state = state
	s.lock.Unlock()

	s.log.WithField("state", state).Debug("Session state changed")
}

func (s *Session) closeSubscription() {
	if s.sub == nil {
		return
	}

	if err := s.sub.Close(); err != nil {
		s.log.WithError(err).Warn("Failed to close file watcher")
	}
}
