package sync

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sidkik/treemirror/cmd/util"
	"github.com/sidkik/treemirror/pkg/config"
	"github.com/sidkik/treemirror/pkg/errors"
	"github.com/sidkik/treemirror/pkg/progress"
	"github.com/sidkik/treemirror/pkg/session"
)

// flags holds the command line options. Options that are also configurable
// through the config file only take effect if they're explicitly set.
type flags struct {
	configPath    string
	noDelete      bool
	noWatch       bool
	recursive     bool
	compare       string
	modTimeWindow time.Duration
	exclude       []string
	noGUI         bool
	logPath       string
}

// New creates a new `sync` command.
func New() *cobra.Command {
	var opts flags
	cobraCmd := &cobra.Command{
		Use:   "sync [source] [target]",
		Short: "Mirror a directory, and keep the mirror up to date",
		Long: `Make the target directory identical to the source directory, then
apply changes to the source as they happen until interrupted.

The source and target may also be set in a config file passed with --config.
Arguments and flags take precedence over the config file.`,
		Args: cobra.MaximumNArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			cwd, err := os.Getwd()
			if err != nil {
				util.HandleFatalError(errors.WithContext(err, "get working directory"))
			}

			cfg, err := getConfig(cwd, opts, args, cmd.Flags().Changed)
			if err != nil {
				util.HandleFatalError(err)
			}

			logFile, err := setupLogging(cwd, opts.logPath, cfg.Source)
			if err != nil {
				util.HandleFatalError(err)
			}
			if logFile != nil {
				defer logFile.Close()
			}

			var gui frontEnd = newSessionGUI()
			if opts.noGUI {
				gui = headlessGUI{out: os.Stdout}
			}

			if err := run(cfg, gui); err != nil {
				util.HandleFatalError(err)
			}
		},
	}

	cobraCmd.Flags().StringVarP(&opts.configPath, "config", "c", "",
		"Path to a session config file.")
	cobraCmd.Flags().BoolVar(&opts.noDelete, "no-delete", false,
		"Don't delete entries in the target that don't exist in the source.")
	cobraCmd.Flags().BoolVar(&opts.noWatch, "no-watch", false,
		"Exit after the initial sync rather than watching for changes.")
	cobraCmd.Flags().BoolVar(&opts.recursive, "recursive", false,
		"Watch for changes in subdirectories, not just the top level of the source.")
	cobraCmd.Flags().StringVar(&opts.compare, "compare", config.CompareAttributes,
		"How to decide whether a file changed: \"attributes\" compares size and "+
			"modification time, \"contents\" compares hashes.")
	cobraCmd.Flags().DurationVar(&opts.modTimeWindow, "mod-time-window", 0,
		"Treat modification times within this window as equal.")
	cobraCmd.Flags().StringArrayVar(&opts.exclude, "exclude", nil,
		"Don't mirror paths matching this glob pattern. Can be repeated, and "+
			"adds to the patterns in the config file.")
	cobraCmd.Flags().BoolVar(&opts.noGUI, "no-gui", false,
		"Print progress as plain lines instead of using the GUI.")
	cobraCmd.Flags().StringVar(&opts.logPath, "log-file", "",
		"Write logs to this file. Logs are discarded if it's not set.")
	return cobraCmd
}

// getConfig merges the config file, arguments, and flags into a single
// session config. Relative paths in arguments are evaluated relative to
// `cwd`.
func getConfig(cwd string, opts flags, args []string,
	changed func(string) bool) (config.Session, error) {

	cfg := config.DefaultSession()
	if opts.configPath != "" {
		path, err := config.ResolvePath(cwd, opts.configPath)
		if err != nil {
			return config.Session{}, errors.WithContext(err, "resolve config path")
		}

		cfg, err = config.ParseSession(path)
		if err != nil {
			if notFound, ok := errors.RootCause(err).(errors.FileNotFound); ok {
				return config.Session{}, errors.NewFriendlyError(
					"Config file not found at %q.", notFound.Path)
			}
			return config.Session{}, errors.WithContext(err, "parse config")
		}
	}

	for i, dst := range []*string{&cfg.Source, &cfg.Target} {
		if i >= len(args) {
			break
		}

		path, err := config.ResolvePath(cwd, args[i])
		if err != nil {
			return config.Session{}, errors.WithContext(err, "resolve path")
		}
		*dst = path
	}

	if changed("no-delete") {
		cfg.DeleteOrphans = !opts.noDelete
	}
	if changed("no-watch") {
		cfg.Watch = !opts.noWatch
	}
	if changed("recursive") {
		cfg.Recursive = opts.recursive
	}
	if changed("compare") {
		cfg.Compare = opts.compare
	}
	if changed("mod-time-window") {
		cfg.ModTimeWindow = config.Duration{Duration: opts.modTimeWindow}
	}
	cfg.Exclude = append(cfg.Exclude, opts.exclude...)

	if err := cfg.Validate(); err != nil {
		return config.Session{}, err
	}
	return cfg, nil
}

// setupLogging sends logrus output to the log file, if one is set. The
// terminal belongs to the GUI, so nothing is logged there.
func setupLogging(cwd, logPath, source string) (*os.File, error) {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,

		// Disable colors since we'll be logging to a file.
		DisableColors: true,
	})

	if logPath == "" {
		logrus.SetOutput(ioutil.Discard)
		return nil, nil
	}

	logPath, err := config.ResolvePath(cwd, logPath)
	if err != nil {
		return nil, errors.WithContext(err, "resolve log path")
	}

	// Otherwise every log line would be picked up by the watcher, and logged
	// again.
	if rel, err := filepath.Rel(source, logPath); err == nil && !strings.HasPrefix(rel, "..") {
		return nil, errors.NewFriendlyError("The log file %q can't be inside "+
			"the source directory.", logPath)
	}

	logFile, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.WithContext(err, "open log file")
	}
	logrus.SetOutput(logFile)
	return logFile, nil
}

// run starts the session, and shows its progress until either the session
// stops, or the user quits the front end.
func run(cfg config.Session, gui frontEnd) error {
	if cfg.Watch && cfg.Recursive {
		if err := setOpenFilesLimit(); err != nil {
			logrus.WithError(err).Warn("Failed to increase the kernel limit on open files. " +
				"Watching large trees may fail.")
		}
	}

	feed := progress.NewFeed(clockwork.NewRealClock(), cfg.HistoryLimit, logrus.StandardLogger())
	s, err := session.Start(context.Background(), cfg, feed)
	if err != nil {
		return friendlyStartError(err)
	}

	var group errgroup.Group
	group.Go(func() error {
		// Closing the feed lets the front end drain the final notifications
		// before exiting.
		defer feed.Close()
		return s.Wait()
	})
	group.Go(func() error {
		defer s.Stop()
		return gui.Run(s)
	})
	return group.Wait()
}

// friendlyStartError explains failures that are caused by the system's limits
// on watching files.
func friendlyStartError(err error) error {
	var watchErr errors.WatchSubscriptionError
	if !errors.As(err, &watchErr) {
		return err
	}

	// Linux returns ENOSPC when the inotify watch limit is reached.
	msg := watchErr.Error()
	if strings.Contains(msg, "too many open files") ||
		strings.Contains(msg, "no space left on device") {
		return errors.NewFriendlyError("Too many files to watch for changes in %q.\n"+
			"Increase the system's file watching limit, or run without --recursive "+
			"to only watch the top level of the source.", watchErr.Root)
	}
	return err
}

// Recursive watches hold a descriptor per directory on some platforms. The
// soft limit is raised towards this value, which is the most macOS accepts
// (OPEN_MAX) even though Getrlimit reports a far higher hard limit.
const wantOpenFiles = 10240

// setOpenFilesLimit raises the soft limit on open files. It never lowers a
// limit that's already high enough.
func setOpenFilesLimit() error {
	var limit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit); err != nil {
		return errors.WithContext(err, "get current limit")
	}

	raised, ok := raiseOpenFilesLimit(limit)
	if !ok {
		return nil
	}

	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &raised); err != nil {
		return errors.WithContext(err, "set limit")
	}
	logrus.WithField("limit", raised.Cur).Debug("Raised open files limit")
	return nil
}

// raiseOpenFilesLimit returns the limit to set, and false if `limit` needn't
// change.
func raiseOpenFilesLimit(limit syscall.Rlimit) (syscall.Rlimit, bool) {
	want := uint64(wantOpenFiles)
	if limit.Max < want {
		want = limit.Max
	}

	if limit.Cur >= want {
		return limit, false
	}
	limit.Cur = want
	return limit, true
}
