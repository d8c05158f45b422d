package config

import (
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	homedir "github.com/mitchellh/go-homedir"

	"github.com/sidkik/treemirror/pkg/errors"
)

const (
	// InitialSessionConfigVersion is the first version of the session
	// config. Config files that do not specify a version will default to
	// this version.
	InitialSessionConfigVersion = "v1alpha1"

	// SupportedSessionConfigVersion is the session config version understood
	// by this binary.
	SupportedSessionConfigVersion = "v1alpha1"

	// CompareAttributes treats files as equal when their size and
	// modification time match.
	CompareAttributes = "attributes"

	// CompareContents treats files as equal when their contents hash to the
	// same value.
	CompareContents = "contents"
)

// Session configures a mirroring session.
type Session struct {
	Version string `json:"version,omitempty"`

	// Source is the directory that's mirrored. Required.
	Source string `json:"source"`

	// Target is the directory that's kept identical to Source. Required.
	Target string `json:"target"`

	// DeleteOrphans removes entries in Target that don't exist in Source.
	DeleteOrphans bool `json:"deleteOrphans"`

	// Watch keeps the session running after the initial sync, applying
	// changes as they happen.
	Watch bool `json:"watch"`

	// Recursive watches subdirectories of Source in addition to its direct
	// children.
	Recursive bool `json:"recursive"`

	// Compare is either CompareAttributes or CompareContents.
	Compare string `json:"compare,omitempty"`

	// ModTimeWindow is the tolerance used when comparing modification times.
	// Useful when the target filesystem stores timestamps at a coarser
	// resolution than the source.
	ModTimeWindow Duration `json:"modTimeWindow,omitempty"`

	// HistoryLimit is the number of progress notifications retained for
	// late subscribers.
	HistoryLimit int `json:"historyLimit,omitempty"`

	// Exclude lists glob patterns for paths that are never mirrored. Patterns
	// without a slash match entry names at any depth.
	Exclude []string `json:"exclude,omitempty"`

	// Only populated by ParseSession. Never set by the user.
	path string
}

// homedirExpand will be overridden in mock tests
var homedirExpand = homedir.Expand

// DefaultSession returns the configuration used for any field that isn't
// explicitly set.
func DefaultSession() Session {
	return Session{
		Version:       InitialSessionConfigVersion,
		DeleteOrphans: true,
		Watch:         true,
		Compare:       CompareAttributes,
	}
}

// GetPath returns the filepath that the config was parsed from. A getter
// method is used rather than making the field public so that it can't get set
// by the yaml Unmarshalling.
func (c Session) GetPath() string {
	return c.path
}

func (c Session) getVersion() string {
	return c.Version
}

// ParseSession parses the session config stored at `path`. Relative source
// and target paths are evaluated relative to the directory containing the
// config.
func ParseSession(path string) (Session, error) {
	config := DefaultSession()
	config.path = path
	if err := decodeFile(path, &config, SupportedSessionConfigVersion); err != nil {
		return Session{}, errors.WithContext(err, "parse")
	}

	var err error
	config.Source, err = ResolvePath(filepath.Dir(path), config.Source)
	if err != nil {
		return Session{}, errors.WithContext(err, "resolve source")
	}

	config.Target, err = ResolvePath(filepath.Dir(path), config.Target)
	if err != nil {
		return Session{}, errors.WithContext(err, "resolve target")
	}
	return config, nil
}

// ResolvePath expands ~'s in `path`, and evaluates it relative to `base` if
// it's not absolute. Empty paths are left empty.
func ResolvePath(base, path string) (string, error) {
	if path == "" {
		return "", nil
	}

	path, err := homedirExpand(path)
	if err != nil {
		return "", errors.WithContext(err, "expand homedir")
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(base, path)
	}
	return filepath.Clean(path), nil
}

// Validate checks that the config describes a session that can be started.
// It doesn't touch the filesystem.
func (c Session) Validate() error {
	if c.Source == "" {
		return errors.NewFriendlyError("No source directory was specified.\n" +
			"Pass it as the first argument, or set the source field in the config.")
	}

	if c.Target == "" {
		return errors.NewFriendlyError("No target directory was specified.\n" +
			"Pass it as the second argument, or set the target field in the config.")
	}

	if c.Compare != CompareAttributes && c.Compare != CompareContents {
		return errors.NewFriendlyError("Unknown compare mode %q. "+
			"Expected %q or %q.", c.Compare, CompareAttributes, CompareContents)
	}

	if c.ModTimeWindow.Duration < 0 {
		return errors.NewFriendlyError("The modification time window "+
			"must not be negative (got %s).", c.ModTimeWindow)
	}

	if c.HistoryLimit < 0 {
		return errors.NewFriendlyError("The history limit must not be "+
			"negative (got %d).", c.HistoryLimit)
	}

	for _, pattern := range c.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return errors.NewFriendlyError("Invalid exclude pattern %q.", pattern)
		}
	}
	return nil
}

// Duration is a time.Duration that's represented in config files as a
// string, such as "2s".
type Duration struct {
	time.Duration
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New(`durations must be strings, such as "2s"`)
	}

	parsed, err := time.ParseDuration(str)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}
