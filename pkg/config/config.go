package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/spf13/afero"

	"github.com/sidkik/treemirror/pkg/errors"
)

// badYAMLTemplate is shown when a config file can't be decoded. The yaml
// library's errors don't carry the offending line, so the raw message is
// passed through after a list of the usual causes.
const badYAMLTemplate = "Failed to parse the config file at %q.\n" +
	"Check that:\n" +
	" - every field is spelled like in `treemirror sync --help`\n" +
	" - durations are quoted strings, such as \"2s\"\n" +
	" - paths and patterns containing `*` are quoted\n\n" +
	"Parser error: %s"

// versioned is implemented by every config file type.
type versioned interface {
	getVersion() string
}

// versionError is returned for config files written for another version of
// the config format.
type versionError struct {
	path, want, got string
}

func (err versionError) Error() string {
	return err.FriendlyMessage()
}

func (err versionError) FriendlyMessage() string {
	return fmt.Sprintf("The config file at %q has version %q, but this "+
		"version of treemirror only understands %q.", err.path, err.got, err.want)
}

// decodeFile reads the YAML file at `path` into `out`. Fields that are
// missing from the file keep the values already in `out`.
//
// The file is decoded twice. The lenient pass lets version mismatches be
// reported ahead of unknown fields, which are usually caused by the
// mismatch. The strict pass then rejects unknown fields.
func decodeFile(path string, out versioned, wantVersion string) error {
	contents, err := afero.ReadFile(fs, path)
	switch {
	case os.IsNotExist(err):
		return errors.FileNotFound{Path: path}
	case err != nil:
		return errors.WithContext(err, "read file")
	}

	if err := yaml.Unmarshal(contents, out); err != nil {
		return badYAML(path, err)
	}

	if got := out.getVersion(); got != wantVersion {
		return versionError{path: path, want: wantVersion, got: got}
	}

	if err := yaml.UnmarshalStrict(contents, out, yaml.DisallowUnknownFields); err != nil {
		return badYAML(path, err)
	}
	return nil
}

func badYAML(path string, err error) error {
	msg := strings.TrimPrefix(err.Error(), "error unmarshaling JSON: ")
	return errors.NewFriendlyError(badYAMLTemplate, path, msg)
}
