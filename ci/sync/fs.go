package sync

import (
	"fmt"
	"io/ioutil"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ghodss/yaml"

	"github.com/sidkik/treemirror/pkg/config"
	"github.com/sidkik/treemirror/pkg/errors"
)

type file struct {
	path     string
	contents string
	mode     os.FileMode
	modTime  time.Time
}

func (f file) WithPath(path string) file {
	f.path = path
	return f
}

func (f file) WithContents(contents string) file {
	f.contents = contents
	return f
}

func (f file) WithMode(mode os.FileMode) file {
	f.mode = mode
	return f
}

func (f file) WithModTime(modTime time.Time) file {
	f.modTime = modTime
	return f
}

func randomFile(path string) file {
	randomTime := time.Date(2019, 11, 10, rand.Intn(23), rand.Intn(59), rand.Intn(59), 0, time.UTC)
	return file{
		path:     path,
		contents: strconv.Itoa(rand.Int()),
		mode:     os.FileMode(0640 | rand.Intn(8)),
		modTime:  randomTime,
	}
}

// mockFs contains helper methods for creating temporary source and target
// trees for testing.
type mockFs struct {
	root   string
	source string
	target string

	// staging is outside the source, so that files can be written there and
	// then moved into the source in a single step.
	staging string
}

type fsOp func(mockFs) error

func newMockFs() (mockFs, error) {
	root, err := ioutil.TempDir("", "treemirror-sync-test")
	if err != nil {
		return mockFs{}, errors.WithContext(err, "make root dir")
	}

	fs := mockFs{
		root:    root,
		source:  filepath.Join(root, "source"),
		target:  filepath.Join(root, "target"),
		staging: filepath.Join(root, "staging"),
	}
	for _, dir := range []string{fs.source, fs.staging} {
		if err := os.Mkdir(dir, 0755); err != nil {
			return mockFs{}, errors.WithContext(err, "make directory")
		}
	}
	return fs, nil
}

func (fs mockFs) cleanup() error {
	return os.RemoveAll(fs.root)
}

func (fs mockFs) writeConfig(cfg config.Session) (string, error) {
	yamlBytes, err := yaml.Marshal(cfg)
	if err != nil {
		return "", errors.WithContext(err, "marshal")
	}

	path := filepath.Join(fs.root, "treemirror.yaml")
	return path, ioutil.WriteFile(path, yamlBytes, 0644)
}

// createFile writes the file to the staging directory, and then moves it into
// the source.
func createFile(toCreate file) fsOp {
	return func(fs mockFs) error {
		staged := filepath.Join(fs.staging, filepath.Base(toCreate.path))
		if err := writeFile(staged, toCreate); err != nil {
			return errors.WithContext(err, "write")
		}

		dst := filepath.Join(fs.source, toCreate.path)
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return errors.WithContext(err, "make parent")
		}
		return os.Rename(staged, dst)
	}
}

func writeFile(path string, f file) error {
	if err := ioutil.WriteFile(path, []byte(f.contents), 0600); err != nil {
		return errors.WithContext(err, "write")
	}

	if err := os.Chmod(path, f.mode); err != nil {
		return errors.WithContext(err, "chmod")
	}

	if err := os.Chtimes(path, time.Now(), f.modTime); err != nil {
		return errors.WithContext(err, "chtimes")
	}
	return nil
}

func removeFile(f string) fsOp {
	return func(fs mockFs) error {
		return os.Remove(filepath.Join(fs.source, f))
	}
}

func readFile(root, path string) (file, bool, error) {
	fullPath := filepath.Join(root, path)
	fi, err := os.Stat(fullPath)
	if os.IsNotExist(err) {
		return file{}, false, nil
	}
	if err != nil {
		return file{}, false, errors.WithContext(err, "stat")
	}

	contents, err := ioutil.ReadFile(fullPath)
	if err != nil {
		return file{}, false, errors.WithContext(err, "read")
	}

	return file{
		path:     path,
		contents: string(contents),
		mode:     fi.Mode(),
		modTime:  fi.ModTime().UTC(),
	}, true, nil
}

type targetAssertion func(fs mockFs) error

func shouldExist(exp file) targetAssertion {
	return func(fs mockFs) error {
		actual, exists, err := readFile(fs.target, exp.path)
		if err != nil {
			return errors.WithContext(err, "read target file")
		}

		if !exists {
			return fmt.Errorf("file %q does not exist", exp.path)
		}

		if actual != exp {
			return fmt.Errorf("Expected file %v, got %v", exp, actual)
		}
		return nil
	}
}

func shouldNotExist(exp file) targetAssertion {
	return func(fs mockFs) error {
		_, exists, err := readFile(fs.target, exp.path)
		if err != nil {
			return errors.WithContext(err, "read target file")
		}

		if exists {
			return fmt.Errorf("file %q exists", exp.path)
		}
		return nil
	}
}
