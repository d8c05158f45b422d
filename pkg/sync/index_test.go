package sync

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/treemirror/pkg/errors"
)

func TestBuildIndex(t *testing.T) {
	useMemFs(t)
	writeTree(t, "/src", map[string]string{
		"a.txt":           "a",
		"empty/":          "",
		"dir/x.txt":       "xx",
		"dir/sub/y.txt":   "yyy",
		"dir/sub/deeper/": "",
	})

	index, err := BuildIndex("/src", IndexOptions{FollowSymlinks: true})
	require.NoError(t, err)
	assert.Equal(t, map[RelativePath]EntryKind{
		"a.txt":          File,
		"empty":          Directory,
		"dir":            Directory,
		"dir/x.txt":      File,
		"dir/sub":        Directory,
		"dir/sub/y.txt":  File,
		"dir/sub/deeper": Directory,
	}, kinds(index))
	assert.Equal(t, int64(3), index["dir/sub/y.txt"].Size)
}

func TestBuildIndexEmptyRoot(t *testing.T) {
	useMemFs(t)
	require.NoError(t, fs.MkdirAll("/empty", 0755))

	index, err := BuildIndex("/empty", IndexOptions{})
	assert.NoError(t, err)
	assert.Empty(t, index)
}

func TestBuildIndexErrors(t *testing.T) {
	useMemFs(t)
	require.NoError(t, afero.WriteFile(fs, "/file", []byte("contents"), 0644))

	tests := []struct {
		name string
		root string
	}{
		{"Missing", "/missing"},
		{"NotADirectory", "/file"},
	}
	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			index, err := BuildIndex(test.root, IndexOptions{})
			assert.Nil(t, index)

			var walkErr errors.TreeWalkError
			require.True(t, errors.As(err, &walkErr))
			assert.Equal(t, test.root, walkErr.Root)
		})
	}
}

func TestEnsureRoot(t *testing.T) {
	useMemFs(t)

	assert.NoError(t, EnsureRoot("/dst/nested"))
	exists, err := afero.DirExists(fs, "/dst/nested")
	assert.NoError(t, err)
	assert.True(t, exists)

	// Creating it again is a no-op.
	assert.NoError(t, EnsureRoot("/dst/nested"))

	require.NoError(t, afero.WriteFile(fs, "/file", nil, 0644))
	assert.Error(t, EnsureRoot("/file"))
}

func TestBuildIndexSymlinks(t *testing.T) {
	dir, err := ioutil.TempDir("", "index-test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	root := filepath.Join(dir, "root")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "linked", "child"), 0755))
	require.NoError(t, os.MkdirAll(root, 0755))
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "file"), []byte("contents"), 0644))
	require.NoError(t, os.Symlink(filepath.Join(dir, "linked"), filepath.Join(root, "dirlink")))
	require.NoError(t, os.Symlink(filepath.Join(dir, "file"), filepath.Join(root, "filelink")))
	require.NoError(t, os.Symlink(filepath.Join(dir, "missing"), filepath.Join(root, "dangling")))

	followed, err := BuildIndex(root, IndexOptions{FollowSymlinks: true})
	require.NoError(t, err)
	assert.Equal(t, map[RelativePath]EntryKind{
		"dirlink":  Directory,
		"filelink": File,
	}, kinds(followed))
	assert.Equal(t, int64(len("contents")), followed["filelink"].Size)

	unfollowed, err := BuildIndex(root, IndexOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[RelativePath]EntryKind{
		"dirlink":  File,
		"filelink": File,
		"dangling": File,
	}, kinds(unfollowed))
}
