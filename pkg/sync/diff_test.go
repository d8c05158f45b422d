package sync

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiff(t *testing.T) {
	modTime := time.Date(2019, 11, 10, 12, 0, 0, 0, time.UTC)
	file := fileEntry(10, modTime)
	mirrorOpts := DiffOptions{DeleteOrphans: true}

	tests := []struct {
		name   string
		source PathIndex
		target PathIndex
		opts   DiffOptions
		exp    []Operation
	}{
		{
			name:   "Already synced",
			source: PathIndex{"a.txt": file, "dir": dirEntry(), "dir/x.txt": file},
			target: PathIndex{"a.txt": file, "dir": dirEntry(), "dir/x.txt": file},
			opts:   mirrorOpts,
		},
		{
			name:   "Delete orphaned file only",
			source: PathIndex{"a.txt": file},
			target: PathIndex{"a.txt": file, "b.txt": file},
			opts:   mirrorOpts,
			exp:    []Operation{{DeleteFile, "b.txt"}},
		},
		{
			name:   "Directory before its contents",
			source: PathIndex{"dir/x.txt": file, "dir": dirEntry()},
			target: PathIndex{},
			opts:   mirrorOpts,
			exp:    []Operation{{CreateDir, "dir"}, {CopyFile, "dir/x.txt"}},
		},
		{
			name:   "Nested directories in order",
			source: PathIndex{"a/b/c": dirEntry(), "a": dirEntry(), "a/b": dirEntry(), "a.txt": file},
			target: PathIndex{},
			opts:   mirrorOpts,
			exp: []Operation{
				{CreateDir, "a"}, {CreateDir, "a/b"}, {CreateDir, "a/b/c"}, {CopyFile, "a.txt"},
			},
		},
		{
			name:   "Contents deleted before their directory",
			source: PathIndex{},
			target: PathIndex{"dir": dirEntry(), "dir/x.txt": file, "dir/sub": dirEntry(), "dir/sub/y": file},
			opts:   mirrorOpts,
			exp: []Operation{
				{DeleteFile, "dir/sub/y"},
				{DeleteDirRecursive, "dir/sub"},
				{DeleteFile, "dir/x.txt"},
				{DeleteDirRecursive, "dir"},
			},
		},
		{
			name:   "Modified file",
			source: PathIndex{"a.txt": fileEntry(11, modTime)},
			target: PathIndex{"a.txt": file},
			opts:   mirrorOpts,
			exp:    []Operation{{CopyFile, "a.txt"}},
		},
		{
			name:   "Touched file",
			source: PathIndex{"a.txt": fileEntry(10, modTime.Add(time.Minute))},
			target: PathIndex{"a.txt": file},
			opts:   mirrorOpts,
			exp:    []Operation{{CopyFile, "a.txt"}},
		},
		{
			name:   "File replaced by directory",
			source: PathIndex{"a": dirEntry(), "a/x": file},
			target: PathIndex{"a": file},
			opts:   mirrorOpts,
			exp:    []Operation{{DeleteFile, "a"}, {CreateDir, "a"}, {CopyFile, "a/x"}},
		},
		{
			name:   "Directory replaced by file",
			source: PathIndex{"a": file},
			target: PathIndex{"a": dirEntry(), "a/x": file},
			opts:   mirrorOpts,
			exp:    []Operation{{DeleteFile, "a/x"}, {DeleteDirRecursive, "a"}, {CopyFile, "a"}},
		},
		{
			name:   "Copy only mode keeps orphans",
			source: PathIndex{"a.txt": file},
			target: PathIndex{"a.txt": file, "b.txt": file, "dir": dirEntry()},
			exp:    nil,
		},
		{
			name:   "Copy only mode still replaces kind changes",
			source: PathIndex{"a": dirEntry()},
			target: PathIndex{"a": file, "b": file},
			exp:    []Operation{{DeleteFile, "a"}, {CreateDir, "a"}},
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			ops := Diff(test.source, test.target, nil, test.opts)
			if len(test.exp) == 0 {
				assert.Empty(t, ops)
				return
			}
			assert.Equal(t, test.exp, ops)
		})
	}
}

func TestAttributesEqualWindow(t *testing.T) {
	base := time.Date(2019, 11, 10, 12, 0, 0, 0, time.UTC)
	src := fileEntry(10, base.Add(300*time.Millisecond))
	dst := fileEntry(10, base.Add(700*time.Millisecond))

	assert.False(t, AttributesEqual(0)("a", src, dst))
	assert.True(t, AttributesEqual(time.Second)("a", src, dst))
	assert.False(t, AttributesEqual(time.Second)("a", fileEntry(11, base), dst))
}

func TestContentsEqual(t *testing.T) {
	useMemFs(t)
	writeTree(t, "/src", map[string]string{"same": "hello", "diff": "hello", "gone": "x"})
	writeTree(t, "/dst", map[string]string{"same": "hello", "diff": "jello"})

	equal := ContentsEqual("/src", "/dst")
	entry := fileEntry(5, time.Now())
	assert.True(t, equal("same", entry, entry))
	assert.False(t, equal("diff", entry, entry))
	assert.False(t, equal("gone", fileEntry(1, time.Now()), fileEntry(1, time.Now())))
	assert.False(t, equal("same", fileEntry(5, time.Now()), fileEntry(6, time.Now())))
}

func TestHashFile(t *testing.T) {
	useMemFs(t)
	require.NoError(t, afero.WriteFile(fs, "/a", []byte("contents"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/b", []byte("contents"), 0600))

	hashA, err := HashFile("/a")
	require.NoError(t, err)
	hashB, err := HashFile("/b")
	require.NoError(t, err)
	assert.Equal(t, hashA, hashB)

	_, err = HashFile("/missing")
	assert.Error(t, err)
}
