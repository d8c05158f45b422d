package sync

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// useMemFs replaces the package filesystem with an in-memory one for the
// duration of the test.
func useMemFs(t *testing.T) afero.Fs {
	memFs := afero.NewMemMapFs()
	original := fs
	fs = memFs
	t.Cleanup(func() { fs = original })
	return memFs
}

// writeTree creates the given entries under `root`. Keys ending in a slash
// are created as directories, all other keys are files with the value as
// their contents.
func writeTree(t *testing.T, root string, entries map[string]string) {
	require.NoError(t, fs.MkdirAll(root, 0755))
	modTime := time.Date(2019, 11, 10, 12, 0, 0, 0, time.UTC)
	for path, contents := range entries {
		full := RelativePath(strings.TrimSuffix(path, "/")).Under(root)
		if strings.HasSuffix(path, "/") {
			require.NoError(t, fs.MkdirAll(full, 0755))
			continue
		}

		require.NoError(t, afero.WriteFile(fs, full, []byte(contents), 0644))
		require.NoError(t, fs.Chtimes(full, modTime, modTime))
	}
}

// kinds strips the attributes from an index so that trees can be compared
// structurally.
func kinds(index PathIndex) map[RelativePath]EntryKind {
	kinds := map[RelativePath]EntryKind{}
	for path, entry := range index {
		kinds[path] = entry.Kind
	}
	return kinds
}

func fileEntry(size int64, modTime time.Time) Entry {
	return Entry{Kind: File, FileAttributes: FileAttributes{Size: size, ModTime: modTime, Mode: 0644}}
}

func dirEntry() Entry {
	return Entry{Kind: Directory, FileAttributes: FileAttributes{Mode: 0755}}
}
