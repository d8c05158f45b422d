package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/treemirror/ci/util"
	"github.com/sidkik/treemirror/pkg/config"
)

// Test runs the file sync tests.
func Test(t *testing.T, helper *util.TestHelper) {
	t.Run("FileChange", func(t *testing.T) {
		testFileChange(t, helper)
	})
	t.Run("ConfigFile", func(t *testing.T) {
		testConfigFile(t, helper)
	})
}

func testFileChange(t *testing.T, helper *util.TestHelper) {
	testCtx, cancelTest := context.WithCancel(context.Background())
	defer cancelTest()

	refFile := randomFile("test-file")
	changedContents := refFile.WithContents("changed contents")
	changedFileMode := refFile.WithMode(os.FileMode(0600))
	changedModTime := refFile.WithModTime(refFile.modTime.Add(1 * time.Minute))

	tests := []struct {
		name   string
		change fsOp
		check  targetAssertion
		expMsg string
	}{
		{
			name:   "ChangeContents",
			change: createFile(changedContents),
			check:  shouldExist(changedContents),
			expMsg: "test-file: Copied file",
		},
		{
			name:   "ChangeMode",
			change: createFile(changedFileMode),
			check:  shouldExist(changedFileMode),
			expMsg: "test-file: Copied file",
		},
		{
			name:   "ChangeModTime",
			change: createFile(changedModTime),
			check:  shouldExist(changedModTime),
			expMsg: "test-file: Copied file",
		},
		{
			name:   "RemoveFile",
			change: removeFile(refFile.path),
			check:  shouldNotExist(refFile),
			expMsg: "test-file: Deleted",
		},
	}

	fs, err := newMockFs()
	require.NoError(t, err)
	defer fs.cleanup()

	otherFile := randomFile("other-file")
	require.NoError(t, createFile(otherFile)(fs))

	out, waitErr, err := helper.Sync(testCtx, fs.source, fs.target)
	require.NoError(t, err, "start treemirror sync")
	defer func() {
		cancelTest()
		assert.NoError(t, <-waitErr, "run treemirror sync")
	}()

	// The initial sync copies the files that already existed.
	assert.NoError(t, shouldExist(otherFile)(fs))

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(testCtx, time.Minute)
			defer cancel()

			require.NoError(t, createFile(refFile)(fs))
			require.NoError(t, out.WaitFor(ctx, "test-file: Copied file"))

			require.NoError(t, test.change(fs))
			require.NoError(t, out.WaitFor(ctx, test.expMsg))

			assert.NoError(t, test.check(fs))
			assert.NoError(t, shouldExist(otherFile)(fs))
		})
	}
}

func testConfigFile(t *testing.T, helper *util.TestHelper) {
	fs, err := newMockFs()
	require.NoError(t, err)
	defer fs.cleanup()

	kept := randomFile("kept")
	orphan := randomFile("orphan")
	require.NoError(t, createFile(kept)(fs))
	require.NoError(t, os.MkdirAll(fs.target, 0755))
	require.NoError(t, writeFile(filepath.Join(fs.target, orphan.path), orphan))

	cfg := config.DefaultSession()
	cfg.Source = "source"
	cfg.Target = "target"
	cfg.Watch = false
	cfg.DeleteOrphans = false
	configPath, err := fs.writeConfig(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	out, err := helper.Run(ctx, "sync", "--no-gui", "--log-file", helper.LogPath,
		"--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, string(out), "Initial sync finished: 1 applied, 0 failed")

	assert.NoError(t, shouldExist(kept)(fs))
	assert.NoError(t, shouldExist(orphan)(fs))
}
