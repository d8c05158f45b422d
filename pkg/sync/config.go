package sync

import (
	"crypto/sha512"
	"encoding/base64"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/treemirror/pkg/errors"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// FileAttributes contains the metadata used to compare whether two files are
// equal without reading them.
type FileAttributes struct {
	// Size is the length of the file in bytes.
	Size int64

	// Mode is the permission bits of the file.
	Mode os.FileMode

	// ModTime is the time of the last file modification.
	ModTime time.Time
}

// FileComparator decides whether the target file `dst` already holds the
// same contents as the source file `src`. Both entries are files at `path`.
type FileComparator func(path RelativePath, src, dst Entry) bool

// AttributesEqual considers two files equal if they have the same size and
// modification time. Modification times are truncated to `window` before
// being compared, which helps with filesystems that store coarse timestamps.
// Copies preserve the source's modification time, so an unchanged source file
// compares equal to its mirror.
func AttributesEqual(window time.Duration) FileComparator {
	return func(_ RelativePath, src, dst Entry) bool {
		if src.Size != dst.Size {
			return false
		}

		srcTime, dstTime := src.ModTime, dst.ModTime
		if window > 0 {
			srcTime = srcTime.Truncate(window)
			dstTime = dstTime.Truncate(window)
		}
		return srcTime.Equal(dstTime)
	}
}

// ContentsEqual considers two files equal if their contents hash to the same
// value. Files of different sizes are never hashed.
func ContentsEqual(sourceRoot, targetRoot string) FileComparator {
	return func(path RelativePath, src, dst Entry) bool {
		if src.Size != dst.Size {
			return false
		}

		srcHash, err := HashFile(path.Under(sourceRoot))
		if err != nil {
			log.WithError(err).WithField("path", path).Debug(
				"Failed to hash source file. Assuming it changed.")
			return false
		}

		dstHash, err := HashFile(path.Under(targetRoot))
		if err != nil {
			log.WithError(err).WithField("path", path).Debug(
				"Failed to hash target file. Assuming it changed.")
			return false
		}
		return srcHash == dstHash
	}
}

// HashFile returns the sha512 hash of the file at the given path.
func HashFile(path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", errors.WithContext(err, "open")
	}
	defer f.Close()

	hasher := sha512.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", errors.WithContext(err, "read")
	}

	return base64.StdEncoding.EncodeToString(hasher.Sum(nil)), nil
}
