// Package platform supplies the two concrete Backend implementations
// spec.md §4.2 calls for — Windows-overlapped and POSIX-compat — plus the
// temporary-directory probing spec.md §6 describes. The temporary-file
// variants (random_file, temp_file, temp_inode) live in internal/dispatch's
// tempfiles.go.
package platform

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash"
)

// NoTemporaryDirectoriesAccessible is the diagnosable substring spec.md §6
// requires in the path ProbeTempDir returns when none of the probed
// directories turned out writable.
const NoTemporaryDirectoriesAccessible = "no_temporary_directories_accessible"

// candidateTempDirs returns the platform's search order for a writable
// scratch directory. os.TempDir() already resolves $TMPDIR/%TEMP% per
// platform; additional conventional fallbacks are appended for when it is
// unset or misconfigured in a container.
func candidateTempDirs() []string {
	dirs := []string{os.TempDir()}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".cache", "afio-tmp"))
	}
	dirs = append(dirs, filepath.Join(string(os.PathSeparator), "tmp"))
	return dirs
}

// ProbeTempDir implements spec.md §6's temporary-directory probing: each
// candidate is verified by actually creating (and removing) a file in it,
// since a directory existing and being writable are different guarantees
// (e.g. a read-only bind mount). The first candidate that accepts a probe
// file wins.
func ProbeTempDir() string {
	for _, dir := range candidateTempDirs() {
		if probeWritable(dir) {
			return dir
		}
	}
	return filepath.Join(string(os.PathSeparator), NoTemporaryDirectoriesAccessible)
}

func probeWritable(dir string) bool {
	if err := os.MkdirAll(dir, defaultDirMode); err != nil {
		return false
	}
	probe := filepath.Join(dir, randomName("probe"))
	f, err := os.OpenFile(probe, os.O_CREATE|os.O_EXCL|os.O_WRONLY, defaultFileMode)
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(probe)
	return true
}

// randomNameEntropy supplies the per-call salt randomName hashes into the
// name of ProbeTempDir's probe file. (random_file's own names come from
// nameEntropy in internal/dispatch/tempfiles.go.)
var randomNameEntropy = func() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return uint64(os.Getpid())
	}
	return xxhash.Sum64(buf[:])
}

func randomName(prefix string) string {
	return fmt.Sprintf("%s-%016x", prefix, randomNameEntropy())
}
