//go:build unix && !linux

package platform

// setDirectIO is a no-op outside Linux: O_DIRECT has no portable
// equivalent on every BSD/Darwin target reachable through
// golang.org/x/sys/unix, and spec.md §6 marks OSDirect "bypass host cache
// (where available)".
func setDirectIO(fd int) {}

// anonymousInodeOpenFlag reports that O_TMPFILE has no equivalent outside
// Linux among the targets this module builds for; Backend.File turns this
// into an InvalidArgument error rather than guessing at a substitute.
func anonymousInodeOpenFlag() (int, bool) {
	return 0, false
}
