//go:build linux

package platform

import "golang.org/x/sys/unix"

// setDirectIO augments an already-open fd with O_DIRECT, since unix.Open's
// flags argument on some kernels requires direct I/O's alignment
// invariants to already hold for the destination buffer — fcntl(F_SETFL)
// after open lets a backend fall back gracefully if the underlying
// filesystem rejects it, rather than failing the whole open.
func setDirectIO(fd int) {
	fl, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return
	}
	unix.FcntlInt(uintptr(fd), unix.F_SETFL, fl|unix.O_DIRECT)
}

// anonymousInodeOpenFlag reports the O_TMPFILE flag spec.md §4.2's
// temp_inode(dir) opens against, an anonymous inode bound only to open
// descriptors and linked into the directory tree, if at all, only by a
// later linkat. Linux-only among the unix targets this module builds for.
func anonymousInodeOpenFlag() (int, bool) {
	return unix.O_TMPFILE, true
}
