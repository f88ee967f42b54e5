//go:build unix

package handle

import "golang.org/x/sys/unix"

// nativeID is a POSIX file descriptor on every unix target. This is the
// generalization of the donor's Op.Fd field (internal/iomgr/system_linux.go)
// from "one fd bound to a particular op" to "the identity an IoHandle owns
// for its whole lifetime."
type nativeID = int

const invalidNativeID nativeID = -1

// NewNative wraps an already-open fd.
func NewNative(fd int, access AccessMode, caching CachingHint) Native {
	return Native{id: nativeID(fd), Access: access, Caching: caching}
}

// Fd returns the underlying file descriptor.
func (n Native) Fd() int { return int(n.id) }

// Close releases the OS identity. Exactly one IoHandle ever calls this, per
// the exclusive-ownership invariant in spec.md §3.
func (n Native) Close() error {
	if !n.Valid() {
		return nil
	}
	return unix.Close(int(n.id))
}

// Extent reports the backing file's current length via fstat, the POSIX
// side of the original's `file_handle::length()`
// (original_source/include/boost/afio/v2.0/file_handle.hpp; SPEC_FULL.md §3).
func (n Native) Extent() (uint64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(n.id), &st); err != nil {
		return 0, err
	}
	return uint64(st.Size), nil
}

// LockRange takes (or releases, if unlock is true) an advisory byte-range
// lock via fcntl(F_SETLK), the primitive spec.md §1 delegates mutual
// exclusion to ("no process-wide mutual exclusion beyond what file-range
// locks (delegated to the OS) provide").
func (n Native) LockRange(offset, length int64, exclusive, unlock bool) error {
	lk := unix.Flock_t{
		Whence: 0, // SEEK_SET
		Start:  offset,
		Len:    length,
	}
	switch {
	case unlock:
		lk.Type = unix.F_UNLCK
	case exclusive:
		lk.Type = unix.F_WRLCK
	default:
		lk.Type = unix.F_RDLCK
	}
	return unix.FcntlFlock(uintptr(n.id), unix.F_SETLK, &lk)
}
