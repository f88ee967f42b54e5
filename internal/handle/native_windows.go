//go:build windows

package handle

import "golang.org/x/sys/windows"

// nativeID is a Win32 kernel-object handle.
type nativeID = windows.Handle

const invalidNativeID nativeID = windows.InvalidHandle

// NewNative wraps an already-open Win32 handle.
func NewNative(h windows.Handle, access AccessMode, caching CachingHint) Native {
	return Native{id: h, Access: access, Caching: caching}
}

// Handle returns the underlying Win32 HANDLE.
func (n Native) Handle() windows.Handle { return n.id }

// Close releases the OS identity.
func (n Native) Close() error {
	if !n.Valid() {
		return nil
	}
	return windows.CloseHandle(n.id)
}

// Extent reports the backing file's current length via GetFileSizeEx, the
// Windows side of the original's `file_handle::length()` (SPEC_FULL.md §3).
func (n Native) Extent() (uint64, error) {
	var size int64
	if err := windows.GetFileSizeEx(n.id, &size); err != nil {
		return 0, err
	}
	return uint64(size), nil
}

// LockRange takes (or releases) a byte-range lock via LockFileEx/UnlockFileEx,
// the Windows analogue of fcntl(F_SETLK).
func (n Native) LockRange(offset, length int64, exclusive, unlock bool) error {
	var ol windows.Overlapped
	ol.Offset = uint32(offset)
	ol.OffsetHigh = uint32(offset >> 32)

	lenLow := uint32(length)
	lenHigh := uint32(length >> 32)

	if unlock {
		return windows.UnlockFileEx(n.id, 0, lenLow, lenHigh, &ol)
	}
	var flags uint32
	if exclusive {
		flags |= windows.LOCKFILE_EXCLUSIVE_LOCK
	}
	return windows.LockFileEx(n.id, flags, 0, lenLow, lenHigh, &ol)
}
