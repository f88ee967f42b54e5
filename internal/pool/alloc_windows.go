//go:build windows

package pool

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// AlignedBuffer mirrors the unix variant using VirtualAlloc, which always
// returns memory aligned to the system allocation granularity — the
// Windows analogue of the donor's mmap-based AllocSlab.
func AlignedBuffer(size int) ([]byte, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

// ReleaseBuffer frees a buffer obtained from AlignedBuffer.
func ReleaseBuffer(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	addr := uintptr(unsafe.Pointer(&buf[0]))
	return windows.VirtualFree(addr, 0, windows.MEM_RELEASE)
}
