//go:build windows

package mapping

import (
	"unsafe"

	"afio/internal/flags"

	"golang.org/x/sys/windows"
)

func unsafeSliceFromAddr(addr uintptr, length int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), length)
}

func addrOf(view []byte) uintptr {
	if len(view) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&view[0]))
}

func unmapView(data []byte) error {
	addr := addrOf(data)
	if addr == 0 {
		return nil
	}
	return windows.UnmapViewOfFile(addr)
}

func protectFor(perm flags.Section) uint32 {
	switch {
	case perm.Has(flags.SectionExecute) && perm.Has(flags.SectionWrite):
		return windows.PAGE_EXECUTE_READWRITE
	case perm.Has(flags.SectionExecute):
		return windows.PAGE_EXECUTE_READ
	case perm.Has(flags.SectionCoW):
		return windows.PAGE_WRITECOPY
	case perm.Has(flags.SectionWrite):
		return windows.PAGE_READWRITE
	default:
		return windows.PAGE_READONLY
	}
}

func commitRegion(view []byte, perm flags.Section) error {
	addr := addrOf(view)
	if addr == 0 {
		return nil
	}
	_, err := windows.VirtualAlloc(addr, uintptr(len(view)), windows.MEM_COMMIT, protectFor(perm))
	return err
}

func decommitRegion(view []byte) error {
	addr := addrOf(view)
	if addr == 0 {
		return nil
	}
	return windows.VirtualFree(addr, uintptr(len(view)), windows.MEM_DECOMMIT)
}

// zeroRegion decommits then recommits the region: Windows hands back
// zero-filled pages on MEM_COMMIT, so this satisfies spec.md §4.3's "whole
// pages are released back to the system; partial pages are zero-filled"
// without needing to special-case partial pages.
func zeroRegion(view []byte, granule uint64) error {
	if err := decommitRegion(view); err != nil {
		return err
	}
	return commitRegion(view, flags.SectionReadWrite)
}

// doNotStoreRegion drops region's contents the same way zeroRegion does.
// Windows has no direct "clear dirty, keep committed" primitive reachable
// from golang.org/x/sys/windows, so this implements spec.md's "any
// not-yet-written modifications are lost" contract via decommit+recommit,
// which is strictly more destructive than necessary but never violates the
// contract (the caller already accepts non-deterministic contents).
func doNotStoreRegion(view []byte) error {
	return zeroRegion(view, 0)
}

// prefetchRegion always reports false: PrefetchVirtualMemory has no binding
// in golang.org/x/sys/windows, and spec.md §4.3 explicitly allows platforms
// lacking the facility to return an empty set.
func prefetchRegion(view []byte) bool {
	return false
}
