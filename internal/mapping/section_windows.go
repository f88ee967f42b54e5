//go:build windows

package mapping

import (
	"context"

	"afio/internal/flags"
	"afio/internal/handle"

	"golang.org/x/sys/windows"
)

// nativeSection on Windows is a genuine kernel section object returned by
// CreateFileMapping — the "opens a kernel section object" half of spec.md
// §4.3's backend contract note.
type nativeSection struct {
	h    windows.Handle
	anon bool
}

func createNativeSection(backing *handle.IoHandle, maxExtent uint64, sectFlags flags.Section) (nativeSection, uint64, error) {
	protect := uint32(windows.PAGE_READONLY)
	switch {
	case sectFlags.Has(flags.SectionExecutableImage):
		protect = windows.PAGE_EXECUTE_READ
	case sectFlags.Has(flags.SectionCoW):
		protect = windows.PAGE_WRITECOPY
	case sectFlags.Has(flags.SectionWrite):
		protect = windows.PAGE_READWRITE
	}

	var fileHandle windows.Handle
	if backing == nil {
		fileHandle = windows.InvalidHandle
	} else {
		fileHandle = backing.Native().Handle()
		if maxExtent == 0 {
			size, err := backing.Extent(context.Background())
			if err != nil {
				return nativeSection{}, 0, err
			}
			maxExtent = size
		}
	}

	h, err := windows.CreateFileMapping(fileHandle, nil, protect, uint32(maxExtent>>32), uint32(maxExtent), nil)
	if err != nil {
		return nativeSection{}, 0, err
	}

	return nativeSection{h: h, anon: backing == nil}, maxExtent, nil
}

// extend is a no-op on Windows: a file mapping object's size is fixed at
// creation, and growing it means recreating the mapping. Callers that need
// a larger section re-Create one — the platform divergence spec.md §3
// anticipates ("resizable (extend-only on some platforms, no-op on
// others)").
func (ns nativeSection) extend(newExtent uint64) error { return nil }

func (ns nativeSection) close() error {
	return windows.CloseHandle(ns.h)
}

func (ns nativeSection) mapView(offset, length uint64, perm flags.Section) ([]byte, error) {
	access := uint32(windows.FILE_MAP_READ)
	if perm.Has(flags.SectionWrite) {
		access |= windows.FILE_MAP_WRITE
	}
	if perm.Has(flags.SectionCoW) {
		access = windows.FILE_MAP_COPY
	}
	if perm.Has(flags.SectionExecute) {
		access |= windows.FILE_MAP_EXECUTE
	}

	addr, err := windows.MapViewOfFile(ns.h, access, uint32(offset>>32), uint32(offset), uintptr(length))
	if err != nil {
		return nil, err
	}
	return unsafeSliceFromAddr(addr, int(length)), nil
}

func allocationGranularity() uint64 {
	// Windows requires mapping offsets to be multiples of the system's
	// allocation granularity, which is 64 KiB on every Windows version in
	// practice (spec.md's glossary states this directly), so it is not
	// worth a GetSystemInfo round-trip here.
	return 1 << 16
}

// PageSizes reports the set of allocation granularities the platform
// supports (SPEC_FULL.md §3).
func PageSizes() []uint64 {
	return []uint64{allocationGranularity()}
}
