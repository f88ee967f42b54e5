//go:build unix

package mapping

import (
	"context"

	"afio/internal/flags"
	"afio/internal/handle"

	"golang.org/x/sys/unix"
)

// nativeSection on POSIX is a duplicated file descriptor (so the section
// survives the backing IoHandle's own Close), or a page-file sentinel for
// anonymous sections. This is the dup-the-descriptor half of spec.md §4.3's
// "backend either duplicates the descriptor or opens a kernel section
// object" — POSIX has no separate section object, so duplicating is the
// whole story.
type nativeSection struct {
	fd   int
	anon bool
}

func createNativeSection(backing *handle.IoHandle, maxExtent uint64, sectFlags flags.Section) (nativeSection, uint64, error) {
	if backing == nil {
		// System page file ⇒ anonymous memory; nothing to dup, nothing to
		// extend explicitly (mmap grows to whatever length is requested).
		return nativeSection{fd: -1, anon: true}, maxExtent, nil
	}

	dupFd, err := unix.Dup(backing.Native().Fd())
	if err != nil {
		return nativeSection{}, 0, err
	}

	if maxExtent == 0 {
		// dupFd shares the backing file's inode, so backing.Extent() (fstat
		// under the hood) reports the same length dupFd would.
		size, err := backing.Extent(context.Background())
		if err != nil {
			unix.Close(dupFd)
			return nativeSection{}, 0, err
		}
		maxExtent = size
	} else if err := unix.Ftruncate(dupFd, int64(maxExtent)); err != nil {
		unix.Close(dupFd)
		return nativeSection{}, 0, err
	}

	return nativeSection{fd: dupFd}, maxExtent, nil
}

func (ns nativeSection) extend(newExtent uint64) error {
	if ns.anon {
		return nil
	}
	return unix.Ftruncate(ns.fd, int64(newExtent))
}

func (ns nativeSection) close() error {
	if ns.anon {
		return nil
	}
	return unix.Close(ns.fd)
}

func (ns nativeSection) mapView(offset, length uint64, perm flags.Section) ([]byte, error) {
	prot := unix.PROT_NONE
	if perm.Has(flags.SectionRead) {
		prot |= unix.PROT_READ
	}
	if perm.Has(flags.SectionWrite) {
		prot |= unix.PROT_WRITE
	}
	if perm.Has(flags.SectionExecute) {
		prot |= unix.PROT_EXEC
	}

	mapFlags := unix.MAP_SHARED
	if perm.Has(flags.SectionCoW) {
		mapFlags = unix.MAP_PRIVATE
	}

	fd := ns.fd
	fdOffset := int64(offset)
	if ns.anon {
		fd = -1
		fdOffset = 0
		mapFlags |= unix.MAP_ANON
	}

	return unix.Mmap(fd, fdOffset, int(length), prot, mapFlags)
}

func allocationGranularity() uint64 {
	return uint64(unix.Getpagesize())
}

// PageSizes reports the set of allocation granularities the platform
// supports, the utility query spec.md's glossary references for page
// alignment (SPEC_FULL.md §3).
func PageSizes() []uint64 {
	return []uint64{allocationGranularity()}
}
