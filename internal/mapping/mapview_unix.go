//go:build unix

package mapping

import (
	"afio/internal/flags"

	"golang.org/x/sys/unix"
)

func unmapView(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return unix.Munmap(data)
}

func commitRegion(view []byte, perm flags.Section) error {
	if len(view) == 0 {
		return nil
	}
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
	if err := unix.Mprotect(view, prot); err != nil {
		return err
	}
	if !perm.Has(flags.SectionPrefault) {
		return nil
	}
	return unix.Madvise(view, unix.MADV_WILLNEED)
}

func decommitRegion(view []byte) error {
	if len(view) == 0 {
		return nil
	}
	if err := unix.Mprotect(view, unix.PROT_NONE); err != nil {
		return err
	}
	return unix.Madvise(view, unix.MADV_DONTNEED)
}

func zeroRegion(view []byte, granule uint64) error {
	if len(view) == 0 {
		return nil
	}
	wholePages := alignDown(uint64(len(view)), granule)
	if wholePages > 0 {
		if err := unix.Madvise(view[:wholePages], unix.MADV_REMOVE); err != nil {
			// MADV_REMOVE only works on shmem/tmpfs-backed mappings; fall
			// back to zero-filling explicitly when the kernel refuses.
			for i := range view[:wholePages] {
				view[i] = 0
			}
		}
	}
	for i := wholePages; i < uint64(len(view)); i++ {
		view[i] = 0
	}
	return nil
}

func doNotStoreRegion(view []byte) error {
	if len(view) == 0 {
		return nil
	}
	return unix.Madvise(view, unix.MADV_DONTNEED)
}

func prefetchRegion(view []byte) bool {
	if len(view) == 0 {
		return false
	}
	return unix.Madvise(view, unix.MADV_WILLNEED) == nil
}
