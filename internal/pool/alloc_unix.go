//go:build unix

package pool

import "golang.org/x/sys/unix"

// AlignedBuffer returns a page-aligned anonymous-mapping buffer of size
// bytes, suitable for O_DIRECT reads/writes and for scatter/gather buffers
// handed to the platform backend. Grounded on the donor's AllocSlab
// (internal/iomgr/system_linux.go), generalized off a single Linux build
// tag onto every unix target golang.org/x/sys supports.
func AlignedBuffer(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

// ReleaseBuffer unmaps a buffer obtained from AlignedBuffer.
func ReleaseBuffer(buf []byte) error {
	return unix.Munmap(buf)
}
