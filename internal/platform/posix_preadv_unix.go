//go:build unix && !linux

package platform

import (
	"context"

	"afio/internal/dispatch"
	"afio/internal/handle"
	"afio/internal/ioerr"

	"golang.org/x/sys/unix"
)

// syncDataIO issues positional readv/writev synchronously, per spec.md
// §4.2's POSIX row: "issue positional readv, return done." It backs every
// unix target without an io_uring equivalent wired up (uring_linux.go
// covers Linux).
type syncDataIO struct{}

func newSyncDataIO() *syncDataIO { return &syncDataIO{} }

// NewUnixBackend builds the POSIX Backend with the synchronous
// preadv/pwritev data path, for unix targets without the io_uring backend
// (Linux gets NewLinuxBackend instead).
func NewUnixBackend(completer dispatch.Completer) *Backend {
	return NewBackend(newSyncDataIO(), completer)
}

func toIovecs(bufs [][]byte) []unix.Iovec {
	iovs := make([]unix.Iovec, len(bufs))
	for i, b := range bufs {
		if len(b) == 0 {
			continue
		}
		iovs[i] = unix.Iovec{Base: &b[0]}
		iovs[i].SetLen(len(b))
	}
	return iovs
}

func (s *syncDataIO) read(ctx context.Context, id dispatch.OperationId, h *handle.IoHandle, p dispatch.DataParams, completer dispatch.Completer) (bool, error) {
	if h == nil || h.IsDummy() {
		return true, ioerr.New(ioerr.InvalidArgument, "read", "")
	}
	n, err := unix.Preadv(h.Native().Fd(), toIovecs(p.Buffers), int64(p.Offset))
	if err != nil {
		return true, ioerr.Wrap(ioerr.IoError, "read", h.Path(), err)
	}
	_ = n
	return true, nil
}

func (s *syncDataIO) write(ctx context.Context, id dispatch.OperationId, h *handle.IoHandle, p dispatch.DataParams, completer dispatch.Completer) (bool, error) {
	if h == nil || h.IsDummy() {
		return true, ioerr.New(ioerr.InvalidArgument, "write", "")
	}
	n, err := unix.Pwritev(h.Native().Fd(), toIovecs(p.Buffers), int64(p.Offset))
	if err != nil {
		return true, ioerr.Wrap(ioerr.IoError, "write", h.Path(), err)
	}
	h.RecordWrite(n)
	return true, nil
}

func (s *syncDataIO) deferred(kind dispatch.OpKind) bool { return false }

func (s *syncDataIO) close() {}
