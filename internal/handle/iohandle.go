package handle

import (
	"context"
	"sync/atomic"

	"afio/internal/ioerr"

	"github.com/negrel/assert"
)

// Owner is the weak, non-owning back-reference an IoHandle holds to its
// creating dispatcher (spec.md §9: "dispatcher owns a weak map of identity
// → handle; each handle holds a non-owning dispatcher pointer valid for the
// handle's lifetime. Handles register on creation and deregister on
// destruction."). Dispatcher implements this interface; handle never
// imports dispatch, so the dependency points the other way.
type Owner interface {
	RegisterHandle(h *IoHandle)
	DeregisterHandle(h *IoHandle)
}

// IoHandle is spec.md §3's ownership unit for scatter/gather byte I/O.
type IoHandle struct {
	owner  Owner // weak; never owning
	path   string
	native Native

	autoFlush bool

	bytesWrittenTotal       atomic.Uint64
	bytesWrittenAtLastFsync atomic.Uint64
	everFsynced             atomic.Bool

	closed atomic.Bool
}

// New creates an IoHandle bound to native and registers it with owner. A
// nil owner is valid — it models a handle that outlived its dispatcher
// (spec.md §4.1: "Shutdown does not... close handles that were returned to
// callers").
func New(owner Owner, path string, native Native, autoFlush bool) *IoHandle {
	h := &IoHandle{owner: owner, path: path, native: native, autoFlush: autoFlush}
	if owner != nil {
		owner.RegisterHandle(h)
	}
	return h
}

// Dummy creates a handle carrying no real OS identity, for ops whose
// backend contract produces a "dummy IoHandle" (rmdir, rmfile — spec.md
// §4.2's table).
func Dummy(owner Owner, path string) *IoHandle {
	return New(owner, path, Invalid, false)
}

func (h *IoHandle) Path() string       { return h.path }
func (h *IoHandle) Native() Native     { return h.native }
func (h *IoHandle) AutoFlush() bool    { return h.autoFlush }
func (h *IoHandle) IsDummy() bool      { return !h.native.Valid() }
func (h *IoHandle) BytesWrittenTotal() uint64 {
	return h.bytesWrittenTotal.Load()
}
func (h *IoHandle) BytesWrittenAtLastFsync() uint64 {
	return h.bytesWrittenAtLastFsync.Load()
}
func (h *IoHandle) EverFsynced() bool { return h.everFsynced.Load() }

// RecordWrite bumps bytesWrittenTotal by n, called by the write primitive
// once the platform backend reports bytes actually transferred.
func (h *IoHandle) RecordWrite(n int) {
	if n <= 0 {
		return
	}
	h.bytesWrittenTotal.Add(uint64(n))
}

// Dirty reports whether there are writes since the last fsync, the
// condition the sync and auto-flush-on-close primitives check (spec.md
// §4.2's backend contract table: "If bytes_written_total >
// bytes_written_at_last_fsync, issue kernel flush").
func (h *IoHandle) Dirty() bool {
	return h.bytesWrittenTotal.Load() > h.bytesWrittenAtLastFsync.Load()
}

// RecordSync marks the handle as synced up to its current write count.
// Enforces spec.md §3's invariant
// "bytes_written_at_last_fsync ≤ bytes_written_total" with an assertion
// rather than a runtime branch, per spec.md §9's guidance to encode
// invariants as unreachable rather than checked.
func (h *IoHandle) RecordSync() {
	total := h.bytesWrittenTotal.Load()
	h.bytesWrittenAtLastFsync.Store(total)
	h.everFsynced.Store(true)
	assert.LessOrEqual(h.bytesWrittenAtLastFsync.Load(), h.bytesWrittenTotal.Load(),
		"bytes_written_at_last_fsync must never exceed bytes_written_total")
}

// Close releases the underlying Native (if any) and deregisters from owner.
// Idempotent: a second Close is a no-op, matching "destroyed by close or by
// last drop" without double-closing the OS identity.
func (h *IoHandle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	if h.owner != nil {
		h.owner.DeregisterHandle(h)
	}
	return h.native.Close()
}

func (h *IoHandle) Closed() bool { return h.closed.Load() }

// LockRange takes or releases an advisory byte-range lock on the handle's
// backing file (SPEC_FULL.md §3's supplemented range-locking primitive).
func (h *IoHandle) LockRange(offset, length int64, exclusive, unlock bool) error {
	return h.native.LockRange(offset, length, exclusive, unlock)
}

// Extent reports the backing file's current length (SPEC_FULL.md §3's
// supplemented extent() query, matching the original's
// file_handle::length()), delegated to fstat on POSIX and GetFileSizeEx on
// Windows via Native.Extent. ctx carries no cancellation here — the
// underlying syscall is a single non-blocking metadata read — but the
// signature matches every other IoHandle-facing query in case a future
// backend ever needs to make this genuinely async. The original throws on
// pipes and other non-seekable handles; we report InvalidArgument instead.
func (h *IoHandle) Extent(ctx context.Context) (uint64, error) {
	if !h.native.Valid() {
		return 0, ioerr.New(ioerr.InvalidArgument, "extent", h.path)
	}
	n, err := h.native.Extent()
	if err != nil {
		return 0, ioerr.Wrap(ioerr.IoError, "extent", h.path, err)
	}
	return n, nil
}
