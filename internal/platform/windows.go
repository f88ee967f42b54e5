//go:build windows

package platform

import (
	"context"
	"log/slog"
	"sync"
	"unsafe"

	"afio/internal/dispatch"
	"afio/internal/flags"
	"afio/internal/handle"
	"afio/internal/ioerr"

	"golang.org/x/sys/windows"
)

// Backend is the Windows-overlapped dispatch.Backend. Its completion
// model is grounded on other_examples/momentics-hioload-ws__iocp_reactor.go:
// one IOCP that every file handle is associated with at open time, and a
// dedicated poller goroutine blocked in GetQueuedCompletionStatus that
// recovers the pending op from the OVERLAPPED pointer it gets back —
// generalized here from "recover a registered fd callback" to "recover
// the windowsOp this OVERLAPPED belongs to and resolve its dispatcher op."
type Backend struct {
	log       *slog.Logger
	iocp      windows.Handle
	completer dispatch.Completer

	mu      sync.Mutex
	pending map[*windowsOp]struct{} // keeps ops referenced for the GC while the kernel holds their OVERLAPPED
}

// windowsOp carries one overlapped read or write. Its OVERLAPPED field
// must be first so a *windows.Overlapped recovered from a completion
// packet casts back to *windowsOp as the donor's UserData roundtrip does
// for io_uring on Linux.
type windowsOp struct {
	ov windows.Overlapped

	write  bool
	h      *handle.IoHandle
	id     dispatch.OperationId
	params dispatch.DataParams
	completer dispatch.Completer
}

// NewBackend creates the IOCP and starts its poller goroutine.
func NewBackend(completer dispatch.Completer) (*Backend, error) {
	iocp, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return nil, err
	}
	b := &Backend{
		log:       slog.With("src", "platform.windows"),
		iocp:      iocp,
		completer: completer,
		pending:   make(map[*windowsOp]struct{}),
	}
	go b.poll()
	return b, nil
}

func (b *Backend) Close() error {
	return windows.CloseHandle(b.iocp)
}

func (b *Backend) associate(h windows.Handle) error {
	_, err := windows.CreateIoCompletionPort(h, b.iocp, 0, 0)
	return err
}

// poll is the dedicated OS-callback thread spec.md §4.2 describes: "Windows
// overlapped completion... invoked by the OS callback thread, calls the
// dispatcher's complete_async_op. This is the only code path where
// completions arise outside a worker."
func (b *Backend) poll() {
	for {
		var bytes uint32
		var key uintptr
		var ov *windows.Overlapped
		err := windows.GetQueuedCompletionStatus(b.iocp, &bytes, &key, &ov, windows.INFINITE)
		if ov == nil {
			continue
		}
		op := (*windowsOp)(unsafe.Pointer(ov))

		b.mu.Lock()
		delete(b.pending, op)
		b.mu.Unlock()

		var opErr error
		if err != nil {
			opErr = ioerr.Wrap(ioerr.IoError, opName(op.write), op.h.Path(), err)
		} else if op.write {
			op.h.RecordWrite(int(bytes))
		}
		op.completer.CompleteAsyncOp(op.id, op.h, opErr)
	}
}

func opName(write bool) string {
	if write {
		return "write"
	}
	return "read"
}

func toCreateFileAccess(f flags.File) (access, disposition uint32) {
	switch {
	case f.Has(flags.Read) && f.Has(flags.Write):
		access = windows.GENERIC_READ | windows.GENERIC_WRITE
	case f.Has(flags.Write):
		access = windows.GENERIC_WRITE
	default:
		access = windows.GENERIC_READ
	}
	switch {
	case f.Has(flags.CreateOnlyIfNotExist):
		disposition = windows.CREATE_NEW
	case f.Has(flags.Truncate):
		disposition = windows.TRUNCATE_EXISTING
	case f.Has(flags.Create):
		disposition = windows.CREATE_ALWAYS
	default:
		disposition = windows.OPEN_EXISTING
	}
	return access, disposition
}

func toCreateFileFlags(f flags.File) uint32 {
	attrs := uint32(windows.FILE_ATTRIBUTE_NORMAL) | windows.FILE_FLAG_OVERLAPPED
	if f.Has(flags.OSDirect) {
		attrs |= windows.FILE_FLAG_NO_BUFFERING
	}
	if f.Has(flags.OSSync) {
		attrs |= windows.FILE_FLAG_WRITE_THROUGH
	}
	if f.Has(flags.WillBeSequentiallyAccessed) {
		attrs |= windows.FILE_FLAG_SEQUENTIAL_SCAN
	}
	return attrs
}

// shareAll is "Windows shares every opened file for read, write, and
// delete" per spec.md §6.
const shareAll = windows.FILE_SHARE_READ | windows.FILE_SHARE_WRITE | windows.FILE_SHARE_DELETE

func (b *Backend) Dir(ctx context.Context, id dispatch.OperationId, in *handle.IoHandle, p dispatch.DirParams, owner handle.Owner) (bool, *handle.IoHandle, error) {
	pathp, err := windows.UTF16PtrFromString(p.Path)
	if err != nil {
		return true, nil, ioerr.Wrap(ioerr.InvalidArgument, "dir", p.Path, err)
	}
	mkErr := windows.CreateDirectory(pathp, nil)
	if mkErr != nil {
		if mkErr == windows.ERROR_ALREADY_EXISTS {
			if p.Flags.Has(flags.CreateOnlyIfNotExist) {
				return true, nil, ioerr.Wrap(ioerr.AlreadyExists, "dir", p.Path, mkErr)
			}
		} else {
			return true, nil, ioerr.Wrap(classifyWinErr(mkErr), "dir", p.Path, mkErr)
		}
	}
	if !p.Flags.Has(flags.Read) {
		return true, handle.Dummy(owner, p.Path), nil
	}
	h, err := windows.CreateFile(pathp, windows.GENERIC_READ, shareAll, nil, windows.OPEN_EXISTING,
		windows.FILE_FLAG_BACKUP_SEMANTICS, 0)
	if err != nil {
		return true, nil, ioerr.Wrap(classifyWinErr(err), "dir", p.Path, err)
	}
	native := handle.NewNative(h, handle.AccessRead, handle.CacheUnspecified)
	return true, handle.New(owner, p.Path, native, false), nil
}

func (b *Backend) Rmdir(ctx context.Context, id dispatch.OperationId, in *handle.IoHandle, p dispatch.PathParams, owner handle.Owner) (bool, *handle.IoHandle, error) {
	pathp, err := windows.UTF16PtrFromString(p.Path)
	if err != nil {
		return true, nil, ioerr.Wrap(ioerr.InvalidArgument, "rmdir", p.Path, err)
	}
	if err := windows.RemoveDirectory(pathp); err != nil {
		return true, nil, ioerr.Wrap(classifyWinErr(err), "rmdir", p.Path, err)
	}
	return true, handle.Dummy(owner, p.Path), nil
}

func (b *Backend) File(ctx context.Context, id dispatch.OperationId, in *handle.IoHandle, p dispatch.FileParams, owner handle.Owner) (bool, *handle.IoHandle, error) {
	if p.Flags.Has(flags.AnonymousInode) {
		// CreateFile has no O_TMPFILE equivalent; FILE_ATTRIBUTE_TEMPORARY
		// plus FILE_FLAG_DELETE_ON_CLOSE still leaves a named directory
		// entry, which spec.md §4.2's temp_inode explicitly rules out.
		return true, nil, ioerr.New(ioerr.InvalidArgument, "temp_inode", p.Path)
	}
	pathp, err := windows.UTF16PtrFromString(p.Path)
	if err != nil {
		return true, nil, ioerr.Wrap(ioerr.InvalidArgument, "file", p.Path, err)
	}
	access, disposition := toCreateFileAccess(p.Flags)
	h, cerr := windows.CreateFile(pathp, access, shareAll, nil, disposition, toCreateFileFlags(p.Flags), 0)
	if cerr != nil {
		return true, nil, ioerr.Wrap(classifyWinErr(cerr), "file", p.Path, cerr)
	}
	if err := b.associate(h); err != nil {
		windows.CloseHandle(h)
		return true, nil, ioerr.Wrap(ioerr.IoError, "file", p.Path, err)
	}
	native := handle.NewNative(h, accessModeOfWin(p.Flags), handle.CacheUnspecified)
	return true, handle.New(owner, p.Path, native, p.Flags.Has(flags.AutoFlush)), nil
}

func accessModeOfWin(f flags.File) handle.AccessMode {
	switch {
	case f.Has(flags.Read) && f.Has(flags.Write):
		return handle.AccessReadWrite
	case f.Has(flags.Write) && f.Has(flags.Append):
		return handle.AccessAppend
	case f.Has(flags.Write):
		return handle.AccessWrite
	default:
		return handle.AccessRead
	}
}

func (b *Backend) Rmfile(ctx context.Context, id dispatch.OperationId, in *handle.IoHandle, p dispatch.PathParams, owner handle.Owner) (bool, *handle.IoHandle, error) {
	pathp, err := windows.UTF16PtrFromString(p.Path)
	if err != nil {
		return true, nil, ioerr.Wrap(ioerr.InvalidArgument, "rmfile", p.Path, err)
	}
	if err := windows.DeleteFile(pathp); err != nil {
		return true, nil, ioerr.Wrap(classifyWinErr(err), "rmfile", p.Path, err)
	}
	return true, handle.Dummy(owner, p.Path), nil
}

func (b *Backend) Sync(ctx context.Context, id dispatch.OperationId, in *handle.IoHandle, owner handle.Owner) (bool, *handle.IoHandle, error) {
	if in == nil || in.IsDummy() {
		return true, in, nil
	}
	if in.Dirty() {
		if err := windows.FlushFileBuffers(windows.Handle(in.Native().Handle())); err != nil {
			return true, in, ioerr.Wrap(ioerr.IoError, "sync", in.Path(), err)
		}
	}
	in.RecordSync()
	return true, in, nil
}

// Close on Windows never needs the POSIX directory-sync subroutine: NTFS
// metadata durability does not depend on a parent-directory handle sync,
// so needsDirSync is always false (spec.md §4.2).
func (b *Backend) Close(ctx context.Context, id dispatch.OperationId, in *handle.IoHandle, owner handle.Owner) (bool, *handle.IoHandle, bool, string, error) {
	if in == nil || in.IsDummy() {
		return true, nil, false, "", nil
	}
	if in.AutoFlush() && in.Dirty() {
		windows.FlushFileBuffers(windows.Handle(in.Native().Handle()))
		in.RecordSync()
	}
	path := in.Path()
	if err := in.Close(); err != nil {
		return true, nil, false, "", ioerr.Wrap(ioerr.IoError, "close", path, err)
	}
	return true, nil, false, "", nil
}

func (b *Backend) Read(ctx context.Context, id dispatch.OperationId, in *handle.IoHandle, p dispatch.DataParams, owner handle.Owner) (bool, *handle.IoHandle, error) {
	return b.submitOverlapped(id, in, p, false)
}

func (b *Backend) Write(ctx context.Context, id dispatch.OperationId, in *handle.IoHandle, p dispatch.DataParams, owner handle.Owner) (bool, *handle.IoHandle, error) {
	return b.submitOverlapped(id, in, p, true)
}

// submitOverlapped issues a single overlapped ReadFile/WriteFile for
// p.Buffers[0]. ReadFile/WriteFile, unlike POSIX preadv/pwritev, take one
// buffer pointer each, so there's no single overlapped call that can carry
// a scatter/gather request the way the unix backends do; rather than drop
// p.Buffers[1:] silently and under-report bytes transferred, or chain
// multiple overlapped ops behind one OperationId, reject multi-buffer
// requests outright so DataParams's contract holds symmetrically across
// backends (spec.md §4.2).
func (b *Backend) submitOverlapped(id dispatch.OperationId, h *handle.IoHandle, p dispatch.DataParams, write bool) (bool, *handle.IoHandle, error) {
	if h == nil || h.IsDummy() {
		return true, nil, ioerr.New(ioerr.InvalidArgument, opName(write), "")
	}
	if len(p.Buffers) == 0 {
		return true, h, nil
	}
	if len(p.Buffers) > 1 {
		return true, h, ioerr.New(ioerr.InvalidArgument, opName(write), h.Path())
	}
	buf := p.Buffers[0]
	op := &windowsOp{write: write, h: h, id: id, params: p, completer: b.completer}
	op.ov.Offset = uint32(p.Offset)
	op.ov.OffsetHigh = uint32(p.Offset >> 32)

	b.mu.Lock()
	b.pending[op] = struct{}{}
	b.mu.Unlock()

	var err error
	if write {
		err = windows.WriteFile(windows.Handle(h.Native().Handle()), buf, nil, &op.ov)
	} else {
		err = windows.ReadFile(windows.Handle(h.Native().Handle()), buf, nil, &op.ov)
	}
	if err != nil && err != windows.ERROR_IO_PENDING {
		b.mu.Lock()
		delete(b.pending, op)
		b.mu.Unlock()
		return true, h, ioerr.Wrap(ioerr.IoError, opName(write), h.Path(), err)
	}
	return false, h, nil
}

// Deferred reports true for read/write: spec.md §4.2's backend contract
// table has Windows "enqueue overlapped, return deferred."
func (b *Backend) Deferred(kind dispatch.OpKind) bool {
	return kind == dispatch.KindRead || kind == dispatch.KindWrite
}

func classifyWinErr(err error) ioerr.Kind {
	switch err {
	case windows.ERROR_FILE_NOT_FOUND, windows.ERROR_PATH_NOT_FOUND:
		return ioerr.NotFound
	case windows.ERROR_ALREADY_EXISTS:
		return ioerr.AlreadyExists
	case windows.ERROR_DIRECTORY:
		return ioerr.NotADirectory
	case windows.ERROR_DIR_NOT_EMPTY:
		return ioerr.NotEmpty
	case windows.ERROR_ACCESS_DENIED:
		return ioerr.PermissionDenied
	case windows.ERROR_INVALID_PARAMETER:
		return ioerr.InvalidArgument
	default:
		return ioerr.IoError
	}
}
