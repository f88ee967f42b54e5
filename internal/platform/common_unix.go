//go:build unix

package platform

import (
	"context"
	"log/slog"
	"path/filepath"

	"afio/internal/dispatch"
	"afio/internal/flags"
	"afio/internal/handle"
	"afio/internal/ioerr"

	"golang.org/x/sys/unix"
)

// dataIO is the platform-specific positional scatter/gather path Backend
// delegates read/write to. uring_linux.go supplies an io_uring-backed one;
// posix_preadv_unix.go supplies a synchronous preadv/pwritev one for every
// other unix target.
type dataIO interface {
	read(ctx context.Context, id dispatch.OperationId, h *handle.IoHandle, p dispatch.DataParams, completer dispatch.Completer) (doneNow bool, err error)
	write(ctx context.Context, id dispatch.OperationId, h *handle.IoHandle, p dispatch.DataParams, completer dispatch.Completer) (doneNow bool, err error)
	deferred(kind dispatch.OpKind) bool
	close()
}

// Backend is the POSIX dispatch.Backend: dir/rmdir/file/rmfile/sync/close
// via plain syscalls generalizing the donor's open/close handling
// (internal/iomgr had none of these — they lived in the donor's pager —
// so this is written fresh in the donor's syscall-direct style), with
// positional read/write delegated to data.
type Backend struct {
	log       *slog.Logger
	data      dataIO
	completer dispatch.Completer
}

// NewBackend wires data (the io_uring ring on Linux, preadv/pwritev
// elsewhere) into a POSIX Backend. completer lets data report a deferred
// read/write's completion straight to the dispatcher (spec.md §4.2).
func NewBackend(data dataIO, completer dispatch.Completer) *Backend {
	return &Backend{log: slog.With("src", "platform.posix"), data: data, completer: completer}
}

func toOpenFlags(f flags.File) int {
	var o int
	switch {
	case f.Has(flags.Read) && f.Has(flags.Write):
		o |= unix.O_RDWR
	case f.Has(flags.Write):
		o |= unix.O_WRONLY
	default:
		o |= unix.O_RDONLY
	}
	if f.Has(flags.Append) {
		o |= unix.O_APPEND
	}
	if f.Has(flags.Truncate) {
		o |= unix.O_TRUNC
	}
	if f.Has(flags.CreateOnlyIfNotExist) {
		o |= unix.O_CREAT | unix.O_EXCL
	} else if f.Has(flags.Create) {
		o |= unix.O_CREAT
	}
	if f.Has(flags.OSSync) {
		o |= unix.O_SYNC
	}
	return o
}

func accessModeOf(f flags.File) handle.AccessMode {
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

func (b *Backend) Dir(ctx context.Context, id dispatch.OperationId, in *handle.IoHandle, p dispatch.DirParams, owner handle.Owner) (bool, *handle.IoHandle, error) {
	err := unix.Mkdir(p.Path, uint32(defaultDirMode))
	if err != nil {
		if err == unix.EEXIST {
			if p.Flags.Has(flags.CreateOnlyIfNotExist) {
				return true, nil, ioerr.Wrap(ioerr.AlreadyExists, "dir", p.Path, err)
			}
			// spec.md §7: "CreateDirectory racing with another creator is
			// swallowed unless CreateOnlyIfNotExist was requested."
		} else {
			return true, nil, ioerr.Wrap(classifyErrno(err), "dir", p.Path, err)
		}
	}
	if !p.Flags.Has(flags.Read) {
		return true, handle.Dummy(owner, p.Path), nil
	}
	fd, oerr := unix.Open(p.Path, unix.O_RDONLY|unix.O_DIRECTORY, 0)
	if oerr != nil {
		return true, nil, ioerr.Wrap(classifyErrno(oerr), "dir", p.Path, oerr)
	}
	native := handle.NewNative(fd, handle.AccessRead, handle.CacheUnspecified)
	return true, handle.New(owner, p.Path, native, false), nil
}

func (b *Backend) Rmdir(ctx context.Context, id dispatch.OperationId, in *handle.IoHandle, p dispatch.PathParams, owner handle.Owner) (bool, *handle.IoHandle, error) {
	if err := unix.Rmdir(p.Path); err != nil {
		return true, nil, ioerr.Wrap(classifyErrno(err), "rmdir", p.Path, err)
	}
	return true, handle.Dummy(owner, p.Path), nil
}

func (b *Backend) File(ctx context.Context, id dispatch.OperationId, in *handle.IoHandle, p dispatch.FileParams, owner handle.Owner) (bool, *handle.IoHandle, error) {
	openFlags := toOpenFlags(p.Flags)
	if p.Flags.Has(flags.AnonymousInode) {
		tmpFlag, ok := anonymousInodeOpenFlag()
		if !ok {
			return true, nil, ioerr.New(ioerr.InvalidArgument, "temp_inode", p.Path)
		}
		// p.Path names the directory the anonymous inode is opened
		// against, not a file: O_TMPFILE never creates a visible entry.
		openFlags = tmpFlag | unix.O_RDWR
	}
	fd, err := unix.Open(p.Path, openFlags, uint32(defaultFileMode))
	if err != nil {
		return true, nil, ioerr.Wrap(classifyErrno(err), "file", p.Path, err)
	}
	if p.Flags.Has(flags.WillBeSequentiallyAccessed) {
		unix.Fadvise(fd, 0, 0, unix.FADV_SEQUENTIAL)
	}
	if p.Flags.Has(flags.OSDirect) {
		setDirectIO(fd)
	}
	caching := handle.CacheUnspecified
	if p.Flags.Has(flags.OSDirect) {
		caching = handle.CacheNone
	}
	native := handle.NewNative(fd, accessModeOf(p.Flags), caching)
	h := handle.New(owner, p.Path, native, p.Flags.Has(flags.AutoFlush))
	return true, h, nil
}

func (b *Backend) Rmfile(ctx context.Context, id dispatch.OperationId, in *handle.IoHandle, p dispatch.PathParams, owner handle.Owner) (bool, *handle.IoHandle, error) {
	if err := unix.Unlink(p.Path); err != nil {
		return true, nil, ioerr.Wrap(classifyErrno(err), "rmfile", p.Path, err)
	}
	return true, handle.Dummy(owner, p.Path), nil
}

func (b *Backend) Sync(ctx context.Context, id dispatch.OperationId, in *handle.IoHandle, owner handle.Owner) (bool, *handle.IoHandle, error) {
	if in == nil || in.IsDummy() {
		return true, in, nil
	}
	if in.Dirty() {
		if err := unix.Fsync(in.Native().Fd()); err != nil {
			return true, in, ioerr.Wrap(ioerr.IoError, "sync", in.Path(), err)
		}
	}
	in.RecordSync()
	return true, in, nil
}

// Close implements spec.md §4.2's POSIX close subroutine: after closing a
// file that was ever fsynced, report needsDirSync so Dispatcher.Close can
// chain file(parentDir) -> sync -> close on the close op's own id.
func (b *Backend) Close(ctx context.Context, id dispatch.OperationId, in *handle.IoHandle, owner handle.Owner) (bool, *handle.IoHandle, bool, string, error) {
	if in == nil || in.IsDummy() {
		return true, nil, false, "", nil
	}
	path := in.Path()
	if in.AutoFlush() && in.Dirty() {
		if err := unix.Fsync(in.Native().Fd()); err != nil {
			return true, nil, false, "", ioerr.Wrap(ioerr.IoError, "close", path, err)
		}
		in.RecordSync()
	}
	everFsynced := in.EverFsynced()
	if err := in.Close(); err != nil {
		return true, nil, false, "", ioerr.Wrap(ioerr.IoError, "close", path, err)
	}
	if !everFsynced {
		return true, nil, false, "", nil
	}
	return true, nil, true, filepath.Dir(path), nil
}

func (b *Backend) Read(ctx context.Context, id dispatch.OperationId, in *handle.IoHandle, p dispatch.DataParams, owner handle.Owner) (bool, *handle.IoHandle, error) {
	doneNow, err := b.data.read(ctx, id, in, p, b.completer)
	return doneNow, in, err
}

func (b *Backend) Write(ctx context.Context, id dispatch.OperationId, in *handle.IoHandle, p dispatch.DataParams, owner handle.Owner) (bool, *handle.IoHandle, error) {
	doneNow, err := b.data.write(ctx, id, in, p, b.completer)
	return doneNow, in, err
}

func (b *Backend) Deferred(kind dispatch.OpKind) bool {
	return b.data.deferred(kind)
}

// classifyErrno maps a unix.Errno onto spec.md §7's error-kind scheme.
func classifyErrno(err error) ioerr.Kind {
	switch err {
	case unix.ENOENT:
		return ioerr.NotFound
	case unix.EEXIST:
		return ioerr.AlreadyExists
	case unix.ENOTDIR:
		return ioerr.NotADirectory
	case unix.ENOTEMPTY:
		return ioerr.NotEmpty
	case unix.EACCES, unix.EPERM:
		return ioerr.PermissionDenied
	case unix.EINVAL:
		return ioerr.InvalidArgument
	default:
		return ioerr.IoError
	}
}
