package dispatch

import (
	"context"

	"afio/internal/handle"
)

// Backend is spec.md §4.1/§4.2's platform backend contract: one
// implementation per {Windows-overlapped, POSIX-compat}. Dispatcher drives
// a Backend; Backend never drives a Dispatcher directly — the POSIX
// directory-sync-on-close subroutine (spec.md §4.2) is expressed instead as
// Close reporting "needsDirSync" and the Dispatcher's own Close method
// chaining three ordinary ops in response, keeping this interface one-way.
type Backend interface {
	Dir(ctx context.Context, id OperationId, in *handle.IoHandle, p DirParams, owner handle.Owner) (doneNow bool, out *handle.IoHandle, err error)
	Rmdir(ctx context.Context, id OperationId, in *handle.IoHandle, p PathParams, owner handle.Owner) (doneNow bool, out *handle.IoHandle, err error)
	File(ctx context.Context, id OperationId, in *handle.IoHandle, p FileParams, owner handle.Owner) (doneNow bool, out *handle.IoHandle, err error)
	Rmfile(ctx context.Context, id OperationId, in *handle.IoHandle, p PathParams, owner handle.Owner) (doneNow bool, out *handle.IoHandle, err error)
	Sync(ctx context.Context, id OperationId, in *handle.IoHandle, owner handle.Owner) (doneNow bool, out *handle.IoHandle, err error)

	// Close reports whether, after a successful close of a handle that was
	// ever fsynced, the POSIX backend needs the caller to chain
	// file-open(parentDir,Read) → sync(parentDir) → close(parentDir) so
	// directory-entry updates reach storage (spec.md §4.2). Windows always
	// reports needsDirSync=false.
	Close(ctx context.Context, id OperationId, in *handle.IoHandle, owner handle.Owner) (doneNow bool, out *handle.IoHandle, needsDirSync bool, dirPath string, err error)

	Read(ctx context.Context, id OperationId, in *handle.IoHandle, p DataParams, owner handle.Owner) (doneNow bool, out *handle.IoHandle, err error)
	Write(ctx context.Context, id OperationId, in *handle.IoHandle, p DataParams, owner handle.Owner) (doneNow bool, out *handle.IoHandle, err error)

	// Deferred reports whether kind (KindRead or KindWrite) completes
	// asynchronously (deferred) on this backend. Every other kind is always done-now
	// per spec.md §4.2's backend contract table, so Deferred is only ever
	// consulted for KindRead/KindWrite.
	Deferred(kind OpKind) bool
}

// Completer is the narrow slice of Dispatcher a platform backend needs to
// report a deferred read/write's completion from an OS callback thread
// (spec.md §4.2: "Read/write primitives hand a completion handler to the
// platform I/O facility that... calls the dispatcher's
// complete_async_op"). Dispatcher implements this; a Backend is handed one
// at construction so the one-way Backend->Dispatcher rule established by
// this file still holds — Backend depends on an interface dispatch
// defines, never on *Dispatcher itself.
type Completer interface {
	CompleteAsyncOp(id OperationId, out *handle.IoHandle, err error)
}
