package dispatch

import (
	"context"

	"afio/internal/flags"
	"afio/internal/handle"
)

// Dir submits a batch of "dir" ops, spec.md §4.2's directory-creation
// primitive. Each request's precondition gates its own primitive
// independently; the batch exists only for caller convenience.
func (d *Dispatcher) Dir(ctx context.Context, batch []Request[DirParams]) ([]OpRef, error) {
	return submitBatch(d, ctx, KindDir, batch, func(id OperationId, p DirParams) primitiveFn {
		p.Flags = flags.Effective(p.Flags, d.flagsForce, d.flagsMask)
		return func(ctx context.Context, parent *handle.IoHandle, parentErr error) (bool, *handle.IoHandle, error) {
			if parentErr != nil {
				return true, nil, parentErr
			}
			return d.backend.Dir(ctx, id, parent, p, d)
		}
	})
}

// Rmdir submits a batch of "rmdir" ops.
func (d *Dispatcher) Rmdir(ctx context.Context, batch []Request[PathParams]) ([]OpRef, error) {
	return submitBatch(d, ctx, KindRmdir, batch, func(id OperationId, p PathParams) primitiveFn {
		return func(ctx context.Context, parent *handle.IoHandle, parentErr error) (bool, *handle.IoHandle, error) {
			if parentErr != nil {
				return true, nil, parentErr
			}
			return d.backend.Rmdir(ctx, id, parent, p, d)
		}
	})
}

// File submits a batch of "file" ops, spec.md §4.2's file-open primitive.
func (d *Dispatcher) File(ctx context.Context, batch []Request[FileParams]) ([]OpRef, error) {
	return submitBatch(d, ctx, KindFile, batch, func(id OperationId, p FileParams) primitiveFn {
		p.Flags = flags.Effective(p.Flags, d.flagsForce, d.flagsMask)
		return func(ctx context.Context, parent *handle.IoHandle, parentErr error) (bool, *handle.IoHandle, error) {
			if parentErr != nil {
				return true, nil, parentErr
			}
			return d.backend.File(ctx, id, parent, p, d)
		}
	})
}

// Rmfile submits a batch of "rmfile" ops.
func (d *Dispatcher) Rmfile(ctx context.Context, batch []Request[PathParams]) ([]OpRef, error) {
	return submitBatch(d, ctx, KindRmfile, batch, func(id OperationId, p PathParams) primitiveFn {
		return func(ctx context.Context, parent *handle.IoHandle, parentErr error) (bool, *handle.IoHandle, error) {
			if parentErr != nil {
				return true, nil, parentErr
			}
			return d.backend.Rmfile(ctx, id, parent, p, d)
		}
	})
}

// Sync submits a batch of "sync" ops, fsync-ing the precondition's handle.
func (d *Dispatcher) Sync(ctx context.Context, batch []Request[NoParams]) ([]OpRef, error) {
	return submitBatch(d, ctx, KindSync, batch, func(id OperationId, _ NoParams) primitiveFn {
		return func(ctx context.Context, parent *handle.IoHandle, parentErr error) (bool, *handle.IoHandle, error) {
			if parentErr != nil {
				return true, nil, parentErr
			}
			return d.backend.Sync(ctx, id, parent, d)
		}
	})
}

// Close submits a batch of "close" ops. When the backend reports that
// closing an ever-fsynced file needs a directory metadata sync
// (spec.md §4.2's POSIX close-with-dirsync subroutine), this method chains
// file(dirPath) -> sync -> close directly onto the close op's own id while
// it is still registered, so the three follow-up ops become the close op's
// children with no special dispatcher-core logic required.
func (d *Dispatcher) Close(ctx context.Context, batch []Request[NoParams]) ([]OpRef, error) {
	return submitBatch(d, ctx, KindClose, batch, func(id OperationId, _ NoParams) primitiveFn {
		return d.closePrimitive(id, true)
	})
}

// closeNoChain closes a handle via the plain backend primitive, without
// ever inspecting needsDirSync. It closes the directory handle opened by
// the dirsync chain below: that handle's own Sync makes it everFsynced too,
// and chaining its close through the dirsync check again would climb
// file(parentDir) -> sync -> close all the way to "/" (filepath.Dir("/")
// is its own fixed point, and opening "/" read-only always succeeds), where
// spec.md §8 scenario 4 names a bounded chain of exactly three follow-up
// ops, not unbounded recursion. The original keeps this bounded the same
// way, with directory open/sync/close issued as raw chain_async_op
// primitives that never re-enter close() itself
// (original_source/triplegit/src/async_file_io.cpp:816-829).
func (d *Dispatcher) closeNoChain(ctx context.Context, batch []Request[NoParams]) ([]OpRef, error) {
	return submitBatch(d, ctx, KindClose, batch, func(id OperationId, _ NoParams) primitiveFn {
		return d.closePrimitive(id, false)
	})
}

func (d *Dispatcher) closePrimitive(id OperationId, chain bool) primitiveFn {
	return func(ctx context.Context, parent *handle.IoHandle, parentErr error) (bool, *handle.IoHandle, error) {
		if parentErr != nil {
			return true, nil, parentErr
		}
		doneNow, out, needsDirSync, dirPath, err := d.backend.Close(ctx, id, parent, d)
		if chain && err == nil && needsDirSync {
			selfRef := OpRef{id: id}
			fileRefs, ferr := d.File(ctx, []Request[FileParams]{{Pre: selfRef, Params: FileParams{Path: dirPath}}})
			if ferr == nil && len(fileRefs) == 1 {
				syncRefs, serr := d.Sync(ctx, []Request[NoParams]{{Pre: fileRefs[0], Params: NoParams{}}})
				if serr == nil && len(syncRefs) == 1 {
					d.closeNoChain(ctx, []Request[NoParams]{{Pre: syncRefs[0], Params: NoParams{}}})
				}
			}
		}
		return doneNow, out, err
	}
}

// Read submits a batch of "read" data ops.
func (d *Dispatcher) Read(ctx context.Context, batch []Request[DataParams]) ([]OpRef, error) {
	return submitBatch(d, ctx, KindRead, batch, func(id OperationId, p DataParams) primitiveFn {
		return func(ctx context.Context, parent *handle.IoHandle, parentErr error) (bool, *handle.IoHandle, error) {
			if parentErr != nil {
				return true, nil, parentErr
			}
			return d.backend.Read(ctx, id, parent, p, d)
		}
	})
}

// Write submits a batch of "write" data ops.
func (d *Dispatcher) Write(ctx context.Context, batch []Request[DataParams]) ([]OpRef, error) {
	return submitBatch(d, ctx, KindWrite, batch, func(id OperationId, p DataParams) primitiveFn {
		return func(ctx context.Context, parent *handle.IoHandle, parentErr error) (bool, *handle.IoHandle, error) {
			if parentErr != nil {
				return true, nil, parentErr
			}
			return d.backend.Write(ctx, id, parent, p, d)
		}
	})
}

// Completion submits a batch of user-supplied continuations, spec.md
// §4.1's `completion(ops, callbacks)`. Each Run is handed the precondition's
// resolved handle/error and a complete function: calling it inline resolves
// the op synchronously; calling it later from any goroutine makes it a true
// deferred completion. Either way the primitive itself always reports
// done_now=false, since the op is resolved only through complete, whether
// Run calls it inline or later.
func (d *Dispatcher) Completion(ctx context.Context, batch []Request[CompletionParams]) ([]OpRef, error) {
	return submitBatch(d, ctx, KindUserCompletion, batch, func(id OperationId, p CompletionParams) primitiveFn {
		return func(ctx context.Context, parent *handle.IoHandle, parentErr error) (bool, *handle.IoHandle, error) {
			p.Run(parent, parentErr, func(h *handle.IoHandle, err error) {
				d.CompleteAsyncOp(id, h, err)
			})
			return false, nil, nil
		}
	})
}

// submitBatch is the shared fan-out loop every batch method uses: for each
// request, build its primitive (bound to a fresh id) and hand it to submit.
func submitBatch[T any](d *Dispatcher, ctx context.Context, kind OpKind, batch []Request[T], build func(id OperationId, p T) primitiveFn) ([]OpRef, error) {
	refs := make([]OpRef, 0, len(batch))
	for _, req := range batch {
		ref, err := d.submit(ctx, kind, req.Pre, func(id OperationId) primitiveFn {
			return build(id, req.Params)
		})
		if err != nil {
			return refs, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

