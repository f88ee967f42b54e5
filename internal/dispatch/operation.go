// Package dispatch implements spec.md §4.1's dispatcher core: the
// operation registry, id allocator, chain builder, completion dispatcher,
// and detached-promise mechanism. It is backend-agnostic — internal/platform
// supplies the concrete Backend this package's Dispatcher drives.
package dispatch

import (
	"context"

	"afio/internal/flags"
	"afio/internal/handle"
	"afio/internal/pool"
)

// OperationId is spec.md §3's monotonically increasing, never-reused op id.
// Zero means "no precondition."
type OperationId uint64

// NoPrecondition is the sentinel precondition id.
const NoPrecondition OperationId = 0

// OpKind tags what an Operation does, spec.md §3's operation-record kind.
type OpKind uint8

const (
	KindUnknown OpKind = iota
	KindUserCompletion
	KindDir
	KindRmdir
	KindFile
	KindRmfile
	KindSync
	KindClose
	KindRead
	KindWrite
)

func (k OpKind) String() string {
	switch k {
	case KindUserCompletion:
		return "UserCompletion"
	case KindDir:
		return "Dir"
	case KindRmdir:
		return "Rmdir"
	case KindFile:
		return "File"
	case KindRmfile:
		return "Rmfile"
	case KindSync:
		return "Sync"
	case KindClose:
		return "Close"
	case KindRead:
		return "Read"
	case KindWrite:
		return "Write"
	default:
		return "Unknown"
	}
}

// primitiveFn is a bound platform primitive: the request payload, the
// target id, and the backend call are all closed over already. It takes
// the parent's resolved handle (nil if the parent had no precondition or
// failed) and parent's error, and returns the (done_now, handle) pair
// spec.md §4.1's wrapping invariant describes.
type primitiveFn func(ctx context.Context, parentHandle *handle.IoHandle, parentErr error) (doneNow bool, out *handle.IoHandle, err error)

// chainLink is spec.md §3's "(child_id, thunk)" pair held on a parent
// Operation's completion list.
type chainLink struct {
	childID   OperationId
	primitive primitiveFn
}

// Operation is spec.md §3's central dispatcher record. The donor's
// `Op` (internal/iomgr/system_linux.go) is this record's single-ring
// ancestor, generalized here to hold a platform-independent completion
// list and future instead of Bufs/Lens/Offs/Ch arrays bound to one ring.
type Operation struct {
	id       OperationId
	kind     OpKind
	future   *pool.Future // always present; externally-visible outcome
	promise  *pool.Future // == future, set iff this op is deferred-completion
	children []chainLink
}

// OpRef is the operation reference callers receive from every public
// dispatcher method.
type OpRef struct {
	id     OperationId
	future *pool.Future
}

// ID returns the operation's id. A zero OpRef (ID() == NoPrecondition) is
// the spec.md §3 sentinel meaning "no precondition."
func (r OpRef) ID() OperationId { return r.id }

// Wait blocks until the operation resolves, returning its handle or error.
func (r OpRef) Wait(ctx context.Context) (*handle.IoHandle, error) {
	if r.future == nil {
		return nil, nil
	}
	val, err := r.future.Wait(ctx)
	if err != nil {
		return nil, err
	}
	h, _ := val.(*handle.IoHandle)
	return h, nil
}

// Done reports whether the operation has resolved, without blocking.
func (r OpRef) Done() bool {
	return r.future == nil || r.future.Done()
}

// Request pairs a precondition with the op-specific parameters spec.md §3's
// OperationRequest / Data-op request describe.
type Request[T any] struct {
	Pre    OpRef
	Params T
}

// DirParams is spec.md §4.2's "dir" op input.
type DirParams struct {
	Path  string
	Flags flags.File
}

// FileParams is spec.md §4.2's "file" op input.
type FileParams struct {
	Path  string
	Flags flags.File
}

// PathParams covers rmdir/rmfile's path-only input.
type PathParams struct {
	Path string
}

// NoParams covers sync/close, whose only input is the precondition.
type NoParams struct{}

// DataParams is spec.md §3's Data-op request: a positional offset plus a
// sequence of scatter/gather buffers. Deadline is accepted for interface
// symmetry with the map-handle read/write variants and ignored by every
// dispatcher-level primitive (spec.md §5: "ignored by read/write... never
// block on the dispatcher" applies to map-handle I/O; dispatcher I/O simply
// carries the field through without enforcing it, since POSIX positional
// I/O has no portable per-call timeout).
type DataParams struct {
	Offset   uint64
	Buffers  [][]byte
	Deadline int64 // unix nanoseconds; zero means "no deadline"
}

// CompletionParams is spec.md §4.1's `completion(ops, callbacks)` payload:
// Run is invoked with the precondition's resolved handle/error and a
// complete function the caller may invoke inline (making the continuation
// finish synchronously) or later from any goroutine (making it a true
// deferred completion) — see dispatcher.go's Completion method.
type CompletionParams struct {
	Run func(parent *handle.IoHandle, parentErr error, complete func(*handle.IoHandle, error))
}
