package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"afio/internal/flags"
	"afio/internal/handle"
	"afio/internal/ioerr"
	"afio/internal/pool"

	"github.com/negrel/assert"
)

// Dispatcher is spec.md §4.1's dispatcher core. Its collect/chain/dispatch
// shape generalizes the donor's IoMgr (internal/iomgr/system_linux.go): the
// donor submits fixed io_uring ops onto one ring; Dispatcher submits
// arbitrary chained ops onto a Backend through a worker pool, with the
// ring-submission detail pushed down into internal/platform.
type Dispatcher struct {
	log *slog.Logger

	pool       *pool.Pool
	backend    Backend
	flagsForce flags.File
	flagsMask  flags.File

	mu     sync.Mutex // ops_lock: guards ops and nextID
	nextID OperationId
	ops    map[OperationId]*Operation
	closed bool

	fdsMu sync.Mutex // fds_lock: guards fds
	fds   map[handle.Native]*handle.IoHandle
}

// New constructs a Dispatcher per spec.md §4.1: "Constructor takes
// (pool, flags_force, flags_mask)."
func New(p *pool.Pool, backend Backend, flagsForce, flagsMask flags.File) *Dispatcher {
	return &Dispatcher{
		log:        slog.With("src", "dispatch"),
		pool:       p,
		backend:    backend,
		flagsForce: flagsForce,
		flagsMask:  flagsMask,
		ops:        make(map[OperationId]*Operation),
		fds:        make(map[handle.Native]*handle.IoHandle),
	}
}

// --- handle.Owner -----------------------------------------------------

func (d *Dispatcher) RegisterHandle(h *handle.IoHandle) {
	if h.IsDummy() {
		return
	}
	d.fdsMu.Lock()
	defer d.fdsMu.Unlock()
	d.fds[h.Native()] = h
}

func (d *Dispatcher) DeregisterHandle(h *handle.IoHandle) {
	if h.IsDummy() {
		return
	}
	d.fdsMu.Lock()
	defer d.fdsMu.Unlock()
	delete(d.fds, h.Native())
}

// --- chaining algorithm (spec.md §4.1) --------------------------------

func (d *Dispatcher) isDeferred(kind OpKind) bool {
	switch kind {
	case KindUserCompletion:
		return true
	case KindRead, KindWrite:
		return d.backend.Deferred(kind)
	default:
		return false
	}
}

// submit implements spec.md §4.1's six-step chaining algorithm. buildPrimitive
// is handed the freshly-allocated id so closures can bind it before the
// op's registry entry (and therefore its eligibility to be chained onto) is
// visible to other goroutines.
func (d *Dispatcher) submit(ctx context.Context, kind OpKind, pre OpRef, buildPrimitive func(id OperationId) primitiveFn) (OpRef, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return OpRef{}, ioerr.New(ioerr.CancelledAtShutdown, "dispatch.submit", "")
	}

	id := d.nextID + 1
	primitive := buildPrimitive(id)

	deferred := d.isDeferred(kind)
	future := pool.NewFuture()
	op := &Operation{id: id, kind: kind, future: future}
	if deferred {
		op.promise = future
	}

	var undo []func()
	commit := false
	defer func() {
		if !commit {
			for i := len(undo) - 1; i >= 0; i-- {
				undo[i]()
			}
		}
	}()

	chained := false
	if pre.id != NoPrecondition {
		if parent, ok := d.ops[pre.id]; ok {
			parent.children = append(parent.children, chainLink{childID: id, primitive: primitive})
			undo = append(undo, func() {
				parent.children = parent.children[:len(parent.children)-1]
			})
			chained = true
		}
	}

	d.nextID = id
	d.ops[id] = op
	undo = append(undo, func() { delete(d.ops, id) })

	commit = true
	d.mu.Unlock()

	ref := OpRef{id: id, future: future}
	if chained {
		return ref, nil
	}

	parentHandle, parentErr := d.resolvePrecondition(ctx, pre)
	d.pool.Submit(ctx, func(ctx context.Context) (any, error) {
		d.wrapAndRun(ctx, id, primitive, parentHandle, parentErr)
		return nil, nil
	})
	return ref, nil
}

// resolvePrecondition reads pre's resolved handle/error. pre is either the
// zero OpRef (no precondition) or refers to an op that has already left
// the registry (submit only reaches here when it did NOT chain) — so the
// future is already resolved and this never blocks in practice.
func (d *Dispatcher) resolvePrecondition(ctx context.Context, pre OpRef) (*handle.IoHandle, error) {
	if pre.id == NoPrecondition || pre.future == nil {
		return nil, nil
	}
	val, err := pre.future.Wait(ctx)
	if err != nil {
		return nil, err
	}
	h, _ := val.(*handle.IoHandle)
	return h, nil
}

// wrapAndRun is spec.md §4.1's "wrapping invariant": run the primitive,
// and either complete the op now (done_now) or assert it carries a
// detached promise for later completion. A panic in the primitive is
// attached to the op's outcome and re-raised on the worker, matching
// spec.md §7's propagation rule.
func (d *Dispatcher) wrapAndRun(ctx context.Context, id OperationId, primitive primitiveFn, parentHandle *handle.IoHandle, parentErr error) {
	var doneNow bool
	var out *handle.IoHandle
	var err error
	var panicVal any

	func() {
		defer func() {
			if r := recover(); r != nil {
				panicVal = r
				doneNow = true
				err = fmt.Errorf("platform primitive panic: %v", r)
			}
		}()
		doneNow, out, err = primitive(ctx, parentHandle, parentErr)
	}()

	if doneNow {
		d.CompleteAsyncOp(id, out, err)
	} else {
		d.mu.Lock()
		op, stillPending := d.ops[id]
		d.mu.Unlock()
		if stillPending {
			assert.True(op.promise != nil, "deferred completion without a detached promise")
		}
	}

	if panicVal != nil {
		panic(panicVal)
	}
}

// CompleteAsyncOp is spec.md §4.1's completion dispatcher
// (complete_async_op). It is exported so a platform backend's OS callback
// thread (the Windows-overlapped IOCP poller, or a caller fulfilling a
// user-completion op) can invoke it directly, outside any pool worker —
// spec.md §4.2: "This is the only code path where completions arise
// outside a worker... no special thread identity is assumed."
func (d *Dispatcher) CompleteAsyncOp(id OperationId, out *handle.IoHandle, err error) {
	d.mu.Lock()
	op, ok := d.ops[id]
	if !ok && d.closed {
		// Shutdown already resolved this op with CancelledAtShutdown.
		d.mu.Unlock()
		return
	}
	assert.True(ok, "complete_async_op: operation not found in registry")
	children := op.children
	op.children = nil
	delete(d.ops, id)
	d.mu.Unlock()

	for _, link := range children {
		childID := link.childID
		primitive := link.primitive
		d.pool.Submit(context.Background(), func(ctx context.Context) (any, error) {
			d.wrapAndRun(ctx, childID, primitive, out, err)
			return nil, nil
		})
	}

	op.future.Resolve(out, err)
}

// Shutdown is the Dispatcher's own destructor/lifecycle end, distinct from
// the Close *operation* (spec.md §4.1: "destructor awaits or drops
// outstanding ops"). It takes the drop-with-cancellation branch: every op
// still in the registry resolves with CancelledAtShutdown (spec.md §8
// scenario 6); a later CompleteAsyncOp for one of those dropped ops is
// ignored. It never touches handles or maps callers already own
// (spec.md §4.1: "Shutdown does not unmap memory or close handles that
// were returned to callers — only ops the dispatcher itself still owns").
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	d.closed = true
	pending := d.ops
	d.ops = make(map[OperationId]*Operation)
	d.mu.Unlock()

	for _, op := range pending {
		op.future.Resolve(nil, ioerr.New(ioerr.CancelledAtShutdown, "dispatch.Shutdown", ""))
	}
}
