// Package pool implements the fixed-size worker pool spec.md §2 describes:
// "a fixed-size set of workers executing arbitrary unit tasks; offers
// enqueue(task) → future-of-result." It is the leaf component everything
// else in this module is built on.
//
// The submission/backpressure shape is the donor's own: internal/iomgr's
// IoMgr.Submit pushes onto a buffered channel and blocks the caller when the
// channel (and a semaphore sized to the ring depth) is full. This pool
// generalizes that to arbitrary tasks instead of fixed io_uring ops.
package pool

import (
	"context"
	"log/slog"
	"sync"
)

// Task is a unit of work submitted to the pool. It receives the context the
// submission was made with so a worker can observe cancellation mid-run.
type Task func(ctx context.Context) (any, error)

// Future is a single-fulfillment handle to a Task's eventual result.
// Dispatcher detached-promises (spec.md §4.1, §9) are built as a Future
// whose Resolve is called from an OS completion callback instead of from a
// pool worker — the type is shared between both origins.
type Future struct {
	done chan struct{}
	once sync.Once
	val  any
	err  error
}

// NewFuture creates a Future nothing has resolved yet. Dispatcher uses this
// directly to build detached promises (spec.md's "op's stored future is the
// promise's future instead of the pool's").
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolve fulfills the future exactly once; later calls are no-ops. This
// enforces spec.md §8's invariant that a future "resolves exactly once,
// either with a handle or with an error, and never both."
func (f *Future) Resolve(val any, err error) {
	f.once.Do(func() {
		f.val, f.err = val, err
		close(f.done)
	})
}

// Wait blocks until the future resolves, or ctx is done.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done reports whether the future has resolved without blocking.
func (f *Future) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Pool is a fixed-size worker pool. Workers pull from a shared task channel;
// there is no per-worker queue, matching the donor's single shared opQueue.
type Pool struct {
	log   *slog.Logger
	tasks chan poolJob
	wg    sync.WaitGroup

	closeOnce sync.Once
	closed    chan struct{}
}

type poolJob struct {
	ctx    context.Context
	task   Task
	future *Future
}

// New starts a Pool with the given number of workers and a task queue sized
// to queueLen (the donor's OP_Q_SIZE plays the same role for its op queue).
func New(workers, queueLen int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueLen <= 0 {
		queueLen = 1
	}
	p := &Pool{
		log:    slog.With("src", "pool"),
		tasks:  make(chan poolJob, queueLen),
		closed: make(chan struct{}),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case job := <-p.tasks:
			val, err := func() (val any, err error) {
				defer func() {
					if r := recover(); r != nil {
						p.log.Error("task panicked", "panic", r)
						panic(r)
					}
				}()
				return job.task(job.ctx)
			}()
			job.future.Resolve(val, err)
		case <-p.closed:
			return
		}
	}
}

// Submit enqueues task and returns a Future for its eventual result. If the
// pool has been closed, Submit returns a Future that is already resolved
// with a cancellation error rather than panicking on a closed channel.
func (p *Pool) Submit(ctx context.Context, task Task) *Future {
	future := NewFuture()
	select {
	case <-p.closed:
		future.Resolve(nil, context.Canceled)
		return future
	default:
	}
	job := poolJob{ctx: ctx, task: task, future: future}
	select {
	case p.tasks <- job:
	case <-p.closed:
		future.Resolve(nil, context.Canceled)
	}
	return future
}

// Close stops accepting new tasks and waits for in-flight workers to drain.
// Queued-but-not-started tasks may be dropped; their futures never resolve,
// so callers that submitted and are awaiting must bound the wait with their
// own context.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
	})
	p.wg.Wait()
}
