package dispatch_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"afio/internal/dispatch"
	"afio/internal/flags"
	"afio/internal/handle"
	"afio/internal/ioerr"
	"afio/internal/pool"

	"github.com/lmittmann/tint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
)

func TestMain(m *testing.M) {
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelDebug})))
	os.Exit(m.Run())
}

// fakeBackend is a deterministic, in-memory stand-in for a platform
// backend: every op completes synchronously (done_now=true) except reads
// and writes when deferredReads/deferredWrites is set, which model deferred
// completions whose futures the test resolves manually via the
// dispatcher's exported CompleteAsyncOp.
type fakeBackend struct {
	mu      sync.Mutex
	created []string
	removed []string

	deferredReads  bool
	deferredWrites bool

	closeNeedsDirSync map[string]bool // handle path -> needs dir sync
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{closeNeedsDirSync: make(map[string]bool)}
}

func (b *fakeBackend) Dir(ctx context.Context, id dispatch.OperationId, in *handle.IoHandle, p dispatch.DirParams, owner handle.Owner) (bool, *handle.IoHandle, error) {
	b.mu.Lock()
	b.created = append(b.created, p.Path)
	b.mu.Unlock()
	return true, handle.Dummy(owner, p.Path), nil
}

func (b *fakeBackend) Rmdir(ctx context.Context, id dispatch.OperationId, in *handle.IoHandle, p dispatch.PathParams, owner handle.Owner) (bool, *handle.IoHandle, error) {
	b.mu.Lock()
	b.removed = append(b.removed, p.Path)
	b.mu.Unlock()
	return true, handle.Dummy(owner, p.Path), nil
}

func (b *fakeBackend) File(ctx context.Context, id dispatch.OperationId, in *handle.IoHandle, p dispatch.FileParams, owner handle.Owner) (bool, *handle.IoHandle, error) {
	if p.Path == "/fail/open" {
		return true, nil, ioerr.New(ioerr.NotFound, "file", p.Path)
	}
	h := handle.Dummy(owner, p.Path)
	return true, h, nil
}

func (b *fakeBackend) Rmfile(ctx context.Context, id dispatch.OperationId, in *handle.IoHandle, p dispatch.PathParams, owner handle.Owner) (bool, *handle.IoHandle, error) {
	b.mu.Lock()
	b.removed = append(b.removed, p.Path)
	b.mu.Unlock()
	return true, handle.Dummy(owner, p.Path), nil
}

func (b *fakeBackend) Sync(ctx context.Context, id dispatch.OperationId, in *handle.IoHandle, owner handle.Owner) (bool, *handle.IoHandle, error) {
	if in != nil {
		in.RecordSync()
	}
	return true, in, nil
}

func (b *fakeBackend) Close(ctx context.Context, id dispatch.OperationId, in *handle.IoHandle, owner handle.Owner) (bool, *handle.IoHandle, bool, string, error) {
	needsDirSync := false
	if in != nil {
		needsDirSync = b.closeNeedsDirSync[in.Path()]
		in.Close()
	}
	return true, nil, needsDirSync, "/parent/dir", nil
}

func (b *fakeBackend) Read(ctx context.Context, id dispatch.OperationId, in *handle.IoHandle, p dispatch.DataParams, owner handle.Owner) (bool, *handle.IoHandle, error) {
	if b.deferredReads {
		return false, nil, nil
	}
	return true, in, nil
}

func (b *fakeBackend) Write(ctx context.Context, id dispatch.OperationId, in *handle.IoHandle, p dispatch.DataParams, owner handle.Owner) (bool, *handle.IoHandle, error) {
	if in != nil {
		for _, buf := range p.Buffers {
			in.RecordWrite(len(buf))
		}
	}
	if b.deferredWrites {
		return false, nil, nil
	}
	return true, in, nil
}

func (b *fakeBackend) Deferred(kind dispatch.OpKind) bool {
	switch kind {
	case dispatch.KindRead:
		return b.deferredReads
	case dispatch.KindWrite:
		return b.deferredWrites
	default:
		return false
	}
}

func newTestDispatcher(backend *fakeBackend) (*dispatch.Dispatcher, *pool.Pool) {
	p := pool.New(4, 16)
	d := dispatch.New(p, backend, flags.None, flags.None)
	return d, p
}

func Test_Dispatcher_LinearPipeline_DirThenFile(t *testing.T) {
	backend := newFakeBackend()
	d, p := newTestDispatcher(backend)
	defer p.Close()
	ctx := context.Background()

	dirRefs, err := d.Dir(ctx, []dispatch.Request[dispatch.DirParams]{
		{Params: dispatch.DirParams{Path: "/tmp/x"}},
	})
	require.NoError(t, err)
	require.Len(t, dirRefs, 1)

	fileRefs, err := d.File(ctx, []dispatch.Request[dispatch.FileParams]{
		{Pre: dirRefs[0], Params: dispatch.FileParams{Path: "/tmp/x/a.txt"}},
	})
	require.NoError(t, err)

	h, err := fileRefs[0].Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x/a.txt", h.Path())
}

func Test_Dispatcher_FanOut_SiblingsFireInInsertionOrder(t *testing.T) {
	backend := newFakeBackend()
	// One worker, so tasks run in the order they were dispatched to the pool.
	p := pool.New(1, 16)
	d := dispatch.New(p, backend, flags.None, flags.None)
	defer p.Close()
	ctx := context.Background()

	dirRefs, err := d.Dir(ctx, []dispatch.Request[dispatch.DirParams]{
		{Params: dispatch.DirParams{Path: "/tmp/fanout"}},
	})
	require.NoError(t, err)

	var order []int
	var mu sync.Mutex
	batch := make([]dispatch.Request[dispatch.CompletionParams], 5)
	for i := 0; i < 5; i++ {
		idx := i
		batch[i] = dispatch.Request[dispatch.CompletionParams]{
			Pre: dirRefs[0],
			Params: dispatch.CompletionParams{
				Run: func(parent *handle.IoHandle, parentErr error, complete func(*handle.IoHandle, error)) {
					mu.Lock()
					order = append(order, idx)
					mu.Unlock()
					complete(parent, parentErr)
				},
			},
		}
	}
	refs, err := d.Completion(ctx, batch)
	require.NoError(t, err)
	for _, r := range refs {
		_, err := r.Wait(ctx)
		require.NoError(t, err)
	}

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func Test_Dispatcher_ErrorShortCircuitsChain(t *testing.T) {
	backend := newFakeBackend()
	d, p := newTestDispatcher(backend)
	defer p.Close()
	ctx := context.Background()

	fileRefs, err := d.File(ctx, []dispatch.Request[dispatch.FileParams]{
		{Params: dispatch.FileParams{Path: "/fail/open"}},
	})
	require.NoError(t, err)

	syncRefs, err := d.Sync(ctx, []dispatch.Request[dispatch.NoParams]{
		{Pre: fileRefs[0], Params: dispatch.NoParams{}},
	})
	require.NoError(t, err)

	_, waitErr := syncRefs[0].Wait(ctx)
	require.Error(t, waitErr)
	assert.True(t, ioerr.Is(waitErr, ioerr.NotFound))
}

func Test_Dispatcher_DeferredWrite_CompletesOnExternalCallback(t *testing.T) {
	backend := newFakeBackend()
	backend.deferredWrites = true
	d, p := newTestDispatcher(backend)
	defer p.Close()
	ctx := context.Background()

	fileRefs, err := d.File(ctx, []dispatch.Request[dispatch.FileParams]{
		{Params: dispatch.FileParams{Path: "/tmp/deferred.txt"}},
	})
	require.NoError(t, err)
	h, err := fileRefs[0].Wait(ctx)
	require.NoError(t, err)

	writeRefs, err := d.Write(ctx, []dispatch.Request[dispatch.DataParams]{
		{Pre: fileRefs[0], Params: dispatch.DataParams{Offset: 0, Buffers: [][]byte{[]byte("hello")}}},
	})
	require.NoError(t, err)
	assert.False(t, writeRefs[0].Done())

	// The external callback models an I/O the primitive already issued, so
	// it fires only once the write primitive has run.
	require.Eventually(t, func() bool { return h.BytesWrittenTotal() > 0 }, time.Second, time.Millisecond)

	d.CompleteAsyncOp(writeRefs[0].ID(), h, nil)

	got, err := writeRefs[0].Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, h, got)
	assert.Equal(t, uint64(5), h.BytesWrittenTotal())
}

func Test_Dispatcher_Shutdown_CancelsOutstandingOps(t *testing.T) {
	backend := newFakeBackend()
	backend.deferredWrites = true
	d, p := newTestDispatcher(backend)
	defer p.Close()
	ctx := context.Background()

	fileRefs, err := d.File(ctx, []dispatch.Request[dispatch.FileParams]{
		{Params: dispatch.FileParams{Path: "/tmp/shutdown.txt"}},
	})
	require.NoError(t, err)

	writeRefs, err := d.Write(ctx, []dispatch.Request[dispatch.DataParams]{
		{Pre: fileRefs[0], Params: dispatch.DataParams{Buffers: [][]byte{[]byte("x")}}},
	})
	require.NoError(t, err)

	d.Shutdown()

	_, waitErr := writeRefs[0].Wait(ctx)
	require.Error(t, waitErr)
	assert.True(t, ioerr.Is(waitErr, ioerr.CancelledAtShutdown))
}
