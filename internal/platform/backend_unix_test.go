//go:build unix

package platform_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"afio/internal/dispatch"
	"afio/internal/flags"
	"afio/internal/handle"
	"afio/internal/ioerr"
	"afio/internal/mapping"
	"afio/internal/platform"
	"afio/internal/pool"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopCompleter struct{}

func (noopCompleter) CompleteAsyncOp(id dispatch.OperationId, out *handle.IoHandle, err error) {}

// newUnixTestDispatcher wires this unix target's default backend (the
// io_uring one on Linux, synchronous preadv/pwritev everywhere else) behind
// a real Dispatcher, so these tests exercise production wiring rather than
// a hand-picked backend variant.
func newUnixTestDispatcher(t *testing.T) *dispatch.Dispatcher {
	backend, err := platform.NewDefaultBackend(noopCompleter{})
	require.NoError(t, err)
	p := pool.New(4, 16)
	t.Cleanup(p.Close)
	return dispatch.New(p, backend, flags.None, flags.None)
}

func Test_UnixBackend_DirThenFileThenWriteThenReadRoundTrips(t *testing.T) {
	d := newUnixTestDispatcher(t)
	ctx := context.Background()
	root := t.TempDir()
	sub := filepath.Join(root, "sub")

	dirRefs, err := d.Dir(ctx, []dispatch.Request[dispatch.DirParams]{
		{Params: dispatch.DirParams{Path: sub, Flags: flags.Create}},
	})
	require.NoError(t, err)

	path := filepath.Join(sub, "a.txt")
	fileRefs, err := d.File(ctx, []dispatch.Request[dispatch.FileParams]{
		{Pre: dirRefs[0], Params: dispatch.FileParams{Path: path, Flags: flags.Create | flags.Write | flags.Read}},
	})
	require.NoError(t, err)

	writeRefs, err := d.Write(ctx, []dispatch.Request[dispatch.DataParams]{
		{Pre: fileRefs[0], Params: dispatch.DataParams{Buffers: [][]byte{[]byte("hello world")}}},
	})
	require.NoError(t, err)
	h, err := writeRefs[0].Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(len("hello world")), h.BytesWrittenTotal())

	readBuf := make([]byte, len("hello world"))
	readRefs, err := d.Read(ctx, []dispatch.Request[dispatch.DataParams]{
		{Pre: writeRefs[0], Params: dispatch.DataParams{Buffers: [][]byte{readBuf}}},
	})
	require.NoError(t, err)
	_, err = readRefs[0].Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(readBuf))

	closeRefs, err := d.Close(ctx, []dispatch.Request[dispatch.NoParams]{{Pre: readRefs[0]}})
	require.NoError(t, err)
	_, err = closeRefs[0].Wait(ctx)
	require.NoError(t, err)

	data, rerr := os.ReadFile(path)
	require.NoError(t, rerr)
	assert.Equal(t, "hello world", string(data))
}

func Test_UnixBackend_File_CreateOnlyIfNotExist_FailsOnSecondAttempt(t *testing.T) {
	d := newUnixTestDispatcher(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "once.txt")

	refs, err := d.File(ctx, []dispatch.Request[dispatch.FileParams]{
		{Params: dispatch.FileParams{Path: path, Flags: flags.Create | flags.CreateOnlyIfNotExist | flags.Write}},
	})
	require.NoError(t, err)
	_, err = refs[0].Wait(ctx)
	require.NoError(t, err)

	refs2, err := d.File(ctx, []dispatch.Request[dispatch.FileParams]{
		{Params: dispatch.FileParams{Path: path, Flags: flags.Create | flags.CreateOnlyIfNotExist | flags.Write}},
	})
	require.NoError(t, err)
	_, err2 := refs2[0].Wait(ctx)
	require.Error(t, err2)
	assert.True(t, ioerr.Is(err2, ioerr.AlreadyExists))
}

func Test_UnixBackend_Dir_SwallowsExistsUnlessExclusive(t *testing.T) {
	d := newUnixTestDispatcher(t)
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "again")

	refs, err := d.Dir(ctx, []dispatch.Request[dispatch.DirParams]{
		{Params: dispatch.DirParams{Path: dir, Flags: flags.Create}},
	})
	require.NoError(t, err)
	_, err = refs[0].Wait(ctx)
	require.NoError(t, err)

	refs2, err := d.Dir(ctx, []dispatch.Request[dispatch.DirParams]{
		{Params: dispatch.DirParams{Path: dir, Flags: flags.Create}},
	})
	require.NoError(t, err)
	_, err2 := refs2[0].Wait(ctx)
	assert.NoError(t, err2)

	refs3, err := d.Dir(ctx, []dispatch.Request[dispatch.DirParams]{
		{Params: dispatch.DirParams{Path: dir, Flags: flags.Create | flags.CreateOnlyIfNotExist}},
	})
	require.NoError(t, err)
	_, err3 := refs3[0].Wait(ctx)
	require.Error(t, err3)
	assert.True(t, ioerr.Is(err3, ioerr.AlreadyExists))
}

func Test_UnixBackend_RmfileThenRmdir(t *testing.T) {
	d := newUnixTestDispatcher(t)
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "doomed.txt")

	fileRefs, err := d.File(ctx, []dispatch.Request[dispatch.FileParams]{
		{Params: dispatch.FileParams{Path: path, Flags: flags.Create | flags.Write}},
	})
	require.NoError(t, err)
	_, err = fileRefs[0].Wait(ctx)
	require.NoError(t, err)

	rmRefs, err := d.Rmfile(ctx, []dispatch.Request[dispatch.PathParams]{
		{Pre: fileRefs[0], Params: dispatch.PathParams{Path: path}},
	})
	require.NoError(t, err)
	_, err = rmRefs[0].Wait(ctx)
	require.NoError(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	rmdirRefs, err := d.Rmdir(ctx, []dispatch.Request[dispatch.PathParams]{
		{Pre: rmRefs[0], Params: dispatch.PathParams{Path: dir}},
	})
	require.NoError(t, err)
	_, err = rmdirRefs[0].Wait(ctx)
	require.NoError(t, err)

	_, statErr = os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr))
}

func Test_UnixBackend_RandomFile_And_TempFile_Compose(t *testing.T) {
	d := newUnixTestDispatcher(t)
	ctx := context.Background()
	dir := t.TempDir()

	ref, err := d.RandomFile(ctx, dispatch.OpRef{}, dir, flags.Write)
	require.NoError(t, err)
	h, err := ref.Wait(ctx)
	require.NoError(t, err)
	assert.True(t, filepathHasPrefix(h.Path(), dir))

	tmpRef, err := d.TempFile(ctx, dispatch.OpRef{}, dir, "scratch.dat", flags.Write)
	require.NoError(t, err)
	_, err = tmpRef.Wait(ctx)
	require.NoError(t, err)
	// TempFile's Rmfile is chained on the open, not awaited by TempFile.
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "scratch.dat"))
		return os.IsNotExist(err)
	}, time.Second, time.Millisecond)
	_, statErr := os.Stat(filepath.Join(dir, "scratch.dat"))
	assert.True(t, os.IsNotExist(statErr))
}

// Test_MappedWrite_VisibleToDispatcherRead_OverRealBackingFile is spec.md
// §8 scenario 5: write through a Section mapped over a real, dispatcher-
// opened file, close the view, then read the same bytes back through the
// dispatcher's ordinary Read primitive — the one cross-subsystem invariant
// the mapping-only tests in internal/mapping/mapping_test.go (which only
// ever map the anonymous page file) can't exercise.
func Test_MappedWrite_VisibleToDispatcherRead_OverRealBackingFile(t *testing.T) {
	d := newUnixTestDispatcher(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mapped.dat")

	fileRefs, err := d.File(ctx, []dispatch.Request[dispatch.FileParams]{
		{Params: dispatch.FileParams{Path: path, Flags: flags.Create | flags.Read | flags.Write}},
	})
	require.NoError(t, err)
	h, err := fileRefs[0].Wait(ctx)
	require.NoError(t, err)

	granule := mapping.PageSizes()[0]
	section, err := mapping.Create(h, granule, flags.SectionReadWrite)
	require.NoError(t, err)
	defer section.Close()

	view, err := section.Map(0, granule, flags.SectionReadWrite)
	require.NoError(t, err)

	payload := []byte("mapped-write-visible-to-dispatcher-read")
	n := view.Write(0, payload)
	require.Equal(t, len(payload), n)
	require.NoError(t, view.Close())

	readBuf := make([]byte, len(payload))
	readRefs, err := d.Read(ctx, []dispatch.Request[dispatch.DataParams]{
		{Pre: fileRefs[0], Params: dispatch.DataParams{Buffers: [][]byte{readBuf}}},
	})
	require.NoError(t, err)
	_, err = readRefs[0].Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, payload, readBuf)
}

// Test_UnixBackend_CloseAfterSync_DirSyncChainTerminates is spec.md §8
// scenario 4 against the real backend: once a file has actually been
// fsynced, closing it must chain exactly file(parentDir) -> sync -> close
// and stop there, not climb filepath.Dir all the way to "/". Closing the
// chain's own directory handle goes through closeNoChain
// (internal/dispatch/ops.go), so this only terminates if that bypass holds;
// before it existed, the directory handle's own RecordSync made it
// everFsynced too, and its close would re-chain toward the root.
func Test_UnixBackend_CloseAfterSync_DirSyncChainTerminates(t *testing.T) {
	d := newUnixTestDispatcher(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "synced.txt")

	fileRefs, err := d.File(ctx, []dispatch.Request[dispatch.FileParams]{
		{Params: dispatch.FileParams{Path: path, Flags: flags.Create | flags.Write}},
	})
	require.NoError(t, err)

	writeRefs, err := d.Write(ctx, []dispatch.Request[dispatch.DataParams]{
		{Pre: fileRefs[0], Params: dispatch.DataParams{Buffers: [][]byte{[]byte("durable")}}},
	})
	require.NoError(t, err)

	syncRefs, err := d.Sync(ctx, []dispatch.Request[dispatch.NoParams]{{Pre: writeRefs[0]}})
	require.NoError(t, err)
	h, err := syncRefs[0].Wait(ctx)
	require.NoError(t, err)
	require.True(t, h.EverFsynced())

	closeRefs, err := d.Close(ctx, []dispatch.Request[dispatch.NoParams]{{Pre: syncRefs[0]}})
	require.NoError(t, err)
	_, err = closeRefs[0].Wait(ctx)
	require.NoError(t, err)

	data, rerr := os.ReadFile(path)
	require.NoError(t, rerr)
	assert.Equal(t, "durable", string(data))
}

func filepathHasPrefix(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && len(rel) > 0 && rel[0] != '.'
}
