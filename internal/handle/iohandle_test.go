package handle_test

import (
	"context"
	"testing"

	"afio/internal/handle"
	"afio/internal/ioerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOwner struct {
	registered   []*handle.IoHandle
	deregistered []*handle.IoHandle
}

func (f *fakeOwner) RegisterHandle(h *handle.IoHandle)   { f.registered = append(f.registered, h) }
func (f *fakeOwner) DeregisterHandle(h *handle.IoHandle) { f.deregistered = append(f.deregistered, h) }

func Test_IoHandle_RegistersAndDeregisters(t *testing.T) {
	owner := &fakeOwner{}
	h := handle.New(owner, "/tmp/x", handle.Invalid, false)

	assert.Len(t, owner.registered, 1)
	assert.Empty(t, owner.deregistered)

	require.NoError(t, h.Close())
	assert.Len(t, owner.deregistered, 1)
}

func Test_IoHandle_Close_IsIdempotent(t *testing.T) {
	owner := &fakeOwner{}
	h := handle.New(owner, "/tmp/x", handle.Invalid, false)

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	assert.Len(t, owner.deregistered, 1)
}

func Test_IoHandle_DirtyAndSyncInvariant(t *testing.T) {
	h := handle.New(nil, "/tmp/x", handle.Invalid, false)

	assert.False(t, h.Dirty())
	h.RecordWrite(10)
	assert.True(t, h.Dirty())
	assert.Equal(t, uint64(10), h.BytesWrittenTotal())
	assert.Equal(t, uint64(0), h.BytesWrittenAtLastFsync())

	h.RecordSync()
	assert.False(t, h.Dirty())
	assert.Equal(t, uint64(10), h.BytesWrittenAtLastFsync())
	assert.True(t, h.EverFsynced())

	h.RecordWrite(5)
	assert.True(t, h.Dirty())
	assert.LessOrEqual(t, h.BytesWrittenAtLastFsync(), h.BytesWrittenTotal())
}

func Test_IoHandle_Dummy_HasNoNativeIdentity(t *testing.T) {
	h := handle.Dummy(nil, "/tmp/deleted")
	assert.True(t, h.IsDummy())
	assert.False(t, h.Native().Valid())
}

func Test_IoHandle_Extent_OnDummyIsInvalidArgument(t *testing.T) {
	h := handle.Dummy(nil, "/tmp/deleted")
	_, err := h.Extent(context.Background())
	require.Error(t, err)
	assert.True(t, ioerr.Is(err, ioerr.InvalidArgument))
}
