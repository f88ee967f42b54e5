//go:build unix

package handle_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"afio/internal/handle"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func Test_IoHandle_Extent_ReportsRealFileLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extent.txt")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))

	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	require.NoError(t, err)

	h := handle.New(nil, path, handle.NewNative(fd, handle.AccessRead, handle.CacheUnspecified), false)
	defer h.Close()

	size, err := h.Extent(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 10, size)
}
