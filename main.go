package main

import (
	"log/slog"
	"os"
	"time"

	"afio/internal/dispatch"
	"afio/internal/flags"
	"afio/internal/handle"
	"afio/internal/platform"
	"afio/internal/pool"

	"github.com/lmittmann/tint"
)

// completerBox lets platform.NewDefaultBackend receive a dispatch.Completer
// before the Dispatcher it forwards to exists yet: the backend only needs
// the interface value, and d is filled in once the Dispatcher is built.
type completerBox struct {
	d *dispatch.Dispatcher
}

func (c *completerBox) CompleteAsyncOp(id dispatch.OperationId, out *handle.IoHandle, err error) {
	c.d.CompleteAsyncOp(id, out, err)
}

func main() {
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.TimeOnly,
	})))

	box := &completerBox{}
	backend, err := platform.NewDefaultBackend(box)
	if err != nil {
		slog.Error("platform backend", "err", err)
		os.Exit(1)
	}

	p := pool.New(8, 256)
	d := dispatch.New(p, backend, flags.None, flags.None)
	box.d = d

	slog.Info("afio dispatcher ready", "tempdir", platform.ProbeTempDir())
}
