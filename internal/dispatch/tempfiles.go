package dispatch

import (
	"context"
	"crypto/rand"
	"fmt"
	"path/filepath"

	"afio/internal/flags"
	"afio/internal/ioerr"

	"github.com/cespare/xxhash"
)

const maxRandomFileAttempts = 64

// nameEntropy produces the per-attempt salt random_file hashes into a
// candidate filename. Tests swap this to make spec.md §8 scenario 3's
// colliding-then-fresh PRNG sequence reproducible.
var nameEntropy = func() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0
	}
	return xxhash.Sum64(buf[:])
}

func randomCandidateName(prefix string) string {
	return fmt.Sprintf("%s-%016x", prefix, nameEntropy())
}

// RandomFile implements spec.md §4.2's random_file(dir): probe random
// names under exclusive-create until one succeeds or a non-EEXIST failure
// occurs (spec.md §7: "random_file's EEXIST is retried with a fresh
// name" — recovered locally, never surfaced to the caller).
func (d *Dispatcher) RandomFile(ctx context.Context, dirRef OpRef, baseDir string, extra flags.File) (OpRef, error) {
	wantFlags := flags.Create | flags.CreateOnlyIfNotExist | extra
	var lastErr error
	for attempt := 0; attempt < maxRandomFileAttempts; attempt++ {
		path := filepath.Join(baseDir, randomCandidateName("afio-random"))
		refs, err := d.File(ctx, []Request[FileParams]{
			{Pre: dirRef, Params: FileParams{Path: path, Flags: wantFlags}},
		})
		if err != nil {
			return OpRef{}, err
		}
		ref := refs[0]
		if _, waitErr := ref.Wait(ctx); waitErr == nil {
			return ref, nil
		} else if ioerr.Is(waitErr, ioerr.AlreadyExists) {
			lastErr = waitErr
			continue
		} else {
			return OpRef{}, waitErr
		}
	}
	return OpRef{}, lastErr
}

// TempFile implements spec.md §4.2's temp_file(name): opens name under
// baseDir and arranges delete-on-close. On POSIX this is the classic
// open-then-unlink idiom — the descriptor stays valid after the directory
// entry disappears, so the Rmfile below is fired without being awaited by
// the caller of TempFile, only chained to run after the file op resolves.
// True Windows delete-on-close (FILE_FLAG_DELETE_ON_CLOSE) has no bit in
// spec.md §6's flag table to request it through; this is the one
// documented simplification where Windows keeps the file until an explicit
// Rmfile instead of deleting automatically on last-handle-close.
func (d *Dispatcher) TempFile(ctx context.Context, dirRef OpRef, baseDir, name string, extra flags.File) (OpRef, error) {
	path := filepath.Join(baseDir, name)
	refs, err := d.File(ctx, []Request[FileParams]{
		{Pre: dirRef, Params: FileParams{Path: path, Flags: flags.Create | flags.Write | extra}},
	})
	if err != nil {
		return OpRef{}, err
	}
	fileRef := refs[0]
	d.Rmfile(ctx, []Request[PathParams]{{Pre: fileRef, Params: PathParams{Path: path}}})
	return fileRef, nil
}

// TempInode implements spec.md §4.2's temp_inode(dir): an anonymous inode
// bound only to open descriptors, never visible under dir by any name. The
// backend surfaces this as flags.AnonymousInode on an ordinary File op;
// platforms without a Linux-style O_TMPFILE (everything but Linux, as of
// this writing) fail the op with InvalidArgument rather than fake the
// semantics with a named file that gets unlinked.
func (d *Dispatcher) TempInode(ctx context.Context, dirRef OpRef, dir string, extra flags.File) (OpRef, error) {
	refs, err := d.File(ctx, []Request[FileParams]{
		{Pre: dirRef, Params: FileParams{Path: dir, Flags: flags.AnonymousInode | extra}},
	})
	if err != nil {
		return OpRef{}, err
	}
	return refs[0], nil
}
