package job

import (
	crand "crypto/rand"
	"errors"
	"io/fs"
	mrand "math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"repack/internal/safefs"
)

const (
	// Files below this size are left alone: appending to a tiny marker
	// or placeholder file is more likely to corrupt it than to help.
	minMutateSize = 10
	maxMutateLen  = 32
)

// mutateTree appends random trailer bytes to every eligible regular file
// under root, changing each content hash without altering perceived
// content. Per-file failures are logged and skipped; they never abort the
// job.
func (r *Runner) mutateTree(root string) {
	mutated := 0
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return nil
		}
		if strings.EqualFold(d.Name(), "desktop.ini") {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() < minMutateSize {
			return nil
		}
		if err := r.mutateFile(path); err != nil {
			r.log.Warn().Err(err).Str("file", path).Msg("skipping hash mutation")
			return nil
		}
		mutated++
		return nil
	})
	if mutated > 0 {
		r.log.Debug().Int("files", mutated).Str("dir", root).Msg("mutated file hashes")
	}
}

// mutateFile appends 1-32 random bytes to path. Permission errors are
// retried after clearing blocking file attributes; other errors fail
// immediately.
func (r *Runner) mutateFile(path string) error {
	return r.mutateRetry.DoIf(func() error {
		safefs.ClearAttributes(path)

		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
		if err != nil {
			return err
		}
		trailer := make([]byte, mrand.IntN(maxMutateLen)+1)
		if _, err := crand.Read(trailer); err != nil {
			f.Close()
			return err
		}
		_, werr := f.Write(trailer)
		cerr := f.Close()
		if werr != nil {
			return werr
		}
		return cerr
	}, func(err error) bool {
		return errors.Is(err, fs.ErrPermission)
	})
}
