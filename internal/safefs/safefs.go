// Package safefs wraps destructive filesystem operations with bounded
// retries so transient locks and permission errors do not abort a job.
package safefs

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"repack/internal/retry"
)

// FS performs move, rename and delete operations with retries. The zero
// value is not usable; construct with New.
type FS struct {
	file retry.Policy
	tree retry.Policy
	log  zerolog.Logger
}

// New returns an FS with the default policies: 3 attempts with a 1s delay
// for single-file operations, 30 attempts with a 250ms delay for recursive
// removal (directory handles linger much longer than file handles under
// antivirus and indexer interference).
func New(log zerolog.Logger) *FS {
	return &FS{
		file: retry.Policy{Attempts: 3, Delay: time.Second},
		tree: retry.Policy{Attempts: 30, Delay: 250 * time.Millisecond},
		log:  log,
	}
}

// WithPolicies overrides the retry policies. Tests use it to inject no-op
// sleeps.
func (f *FS) WithPolicies(file, tree retry.Policy) *FS {
	f.file = file
	f.tree = tree
	return f
}

// transient reports whether an operation is worth retrying. Missing files
// are final; everything else (permission, sharing violations, busy text
// files) may clear up once the offending handle is released.
func transient(err error) bool {
	return err != nil && !errors.Is(err, fs.ErrNotExist)
}

// Move relocates src to dst, falling back to copy-and-delete when rename
// fails (cross-device moves, locked destinations).
func (f *FS) Move(src, dst string) error {
	err := f.file.DoIf(func() error {
		ClearAttributes(src)
		if err := os.Rename(src, dst); err == nil {
			return nil
		}
		return copyAndRemove(src, dst)
	}, transient)
	if err != nil {
		return err
	}
	f.log.Debug().Str("src", src).Str("dst", dst).Msg("moved file")
	return nil
}

// Rename renames old to new with retries. Unlike Move it never copies, so
// it stays atomic within one filesystem.
func (f *FS) Rename(old, new string) error {
	return f.file.DoIf(func() error {
		ClearAttributes(old)
		return os.Rename(old, new)
	}, transient)
}

// Remove deletes a single file. A missing file is success.
func (f *FS) Remove(path string) error {
	return f.file.DoIf(func() error {
		ClearAttributes(path)
		err := os.Remove(path)
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		// Permission errors sometimes stem from the mode bits rather
		// than an open handle; force-writable and try once more.
		if chmodErr := os.Chmod(path, 0o666); chmodErr == nil {
			if err2 := os.Remove(path); err2 == nil || errors.Is(err2, fs.ErrNotExist) {
				return nil
			}
		}
		return err
	}, transient)
}

// RemoveAll deletes path and everything under it. Attributes are cleared
// across the whole tree before each attempt so read-only leftovers from
// extracted archives cannot wedge the removal.
func (f *FS) RemoveAll(path string) error {
	if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	err := f.tree.DoIf(func() error {
		clearTreeAttributes(path)
		return os.RemoveAll(path)
	}, transient)
	if err != nil {
		f.log.Warn().Err(err).Str("dir", path).Msg("could not completely remove directory")
		return err
	}
	return nil
}

// PruneEmptyDirs removes empty directories under root, deepest first. The
// root itself is kept.
func (f *FS) PruneEmptyDirs(root string) {
	var dirs []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && path != root {
			dirs = append(dirs, path)
		}
		return nil
	})

	sort.Slice(dirs, func(i, j int) bool {
		return strings.Count(dirs[i], string(os.PathSeparator)) > strings.Count(dirs[j], string(os.PathSeparator))
	})
	for _, dir := range dirs {
		// os.Remove refuses non-empty directories, which is exactly the
		// guard we want.
		if err := os.Remove(dir); err == nil {
			f.log.Debug().Str("dir", dir).Msg("removed empty directory")
		}
	}
}

func copyAndRemove(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		in.Close()
		return err
	}
	_, copyErr := io.Copy(out, in)
	in.Close()
	closeErr := out.Close()
	if copyErr != nil {
		os.Remove(dst)
		return copyErr
	}
	if closeErr != nil {
		os.Remove(dst)
		return closeErr
	}
	return os.Remove(src)
}

func clearTreeAttributes(root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		ClearAttributes(path)
		return nil
	})
}
