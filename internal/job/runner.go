// Package job runs the repackaging state machine for one archive, and the
// plain-file wrapper for loose files: extract, flatten, mutate, filter,
// re-archive, remove originals, atomic rename, cleanup.
package job

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"repack/internal/banned"
	"repack/internal/classify"
	"repack/internal/ports"
	"repack/internal/retry"
	"repack/internal/safefs"
)

var (
	// ErrExtractionFailed means extraction kept failing after all
	// attempts; the original archive is left untouched for a later retry.
	ErrExtractionFailed = errors.New("archive extraction failed after all attempts")
	// ErrCreationFailed means re-archiving kept failing after all
	// attempts.
	ErrCreationFailed = errors.New("archive creation failed after all attempts")
	// ErrNoOutputProduced means creation reported success but no volume
	// exists on disk.
	ErrNoOutputProduced = errors.New("no output archives were produced")
)

// tempMarkerPrefix separates the final title from the unique token in
// temporary archive names. The reserved "_tmp-" boundary plus a fresh UUID
// guarantees the marker cannot occur in a legitimate title, so stripping
// it during the final rename is unambiguous.
const tempMarkerPrefix = "_tmp-"

// A Job describes one archive to repackage. Runner fills in the multipart
// fields during the run; Parts lets the caller mark every consumed volume
// as processed.
type Job struct {
	ArchivePath string
	Format      classify.Format
	FinalTitle  string
	Password    string

	Multipart bool
	Parts     []string

	extractDir string
}

// Runner executes archive jobs. One Runner is safe for use by concurrent
// pipeline invocations: all per-job state lives in the Job.
type Runner struct {
	arch ports.Archiver
	reg  *banned.Registry
	fs   *safefs.FS
	log  zerolog.Logger

	extractRetry retry.Policy
	createRetry  retry.Policy
	mutateRetry  retry.Policy
	plainRetry   retry.Policy

	newToken func() string
}

// Option is a functional option for configuring Runner.
type Option func(*Runner)

// WithSleep replaces the sleep function of every retry policy. Tests use
// it to avoid real backoff delays.
func WithSleep(sleep func(time.Duration)) Option {
	return func(r *Runner) {
		r.extractRetry.Sleep = sleep
		r.createRetry.Sleep = sleep
		r.mutateRetry.Sleep = sleep
		r.plainRetry.Sleep = sleep
	}
}

// WithTokenFunc replaces the unique-token source.
func WithTokenFunc(fn func() string) Option {
	return func(r *Runner) { r.newToken = fn }
}

// NewRunner creates a Runner with the default retry policies: 3 attempts
// with 2s backoff for the archiver calls, 3 attempts with 1s delay for
// per-file operations.
func NewRunner(arch ports.Archiver, reg *banned.Registry, sfs *safefs.FS, log zerolog.Logger, opts ...Option) *Runner {
	r := &Runner{
		arch:         arch,
		reg:          reg,
		fs:           sfs,
		log:          log,
		extractRetry: retry.Policy{Attempts: 3, Delay: 2 * time.Second},
		createRetry:  retry.Policy{Attempts: 3, Delay: 2 * time.Second},
		mutateRetry:  retry.Policy{Attempts: 3, Delay: time.Second},
		plainRetry:   retry.Policy{Attempts: 3, Delay: time.Second},
		newToken: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run repackages one archive and returns the final artifact paths. On any
// failure it returns no outputs; the extraction directory is removed on
// every exit path, and originals are only deleted once replacement
// volumes exist on disk.
func (r *Runner) Run(ctx context.Context, job *Job) ([]string, error) {
	r.detectMultipart(job)

	base := stem(job.ArchivePath)
	if job.Multipart {
		base, _ = classify.MultipartBase(job.ArchivePath)
	}
	job.extractDir = filepath.Join(filepath.Dir(job.ArchivePath), base+"_extracted")

	artifacts, err := r.run(ctx, job)

	// Cleanup: the extraction directory never outlives the job.
	if rmErr := r.fs.RemoveAll(job.extractDir); rmErr != nil {
		r.log.Warn().Err(rmErr).Str("dir", job.extractDir).Msg("leftover extraction directory")
	}

	if err != nil {
		r.log.Error().Err(err).Str("archive", job.ArchivePath).Msg("archive job failed")
		return nil, err
	}
	return artifacts, nil
}

func (r *Runner) run(ctx context.Context, job *Job) ([]string, error) {
	dir := filepath.Dir(job.ArchivePath)

	// Extract into a fresh directory.
	if err := r.fs.RemoveAll(job.extractDir); err != nil {
		return nil, fmt.Errorf("clearing stale extraction directory: %w", err)
	}
	if err := os.MkdirAll(job.extractDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating extraction directory: %w", err)
	}

	err := r.extractRetry.DoIf(func() error {
		r.log.Info().Str("archive", job.ArchivePath).Msg("extracting archive")
		return r.arch.Extract(ctx, job.ArchivePath, job.extractDir, job.Password)
	}, retryable)
	if err != nil {
		return nil, errors.Join(ErrExtractionFailed, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.flatten(job.extractDir)
	r.mutateTree(job.extractDir)
	r.filterBanned(job.extractDir)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Re-archive under a unique temporary name.
	total := treeSize(job.extractDir)
	r.log.Info().
		Str("archive", job.ArchivePath).
		Str("size", humanize.IBytes(uint64(total))).
		Msg("re-archiving extracted content")

	marker := tempMarkerPrefix + r.newToken()
	tempBase := filepath.Join(dir, job.FinalTitle+marker)

	create := r.arch.CreateRAR
	if job.Format == classify.FormatZIP {
		create = r.arch.CreateZIP
	}
	err = r.createRetry.DoIf(func() error {
		return create(ctx, job.extractDir, tempBase)
	}, retryable)
	if err != nil {
		return nil, errors.Join(ErrCreationFailed, err)
	}

	produced := volumesWithBase(dir, filepath.Base(tempBase))
	if len(produced) == 0 {
		return nil, ErrNoOutputProduced
	}

	// Originals go only now that replacements exist on disk.
	originals := job.Parts
	if len(originals) == 0 {
		originals = []string{job.ArchivePath}
	}
	for _, p := range originals {
		if err := r.fs.Remove(p); err != nil {
			r.log.Warn().Err(err).Str("file", p).Msg("could not remove original archive")
		}
	}

	return r.renameFinal(produced, marker)
}

// detectMultipart redirects a partN volume to its part1 entry point and
// collects the full part set.
func (r *Runner) detectMultipart(job *Job) {
	if job.Format == classify.FormatZIP {
		return
	}
	base, ok := classify.MultipartBase(job.ArchivePath)
	if !ok {
		return
	}
	dir := filepath.Dir(job.ArchivePath)
	part1 := filepath.Join(dir, base+".part1.rar")
	if _, err := os.Stat(part1); err != nil {
		return
	}

	job.ArchivePath = part1
	job.Multipart = true
	job.Parts = partsWithBase(dir, base)
	r.log.Info().Str("base", base).Int("parts", len(job.Parts)).Msg("detected multi-part archive")
}

// flatten relocates every file found in a subdirectory into the root of
// the extraction directory, suffixing colliding names, then removes the
// emptied subdirectories deepest first.
func (r *Runner) flatten(root string) {
	var nested []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() && filepath.Dir(path) != root {
			nested = append(nested, path)
		}
		return nil
	})

	moved := 0
	for _, p := range nested {
		dst := uniqueDest(root, filepath.Base(p))
		if err := r.fs.Move(p, dst); err != nil {
			r.log.Warn().Err(err).Str("file", p).Msg("could not flatten nested file")
			continue
		}
		moved++
	}
	r.fs.PruneEmptyDirs(root)
	if moved > 0 {
		r.log.Debug().Int("moved", moved).Str("dir", root).Msg("flattened extraction directory")
	}
}

// filterBanned removes registry hits from the extraction tree, archiving a
// reference copy of anything not yet sampled.
func (r *Runner) filterBanned(root string) {
	var hits []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() && r.reg.IsBanned(d.Name()) {
			hits = append(hits, path)
		}
		return nil
	})

	for _, p := range hits {
		// Sample before delete, or there is nothing left to copy.
		if _, err := r.reg.AddReference(p); err != nil {
			r.log.Warn().Err(err).Str("file", p).Msg("could not archive banned file reference")
		}
		if err := r.fs.Remove(p); err != nil {
			r.log.Warn().Err(err).Str("file", p).Msg("could not remove banned file")
			continue
		}
		r.log.Info().Str("file", filepath.Base(p)).Msg("removed banned file")
	}
}

// renameFinal strips the temp marker from every produced volume. An
// occupant of the final name is deleted, or failing that renamed aside
// with a .bak suffix rather than losing data.
func (r *Runner) renameFinal(produced []string, marker string) ([]string, error) {
	finals := make([]string, 0, len(produced))
	for _, tmp := range produced {
		final := filepath.Join(filepath.Dir(tmp), stripMarker(filepath.Base(tmp), marker))

		if _, err := os.Lstat(final); err == nil {
			if err := r.fs.Remove(final); err != nil {
				if err := r.fs.Rename(final, final+".bak"); err != nil {
					return finals, fmt.Errorf("displacing occupant of %s: %w", final, err)
				}
				r.log.Warn().Str("file", final).Msg("renamed occupant aside with .bak suffix")
			}
		}
		if err := r.fs.Rename(tmp, final); err != nil {
			return finals, fmt.Errorf("renaming %s into place: %w", tmp, err)
		}
		r.log.Info().Str("from", filepath.Base(tmp)).Str("to", filepath.Base(final)).Msg("renamed archive volume")
		finals = append(finals, final)
	}
	return finals, nil
}

// retryable excludes cancellation: once the context is done, further
// attempts and their backoff sleeps are wasted work.
func retryable(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func stripMarker(name, marker string) string {
	if i := strings.LastIndex(name, marker); i >= 0 {
		return name[:i] + name[i+len(marker):]
	}
	return name
}

func stem(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func uniqueDest(root, name string) string {
	dst := filepath.Join(root, name)
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		if _, err := os.Lstat(dst); errors.Is(err, fs.ErrNotExist) {
			return dst
		}
		dst = filepath.Join(root, fmt.Sprintf("%s_%d%s", base, i, ext))
	}
}

// volumesWithBase returns every <base>.<suffix> file in dir, sorted. The
// base contains the job's unique token, so prefix matching cannot pick up
// unrelated files.
func volumesWithBase(dir, base string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasPrefix(e.Name(), base+".") {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out
}

// partsWithBase returns every <base>.partN.rar volume in dir, sorted.
func partsWithBase(dir, base string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		got, ok := classify.MultipartBase(e.Name())
		if ok && strings.EqualFold(got, base) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out
}

// treeSize totals regular-file sizes under root, ignoring desktop.ini
// artifacts. Diagnostics only.
func treeSize(root string) int64 {
	var total int64
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return nil
		}
		if strings.EqualFold(d.Name(), "desktop.ini") {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
