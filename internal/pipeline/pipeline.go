// Package pipeline orchestrates the full repackaging flow for one item:
// collect the downloaded files into a working directory, decide how they
// partition into logical items, run the per-item archive jobs and leave
// the working directory holding exactly the produced artifacts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"repack/internal/classify"
	"repack/internal/job"
	"repack/internal/safefs"
	"repack/internal/sanitize"
)

// ErrNoFilesMoved means none of the requested source files could be
// collected into the working directory, so there is nothing to package.
var ErrNoFilesMoved = errors.New("no source files could be moved into the working directory")

// Request describes one repackaging run.
type Request struct {
	// WorkDir is the directory the sources are collected into and the
	// artifacts are left in. Created if missing.
	WorkDir string
	// Sources are the downloaded files to package.
	Sources []string
	// Title is the raw item title; it is sanitized before use.
	Title string
	// Password unlocks protected source archives. Produced archives are
	// never password protected.
	Password string
}

// Result reports what a run produced.
type Result struct {
	// Title is the sanitized title the artifacts are named after.
	Title string
	// Artifacts are the final archive volumes, in production order.
	Artifacts []string
}

// Pipeline wires the job runner and filesystem helpers into the
// collect/classify/dispatch/cleanup sequence.
type Pipeline struct {
	runner *job.Runner
	fs     *safefs.FS
	log    zerolog.Logger
}

// New creates a Pipeline.
func New(runner *job.Runner, sfs *safefs.FS, log zerolog.Logger) *Pipeline {
	return &Pipeline{runner: runner, fs: sfs, log: log}
}

// Process runs one repackaging request. Individual item failures are
// logged and skipped so one corrupt archive cannot block the rest of the
// set; Process itself fails only when nothing could be collected or the
// context is cancelled.
func (p *Pipeline) Process(ctx context.Context, req Request) (*Result, error) {
	title := sanitize.Title(req.Title)
	log := p.log.With().Str("title", title).Logger()

	if err := os.MkdirAll(req.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating working directory: %w", err)
	}

	moved := p.collect(req.WorkDir, req.Sources)
	if len(moved) == 0 {
		return nil, ErrNoFilesMoved
	}
	log.Info().Int("files", len(moved)).Str("dir", req.WorkDir).Msg("collected source files")

	single := classify.SingleItem(moved)

	processed := make(map[string]bool)
	var artifacts []string
	for _, path := range moved {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if processed[abs(path)] {
			log.Debug().Str("file", path).Msg("already consumed by an earlier job")
			continue
		}

		// A single logical item carries the request title; distinct items
		// in one set each keep their own (sanitized) file name.
		itemTitle := title
		if !single {
			itemTitle = sanitize.Title(stem(path))
		}

		produced, consumed := p.dispatch(ctx, path, itemTitle, req.Password)
		for _, c := range consumed {
			processed[abs(c)] = true
		}
		for _, a := range produced {
			processed[abs(a)] = true
		}
		artifacts = append(artifacts, produced...)
	}

	if len(artifacts) > 0 {
		p.cleanup(req.WorkDir, processed)
	}

	log.Info().Int("artifacts", len(artifacts)).Msg("repackaging run finished")
	return &Result{Title: title, Artifacts: artifacts}, nil
}

// dispatch runs one file through the matching job and returns the
// produced artifacts plus every original file the job consumed.
func (p *Pipeline) dispatch(ctx context.Context, path, title, password string) (produced, consumed []string) {
	if classify.IsArchive(path) {
		j := &job.Job{
			ArchivePath: path,
			Format:      classify.DetectFormat(path),
			FinalTitle:  title,
			Password:    password,
		}
		arts, err := p.runner.Run(ctx, j)
		consumed = append(consumed, path)
		consumed = append(consumed, j.Parts...)
		if err != nil {
			p.log.Error().Err(err).Str("archive", path).Msg("archive job failed, continuing with remaining items")
			return nil, consumed
		}
		return arts, consumed
	}

	artifact, err := p.runner.RunPlain(ctx, path, title)
	if err != nil {
		p.log.Error().Err(err).Str("file", path).Msg("file job failed, continuing with remaining items")
		return nil, []string{path}
	}
	return []string{artifact}, []string{path}
}

// collect moves the sources into workDir, suffixing name collisions.
// Failures are logged and skipped.
func (p *Pipeline) collect(workDir string, sources []string) []string {
	var moved []string
	for _, src := range sources {
		// A source already inside the working directory stays put.
		if abs(filepath.Dir(src)) == abs(workDir) {
			if _, err := os.Lstat(src); err == nil {
				moved = append(moved, src)
			}
			continue
		}
		dst := uniqueDest(workDir, filepath.Base(src))
		if err := p.fs.Move(src, dst); err != nil {
			p.log.Warn().Err(err).Str("file", src).Msg("could not collect source file")
			continue
		}
		moved = append(moved, dst)
	}
	return moved
}

// cleanup walks workDir and removes every regular file that is not a
// produced artifact, then prunes emptied subdirectories deepest first.
// Only artifacts survive.
func (p *Pipeline) cleanup(workDir string, keep map[string]bool) {
	var leftovers []string
	_ = filepath.WalkDir(workDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() && !keep[abs(path)] {
			leftovers = append(leftovers, path)
		}
		return nil
	})
	for _, path := range leftovers {
		if err := p.fs.Remove(path); err != nil {
			p.log.Warn().Err(err).Str("file", path).Msg("could not remove leftover file")
			continue
		}
		p.log.Debug().Str("file", filepath.Base(path)).Msg("removed leftover file")
	}
	p.fs.PruneEmptyDirs(workDir)
}

func abs(path string) string {
	if a, err := filepath.Abs(path); err == nil {
		return a
	}
	return path
}

func stem(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func uniqueDest(dir, name string) string {
	dst := filepath.Join(dir, name)
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		if _, err := os.Lstat(dst); errors.Is(err, os.ErrNotExist) {
			return dst
		}
		dst = filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, i, ext))
	}
}
