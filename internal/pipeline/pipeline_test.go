package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repack/internal/banned"
	"repack/internal/job"
	"repack/internal/mocks"
	"repack/internal/retry"
	"repack/internal/safefs"
)

func newTestPipeline(t *testing.T, arch *mocks.MockArchiver) *Pipeline {
	t.Helper()
	reg, err := banned.Open(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	noSleep := func(time.Duration) {}
	sfs := safefs.New(zerolog.Nop()).WithPolicies(
		retry.Policy{Attempts: 3, Sleep: noSleep},
		retry.Policy{Attempts: 3, Sleep: noSleep},
	)
	runner := job.NewRunner(arch, reg, sfs, zerolog.Nop(),
		job.WithSleep(noSleep),
		job.WithTokenFunc(func() string { return "feedfacecafe" }),
	)
	return New(runner, sfs, zerolog.Nop())
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func listNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestProcessPlainFile(t *testing.T) {
	downloads := t.TempDir()
	work := filepath.Join(t.TempDir(), "work")
	src := filepath.Join(downloads, "report.pdf")
	writeFile(t, src, "pdf document body, long enough to mutate")

	p := newTestPipeline(t, mocks.NewMockArchiver())
	res, err := p.Process(context.Background(), Request{
		WorkDir: work,
		Sources: []string{src},
		Title:   "Weekly Report #3",
	})
	require.NoError(t, err)

	assert.Equal(t, "Weekly_Report_3", res.Title)
	assert.Equal(t, []string{filepath.Join(work, "Weekly_Report_3.rar")}, res.Artifacts)
	// The source was moved out of downloads and consumed.
	assert.NoFileExists(t, src)
	assert.NoFileExists(t, filepath.Join(work, "report.pdf"))
	assert.Equal(t, []string{"Weekly_Report_3.rar"}, listNames(t, work))
}

func TestProcessMultipartSet(t *testing.T) {
	downloads := t.TempDir()
	work := filepath.Join(t.TempDir(), "work")
	for _, name := range []string{"movie.part1.rar", "movie.part2.rar", "movie.part3.rar"} {
		writeFile(t, filepath.Join(downloads, name), "volume contents "+name)
	}

	arch := mocks.NewMockArchiver()
	p := newTestPipeline(t, arch)
	res, err := p.Process(context.Background(), Request{
		WorkDir: work,
		Sources: []string{
			filepath.Join(downloads, "movie.part1.rar"),
			filepath.Join(downloads, "movie.part2.rar"),
			filepath.Join(downloads, "movie.part3.rar"),
		},
		Title: "New: Release?",
	})
	require.NoError(t, err)

	// One logical item: one extraction, one archive, request title.
	require.Len(t, arch.ExtractCalls, 1)
	assert.Equal(t, filepath.Join(work, "movie.part1.rar"), arch.ExtractCalls[0].ArchivePath)
	assert.Equal(t, []string{filepath.Join(work, "New_Release.rar")}, res.Artifacts)

	// The working directory holds exactly the artifacts.
	assert.Equal(t, []string{"New_Release.rar"}, listNames(t, work))
}

func TestProcessDistinctArchivesKeepOwnNames(t *testing.T) {
	downloads := t.TempDir()
	work := filepath.Join(t.TempDir(), "work")
	writeFile(t, filepath.Join(downloads, "alpha.rar"), "first archive contents")
	writeFile(t, filepath.Join(downloads, "beta.zip"), "second archive contents")

	arch := mocks.NewMockArchiver()
	p := newTestPipeline(t, arch)
	res, err := p.Process(context.Background(), Request{
		WorkDir: work,
		Sources: []string{
			filepath.Join(downloads, "alpha.rar"),
			filepath.Join(downloads, "beta.zip"),
		},
		Title: "Collection Title",
	})
	require.NoError(t, err)

	// Distinct items keep their own stems; the zip stays a zip.
	assert.Equal(t, []string{
		filepath.Join(work, "alpha.rar"),
		filepath.Join(work, "beta.zip"),
	}, res.Artifacts)
	assert.ElementsMatch(t, []string{"alpha.rar", "beta.zip"}, listNames(t, work))
	require.Len(t, arch.CreateCalls, 2)
	assert.Equal(t, "rar", arch.CreateCalls[0].Op)
	assert.Equal(t, "zip", arch.CreateCalls[1].Op)
}

func TestProcessOneFailureDoesNotBlockOthers(t *testing.T) {
	downloads := t.TempDir()
	work := filepath.Join(t.TempDir(), "work")
	writeFile(t, filepath.Join(downloads, "broken.rar"), "corrupt archive contents")
	writeFile(t, filepath.Join(downloads, "good.rar"), "healthy archive contents")

	arch := mocks.NewMockArchiver()
	arch.ExtractFunc = func(archivePath, destDir, _ string) error {
		if filepath.Base(archivePath) == "broken.rar" {
			return assert.AnError
		}
		return os.WriteFile(filepath.Join(destDir, "payload.bin"), []byte("extracted payload data"), 0o644)
	}

	p := newTestPipeline(t, arch)
	res, err := p.Process(context.Background(), Request{
		WorkDir: work,
		Sources: []string{
			filepath.Join(downloads, "broken.rar"),
			filepath.Join(downloads, "good.rar"),
		},
		Title: "T",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Join(work, "good.rar")}, res.Artifacts)
	// The failed job's original survives the final cleanup so the item
	// can be retried from outside; it is not an artifact.
	assert.ElementsMatch(t, []string{"broken.rar", "good.rar"}, listNames(t, work))
}

func TestProcessCleanupRemovesNestedLeftovers(t *testing.T) {
	downloads := t.TempDir()
	work := filepath.Join(t.TempDir(), "work")
	writeFile(t, filepath.Join(downloads, "item.rar"), "original archive bytes")

	// Residue from an earlier aborted run, nested below the workdir root.
	writeFile(t, filepath.Join(work, "residue", "sub", "stale.txt"), "stale leftover data")
	writeFile(t, filepath.Join(work, "orphan.tmp"), "top level leftover")

	p := newTestPipeline(t, mocks.NewMockArchiver())
	res, err := p.Process(context.Background(), Request{
		WorkDir: work,
		Sources: []string{filepath.Join(downloads, "item.rar")},
		Title:   "Tidy Title",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Join(work, "Tidy_Title.rar")}, res.Artifacts)
	// Nested leftovers and their directories are gone along with the
	// top-level ones; only the artifact remains.
	assert.Equal(t, []string{"Tidy_Title.rar"}, listNames(t, work))
}

func TestProcessNoFilesMoved(t *testing.T) {
	work := filepath.Join(t.TempDir(), "work")
	p := newTestPipeline(t, mocks.NewMockArchiver())

	_, err := p.Process(context.Background(), Request{
		WorkDir: work,
		Sources: []string{filepath.Join(t.TempDir(), "missing.rar")},
		Title:   "T",
	})
	assert.ErrorIs(t, err, ErrNoFilesMoved)
}

func TestProcessSourcesAlreadyInWorkDir(t *testing.T) {
	work := t.TempDir()
	src := filepath.Join(work, "item.rar")
	writeFile(t, src, "archive already in place")

	p := newTestPipeline(t, mocks.NewMockArchiver())
	res, err := p.Process(context.Background(), Request{
		WorkDir: work,
		Sources: []string{src},
		Title:   "Final Title",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(work, "Final_Title.rar")}, res.Artifacts)
	assert.Equal(t, []string{"Final_Title.rar"}, listNames(t, work))
}

func TestProcessPassesPasswordThrough(t *testing.T) {
	downloads := t.TempDir()
	work := filepath.Join(t.TempDir(), "work")
	writeFile(t, filepath.Join(downloads, "locked.rar"), "protected archive body")

	arch := mocks.NewMockArchiver()
	p := newTestPipeline(t, arch)
	_, err := p.Process(context.Background(), Request{
		WorkDir:  work,
		Sources:  []string{filepath.Join(downloads, "locked.rar")},
		Title:    "T",
		Password: "hunter2",
	})
	require.NoError(t, err)
	require.Len(t, arch.ExtractCalls, 1)
	assert.Equal(t, "hunter2", arch.ExtractCalls[0].Password)
}
