package job

import (
	"context"
	"errors"
	"os"
	"path/filepath"
)

// RunPlain repackages a loose (non-archive) file into <title>.rar in the
// file's directory, removing the original on success. The file's hash is
// mutated first so the produced archive never matches a previously
// uploaded one.
func (r *Runner) RunPlain(ctx context.Context, filePath, title string) (string, error) {
	if info, err := os.Stat(filePath); err == nil && info.Size() >= minMutateSize {
		if err := r.mutateFile(filePath); err != nil {
			r.log.Warn().Err(err).Str("file", filePath).Msg("could not mutate file hash")
		}
	}

	outputBase := filepath.Join(filepath.Dir(filePath), title)
	err := r.plainRetry.DoIf(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return r.arch.CreateRARFile(ctx, filePath, outputBase)
	}, retryable)
	if err != nil {
		r.log.Error().Err(err).Str("file", filePath).Msg("could not archive file")
		return "", errors.Join(ErrCreationFailed, err)
	}

	if err := r.fs.Remove(filePath); err != nil {
		r.log.Warn().Err(err).Str("file", filePath).Msg("could not remove original file")
	}

	artifact := outputBase + ".rar"
	r.log.Info().Str("artifact", artifact).Msg("archived file")
	return artifact, nil
}
