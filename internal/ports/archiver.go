// Package ports defines interfaces (contracts) for external dependencies.
// These enable dependency injection and testability via mock implementations.
package ports

import (
	"context"
	"errors"
)

// ErrNoOutput is returned when the archiver reports success but no output
// archive exists on disk. Callers must treat it as a hard failure and must
// not delete any source material.
var ErrNoOutput = errors.New("archiver reported success but produced no output")

// Archiver abstracts the external archiver binary. Production code uses
// the execrar adapter; tests use mocks.MockArchiver.
//
// Implementations must be safe to retry: a failed call may not leave a
// valid-looking output behind that a later attempt could mistake for
// success.
type Archiver interface {
	// Extract unpacks archivePath into destDir, overwriting on conflict.
	// password is optional; empty means no password flag is passed.
	Extract(ctx context.Context, archivePath, destDir, password string) error

	// CreateRAR packs the contents of sourceDir (not the directory
	// itself) into a volume-split, recovery-record-protected RAR5
	// archive rooted at outputBase. Volumes appear on disk as
	// <outputBase>.rar or <outputBase>.partN.rar.
	CreateRAR(ctx context.Context, sourceDir, outputBase string) error

	// CreateRARFile packs a single file into <outputBase>.rar.
	CreateRARFile(ctx context.Context, filePath, outputBase string) error

	// CreateZIP is CreateRAR with a ZIP container. Volumes appear as
	// <outputBase>.zip or <outputBase>.zNN.
	CreateZIP(ctx context.Context, sourceDir, outputBase string) error
}
