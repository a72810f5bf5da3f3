// Package execrar provides an Archiver adapter driving a WinRAR-compatible
// command-line binary via exec.Command.
package execrar

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"repack/internal/ports"
)

// DefaultSplitBytes is the per-volume size limit: 1 GiB.
const DefaultSplitBytes = int64(1) << 30

// Client implements ports.Archiver by invoking the archiver binary and
// classifying its exit code: 0 is success, 1 is success with warnings
// (archiver convention), anything else is failure.
type Client struct {
	binary      string
	splitBytes  int64
	compression int
	timeout     time.Duration
	log         zerolog.Logger
}

// Option is a functional option for configuring Client.
type Option func(*Client)

// WithBinary sets a custom path to the archiver binary.
func WithBinary(path string) Option {
	return func(c *Client) { c.binary = path }
}

// WithSplitBytes sets the volume size limit. Zero disables volume
// splitting.
func WithSplitBytes(n int64) Option {
	return func(c *Client) { c.splitBytes = n }
}

// WithCompression sets the compression level (0 = store).
func WithCompression(level int) Option {
	return func(c *Client) { c.compression = level }
}

// WithTimeout bounds every archiver invocation; on expiry the process is
// killed. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New creates a new archiver client adapter.
func New(opts ...Option) *Client {
	c := &Client{
		binary:     "rar",
		splitBytes: DefaultSplitBytes,
		timeout:    time.Hour,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Extract unpacks archivePath into destDir with overwrite-on-conflict and
// background mode.
func (c *Client) Extract(ctx context.Context, archivePath, destDir, password string) error {
	args := []string{"x", "-y", "-o+", "-ibck"}
	if password != "" {
		args = append(args, "-p"+password)
	}
	// The trailing separator tells the archiver the target is a
	// directory even when it does not exist yet.
	args = append(args, archivePath, destDir+string(os.PathSeparator))
	return c.run(ctx, args...)
}

// CreateRAR packs the contents of sourceDir into a RAR5 archive rooted at
// outputBase.
func (c *Client) CreateRAR(ctx context.Context, sourceDir, outputBase string) error {
	args := c.rarArgs(outputBase)
	args = append(args, filepath.Join(sourceDir, "*"))
	return c.create(ctx, outputBase, rarVolumeExists, args)
}

// CreateRARFile packs a single file into <outputBase>.rar.
func (c *Client) CreateRARFile(ctx context.Context, filePath, outputBase string) error {
	args := c.rarArgs(outputBase)
	args = append(args, filePath)
	return c.create(ctx, outputBase, rarVolumeExists, args)
}

// CreateZIP packs the contents of sourceDir into a ZIP archive rooted at
// outputBase.
func (c *Client) CreateZIP(ctx context.Context, sourceDir, outputBase string) error {
	args := []string{"a"}
	args = append(args, c.splitArgs()...)
	args = append(args,
		fmt.Sprintf("-m%d", c.compression),
		"-ep1", "-r", "-y", "-afzip", "-x*.ini",
		outputBase+".zip",
		filepath.Join(sourceDir, "*"),
	)
	return c.create(ctx, outputBase, zipVolumeExists, args)
}

func (c *Client) rarArgs(outputBase string) []string {
	args := []string{"a"}
	args = append(args, c.splitArgs()...)
	return append(args,
		fmt.Sprintf("-m%d", c.compression),
		"-ep1", "-r", "-y", "-rr3p", "-ma5", "-x*.ini",
		outputBase+".rar",
	)
}

func (c *Client) splitArgs() []string {
	if c.splitBytes <= 0 {
		return nil
	}
	return []string{fmt.Sprintf("-v%dm", c.splitBytes/(1024*1024))}
}

// create runs an archive-creation command, verifies that output volumes
// actually exist after a success return, and scrubs partial output on
// failure so a retry cannot mistake leftovers for success.
func (c *Client) create(ctx context.Context, outputBase string, exists func(string) bool, args []string) error {
	if err := c.run(ctx, args...); err != nil {
		c.scrub(outputBase)
		return err
	}
	if !exists(outputBase) {
		return fmt.Errorf("%s: %w", outputBase, ports.ErrNoOutput)
	}
	return nil
}

func (c *Client) run(ctx context.Context, args ...string) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.binary, args...)
	out, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		c.log.Debug().Str("op", args[0]).Msg("archiver completed with warnings")
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s %s: %w", c.binary, args[0], ctxErr)
	}
	return fmt.Errorf("%s %s: %w: %s", c.binary, args[0], err, strings.TrimSpace(string(out)))
}

// scrub removes the volumes a failed run left behind. Only volume-shaped
// names (<base>.rar, <base>.partN.rar, <base>.zip, <base>.zNN) are
// matched: a single-file create's output base shares its stem with the
// source file, which must survive the failure.
func (c *Client) scrub(outputBase string) {
	dir := filepath.Dir(outputBase)
	prefix := filepath.Base(outputBase) + "."
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		rest, ok := strings.CutPrefix(e.Name(), prefix)
		if !ok || !isVolumeSuffix(strings.ToLower(rest)) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
			c.log.Debug().Str("file", e.Name()).Msg("scrubbed partial archive output")
		}
	}
}

// isVolumeSuffix reports whether rest (lowercased, the part after
// "<base>.") names an archive volume the archiver could have produced.
func isVolumeSuffix(rest string) bool {
	switch {
	case rest == "rar" || rest == "zip":
		return true
	case strings.HasPrefix(rest, "part") && strings.HasSuffix(rest, ".rar"):
		return allDigits(strings.TrimSuffix(strings.TrimPrefix(rest, "part"), ".rar"))
	case strings.HasPrefix(rest, "z"):
		return allDigits(rest[1:])
	}
	return false
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func rarVolumeExists(base string) bool {
	if fileExists(base + ".rar") {
		return true
	}
	return anyVolume(base, func(rest string) bool {
		return strings.HasPrefix(rest, "part") && strings.HasSuffix(rest, ".rar")
	})
}

func zipVolumeExists(base string) bool {
	if fileExists(base + ".zip") {
		return true
	}
	return anyVolume(base, func(rest string) bool {
		return strings.HasPrefix(rest, "z")
	})
}

// anyVolume scans the output directory for <base>.<rest> entries instead
// of using filepath.Glob: sanitized titles may legally contain glob
// metacharacters like brackets.
func anyVolume(base string, match func(rest string) bool) bool {
	dir := filepath.Dir(base)
	prefix := filepath.Base(base) + "."
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		rest, ok := strings.CutPrefix(e.Name(), prefix)
		if ok && match(strings.ToLower(rest)) {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Compile-time check that Client implements ports.Archiver.
var _ ports.Archiver = (*Client)(nil)
