package execrar

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repack/internal/ports"
)

// fakeArchiver writes a shell script that mimics the archiver binary. The
// script touches the target path (second-to-last argument) and exits with
// the code given in FAKERAR_MODE; FAKERAR_ARGS captures the argument list.
func fakeArchiver(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake archiver script requires a POSIX shell")
	}

	script := `#!/bin/sh
if [ -n "$FAKERAR_ARGS" ]; then
  printf '%s\n' "$@" > "$FAKERAR_ARGS"
fi
prev=""
target=""
for a in "$@"; do
  target="$prev"
  prev="$a"
done
case "$FAKERAR_MODE" in
  ok)     touch "$target"; exit 0 ;;
  warn)   touch "$target"; exit 1 ;;
  silent) exit 0 ;;
  fail)   touch "$target"; exit 2 ;;
  *)      exit 0 ;;
esac
`
	path := filepath.Join(t.TempDir(), "fakerar")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestCreateRARSuccess(t *testing.T) {
	bin := fakeArchiver(t)
	dir := t.TempDir()
	base := filepath.Join(dir, "Title_tmp-abc123")
	t.Setenv("FAKERAR_MODE", "ok")

	c := New(WithBinary(bin))
	require.NoError(t, c.CreateRAR(context.Background(), dir, base))
	assert.FileExists(t, base+".rar")
}

func TestWarningExitCodeIsSuccess(t *testing.T) {
	bin := fakeArchiver(t)
	dir := t.TempDir()
	base := filepath.Join(dir, "out")
	t.Setenv("FAKERAR_MODE", "warn")

	c := New(WithBinary(bin))
	assert.NoError(t, c.CreateRAR(context.Background(), dir, base))
}

func TestFailureExitCodeIsError(t *testing.T) {
	bin := fakeArchiver(t)
	dir := t.TempDir()
	t.Setenv("FAKERAR_MODE", "fail")

	c := New(WithBinary(bin))
	err := c.Extract(context.Background(), filepath.Join(dir, "a.rar"), filepath.Join(dir, "out"), "")
	assert.Error(t, err)
}

func TestCreateVerifiesOutputExists(t *testing.T) {
	bin := fakeArchiver(t)
	dir := t.TempDir()
	base := filepath.Join(dir, "out")
	t.Setenv("FAKERAR_MODE", "silent")

	c := New(WithBinary(bin))
	err := c.CreateRAR(context.Background(), dir, base)
	assert.ErrorIs(t, err, ports.ErrNoOutput)

	err = c.CreateZIP(context.Background(), dir, base)
	assert.ErrorIs(t, err, ports.ErrNoOutput)
}

func TestFailedCreateScrubsPartialOutput(t *testing.T) {
	bin := fakeArchiver(t)
	dir := t.TempDir()
	base := filepath.Join(dir, "out")
	t.Setenv("FAKERAR_MODE", "fail")

	c := New(WithBinary(bin))
	err := c.CreateRAR(context.Background(), dir, base)
	require.Error(t, err)

	// The volume the failed run touched must not survive to fool a retry.
	assert.NoFileExists(t, base+".rar")
}

func TestFailedSingleFileCreateKeepsSource(t *testing.T) {
	bin := fakeArchiver(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "report.pdf")
	require.NoError(t, os.WriteFile(src, []byte("document body"), 0o644))
	base := filepath.Join(dir, "report")
	t.Setenv("FAKERAR_MODE", "fail")

	c := New(WithBinary(bin))
	err := c.CreateRARFile(context.Background(), src, base)
	require.Error(t, err)

	// The output base shares its stem with the source; the scrub must
	// remove only the partial volume, never the source itself.
	assert.FileExists(t, src)
	assert.NoFileExists(t, base+".rar")
}

func TestExtractArguments(t *testing.T) {
	bin := fakeArchiver(t)
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args.txt")
	t.Setenv("FAKERAR_MODE", "ok")
	t.Setenv("FAKERAR_ARGS", argsFile)

	c := New(WithBinary(bin))
	archive := filepath.Join(dir, "in.rar")
	dest := filepath.Join(dir, "out")
	require.NoError(t, c.Extract(context.Background(), archive, dest, "secret"))

	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	args := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, []string{"x", "-y", "-o+", "-ibck", "-psecret", archive, dest + string(os.PathSeparator)}, args)
}

func TestCreateRARArguments(t *testing.T) {
	bin := fakeArchiver(t)
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args.txt")
	base := filepath.Join(dir, "out")
	t.Setenv("FAKERAR_MODE", "ok")
	t.Setenv("FAKERAR_ARGS", argsFile)

	c := New(WithBinary(bin), WithCompression(0), WithSplitBytes(DefaultSplitBytes))
	require.NoError(t, c.CreateRAR(context.Background(), dir, base))

	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	args := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, []string{
		"a", "-v1024m", "-m0", "-ep1", "-r", "-y", "-rr3p", "-ma5", "-x*.ini",
		base + ".rar", filepath.Join(dir, "*"),
	}, args)
}

func TestSplitDisabled(t *testing.T) {
	bin := fakeArchiver(t)
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args.txt")
	base := filepath.Join(dir, "out")
	t.Setenv("FAKERAR_MODE", "ok")
	t.Setenv("FAKERAR_ARGS", argsFile)

	c := New(WithBinary(bin), WithSplitBytes(0))
	require.NoError(t, c.CreateZIP(context.Background(), dir, base))

	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "-v1024m")
	assert.Contains(t, string(data), "-afzip")
}

func TestMultiVolumeOutputSatisfiesVerification(t *testing.T) {
	bin := fakeArchiver(t)
	dir := t.TempDir()
	base := filepath.Join(dir, "out")
	t.Setenv("FAKERAR_MODE", "silent")

	// Simulate a splitting archiver that produced .partN.rar volumes
	// instead of a bare .rar.
	require.NoError(t, os.WriteFile(base+".part1.rar", []byte("v"), 0o644))
	require.NoError(t, os.WriteFile(base+".part2.rar", []byte("v"), 0o644))

	c := New(WithBinary(bin))
	assert.NoError(t, c.CreateRAR(context.Background(), dir, base))
}
