package job

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repack/internal/mocks"
)

func TestMutateTree(t *testing.T) {
	root := t.TempDir()
	payload := strings.Repeat("data", 25) // 100 bytes
	writeFile(t, filepath.Join(root, "big.bin"), payload)
	writeFile(t, filepath.Join(root, "nested", "other.bin"), payload)
	writeFile(t, filepath.Join(root, "Desktop.ini"), "[shell] settings here")
	writeFile(t, filepath.Join(root, "tiny.txt"), "abc")

	r, _ := newTestRunner(t, mocks.NewMockArchiver())
	r.mutateTree(root)

	for _, name := range []string{"big.bin", filepath.Join("nested", "other.bin")} {
		data, err := os.ReadFile(filepath.Join(root, name))
		require.NoError(t, err)
		assert.Greater(t, len(data), len(payload), "%s should have grown", name)
		assert.LessOrEqual(t, len(data), len(payload)+maxMutateLen)
		// The original payload is intact; only a trailer was appended.
		assert.True(t, bytes.HasPrefix(data, []byte(payload)))
	}

	// desktop.ini and sub-threshold files are untouched.
	ini, err := os.ReadFile(filepath.Join(root, "Desktop.ini"))
	require.NoError(t, err)
	assert.Equal(t, "[shell] settings here", string(ini))

	tiny, err := os.ReadFile(filepath.Join(root, "tiny.txt"))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(tiny))
}

func TestMutateTreeIsReentrant(t *testing.T) {
	// Mutating twice appends twice; nothing about the first pass blocks
	// the second. This mirrors a retried job re-entering the step.
	root := t.TempDir()
	payload := strings.Repeat("x", 64)
	path := filepath.Join(root, "f.bin")
	writeFile(t, path, payload)

	r, _ := newTestRunner(t, mocks.NewMockArchiver())
	r.mutateTree(root)
	first, err := os.Stat(path)
	require.NoError(t, err)

	r.mutateTree(root)
	second, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, second.Size(), first.Size())
}

func TestStripMarker(t *testing.T) {
	marker := "_tmp-feedfacecafe"
	assert.Equal(t, "Title.part1.rar", stripMarker("Title_tmp-feedfacecafe.part1.rar", marker))
	assert.Equal(t, "Title.zip", stripMarker("Title_tmp-feedfacecafe.zip", marker))
	// A name without the marker passes through unchanged.
	assert.Equal(t, "Title.rar", stripMarker("Title.rar", marker))
	// Only the last occurrence is stripped.
	assert.Equal(t, "A_tmp-feedfacecafe_x.rar", stripMarker("A_tmp-feedfacecafe_x_tmp-feedfacecafe.rar", marker))
}
