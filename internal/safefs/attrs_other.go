//go:build !windows

package safefs

import "os"

// ClearAttributes makes path writable by its owner. Best effort; there are
// no Windows-style attribute flags to clear on this platform.
func ClearAttributes(path string) {
	info, err := os.Lstat(path)
	if err != nil || info.Mode()&os.ModeSymlink != 0 {
		return
	}
	mode := info.Mode().Perm() | 0o600
	if info.IsDir() {
		mode |= 0o700
	}
	_ = os.Chmod(path, mode)
}
