//go:build windows

package safefs

import "syscall"

// ClearAttributes resets read-only/hidden/system flags that would block a
// write or delete. Best effort; failures surface later as the operation's
// own error.
func ClearAttributes(path string) {
	p, err := syscall.UTF16PtrFromString(path)
	if err != nil {
		return
	}
	_ = syscall.SetFileAttributes(p, syscall.FILE_ATTRIBUTE_NORMAL)
}
