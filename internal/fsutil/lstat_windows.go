//go:build windows

package fsutil

import "os"

// IsSymlinkRaw reports whether path is a symlink. Windows has no raw
// lstat(2); os.Lstat's reparse-point bit is the closest equivalent.
func IsSymlinkRaw(path string) (bool, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return false, err
	}
	return info.Mode()&os.ModeSymlink != 0, nil
}
