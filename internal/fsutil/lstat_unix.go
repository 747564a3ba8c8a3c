//go:build !windows

package fsutil

import "golang.org/x/sys/unix"

// IsSymlinkRaw reports whether path is a symlink using a raw lstat(2)
// call rather than os.Lstat's FileInfo translation, mirroring the
// original extractor's direct `lstat()` + `S_ISLNK(st.st_mode)` check in
// fetch_macossdk.c's copy_dir_recursive.
func IsSymlinkRaw(path string) (bool, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return false, err
	}
	return st.Mode&unix.S_IFMT == unix.S_IFLNK, nil
}
