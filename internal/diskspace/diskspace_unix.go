//go:build linux || darwin

package diskspace

import "syscall"

// Checker implements chunkengine.DiskSpaceChecker by reading free
// space off the POSIX statfs syscall, the same build-tag split the
// teacher uses for setSocketOptions.
type Checker struct{}

func (Checker) FreeSpace(path string) (int64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}
