//go:build windows

package diskspace

import "golang.org/x/sys/windows"

// Checker implements chunkengine.DiskSpaceChecker via
// GetDiskFreeSpaceEx, the Windows counterpart of the unix statfs path.
type Checker struct{}

func (Checker) FreeSpace(path string) (int64, error) {
	var freeBytesAvailable uint64
	ptr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, err
	}
	if err := windows.GetDiskFreeSpaceEx(ptr, &freeBytesAvailable, nil, nil); err != nil {
		return 0, err
	}
	return int64(freeBytesAvailable), nil
}
