//go:build windows

package datastore

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// statVolume reports the volume holding dir, honouring per-user quotas.
func statVolume(dir string) (DiskUsage, error) {
	p, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return DiskUsage{}, err
	}
	var freeToCaller, total, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(p, &freeToCaller, &total, &totalFree); err != nil {
		return DiskUsage{}, fmt.Errorf("GetDiskFreeSpaceEx %s: %w", dir, err)
	}
	return DiskUsage{Dir: dir, Free: freeToCaller, Total: total}, nil
}
