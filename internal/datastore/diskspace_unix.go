//go:build !windows

package datastore

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// statVolume reports the volume holding dir. Free counts only blocks
// available to the unprivileged user the migration runs as.
func statVolume(dir string) (DiskUsage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return DiskUsage{}, fmt.Errorf("statfs %s: %w", dir, err)
	}
	if st.Bsize <= 0 {
		return DiskUsage{}, fmt.Errorf("statfs %s: block size %d", dir, st.Bsize)
	}
	block := uint64(st.Bsize)
	return DiskUsage{Dir: dir, Free: st.Bavail * block, Total: st.Blocks * block}, nil
}
