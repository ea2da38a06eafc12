//go:build linux

package spill

import "golang.org/x/sys/unix"

// freeBytes returns the free space available to an unprivileged writer on
// the filesystem backing dir, using statfs. It is advisory only: callers
// must treat a false ok as "unknown" and proceed without pre-sizing.
func freeBytes(dir string) (uint64, bool) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, false
	}
	return st.Bavail * uint64(st.Bsize), true
}
