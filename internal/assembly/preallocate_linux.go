//go:build linux

package assembly

import (
	"os"

	"golang.org/x/sys/unix"
)

// preallocate uses fallocate(2) to reserve size bytes without writing
// zeros, falling back to Truncate when the filesystem doesn't support it
// (e.g. some network filesystems return ENOTSUP/EOPNOTSUPP).
func preallocate(f *os.File, size int64) error {
	err := unix.Fallocate(int(f.Fd()), 0, 0, size)
	if err == nil {
		return nil
	}
	return f.Truncate(size)
}
