//go:build !linux

package assembly

import "os"

// preallocate falls back to Truncate on platforms without fallocate(2);
// the file is still sparse on filesystems that support sparse files.
func preallocate(f *os.File, size int64) error {
	return f.Truncate(size)
}
