//go:build unix

package attachments

import "golang.org/x/sys/unix"

// freeBytes reports the space available to unprivileged writers under dir.
func freeBytes(dir string) (int64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}
