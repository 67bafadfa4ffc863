package imount

import "golang.org/x/sys/unix"

// availableBytes returns free space (in bytes) on the filesystem backing
// path, mirroring gofsutil_fs.go's fsInfo available-bytes computation,
// reused here to warn before allocating a read-write cache file larger
// than the temp filesystem can actually hold.
func availableBytes(path string) (int64, error) {
	var statfs unix.Statfs_t
	if err := unix.Statfs(path, &statfs); err != nil {
		return 0, err
	}
	return int64(statfs.Bavail) * int64(statfs.Bsize), nil
}

// smallVolumeThreshold is the size (in bytes) at or below which a volume
// that fails to mount is reported as a non-fatal warning instead of an
// error, mirroring the original's small-volume-warning behavior.
const smallVolumeThreshold = 1048576

// isSmallVolume reports whether v is small enough that a mount failure
// should be downgraded to a warning rather than treated as an error.
func isSmallVolume(v *Volume) bool {
	return v.Size <= smallVolumeThreshold
}
