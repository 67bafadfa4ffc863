package imount

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Loopback is an exclusively-owned loopback device attached to a raw
// image segment. Callers must call Free in reverse order of attachment,
// matching the strict reverse-order teardown the spec requires of
// container/volume resources.
type Loopback struct {
	Device string
	runner Runner
}

// NewLoopback attaches a free loopback device over [offset, offset+size)
// of rawPath. readOnly mirrors the disk's read-write setting.
func NewLoopback(ctx context.Context, r Runner, rawPath string, offset, size int64, readOnly bool) (*Loopback, error) {
	dev, err := Output(ctx, r, "losetup", "-f")
	if err != nil {
		log.WithError(err).Warn("no free loopback device found")
		return nil, NoLoopbackAvailableError("losetup -f returned no device")
	}

	args := []string{}
	if readOnly {
		args = append(args, "-r")
	}
	args = append(args, "-o", strconv.FormatInt(offset, 10), "--sizelimit", strconv.FormatInt(size, 10), dev, rawPath)

	if _, err := r.Run(ctx, "losetup", args...); err != nil {
		// best-effort detach of the device we just claimed before failing
		_, _ = r.Run(ctx, "losetup", "-d", dev)
		return nil, NoLoopbackAvailableError(fmt.Sprintf("losetup attach of %s failed: %v", dev, err))
	}
	return &Loopback{Device: dev, runner: r}, nil
}

// Free detaches the loopback device. Safe to call multiple times.
func (l *Loopback) Free(ctx context.Context) error {
	if l == nil || l.Device == "" {
		return nil
	}
	_, err := l.runner.Run(ctx, "losetup", "-d", l.Device)
	l.Device = ""
	if err != nil {
		return CleanupError("failed to detach loopback device", err)
	}
	return nil
}

// FreeNetworkBlockDevice scans /sys/class/block/nbd*/size for an unused
// network block device, mirroring _util.py's get_free_nbd_device.
func FreeNetworkBlockDevice() (string, error) {
	entries, err := ioutil.ReadDir("/sys/class/block")
	if err != nil {
		return "", NoNetworkBlockAvailableError("cannot enumerate /sys/class/block: " + err.Error())
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "nbd") {
			continue
		}
		sizePath := filepath.Join("/sys/class/block", e.Name(), "size")
		buf, err := ioutil.ReadFile(filepath.Clean(sizePath))
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(buf)) == "0" {
			return "/dev/" + e.Name(), nil
		}
	}
	return "", NoNetworkBlockAvailableError("no free network block device")
}

// Mountpoint is a directory created for a single mount operation. It
// tracks whether it was actually mounted so teardown knows whether an
// unmount is needed before rmdir.
type Mountpoint struct {
	Path    string
	mounted bool
}

// NewMountpoint allocates (creating if necessary) a directory at path.
func NewMountpoint(path string) (*Mountpoint, error) {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return nil, NoMountpointAvailableError("could not create mountpoint " + path + ": " + err.Error())
	}
	return &Mountpoint{Path: path}, nil
}

// MarkMounted records that something is now mounted at m.Path.
func (m *Mountpoint) MarkMounted() { m.mounted = true }

// Empty reports whether the mountpoint directory has no entries, used to
// detect a mount command that exited 0 without actually mounting anything
// (MountpointEmptyError).
func (m *Mountpoint) Empty() (bool, error) {
	entries, err := ioutil.ReadDir(m.Path)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}

// Remove rmdirs the mountpoint directory. Call only after any mount at
// this path has been unmounted; the directory must be empty.
func (m *Mountpoint) Remove() error {
	if m.mounted {
		return CleanupError("refusing to remove mountpoint still marked mounted: "+m.Path, nil)
	}
	if err := os.Remove(m.Path); err != nil && !os.IsNotExist(err) {
		return CleanupError("could not remove mountpoint "+m.Path, err)
	}
	return nil
}

// CleanUnmount retries umount (or a caller-supplied unmount command) up to
// tries times with a short backoff, the way _util.py's clean_unmount
// copes with a lazily-releasing filesystem. If rmdir is true the
// mountpoint directory is removed once the unmount is confirmed.
func CleanUnmount(ctx context.Context, r Runner, cmd []string, mountpoint string, tries int, rmdir bool) error {
	if tries <= 0 {
		tries = 5
	}
	var lastErr error
	for i := 0; i < tries; i++ {
		_, err := r.Run(ctx, cmd[0], cmd[1:]...)
		if err == nil {
			break
		}
		lastErr = err
		log.WithField("mountpoint", mountpoint).WithError(err).Debug("unmount attempt failed, retrying")
		time.Sleep(time.Second)
	}

	mounted, err := isMounted(ctx, r, mountpoint)
	if err != nil {
		return CleanupError("could not verify unmount of "+mountpoint, err)
	}
	if mounted {
		return CleanupError("mountpoint still mounted after retries: "+mountpoint, lastErr)
	}

	if rmdir {
		if err := os.Remove(mountpoint); err != nil && !os.IsNotExist(err) {
			return CleanupError("could not rmdir "+mountpoint, err)
		}
	}
	return nil
}

func isMounted(ctx context.Context, r Runner, path string) (bool, error) {
	out, err := r.Run(ctx, "mount")
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 3 && fields[2] == path {
			return true, nil
		}
	}
	return false, nil
}
