//go:build linux
// +build linux

package mount

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const sampleMountinfo = `` +
	`22 28 0:20 / /sys rw,nosuid,nodev,noexec,relatime shared:7 - sysfs sysfs rw\n` +
	`36 28 8:1 / /mnt/case1/im_1.1_ntfs rw,relatime shared:1 - ntfs-3g /dev/loop0 rw,uid=0\n` +
	`40 28 8:2 / /mnt/case1/im_1.2_ext4 rw,relatime shared:1 - ext4 /dev/loop1 rw\n`

func TestReadProcMountsFrom(t *testing.T) {
	r := strings.NewReader(strings.ReplaceAll(sampleMountinfo, `\n`, "\n"))
	infos, _, err := ReadProcMountsFrom(context.Background(), r, true, nil)
	assert.NoError(t, err)
	assert.Len(t, infos, 3)

	assert.Equal(t, "/dev/loop0", infos[1].Device)
	assert.Equal(t, "/mnt/case1/im_1.1_ntfs", infos[1].Path)
	assert.Equal(t, "ntfs-3g", infos[1].Type)
}

func TestReadProcMountsFromScanFunc(t *testing.T) {
	r := strings.NewReader(strings.ReplaceAll(sampleMountinfo, `\n`, "\n"))
	calls := 0
	scan := func(ctx context.Context, e Entry, cache map[string]Entry) (Info, bool, error) {
		calls++
		if e.FSType == "sysfs" {
			return Info{}, false, nil
		}
		return Info{Device: e.MountSource, Path: e.MountPoint, Type: e.FSType, Opts: e.MountOpts}, true, nil
	}
	infos, _, err := ReadProcMountsFrom(context.Background(), r, true, scan)
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, infos, 2)
}

func TestDetectBind(t *testing.T) {
	tests := []struct {
		name   string
		opts   []string
		isBind bool
	}{
		{name: "plain options", opts: []string{"ro", "noatime"}, isBind: false},
		{name: "bind option present", opts: []string{"bind"}, isBind: true},
		{name: "bind with extra opts", opts: []string{"bind", "ro"}, isBind: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, isBind := detectBind(tt.opts)
			assert.Equal(t, tt.isBind, isBind)
		})
	}
}

func TestMakeMountArgs(t *testing.T) {
	args := makeMountArgs("/dev/loop0", "/mnt/x", "ntfs-3g", []string{"ro", "uid=0"})
	assert.Equal(t, []string{"-o", "ro,uid=0", "-t", "ntfs-3g", "/dev/loop0", "/mnt/x"}, args)
}
