package imount

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sleuthkit-community/imount/imounttest"
)

func stubRegistryAll(names ...string) *Registry {
	deps := make([]Dependency, 0, len(names))
	for _, n := range names {
		deps = append(deps, Dependency{Name: n, Probe: func(ctx context.Context) bool { return true }})
	}
	return &Registry{Sections: []Section{{Title: "test", Dependencies: deps}}}
}

func TestLvmFileSystemDetectsByGuid(t *testing.T) {
	f := &lvmFileSystem{}
	scores := f.Detect("guid", "E6D6D379-F507-44C2-A23C-238F2A3DF928")
	assert.Equal(t, 100, scores["lvm"])
}

func TestLvmFileSystemMountActivatesVolumeGroupAndEnumeratesLVs(t *testing.T) {
	r := imounttest.NewMockRunner()
	r.SetOutput("losetup", "/dev/loop0")
	r.SetOutput("lvm", "VG vg_forensic\n")
	r.SetOutput("lvdisplay", "" +
		"--- Logical volume ---\n" +
		"  LV Path                /dev/vg_forensic/lv_root\n" +
		"  LV Size                1.00 GiB\n")

	parent := &fakeParent{path: "/tmp/image.dd", reg: stubRegistryAll("lvm", "lvdisplay"), run: r}
	v := NewVolume(parent, "1.1", 0, 4096, "alloc")
	v.FSType = &lvmFileSystem{}

	child, err := v.Mount(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, child)
	assert.Equal(t, "vg_forensic", v.Info["volume_group"])
	assert.True(t, r.CalledWith("lvm", "vgchange -a y vg_forensic"))

	if assert.Len(t, v.Volumes, 1) {
		assert.Equal(t, "/dev/vg_forensic/lv_root", v.Volumes[0].overrideRawPath)
		assert.Equal(t, "Logical Volume", v.Volumes[0].Info["fsdescription"])
	}
}

func TestLvmFileSystemMountFailsWithoutVolumeGroup(t *testing.T) {
	r := imounttest.NewMockRunner()
	r.SetOutput("losetup", "/dev/loop0")
	r.SetOutput("lvm", "no volume groups found\n")

	parent := &fakeParent{path: "/tmp/image.dd", reg: stubRegistryAll("lvm", "lvdisplay"), run: r}
	v := NewVolume(parent, "1.1", 0, 4096, "alloc")
	v.FSType = &lvmFileSystem{}

	_, err := v.Mount(context.Background())
	assert.Error(t, err)
}
