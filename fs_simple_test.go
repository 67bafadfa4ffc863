package imount

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sleuthkit-community/imount/imounttest"
)

func TestExtFileSystemDetectAliasMatch(t *testing.T) {
	ext := extFileSystem()
	scores := ext.Detect("blkid", "ext4")
	assert.Equal(t, 70, scores["ext"])
}

func TestFatFileSystemDosFatSuppressesVolumeSystem(t *testing.T) {
	f := newFatFileSystem()
	scores := f.Detect("fsdescription", "DOS FAT16")
	assert.Equal(t, -50, scores["volumesystem"])
}

func TestUfsFileSystemBsdPromotesVolumeSystem(t *testing.T) {
	u := newUfsFileSystem()
	scores := u.Detect("fsdescription", "BSD disk label")
	assert.Equal(t, 20, scores["volumesystem"])
	assert.Equal(t, -20, scores["ufs"])
}

func TestAllFileSystemsIncludesEveryRegisteredType(t *testing.T) {
	all := allFileSystems()
	for _, name := range []string{"ext", "ntfs", "fat", "exfat", "xfs", "hfs", "hfs+",
		"iso", "udf", "squashfs", "cramfs", "minix", "vmfs", "jffs2",
		"luks", "bde", "lvm", "raid", "vss", "volumesystem", "dir", "unknown", "swap"} {
		factory, ok := all[name]
		assert.True(t, ok, "missing filesystem %s", name)
		assert.Equal(t, name, factory().Type())
	}
}

func TestDetectorsCoverCoreFileSystemTypes(t *testing.T) {
	names := map[string]bool{}
	for _, d := range detectors() {
		if fs, ok := d.(FileSystem); ok {
			names[fs.Type()] = true
		}
	}
	for _, want := range []string{"ext", "ntfs", "fat", "luks", "bde", "lvm", "raid", "volumesystem"} {
		assert.True(t, names[want], "detector for %s missing", want)
	}
}

func TestMountFileSystemMountBuildsLoopOptions(t *testing.T) {
	r := imounttest.NewMockRunner()
	r.SetOutput("mount", "")
	parent := &fakeParent{path: "/tmp/image.dd", reg: NewRegistry(), run: r}
	v := NewVolume(parent, "1.1", 4096, 1024, "alloc")
	v.FSType = extFileSystem()

	child, err := v.Mount(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, child)
	assert.NotEmpty(t, v.Mountpoint)
	assert.True(t, r.CalledWith("mount", "offset=4096,sizelimit=1024,ro"))
}
