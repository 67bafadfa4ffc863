package imount

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sleuthkit-community/imount/imounttest"
)

func TestVssFileSystemMountEnumeratesStores(t *testing.T) {
	r := imounttest.NewMockRunner()
	r.SetOutput("vshadowinfo", ""+
		"Store: 1\n"+
		"\tVolume size\t\t\t: 1073741824 bytes\n"+
		"\tCreation time\t\t\t: Jan 01, 2026 00:00:00.000000000\n"+
		"Store: 2\n"+
		"\tVolume size\t\t\t: 2147483648 bytes\n")
	r.SetOutput("vshadowmount", "")

	parent := &fakeParent{path: "/tmp/image.dd", reg: stubRegistryAll("vshadowinfo", "vshadowmount"), run: r}
	v := NewVolume(parent, "1.1", 0, 4096, "alloc")
	v.FSType = vssFileSystem{}

	child, err := v.Mount(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, child)
	defer os.RemoveAll(v.mountpoint.Path)

	if assert.Len(t, v.Volumes, 2) {
		assert.Equal(t, int64(1073741824), v.Volumes[0].Size)
		assert.Equal(t, "1.1.1", v.Volumes[0].Index)
		assert.Equal(t, int64(2147483648), v.Volumes[1].Size)
		assert.Equal(t, "1.1.2", v.Volumes[1].Index)
	}
}

func TestVssFileSystemMountFailsWithoutDependency(t *testing.T) {
	r := imounttest.NewMockRunner()
	parent := &fakeParent{path: "/tmp/image.dd", reg: NewRegistry(), run: r}
	v := NewVolume(parent, "1.1", 0, 4096, "alloc")
	v.FSType = vssFileSystem{}

	_, err := v.Mount(context.Background())
	assert.Error(t, err)
}
