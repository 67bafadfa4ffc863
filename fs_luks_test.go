package imount

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sleuthkit-community/imount/imounttest"
)

func TestLuksDetectorScoresExplicitDescription(t *testing.T) {
	d := luksDetector{}
	scores := d.Detect("fsdescription", "LUKS Volume")
	assert.Equal(t, 100, scores["luks"])
}

func TestLuksFileSystemMountWithKeyFileScheme(t *testing.T) {
	r := imounttest.NewMockRunner()
	r.SetOutput("losetup", "/dev/loop0")
	r.SetOutput("cryptsetup", "")

	parent := &fakeParent{path: "/tmp/image.dd", reg: stubRegistry("cryptsetup"), run: r}
	v := NewVolume(parent, "1.1", 0, 4096, "alloc")
	key := Key{Scheme: "f", Value: "/root/key.bin"}
	v.Key = &key
	v.FSType = &luksFileSystem{}

	child, err := v.Mount(context.Background())
	assert.NoError(t, err)
	assert.NotNil(t, child)
	assert.Equal(t, "LUKS Volume", child.Info["fsdescription"])
	assert.True(t, r.CalledWith("cryptsetup", "--key-file /root/key.bin"))
}

func TestLuksFileSystemMountRejectsUnknownKeyScheme(t *testing.T) {
	r := imounttest.NewMockRunner()
	r.SetOutput("losetup", "/dev/loop0")
	r.SetOutput("cryptsetup", "")

	parent := &fakeParent{path: "/tmp/image.dd", reg: stubRegistry("cryptsetup"), run: r}
	v := NewVolume(parent, "1.1", 0, 4096, "alloc")
	key := Key{Scheme: "z", Value: "whatever"}
	v.Key = &key
	v.FSType = &luksFileSystem{}

	_, err := v.Mount(context.Background())
	assert.Error(t, err)
}
