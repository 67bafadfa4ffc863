package imount

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sleuthkit-community/imount/imounttest"
)

func TestBdeFileSystemDetectByDescription(t *testing.T) {
	f := &bdeFileSystem{}
	scores := f.Detect("fsdescription", "BDE Volume")
	assert.Equal(t, 100, scores["bde"])
}

func TestBdeFileSystemMountWithRecoveryKey(t *testing.T) {
	r := imounttest.NewMockRunner()
	r.SetOutput("bdemount", "")

	parent := &fakeParent{path: "/tmp/image.dd", reg: stubRegistry("bdemount"), run: r}
	v := NewVolume(parent, "1.1", 0, 4096, "alloc")
	key := Key{Scheme: "r", Value: "123456-123456-123456-123456-123456-123456-123456-123456"}
	v.Key = &key
	v.FSType = &bdeFileSystem{}

	child, err := v.Mount(context.Background())
	assert.NoError(t, err)
	assert.NotNil(t, child)
	assert.Equal(t, "BDE Volume", child.Info["fsdescription"])
	assert.True(t, r.CalledWith("bdemount", "-r 123456-123456-123456-123456-123456-123456-123456-123456"))

	defer os.RemoveAll(v.mountpoint.Path)
}

func TestBdeFileSystemMountRejectsUnknownKeyScheme(t *testing.T) {
	r := imounttest.NewMockRunner()
	r.SetOutput("bdemount", "")

	parent := &fakeParent{path: "/tmp/image.dd", reg: stubRegistry("bdemount"), run: r}
	v := NewVolume(parent, "1.1", 0, 4096, "alloc")
	key := Key{Scheme: "z", Value: "whatever"}
	v.Key = &key
	v.FSType = &bdeFileSystem{}

	_, err := v.Mount(context.Background())
	assert.Error(t, err)
}
