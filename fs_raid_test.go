package imount

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sleuthkit-community/imount/imounttest"
)

func stubRegistry(name string) *Registry {
	return &Registry{Sections: []Section{{
		Title: "test",
		Dependencies: []Dependency{
			{Name: name, Probe: func(ctx context.Context) bool { return true }},
		},
	}}}
}

func TestRaidFileSystemDetectsByDescription(t *testing.T) {
	f := &raidFileSystem{}
	scores := f.Detect("fsdescription", "RAID Volume")
	assert.Equal(t, 100, scores["raid"])
}

func TestRaidFileSystemMountAttachesAndIsIdempotent(t *testing.T) {
	raidRegistry = map[string]*Volume{}
	defer func() { raidRegistry = map[string]*Volume{} }()

	r := imounttest.NewMockRunner()
	r.SetOutput("losetup", "/dev/loop0")
	r.SetOutput("mdadm", "mdadm: /dev/loop0 attached to /dev/md0, which has been started.")

	parent := &fakeParent{path: "/tmp/image.dd", reg: stubRegistry("mdadm"), run: r}
	v1 := NewVolume(parent, "1.1", 0, 4096, "alloc")
	v1.FSType = &raidFileSystem{}

	child1, err := v1.Mount(context.Background())
	assert.NoError(t, err)
	assert.NotNil(t, child1)
	assert.Equal(t, "active", child1.Info["raid_status"])

	v2 := NewVolume(parent, "1.2", 0, 4096, "alloc")
	v2.FSType = &raidFileSystem{}
	child2, err := v2.Mount(context.Background())
	assert.NoError(t, err)
	assert.Same(t, child1, child2)
}
