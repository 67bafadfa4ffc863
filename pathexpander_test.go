package imount

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsEncase(t *testing.T) {
	assert.True(t, IsEncase("case.E01"))
	assert.True(t, IsEncase("case.s01"))
	assert.False(t, IsEncase("case.dd"))
}

func TestIsVmwareAndQcow2(t *testing.T) {
	assert.True(t, IsVmware("disk.VMDK"))
	assert.False(t, IsVmware("disk.dd"))
	assert.True(t, IsQcow2("disk.qcow2"))
}

func TestExpandPathSplitSegments(t *testing.T) {
	dir, err := ioutil.TempDir("", "imount-expand-")
	assert.NoError(t, err)
	defer os.RemoveAll(dir)

	for _, n := range []string{"001", "002", "003"} {
		f := filepath.Join(dir, "case.dd."+n)
		assert.NoError(t, ioutil.WriteFile(f, nil, 0o600))
	}

	segments := ExpandPath(filepath.Join(dir, "case.dd.001"))
	assert.Len(t, segments, 3)
	assert.Contains(t, segments[0], "001")
	assert.Contains(t, segments[2], "003")
}

func TestExpandPathSingleFile(t *testing.T) {
	segments := ExpandPath("/tmp/does-not-exist.dd")
	assert.Equal(t, []string{"/tmp/does-not-exist.dd"}, segments)
}

func TestDetermineSlot(t *testing.T) {
	assert.Equal(t, 1, DetermineSlot(-1, 0))
	assert.Equal(t, 5, DetermineSlot(0, 4))
	assert.Equal(t, 9, DetermineSlot(1, 4))
}
