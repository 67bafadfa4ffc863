package imount

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAvailableBytesOnTempDir(t *testing.T) {
	free, err := availableBytes(os.TempDir())
	assert.NoError(t, err)
	assert.Greater(t, free, int64(0))
}

func TestIsSmallVolumeThreshold(t *testing.T) {
	v, _ := newTestVolume(t)
	v.Size = 1048576
	assert.True(t, isSmallVolume(v))

	v.Size = 1048577
	assert.False(t, isSmallVolume(v))
}
