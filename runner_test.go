package imount

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sleuthkit-community/imount/imounttest"
)

func TestMockRunnerRecordsInvocations(t *testing.T) {
	r := imounttest.NewMockRunner()
	r.SetOutput("mount", "")

	_, err := r.Run(context.Background(), "mount", "/dev/loop0", "/mnt/x", "-o", "ro")
	assert.NoError(t, err)
	assert.True(t, r.CalledWith("mount", "-o ro"))
	assert.Equal(t, 1, r.CallCount("mount"))
}

func TestMockRunnerInducedError(t *testing.T) {
	r := imounttest.NewMockRunner()
	r.InduceError("cryptsetup", "cryptsetup induced failure")

	_, err := r.Run(context.Background(), "cryptsetup", "luksOpen")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "induced failure")
}

func TestOutputTrimsWhitespace(t *testing.T) {
	r := imounttest.NewMockRunner()
	r.SetOutput("blkid", "  ntfs\n")

	out, err := Output(context.Background(), r, "blkid")
	assert.NoError(t, err)
	assert.Equal(t, "ntfs", out)
}
