package imount

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesByKind(t *testing.T) {
	a := PrerequisiteFailedError("missing mmls")
	b := PrerequisiteFailedError("missing parted")
	assert.True(t, errors.Is(a, b))

	c := NotMountedError("no volume")
	assert.False(t, errors.Is(a, c))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := MountFailedError("mount of volume 1.1 failed", cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := SubsystemError(errors.New("exit status 1"))
	assert.Contains(t, err.Error(), "exit status 1")
	assert.Contains(t, err.Error(), "subsystem")
}
