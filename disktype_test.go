package imount

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sleuthkit-community/imount/imounttest"
)

func TestEnrichWithDisktypeParsesLabelGuidAndType(t *testing.T) {
	v, _ := newTestVolume(t)
	output := "--- /tmp/image.dd\n" +
		"Partition 1: ... \n" +
		"  Partition type    : 0xee (GPT protective)\n" +
		"  Partition GUID    : ebd0a0a2-b9e5-4433-87c0-68b6b72699c7\n" +
		"  Volume Label      : \"CASE_DATA\"\n"

	EnrichWithDisktype(context.Background(), v, output)
	assert.Equal(t, "CASE_DATA", v.Info["label"])
	assert.Equal(t, "EBD0A0A2-B9E5-4433-87C0-68B6B72699C7", v.Info["guid"])
	assert.Equal(t, "0xee (GPT protective)", v.Info["fsdescription"])
}

func TestEnrichWithDisktypeIgnoresEmptyOutput(t *testing.T) {
	v, _ := newTestVolume(t)
	EnrichWithDisktype(context.Background(), v, "")
	assert.Empty(t, v.Info["label"])
}

func TestRunDisktypeSkipsWhenDependencyUnavailable(t *testing.T) {
	r := imounttest.NewMockRunner()
	parent := &fakeParent{path: "/tmp/image.dd", reg: &Registry{}, run: r}
	v := NewVolume(parent, "1.1", 0, 4096, "alloc")

	RunDisktype(context.Background(), v)
	assert.Equal(t, 0, r.CallCount("disktype"))
}

func TestRunDisktypeRunsAndEnriches(t *testing.T) {
	r := imounttest.NewMockRunner()
	r.SetOutput("disktype", "  Volume Label      : \"ROOT\"\n")
	parent := &fakeParent{path: "/tmp/image.dd", reg: stubRegistryAll("disktype"), run: r}
	v := NewVolume(parent, "1.1", 0, 4096, "alloc")

	RunDisktype(context.Background(), v)
	assert.Equal(t, "ROOT", v.Info["label"])
}
