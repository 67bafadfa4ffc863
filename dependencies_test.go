package imount

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryRequireUnknownDependency(t *testing.T) {
	reg := NewRegistry()
	err := reg.Require(context.Background(), "definitely-not-a-real-tool")
	assert.Error(t, err)
}

func TestRegistryPytsk3AlwaysUnavailable(t *testing.T) {
	reg := NewRegistry()
	assert.False(t, reg.Available(context.Background(), "pytsk3"))
}

func TestRegistryReportCoversEverySection(t *testing.T) {
	reg := NewRegistry()
	report := reg.Report(context.Background())
	for _, section := range reg.Sections {
		statuses, ok := report[section.Title]
		assert.True(t, ok, "missing section %s", section.Title)
		assert.Len(t, statuses, len(section.Dependencies))
	}
}

func TestWarnOnFailureReturnsTrueOnlyWhenErrorPresent(t *testing.T) {
	assert.False(t, warnOnFailure("step", nil))
	assert.True(t, warnOnFailure("step", ArgumentError("bad")))
}
