package imount

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyFileSystemExactMatch(t *testing.T) {
	ev := []Evidence{{Source: "blkid", Description: "ntfs"}}
	assert.Equal(t, "ntfs", ClassifyFileSystem(ev, "unknown"))
}

func TestClassifyFileSystemNtfsFatCrossEffect(t *testing.T) {
	ev := []Evidence{{Source: "fsdescription", Description: "NTFS / exFAT"}}
	assert.Equal(t, "ntfs", ClassifyFileSystem(ev, "unknown"))
}

func TestClassifyFileSystemHfsPlusWinsOverHfs(t *testing.T) {
	ev := []Evidence{{Source: "fsdescription", Description: "Apple HFS+ volume"}}
	assert.Equal(t, "hfs+", ClassifyFileSystem(ev, "unknown"))
}

func TestClassifyFileSystemStopsEarlyAtExactThreshold(t *testing.T) {
	// "BSD disklabel" drives volumesystem to exactly 50 (ufsFileSystem's
	// BSD cross-effect contributes 20, volumeSystemFileSystem's own "bsd"
	// substring hint contributes 30). earlyStopThreshold is inclusive, so
	// a second, later-arriving piece of evidence that would otherwise
	// outscore it must never be consulted.
	ev := []Evidence{
		{Source: "fsdescription", Description: "BSD disklabel"},
		{Source: "fsdescription", Description: "ntfs"},
	}
	assert.Equal(t, "volumesystem", ClassifyFileSystem(ev, "unknown"))
}

func TestClassifyFileSystemNoEvidenceFallsBack(t *testing.T) {
	assert.Equal(t, "unknown", ClassifyFileSystem(nil, "unknown"))
}

func TestClassifyFileSystemGuidMatch(t *testing.T) {
	ev := []Evidence{{Source: "guid", Description: "CA7D7CCB-63ED-4C53-861C-1742536059CC"}}
	assert.Equal(t, "luks", ClassifyFileSystem(ev, "unknown"))
}

func TestResolveFSTypeExactIndexWins(t *testing.T) {
	fstypes := map[string]string{"1.1": "ntfs", "*": "ext"}
	forced, fallback := ResolveFSType(fstypes, "1.1")
	assert.Equal(t, "ntfs", forced)
	assert.Empty(t, fallback)
}

func TestResolveFSTypeWildcardOverride(t *testing.T) {
	fstypes := map[string]string{"*": "ext"}
	forced, _ := ResolveFSType(fstypes, "1.2")
	assert.Equal(t, "ext", forced)
}

func TestResolveFSTypeFallbackOnly(t *testing.T) {
	fstypes := map[string]string{"?": "unknown"}
	forced, fallback := ResolveFSType(fstypes, "1.3")
	assert.Empty(t, forced)
	assert.Equal(t, "unknown", fallback)
}
