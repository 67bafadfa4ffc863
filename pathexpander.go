package imount

import (
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// splitImageRe matches the numbered segment of a split raw/dd image, e.g.
// "case.001" or "disk.dd.000"; EnCase names such as "image.E01" do not match.
var splitImageRe = regexp.MustCompile(`(?i)^(.*\.)(\d{2,3})$`)

// encaseRe matches EnCase/EWF segment names: .E01, .L01, .s01, etc.
var encaseRe = regexp.MustCompile(`(?i)\.[esl]\d{2}$`)

// IsEncase reports whether path looks like an EnCase/EWF segment file.
func IsEncase(path string) bool { return encaseRe.MatchString(path) }

// IsCompressed reports whether path looks like an avfs-mountable
// compressed container (zip/gz/bz2/etc).
func IsCompressed(path string) bool {
	return regexp.MustCompile(`(?i)\.(zip|gz|bz2|xz|7z|tar)$`).MatchString(path)
}

// IsVmware reports whether path looks like a VMware disk image.
func IsVmware(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".vmdk")
}

// IsQcow2 reports whether path looks like a qcow2 image.
func IsQcow2(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".qcow2")
}

// ExpandPath expands a single path into the ordered list of files that
// make up a (possibly split) image: for a split raw/dd image it returns
// every numbered segment in order; for anything else it returns a
// single-element slice. Mirrors _util.py's expand_path.
func ExpandPath(path string) []string {
	m := splitImageRe.FindStringSubmatch(path)
	if m == nil {
		return []string{path}
	}
	prefix := m[1]
	width := len(m[2])

	matches, err := filepath.Glob(prefix + strings.Repeat("[0-9]", width))
	if err != nil || len(matches) == 0 {
		return []string{path}
	}

	sort.Slice(matches, func(i, j int) bool {
		return segmentNumber(matches[i], len(prefix)) < segmentNumber(matches[j], len(prefix))
	})
	return matches
}

func segmentNumber(path string, prefixLen int) int {
	if prefixLen > len(path) {
		return 0
	}
	n, _ := strconv.Atoi(path[prefixLen:])
	return n
}

// DetermineSlot computes the flat partition-table slot index used to
// number volumes found by table-aware detectors (mmls/pytsk3), mirroring
// _util.py's determine_slot: a DOS extended/logical slot is offset by the
// 4 primary partition slots of the table it lives in.
func DetermineSlot(table, slot int) int {
	if table >= 0 {
		return table*4 + slot + 1
	}
	return slot + 1
}
