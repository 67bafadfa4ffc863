package imount

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// FileSystem is the discriminated-union-by-interface that every concrete
// mountable type implements: plain mountable filesystems (ext, ntfs, ...),
// containers that spawn a subvolume instead of a directory (luks, bde,
// lvm, raid, volumesystem), and the handful of special cases (unknown,
// fallback, dir, unsupported, swap, carve).
type FileSystem interface {
	// Type returns the canonical type name, e.g. "ntfs", "luks".
	Type() string

	// Mount attaches the filesystem to v. For plain filesystems this
	// populates v.Mountpoint; for containers it instead returns a new
	// *Volume representing the unlocked contents (v.Volumes gains one
	// element) and leaves v.Mountpoint empty.
	Mount(ctx context.Context, v *Volume) (*Volume, error)

	// Unmount releases any resources Mount acquired. Safe to call on a
	// filesystem that was never successfully mounted.
	Unmount(ctx context.Context, v *Volume, lazy bool) error
}

// Detector is implemented by every FileSystem type to let the classifier
// score candidate types against a single piece of evidence (source,
// description), e.g. source="blkid", description="ntfs".
type Detector interface {
	Detect(source, description string) map[string]int
}

// wordBoundary builds a case-insensitive \b<word>\b matcher, mirroring
// the original's re.search(r"\b" + cls.type + r"\b", description).
func wordBoundary(word string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`)
}

// baseDetect implements FileSystem.detect()'s default scoring rule: exact
// guid match scores 100, an exact type-name match scores 100, a word-
// boundary match of the type name scores 80, a word-boundary match of any
// alias scores 70, otherwise no opinion.
func baseDetect(fsType string, aliases []string, guids []string, source, description string) map[string]int {
	if source == "guid" {
		for _, g := range guids {
			if strings.EqualFold(g, description) {
				return map[string]int{fsType: 100}
			}
		}
		return nil
	}

	lower := strings.ToLower(description)
	if lower == fsType {
		return map[string]int{fsType: 100}
	}
	if wordBoundary(fsType).MatchString(lower) {
		return map[string]int{fsType: 80}
	}
	for _, alias := range aliases {
		if wordBoundary(alias).MatchString(lower) {
			return map[string]int{fsType: 70}
		}
	}
	return nil
}

// mountFileSystem is embedded by every plain (non-container) filesystem
// type and implements the generic "mount -o loop,offset=...,sizelimit=...
// [-t type]" invocation that _call_mount performs in the original.
type mountFileSystem struct {
	fsType    string
	aliases   []string
	guids     []string
	mountType string // overrides fsType for `-t`, empty means use fsType
	mountOpts string
}

func (m mountFileSystem) Type() string { return m.fsType }

func (m mountFileSystem) Detect(source, description string) map[string]int {
	return baseDetect(m.fsType, m.aliases, m.guids, source, description)
}

func (m mountFileSystem) Mount(ctx context.Context, v *Volume) (*Volume, error) {
	mp, err := v.makeMountpoint()
	if err != nil {
		return nil, err
	}
	mountType := m.mountType
	if mountType == "" {
		mountType = m.fsType
	}
	if err := v.callMount(ctx, mp, mountType, m.mountOpts); err != nil {
		_ = v.clearMountpoint()
		return nil, err
	}
	mp.MarkMounted()
	v.Mountpoint = mp.Path
	return nil, nil
}

func (m mountFileSystem) Unmount(ctx context.Context, v *Volume, lazy bool) error {
	return v.unmountMountpoint(ctx, lazy)
}

// callMount builds and runs the generic loop-mount command shared by every
// plain filesystem type, mirroring MountFileSystem._call_mount.
func (v *Volume) callMount(ctx context.Context, mp *Mountpoint, mountType, opts string) error {
	if opts != "" && !strings.HasSuffix(opts, ",") {
		opts += ","
	}
	opts += fmt.Sprintf("loop,offset=%d,sizelimit=%d", v.Offset, v.Size)
	if !v.readWrite() {
		opts += ",ro"
	}

	args := []string{v.rawPath(), mp.Path, "-o", opts}
	if mountType != "" {
		args = append(args, "-t", mountType)
	}
	_, err := v.runner().Run(ctx, "mount", args...)
	if err != nil {
		return MountFailedError(fmt.Sprintf("mount of volume %s failed", v.Index), err)
	}
	return nil
}
