package imount

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// volumeSystemDetector enumerates the volumes found on a VolumeSystem's
// parent using one particular external tool or strategy, mirroring the
// original's family of VolumeDetector subclasses (the generic "run this
// tool and parse its table" pattern, not a class hierarchy).
type volumeSystemDetector interface {
	DetectVolumes(ctx context.Context, vs *VolumeSystem) error
}

// singleVolumeDetector treats the whole parent as one unpartitioned
// volume, used when volume_detector="single" or as an explicit fallback
// when no table-aware tool is available and the caller still wants a
// best-effort volume to mount.
type singleVolumeDetector struct{}

func (singleVolumeDetector) DetectVolumes(ctx context.Context, vs *VolumeSystem) error {
	size := vs.parent.Size
	if size == 0 {
		if fi, err := os.Stat(vs.parent.GetRawPath()); err == nil {
			size = fi.Size()
		}
	}
	v := NewVolume(vs.parent, vs.parent.Index+".1", 0, size, "alloc")
	vs.Volumes = append(vs.Volumes, v)
	return nil
}

var mmlsLineRe = regexp.MustCompile(`^(\d{3}):\s+(\S+)\s+(\d+)\s+\d+\s+(\d+)\s+(.*)$`)

// mmlsVolumeDetector parses the sleuthkit's mmls partition table listing.
// mmls can't always guess the table type from image bytes alone, so on an
// empty first attempt it retries forcing GPT then DOS, mirroring the
// original's mmls_volume_detector retry quirk.
type mmlsVolumeDetector struct{}

func (mmlsVolumeDetector) DetectVolumes(ctx context.Context, vs *VolumeSystem) error {
	r := vs.parent.runner()
	if err := vs.parent.registry().Require(ctx, "mmls"); err != nil {
		return err
	}

	args := []string{vs.parent.GetRawPath()}
	if vs.vstype != "" {
		args = append([]string{"-t", vs.vstype}, args...)
	}
	out, err := r.Run(ctx, "mmls", args...)
	if err != nil || countMmlsSlots(out) == 0 {
		for _, table := range []string{"gpt", "dos"} {
			retryOut, rerr := r.Run(ctx, "mmls", "-t", table, vs.parent.GetRawPath())
			if rerr == nil && countMmlsSlots(retryOut) > 0 {
				out, err = retryOut, nil
				break
			}
		}
	}
	if err != nil {
		return SubsystemError(err)
	}

	blockSize := vs.parent.blockSize()
	if blockSize <= 0 {
		blockSize = 512
	}

	for _, line := range strings.Split(out, "\n") {
		m := mmlsLineRe.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		slotField, startStr, lengthStr, desc := m[2], m[3], m[4], m[5]
		start, _ := strconv.ParseInt(startStr, 10, 64)
		length, _ := strconv.ParseInt(lengthStr, 10, 64)

		flag := "alloc"
		switch {
		case strings.EqualFold(slotField, "Meta"):
			flag = "meta"
		case strings.Contains(strings.ToLower(desc), "unallocated"):
			flag = "unalloc"
		}

		slot := len(vs.Volumes) + 1
		if parts := strings.SplitN(slotField, ":", 2); len(parts) == 2 {
			table, tErr := strconv.Atoi(parts[0])
			s, sErr := strconv.Atoi(parts[1])
			if tErr == nil && sErr == nil {
				slot = DetermineSlot(table, s)
			}
		}

		index := fmt.Sprintf("%s.%d", vs.parent.Index, len(vs.Volumes)+1)
		v := NewVolume(vs.parent, index, start*blockSize, length*blockSize, flag)
		v.Slot = slot
		v.Info["fsdescription"] = strings.TrimSpace(desc)
		vs.Volumes = append(vs.Volumes, v)
	}
	return nil
}

func countMmlsSlots(out string) int {
	n := 0
	for _, line := range strings.Split(out, "\n") {
		if mmlsLineRe.MatchString(strings.TrimRight(line, "\r")) {
			n++
		}
	}
	return n
}

var partedLineRe = regexp.MustCompile(`^\s*(\d+)\s+(\d+)B\s+\d+B\s+(\d+)B\s*(\S*)\s*(.*)$`)

// partedVolumeDetector parses `parted -s <path> unit B print`'s partition
// table, used when mmls isn't installed.
type partedVolumeDetector struct{}

func (partedVolumeDetector) DetectVolumes(ctx context.Context, vs *VolumeSystem) error {
	if err := vs.parent.registry().Require(ctx, "parted"); err != nil {
		return err
	}
	out, err := vs.parent.runner().Run(ctx, "parted", "-s", vs.parent.GetRawPath(), "unit", "B", "print")
	if err != nil {
		return SubsystemError(err)
	}

	for _, line := range strings.Split(out, "\n") {
		m := partedLineRe.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		start, _ := strconv.ParseInt(m[2], 10, 64)
		size, _ := strconv.ParseInt(m[3], 10, 64)
		fsDesc, flags := m[4], m[5]

		flag := "alloc"
		if fsDesc == "" && strings.Contains(strings.ToLower(flags), "free") {
			flag = "unalloc"
		}

		index := fmt.Sprintf("%s.%d", vs.parent.Index, len(vs.Volumes)+1)
		v := NewVolume(vs.parent, index, start, size, flag)
		v.Info["fsdescription"] = strings.TrimSpace(fsDesc)
		vs.Volumes = append(vs.Volumes, v)
	}
	return nil
}

// pytsk3VolumeDetector stands in for the original's pytsk3 bindings, which
// have no Go equivalent in this module's dependency stack; it always
// reports unavailable so the auto-detection chain falls through to mmls.
type pytsk3VolumeDetector struct{}

func (pytsk3VolumeDetector) DetectVolumes(ctx context.Context, vs *VolumeSystem) error {
	return PrerequisiteFailedError("pytsk3 bindings are not available in this build")
}

var vshadowStoreRe = regexp.MustCompile(`^Store:\s*(\d+)$`)
var vshadowSizeRe = regexp.MustCompile(`^Volume size\s*:\s*(\d+)`)

// vssVolumeDetector mounts every volume shadow copy store via
// vshadowmount and exposes each as a subvolume, used when a volume's
// vstype is explicitly "vss" (as opposed to the VSS *container*
// filesystem, vssFileSystem, which is not among the detectors() the
// classifier consults and is used only when set directly, as
// Volume.DetectVolumeShadowCopies does, or forced as the "vss" type).
type vssVolumeDetector struct{}

func (vssVolumeDetector) DetectVolumes(ctx context.Context, vs *VolumeSystem) error {
	parent := vs.parent
	if err := parent.registry().Require(ctx, "vshadowinfo"); err != nil {
		return err
	}
	if err := parent.registry().Require(ctx, "vshadowmount"); err != nil {
		return err
	}

	mp, err := parent.makeMountpoint()
	if err != nil {
		return err
	}
	info, err := parent.runner().Run(ctx, "vshadowinfo", "-o", strconv.FormatInt(parent.Offset, 10), parent.GetRawPath())
	if err != nil {
		_ = parent.clearMountpoint()
		return SubsystemError(err)
	}
	if _, err := parent.runner().Run(ctx, "vshadowmount", "-o", strconv.FormatInt(parent.Offset, 10), parent.GetRawPath(), mp.Path); err != nil {
		_ = parent.clearMountpoint()
		return SubsystemError(err)
	}
	mp.MarkMounted()
	parent.Mountpoint = mp.Path

	var current *Volume
	for _, raw := range strings.Split(info, "\n") {
		line := strings.TrimSpace(raw)
		if m := vshadowStoreRe.FindStringSubmatch(line); m != nil {
			current = NewVolume(parent, parent.Index+"."+m[1], 0, 0, "alloc")
			current.overrideRawPath = mp.Path + "/vss" + m[1]
			current.Info["fsdescription"] = "VSS Store"
			vs.Volumes = append(vs.Volumes, current)
			continue
		}
		if m := vshadowSizeRe.FindStringSubmatch(line); m != nil && current != nil {
			if n, err := strconv.ParseInt(m[1], 10, 64); err == nil {
				current.Size = n
			}
		}
	}
	return nil
}

var lvSizeRe = regexp.MustCompile(`^LV Size\s*(\d+(?:\.\d+)?)\s*(KiB|MiB|GiB|TiB)`)

// lvmVolumeDetector parses `lvdisplay`'s "--- Logical volume ---" blocks
// into one Volume per logical volume, used after lvmFileSystem.Mount has
// activated the volume group.
type lvmVolumeDetector struct{}

func (lvmVolumeDetector) DetectVolumes(ctx context.Context, vs *VolumeSystem) error {
	if err := vs.parent.registry().Require(ctx, "lvdisplay"); err != nil {
		return err
	}
	out, err := vs.parent.runner().Run(ctx, "lvdisplay", "--units", "b")
	if err != nil {
		return SubsystemError(err)
	}

	var lvPath string
	var size int64
	flush := func() {
		if lvPath == "" {
			return
		}
		index := fmt.Sprintf("%s.%d", vs.parent.Index, len(vs.Volumes)+1)
		v := NewVolume(vs.parent, index, 0, size, "alloc")
		v.overrideRawPath = lvPath
		v.Info["fsdescription"] = "Logical Volume"
		vs.Volumes = append(vs.Volumes, v)
		lvPath, size = "", 0
	}

	for _, raw := range strings.Split(out, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(line, "--- Logical volume ---"):
			flush()
		case strings.HasPrefix(line, "LV Path"):
			lvPath = strings.TrimSpace(strings.TrimPrefix(line, "LV Path"))
		case strings.HasPrefix(line, "LV Size"):
			size = parseLvmSize(line)
		}
	}
	flush()
	return nil
}

// lvmUnitMultipliers converts lvdisplay's human-scaled size suffixes to
// bytes; lvdisplay is invoked with --units b above so this is a fallback
// for any locale/version that ignores the flag and reports a suffix.
var lvmUnitMultipliers = map[string]float64{
	"KiB": 1024,
	"MiB": 1024 * 1024,
	"GiB": 1024 * 1024 * 1024,
	"TiB": 1024 * 1024 * 1024 * 1024,
}

func parseLvmSize(line string) int64 {
	field := strings.TrimSpace(strings.TrimPrefix(line, "LV Size"))
	if strings.HasSuffix(field, "B") && !strings.ContainsAny(field, "KMGT") {
		n, _ := strconv.ParseInt(strings.TrimSuffix(field, "B"), 10, 64)
		return n
	}
	if m := lvSizeRe.FindStringSubmatch(line); m != nil {
		f, _ := strconv.ParseFloat(m[1], 64)
		return int64(f * lvmUnitMultipliers[m[2]])
	}
	return 0
}
