package imount

import "context"

// VolumeSystem owns the set of volumes found directly on a single parent
// (a Disk, or a Volume acting as a nested volume system/LVM group), and
// the logic that chooses which detector enumerates them. It mirrors
// volume_system.py's VolumeSystem, minus the dynamic class lookup: Go
// picks the detector in resolveDetector.
type VolumeSystem struct {
	parent         *Volume
	vstype         string
	volumeDetector string

	Volumes []*Volume
}

// NewVolumeSystem returns a VolumeSystem that will enumerate volumes
// found on parent. vstype forces a specific partition-table/container
// type ("dos", "gpt", "bsd", "sun", "mac", "lvm", "vss"); "" lets
// DetectVolumes decide from evidence. volumeDetector selects the probing
// strategy ("auto", "mmls", "parted", "pytsk3", "single"); "auto" tries
// the available tools in the original's preference order.
func NewVolumeSystem(parent *Volume, vstype, volumeDetector string) *VolumeSystem {
	if volumeDetector == "" {
		volumeDetector = "auto"
	}
	return &VolumeSystem{parent: parent, vstype: vstype, volumeDetector: volumeDetector}
}

// DetectVolumes runs the selected (or auto-resolved) volume-system
// detector and populates vs.Volumes. vstype, if non-empty, overrides the
// type the VolumeSystem was constructed with, mirroring volume_system.py's
// detect_volumes(vstype=...) parameter.
func (vs *VolumeSystem) DetectVolumes(ctx context.Context, vstype string) error {
	if vstype != "" {
		vs.vstype = vstype
	}

	d, err := vs.resolveDetector(ctx)
	if err != nil {
		return err
	}
	return d.DetectVolumes(ctx, vs)
}

// resolveDetector implements _determine_auto_detection_method: a few
// container types dictate their own detector outright; everything else
// runs through the pytsk3 -> mmls -> parted preference chain. When none of
// those tools is available it returns a PrerequisiteFailedError; the
// single-volume fallback lives in Disk.DetectVolumes, not here.
func (vs *VolumeSystem) resolveDetector(ctx context.Context) (volumeSystemDetector, error) {
	reg := vs.parent.registry()

	switch vs.volumeDetector {
	case "single":
		return singleVolumeDetector{}, nil
	case "mmls":
		return mmlsVolumeDetector{}, nil
	case "parted":
		return partedVolumeDetector{}, nil
	case "pytsk3":
		return pytsk3VolumeDetector{}, nil
	case "lvm":
		return lvmVolumeDetector{}, nil
	case "vss":
		return vssVolumeDetector{}, nil
	}

	switch vs.vstype {
	case "lvm":
		return lvmVolumeDetector{}, nil
	case "vss":
		return vssVolumeDetector{}, nil
	}

	if reg.Available(ctx, "pytsk3") {
		return pytsk3VolumeDetector{}, nil
	}
	if reg.Available(ctx, "mmls") {
		return mmlsVolumeDetector{}, nil
	}
	if reg.Available(ctx, "parted") {
		return partedVolumeDetector{}, nil
	}
	return nil, PrerequisiteFailedError("no volume system detector available (need one of: mmls, parted)")
}
