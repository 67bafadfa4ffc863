package imount

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
)

// vssFileSystem mounts every Volume Shadow Copy store found on a volume
// via vshadowmount, exposing each store as a subvolume whose raw path
// is the store's virtual device inside the vshadowmount FUSE directory.
type vssFileSystem struct{}

func (vssFileSystem) Type() string { return "vss" }

func (vssFileSystem) Detect(source, description string) map[string]int {
	return baseDetect("vss", nil, nil, source, description)
}

func (fs vssFileSystem) Mount(ctx context.Context, v *Volume) (*Volume, error) {
	if err := v.registry().Require(ctx, "vshadowinfo"); err != nil {
		return nil, err
	}
	if err := v.registry().Require(ctx, "vshadowmount"); err != nil {
		return nil, err
	}

	mp, err := v.makeMountpoint()
	if err != nil {
		return nil, err
	}

	info, err := v.runner().Run(ctx, "vshadowinfo", "-o", strconv.FormatInt(v.Offset, 10), v.GetRawPath())
	if err != nil {
		_ = v.clearMountpoint()
		return nil, SubsystemError(err)
	}
	if _, err := v.runner().Run(ctx, "vshadowmount", "-o", strconv.FormatInt(v.Offset, 10), v.GetRawPath(), mp.Path); err != nil {
		_ = v.clearMountpoint()
		return nil, SubsystemError(err)
	}
	mp.MarkMounted()
	v.Mountpoint = mp.Path

	var current *Volume
	for _, raw := range strings.Split(info, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(line, "Store:"):
			idx := strings.TrimSpace(strings.TrimPrefix(line, "Store:"))
			current = NewVolume(v, v.Index+"."+idx, 0, 0, "alloc")
			current.overrideRawPath = filepath.Join(mp.Path, "vss"+idx)
			current.Info["fsdescription"] = "VSS Store"
			v.Volumes = append(v.Volumes, current)
		case strings.HasPrefix(line, "Volume size") && current != nil:
			if idx := strings.LastIndex(line, ":"); idx >= 0 {
				fields := strings.Fields(line[idx+1:])
				if len(fields) > 0 {
					if n, err := strconv.ParseInt(fields[0], 10, 64); err == nil {
						current.Size = n
					}
				}
			}
		case strings.HasPrefix(line, "Creation time") && current != nil:
			current.Info["creation_time"] = strings.TrimSpace(strings.TrimPrefix(line, "Creation time:"))
		}
	}
	// subvolumes were already appended above; signal "no single new
	// subvolume" to the generic Volume.Mount caller.
	return nil, nil
}

func (fs vssFileSystem) Unmount(ctx context.Context, v *Volume, lazy bool) error {
	return v.unmountMountpoint(ctx, lazy)
}
