package imount

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"
)

// raidRegistry maps each /dev/mdX device to the first volume whose mdadm
// attach produced it. Every member still runs mdadm -IR; a later member
// that lands on an already-registered device reuses that volume's RAID
// subvolume instead of creating a second one (see SPEC_FULL.md's RAID
// re-entrancy decision: first successful attach wins).
var raidRegistry = map[string]*Volume{}

var mdAttachedRe = regexp.MustCompile(`attached to ([^ ,]+)`)

// raidFileSystem incorporates a volume into an mdadm RAID array.
type raidFileSystem struct {
	loopback *Loopback
	mdpath   string
}

func (f *raidFileSystem) Type() string { return "raid" }

func (f *raidFileSystem) Detect(source, description string) map[string]int {
	if strings.EqualFold(description, "RAID Volume") {
		return map[string]int{"raid": 100}
	}
	return baseDetect("raid", []string{"linux_raid_member", "linux software raid"}, nil, source, description)
}

func (f *raidFileSystem) Mount(ctx context.Context, v *Volume) (*Volume, error) {
	if err := v.registry().Require(ctx, "mdadm"); err != nil {
		return nil, err
	}

	lo, err := NewLoopback(ctx, v.runner(), v.GetRawPath(), v.Offset, v.Size, !v.readWrite())
	if err != nil {
		return nil, err
	}
	f.loopback = lo

	out, err := v.runner().Run(ctx, "mdadm", "-IR", lo.Device)
	if err != nil {
		_ = lo.Free(ctx)
		return nil, SubsystemError(err)
	}

	m := mdAttachedRe.FindStringSubmatch(out)
	if m == nil {
		_ = lo.Free(ctx)
		return nil, SubsystemError(nil)
	}
	mdpath, _ := filepath.EvalSymlinks(m[1])
	if mdpath == "" {
		mdpath = m[1]
	}
	f.mdpath = mdpath

	raidStatus := "active"
	if strings.Contains(out, "not enough to start") {
		f.mdpath = strings.Replace(f.mdpath, "/dev/md/", "/dev/md", 1)
		raidStatus = "waiting"
	} else if strings.Contains(out, "which is already active") {
		raidStatus = "active"
	}

	if existing, ok := raidRegistry[f.mdpath]; ok && len(existing.Volumes) > 0 {
		existing.Volumes[0].Info["raid_status"] = raidStatus
		return existing.Volumes[0], nil
	}

	container := NewVolume(v, v.Index+".1", 0, v.Size, "alloc")
	container.overrideRawPath = f.mdpath
	container.Info["fsdescription"] = "RAID Volume"
	container.Info["raid_status"] = raidStatus
	raidRegistry[f.mdpath] = v
	return container, nil
}

func (f *raidFileSystem) Unmount(ctx context.Context, v *Volume, lazy bool) error {
	if f.mdpath != "" {
		for mdpath, owner := range raidRegistry {
			if mdpath == f.mdpath && owner != v {
				if err := owner.Unmount(ctx, lazy); err != nil {
					return err
				}
			}
		}
		if _, err := v.runner().Run(ctx, "mdadm", "--stop", f.mdpath); err != nil {
			return SubsystemError(err)
		}
		delete(raidRegistry, f.mdpath)
		f.mdpath = ""
	}
	if f.loopback != nil {
		if err := f.loopback.Free(ctx); err != nil {
			return err
		}
		f.loopback = nil
	}
	return nil
}
