package imount

import (
	"context"
	"os"
	"regexp"
	"time"
)

// lvmFileSystem activates an LVM volume group found on a loopback device
// and lets the volume-system detector for "lvm" enumerate its logical
// volumes as subvolumes.
type lvmFileSystem struct {
	loopback *Loopback
	vgName   string
}

var lvmVGNameRe = regexp.MustCompile(`VG (\S+)`)

func (f *lvmFileSystem) Type() string { return "lvm" }

func (f *lvmFileSystem) Detect(source, description string) map[string]int {
	return baseDetect("lvm", []string{"0x8e"},
		[]string{"E6D6D379-F507-44C2-A23C-238F2A3DF928", "79D3D6E6-07F5-C244-A23C-238F2A3DF928"},
		source, description)
}

func (f *lvmFileSystem) Mount(ctx context.Context, v *Volume) (*Volume, error) {
	if err := v.registry().Require(ctx, "lvm"); err != nil {
		return nil, err
	}
	_ = os.Setenv("LVM_SUPPRESS_FD_WARNINGS", "1")

	lo, err := NewLoopback(ctx, v.runner(), v.GetRawPath(), v.Offset, v.Size, !v.readWrite())
	if err != nil {
		return nil, err
	}
	f.loopback = lo
	time.Sleep(200 * time.Millisecond)

	out, err := v.runner().Run(ctx, "lvm", "pvscan")
	if err != nil {
		_ = lo.Free(ctx)
		return nil, SubsystemError(err)
	}
	for _, m := range lvmVGNameRe.FindAllStringSubmatch(out, -1) {
		f.vgName = m[1]
	}
	if f.vgName == "" {
		_ = lo.Free(ctx)
		return nil, IncorrectFilesystemError("lvm")
	}

	if _, err := v.runner().Run(ctx, "lvm", "vgchange", "-a", "y", f.vgName); err != nil {
		_ = lo.Free(ctx)
		f.vgName = ""
		return nil, SubsystemError(err)
	}

	v.Info["volume_group"] = f.vgName

	if err := v.DetectSubvolumes(ctx, "lvm"); err != nil {
		return nil, err
	}
	return nil, nil
}

func (f *lvmFileSystem) Unmount(ctx context.Context, v *Volume, lazy bool) error {
	if f.vgName != "" {
		if _, err := v.runner().Run(ctx, "lvm", "vgchange", "-a", "n", f.vgName); err != nil {
			return CleanupError("vgchange -a n failed for "+f.vgName, err)
		}
		f.vgName = ""
	}
	if f.loopback != nil {
		if err := f.loopback.Free(ctx); err != nil {
			return err
		}
		f.loopback = nil
	}
	return nil
}
