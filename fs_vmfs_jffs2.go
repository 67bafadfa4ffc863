package imount

import (
	"context"
	"strconv"
)

// vmfsFileSystem mounts VMware VMFS volumes through vmfs-fuse, which (like
// the container filesystems) needs a loopback device rather than a plain
// `mount -o loop`.
type vmfsFileSystem struct {
	mountFileSystem
}

func newVmfsFileSystem() vmfsFileSystem {
	return vmfsFileSystem{mountFileSystem{
		fsType:  "vmfs",
		aliases: []string{"vmfs_volume_member"},
		guids:   []string{"2AE031AA-0F40-DB11-9590-000C2911D1B8"},
	}}
}

func (fs vmfsFileSystem) Mount(ctx context.Context, v *Volume) (*Volume, error) {
	mp, err := v.makeMountpoint()
	if err != nil {
		return nil, err
	}
	lo, err := NewLoopback(ctx, v.runner(), v.GetRawPath(), v.Offset, v.Size, !v.readWrite())
	if err != nil {
		_ = v.clearMountpoint()
		return nil, err
	}
	if _, err := v.runner().Run(ctx, "vmfs-fuse", lo.Device, mp.Path); err != nil {
		_ = lo.Free(ctx)
		_ = v.clearMountpoint()
		return nil, MountFailedError("vmfs-fuse failed for volume "+v.Index, err)
	}
	v.loopback = lo
	mp.MarkMounted()
	v.Mountpoint = mp.Path
	return nil, nil
}

func (fs vmfsFileSystem) Unmount(ctx context.Context, v *Volume, lazy bool) error {
	if err := v.unmountMountpoint(ctx, lazy); err != nil {
		return err
	}
	if v.loopback != nil {
		if err := v.loopback.Free(ctx); err != nil {
			return err
		}
		v.loopback = nil
	}
	return nil
}

// jffs2FileSystem mounts a JFFS2 image by loading it into an mtdram block
// device; the original loads "mtd" and "jffs2" kernel modules and sizes
// the ramdisk to the volume plus 20% overhead.
type jffs2FileSystem struct{}

func (jffs2FileSystem) Type() string { return "jffs2" }

func (jffs2FileSystem) Detect(source, description string) map[string]int {
	return baseDetect("jffs2", nil, nil, source, description)
}

func (fs jffs2FileSystem) Mount(ctx context.Context, v *Volume) (*Volume, error) {
	mp, err := v.makeMountpoint()
	if err != nil {
		return nil, err
	}
	sizeKB := strconv.FormatInt(int64(float64(v.Size/1024)*1.2), 10)
	if _, err := v.runner().Run(ctx, "modprobe", "-v", "mtd"); err != nil {
		_ = v.clearMountpoint()
		return nil, SubsystemError(err)
	}
	if _, err := v.runner().Run(ctx, "modprobe", "-v", "jffs2"); err != nil {
		_ = v.clearMountpoint()
		return nil, SubsystemError(err)
	}
	if _, err := v.runner().Run(ctx, "modprobe", "-v", "mtdram", "total_size="+sizeKB); err != nil {
		_ = v.clearMountpoint()
		return nil, SubsystemError(err)
	}
	if _, err := v.runner().Run(ctx, "dd", "if="+v.GetRawPath(), "of=/dev/mtdblock0", "skip="+strconv.FormatInt(v.Offset, 10), "bs=1", "count="+strconv.FormatInt(v.Size, 10)); err != nil {
		_ = v.clearMountpoint()
		return nil, SubsystemError(err)
	}
	if _, err := v.runner().Run(ctx, "mount", "-t", "jffs2", "/dev/mtdblock0", mp.Path); err != nil {
		_ = v.clearMountpoint()
		return nil, MountFailedError("jffs2 mount of volume "+v.Index+" failed", err)
	}
	mp.MarkMounted()
	v.Mountpoint = mp.Path
	return nil, nil
}

func (jffs2FileSystem) Unmount(ctx context.Context, v *Volume, lazy bool) error {
	return v.unmountMountpoint(ctx, lazy)
}
