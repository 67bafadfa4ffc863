package imount

import (
	"context"
	"os"
	"strings"
)

// unknownFileSystem mounts a volume without specifying -t, letting the
// kernel guess. It is also the type assigned when no evidence source
// scored any type above zero.
type unknownFileSystem struct{}

func (unknownFileSystem) Type() string { return "unknown" }

func (unknownFileSystem) Mount(ctx context.Context, v *Volume) (*Volume, error) {
	mp, err := v.makeMountpoint()
	if err != nil {
		return nil, err
	}
	if err := v.callMount(ctx, mp, "", ""); err != nil {
		_ = v.clearMountpoint()
		return nil, err
	}
	mp.MarkMounted()
	v.Mountpoint = mp.Path
	return nil, nil
}

func (unknownFileSystem) Unmount(ctx context.Context, v *Volume, lazy bool) error {
	return v.unmountMountpoint(ctx, lazy)
}

// fallbackFileSystem wraps a FileSystem that could not actually be
// determined with a caller-supplied fallback type (the "?unknown" syntax
// from the index-pattern fstypes map), mirroring FallbackFileSystem.
type fallbackFileSystem struct {
	FileSystem
	fallback string
}

func (f fallbackFileSystem) Type() string { return "?" + f.fallback }

// volumeSystemFileSystem treats a volume as itself containing a nested
// volume system (e.g. a BSD disklabel inside an MBR partition) rather
// than a mountable filesystem.
type volumeSystemFileSystem struct{}

func (volumeSystemFileSystem) Type() string { return "volumesystem" }

func (volumeSystemFileSystem) Detect(source, description string) map[string]int {
	lower := strings.ToLower(description)
	for _, vs := range volumeSystemTypeNames {
		if lower == vs {
			return map[string]int{"volumesystem": 80}
		}
	}
	if strings.Contains(lower, "bsd") {
		return map[string]int{"volumesystem": 30}
	}
	return nil
}

func (fs volumeSystemFileSystem) Mount(ctx context.Context, v *Volume) (*Volume, error) {
	vs := NewVolumeSystem(v, "", "auto")
	if err := vs.DetectVolumes(ctx, ""); err != nil {
		return nil, err
	}
	v.Volumes = append(v.Volumes, vs.Volumes...)
	return nil, nil
}

func (volumeSystemFileSystem) Unmount(ctx context.Context, v *Volume, lazy bool) error {
	var firstErr error
	for _, sub := range v.Volumes {
		if err := sub.Unmount(ctx, lazy); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// directoryFileSystem exposes a raw image that is itself already a
// directory (e.g. a logical/AD1 acquisition) as a symlink instead of a
// real mount.
type directoryFileSystem struct{}

func (directoryFileSystem) Type() string { return "dir" }

func (directoryFileSystem) Mount(ctx context.Context, v *Volume) (*Volume, error) {
	mp, err := v.makeMountpoint()
	if err != nil {
		return nil, err
	}
	if err := mp.Remove(); err != nil {
		return nil, err
	}
	if err := os.Symlink(v.GetRawPath(), mp.Path); err != nil {
		return nil, MountFailedError("could not symlink directory volume "+v.Index, err)
	}
	v.Mountpoint = mp.Path
	return nil, nil
}

func (directoryFileSystem) Unmount(ctx context.Context, v *Volume, lazy bool) error {
	if v.Mountpoint == "" {
		return nil
	}
	if err := os.Remove(v.Mountpoint); err != nil && !os.IsNotExist(err) {
		return CleanupError("could not remove directory-volume symlink "+v.Mountpoint, err)
	}
	v.Mountpoint = ""
	return nil
}

// unsupportedFileSystem represents a recognized but unimplemented type
// (or, as allFileSystems' "swap" entry with fsType="swap", a type that is
// recognized and deliberately never mounted).
type unsupportedFileSystem struct{ fsType string }

func (u unsupportedFileSystem) Type() string { return u.fsType }

func (u unsupportedFileSystem) Mount(ctx context.Context, v *Volume) (*Volume, error) {
	return nil, UnsupportedFilesystemError(u.fsType)
}

func (unsupportedFileSystem) Unmount(ctx context.Context, v *Volume, lazy bool) error { return nil }

// carveFileSystem runs photorec against the volume instead of mounting
// it, recovering files into a sibling directory. Freespace restricts the
// carve to unallocated space instead of scanning the whole volume.
type carveFileSystem struct {
	Freespace bool
	outDir    string
}

func (carveFileSystem) Type() string { return "carve" }

func (f carveFileSystem) Mount(ctx context.Context, v *Volume) (*Volume, error) {
	out := f.outDir
	if out == "" {
		out = v.GetRawPath() + "_carved"
	}
	if err := v.Carve(ctx, out, f.Freespace); err != nil {
		return nil, err
	}
	v.Mountpoint = out
	return nil, nil
}

func (carveFileSystem) Unmount(ctx context.Context, v *Volume, lazy bool) error {
	v.Mountpoint = ""
	return nil
}

var volumeSystemTypeNames = []string{"dos", "bsd", "sun", "mac", "gpt"}
