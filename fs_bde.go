package imount

import (
	"context"
	"strconv"
	"strings"
)

// bdeFileSystem unlocks a BitLocker (BDE) volume via bdemount. Unlike
// LUKS it mounts straight to a directory rather than exposing a mapper
// device, so the resulting subvolume's raw path is the "bde1" file inside
// the bdemount FUSE mountpoint.
type bdeFileSystem struct {
	mountpoint *Mountpoint
}

func (f *bdeFileSystem) Type() string { return "bde" }

func (f *bdeFileSystem) Detect(source, description string) map[string]int {
	if strings.EqualFold(description, "BDE Volume") {
		return map[string]int{"bde": 100}
	}
	return baseDetect("bde", nil, nil, source, description)
}

func (f *bdeFileSystem) Mount(ctx context.Context, v *Volume) (*Volume, error) {
	if err := v.registry().Require(ctx, "bdemount"); err != nil {
		return nil, err
	}

	mp, err := v.makeMountpoint()
	if err != nil {
		return nil, err
	}
	f.mountpoint = mp

	var keyArgs []string
	if v.Key != nil {
		switch v.Key.Scheme {
		case "k", "p", "r", "s":
			keyArgs = []string{"-" + v.Key.Scheme, v.Key.Value}
		default:
			_ = v.clearMountpoint()
			return nil, ArgumentError("unrecognized BDE key scheme: " + v.Key.Scheme)
		}
	}

	args := []string{v.GetRawPath(), mp.Path, "-o", strconv.FormatInt(v.Offset, 10)}
	args = append(args, keyArgs...)
	if _, err := v.runner().Run(ctx, "bdemount", args...); err != nil {
		_ = v.clearMountpoint()
		return nil, SubsystemError(err)
	}
	mp.MarkMounted()

	// bdemount exposes the decrypted volume as a single virtual file
	// inside its FUSE mountpoint, conventionally named "bde1".
	container := NewVolume(v, v.Index+".1", 0, v.Size, "alloc")
	container.overrideRawPath = mp.Path + "/bde1"
	container.Info["fsdescription"] = "BDE Volume"
	return container, nil
}

func (f *bdeFileSystem) Unmount(ctx context.Context, v *Volume, lazy bool) error {
	if f.mountpoint == nil {
		return nil
	}
	if err := CleanUnmount(ctx, v.runner(), []string{"fusermount", "-u", f.mountpoint.Path}, f.mountpoint.Path, 5, true); err != nil {
		return err
	}
	f.mountpoint = nil
	return nil
}
