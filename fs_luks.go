package imount

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
)

// luksFileSystem unlocks a LUKS container via cryptsetup. A successful
// unlock produces one subvolume representing the cleartext mapper device;
// the subvolume's raw path is the /dev/mapper/<name> cryptsetup created.
type luksFileSystem struct {
	loopback *Loopback
	luksName string
}

// luksDetector exists separately from luksFileSystem so the classifier can
// score "LUKS Volume" descriptions without needing a live Volume to attach
// the scoring method to.
type luksDetector struct{}

func (luksDetector) Detect(source, description string) map[string]int {
	if strings.EqualFold(description, "LUKS Volume") {
		return map[string]int{"luks": 100}
	}
	return baseDetect("luks", nil, []string{"CA7D7CCB-63ED-4C53-861C-1742536059CC"}, source, description)
}

func (f *luksFileSystem) Type() string { return "luks" }

// Detect delegates to luksDetector so the classifier registry can score
// LUKS evidence using the same *luksFileSystem entry bde/lvm/raid use,
// satisfying both Detector and FileSystem from one registered value.
func (f *luksFileSystem) Detect(source, description string) map[string]int {
	return luksDetector{}.Detect(source, description)
}

func (f *luksFileSystem) Mount(ctx context.Context, v *Volume) (*Volume, error) {
	if err := v.registry().Require(ctx, "cryptsetup"); err != nil {
		return nil, err
	}

	lo, err := NewLoopback(ctx, v.runner(), v.GetRawPath(), v.Offset, v.Size, !v.readWrite())
	if err != nil {
		return nil, err
	}
	f.loopback = lo

	if _, err := v.runner().Run(ctx, "cryptsetup", "isLuks", lo.Device); err != nil {
		_ = lo.Free(ctx)
		return nil, IncorrectFilesystemError("luks")
	}

	var extraArgs []string
	var passphrase string
	if v.Key != nil {
		switch v.Key.Scheme {
		case "p":
			passphrase = v.Key.Value
		case "f":
			extraArgs = append(extraArgs, "--key-file", v.Key.Value)
		case "m":
			extraArgs = append(extraArgs, "--master-key-file", v.Key.Value)
		default:
			_ = lo.Free(ctx)
			return nil, ArgumentError(fmt.Sprintf("unrecognized LUKS key scheme %q", v.Key.Scheme))
		}
	}

	f.luksName = fmt.Sprintf("imount_luks_%05d", rand.Intn(90000)+10000)
	args := []string{"luksOpen", lo.Device, f.luksName}
	if !v.readWrite() {
		args = append([]string{"-r"}, args...)
	}
	args = append(args, extraArgs...)

	var runErr error
	if passphrase != "" {
		runErr = runWithStdin(ctx, "cryptsetup", args, passphrase)
	} else {
		_, runErr = v.runner().Run(ctx, "cryptsetup", args...)
	}
	if runErr != nil {
		f.luksName = ""
		_ = lo.Free(ctx)
		if passphrase != "" {
			return nil, KeyInvalidError("cryptsetup rejected the supplied passphrase")
		}
		return nil, SubsystemError(runErr)
	}

	var size int64
	if out, err := v.runner().Run(ctx, "cryptsetup", "status", f.luksName); err == nil {
		size = parseLuksStatusSize(out, v.blockSize())
	}

	container := NewVolume(v, v.Index+".1", 0, size, "alloc")
	container.overrideRawPath = "/dev/mapper/" + f.luksName
	container.Info["fsdescription"] = "LUKS Volume"
	return container, nil
}

func (f *luksFileSystem) Unmount(ctx context.Context, v *Volume, lazy bool) error {
	if f.luksName != "" {
		if _, err := v.runner().Run(ctx, "cryptsetup", "luksClose", f.luksName); err != nil {
			return CleanupError("cryptsetup luksClose failed for "+f.luksName, err)
		}
		f.luksName = ""
	}
	if f.loopback != nil {
		if err := f.loopback.Free(ctx); err != nil {
			return err
		}
		f.loopback = nil
	}
	return nil
}

func parseLuksStatusSize(statusOutput string, blockSize int64) int64 {
	for _, line := range strings.Split(statusOutput, "\n") {
		if strings.Contains(line, "size:") && !strings.Contains(line, "key") {
			fields := strings.Fields(line)
			for _, field := range fields {
				if n, err := strconv.ParseInt(field, 10, 64); err == nil {
					return n * blockSize
				}
			}
		}
	}
	return 0
}
