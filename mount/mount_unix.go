//go:build linux
// +build linux

package mount

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	procMountsPath    = "/proc/self/mountinfo"
	procMountsRetries = 30
)

var bindRemountOpts = []string{"remount"}

// mount mounts source to target as fsType with opts. Bind mounts require a
// second remount call before the requested options take effect, mirroring
// mount(8)'s own behavior.
func mount(ctx context.Context, source, target, fsType string, opts []string) error {
	if remountOpts, isBind := detectBind(opts); isBind {
		if err := doMount(ctx, "mount", source, target, fsType, []string{"bind"}); err != nil {
			return err
		}
		return doMount(ctx, "mount", source, target, fsType, remountOpts)
	}
	return doMount(ctx, "mount", source, target, fsType, opts)
}

func detectBind(opts []string) ([]string, bool) {
	bind := false
	remountOpts := append([]string(nil), bindRemountOpts...)
	for _, o := range opts {
		switch o {
		case "bind":
			bind = true
		case "remount":
		default:
			remountOpts = append(remountOpts, o)
		}
	}
	return remountOpts, bind
}

// makeMountArgs builds the argv for mount(8).
func makeMountArgs(source, target, fsType string, opts []string) []string {
	var args []string
	if len(opts) > 0 {
		args = append(args, "-o", strings.Join(opts, ","))
	}
	if fsType != "" {
		args = append(args, "-t", fsType)
	}
	if source != "" {
		args = append(args, source)
	}
	args = append(args, target)
	return args
}

func doMount(ctx context.Context, mntCmd, source, target, fsType string, opts []string) error {
	if err := validateMountOptions(opts...); err != nil {
		return err
	}
	args := makeMountArgs(source, target, fsType, opts)

	f := log.Fields{"cmd": mntCmd, "args": strings.Join(args, " ")}
	log.WithFields(f).Debug("running mount command")

	/* #nosec G204 */
	cmd := exec.CommandContext(ctx, mntCmd, args...)
	buf, err := cmd.CombinedOutput()
	if err != nil {
		out := string(buf)
		log.WithFields(f).WithField("output", out).WithError(err).Error("mount failed")
		return fmt.Errorf("mount failed: %w\nmount arguments: %s\noutput: %s", err, strings.Join(args, " "), out)
	}
	return nil
}

func unmount(ctx context.Context, target string, lazy bool) error {
	args := []string{}
	if lazy {
		args = append(args, "-l")
	}
	args = append(args, target)

	f := log.Fields{"cmd": "umount", "path": target, "lazy": lazy}
	log.WithFields(f).Debug("running umount command")

	/* #nosec G204 */
	buf, err := exec.CommandContext(ctx, "umount", args...).CombinedOutput()
	if err != nil {
		out := string(buf)
		f["output"] = out
		log.WithFields(f).WithError(err).Error("umount failed")
		return fmt.Errorf("unmount failed: %w\ntarget: %s\noutput: %s", err, target, out)
	}
	return nil
}

// consistentRead rereads filename until two consecutive reads agree,
// guarding against reading mountinfo mid-update.
func consistentRead(filename string, retry int) ([]byte, error) {
	oldContent, err := ioutil.ReadFile(filepath.Clean(filename))
	if err != nil {
		return nil, err
	}
	for i := 0; i < retry; i++ {
		newContent, err := ioutil.ReadFile(filepath.Clean(filename))
		if err != nil {
			return nil, err
		}
		if bytes.Equal(oldContent, newContent) {
			return newContent, nil
		}
		oldContent = newContent
	}
	return nil, fmt.Errorf("could not get a consistent read of %s after %d attempts", filename, retry)
}

func getMounts(ctx context.Context, scan EntryScanFunc) ([]Info, error) {
	content, err := consistentRead(procMountsPath, procMountsRetries)
	if err != nil {
		return nil, err
	}
	infos, _, err := ReadProcMountsFrom(ctx, bytes.NewReader(content), true, scan)
	return infos, err
}

// ReadProcMountsFrom parses mountinfo-format rows from r. When info is true
// it returns the parsed Info slice (and a zero hash); when false it instead
// returns a hash of the raw bytes read, useful for change detection without
// paying the allocation cost of building Info values. scan, if non-nil,
// overrides how an Entry is turned into an Info and can veto rows.
func ReadProcMountsFrom(ctx context.Context, r io.Reader, info bool, scan EntryScanFunc) ([]Info, uint32, error) {
	buf, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, 0, err
	}

	if !info {
		return nil, adler32ish(buf), nil
	}

	var out []Info
	cache := map[string]Entry{}
	lines := strings.Split(string(buf), "\n")
	for _, line := range lines {
		if line == "" {
			continue
		}
		entry, device, ok := parseMountInfoLine(line)
		if !ok {
			continue
		}
		cache[device] = entry

		if scan != nil {
			mi, keep, err := scan(ctx, entry, cache)
			if err != nil {
				return nil, 0, err
			}
			if !keep {
				continue
			}
			out = append(out, mi)
			continue
		}

		out = append(out, Info{
			Device: device,
			Path:   entry.MountPoint,
			Source: entry.Root + ":" + entry.MountSource,
			Type:   entry.FSType,
			Opts:   entry.MountOpts,
		})
	}
	return out, 0, nil
}

// parseMountInfoLine parses one row of /proc/self/mountinfo per the fields
// documented in proc(5): mount ID, parent ID, major:minor, root, mount
// point, mount options, zero or more optional fields, a "-" separator,
// filesystem type, mount source, super options.
func parseMountInfoLine(line string) (Entry, string, bool) {
	fields := strings.Fields(line)
	if len(fields) < 10 {
		return Entry{}, "", false
	}
	sepIdx := -1
	for i := 6; i < len(fields); i++ {
		if fields[i] == "-" {
			sepIdx = i
			break
		}
	}
	if sepIdx == -1 || len(fields) < sepIdx+3 {
		return Entry{}, "", false
	}

	root := fields[3]
	mountPoint := fields[4]
	mountOpts := strings.Split(fields[5], ",")
	fsType := fields[sepIdx+1]
	mountSource := fields[sepIdx+2]

	return Entry{
		Root:        root,
		MountPoint:  mountPoint,
		MountOpts:   mountOpts,
		FSType:      fsType,
		MountSource: mountSource,
	}, mountSource, true
}

// adler32ish is a tiny rolling hash used only to detect whether mountinfo
// content changed between two reads; it need not be cryptographically
// sound, only cheap and stable.
func adler32ish(buf []byte) uint32 {
	var a, b uint32 = 1, 0
	for _, c := range buf {
		a = (a + uint32(c)) % 65521
		b = (b + a) % 65521
	}
	return b<<16 | a
}

// validateMountOptions rejects obviously malformed mount options before
// they reach exec.Command, e.g. an empty string or stray whitespace.
func validateMountOptions(opts ...string) error {
	re := regexp.MustCompile(`^[\w]+[=]*[\w.:/,-]*$`)
	for _, opt := range opts {
		if !re.MatchString(opt) {
			return fmt.Errorf("mount option %q is invalid", opt)
		}
	}
	return nil
}

// ValidateDevice ensures source exists, resolves through symlinks, and is
// actually a device node.
func ValidateDevice(source string) (string, error) {
	if _, err := os.Lstat(source); err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(source)
	if err != nil {
		return "", err
	}
	st, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if st.Mode()&os.ModeDevice == 0 {
		return "", fmt.Errorf("invalid device: %s", source)
	}
	return resolved, nil
}
