package imount

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Key is unlocking material for a container filesystem, in the
// "<scheme>:<value>" textual format cryptsetup/bdemount themselves use.
// Scheme is one of p/f/m (LUKS: passphrase/keyfile/masterkeyfile) or
// k/p/r/s (BDE: full-volume-key/passphrase/recovery-password/startup-key).
type Key struct {
	Scheme string
	Value  string
}

// ParseKey parses "scheme:value" key material, mirroring the
// volume.key.split(':', 1) pattern used throughout filesystems.py.
func ParseKey(raw string) (Key, error) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 || parts[0] == "" {
		return Key{}, ArgumentError(fmt.Sprintf("invalid key material %q, expected scheme:value", raw))
	}
	return Key{Scheme: parts[0], Value: parts[1]}, nil
}

// String renders the key back to "<scheme>:<value>" form.
func (k Key) String() string { return k.Scheme + ":" + k.Value }

// Volume is a single node in a disk's volume tree: either a leaf with a
// mounted filesystem, or a container whose FileSystem.Mount produced a
// child Volume appended to Volumes.
type Volume struct {
	// Index is the dotted path from the owning Disk, e.g. "1.2" for the
	// second partition of the first disk, or "1.2.1" for a subvolume.
	Index string

	Offset int64
	Size   int64
	Flag   string // "alloc", "unalloc", "meta", "unknown"
	Slot   int

	FSType     FileSystem
	Info       map[string]string
	Key        *Key
	Mountpoint string

	Volumes []*Volume

	parent          volumeParent
	mountpoint      *Mountpoint
	overrideRawPath string
	loopback        *Loopback
}

// volumeParent is implemented by *Disk and *Volume so a Volume can reach
// its owning VolumeSystem/runner/registry without a raw pointer into a
// shared arena, per the "owned handle, not a cyclic pointer" guidance.
type volumeParent interface {
	rawPath() string
	readWrite() bool
	runner() Runner
	registry() *Registry
	blockSize() int64
	parserVolumes() []*Volume
}

// NewVolume constructs a Volume owned by parent.
func NewVolume(parent volumeParent, index string, offset, size int64, flag string) *Volume {
	return &Volume{
		Index:  index,
		Offset: offset,
		Size:   size,
		Flag:   flag,
		Info:   map[string]string{},
		parent: parent,
	}
}

func (v *Volume) rawPath() string     { return v.parent.rawPath() }
func (v *Volume) readWrite() bool     { return v.parent.readWrite() }
func (v *Volume) runner() Runner      { return v.parent.runner() }
func (v *Volume) registry() *Registry { return v.parent.registry() }
func (v *Volume) blockSize() int64    { return v.parent.blockSize() }

// parserVolumes flattens v's subvolume tree, mirroring Disk.GetVolumes so a
// Volume acting as a nested volume system's parent (LVM, a nested volume
// system, a VSS-exposed store) satisfies volumeParent just like *Disk does.
func (v *Volume) parserVolumes() []*Volume {
	var out []*Volume
	var walk func([]*Volume)
	walk = func(vols []*Volume) {
		for _, sub := range vols {
			out = append(out, sub)
			walk(sub.Volumes)
		}
	}
	walk(v.Volumes)
	return out
}

// GetRawPath resolves the path this volume's filesystem should be mounted
// from: an override set by a container unlock, else the owning disk's raw
// image path (offset/sizelimit select the right bytes at mount time).
func (v *Volume) GetRawPath() string {
	if v.overrideRawPath != "" {
		return v.overrideRawPath
	}
	return v.rawPath()
}

func (v *Volume) makeMountpoint() (*Mountpoint, error) {
	dir, err := ioutil.TempDir("", "im_"+sanitizeIndex(v.Index)+"_")
	if err != nil {
		return nil, MountFailedError("could not create mountpoint for volume "+v.Index, err)
	}
	mp, err := NewMountpoint(dir)
	if err != nil {
		return nil, err
	}
	v.mountpoint = mp
	return mp, nil
}

func (v *Volume) clearMountpoint() error {
	if v.mountpoint == nil {
		return nil
	}
	err := v.mountpoint.Remove()
	v.mountpoint = nil
	return err
}

func (v *Volume) unmountMountpoint(ctx context.Context, lazy bool) error {
	if v.Mountpoint == "" {
		return nil
	}
	if err := CleanUnmount(ctx, v.runner(), []string{"umount", v.Mountpoint}, v.Mountpoint, 5, true); err != nil {
		return err
	}
	v.Mountpoint = ""
	v.mountpoint = nil
	return nil
}

func sanitizeIndex(index string) string {
	return strings.ReplaceAll(index, "/", "_")
}

// Mount mounts this volume's filesystem through v.FSType, which must
// already be set (DetectFileSystemType sets it); a nil FSType is reported
// as an unsupported filesystem. If the filesystem is a container, the returned Volume is the unlocked
// subvolume and has already been appended to v.Volumes.
func (v *Volume) Mount(ctx context.Context) (*Volume, error) {
	if v.FSType == nil {
		return nil, UnsupportedFilesystemError("unknown")
	}
	child, err := v.FSType.Mount(ctx, v)
	if err != nil {
		return nil, err
	}
	if child != nil {
		v.Volumes = append(v.Volumes, child)
	}
	return child, nil
}

// Unmount releases this volume's filesystem and, if it is a container,
// recursively unmounts every subvolume first.
func (v *Volume) Unmount(ctx context.Context, lazy bool) error {
	for _, sub := range v.Volumes {
		if err := sub.Unmount(ctx, lazy); err != nil {
			return err
		}
	}
	if v.FSType == nil {
		return nil
	}
	return v.FSType.Unmount(ctx, v, lazy)
}

// Bindmount bind-mounts this volume's already-mounted filesystem onto
// target, used by Parser.Reconstruct to stitch a unified tree together.
func (v *Volume) Bindmount(ctx context.Context, target string) error {
	if v.Mountpoint == "" {
		return NotMountedError("volume " + v.Index + " is not mounted")
	}
	if err := os.MkdirAll(target, 0o750); err != nil {
		return MountFailedError("could not create bind target "+target, err)
	}
	if _, err := v.runner().Run(ctx, "mount", "--bind", v.Mountpoint, target); err != nil {
		return MountFailedError("bind mount of "+v.Mountpoint+" onto "+target+" failed", err)
	}
	return nil
}

// GetDescription renders a short human-readable summary of the volume,
// mirroring volume.py's get_description.
func (v *Volume) GetDescription() string {
	label := v.Info["label"]
	fsname := "unknown"
	if v.FSType != nil {
		fsname = v.FSType.Type()
	}
	desc := fmt.Sprintf("%s %s", v.Flag, fsname)
	if label != "" {
		desc += " (" + label + ")"
	}
	return strings.TrimSpace(desc)
}

// GetFormattedSize renders Size as a human-scaled string (KiB/MiB/...),
// mirroring volume.py's get_formatted_size.
func (v *Volume) GetFormattedSize() string {
	return formatBytes(v.Size)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// GetSafeLabel returns Info["label"] with filesystem-unsafe characters
// stripped, suitable for use in a pretty mountpoint name.
func (v *Volume) GetSafeLabel() string {
	label := v.Info["label"]
	if label == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range label {
		if r == '/' || r == '\\' || r == 0 {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// ShouldMount reports whether this volume matches an explicit mount
// allow/deny policy keyed by index, last mountpoint, or label, mirroring
// volume.py's _should_mount.
func (v *Volume) ShouldMount(onlyMount, skipMount []string) bool {
	if len(onlyMount) == 0 && len(skipMount) == 0 {
		return true
	}
	matches := func(list []string) bool {
		for _, m := range list {
			if m == v.Index || m == v.Info["lastmountpoint"] || m == v.Info["label"] {
				return true
			}
		}
		return false
	}
	if len(onlyMount) > 0 {
		return matches(onlyMount)
	}
	return !matches(skipMount)
}

// DetectMountpoint guesses the volume's original mountpoint from
// filesystem metadata collected during fsstat enrichment: an explicit
// last-mountpoint wins, then a label that looks like a path; otherwise it
// returns "".
func (v *Volume) DetectMountpoint() string {
	if lm := v.Info["lastmountpoint"]; lm != "" {
		return lm
	}
	if label := v.Info["label"]; strings.HasPrefix(label, "/") {
		return label
	}
	return ""
}

// Carve runs photorec against this volume, either over the whole volume
// or only its unallocated space, mirroring volume.py's carve() and
// filesystems.py's freespace/whole-volume distinction.
func (v *Volume) Carve(ctx context.Context, outDir string, freespace bool) error {
	if err := v.registry().Require(ctx, "photorec"); err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return MountFailedError("could not create carve output dir "+outDir, err)
	}
	args := []string{}
	if freespace {
		args = append(args, "/d", outDir, "/cmd", v.GetRawPath(), "freespace")
	} else {
		args = append(args, "/d", outDir, v.GetRawPath())
	}
	if _, err := v.runner().Run(ctx, "photorec", args...); err != nil {
		return SubsystemError(err)
	}
	return nil
}

// DetectFileSystemType gathers evidence (blkid, file magic, fsdescription
// already collected by a table-aware volume detector, GUID) and runs it
// through ClassifyFileSystem to choose and instantiate this volume's
// FileSystem, mirroring volume.py's determine_fs_type. forced, if
// non-empty, skips detection entirely (an explicit fstypes[index] or
// fstypes["*"] override); fallback names the type used if no evidence
// scored above zero.
func (v *Volume) DetectFileSystemType(ctx context.Context, forced, fallback string) error {
	if forced != "" {
		return v.setFileSystemType(forced, fallback)
	}

	var evidence []Evidence
	if desc := v.Info["fsdescription"]; desc != "" {
		evidence = append(evidence, Evidence{Source: "fsdescription", Description: desc})
	}
	if guid := v.Info["guid"]; guid != "" {
		evidence = append(evidence, Evidence{Source: "guid", Description: guid})
	}
	if out, err := v.runner().Run(ctx, "blkid", "-p", "-O", strconv.FormatInt(v.Offset, 10), v.GetRawPath()); err == nil {
		pairs := parseBlkidPairs(out)
		t := pairs["TYPE"]
		if t == "" {
			t = pairs["PTTYPE"]
		}
		if t != "" {
			evidence = append(evidence, Evidence{Source: "blkid", Description: t})
		}
	}
	if magicPath, err := v.readMagicPrefix(); err == nil && magicPath != "" {
		if out, err := v.runner().Run(ctx, "file", "-s", "-L", magicPath); err == nil {
			if t := strings.TrimSpace(out); t != "" {
				evidence = append(evidence, Evidence{Source: "file", Description: t})
			}
		}
		_ = os.Remove(magicPath)
	}

	defaultType := fallback
	if defaultType == "" {
		defaultType = "unknown"
	}
	chosen := ClassifyFileSystem(evidence, defaultType)
	return v.setFileSystemType(chosen, fallback)
}

// blkidPairRe matches blkid -p's KEY="VALUE" output tokens.
var blkidPairRe = regexp.MustCompile(`(\w+)="([^"]*)"`)

// parseBlkidPairs parses a line of blkid -p output into its KEY="VALUE"
// pairs, e.g. `UUID="..." TYPE="ntfs" USAGE="filesystem"`.
func parseBlkidPairs(out string) map[string]string {
	pairs := map[string]string{}
	for _, m := range blkidPairRe.FindAllStringSubmatch(out, -1) {
		pairs[m[1]] = m[2]
	}
	return pairs
}

// readMagicPrefix copies up to 4096 bytes starting at v.Offset into a
// temp file so `file` can sniff this volume's own magic bytes rather than
// the whole backing image's. Returns "" if the volume has no bytes to
// sniff (v.Size <= 0); the caller removes the temp file once done.
func (v *Volume) readMagicPrefix() (string, error) {
	length := v.Size
	if length > 4096 {
		length = 4096
	}
	if length <= 0 {
		return "", nil
	}

	f, err := os.Open(v.GetRawPath())
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, length)
	n, err := f.ReadAt(buf, v.Offset)
	if err != nil && err != io.EOF {
		return "", err
	}
	if n <= 0 {
		return "", nil
	}

	tmp, err := ioutil.TempFile("", "imount_magic_")
	if err != nil {
		return "", err
	}
	defer tmp.Close()
	if _, err := tmp.Write(buf[:n]); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

func (v *Volume) setFileSystemType(name, fallback string) error {
	factory, ok := allFileSystems()[name]
	if !ok {
		if fallback == "" {
			return UnsupportedFilesystemError(name)
		}
		fsFactory, ok := allFileSystems()[fallback]
		if !ok {
			return UnsupportedFilesystemError(fallback)
		}
		v.FSType = fallbackFileSystem{FileSystem: fsFactory(), fallback: fallback}
		return nil
	}
	v.FSType = factory()
	return nil
}

// DetectSubvolumes runs the named volume-system detector (e.g. "lvm",
// "vss") against this volume and appends whatever it finds to v.Volumes,
// for container filesystems whose Mount only activates the container and
// leaves subvolume enumeration to a dedicated detector.
func (v *Volume) DetectSubvolumes(ctx context.Context, vstype string) error {
	vs := NewVolumeSystem(v, vstype, vstype)
	if err := vs.DetectVolumes(ctx, vstype); err != nil {
		return err
	}
	v.Volumes = append(v.Volumes, vs.Volumes...)
	return nil
}

// DetectVolumeShadowCopies is a convenience wrapper over the VSS container
// filesystem: it mounts this volume as VSS and returns every exposed
// shadow-copy subvolume.
func (v *Volume) DetectVolumeShadowCopies(ctx context.Context) ([]*Volume, error) {
	vss := vssFileSystem{}
	v.FSType = vss
	if _, err := v.Mount(ctx); err != nil {
		return nil, err
	}
	return v.Volumes, nil
}

