package imount

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
)

// BlockSize is the default sector size assumed when a disk's own block
// size is not overridden, mirroring the original's BLOCK_SIZE constant.
const BlockSize = 512

// Disk represents a single (possibly split-segment) base image: an E01
// set, a raw dd image, a VMDK, or a qcow2 file, and the mount method used
// to expose its bytes as a regular file for the volume system to read.
type Disk struct {
	Index     string
	Paths     []string
	Offset    int64
	Block     int64
	ReadWrite bool
	Mounter   string // "auto" or a forced method name

	rwCachePath string
	mountpoint  string
	nbdDevice   string
	avfsDir     string
	wasMounted  bool
	isMounted   bool

	volumes *VolumeSystem
	reg     *Registry
	run     Runner
	caseTag string

	// fsTypes/keys are carried over from the owning Parser's Config so
	// Init can resolve a forced filesystem type or unlock key for each
	// volume by index without reaching back up to the Parser.
	fsTypes map[string]string
	keys    map[string]string
}

// NewDisk constructs a Disk from one or more segment paths (as returned
// by ExpandPath). vstype/volumeDetector configure the VolumeSystem that
// will later enumerate this disk's volumes.
func NewDisk(index string, paths []string, offset int64, readWrite bool, mounter, vstype, volumeDetector string, reg *Registry, r Runner) *Disk {
	if mounter == "" {
		mounter = "auto"
	}
	if r == nil {
		r = NewRunner()
	}
	d := &Disk{
		Index:     index,
		Paths:     paths,
		Offset:    offset,
		Block:     BlockSize,
		ReadWrite: readWrite,
		Mounter:   mounter,
		reg:       reg,
		run:       r,
	}
	root := NewVolume(d, index, offset, 0, "alloc")
	d.volumes = NewVolumeSystem(root, vstype, volumeDetector)
	return d
}

func (d *Disk) rawPath() string     { return d.rawPathWithOverride() }
func (d *Disk) readWrite() bool     { return d.ReadWrite }
func (d *Disk) runner() Runner      { return d.run }
func (d *Disk) registry() *Registry { return d.reg }
func (d *Disk) blockSize() int64    { return d.Block }
func (d *Disk) parserVolumes() []*Volume { return d.GetVolumes() }

// estimatedSize sums the on-disk size of every segment, used as a rough
// lower bound on how much scratch space a read-write cache needs.
func (d *Disk) estimatedSize() int64 {
	var total int64
	for _, p := range d.Paths {
		if fi, err := os.Stat(p); err == nil {
			total += fi.Size()
		}
	}
	return total
}

// diskType classifies the first segment by extension, mirroring
// disk.py's get_disk_type.
func (d *Disk) diskType() string {
	switch {
	case IsEncase(d.Paths[0]):
		return "encase"
	case IsVmware(d.Paths[0]):
		return "vmdk"
	case IsCompressed(d.Paths[0]):
		return "compressed"
	case IsQcow2(d.Paths[0]):
		return "qcow2"
	default:
		return "dd"
	}
}

// mountMethods lists the candidate mount methods to try in order,
// mirroring disk.py's _get_mount_methods.
func (d *Disk) mountMethods(ctx context.Context, diskType string) []string {
	if d.Mounter != "auto" {
		return []string{d.Mounter}
	}

	var methods []string
	add := func(name string) {
		if d.reg.Available(ctx, name) {
			methods = append(methods, name)
		}
	}

	if d.ReadWrite {
		add("xmount")
		return methods
	}

	switch diskType {
	case "encase":
		add("ewfmount")
	case "vmdk":
		add("vmware-mount")
		add("affuse")
	case "dd":
		add("affuse")
	case "compressed":
		add("mountavfs")
	case "qcow2":
		add("qemu-nbd")
	}
	add("xmount")
	return methods
}

// Mount mounts the base image segments at a fresh temporary directory
// using the first mount method that succeeds, mirroring disk.py's mount.
func (d *Disk) Mount(ctx context.Context) error {
	prefix := "image_mounter_"
	if d.caseTag != "" {
		prefix += "*_" + d.caseTag
	}
	dir, err := ioutil.TempDir("", prefix)
	if err != nil {
		return MountFailedError("could not create disk mountpoint", err)
	}
	d.mountpoint = dir

	if d.ReadWrite {
		if free, err := availableBytes(os.TempDir()); err == nil && free < d.estimatedSize() {
			log.WithFields(log.Fields{"available": free, "needed": d.estimatedSize()}).
				Warn("temp filesystem may not have enough free space for the read-write cache")
		}

		f, err := ioutil.TempFile("", "image_mounter_rw_cache_")
		if err != nil {
			return MountFailedError("could not create read-write cache file", err)
		}
		d.rwCachePath = f.Name()
		_ = f.Close()
	}

	diskType := d.diskType()
	for _, method := range d.mountMethods(ctx, diskType) {
		switch method {
		case "mountavfs":
			if err := d.mountAvfs(ctx); err != nil {
				log.WithError(err).Warn("avfs mount failed")
				continue
			}
			d.Mounter = method
			d.wasMounted, d.isMounted = true, true
			return nil

		case "dummy":
			_ = os.Remove(d.mountpoint)
			d.mountpoint = ""
			d.Mounter = method
			d.wasMounted, d.isMounted = true, true
			return nil

		case "xmount":
			args := []string{"--in", "dd"}
			if diskType == "encase" {
				args = []string{"--in", "ewf"}
			}
			if d.ReadWrite {
				args = append(args, "--rw", d.rwCachePath)
			}
			args = append(args, d.Paths...)
			args = append(args, d.mountpoint)
			if d.tryMount(ctx, "xmount", args) {
				return nil
			}

		case "affuse":
			if d.tryMount(ctx, "affuse", []string{"-o", "allow_other", d.Paths[0], d.mountpoint}) {
				return nil
			}
			if d.tryMount(ctx, "affuse", []string{d.Paths[0], d.mountpoint}) {
				return nil
			}

		case "ewfmount":
			if d.tryMount(ctx, "ewfmount", []string{"-X", "allow_other", d.Paths[0], d.mountpoint}) {
				return nil
			}
			if d.tryMount(ctx, "ewfmount", []string{d.Paths[0], d.mountpoint}) {
				return nil
			}

		case "vmware-mount":
			if d.tryMount(ctx, "vmware-mount", []string{"-r", "-f", d.Paths[0], d.mountpoint}) {
				return nil
			}

		case "qemu-nbd":
			if _, err := d.run.Run(ctx, "modprobe", "nbd", "max_part=63"); err != nil {
				log.WithError(err).Warn("modprobe nbd failed, continuing")
			}
			dev, err := FreeNetworkBlockDevice()
			if err != nil {
				log.WithError(err).Warn("no free network block device found")
				continue
			}
			d.nbdDevice = dev
			if d.tryMount(ctx, "qemu-nbd", []string{"--read-only", "-c", dev, d.Paths[0]}) {
				return nil
			}
			d.nbdDevice = ""
		}
	}

	log.WithField("path", d.Paths[0]).Error("unable to mount base image with any available method")
	_ = os.Remove(d.mountpoint)
	d.mountpoint = ""
	return MountFailedError("unable to mount base image "+d.Paths[0], nil)
}

func (d *Disk) tryMount(ctx context.Context, name string, args []string) bool {
	if _, err := d.run.Run(ctx, name, args...); err != nil {
		log.WithField("cmd", name).WithError(err).Warn("could not mount base image, trying other method")
		return false
	}
	time.Sleep(100 * time.Millisecond)

	if d.rawPath() == "" {
		log.Warn("mount command exited 0 but no raw path appeared")
		return false
	}
	d.Mounter = name
	d.wasMounted, d.isMounted = true, true
	return true
}

func (d *Disk) mountAvfs(ctx context.Context) error {
	dir, err := ioutil.TempDir("", "image_mounter_avfs_")
	if err != nil {
		return err
	}
	d.avfsDir = dir
	if _, err := d.run.Run(ctx, "mountavfs", dir, "-o", "allow_other"); err != nil {
		return err
	}
	abs, err := filepath.Abs(d.Paths[0])
	if err != nil {
		return err
	}
	target := filepath.Join(d.mountpoint, "avfs")
	if err := os.Symlink(filepath.Join(dir, abs)+"#", target); err != nil {
		return err
	}
	if d.rawPath() == "" {
		return MountpointEmptyError("avfs mount produced no raw path")
	}
	return nil
}

// rawPathWithOverride glob-searches the mount directory for the single
// raw/dd/iso/dmg/ewf1 file xmount et al. expose, mirroring disk.py's
// get_raw_path.
func (d *Disk) rawPathWithOverride() string {
	if d.Mounter == "dummy" {
		return d.Paths[0]
	}

	var searchDirs []string
	if d.Mounter == "mountavfs" {
		if fi, err := os.Stat(filepath.Join(d.mountpoint, "avfs")); err == nil && fi.IsDir() {
			searchDirs = []string{filepath.Join(d.mountpoint, "avfs"), d.mountpoint}
		}
	}
	if searchDirs == nil {
		searchDirs = []string{d.mountpoint}
	}

	var candidates []string
	if d.nbdDevice != "" {
		candidates = append(candidates, d.nbdDevice)
	}
	patterns := []string{"*.dd", "*.iso", "*.raw", "*.dmg", "ewf1", "flat", "avfs"}
	for _, dir := range searchDirs {
		for _, pattern := range patterns {
			matches, _ := filepath.Glob(filepath.Join(dir, pattern))
			candidates = append(candidates, matches...)
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	return candidates[0]
}

// GetRawPath is the exported accessor for rawPathWithOverride, used by
// callers outside the volumeParent interface (e.g. the CLI, the sweeper).
func (d *Disk) GetRawPath() string { return d.rawPathWithOverride() }

// GetFsPath returns the path the filesystem layer should treat as this
// disk's backing device, which is always its raw path.
func (d *Disk) GetFsPath() string { return d.GetRawPath() }

// DetectVolumes runs the configured VolumeSystem against this disk,
// falling back to a single whole-disk volume if no table was found,
// mirroring disk.py's detect_volumes(single=None) default behavior.
func (d *Disk) DetectVolumes(ctx context.Context, single *bool) error {
	if len(d.volumes.Volumes) > 0 {
		return nil
	}
	if single != nil && *single {
		return d.volumes.DetectVolumes(ctx, "single")
	}

	err := d.volumes.DetectVolumes(ctx, "")
	if err == nil && len(d.volumes.Volumes) > 0 {
		return nil
	}
	if err != nil {
		log.WithError(err).Info("volume system detection failed, falling back to single volume")
	}
	if single == nil {
		d.volumes.volumeDetector = "single"
		return d.volumes.DetectVolumes(ctx, "single")
	}
	return err
}

// Init mounts the disk, detects its volumes and mounts every top-level
// volume that ShouldMount accepts, mirroring disk.py's init()/init_volumes().
// Subvolumes that a container filesystem's Mount produces are appended to
// their parent's Volumes but are not themselves mounted by Init.
func (d *Disk) Init(ctx context.Context, single *bool, onlyMount, skipMount []string) ([]*Volume, []error) {
	if err := d.Mount(ctx); err != nil {
		return nil, []error{err}
	}
	if err := d.DetectVolumes(ctx, single); err != nil {
		return nil, []error{err}
	}

	var mounted []*Volume
	var errs []error
	for _, v := range d.volumes.Volumes {
		if !v.ShouldMount(onlyMount, skipMount) {
			continue
		}
		if err := d.prepareVolume(ctx, v); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := v.Mount(ctx); err != nil {
			if isSmallVolume(v) {
				log.WithField("volume", v.Index).WithError(err).Warn("small volume failed to mount, not treating as an error")
				continue
			}
			errs = append(errs, err)
			continue
		}
		mounted = append(mounted, v)
	}
	return mounted, errs
}

// prepareVolume resolves v's forced filesystem type (or runs detection)
// and attaches any configured unlock key before Mount is called.
func (d *Disk) prepareVolume(ctx context.Context, v *Volume) error {
	if raw, ok := d.keys[v.Index]; ok {
		key, err := ParseKey(raw)
		if err != nil {
			return err
		}
		v.Key = &key
	}

	forced, fallback := ResolveFSType(d.fsTypes, v.Index)
	return v.DetectFileSystemType(ctx, forced, fallback)
}

// GetVolumes flattens every volume owned by this disk, including nested
// subvolumes, mirroring disk.py's get_volumes.
func (d *Disk) GetVolumes() []*Volume {
	var out []*Volume
	var walk func([]*Volume)
	walk = func(vols []*Volume) {
		for _, v := range vols {
			out = append(out, v)
			walk(v.Volumes)
		}
	}
	walk(d.volumes.Volumes)
	return out
}

// RwActive reports whether anything has actually been written to the
// read-write cache file.
func (d *Disk) RwActive() bool {
	if d.rwCachePath == "" {
		return false
	}
	fi, err := os.Stat(d.rwCachePath)
	return err == nil && fi.Size() > 0
}

// Unmount tears down every volume, then the base image mount itself, in
// the reverse order disk.py's unmount() uses (deepest mountpoint first).
func (d *Disk) Unmount(ctx context.Context, removeRW, allowLazy bool) error {
	vols := append([]*Volume{}, d.volumes.Volumes...)
	sort.Slice(vols, func(i, j int) bool { return vols[i].Mountpoint > vols[j].Mountpoint })
	for _, v := range vols {
		if err := v.Unmount(ctx, allowLazy); err != nil {
			log.WithField("mountpoint", v.Mountpoint).WithError(err).Warn("error unmounting volume")
		}
	}

	if d.nbdDevice != "" {
		_ = CleanUnmount(ctx, d.run, []string{"qemu-nbd", "-d", d.nbdDevice}, d.nbdDevice, 5, false)
		d.nbdDevice = ""
	}

	if d.mountpoint != "" {
		cmd := []string{"fusermount", "-u", d.mountpoint}
		if err := CleanUnmount(ctx, d.run, cmd, d.mountpoint, 5, true); err != nil {
			if !allowLazy {
				return err
			}
			if err := CleanUnmount(ctx, d.run, []string{"fusermount", "-uz", d.mountpoint}, d.mountpoint, 5, true); err != nil {
				return err
			}
		}
		d.mountpoint = ""
	}

	if d.avfsDir != "" {
		cmd := []string{"fusermount", "-u", d.avfsDir}
		if err := CleanUnmount(ctx, d.run, cmd, d.avfsDir, 5, true); err != nil {
			if !allowLazy {
				return err
			}
			if err := CleanUnmount(ctx, d.run, []string{"fusermount", "-uz", d.avfsDir}, d.avfsDir, 5, true); err != nil {
				return err
			}
		}
		d.avfsDir = ""
	}

	if removeRW && d.RwActive() {
		_ = os.Remove(d.rwCachePath)
	}
	d.isMounted = false
	return nil
}
