package imount

import (
	"context"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Config holds every Parser-wide option that individual disks/volumes
// consult by index: forced filesystem/volume-system types, unlock key
// material, and mountpoint-naming preferences. Mirrors ImageParser's
// constructor keyword arguments.
type Config struct {
	CaseName      string
	ReadWrite     bool
	DiskMounter   string
	VolumeDetector string
	Pretty        bool
	MountDir      string

	// FSTypes maps a volume index (or "*"/"?") to a forced filesystem
	// type, per ResolveFSType's semantics.
	FSTypes map[string]string
	// VSTypes maps a disk/volume index to a forced volume-system type.
	VSTypes map[string]string
	// Keys maps a volume index to unlock key material in "scheme:value"
	// form, applied before that volume is mounted.
	Keys map[string]string
}

// Parser is the root object orchestrating every Disk added to it,
// mirroring ImageParser.
type Parser struct {
	Config Config
	Disks  []*Disk

	reg *Registry
	run Runner
}

// NewParser returns an empty Parser ready to receive disks via AddDisk.
func NewParser(cfg Config) *Parser {
	if cfg.FSTypes == nil {
		cfg.FSTypes = map[string]string{"?": "unknown"}
	}
	if cfg.VSTypes == nil {
		cfg.VSTypes = map[string]string{}
	}
	if cfg.Keys == nil {
		cfg.Keys = map[string]string{}
	}
	return &Parser{Config: cfg, reg: NewRegistry(), run: NewRunner()}
}

// AddDisk expands path into its segment list and appends a new Disk.
// forceIndex mirrors add_disk's force_disk_indexes: the first disk added
// to a Parser may go without an index only if no later disk is ever
// added, matching DiskIndexError's original enforcement.
func (p *Parser) AddDisk(path string, forceIndex bool) (*Disk, error) {
	if len(p.Disks) > 0 && p.Disks[0].Index == "" {
		return nil, DiskIndexError("first disk has no index")
	}

	var index string
	if forceIndex || len(p.Disks) > 0 {
		index = strconv.Itoa(len(p.Disks) + 1)
	}

	segments := ExpandPath(path)
	vstype := p.Config.VSTypes[index]
	if vstype == "" {
		vstype = p.Config.VSTypes["*"]
	}

	disk := NewDisk(index, segments, 0, p.Config.ReadWrite, p.Config.DiskMounter, vstype, p.Config.VolumeDetector, p.reg, p.run)
	disk.caseTag = p.Config.CaseName
	disk.fsTypes = p.Config.FSTypes
	disk.keys = p.Config.Keys
	p.Disks = append(p.Disks, disk)
	return disk, nil
}

// Init mounts every disk and every volume found on it, applying forced
// filesystem types and key material from Config as each volume is
// reached, mirroring ImageParser.init (fused with Disk.init / Volume.init
// since Go has no generator delegation).
func (p *Parser) Init(ctx context.Context, single *bool, onlyMount, skipMount []string) ([]*Volume, []error) {
	var mounted []*Volume
	var errs []error
	for _, d := range p.Disks {
		log.WithField("disk", d.Index).Info("mounting disk")
		m, e := d.Init(ctx, single, onlyMount, skipMount)
		mounted = append(mounted, m...)
		errs = append(errs, e...)
	}
	return mounted, errs
}

// MountDisks mounts every disk's base image without touching volumes,
// mirroring ImageParser.mount_disks. Returns false if any disk failed.
func (p *Parser) MountDisks(ctx context.Context) bool {
	ok := true
	for _, d := range p.Disks {
		if err := d.Mount(ctx); err != nil {
			log.WithField("disk", d.Index).WithError(err).Error("failed to mount disk")
			ok = false
		}
	}
	return ok
}

// RwActive reports whether any disk's read-write cache has been written
// to.
func (p *Parser) RwActive() bool {
	for _, d := range p.Disks {
		if d.RwActive() {
			return true
		}
	}
	return false
}

// InitVolumes detects and mounts volumes on every already-mounted disk,
// mirroring ImageParser.init_volumes.
func (p *Parser) InitVolumes(ctx context.Context, single *bool, onlyMount []string) ([]*Volume, []error) {
	var mounted []*Volume
	var errs []error
	for _, d := range p.Disks {
		log.WithField("disk", d.Index).Info("mounting volumes in disk")
		if err := d.DetectVolumes(ctx, single); err != nil {
			errs = append(errs, err)
			continue
		}
		for _, v := range d.volumes.Volumes {
			if !v.ShouldMount(onlyMount, nil) {
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
	}
	return mounted, errs
}

// GetByIndex returns the Disk or Volume with the given dotted index,
// mirroring ImageParser.get_by_index.
func (p *Parser) GetByIndex(index string) interface{} {
	for _, d := range p.Disks {
		if d.Index == index {
			return d
		}
	}
	for _, v := range p.GetVolumes() {
		if v.Index == index {
			return v
		}
	}
	return nil
}

// GetVolumes concatenates every volume (including nested subvolumes)
// across every disk.
func (p *Parser) GetVolumes() []*Volume {
	var out []*Volume
	for _, d := range p.Disks {
		out = append(out, d.GetVolumes()...)
	}
	return out
}

// Clean unmounts every volume across every disk (deepest mountpoint
// first, swallowing individual volume errors), then unmounts every
// disk's base image, mirroring ImageParser.clean.
func (p *Parser) Clean(ctx context.Context, removeRW bool) error {
	volumes := p.GetVolumes()
	sort.Slice(volumes, func(i, j int) bool { return volumes[i].Mountpoint > volumes[j].Mountpoint })
	for _, v := range volumes {
		if err := v.Unmount(ctx, false); err != nil {
			log.WithField("mountpoint", v.Mountpoint).WithError(err).Error("error unmounting volume")
		}
	}

	for _, d := range p.Disks {
		if err := d.Unmount(ctx, removeRW, false); err != nil {
			return err
		}
	}
	return nil
}

// Reconstruct bind-mounts every mounted volume onto the filesystem tree
// implied by its detected last mountpoint, starting from whichever
// volume's last mountpoint is "/", mirroring ImageParser.reconstruct.
func (p *Parser) Reconstruct(ctx context.Context) (*Volume, error) {
	var candidates []*Volume
	for _, v := range p.GetVolumes() {
		if v.Mountpoint != "" && v.Info["lastmountpoint"] != "" {
			candidates = append(candidates, v)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Mountpoint > candidates[j].Mountpoint })

	var root *Volume
	var rest []*Volume
	for _, v := range candidates {
		if v.Info["lastmountpoint"] == "/" && root == nil {
			root = v
			continue
		}
		rest = append(rest, v)
	}
	if root == nil {
		log.Error("could not find / while reconstructing, aborting")
		return nil, NoRootFoundError()
	}

	for _, v := range rest {
		target := filepath.Join(root.Mountpoint, strings.TrimPrefix(v.Info["lastmountpoint"], "/"))
		if err := v.Bindmount(ctx, target); err != nil {
			return nil, err
		}
	}
	return root, nil
}
