package imount

import (
	"context"
	"os/exec"

	log "github.com/sirupsen/logrus"
)

// Dependency describes a single external prerequisite: a command on PATH,
// or (best-effort, since this is Go rather than Python) a named capability
// that some component probes for in its own way.
type Dependency struct {
	Name    string
	Command string // empty if this dependency is not a bare command
	Purpose string

	// Probe overrides command-existence checking for dependencies that
	// need more than "is this on PATH", e.g. checking a kernel module is
	// loaded. If nil, Command is checked with exec.LookPath.
	Probe func(ctx context.Context) bool
}

// Status is the resolved availability of a Dependency at a point in time.
type Status struct {
	Dependency
	Available bool
}

// Section groups related dependencies the way the original groups
// "base", "volume system", "filesystem", and "container" dependencies
// into separate reportable sections.
type Section struct {
	Title        string
	Dependencies []Dependency
}

// Registry resolves dependency availability and reports it in sections,
// mirroring dependencies.py's DependencySection/ALL_SECTIONS.
type Registry struct {
	Sections []Section
}

// NewRegistry returns a Registry pre-populated with every dependency the
// rest of this module's components can make use of.
func NewRegistry() *Registry {
	return &Registry{Sections: []Section{
		{
			Title: "base",
			Dependencies: []Dependency{
				{Name: "xmount", Command: "xmount", Purpose: "mount EWF/AFF/dd/vmdk/vhd images read-write via a qcow2 cache"},
				{Name: "ewfmount", Command: "ewfmount", Purpose: "mount EWF (E01) images"},
				{Name: "affuse", Command: "affuse", Purpose: "mount AFF images"},
				{Name: "vmware-mount", Command: "vmware-mount", Purpose: "mount VMware disk images"},
				{Name: "mountavfs", Command: "mountavfs", Purpose: "mount compressed images through avfs"},
				{Name: "qemu-nbd", Command: "qemu-nbd", Purpose: "mount qcow2 images via a network block device"},
				{Name: "disktype", Command: "disktype", Purpose: "enrich volumes with GUID/label metadata"},
			},
		},
		{
			Title: "volume system",
			Dependencies: []Dependency{
				{Name: "mmls", Command: "mmls", Purpose: "list partitions via the sleuthkit"},
				{Name: "pytsk3", Purpose: "list partitions via the sleuthkit Go/Python bindings", Probe: probeNever},
				{Name: "parted", Command: "parted", Purpose: "list partitions via GNU parted"},
				{Name: "vshadowinfo", Command: "vshadowinfo", Purpose: "enumerate volume shadow copy stores"},
				{Name: "lvdisplay", Command: "lvdisplay", Purpose: "enumerate logical volumes"},
			},
		},
		{
			Title: "filesystem",
			Dependencies: []Dependency{
				{Name: "fsstat", Command: "fsstat", Purpose: "derive filesystem label/last-mountpoint via the sleuthkit"},
				{Name: "file", Command: "file", Purpose: "identify filesystem type from magic bytes"},
				{Name: "blkid", Command: "blkid", Purpose: "identify filesystem type from superblock metadata"},
				{Name: "mount.xfs", Command: "mount.xfs", Purpose: "mount xfs filesystems"},
				{Name: "mount.ntfs-3g", Command: "ntfs-3g", Purpose: "mount ntfs filesystems"},
				{Name: "mount.vmfs", Command: "vmfs-fuse", Purpose: "mount VMFS filesystems"},
				{Name: "mount.jffs2", Command: "mtd-fuse", Purpose: "mount JFFS2 filesystems"},
				{Name: "mount.squashfs", Command: "squashfuse", Purpose: "mount SquashFS filesystems"},
				{Name: "photorec", Command: "photorec", Purpose: "carve files from unallocated or whole-volume data"},
			},
		},
		{
			Title: "container",
			Dependencies: []Dependency{
				{Name: "cryptsetup", Command: "cryptsetup", Purpose: "unlock LUKS containers"},
				{Name: "bdemount", Command: "bdemount", Purpose: "unlock BitLocker (BDE) containers"},
				{Name: "lvm", Command: "lvm", Purpose: "activate LVM volume groups"},
				{Name: "mdadm", Command: "mdadm", Purpose: "incorporate RAID members"},
				{Name: "vshadowmount", Command: "vshadowmount", Purpose: "mount volume shadow copy stores"},
				{Name: "losetup", Command: "losetup", Purpose: "attach loopback devices"},
			},
		},
	}}
}

func probeNever(ctx context.Context) bool { return false }

// Resolve returns a copy of the registry's section list; it does not probe
// availability (Report does).
func (r *Registry) Resolve(ctx context.Context) []Section {
	out := make([]Section, len(r.Sections))
	for i, s := range r.Sections {
		out[i] = s
	}
	return out
}

// Report computes a Status per dependency, grouped by section, and logs a
// summary at debug level the way dependencies.py's CLI report does.
func (r *Registry) Report(ctx context.Context) map[string][]Status {
	report := make(map[string][]Status, len(r.Sections))
	for _, section := range r.Sections {
		statuses := make([]Status, 0, len(section.Dependencies))
		for _, dep := range section.Dependencies {
			statuses = append(statuses, Status{Dependency: dep, Available: r.available(ctx, dep)})
		}
		report[section.Title] = statuses
		log.WithField("section", section.Title).Debug("dependency section resolved")
	}
	return report
}

func (r *Registry) available(ctx context.Context, dep Dependency) bool {
	if dep.Probe != nil {
		return dep.Probe(ctx)
	}
	if dep.Command == "" {
		return false
	}
	_, err := exec.LookPath(dep.Command)
	return err == nil
}

// Available reports whether name resolves to an available dependency,
// without the error Require returns — used by auto-detection chains that
// want to silently try the next tool rather than fail.
func (r *Registry) Available(ctx context.Context, name string) bool {
	for _, section := range r.Sections {
		for _, dep := range section.Dependencies {
			if dep.Name == name {
				return r.available(ctx, dep)
			}
		}
	}
	return false
}

// Require returns PrerequisiteFailedError if name is not available in any
// section, otherwise nil. Components call this before attempting an
// operation that needs a specific external tool.
func (r *Registry) Require(ctx context.Context, name string) error {
	for _, section := range r.Sections {
		for _, dep := range section.Dependencies {
			if dep.Name == name {
				if r.available(ctx, dep) {
					return nil
				}
				return PrerequisiteFailedError("required dependency unavailable: " + name)
			}
		}
	}
	return PrerequisiteFailedError("unknown dependency: " + name)
}

// warnOnFailure logs err as a warning and returns true if err is non-nil,
// the guard the spec calls "none_on_failure" for optional-enrichment steps
// like disktype or fsstat where a missing tool should degrade gracefully
// rather than abort the whole mount pipeline.
func warnOnFailure(step string, err error) bool {
	if err == nil {
		return false
	}
	log.WithField("step", step).WithError(err).Warn("optional enrichment step failed, continuing without it")
	return true
}
