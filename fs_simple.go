package imount

import "strings"

// This file defines every plain (non-container) mountable filesystem
// type: a thin mountFileSystem value per type, carrying the mount(8)
// options the original hard-codes per type, plus the handful of
// detect() cross-effects the original applies between related types
// (NTFS vs FAT/exFAT, UFS vs a generic volume system, FAT vs a generic
// volume system on "DOS FAT").

func extFileSystem() mountFileSystem {
	return mountFileSystem{
		fsType:    "ext",
		aliases:   []string{"ext1", "ext2", "ext3", "ext4"},
		mountType: "ext4",
		mountOpts: "noexec,noload",
	}
}

type ufsFileSystem struct{ mountFileSystem }

func newUfsFileSystem() ufsFileSystem {
	return ufsFileSystem{mountFileSystem{
		fsType:    "ufs",
		aliases:   []string{"4.2bsd", "ufs2", "ufs 2"},
		mountOpts: "ufstype=ufs2",
	}}
}

func (u ufsFileSystem) Detect(source, description string) map[string]int {
	res := u.mountFileSystem.Detect(source, description)
	if containsAll(description, "BSD") && !containsAll(description, "4.2BSD") && !containsAll(description, "UFS") {
		if res == nil {
			res = map[string]int{}
		}
		res["ufs"] = -20
		res["volumesystem"] = 20
	}
	return res
}

type ntfsFileSystem struct{ mountFileSystem }

func newNtfsFileSystem() ntfsFileSystem {
	return ntfsFileSystem{mountFileSystem{
		fsType:    "ntfs",
		mountOpts: "show_sys_files,noexec,force,streams_interface=windows",
	}}
}

func (n ntfsFileSystem) Detect(source, description string) map[string]int {
	res := n.mountFileSystem.Detect(source, description)
	if containsAll(description, "FAT") && containsAll(description, "NTFS") {
		if res == nil {
			res = map[string]int{}
		}
		res["ntfs"] = 40
		res["fat"] = -50
		res["exfat"] = -50
	}
	return res
}

func exfatFileSystem() mountFileSystem {
	return mountFileSystem{fsType: "exfat", mountOpts: "noexec,force"}
}

func xfsFileSystem() mountFileSystem {
	return mountFileSystem{fsType: "xfs", mountOpts: "norecovery"}
}

func hfsFileSystem() mountFileSystem {
	return mountFileSystem{fsType: "hfs"}
}

type hfsPlusFileSystem struct{ mountFileSystem }

func newHfsPlusFileSystem() hfsPlusFileSystem {
	return hfsPlusFileSystem{mountFileSystem{
		fsType:    "hfs+",
		aliases:   []string{"hfsplus"},
		mountType: "hfsplus",
		mountOpts: "force",
	}}
}

// Detect gives HFS+ priority over plain HFS when both tokens appear in
// the same evidence string, mirroring ntfsFileSystem.Detect's NTFS/FAT
// handling.
func (h hfsPlusFileSystem) Detect(source, description string) map[string]int {
	res := h.mountFileSystem.Detect(source, description)
	if containsAll(description, "HFS+") && containsAll(description, "HFS") {
		if res == nil {
			res = map[string]int{}
		}
		res["hfs+"] = 90
		res["hfs"] = -50
	}
	return res
}

func isoFileSystem() mountFileSystem {
	return mountFileSystem{fsType: "iso", aliases: []string{"iso 9660", "iso9660"}, mountType: "iso9660"}
}

type fatFileSystem struct{ mountFileSystem }

func newFatFileSystem() fatFileSystem {
	return fatFileSystem{mountFileSystem{
		fsType:    "fat",
		aliases:   []string{"efi system partition", "vfat", "fat12", "fat16"},
		mountType: "vfat",
	}}
}

func (fs fatFileSystem) Detect(source, description string) map[string]int {
	res := fs.mountFileSystem.Detect(source, description)
	if containsAll(description, "DOS FAT") {
		if res == nil {
			res = map[string]int{}
		}
		res["volumesystem"] = -50
	}
	return res
}

func udfFileSystem() mountFileSystem {
	return mountFileSystem{fsType: "udf"}
}

func squashfsFileSystem() mountFileSystem {
	return mountFileSystem{fsType: "squashfs"}
}

func cramfsFileSystem() mountFileSystem {
	return mountFileSystem{fsType: "cramfs", aliases: []string{"linux compressed rom file system"}}
}

func minixFileSystem() mountFileSystem {
	return mountFileSystem{fsType: "minix"}
}

// containsAll reports whether needle appears in description, matching the
// original's plain (case-insensitive) substring checks used for these
// specific cross-effect rules.
func containsAll(description, needle string) bool {
	return strings.Contains(strings.ToUpper(description), strings.ToUpper(needle))
}

// allFileSystems is the registry the classifier consults for detect()
// scoring and the Volume state machine consults to construct a concrete
// FileSystem once a type name has been chosen.
func allFileSystems() map[string]func() FileSystem {
	return map[string]func() FileSystem{
		"ext":          func() FileSystem { return extFileSystem() },
		"ufs":          func() FileSystem { return newUfsFileSystem() },
		"ntfs":         func() FileSystem { return newNtfsFileSystem() },
		"exfat":        func() FileSystem { return exfatFileSystem() },
		"xfs":          func() FileSystem { return xfsFileSystem() },
		"hfs":          func() FileSystem { return hfsFileSystem() },
		"hfs+":         func() FileSystem { return newHfsPlusFileSystem() },
		"iso":          func() FileSystem { return isoFileSystem() },
		"fat":          func() FileSystem { return newFatFileSystem() },
		"udf":          func() FileSystem { return udfFileSystem() },
		"squashfs":     func() FileSystem { return squashfsFileSystem() },
		"cramfs":       func() FileSystem { return cramfsFileSystem() },
		"minix":        func() FileSystem { return minixFileSystem() },
		"vmfs":         func() FileSystem { return newVmfsFileSystem() },
		"jffs2":        func() FileSystem { return jffs2FileSystem{} },
		"luks":         func() FileSystem { return &luksFileSystem{} },
		"bde":          func() FileSystem { return &bdeFileSystem{} },
		"lvm":          func() FileSystem { return &lvmFileSystem{} },
		"raid":         func() FileSystem { return &raidFileSystem{} },
		"vss":          func() FileSystem { return vssFileSystem{} },
		"volumesystem": func() FileSystem { return volumeSystemFileSystem{} },
		"dir":          func() FileSystem { return directoryFileSystem{} },
		"unknown":      func() FileSystem { return unknownFileSystem{} },
		"swap":         func() FileSystem { return unsupportedFileSystem{fsType: "swap"} },
	}
}

// detectors lists every Detector the classifier scores evidence against,
// in no particular order (scores are summed regardless of order).
func detectors() []Detector {
	d := newUfsFileSystem()
	n := newNtfsFileSystem()
	f := newFatFileSystem()
	return []Detector{
		extFileSystem(),
		d,
		n,
		exfatFileSystem(),
		xfsFileSystem(),
		hfsFileSystem(),
		newHfsPlusFileSystem(),
		isoFileSystem(),
		f,
		udfFileSystem(),
		squashfsFileSystem(),
		cramfsFileSystem(),
		minixFileSystem(),
		newVmfsFileSystem(),
		jffs2FileSystem{},
		&luksFileSystem{},
		&bdeFileSystem{},
		&lvmFileSystem{},
		&raidFileSystem{},
		volumeSystemFileSystem{},
	}
}
