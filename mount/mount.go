// Copyright © 2026 The imount Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//      http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mount provides low-level helpers for reading the kernel mount
// table and invoking the mount(8)/umount(8) commands. It is the plumbing
// layer underneath the disk and filesystem mounters in the parent package;
// callers outside this module will rarely need anything beyond GetMounts
// and GetDevMounts.
package mount

import (
	"context"
	"errors"
)

// ErrNotImplemented reports an operation that the current platform does
// not support; no function in this package returns it.
var ErrNotImplemented = errors.New("mount: not implemented on this platform")

// Info describes a single mounted filesystem, flattened from an Entry for
// easy consumption.
type Info struct {
	// Device is the device (or other mount source) backing the mount.
	Device string

	// Path is the path the device is mounted at.
	Path string

	// Source holds the concatenation of the mountinfo "root" and "mount
	// source" fields; for bind mounts this is the path that was bound.
	Source string

	// Type is the filesystem type, e.g. "ntfs-3g", "ext4", "udf".
	Type string

	// Opts are the mount options the entry was created with.
	Opts []string
}

// Entry is a single parsed row of /proc/self/mountinfo, field names taken
// from proc(5)'s description of the mountinfo format.
type Entry struct {
	Root        string
	MountPoint  string
	MountOpts   []string
	FSType      string
	MountSource string
}

// EntryScanFunc lets a caller override how mountinfo Entry rows are turned
// into Info records, or veto a row entirely by returning ok=false. cache
// is keyed by device path and is shared across every row of a single scan,
// so a scan func can memoize expensive per-device lookups (e.g. resolving
// a symlink) across rows that reference the same device.
type EntryScanFunc func(ctx context.Context, entry Entry, cache map[string]Entry) (Info, bool, error)

// Mount mounts source onto target as fsType with the given options. source
// and fsType may be empty where the operation does not need them (remount,
// or filesystem auto-detection).
func Mount(ctx context.Context, source, target, fsType string, options ...string) error {
	return mount(ctx, source, target, fsType, options)
}

// BindMount bind-mounts source onto target, appending "bind" to options.
func BindMount(ctx context.Context, source, target string, options ...string) error {
	if options == nil {
		options = []string{"bind"}
	} else {
		options = append(options, "bind")
	}
	return mount(ctx, source, target, "", options)
}

// Unmount unmounts target. lazy requests a lazy (detach-when-idle) unmount.
func Unmount(ctx context.Context, target string, lazy bool) error {
	return unmount(ctx, target, lazy)
}

// GetMounts returns every entry in the kernel mount table.
func GetMounts(ctx context.Context) ([]Info, error) {
	return getMounts(ctx, nil)
}

// GetMountsWithEntryScanFunc is GetMounts with a caller-supplied scan func.
func GetMountsWithEntryScanFunc(ctx context.Context, scan EntryScanFunc) ([]Info, error) {
	return getMounts(ctx, scan)
}

// GetDevMounts returns every mount entry whose device matches dev.
func GetDevMounts(ctx context.Context, dev string) ([]Info, error) {
	all, err := getMounts(ctx, nil)
	if err != nil {
		return nil, err
	}
	var out []Info
	for _, m := range all {
		if m.Device == dev {
			out = append(out, m)
		}
	}
	return out, nil
}

// IsMounted reports whether target appears as a mount point in the kernel
// mount table.
func IsMounted(ctx context.Context, target string) (bool, error) {
	infos, err := getMounts(ctx, nil)
	if err != nil {
		return false, err
	}
	for _, m := range infos {
		if m.Path == target {
			return true, nil
		}
	}
	return false, nil
}
