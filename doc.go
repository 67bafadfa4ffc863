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

// Package imount orchestrates forensic mounting of disk images: locating
// and mounting a base image (E01, dd, vmdk, qcow2, ...), detecting its
// volume system, classifying and mounting each volume's filesystem,
// unlocking container filesystems (LUKS, BitLocker, LVM, RAID, volume
// shadow copies), and reconstructing a unified view of the original
// system by bind-mounting every volume onto its last known mountpoint.
//
// A Parser owns one or more Disks; each Disk owns a VolumeSystem of
// Volumes; each Volume owns a FileSystem that either mounts it directly
// or, for container types, produces further subvolumes. The Registry
// tracks which external tools (cryptsetup, bdemount, mmls, lvm, mdadm,
// vshadowmount, ...) are actually available, and every operation that
// needs one checks it first rather than failing deep inside a subprocess
// call.
//
// A Sweeper independently finds and removes mount/loopback/temp-directory
// leftovers from a prior run that never cleaned up, without needing the
// Parser that created them.
package imount
