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

package imount

import "fmt"

// Error is the root of the error taxonomy. Every error this package returns
// can be type-asserted back to *Error to recover Kind, regardless of which
// constructor produced it.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorKind discriminates the taxonomy without requiring a type switch
// over a dozen named types.
type ErrorKind string

const (
	// KindPrerequisiteFailed indicates a required command/module/filesystem
	// driver is missing from the Dependency Registry.
	KindPrerequisiteFailed ErrorKind = "prerequisite_failed"
	// KindNotMounted indicates an operation required a mounted resource
	// that was not mounted.
	KindNotMounted ErrorKind = "not_mounted"
	// KindCommandNotFound indicates an external tool could not be found
	// on PATH at the time it was invoked.
	KindCommandNotFound ErrorKind = "command_not_found"
	// KindModuleNotFound indicates a required optional module/binding was
	// unavailable.
	KindModuleNotFound ErrorKind = "module_not_found"
	// KindArgument indicates invalid arguments were supplied by a caller.
	KindArgument ErrorKind = "argument"
	// KindMountFailed is the parent kind for a failed mount attempt.
	KindMountFailed ErrorKind = "mount_failed"
	// KindMountpointEmpty indicates a mount command exited 0 but nothing
	// actually appeared at the mountpoint.
	KindMountpointEmpty ErrorKind = "mountpoint_empty"
	// KindKeyInvalid indicates key material was rejected by the
	// unlocking tool (wrong passphrase, bad recovery key, etc).
	KindKeyInvalid ErrorKind = "key_invalid"
	// KindSubsystem wraps an error surfaced by an external subprocess
	// whose output could not be interpreted into a more specific kind.
	KindSubsystem ErrorKind = "subsystem"
	// KindAvailability is the parent kind for "no X available" failures.
	KindAvailability ErrorKind = "availability"
	// KindNoMountpointAvailable indicates the mountpoint allocator could
	// not find or create a usable directory.
	KindNoMountpointAvailable ErrorKind = "no_mountpoint_available"
	// KindNoLoopbackAvailable indicates losetup reported no free device.
	KindNoLoopbackAvailable ErrorKind = "no_loopback_available"
	// KindNoNetworkBlockAvailable indicates no /dev/nbdN device was free.
	KindNoNetworkBlockAvailable ErrorKind = "no_network_block_available"
	// KindCleanup indicates teardown could not fully complete.
	KindCleanup ErrorKind = "cleanup"
	// KindFilesystem is the parent kind for filesystem classification
	// and mounting problems.
	KindFilesystem ErrorKind = "filesystem"
	// KindUnsupportedFilesystem indicates a recognized but unimplemented
	// filesystem type.
	KindUnsupportedFilesystem ErrorKind = "unsupported_filesystem"
	// KindIncorrectFilesystem indicates the detected type did not match
	// what was actually mountable.
	KindIncorrectFilesystem ErrorKind = "incorrect_filesystem"
	// KindDiskIndex indicates a Parser index invariant was violated
	// (e.g. adding an unindexed disk after an indexed one).
	KindDiskIndex ErrorKind = "disk_index"
	// KindNoRootFound indicates Parser.Reconstruct could not locate a
	// volume whose last mountpoint is "/".
	KindNoRootFound ErrorKind = "no_root_found"
)

func newErr(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// PrerequisiteFailedError reports a missing command, module, or driver.
func PrerequisiteFailedError(msg string) error {
	return newErr(KindPrerequisiteFailed, msg, nil)
}

// CommandNotFoundError reports that command is absent from PATH.
func CommandNotFoundError(command string) error {
	return newErr(KindCommandNotFound, "command not found: "+command, nil)
}

// ModuleNotFoundError reports that an optional module/driver is absent.
func ModuleNotFoundError(module string) error {
	return newErr(KindModuleNotFound, "module not found: "+module, nil)
}

// ArgumentError reports invalid caller-supplied arguments.
func ArgumentError(msg string) error {
	return newErr(KindArgument, msg, nil)
}

// NotMountedError reports an operation needing a mounted resource.
func NotMountedError(msg string) error {
	return newErr(KindNotMounted, msg, nil)
}

// MountFailedError wraps the underlying cause of a failed mount attempt.
func MountFailedError(msg string, cause error) error {
	return newErr(KindMountFailed, msg, cause)
}

// MountpointEmptyError reports a mount that exited cleanly but produced
// an empty mountpoint.
func MountpointEmptyError(mountpoint string) error {
	return newErr(KindMountpointEmpty, "mountpoint is empty: "+mountpoint, nil)
}

// KeyInvalidError reports key material rejected by an unlocking tool.
func KeyInvalidError(msg string) error {
	return newErr(KindKeyInvalid, msg, nil)
}

// SubsystemError wraps an opaque subprocess failure.
func SubsystemError(cause error) error {
	return newErr(KindSubsystem, "external command failed", cause)
}

// NoMountpointAvailableError reports mountpoint allocation failure.
func NoMountpointAvailableError(msg string) error {
	return newErr(KindNoMountpointAvailable, msg, nil)
}

// NoLoopbackAvailableError reports loopback device exhaustion.
func NoLoopbackAvailableError(msg string) error {
	return newErr(KindNoLoopbackAvailable, msg, nil)
}

// NoNetworkBlockAvailableError reports nbd device exhaustion.
func NoNetworkBlockAvailableError(msg string) error {
	return newErr(KindNoNetworkBlockAvailable, msg, nil)
}

// CleanupError reports teardown that could not fully complete.
func CleanupError(msg string, cause error) error {
	return newErr(KindCleanup, msg, cause)
}

// UnsupportedFilesystemError reports a type with no available mounter.
func UnsupportedFilesystemError(fstype string) error {
	return newErr(KindUnsupportedFilesystem, "unsupported filesystem type: "+fstype, nil)
}

// IncorrectFilesystemError reports a mismatch between detected and actual
// filesystem type.
func IncorrectFilesystemError(fstype string) error {
	return newErr(KindIncorrectFilesystem, "incorrect filesystem type: "+fstype, nil)
}

// DiskIndexError reports a violated Parser disk-index invariant.
func DiskIndexError(msg string) error {
	return newErr(KindDiskIndex, msg, nil)
}

// NoRootFoundError reports that reconstruction found no "/" volume.
func NoRootFoundError() error {
	return newErr(KindNoRootFound, "could not find a volume with last mountpoint /", nil)
}

// Is lets errors.Is match on Kind, e.g. errors.Is(err, imount.NotMountedError("")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}
