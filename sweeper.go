package imount

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"
)

// mountEntry is one parsed line of `mount`'s human-readable output:
// "<source> on <mountpoint> type <fstype> (<opts>)".
type mountEntry struct {
	source  string
	fstype  string
	opts    string
}

var mountLineRe = regexp.MustCompile(`^(.+) on (.+) type (.+) \((.+)\)$`)
var loopbackLineRe = regexp.MustCompile(`^(.+): (.+) \((.+)\).*$`)

// Sweeper finds and removes every mount, loopback device, and temporary
// directory left over from a prior (possibly crashed) Parser run, by
// pattern-matching against the conventional mountpoint naming this
// module uses. It mirrors unmounter.py's Unmounter.
type Sweeper struct {
	rePattern   *regexp.Regexp
	globPattern string

	origRePattern   *regexp.Regexp
	origGlobPattern string

	beGreedy bool

	mountpoints map[string]mountEntry // mountpoint -> entry
	loopbacks   map[string]string     // loopback device -> backing path

	run Runner
}

// NewSweeper indexes the current system state (mount table, loopback
// devices) according to the naming convention implied by caseName/pretty/
// mountDir. When none of those are given, the sweeper is greedy: it
// matches any "im_<index>_..." mountpoint under the system temp dir
// rather than a specific case's directory, per allow_greedy's default.
func NewSweeper(ctx context.Context, r Runner, caseName string, pretty bool, mountDir string) *Sweeper {
	if r == nil {
		r = NewRunner()
	}
	s := &Sweeper{run: r}
	s.beGreedy = caseName == "" && !pretty && mountDir == ""

	dir := mountDir
	if dir == "" {
		dir = os.TempDir()
	}
	if caseName != "" {
		dir = filepath.Join(dir, caseName)
	}

	if pretty {
		s.rePattern = regexp.MustCompile("^" + regexp.QuoteMeta(dir) + `/.*[0-9.]+-.+`)
		s.globPattern = filepath.Join(dir, "*")
	} else {
		s.rePattern = regexp.MustCompile("^" + regexp.QuoteMeta(dir) + `/im_[0-9.]+_.+`)
		s.globPattern = filepath.Join(dir, "im_*")
	}

	tmp := os.TempDir()
	if caseName != "" {
		s.origRePattern = regexp.MustCompile("^" + regexp.QuoteMeta(tmp) + `/image_mounter_.*_` + regexp.QuoteMeta(caseName))
		s.origGlobPattern = filepath.Join(tmp, "image_mounter_*_"+caseName)
	} else {
		s.origRePattern = regexp.MustCompile("^" + regexp.QuoteMeta(tmp) + `/image_mounter_.*`)
		s.origGlobPattern = filepath.Join(tmp, "image_mounter_*")
	}

	s.indexLoopbacks(ctx)
	s.indexMountpoints(ctx)
	return s
}

func (s *Sweeper) indexMountpoints(ctx context.Context) {
	s.mountpoints = map[string]mountEntry{}
	out, err := s.run.Run(ctx, "mount")
	if err != nil {
		log.WithError(err).Debug("could not list mounts while indexing for sweep")
		return
	}
	for _, line := range strings.Split(out, "\n") {
		m := mountLineRe.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		s.mountpoints[m[2]] = mountEntry{source: m[1], fstype: m[3], opts: m[4]}
	}
}

func (s *Sweeper) indexLoopbacks(ctx context.Context) {
	s.loopbacks = map[string]string{}
	out, err := s.run.Run(ctx, "losetup", "-a")
	if err != nil {
		log.WithError(err).Debug("could not list loopbacks while indexing for sweep")
		return
	}
	for _, line := range strings.Split(out, "\n") {
		m := loopbackLineRe.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		s.loopbacks[m[1]] = m[3]
	}
}

// FindBindmounts yields every bind mountpoint matching this sweeper's
// pattern.
func (s *Sweeper) FindBindmounts() []string {
	var out []string
	for mp, entry := range s.mountpoints {
		if strings.Contains(entry.opts, "bind") && s.rePattern.MatchString(mp) {
			out = append(out, mp)
		}
	}
	return out
}

// FindMounts yields every non-bind mountpoint whose source originates
// from this run's base-image directories, plus (when greedy) any
// mountpoint that merely matches the conventional naming pattern.
func (s *Sweeper) FindMounts() []string {
	var out []string
	for mp, entry := range s.mountpoints {
		if strings.Contains(entry.opts, "bind") {
			continue
		}
		if s.origRePattern.MatchString(entry.source) {
			out = append(out, mp)
			continue
		}
		if s.beGreedy && s.rePattern.MatchString(mp) {
			log.WithField("mountpoint", mp).Warn("matched mountpoint by greedy naming pattern, not by originating base image")
			out = append(out, mp)
		}
	}
	return out
}

// FindBaseImages yields every mountpoint that is itself a base-image
// mount (an xmount/ewfmount/affuse/etc. directory).
func (s *Sweeper) FindBaseImages() []string {
	var out []string
	for mp := range s.mountpoints {
		if s.origRePattern.MatchString(mp) {
			out = append(out, mp)
		}
	}
	return out
}

// FindVolumeGroups yields (vgName, pvName) pairs for every LVM volume
// group whose physical volume is a loopback device backed by one of this
// run's base images.
func (s *Sweeper) FindVolumeGroups(ctx context.Context) [][2]string {
	_ = os.Setenv("LVM_SUPPRESS_FD_WARNINGS", "1")

	out, err := s.run.Run(ctx, "pvdisplay")
	if err != nil {
		return nil
	}

	var pairs [][2]string
	var pvName, vgName string
	for _, raw := range strings.Split(out, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case strings.Contains(line, "--- Physical volume ---"):
			pvName, vgName = "", ""
		case strings.HasPrefix(line, "PV Name"):
			pvName = strings.TrimSpace(strings.TrimPrefix(line, "PV Name"))
		case strings.HasPrefix(line, "VG Name"):
			vgName = strings.TrimSpace(strings.TrimPrefix(line, "VG Name"))
		}
		if pvName != "" && vgName != "" {
			if backing, ok := s.loopbacks[pvName]; ok && s.origRePattern.MatchString(backing) {
				pairs = append(pairs, [2]string{vgName, pvName})
			}
			pvName, vgName = "", ""
		}
	}
	return pairs
}

// FindCleanDirs yields every temporary directory matching either naming
// pattern, whether or not anything is still mounted there.
func (s *Sweeper) FindCleanDirs() []string {
	var out []string
	if matches, err := filepath.Glob(s.globPattern); err == nil {
		for _, m := range matches {
			if s.rePattern.MatchString(m) {
				out = append(out, m)
			}
		}
	}
	if matches, err := filepath.Glob(s.origGlobPattern); err == nil {
		for _, m := range matches {
			if s.origRePattern.MatchString(m) {
				out = append(out, m)
			}
		}
	}
	return out
}

// PreviewUnmount returns shell commands for the steps Unmount takes, in
// the same order, without running them, mirroring
// Unmounter.preview_unmount. Its "rm -Rf" entries differ from Unmount,
// which removes a directory only when it is empty.
func (s *Sweeper) PreviewUnmount(ctx context.Context) []string {
	var cmds []string
	for _, mp := range s.FindBindmounts() {
		cmds = append(cmds, "umount "+mp)
	}
	for _, mp := range s.FindMounts() {
		cmds = append(cmds, "umount "+mp, "rm -Rf "+mp)
	}
	for _, pair := range s.FindVolumeGroups(ctx) {
		cmds = append(cmds, "lvchange -a n "+pair[0], "losetup -d "+pair[1])
	}
	for _, mp := range s.FindBaseImages() {
		cmds = append(cmds, "fusermount -u "+mp, "rm -Rf "+mp)
	}
	seen := map[string]bool{}
	for _, dir := range s.FindCleanDirs() {
		cmd := "rm -Rf " + dir
		if !seen[cmd] {
			cmds = append(cmds, cmd)
			seen[cmd] = true
		}
	}
	return cmds
}

// Unmount performs every cleanup step in order: bind mounts, ordinary
// mounts, volume groups, base images, then empty directory removal.
func (s *Sweeper) Unmount(ctx context.Context) error {
	for _, mp := range s.FindBindmounts() {
		if err := CleanUnmount(ctx, s.run, []string{"umount", mp}, mp, 5, false); err != nil {
			return err
		}
	}
	for _, mp := range s.FindMounts() {
		if err := CleanUnmount(ctx, s.run, []string{"umount", mp}, mp, 5, true); err != nil {
			return err
		}
	}
	for _, pair := range s.FindVolumeGroups(ctx) {
		if _, err := s.run.Run(ctx, "lvchange", "-a", "n", pair[0]); err != nil {
			return SubsystemError(err)
		}
		if _, err := s.run.Run(ctx, "losetup", "-d", pair[1]); err != nil {
			return SubsystemError(err)
		}
	}
	for _, mp := range s.FindBaseImages() {
		if err := CleanUnmount(ctx, s.run, []string{"fusermount", "-u", mp}, mp, 5, true); err != nil {
			return err
		}
	}
	for _, dir := range s.FindCleanDirs() {
		if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
			log.WithField("dir", dir).WithError(err).Debug("could not remove leftover directory, leaving it")
		}
	}
	return nil
}
