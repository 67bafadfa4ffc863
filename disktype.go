package imount

import (
	"context"
	"regexp"
	"strings"
)

var disktypeLabelRe = regexp.MustCompile(`(?i)volume label\s*:\s*"?([^"\n]+)"?`)
var disktypeGuidRe = regexp.MustCompile(`(?i)partition guid\s*:\s*([0-9a-fA-F-]{36})`)
var disktypeTypeRe = regexp.MustCompile(`(?i)partition type\s*:\s*(.+)`)

// EnrichWithDisktype parses disktype output (RunDisktype is what runs the
// tool) and merges any label/GUID/type metadata it finds into v.Info, best
// effort: disktype is an optional enrichment step, so a missing binary or
// unparseable output only logs a warning, mirroring how preload_volume_data
// treats disktype failures as non-fatal.
func EnrichWithDisktype(ctx context.Context, v *Volume, output string) {
	if warnOnFailure("disktype enrichment", func() error {
		if strings.TrimSpace(output) == "" {
			return NotMountedError("empty disktype output")
		}
		return nil
	}()) {
		return
	}

	if m := disktypeLabelRe.FindStringSubmatch(output); m != nil {
		v.Info["label"] = strings.TrimSpace(m[1])
	}
	if m := disktypeGuidRe.FindStringSubmatch(output); m != nil {
		v.Info["guid"] = strings.ToUpper(m[1])
	}
	if m := disktypeTypeRe.FindStringSubmatch(output); m != nil {
		v.Info["fsdescription"] = strings.TrimSpace(m[1])
	}
}

// RunDisktype invokes disktype against the volume's raw path, without
// passing an offset, and feeds the output to EnrichWithDisktype. Callers typically
// run this once per disk and dispatch the relevant slice of output to
// each volume, since disktype reports every partition in one pass; this
// helper covers the common single-volume case.
func RunDisktype(ctx context.Context, v *Volume) {
	if err := v.registry().Require(ctx, "disktype"); err != nil {
		warnOnFailure("disktype enrichment", err)
		return
	}
	out, err := v.runner().Run(ctx, "disktype", v.GetRawPath())
	if warnOnFailure("disktype enrichment", err) {
		return
	}
	EnrichWithDisktype(ctx, v, out)
}
