package imount

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	log "github.com/sirupsen/logrus"
)

// maxLoggedOutput truncates command output before it hits the log, the
// way the teacher's mount commands log CombinedOutput() but never the raw
// bytes of e.g. an mkfs run against a multi-terabyte device.
const maxLoggedOutput = 4096

// Runner executes external commands on behalf of every component that
// shells out (disk mounters, volume detectors, the classifier's blkid/
// magic probes, filesystem mounters, the sweeper). It exists so tests can
// substitute a fake without monkeypatching exec.Command.
type Runner interface {
	// Run executes name with args and returns combined stdout+stderr.
	// A nonzero exit is reported as *Error with KindSubsystem.
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// execRunner is the production Runner, a thin wrapper around os/exec.
type execRunner struct{}

// NewRunner returns the default Runner backed by os/exec.
func NewRunner() Runner { return execRunner{} }

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	f := log.Fields{"cmd": name, "args": strings.Join(args, " ")}
	log.WithFields(f).Debug("$ " + name + " " + strings.Join(args, " "))

	/* #nosec G204 */
	cmd := exec.CommandContext(ctx, name, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()

	out := buf.String()
	logged := out
	if len(logged) > maxLoggedOutput {
		logged = logged[:maxLoggedOutput] + "...(truncated)"
	}
	log.WithFields(f).WithField("output", logged).Debug("< " + name)

	if err != nil {
		log.WithFields(f).WithField("output", logged).WithError(err).Error("command failed")
		return out, SubsystemError(fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err))
	}
	return out, nil
}

// Output is a convenience for callers that only care about trimmed
// stdout+stderr, e.g. a detector parsing a single line of output.
func Output(ctx context.Context, r Runner, name string, args ...string) (string, error) {
	out, err := r.Run(ctx, name, args...)
	return strings.TrimSpace(out), err
}

// runWithStdin runs name with args, writing input to its stdin and
// waiting for exit, without capturing output beyond logging. Used for the
// one case that needs a passphrase delivered over a pipe rather than as
// an argv entry: cryptsetup luksOpen.
func runWithStdin(ctx context.Context, name string, args []string, input string) error {
	f := log.Fields{"cmd": name, "args": strings.Join(args, " ")}
	log.WithFields(f).Debug("$ " + name + " " + strings.Join(args, " ") + " (stdin piped)")

	/* #nosec G204 */
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = strings.NewReader(input)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		log.WithFields(f).WithField("output", buf.String()).WithError(err).Error("command failed")
		return fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return nil
}
