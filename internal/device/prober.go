package device

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Prober runs a lightweight capability query against a device as a liveness
// check. Any non-success result or timeout counts as Unresponsive.
// It must be safe for concurrent use.
type Prober interface {
	// Probe returns nil when the device answered the capability query.
	Probe(ctx context.Context, h Handle) error
	// Describe returns a human-readable description of the probe method.
	Describe() string
}

// CommandProber probes by running an external command that should succeed if
// the device is responsive. The placeholder {path} in Command is replaced with
// the device node path.
type CommandProber struct {
	Command string
}

// DefaultProbeCommand queries the current capture format, which forces the
// driver to talk to the hardware without starting a stream.
const DefaultProbeCommand = "v4l2-ctl --device {path} --get-fmt-video"

func (p CommandProber) Probe(ctx context.Context, h Handle) error {
	cmdStr := strings.ReplaceAll(p.Command, "{path}", h.Path)
	cmd := buildShellAwareCommand(ctx, cmdStr)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("probe timed out: %w", ctx.Err())
		}
		return fmt.Errorf("probe %q: %w", cmdStr, err)
	}
	return nil
}

func (p CommandProber) Describe() string { return "cmd:" + p.Command }

// buildShellAwareCommand constructs an *exec.Cmd for a probe command.
// Avoids invoking a shell unless obvious shell metacharacters are present.
func buildShellAwareCommand(ctx context.Context, cmdStr string) *exec.Cmd {
	cmdStr = strings.TrimSpace(cmdStr)
	if cmdStr == "" {
		// #nosec G204
		return exec.CommandContext(ctx, "/bin/true")
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.CommandContext(ctx, "/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	name := parts[0]
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	// #nosec G204
	return exec.CommandContext(ctx, name, args...)
}
