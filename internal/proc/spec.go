package proc

import (
	"os/exec"
	"strings"
	"time"

	"github.com/loykin/watchcap/internal/logger"
)

// Default grace period between SIGTERM and SIGKILL on Stop.
const DefaultStopGrace = 5 * time.Second

// Spec describes a supervised process (the capture producer or the consumer
// application). The command is opaque to the supervisor.
type Spec struct {
	Name      string            `json:"name"`
	Command   string            `json:"command"`    // command line (shell-aware)
	WorkDir   string            `json:"work_dir"`   // optional working dir
	Env       []string          `json:"env"`        // optional extra env
	StopGrace time.Duration     `json:"stop_grace"` // SIGTERM->SIGKILL window
	Log       logger.FileConfig `json:"log"`        // stdout/stderr capture
}

// shell metacharacters that force a /bin/sh -c wrapper
const shellMeta = "|&;<>*?`$\"'(){}[]~"

// BuildCommand constructs an *exec.Cmd for the spec's command string. Plain
// commands run directly; metacharacters pull in /bin/sh -c; a command that
// already spells out "sh -c ..." is honored without double-wrapping.
func (s *Spec) BuildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		// #nosec G204
		return exec.Command("/bin/true")
	}
	// The absolute shell path keeps these working when Env drops PATH.
	if script, ok := parseExplicitShell(cmdStr); ok {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", script)
	}
	if strings.ContainsAny(cmdStr, shellMeta) {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...)
}

// parseExplicitShell detects a leading "sh -c <ARG>" (also /bin/sh, /usr/bin/sh)
// and returns the script after -c, with one surrounding quote pair stripped so
// the shell sees the actual script rather than a quoted literal.
func parseExplicitShell(cmdStr string) (string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	for _, prefix := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		if !strings.HasPrefix(trim, prefix) {
			continue
		}
		script := trim[len(prefix):]
		if n := len(script); n >= 2 {
			first, last := script[0], script[n-1]
			if (first == '\'' && last == '\'') || (first == '"' && last == '"') {
				script = script[1 : n-1]
			}
		}
		return script, true
	}
	return "", false
}
