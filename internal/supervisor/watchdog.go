package supervisor

import (
	"github.com/loykin/watchcap/internal/proc"
)

// Watchdog observes the consumer process and classifies its exit. It is a
// deliberately simple binary classifier: exit code 0 is clean, anything else
// (non-zero code or signal) is a crash. It never attempts recovery itself.
type Watchdog struct {
	proc *proc.Process
}

func newWatchdog(p *proc.Process) *Watchdog { return &Watchdog{proc: p} }

// Done exposes the current run's exit channel. The control loop selects on it
// and reads the classification through ExitResult once it closes.
func (w *Watchdog) Done() <-chan struct{} { return w.proc.WaitDone() }

// ExitResult returns the classified result of the most recent completed run.
func (w *Watchdog) ExitResult() proc.ExitResult { return w.proc.LastExit() }

// StopRequested reports whether the exit was a deliberate stop rather than an
// observed failure.
func (w *Watchdog) StopRequested() bool { return w.proc.StopRequested() }
