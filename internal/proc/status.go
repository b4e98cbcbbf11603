package proc

import "time"

// State of a supervised process.
type State string

const (
	StateNotStarted    State = "not_started"
	StateRunning       State = "running"
	StateExitedClean   State = "exited_clean"
	StateExitedCrashed State = "exited_crashed"
	StateKilled        State = "killed"
)

// ExitResult classifies an observed process exit. Exit code 0 is clean; any
// non-zero code or termination by signal is a crash, unless the exit was the
// response to an explicit Stop, in which case it is Killed.
type ExitResult struct {
	State  State  `json:"state"`
	Code   int    `json:"code"`             // exit code; 128+signal when signaled
	Signal string `json:"signal,omitempty"` // termination signal name, if any
	Err    error  `json:"-"`
}

// Crashed reports whether the exit counts against the recovery budget.
func (r ExitResult) Crashed() bool { return r.State == StateExitedCrashed }

// Status is an externally consumable snapshot of a process.
type Status struct {
	Name      string    `json:"name"`
	State     State     `json:"state"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	ExitCode  int       `json:"exit_code"`
	Restarts  int       `json:"restarts"`
}
