//go:build !windows

package proc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// ErrAlreadyRunning is returned by Start when the process is currently alive.
var ErrAlreadyRunning = errors.New("process already running")

// ErrNotStarted is returned by WaitExit when Start has never succeeded.
var ErrNotStarted = errors.New("process not started")

// Process owns the lifecycle of a single supervised child. The supervisor is
// its exclusive owner while the child is alive. A reaper goroutine attached at
// Start performs the one and only cmd.Wait for each run; Stop/Kill coordinate
// with it via waitDone instead of waiting themselves.
type Process struct {
	mu        sync.Mutex
	spec      Spec
	cmd       *exec.Cmd
	state     State
	pid       int
	startedAt time.Time
	stoppedAt time.Time
	exit      ExitResult
	stopping  bool          // Stop requested; reclassifies the exit as Killed
	waitDone  chan struct{} // closed by the reaper when cmd.Wait returns
	outCloser io.WriteCloser
	errCloser io.WriteCloser
	restarts  int
}

func New(spec Spec) *Process {
	return &Process{spec: spec, state: StateNotStarted}
}

// Spec returns a copy of the process spec.
func (p *Process) Spec() Spec {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spec
}

// Start launches the child. It fails with ErrAlreadyRunning when a run is
// in flight, and with a wrapped launch error when the executable could not be
// started (the policy layer treats that as an immediate crash).
func (p *Process) Start(mergedEnv []string) error {
	p.mu.Lock()
	if p.state == StateRunning {
		p.mu.Unlock()
		return fmt.Errorf("%s: %w", p.spec.Name, ErrAlreadyRunning)
	}
	spec := p.spec
	p.mu.Unlock()

	cmd := spec.BuildCommand()
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if len(mergedEnv) > 0 {
		cmd.Env = mergedEnv
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	outW, errW := p.configureOutput(cmd, spec)

	if err := cmd.Start(); err != nil {
		closeBoth(outW, errW)
		return fmt.Errorf("launch %s: %w", p.spec.Name, err)
	}

	p.mu.Lock()
	p.cmd = cmd
	p.pid = cmd.Process.Pid
	p.state = StateRunning
	p.startedAt = time.Now()
	p.stoppedAt = time.Time{}
	p.exit = ExitResult{}
	p.stopping = false
	p.waitDone = make(chan struct{})
	p.outCloser, p.errCloser = outW, errW
	done := p.waitDone
	p.mu.Unlock()

	go p.reap(cmd, done)
	return nil
}

func (p *Process) configureOutput(cmd *exec.Cmd, spec Spec) (io.WriteCloser, io.WriteCloser) {
	if spec.Log.Dir == "" && spec.Log.StdoutPath == "" && spec.Log.StderrPath == "" {
		null, _ := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		cmd.Stdout = null
		cmd.Stderr = null
		return nil, nil
	}
	if spec.Log.Dir != "" {
		_ = os.MkdirAll(spec.Log.Dir, 0o750)
	}
	outW, errW, _ := spec.Log.Writers(spec.Name)
	if outW != nil {
		cmd.Stdout = outW
	} else {
		cmd.Stdout, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	if errW != nil {
		cmd.Stderr = errW
	} else {
		cmd.Stderr, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	return outW, errW
}

// reap performs the single cmd.Wait for this run and publishes the classified
// exit before closing waitDone.
func (p *Process) reap(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()

	p.mu.Lock()
	res := classifyExit(err, p.stopping)
	p.exit = res
	p.state = res.State
	p.stoppedAt = time.Now()
	out, errw := p.outCloser, p.errCloser
	p.outCloser, p.errCloser = nil, nil
	p.mu.Unlock()

	closeBoth(out, errw)
	close(done)
}

// classifyExit maps a cmd.Wait error to an ExitResult. Code 0 is clean; a
// non-zero code or a signal is a crash, unless stop was requested, in which
// case the run ends as Killed (or ExitedClean when it still exited 0).
func classifyExit(err error, stopping bool) ExitResult {
	if err == nil {
		return ExitResult{State: StateExitedClean, Code: 0}
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				sig := ws.Signal()
				st := StateExitedCrashed
				if stopping {
					st = StateKilled
				}
				return ExitResult{State: st, Code: 128 + int(sig), Signal: sig.String(), Err: err}
			}
			code := ws.ExitStatus()
			st := StateExitedCrashed
			if stopping {
				st = StateKilled
			}
			if code == 0 {
				st = StateExitedClean
			}
			return ExitResult{State: st, Code: code, Err: err}
		}
	}
	st := StateExitedCrashed
	if stopping {
		st = StateKilled
	}
	return ExitResult{State: st, Code: -1, Err: err}
}

// WaitExit blocks until the most recent run exits or ctx is cancelled, and
// returns the classified result. It does not consume the exit: multiple
// waiters observe the same result.
func (p *Process) WaitExit(ctx context.Context) (ExitResult, error) {
	done := p.WaitDone()
	if done == nil {
		return ExitResult{}, ErrNotStarted
	}
	select {
	case <-ctx.Done():
		return ExitResult{}, ctx.Err()
	case <-done:
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exit, nil
}

// WaitDone returns the wait channel of the most recent run (closed once that
// run has been reaped), or nil when the process was never started.
func (p *Process) WaitDone() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitDone
}

// Alive reports whether the current run is still up.
func (p *Process) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == StateRunning
}

// Stop sends SIGTERM to the process group, waits up to grace, then SIGKILLs.
// It is idempotent: stopping an already-exited process is a no-op, never an
// error, and never signals a PID that has already been reaped.
func (p *Process) Stop(grace time.Duration) error {
	if grace <= 0 {
		grace = DefaultStopGrace
	}
	p.mu.Lock()
	if p.state != StateRunning {
		p.mu.Unlock()
		return nil
	}
	p.stopping = true
	pid := p.pid
	done := p.waitDone
	p.mu.Unlock()

	_ = syscall.Kill(-pid, syscall.SIGTERM)
	select {
	case <-done:
	case <-time.After(grace):
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		select {
		case <-done:
		case <-time.After(200 * time.Millisecond):
			// best-effort; reaper will finish
		}
	}
	return nil
}

// Kill force-terminates the process group without a grace period.
func (p *Process) Kill() error {
	p.mu.Lock()
	if p.state != StateRunning {
		p.mu.Unlock()
		return nil
	}
	p.stopping = true
	pid := p.pid
	done := p.waitDone
	p.mu.Unlock()

	_ = syscall.Kill(-pid, syscall.SIGKILL)
	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
	}
	return nil
}

// IncRestarts bumps the restart counter and returns the new value.
func (p *Process) IncRestarts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.restarts++
	return p.restarts
}

// StopRequested reports whether Stop/Kill has been requested for this run.
func (p *Process) StopRequested() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopping
}

// Snapshot returns a copy of the current status.
func (p *Process) Snapshot() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		Name:      p.spec.Name,
		State:     p.state,
		PID:       p.pid,
		StartedAt: p.startedAt,
		StoppedAt: p.stoppedAt,
		ExitCode:  p.exit.Code,
		Restarts:  p.restarts,
	}
}

// LastExit returns the classified result of the most recent completed run.
func (p *Process) LastExit() ExitResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exit
}

func closeBoth(a, b io.WriteCloser) {
	if a != nil {
		_ = a.Close()
	}
	if b != nil {
		_ = b.Close()
	}
}
