//go:build !windows

package proc

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"syscall"
	"testing"
	"time"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestBuildCommandDirectExec(t *testing.T) {
	requireUnix(t)
	s := Spec{Name: "p", Command: "sleep 0.1"}
	cmd := s.BuildCommand()
	if len(cmd.Args) != 2 || cmd.Args[1] != "0.1" {
		t.Fatalf("unexpected args: %#v", cmd.Args)
	}
	if strings.Contains(cmd.Path, "sh") {
		t.Fatalf("plain command should not go through a shell: %s", cmd.Path)
	}
}

func TestBuildCommandShellMetachars(t *testing.T) {
	requireUnix(t)
	s := Spec{Name: "p", Command: "echo hi && sleep 0.1"}
	cmd := s.BuildCommand()
	if len(cmd.Args) < 3 || cmd.Args[1] != "-c" {
		t.Fatalf("metachar command should use sh -c: %#v", cmd.Args)
	}
}

func TestBuildCommandExplicitShell(t *testing.T) {
	requireUnix(t)
	s := Spec{Name: "p", Command: "/bin/sh -c 'sleep 0.1'"}
	cmd := s.BuildCommand()
	if cmd.Args[0] != "/bin/sh" || cmd.Args[1] != "-c" || cmd.Args[2] != "sleep 0.1" {
		t.Fatalf("explicit shell not preserved: %#v", cmd.Args)
	}
}

func TestStartAndCleanExit(t *testing.T) {
	requireUnix(t)
	p := New(Spec{Name: "clean", Command: "sh -c 'exit 0'"})
	if err := p.Start(nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	res, err := p.WaitExit(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if res.State != StateExitedClean || res.Code != 0 || res.Crashed() {
		t.Fatalf("unexpected exit: %+v", res)
	}
}

func TestStartAndCrashExit(t *testing.T) {
	requireUnix(t)
	p := New(Spec{Name: "crash", Command: "sh -c 'exit 3'"})
	if err := p.Start(nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	res, err := p.WaitExit(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if res.State != StateExitedCrashed || res.Code != 3 || !res.Crashed() {
		t.Fatalf("unexpected exit: %+v", res)
	}
}

func TestSignalExitClassifiedAsCrash(t *testing.T) {
	requireUnix(t)
	p := New(Spec{Name: "sig", Command: "sleep 5"})
	if err := p.Start(nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	st := p.Snapshot()
	if st.PID <= 0 {
		t.Fatalf("no pid after start: %+v", st)
	}
	// external kill, not a requested stop
	_ = syscall.Kill(-st.PID, syscall.SIGKILL)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	res, err := p.WaitExit(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if res.State != StateExitedCrashed || res.Signal == "" {
		t.Fatalf("external kill should be a crash: %+v", res)
	}
	if res.Code != 128+int(syscall.SIGKILL) {
		t.Fatalf("expected 128+signal code, got %d", res.Code)
	}
}

func TestStopIsGracefulAndIdempotent(t *testing.T) {
	requireUnix(t)
	p := New(Spec{Name: "stop", Command: "sleep 5"})
	if err := p.Start(nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := p.Stop(2 * time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}
	res := p.LastExit()
	if res.State != StateKilled {
		t.Fatalf("requested stop should classify as killed: %+v", res)
	}
	if !p.StopRequested() {
		t.Fatalf("StopRequested should remain true after stop")
	}
	// second stop is a no-op
	if err := p.Stop(time.Second); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestStopEscalatesToKill(t *testing.T) {
	requireUnix(t)
	// trap TERM so only KILL can end it
	p := New(Spec{Name: "stubborn", Command: "sh -c 'trap \"\" TERM; sleep 10'"})
	if err := p.Start(nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitUntil(t, 2*time.Second, p.Alive)
	start := time.Now()
	if err := p.Stop(300 * time.Millisecond); err != nil {
		t.Fatalf("stop: %v", err)
	}
	waitUntil(t, 2*time.Second, func() bool { return !p.Alive() })
	if time.Since(start) > 3*time.Second {
		t.Fatalf("stop took too long")
	}
	if p.LastExit().State != StateKilled {
		t.Fatalf("expected killed, got %+v", p.LastExit())
	}
}

func TestStartWhileRunningFails(t *testing.T) {
	requireUnix(t)
	p := New(Spec{Name: "dup", Command: "sleep 5"})
	if err := p.Start(nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = p.Kill() }()
	if err := p.Start(nil); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestLaunchFailureWrapsError(t *testing.T) {
	requireUnix(t)
	p := New(Spec{Name: "missing", Command: "/nonexistent/definitely-not-here"})
	err := p.Start(nil)
	if err == nil {
		t.Fatalf("expected launch error")
	}
	if !strings.Contains(err.Error(), "launch missing") {
		t.Fatalf("unexpected error text: %v", err)
	}
	if p.Alive() {
		t.Fatalf("process should not be alive after launch failure")
	}
}

func TestWaitExitBeforeStart(t *testing.T) {
	p := New(Spec{Name: "never", Command: "sleep 1"})
	_, err := p.WaitExit(context.Background())
	if !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
}

func TestWaitDoneSurvivesQuickExit(t *testing.T) {
	requireUnix(t)
	p := New(Spec{Name: "quick", Command: "sh -c 'exit 0'"})
	if err := p.Start(nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	done := p.WaitDone()
	if done == nil {
		t.Fatalf("WaitDone should return the run's channel")
	}
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("done channel never closed")
	}
	// channel of the finished run stays available after the fact
	select {
	case <-p.WaitDone():
	default:
		t.Fatalf("finished run's channel should be closed")
	}
}

func TestEnvAppliedToChild(t *testing.T) {
	requireUnix(t)
	// the child succeeds only when MARKER is set in its environment
	p2 := New(Spec{Name: "envy", Command: "sh -c 'test \"$MARKER\" = yes'"})
	if err := p2.Start([]string{"PATH=/usr/bin:/bin", "MARKER=yes"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	res, err := p2.WaitExit(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if res.State != StateExitedClean {
		t.Fatalf("env not applied, exit: %+v", res)
	}
}
