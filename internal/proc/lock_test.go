//go:build !windows

package proc

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestAcquireLockAndRelease(t *testing.T) {
	requireUnix(t)
	path := filepath.Join(t.TempDir(), "watchcap.lock")
	l, err := AcquireLock(path, "/dev/video0")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("lock file missing: %v", err)
	}
	l.Release()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("lock file should be removed after release")
	}
}

func TestAcquireLockRefusesLiveHolder(t *testing.T) {
	requireUnix(t)
	path := filepath.Join(t.TempDir(), "watchcap.lock")
	l, err := AcquireLock(path, "/dev/video0")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer l.Release()
	// this process holds the lock and is obviously alive
	if _, err := AcquireLock(path, "/dev/video0"); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}

func TestAcquireLockReplacesDeadHolder(t *testing.T) {
	requireUnix(t)
	path := filepath.Join(t.TempDir(), "watchcap.lock")
	// write a lock file for a pid that cannot exist
	data := strconv.Itoa(1<<22 + 12345) + "\n{\"start_unix\":1}\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("seed lock: %v", err)
	}
	l, err := AcquireLock(path, "/dev/video0")
	if err != nil {
		t.Fatalf("stale lock should be replaced: %v", err)
	}
	l.Release()
}

func TestAcquireLockGarbageFileReplaced(t *testing.T) {
	requireUnix(t)
	path := filepath.Join(t.TempDir(), "watchcap.lock")
	if err := os.WriteFile(path, []byte("not a pid\n"), 0o600); err != nil {
		t.Fatalf("seed lock: %v", err)
	}
	l, err := AcquireLock(path, "/dev/video0")
	if err != nil {
		t.Fatalf("garbage lock should be replaced: %v", err)
	}
	l.Release()
}
