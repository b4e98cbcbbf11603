//go:build !windows

package proc

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrLocked means another live supervisor holds the lock for this device.
var ErrLocked = errors.New("another supervisor is already running")

// Lock is the single-writer liveness marker for one supervisor instance per
// device. The file holds the PID on the first line and a JSON meta line with
// the process start time, so a reused PID is not mistaken for a live holder.
type Lock struct {
	path string
}

type lockMeta struct {
	StartUnix int64  `json:"start_unix"`
	Device    string `json:"device,omitempty"`
}

// AcquireLock takes the lock at path for the current process, refusing when a
// live holder exists. A stale file (dead PID, or live PID with a different
// start time) is silently replaced.
func AcquireLock(path, devicePath string) (*Lock, error) {
	if path == "" {
		return nil, errors.New("empty lock path")
	}
	if pid, meta, err := readLock(path); err == nil && pid > 0 {
		if pidAlive(pid) && (meta == nil || sameStart(pid, meta.StartUnix)) {
			return nil, fmt.Errorf("lock %s held by pid %d: %w", path, pid, ErrLocked)
		}
	}
	if err := writeLock(path, devicePath); err != nil {
		return nil, err
	}
	return &Lock{path: path}, nil
}

// Release removes the lock file. Best-effort; safe to call twice.
func (l *Lock) Release() {
	if l == nil || l.path == "" {
		return
	}
	_ = os.Remove(l.path)
	l.path = ""
}

func readLock(path string) (int, *lockMeta, error) {
	b, err := os.ReadFile(path) // #nosec G304 operator-provided path
	if err != nil {
		return 0, nil, err
	}
	pidLine, rest, _ := strings.Cut(string(b), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(pidLine))
	if err != nil {
		return 0, nil, fmt.Errorf("invalid pid in %s: %w", path, err)
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return pid, nil, nil
	}
	var m lockMeta
	if err := json.Unmarshal([]byte(rest), &m); err != nil {
		return pid, nil, nil
	}
	return pid, &m, nil
}

func writeLock(path, devicePath string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	pid := os.Getpid()
	meta := lockMeta{StartUnix: getProcStartUnix(pid), Device: devicePath}
	mb, _ := json.Marshal(meta)
	data := strconv.Itoa(pid) + "\n" + string(mb) + "\n"
	return os.WriteFile(path, []byte(data), 0o600)
}

func sameStart(pid int, recorded int64) bool {
	if recorded <= 0 {
		return true // no metadata to compare; assume the holder is genuine
	}
	cur := getProcStartUnix(pid)
	return cur == 0 || cur == recorded
}

// pidAlive returns true if a process with the given pid exists (or EPERM).
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
