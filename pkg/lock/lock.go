// Package lock provides a system-wide single-instance lock backed by a PID file.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrAlreadyRunning is returned when another live process holds the lock.
var ErrAlreadyRunning = errors.New("another instance is already running")

// Lock is a PID marker file. The zero value is not usable; call New.
type Lock struct {
	path string
	held bool
}

// New returns an unlocked Lock for path.
func New(path string) *Lock {
	return &Lock{path: path}
}

// Path returns the marker location.
func (l *Lock) Path() string { return l.path }

// Held reports whether this Lock owns the marker.
func (l *Lock) Held() bool { return l.held }

// Acquire creates the marker. A marker left by a dead process is removed and
// acquisition is retried once.
func (l *Lock) Acquire() error {
	if l.held {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		err := l.create()
		if err == nil {
			l.held = true
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("failed to create lock file: %w", err)
		}

		pid, live := l.owner()
		if live {
			return fmt.Errorf("%w (pid %d, lock %s)", ErrAlreadyRunning, pid, l.path)
		}
		if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove stale lock file: %w", err)
		}
	}

	return fmt.Errorf("%w (lock %s)", ErrAlreadyRunning, l.path)
}

func (l *Lock) create() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		os.Remove(l.path)
		return err
	}
	return nil
}

// owner reads the marker and probes the recorded PID.
func (l *Lock) owner() (int, bool) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, processAlive(pid)
}

// Release removes the marker if this Lock holds it. Errors are ignored.
func (l *Lock) Release() {
	if !l.held {
		return
	}
	_ = os.Remove(l.path)
	l.held = false
}
