// Package lockfile keeps two filemover processes from draining the same input.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

var ErrLocked = errors.New("lock held by another process")

type Lock struct {
	flock *flock.Flock
}

func New(path string) *Lock {
	return &Lock{flock: flock.New(path)}
}

func (l *Lock) Path() string {
	return l.flock.Path()
}

// Acquire takes the lock without blocking.
func (l *Lock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.flock.Path()), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", l.flock.Path(), err)
	}

	locked, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock %s: %w", l.flock.Path(), err)
	}
	if !locked {
		return fmt.Errorf("%s: %w", l.flock.Path(), ErrLocked)
	}
	return nil
}

// Release unlocks and removes the lock file. It is a no-op if this process does not hold the lock.
func (l *Lock) Release() error {
	if !l.flock.Locked() {
		return nil
	}

	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock %s: %w", l.flock.Path(), err)
	}

	return os.Remove(l.flock.Path())
}
