// Package lock guards a data directory against a second mediator process.
//
// Two mediators sharing a data directory would interleave writes to the user
// config document and fight over the bleve index locks, so serve takes an
// exclusive file lock before touching anything.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// FileName is the lock file created inside the data directory.
const FileName = "swiftsearch.lock"

// ErrHeld is returned when another process holds the lock.
var ErrHeld = errors.New("data directory is in use by another swiftsearch process")

// DirLock is an exclusive, cross-process lock on a directory.
type DirLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// New creates an unlocked DirLock for dir.
func New(dir string) *DirLock {
	path := filepath.Join(dir, FileName)
	return &DirLock{
		path:  path,
		flock: flock.New(path),
	}
}

// Acquire takes the lock without blocking. It returns ErrHeld when another
// process already holds it.
func (l *DirLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("%w: %s", ErrHeld, l.path)
	}

	l.locked = true
	return nil
}

// Release drops the lock. Safe to call when not held.
func (l *DirLock) Release() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *DirLock) Path() string { return l.path }

// Held reports whether this DirLock holds the lock.
func (l *DirLock) Held() bool { return l.locked }
