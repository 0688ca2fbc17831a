package daemonkit

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Lock is the daemon's single-instance filesystem lock (spec §3 "Process
// lock file", §4.4: "non-blocking acquire; held for process lifetime").
// It is keyed globally by daemon, not per-cwd, so two invocations of the
// same daemon from different work dirs still refuse to coexist.
type Lock struct {
	fl *flock.Flock
}

// NewLock returns the lock for a given daemon key, without acquiring it.
func NewLock(daemonKey string) *Lock {
	return &Lock{fl: flock.New(LockPath(daemonKey))}
}

// TryAcquire attempts a non-blocking exclusive lock. Per spec §4.4, a held
// lock means "another instance is already running"; the caller should
// exit(2) without touching the state file.
func (l *Lock) TryAcquire() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.fl.Path()), 0o755); err != nil {
		return false, fmt.Errorf("daemonkit: create lock dir: %w", err)
	}
	ok, err := l.fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("daemonkit: acquire lock: %w", err)
	}
	return ok, nil
}

// Release drops the lock. Safe to call on an unlocked Lock.
func (l *Lock) Release() error {
	return l.fl.Unlock()
}
