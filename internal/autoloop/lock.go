package autoloop

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Lock is the autoloop supervisor's exclusive lock, one per repo (spec
// §4.6: "under exclusive lock on autoloop.lock"). Unlike daemonkit.Lock
// (globally keyed per daemon), this lock is keyed by the repo's own
// `.ccb/autoloop.lock` path, since many repos can each run their own
// autoloop concurrently.
type Lock struct {
	path string
	fl   *flock.Flock
}

// NewLock returns the lock for a repo's .ccb directory, without
// acquiring it.
func NewLock(lockPath string) *Lock {
	return &Lock{path: lockPath, fl: flock.New(lockPath)}
}

// TryAcquire attempts a non-blocking exclusive lock, creating the lock
// file's parent directory if needed.
func (l *Lock) TryAcquire() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("autoloop: create lock dir: %w", err)
	}
	ok, err := l.fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("autoloop: acquire lock: %w", err)
	}
	return ok, nil
}

// Release drops the lock. Safe to call on an unlocked Lock.
func (l *Lock) Release() error {
	return l.fl.Unlock()
}
