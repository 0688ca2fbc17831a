// Package daemonkit is the daemon server kernel shared by every provider
// daemon (askd, caskd, gaskd, oaskd, the unified daemon, and maild): state
// file publication, the process lock, idle/parent supervision, and the
// token-gated TCP ping/shutdown/request loop (spec §4.4).
package daemonkit

import (
	"os"
	"path/filepath"
)

const runDirName = ".config/ccb/run"

// RunDir returns the well-known directory every daemon's state file, lock
// file, and log file live under (spec §3, §7: "<run_dir>/<daemon>.json").
// It is created on demand by WriteState / the lock acquire path.
// CCB_RUN_DIR (spec §6) overrides the default location entirely, the
// same env-first resolution the original gives run_dir().
func RunDir() string {
	if dir := os.Getenv("CCB_RUN_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, runDirName)
}

// StatePath returns the path to a daemon's state file.
func StatePath(daemonKey string) string {
	return filepath.Join(RunDir(), daemonKey+".json")
}

// LockPath returns the path to a daemon's single-instance lock file.
func LockPath(daemonKey string) string {
	return filepath.Join(RunDir(), "."+daemonKey+".lock")
}

// LogPath returns the path to a daemon's append-only log file.
func LogPath(daemonKey string) string {
	return filepath.Join(RunDir(), daemonKey+".log")
}
