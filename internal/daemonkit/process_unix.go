//go:build !windows

package daemonkit

import (
	"os"
	"syscall"
)

// IsProcessAlive sends signal 0 to pid, which the kernel validates without
// actually delivering a signal — the standard POSIX liveness probe used by
// the original implementation's os.kill(pid, 0).
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}
