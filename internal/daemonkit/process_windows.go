//go:build windows

package daemonkit

import "golang.org/x/sys/windows"

// IsProcessAlive mirrors the original implementation's ctypes OpenProcess
// probe: if the process can be opened with SYNCHRONIZE rights, it's alive.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	h, err := windows.OpenProcess(windows.SYNCHRONIZE, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(h)
	return true
}
