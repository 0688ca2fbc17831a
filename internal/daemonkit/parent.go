package daemonkit

import (
	"os"
	"strconv"
	"time"
)

// ParentPIDFromEnv reads CCB_PARENT_PID, returning 0 if unset, blank, or
// not a positive integer (spec §4.4 managed-mode detection).
func ParentPIDFromEnv() int {
	raw := os.Getenv("CCB_PARENT_PID")
	if raw == "" {
		return 0
	}
	pid, err := strconv.Atoi(raw)
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

// ManagedFromEnv reports CCB_MANAGED truthiness, per the same
// 1/true/yes/on vocabulary the original env-truthy helper used.
func ManagedFromEnv() bool {
	raw := os.Getenv("CCB_MANAGED")
	switch raw {
	case "1", "true", "yes", "on", "TRUE", "YES", "ON", "True", "Yes", "On":
		return true
	default:
		return false
	}
}

// ParentMonitor polls a parent pid every 500ms and invokes onExit once,
// the first time the parent is no longer alive (spec §4.4: "parent-pid
// liveness").
type ParentMonitor struct {
	pid  int
	stop chan struct{}
}

// NewParentMonitor returns a monitor for pid. A non-positive pid disables
// the monitor (Run returns immediately).
func NewParentMonitor(pid int) *ParentMonitor {
	return &ParentMonitor{pid: pid, stop: make(chan struct{})}
}

// Run blocks, polling until the parent dies or Stop is called.
func (m *ParentMonitor) Run(onExit func()) {
	if m.pid <= 0 {
		return
	}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if !IsProcessAlive(m.pid) {
				onExit()
				return
			}
		}
	}
}

// Stop halts a running Run goroutine without invoking onExit.
func (m *ParentMonitor) Stop() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
}
