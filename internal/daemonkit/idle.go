package daemonkit

import (
	"sync"
	"time"
)

// IdleMonitor tracks in-flight request count and last-activity time and,
// once no request is in flight for idleTimeout, invokes a shutdown
// callback (spec §4.4 "Idle monitor": "Tracks (active_requests,
// last_activity) under a lock; if active_requests == 0 and
// now − last_activity ≥ idle_timeout_s, requests server shutdown").
// A zero or negative timeout disables the monitor entirely, which is how
// "managed" mode (spec §9) turns idle shutdown off.
type IdleMonitor struct {
	mu             sync.Mutex
	activeRequests int
	lastActivity   time.Time
	timeout        time.Duration

	stop chan struct{}
	once sync.Once
}

// NewIdleMonitor builds a monitor with the given timeout; pass a
// non-positive duration for "managed" mode.
func NewIdleMonitor(timeout time.Duration) *IdleMonitor {
	return &IdleMonitor{
		timeout:      timeout,
		lastActivity: time.Now(),
		stop:         make(chan struct{}),
	}
}

// BeginRequest marks a request as in-flight.
func (m *IdleMonitor) BeginRequest() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeRequests++
	m.lastActivity = time.Now()
}

// EndRequest marks a request as finished.
func (m *IdleMonitor) EndRequest() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeRequests > 0 {
		m.activeRequests--
	}
	m.lastActivity = time.Now()
}

// Touch records activity without changing the in-flight count (used for
// ping/shutdown messages, which don't go through BeginRequest/EndRequest).
func (m *IdleMonitor) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActivity = time.Now()
}

// Run polls every 500ms until idle for timeout, then calls onIdle exactly
// once and returns. Returns immediately, doing nothing, if timeout <= 0.
func (m *IdleMonitor) Run(onIdle func()) {
	if m.timeout <= 0 {
		return
	}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			active := m.activeRequests
			last := m.lastActivity
			m.mu.Unlock()
			if active == 0 && time.Since(last) >= m.timeout {
				m.once.Do(onIdle)
				return
			}
		}
	}
}

// Stop halts a running Run goroutine without invoking onIdle.
func (m *IdleMonitor) Stop() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
}
