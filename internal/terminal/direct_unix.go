//go:build !windows

package terminal

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/creack/pty/v2"
)

// DirectBackend runs the provider CLI directly under a PTY with no
// multiplexer in front of it (spec §2 item 1's "direct mode" fallback,
// used when neither tmux nor a GUI terminal is available — e.g. inside
// CI or a container). Grounded on
// _examples/loppo-llc-kojo/internal/session/manager.go's
// pty.Start/pty.StartWithSize usage and session/pty.go's Resize.
//
// A DirectBackend owns exactly one pane: its pane id is always "direct".
// CreatePane is unsupported, since direct mode has no concept of a split;
// the caller's single process IS the pane.
type DirectBackend struct {
	mu   sync.Mutex
	ptmx *os.File
	cmd  *exec.Cmd
	ring *directRingBuffer
}

const directPaneID = "direct"

func (b *DirectBackend) Kind() string { return "direct" }

// Start launches cmd under a PTY. Must be called before any other method.
// A background goroutine tails the PTY into a ring buffer (mirroring the
// teacher's readLoop/scrollback pair) so CapturePaneText has something
// to serve even with no multiplexer pane to query.
func (b *DirectBackend) Start(cmd *exec.Cmd) error {
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("terminal: direct pty.Start: %w", err)
	}
	ring := newDirectRingBuffer()
	b.mu.Lock()
	b.ptmx = ptmx
	b.cmd = cmd
	b.ring = ring
	b.mu.Unlock()
	go b.readLoop(ptmx, ring)
	return nil
}

func (b *DirectBackend) readLoop(ptmx *os.File, ring *directRingBuffer) {
	buf := make([]byte, 32*1024)
	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			ring.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// Resize mirrors kojo's Session.Resize: pty.Setsize with no tmux pane to
// additionally resize.
func (b *DirectBackend) Resize(cols, rows uint16) error {
	b.mu.Lock()
	ptmx := b.ptmx
	b.mu.Unlock()
	if ptmx == nil {
		return os.ErrClosed
	}
	return pty.Setsize(ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

func (b *DirectBackend) SendText(paneID, text string) error {
	b.mu.Lock()
	ptmx := b.ptmx
	b.mu.Unlock()
	if ptmx == nil {
		return fmt.Errorf("%w: direct pty not started", ErrPaneUnavailable)
	}
	sanitized := strings.TrimSpace(strings.ReplaceAll(text, "\r", ""))
	if sanitized == "" {
		return nil
	}
	if _, err := ptmx.Write([]byte(sanitized + "\n")); err != nil {
		return fmt.Errorf("terminal: direct pty write: %w", err)
	}
	return nil
}

func (b *DirectBackend) IsAlive(paneID string) bool {
	b.mu.Lock()
	cmd := b.cmd
	b.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return false
	}
	return cmd.ProcessState == nil
}

// FindPaneByTitleMarker is unsupported: direct mode has exactly one pane
// and no window manager to query a title from.
func (b *DirectBackend) FindPaneByTitleMarker(marker string) (string, bool) {
	return "", false
}

// CapturePaneText returns the last n lines captured from the PTY's
// ring buffer. Unlike the multiplexer backends, this is a scrollback
// of everything written since Start, not a redraw of a fixed-size
// terminal screen — direct mode has no screen to redraw.
func (b *DirectBackend) CapturePaneText(paneID string, n int) (string, error) {
	b.mu.Lock()
	ring := b.ring
	b.mu.Unlock()
	if ring == nil {
		return "", fmt.Errorf("terminal: direct capture-pane: %w", ErrPaneUnavailable)
	}
	return lastLines(ring.Bytes(), n), nil
}

func (b *DirectBackend) KillPane(paneID string) error {
	b.mu.Lock()
	cmd := b.cmd
	ptmx := b.ptmx
	b.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	if ptmx != nil {
		return ptmx.Close()
	}
	return nil
}

func (b *DirectBackend) Activate(paneID string) error {
	return fmt.Errorf("terminal: direct activate: %w", ErrUnsupported)
}

func (b *DirectBackend) CreatePane(opts CreatePaneOptions) (string, error) {
	return "", fmt.Errorf("terminal: direct create-pane: %w", ErrUnsupported)
}

// PaneID returns the fixed identifier for a direct-mode pane.
func PaneID() string { return directPaneID }
