//go:build windows

package terminal

import (
	"fmt"
	"strings"
	"sync"

	"github.com/UserExistsError/conpty"
)

// DirectBackend is the Windows equivalent of the Unix direct-mode
// backend: no tmux/WezTerm/iTerm2 available, so the provider CLI runs
// directly under a Windows pseudo-console. Grounded on the same
// direct-mode contract as direct_unix.go, adapted from creack/pty to
// UserExistsError/conpty per the Windows terminal backend already
// committed to for the process monitor (daemonkit's OpenProcess use).
type DirectBackend struct {
	mu   sync.Mutex
	cpt  *conpty.ConPty
	ring *directRingBuffer
}

func (b *DirectBackend) Kind() string { return "direct" }

// Start launches commandLine (a full command line string, as conpty
// expects) under a new pseudo-console. A background goroutine tails
// the pseudo-console into a ring buffer, the Windows equivalent of
// direct_unix.go's readLoop.
func (b *DirectBackend) Start(commandLine string) error {
	cpt, err := conpty.Start(commandLine)
	if err != nil {
		return fmt.Errorf("terminal: direct conpty.Start: %w", err)
	}
	ring := newDirectRingBuffer()
	b.mu.Lock()
	b.cpt = cpt
	b.ring = ring
	b.mu.Unlock()
	go b.readLoop(cpt, ring)
	return nil
}

func (b *DirectBackend) readLoop(cpt *conpty.ConPty, ring *directRingBuffer) {
	buf := make([]byte, 32*1024)
	for {
		n, err := cpt.Read(buf)
		if n > 0 {
			ring.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// Resize mirrors the Unix backend's pty.Setsize via conpty's Resize.
func (b *DirectBackend) Resize(cols, rows uint16) error {
	b.mu.Lock()
	cpt := b.cpt
	b.mu.Unlock()
	if cpt == nil {
		return fmt.Errorf("%w: direct conpty not started", ErrPaneUnavailable)
	}
	return cpt.Resize(int(cols), int(rows))
}

func (b *DirectBackend) SendText(paneID, text string) error {
	b.mu.Lock()
	cpt := b.cpt
	b.mu.Unlock()
	if cpt == nil {
		return fmt.Errorf("%w: direct conpty not started", ErrPaneUnavailable)
	}
	sanitized := strings.TrimSpace(strings.ReplaceAll(text, "\r", ""))
	if sanitized == "" {
		return nil
	}
	if _, err := cpt.Write([]byte(sanitized + "\r\n")); err != nil {
		return fmt.Errorf("terminal: direct conpty write: %w", err)
	}
	return nil
}

func (b *DirectBackend) IsAlive(paneID string) bool {
	b.mu.Lock()
	cpt := b.cpt
	b.mu.Unlock()
	if cpt == nil {
		return false
	}
	_, err := cpt.Wait(nil)
	return err != nil
}

func (b *DirectBackend) FindPaneByTitleMarker(marker string) (string, bool) {
	return "", false
}

// CapturePaneText returns the last n lines captured from the
// pseudo-console's ring buffer; see direct_unix.go's CapturePaneText.
func (b *DirectBackend) CapturePaneText(paneID string, n int) (string, error) {
	b.mu.Lock()
	ring := b.ring
	b.mu.Unlock()
	if ring == nil {
		return "", fmt.Errorf("%w: direct conpty not started", ErrPaneUnavailable)
	}
	return lastLines(ring.Bytes(), n), nil
}

func (b *DirectBackend) KillPane(paneID string) error {
	b.mu.Lock()
	cpt := b.cpt
	b.mu.Unlock()
	if cpt == nil {
		return nil
	}
	return cpt.Close()
}

func (b *DirectBackend) Activate(paneID string) error {
	return fmt.Errorf("terminal: direct activate: %w", ErrUnsupported)
}

func (b *DirectBackend) CreatePane(opts CreatePaneOptions) (string, error) {
	return "", fmt.Errorf("terminal: direct create-pane: %w", ErrUnsupported)
}

// PaneID returns the fixed identifier for a direct-mode pane.
func PaneID() string { return directPaneID }

const directPaneID = "direct"
