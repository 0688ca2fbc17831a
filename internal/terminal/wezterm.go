package terminal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// WeztermBackend drives WezTerm via `wezterm cli`. Grounded on
// terminal.py's WeztermBackend: argv-mode send-text for short single-line
// payloads, stdin for longer single-line text, bracketed paste
// (send-text without --no-paste) for multi-line text, then a separate
// Enter keystroke with a platform-appropriate delay and retry (Windows
// native occasionally drops the first Enter).
type WeztermBackend struct {
	Bin string // defaults to "wezterm"

	// EnterDelay before sending the trailing Enter keystroke. Defaults
	// to 50ms on Windows, 10ms elsewhere (terminal.py's default_delay).
	EnterDelay time.Duration
	// PasteDelay after a bracketed paste, before Enter, letting the TUI
	// finish processing the pasted block.
	PasteDelay time.Duration
}

func (b WeztermBackend) bin() string {
	if b.Bin != "" {
		return b.Bin
	}
	return "wezterm"
}

func (b WeztermBackend) Kind() string { return "wezterm" }

type weztermPane struct {
	PaneID int    `json:"pane_id"`
	Title  string `json:"title"`
}

func (b WeztermBackend) listPanes() []weztermPane {
	out, err := exec.Command(b.bin(), "cli", "list", "--format", "json").Output()
	if err != nil {
		return nil
	}
	var panes []weztermPane
	if err := json.Unmarshal(out, &panes); err != nil {
		return nil
	}
	return panes
}

func (b WeztermBackend) paneIDByMarker(panes []weztermPane, marker string) (string, bool) {
	if marker == "" {
		return "", false
	}
	for _, p := range panes {
		if strings.HasPrefix(p.Title, marker) {
			return strconv.Itoa(p.PaneID), true
		}
	}
	return "", false
}

func (b WeztermBackend) FindPaneByTitleMarker(marker string) (string, bool) {
	return b.paneIDByMarker(b.listPanes(), marker)
}

func (b WeztermBackend) IsAlive(paneID string) bool {
	panes := b.listPanes()
	if len(panes) == 0 {
		return false
	}
	for _, p := range panes {
		if strconv.Itoa(p.PaneID) == paneID {
			return true
		}
	}
	_, ok := b.paneIDByMarker(panes, paneID)
	return ok
}

func (b WeztermBackend) sendEnter(paneID string) error {
	delay := b.EnterDelay
	if delay == 0 {
		if isWindows() {
			delay = 50 * time.Millisecond
		} else {
			delay = 10 * time.Millisecond
		}
	}
	time.Sleep(delay)

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		cmd := exec.Command(b.bin(), "cli", "send-text", "--pane-id", paneID, "--no-paste")
		cmd.Stdin = bytes.NewReader([]byte("\r"))
		if err := cmd.Run(); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("terminal: wezterm send Enter: %w", lastErr)
}

func (b WeztermBackend) SendText(paneID, text string) error {
	sanitized := strings.TrimSpace(strings.ReplaceAll(text, "\r", ""))
	if sanitized == "" {
		return nil
	}

	if !strings.Contains(sanitized, "\n") {
		var err error
		if len(sanitized) <= sendTextInlineLimit {
			err = exec.Command(b.bin(), "cli", "send-text", "--pane-id", paneID, "--no-paste", sanitized).Run()
		} else {
			cmd := exec.Command(b.bin(), "cli", "send-text", "--pane-id", paneID, "--no-paste")
			cmd.Stdin = bytes.NewReader([]byte(sanitized))
			err = cmd.Run()
		}
		if err != nil {
			return fmt.Errorf("terminal: wezterm send-text: %w", err)
		}
		return b.sendEnter(paneID)
	}

	cmd := exec.Command(b.bin(), "cli", "send-text", "--pane-id", paneID)
	cmd.Stdin = bytes.NewReader([]byte(sanitized))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("terminal: wezterm bracketed paste: %w", err)
	}

	pasteDelay := b.PasteDelay
	if pasteDelay == 0 {
		pasteDelay = 100 * time.Millisecond
	}
	time.Sleep(pasteDelay)
	return b.sendEnter(paneID)
}

func (b WeztermBackend) CapturePaneText(paneID string, n int) (string, error) {
	out, err := exec.Command(b.bin(), "cli", "get-text", "--pane-id", paneID).Output()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPaneUnavailable, err)
	}
	text := string(out)
	if n > 0 {
		lines := strings.Split(text, "\n")
		if len(lines) > n {
			lines = lines[len(lines)-n:]
		}
		text = strings.Join(lines, "\n")
	}
	return text, nil
}

func (b WeztermBackend) KillPane(paneID string) error {
	return exec.Command(b.bin(), "cli", "kill-pane", "--pane-id", paneID).Run()
}

func (b WeztermBackend) Activate(paneID string) error {
	return exec.Command(b.bin(), "cli", "activate-pane", "--pane-id", paneID).Run()
}

func (b WeztermBackend) CreatePane(opts CreatePaneOptions) (string, error) {
	args := []string{"cli", "split-pane", "--cwd", opts.WorkDir}
	switch opts.Direction {
	case SplitBottom:
		args = append(args, "--bottom")
	default:
		args = append(args, "--right")
	}
	percent := opts.Percent
	if percent <= 0 {
		percent = 50
	}
	args = append(args, "--percent", strconv.Itoa(percent))
	if opts.ParentPane != "" {
		args = append(args, "--pane-id", opts.ParentPane)
	}
	args = append(args, "--", "bash", "-c", opts.Cmd)

	out, err := exec.Command(b.bin(), args...).Output()
	if err != nil {
		return "", fmt.Errorf("terminal: wezterm split-pane: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

func isWindows() bool { return runtime.GOOS == "windows" }
