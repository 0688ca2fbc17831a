package terminal

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Iterm2Backend drives iTerm2 via the `it2` CLI (pip install it2).
// Grounded on terminal.py's Iterm2Backend: send-then-Enter with a short
// fixed settle delay, `it2 session list --json` for liveness, split for
// new panes.
type Iterm2Backend struct {
	Bin string // defaults to "it2"
}

func (b Iterm2Backend) bin() string {
	if b.Bin != "" {
		return b.Bin
	}
	return "it2"
}

func (b Iterm2Backend) Kind() string { return "iterm2" }

func (b Iterm2Backend) SendText(sessionID, text string) error {
	sanitized := strings.TrimSpace(strings.ReplaceAll(text, "\r", ""))
	if sanitized == "" {
		return nil
	}
	if err := exec.Command(b.bin(), "session", "send", sanitized, "--session", sessionID).Run(); err != nil {
		return fmt.Errorf("terminal: it2 session send: %w", err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := exec.Command(b.bin(), "session", "send", "\r", "--session", sessionID).Run(); err != nil {
		return fmt.Errorf("terminal: it2 session send Enter: %w", err)
	}
	return nil
}

type it2Session struct {
	ID string `json:"id"`
}

func (b Iterm2Backend) IsAlive(sessionID string) bool {
	out, err := exec.Command(b.bin(), "session", "list", "--json").Output()
	if err != nil {
		return false
	}
	var sessions []it2Session
	if err := json.Unmarshal(out, &sessions); err != nil {
		return false
	}
	for _, s := range sessions {
		if s.ID == sessionID {
			return true
		}
	}
	return false
}

// FindPaneByTitleMarker is unsupported: the retrieval pack's it2 CLI
// surface (session list --json) has no title field to match against, so
// iTerm2 session rediscovery relies on the session id alone.
func (b Iterm2Backend) FindPaneByTitleMarker(marker string) (string, bool) {
	return "", false
}

func (b Iterm2Backend) CapturePaneText(sessionID string, n int) (string, error) {
	return "", fmt.Errorf("terminal: iterm2 capture-pane text: %w", ErrUnsupported)
}

func (b Iterm2Backend) KillPane(sessionID string) error {
	return exec.Command(b.bin(), "session", "close", "--session", sessionID, "--force").Run()
}

func (b Iterm2Backend) Activate(sessionID string) error {
	return exec.Command(b.bin(), "session", "focus", sessionID).Run()
}

func (b Iterm2Backend) CreatePane(opts CreatePaneOptions) (string, error) {
	args := []string{"session", "split"}
	if opts.Direction != SplitBottom {
		args = append(args, "--vertical")
	}
	if opts.ParentPane != "" {
		args = append(args, "--session", opts.ParentPane)
	}
	out, err := exec.Command(b.bin(), args...).Output()
	if err != nil {
		return "", fmt.Errorf("terminal: it2 session split: %w", err)
	}
	// it2's output is "Created new pane: <session_id>".
	output := strings.TrimSpace(string(out))
	newSessionID := output
	if idx := strings.LastIndex(output, ":"); idx != -1 {
		newSessionID = strings.TrimSpace(output[idx+1:])
	}
	if newSessionID == "" {
		return "", fmt.Errorf("terminal: it2 session split: could not parse session id from %q", output)
	}

	if opts.Cmd != "" {
		time.Sleep(200 * time.Millisecond)
		fullCmd := fmt.Sprintf("cd %s && %s", shellQuote(opts.WorkDir), opts.Cmd)
		if err := b.SendText(newSessionID, fullCmd); err != nil {
			return newSessionID, err
		}
	}
	return newSessionID, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
