package terminal

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// TmuxBackend drives tmux via its CLI. Grounded on
// _examples/loppo-llc-kojo/internal/session/tmux.go (session lifecycle,
// capture-pane, has-session) and terminal.py's TmuxBackend.send_text
// (fast path for short single-line text, load-buffer/paste-buffer for
// multi-line or long payloads).
type TmuxBackend struct {
	// EnterDelay adds a pause between pasting a buffer and sending
	// Enter, overridable the way CCB_TMUX_ENTER_DELAY does in the
	// original.
	EnterDelay time.Duration
}

func (b TmuxBackend) Kind() string { return "tmux" }

// sendTextInlineLimit matches terminal.py's send_text fast-path cutoff:
// short, single-line payloads are typed directly; anything longer or
// multi-line goes through a paste buffer.
const sendTextInlineLimit = 200

func (b TmuxBackend) SendText(session, text string) error {
	sanitized := strings.TrimSpace(strings.ReplaceAll(text, "\r", ""))
	if sanitized == "" {
		return nil
	}

	if !strings.Contains(sanitized, "\n") && len(sanitized) <= sendTextInlineLimit {
		if err := run("tmux", "send-keys", "-t", session, "-l", sanitized); err != nil {
			return fmt.Errorf("terminal: tmux send-keys: %w", err)
		}
		if err := run("tmux", "send-keys", "-t", session, "Enter"); err != nil {
			return fmt.Errorf("terminal: tmux send-keys Enter: %w", err)
		}
		return nil
	}

	bufferName := fmt.Sprintf("ccb-%d-%d", os.Getpid(), time.Now().UnixMilli())
	if err := runWithInput([]byte(sanitized), "tmux", "load-buffer", "-b", bufferName, "-"); err != nil {
		return fmt.Errorf("terminal: tmux load-buffer: %w", err)
	}
	defer exec.Command("tmux", "delete-buffer", "-b", bufferName).Run()

	if err := run("tmux", "paste-buffer", "-t", session, "-b", bufferName, "-p"); err != nil {
		return fmt.Errorf("terminal: tmux paste-buffer: %w", err)
	}
	if b.EnterDelay > 0 {
		time.Sleep(b.EnterDelay)
	}
	if err := run("tmux", "send-keys", "-t", session, "Enter"); err != nil {
		return fmt.Errorf("terminal: tmux send-keys Enter: %w", err)
	}
	return nil
}

func (b TmuxBackend) IsAlive(session string) bool {
	return exec.Command("tmux", "has-session", "-t", session).Run() == nil
}

// FindPaneByTitleMarker is a no-op for tmux: a tmux session's own name is
// the stable, caller-chosen handle (spec §3's pane_title_marker exists to
// rediscover ephemeral WezTerm/iTerm2 pane ids after a restart; a tmux
// session name never changes underneath us).
func (b TmuxBackend) FindPaneByTitleMarker(marker string) (string, bool) {
	return "", false
}

func (b TmuxBackend) CapturePaneText(session string, n int) (string, error) {
	out, err := exec.Command("tmux", "capture-pane", "-t", session, "-p", "-e").Output()
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

func (b TmuxBackend) KillPane(session string) error {
	return exec.Command("tmux", "kill-session", "-t", session).Run()
}

func (b TmuxBackend) Activate(session string) error {
	return exec.Command("tmux", "attach", "-t", session).Run()
}

func (b TmuxBackend) CreatePane(opts CreatePaneOptions) (string, error) {
	name := fmt.Sprintf("ccb-%d-%d", time.Now().Unix()%100000, os.Getpid())
	args := []string{"new-session", "-d", "-s", name, "-c", opts.WorkDir, opts.Cmd}
	if err := run("tmux", args...); err != nil {
		return "", fmt.Errorf("terminal: tmux new-session: %w", err)
	}
	_ = exec.Command("tmux", "set-option", "-t", name, "remain-on-exit", "on").Run()
	return name, nil
}

// PaneDead reports whether the tmux pane backing session has exited, and
// its exit code, mirroring kojo's tmuxPaneDead (#{pane_dead}/#{pane_dead_status}).
func (b TmuxBackend) PaneDead(session string) (dead bool, exitCode int, err error) {
	out, err := exec.Command("tmux", "display-message", "-t", session, "-p", "#{pane_dead}:#{pane_dead_status}").Output()
	if err != nil {
		return false, 0, fmt.Errorf("terminal: tmux display-message: %w", err)
	}
	parts := strings.SplitN(strings.TrimSpace(string(out)), ":", 2)
	if len(parts) != 2 {
		return false, 0, fmt.Errorf("terminal: unexpected tmux display-message output: %q", out)
	}
	if parts[0] != "1" {
		return false, 0, nil
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return true, 1, nil
	}
	return true, code, nil
}

func run(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return err
	}
	return nil
}

func runWithInput(input []byte, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdin = bytes.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return err
	}
	return nil
}
