// Package terminal abstracts the three terminal multiplexers CCB drives
// (tmux, WezTerm, iTerm2) plus a direct-mode PTY fallback behind one
// capability surface (spec §2 item 1, §4's "terminal capability"):
// inject text into a pane, query liveness, capture recent screen text,
// list panes by title marker, create a split. Grounded on
// _examples/original_source/lib/terminal.py's TerminalBackend hierarchy
// and _examples/loppo-llc-kojo/internal/session/tmux.go.
package terminal

import "errors"

// ErrPaneUnavailable is returned when an operation targets a pane that no
// longer exists (or never did).
var ErrPaneUnavailable = errors.New("terminal: pane unavailable")

// ErrUnsupported is returned by a backend for an operation it cannot
// perform (e.g. a direct-mode PTY has no "split" concept).
var ErrUnsupported = errors.New("terminal: operation unsupported by this backend")

// SplitDirection mirrors terminal.py's create_pane direction parameter.
type SplitDirection string

const (
	SplitRight  SplitDirection = "right"
	SplitBottom SplitDirection = "bottom"
)

// CreatePaneOptions configures a new split (spec §4: "create a split").
type CreatePaneOptions struct {
	Cmd        string
	WorkDir    string
	Direction  SplitDirection
	Percent    int // 1-99, default 50
	ParentPane string
}

// Backend is the uniform terminal capability every provider delegation
// goes through. Implementations: TmuxBackend, WeztermBackend,
// Iterm2Backend, and the direct-mode PTY backend (direct_unix.go /
// direct_windows.go).
type Backend interface {
	// Kind identifies which multiplexer this backend drives: "tmux",
	// "wezterm", "iterm2", or "direct" — the same vocabulary as the
	// session record's "terminal" field (spec §3).
	Kind() string

	// SendText injects text into the pane and submits it (spec §4
	// "inject text into a pane"). A multi-line or >200-char payload
	// uses paste mode where the backend supports it; a short
	// single-line payload is typed directly.
	SendText(paneID, text string) error

	// IsAlive reports whether paneID still refers to a live pane.
	IsAlive(paneID string) bool

	// FindPaneByTitleMarker resolves a pane by a previously-set title
	// marker, used to rediscover a restarted pane when its id goes
	// stale (spec §2 item 2).
	FindPaneByTitleMarker(marker string) (string, bool)

	// CapturePaneText returns the last n lines of a pane's visible
	// screen content. n <= 0 returns the whole available capture.
	CapturePaneText(paneID string, n int) (string, error)

	// KillPane terminates the pane.
	KillPane(paneID string) error

	// Activate brings the pane into focus, where the backend supports
	// window activation (best-effort — not all backends can do this
	// headlessly).
	Activate(paneID string) error

	// CreatePane opens a new split running opts.Cmd in opts.WorkDir and
	// returns its pane id.
	CreatePane(opts CreatePaneOptions) (string, error)
}
