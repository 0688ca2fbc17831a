package terminal

import "fmt"

// Resolve returns the Backend implementation for a session record's
// "terminal" field (spec §3): "tmux", "wezterm", "iterm2", or "direct".
// Grounded on terminal.py's get_backend(kind) factory function.
func Resolve(kind string) (Backend, error) {
	switch kind {
	case "", "tmux":
		return TmuxBackend{}, nil
	case "wezterm":
		return WeztermBackend{}, nil
	case "iterm2":
		return Iterm2Backend{}, nil
	case "direct":
		return &DirectBackend{}, nil
	default:
		return nil, fmt.Errorf("terminal: unknown backend kind %q", kind)
	}
}
