// Package sessionreg implements the project session record (spec §3
// "Project session record") and the process-wide registry directory
// (spec §2 item 2) that advertises live sessions for cross-provider
// lookup. Grounded on _examples/original_source/lib/gaskd_session.py and
// oaskd_session.py (the per-provider record shape and compute_session_key)
// and _examples/loppo-llc-kojo/internal/session/store.go (atomic writes).
package sessionreg

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// recordFileName returns the well-known record filename for a provider,
// e.g. ".codex-session", ".gemini-session" (spec §3: "one file per
// {work_dir}/.{provider}-session").
func recordFileName(provider string) string {
	return "." + provider + "-session"
}

// RecordPath returns the path a provider's session record would live at
// under workDir.
func RecordPath(workDir, provider string) string {
	return filepath.Join(workDir, recordFileName(provider))
}

// Record is one project's binding to a provider TUI: terminal kind, pane
// handle, pane-title marker, and the provider's own session id/transcript
// path (spec §3 table). The backing store is a loosely-typed map so that
// provider-specific extra fields (e.g. oaskd's opencode_project_id) round
// trip untouched even though this package doesn't know their names.
type Record struct {
	mu       sync.Mutex
	path     string
	provider string
	data     map[string]any
}

// Load reads a provider's session record from workDir. ok is false, with
// a nil error, when no record file exists yet.
func Load(workDir, provider string) (*Record, bool, error) {
	path := RecordPath(workDir, provider)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("sessionreg: read %s: %w", path, err)
	}
	raw = bytes.TrimPrefix(raw, []byte{0xEF, 0xBB, 0xBF}) // tolerate a BOM like the original's utf-8-sig read

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, false, fmt.Errorf("sessionreg: parse %s: %w", path, err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return &Record{path: path, provider: provider, data: data}, true, nil
}

// New creates a fresh, unsaved record for workDir; call Save to persist it.
func New(workDir, provider string) *Record {
	return &Record{
		path:     RecordPath(workDir, provider),
		provider: provider,
		data: map[string]any{
			"work_dir": workDir,
			"active":   true,
		},
	}
}

func (r *Record) str(key string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, _ := r.data[key].(string)
	return v
}

// Terminal is one of "tmux" | "wezterm" | "iterm2", defaulting to "tmux".
func (r *Record) Terminal() string {
	if t := r.str("terminal"); t != "" {
		return t
	}
	return "tmux"
}

// PaneID returns the handle into the bound multiplexer: tmux_session for
// the tmux backend, pane_id for wezterm/iterm2 (spec §3: "pane_id |
// tmux_session").
func (r *Record) PaneID() string {
	if r.Terminal() == "tmux" {
		return r.str("tmux_session")
	}
	return r.str("pane_id")
}

// PaneTitleMarker is the stable string used to rediscover a restarted pane.
func (r *Record) PaneTitleMarker() string { return r.str("pane_title_marker") }

// WorkDir is the absolute project path this record belongs to.
func (r *Record) WorkDir() string {
	if wd := r.str("work_dir"); wd != "" {
		return wd
	}
	return filepath.Dir(r.path)
}

// SessionID returns "<provider>_session_id".
func (r *Record) SessionID() string { return r.str(r.provider + "_session_id") }

// SessionPath returns "<provider>_session_path".
func (r *Record) SessionPath() string { return r.str(r.provider + "_session_path") }

// OldSessionID returns "old_<provider>_session_id".
func (r *Record) OldSessionID() string { return r.str("old_" + r.provider + "_session_id") }

// OldSessionPath returns "old_<provider>_session_path".
func (r *Record) OldSessionPath() string { return r.str("old_" + r.provider + "_session_path") }

// Active reports whether lifecycle tooling still considers this binding
// live; defaults to true when the field is absent.
func (r *Record) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.data["active"].(bool)
	if !ok {
		return true
	}
	return v
}

// Extra returns a provider-specific field by its raw key (e.g.
// "opencode_project_id"), for callers that need a field this package has
// no typed accessor for.
func (r *Record) Extra(key string) string {
	return r.str(key)
}

// SetPaneID updates pane_id/tmux_session for the current terminal kind.
func (r *Record) SetPaneID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data["terminal"] == "tmux" || r.data["terminal"] == nil {
		r.data["tmux_session"] = id
	} else {
		r.data["pane_id"] = id
	}
	r.touch()
}

// SetPaneTitleMarker sets the rediscovery marker.
func (r *Record) SetPaneTitleMarker(marker string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data["pane_title_marker"] = marker
	r.touch()
}

// SetTerminal sets the bound terminal kind.
func (r *Record) SetTerminal(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data["terminal"] = kind
	r.touch()
}

// UpdateSessionID rebinds "<provider>_session_id", preserving the previous
// value under "old_<provider>_session_id" when it changes (spec §3:
// "old_<provider>_session_{id,path} — previous binding, for transfer
// helpers — set on rebind"). No-op if id is empty or unchanged.
func (r *Record) UpdateSessionID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == "" {
		return
	}
	key := r.provider + "_session_id"
	if cur, _ := r.data[key].(string); cur == id {
		return
	} else if cur != "" {
		r.data["old_"+key] = cur
	}
	r.data[key] = id
	if active, ok := r.data["active"].(bool); ok && !active {
		r.data["active"] = true
	}
	r.touch()
}

// UpdateSessionPath rebinds "<provider>_session_path", with the same
// old-value preservation as UpdateSessionID.
func (r *Record) UpdateSessionPath(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if path == "" {
		return
	}
	key := r.provider + "_session_path"
	if cur, _ := r.data[key].(string); cur == path {
		return
	} else if cur != "" {
		r.data["old_"+key] = cur
	}
	r.data[key] = path
	r.touch()
}

// SetExtra sets an arbitrary provider-specific field.
func (r *Record) SetExtra(key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[key] = value
	r.touch()
}

// must hold r.mu
func (r *Record) touch() {
	r.data["updated_at"] = time.Now().Format("2006-01-02 15:04:05")
}

// ComputeSessionKey implements the session key priority rule shared by
// every provider adapter: pane_title_marker, else pane_id, else the
// provider's own session id, else a file-path fallback so a never-bound
// record still gets a stable key (gaskd_session.py / oaskd_session.py
// compute_session_key, generalized across providers).
func (r *Record) ComputeSessionKey() string {
	if marker := r.PaneTitleMarker(); marker != "" {
		return fmt.Sprintf("%s_marker:%s", r.provider, marker)
	}
	if pane := r.PaneID(); pane != "" {
		return fmt.Sprintf("%s_pane:%s", r.provider, pane)
	}
	if sid := r.SessionID(); sid != "" {
		return fmt.Sprintf("%s:%s", r.provider, sid)
	}
	r.mu.Lock()
	path := r.path
	r.mu.Unlock()
	return fmt.Sprintf("%s_file:%s", r.provider, path)
}

// PaneResolver is the minimal terminal-capability surface EnsurePane needs:
// check pane liveness and resolve a stale pane id from its title marker.
// Defined here, at the point of use, so sessionreg has no import-time
// dependency on internal/terminal.
type PaneResolver interface {
	IsAlive(paneID string) bool
	FindPaneByTitleMarker(marker string) (string, bool)
}

// EnsurePane confirms the record's bound pane is alive, resolving it by
// title marker first if the stored pane id is stale (spec §2 item 2:
// "best-effort pane resolution by title marker when a pane id is stale").
// On successful re-resolution the record is written back with the new
// pane id.
func (r *Record) EnsurePane(backend PaneResolver) (string, bool) {
	if pane := r.PaneID(); pane != "" && backend.IsAlive(pane) {
		return pane, true
	}
	marker := r.PaneTitleMarker()
	if marker == "" {
		return "", false
	}
	resolved, ok := backend.FindPaneByTitleMarker(marker)
	if !ok {
		return "", false
	}
	r.SetPaneID(resolved)
	_ = r.Save()
	return resolved, true
}

// Save atomically writes the record back to disk (tmp + rename, mode
// 0600), the same pattern the teacher's session/store.go Save uses.
func (r *Record) Save() error {
	r.mu.Lock()
	data, err := json.MarshalIndent(r.data, "", "  ")
	path := r.path
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("sessionreg: marshal record: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("sessionreg: create work dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("sessionreg: write tmp record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("sessionreg: rename record: %w", err)
	}
	return os.Chmod(path, 0o600)
}
