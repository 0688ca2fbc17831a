package sessionreg

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/stefanc-ai2/claude-code-bridge/internal/daemonkit"
)

// registrySubdir is where the process-wide registry keeps one small file
// per live session key, under the same run-dir root daemon state files
// use (spec §2 item 2: "A process-wide registry directory advertises
// live sessions for cross-provider lookup").
const registrySubdir = "sessions"

// Entry is one live session advertised in the registry.
type Entry struct {
	Provider   string `json:"provider"`
	SessionKey string `json:"session_key"`
	WorkDir    string `json:"work_dir"`
	PaneID     string `json:"pane_id,omitempty"`
	UpdatedAt  string `json:"updated_at"`
}

func registryDir() string {
	return filepath.Join(daemonkit.RunDir(), registrySubdir)
}

func entryPath(provider, sessionKey string) string {
	return filepath.Join(registryDir(), provider+"__"+sanitizeKey(sessionKey)+".json")
}

// sanitizeKey replaces path separators so a session key (which may embed
// a file path in its file-fallback form) is always a safe filename
// component.
func sanitizeKey(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch c {
		case '/', '\\', ':':
			out = append(out, '_')
		default:
			out = append(out, c)
		}
	}
	return string(out)
}

// Register atomically publishes (or refreshes) one live session entry.
func Register(e Entry) error {
	e.UpdatedAt = time.Now().Format("2006-01-02 15:04:05")
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	dir := registryDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := entryPath(e.Provider, e.SessionKey)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Unregister removes a session entry, if present.
func Unregister(provider, sessionKey string) error {
	err := os.Remove(entryPath(provider, sessionKey))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// List returns every currently-registered session entry, best-effort
// skipping any file that fails to parse (a concurrent partial write).
func List() ([]Entry, error) {
	dir := registryDir()
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entries []Entry
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, f.Name()))
		if err != nil {
			continue
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// FindByWorkDir returns every registered session for a given work dir,
// across all providers — the cross-provider lookup spec §2 item 2 calls
// for.
func FindByWorkDir(workDir string) ([]Entry, error) {
	all, err := List()
	if err != nil {
		return nil, err
	}
	var matches []Entry
	for _, e := range all {
		if e.WorkDir == workDir {
			matches = append(matches, e)
		}
	}
	return matches, nil
}
