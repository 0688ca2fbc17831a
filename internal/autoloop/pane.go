package autoloop

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// ResolvePaneID finds the pane id of the caller (Claude) TUI driving
// repo, per autoloop.py's _get_pane_id: an explicit CLAUDE_PANE_ID
// environment override, then one of three well-known session-binding
// files in decreasing preference.
func ResolvePaneID(repo string) (string, bool) {
	if pane := strings.TrimSpace(os.Getenv("CLAUDE_PANE_ID")); pane != "" {
		return pane, true
	}
	candidates := []string{
		filepath.Join(repo, ".ccb", ".claude-session"),
		filepath.Join(repo, ".ccb_config", ".claude-session"),
		filepath.Join(repo, ".claude-session"),
	}
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			continue
		}
		if pane, ok := doc["pane_id"].(string); ok && pane != "" {
			return pane, true
		}
	}
	return "", false
}
