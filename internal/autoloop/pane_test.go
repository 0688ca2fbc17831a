package autoloop

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolvePaneIDEnvOverride(t *testing.T) {
	t.Setenv("CLAUDE_PANE_ID", "%42")
	pane, ok := ResolvePaneID(t.TempDir())
	if !ok || pane != "%42" {
		t.Fatalf("ResolvePaneID() = (%q, %v), want (%%42, true)", pane, ok)
	}
}

func TestResolvePaneIDFromCcbSessionFile(t *testing.T) {
	t.Setenv("CLAUDE_PANE_ID", "")
	repo := t.TempDir()
	ccbDir := filepath.Join(repo, ".ccb")
	if err := os.MkdirAll(ccbDir, 0o755); err != nil {
		t.Fatal(err)
	}
	sessionFile := filepath.Join(ccbDir, ".claude-session")
	if err := os.WriteFile(sessionFile, []byte(`{"pane_id": "%7"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	pane, ok := ResolvePaneID(repo)
	if !ok || pane != "%7" {
		t.Fatalf("ResolvePaneID() = (%q, %v), want (%%7, true)", pane, ok)
	}
}

func TestResolvePaneIDFromRepoRootFallback(t *testing.T) {
	t.Setenv("CLAUDE_PANE_ID", "")
	repo := t.TempDir()
	sessionFile := filepath.Join(repo, ".claude-session")
	if err := os.WriteFile(sessionFile, []byte(`{"pane_id": "%9"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	pane, ok := ResolvePaneID(repo)
	if !ok || pane != "%9" {
		t.Fatalf("ResolvePaneID() = (%q, %v), want (%%9, true)", pane, ok)
	}
}

func TestResolvePaneIDNoneFound(t *testing.T) {
	t.Setenv("CLAUDE_PANE_ID", "")
	_, ok := ResolvePaneID(t.TempDir())
	if ok {
		t.Error("ResolvePaneID() ok = true, want false when nothing is present")
	}
}
