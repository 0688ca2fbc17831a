package transcript

import (
	"path/filepath"
	"testing"
	"time"
)

func claudeEntryMap(role, text string) map[string]any {
	return map[string]any{
		"type":      role,
		"timestamp": time.Now().Format(time.RFC3339Nano),
		"message": map[string]any{
			"role":    role,
			"content": []any{map[string]any{"type": "text", "text": text}},
		},
	}
}

func TestClaudeReaderLatestMessage(t *testing.T) {
	root := t.TempDir()
	workDir := t.TempDir()
	projectDir := filepath.Join(root, claudeProjectDirName(workDir))
	session := filepath.Join(projectDir, "session1.jsonl")
	writeJSONL(t, session, claudeEntryMap("user", "hello"), claudeEntryMap("assistant", "hi there"))

	r := NewClaudeReader(ClaudeOptions{Root: root, WorkDir: workDir})
	if got := r.LatestMessage(); got != "hi there" {
		t.Fatalf("LatestMessage() = %q, want %q", got, "hi there")
	}
}

func TestClaudeReaderSubagentLogNewerThanMainSession(t *testing.T) {
	root := t.TempDir()
	workDir := t.TempDir()
	projectDir := filepath.Join(root, claudeProjectDirName(workDir))

	mainSession := filepath.Join(projectDir, "session1.jsonl")
	writeJSONL(t, mainSession, claudeEntryMap("user", "do a subtask"))

	time.Sleep(10 * time.Millisecond)

	subagentLog := filepath.Join(projectDir, "session1", "subagents", "worker.jsonl")
	writeJSONL(t, subagentLog, claudeEntryMap("assistant", "subagent reply"))

	r := NewClaudeReader(ClaudeOptions{Root: root, WorkDir: workDir})
	if got := r.LatestMessage(); got != "subagent reply" {
		t.Fatalf("LatestMessage() = %q, want %q (subagent log should win by mtime)", got, "subagent reply")
	}
}

func TestClaudeReaderWaitForMessageDetectsAppend(t *testing.T) {
	root := t.TempDir()
	workDir := t.TempDir()
	projectDir := filepath.Join(root, claudeProjectDirName(workDir))
	session := filepath.Join(projectDir, "session1.jsonl")
	writeJSONL(t, session, claudeEntryMap("user", "q1"))

	r := NewClaudeReader(ClaudeOptions{Root: root, WorkDir: workDir, PollInterval: 5 * time.Millisecond})
	state := r.CaptureState()

	done := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		appendJSONL(t, session, claudeEntryMap("assistant", "a1"))
		close(done)
	}()

	msg, _ := r.WaitForMessage(state, 500*time.Millisecond)
	<-done
	if msg != "a1" {
		t.Fatalf("WaitForMessage() = %q, want %q", msg, "a1")
	}
}

func TestClaudeProjectDirNameReplacesSeparatorsAndUnderscores(t *testing.T) {
	got := claudeProjectDirName("/home/user/my_repo")
	want := "-home-user-my-repo"
	if got != want {
		t.Fatalf("claudeProjectDirName() = %q, want %q", got, want)
	}
}

func TestClaudeReaderLatestConversations(t *testing.T) {
	root := t.TempDir()
	workDir := t.TempDir()
	projectDir := filepath.Join(root, claudeProjectDirName(workDir))
	session := filepath.Join(projectDir, "session1.jsonl")
	writeJSONL(t, session,
		claudeEntryMap("user", "q1"),
		claudeEntryMap("assistant", "a1"),
		claudeEntryMap("user", "q2"),
		claudeEntryMap("assistant", "a2"),
	)

	r := NewClaudeReader(ClaudeOptions{Root: root, WorkDir: workDir})
	convos := r.LatestConversations(1)
	if len(convos) != 1 || convos[0].Reply != "a2" {
		t.Fatalf("LatestConversations(1) = %+v, want reply a2", convos)
	}
}
