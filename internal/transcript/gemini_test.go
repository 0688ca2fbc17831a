package transcript

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeGeminiSession(t *testing.T, path string, session geminiSession) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(session)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestGeminiReaderLatestMessage(t *testing.T) {
	root := t.TempDir()
	workDir := t.TempDir()
	hash := projectHash(workDir)
	session := filepath.Join(root, hash, "chats", "session-1.json")
	writeGeminiSession(t, session, geminiSession{Messages: []geminiMessage{
		{ID: "1", Type: "user", Content: "hello"},
		{ID: "2", Type: "gemini", Content: "hi there"},
	}})

	r := NewGeminiReader(GeminiOptions{Root: root, WorkDir: workDir})
	if got := r.LatestMessage(); got != "hi there" {
		t.Fatalf("LatestMessage() = %q, want %q", got, "hi there")
	}
}

func TestGeminiReaderWaitForMessageDetectsNewReply(t *testing.T) {
	root := t.TempDir()
	workDir := t.TempDir()
	hash := projectHash(workDir)
	session := filepath.Join(root, hash, "chats", "session-1.json")
	writeGeminiSession(t, session, geminiSession{Messages: []geminiMessage{
		{ID: "1", Type: "user", Content: "q1"},
		{ID: "2", Type: "gemini", Content: "a1"},
	}})

	r := NewGeminiReader(GeminiOptions{Root: root, WorkDir: workDir, PollInterval: 5 * time.Millisecond})
	state := r.CaptureState()

	done := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		writeGeminiSession(t, session, geminiSession{Messages: []geminiMessage{
			{ID: "1", Type: "user", Content: "q1"},
			{ID: "2", Type: "gemini", Content: "a1"},
			{ID: "3", Type: "user", Content: "q2"},
			{ID: "4", Type: "gemini", Content: "a2"},
		}})
		close(done)
	}()

	msg, _ := r.WaitForMessage(state, 500*time.Millisecond)
	<-done
	if msg != "a2" {
		t.Fatalf("WaitForMessage() = %q, want %q", msg, "a2")
	}
}

func TestGeminiReaderPrefersBasenameHashWhenPresent(t *testing.T) {
	root := t.TempDir()
	workDir := t.TempDir()
	basename := basenameProjectHash(workDir)
	session := filepath.Join(root, basename, "chats", "session-1.json")
	writeGeminiSession(t, session, geminiSession{Messages: []geminiMessage{
		{ID: "1", Type: "gemini", Content: "from basename dir"},
	}})

	r := NewGeminiReader(GeminiOptions{Root: root, WorkDir: workDir})
	if got := r.LatestMessage(); got != "from basename dir" {
		t.Fatalf("LatestMessage() = %q, want %q (hash resolution should have picked the basename-keyed dir)", got, "from basename dir")
	}
}

func TestGeminiReaderFallsBackToSHA256HashWhenOnlyItExists(t *testing.T) {
	root := t.TempDir()
	workDir := t.TempDir()
	sha := projectHash(workDir)
	session := filepath.Join(root, sha, "chats", "session-1.json")
	writeGeminiSession(t, session, geminiSession{Messages: []geminiMessage{
		{ID: "1", Type: "gemini", Content: "from sha256 dir"},
	}})

	r := NewGeminiReader(GeminiOptions{Root: root, WorkDir: workDir})
	if got := r.LatestMessage(); got != "from sha256 dir" {
		t.Fatalf("LatestMessage() = %q, want %q (hash resolution should have fallen back to sha256)", got, "from sha256 dir")
	}
}

func TestGeminiReaderLatestConversations(t *testing.T) {
	root := t.TempDir()
	workDir := t.TempDir()
	hash := projectHash(workDir)
	session := filepath.Join(root, hash, "chats", "session-1.json")
	writeGeminiSession(t, session, geminiSession{Messages: []geminiMessage{
		{ID: "1", Type: "user", Content: "q1"},
		{ID: "2", Type: "gemini", Content: "a1"},
		{ID: "3", Type: "user", Content: "q2"},
		{ID: "4", Type: "gemini", Content: "a2"},
	}})

	r := NewGeminiReader(GeminiOptions{Root: root, WorkDir: workDir})
	convos := r.LatestConversations(1)
	if len(convos) != 1 || convos[0].Reply != "a2" {
		t.Fatalf("LatestConversations(1) = %+v, want reply a2", convos)
	}
}

func TestGeminiReaderProjectHashOverride(t *testing.T) {
	root := t.TempDir()
	workDir := t.TempDir()
	session := filepath.Join(root, "customhash", "chats", "session-1.json")
	writeGeminiSession(t, session, geminiSession{Messages: []geminiMessage{
		{ID: "1", Type: "gemini", Content: "hi"},
	}})

	r := NewGeminiReader(GeminiOptions{Root: root, WorkDir: workDir, ProjectHash: "customhash"})
	if got := r.LatestMessage(); got != "hi" {
		t.Fatalf("LatestMessage() = %q, want %q", got, "hi")
	}
}
