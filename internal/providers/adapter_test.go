package providers

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stefanc-ai2/claude-code-bridge/internal/monitor"
	"github.com/stefanc-ai2/claude-code-bridge/internal/protocol"
	"github.com/stefanc-ai2/claude-code-bridge/internal/sessionreg"
	"github.com/stefanc-ai2/claude-code-bridge/internal/terminal"
	"github.com/stefanc-ai2/claude-code-bridge/internal/transcript"
)

// fakeBackend is a minimal in-memory terminal.Backend double.
type fakeBackend struct {
	mu       sync.Mutex
	sent     []string
	sendErr  error
	alive    bool
	captured string
}

var _ terminal.Backend = (*fakeBackend)(nil)

func (f *fakeBackend) Kind() string { return "fake" }

func (f *fakeBackend) SendText(paneID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeBackend) IsAlive(paneID string) bool { return f.alive }

func (f *fakeBackend) FindPaneByTitleMarker(marker string) (string, bool) { return "", false }

func (f *fakeBackend) CapturePaneText(paneID string, n int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.captured, nil
}

func (f *fakeBackend) KillPane(paneID string) error { return nil }

func (f *fakeBackend) Activate(paneID string) error { return nil }

func (f *fakeBackend) CreatePane(opts terminal.CreatePaneOptions) (string, error) {
	return "", terminal.ErrUnsupported
}

func (f *fakeBackend) setCaptured(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captured = s
}

// fakeReader is a scripted transcript.Reader double: each WaitForMessage
// call pops the next entry of messages (or blocks until timeout if the
// script is exhausted).
type fakeReader struct {
	mu       sync.Mutex
	messages []string
	sessPath string
}

func (f *fakeReader) CaptureState() any { return 0 }

func (f *fakeReader) WaitForMessage(state any, timeout time.Duration) (string, any) {
	idx, _ := state.(int)
	f.mu.Lock()
	defer f.mu.Unlock()
	if idx < len(f.messages) {
		return f.messages[idx], idx + 1
	}
	time.Sleep(timeout)
	return "", idx
}

func (f *fakeReader) TryGetMessage(state any) (string, any) {
	idx, _ := state.(int)
	f.mu.Lock()
	defer f.mu.Unlock()
	if idx < len(f.messages) {
		return f.messages[idx], idx + 1
	}
	return "", idx
}

func (f *fakeReader) LatestMessage() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		return ""
	}
	return f.messages[len(f.messages)-1]
}

func (f *fakeReader) LatestConversations(n int) []transcript.Conversation { return nil }

func (f *fakeReader) CurrentSessionPath() string { return f.sessPath }

func newBoundRecord(t *testing.T, workDir, provider, paneID string) *sessionreg.Record {
	t.Helper()
	rec := sessionreg.New(workDir, provider)
	rec.SetTerminal("fake")
	rec.SetPaneID(paneID)
	if err := rec.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	rec, ok, err := sessionreg.Load(workDir, provider)
	if err != nil || !ok {
		t.Fatalf("Load() = %v, %v, %v", rec, ok, err)
	}
	return rec
}

func TestHandleTaskHappyPath(t *testing.T) {
	dir := t.TempDir()
	newBoundRecord(t, dir, "codex", "pane-1")

	backend := &fakeBackend{alive: true}
	reader := &fakeReader{}

	a := &Adapter{
		Key:     "codex",
		Backend: backend,
		NewReader: func(workDir string) (transcript.Reader, error) {
			return reader, nil
		},
	}

	reqID := "deadbeefdeadbeefdeadbeefdeadbeef"
	backend.setCaptured(protocol.ReqIDPrefix + " " + reqID)
	reader.messages = []string{"hello\n" + protocol.DonePrefix + " " + reqID}

	req := Request{WorkDir: dir, TimeoutS: 2}
	result := a.HandleTask(req, reqID)

	if result.ExitCode != 0 {
		t.Fatalf("ExitCode = %d, want 0 (reply=%q)", result.ExitCode, result.Reply)
	}
	if result.Reply != "hello" {
		t.Errorf("Reply = %q, want %q", result.Reply, "hello")
	}
	if !result.DoneSeen {
		t.Error("DoneSeen = false, want true")
	}
	if !result.AnchorSeen {
		t.Error("AnchorSeen = false, want true")
	}
	if len(backend.sent) != 1 {
		t.Fatalf("sent = %v, want exactly one injected prompt", backend.sent)
	}
	if want := protocol.ReqIDPrefix + " " + reqID; !strings.Contains(backend.sent[0], want) {
		t.Errorf("injected prompt = %q, want to contain %q", backend.sent[0], want)
	}
}

func TestHandleTaskPublishesHubEvents(t *testing.T) {
	dir := t.TempDir()
	newBoundRecord(t, dir, "codex", "pane-1")

	backend := &fakeBackend{alive: true}
	reader := &fakeReader{}
	hub := monitor.NewHub()
	events, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	a := &Adapter{
		Key:     "codex",
		Backend: backend,
		Hub:     hub,
		NewReader: func(workDir string) (transcript.Reader, error) {
			return reader, nil
		},
	}

	reqID := "deadbeefdeadbeefdeadbeefdeadbeef"
	backend.setCaptured(protocol.ReqIDPrefix + " " + reqID)
	reader.messages = []string{"hello\n" + protocol.DonePrefix + " " + reqID}

	result := a.HandleTask(Request{WorkDir: dir, TimeoutS: 2}, reqID)
	if result.ExitCode != 0 {
		t.Fatalf("ExitCode = %d, want 0", result.ExitCode)
	}

	var seen []string
	deadline := time.After(time.Second)
	for len(seen) < 3 {
		select {
		case e := <-events:
			seen = append(seen, e.Event)
		case <-deadline:
			t.Fatalf("events = %v, want 3 (task_start, anchor, task_done)", seen)
		}
	}
	if seen[0] != "task_start" || seen[1] != "anchor" || seen[2] != "task_done" {
		t.Errorf("events = %v, want [task_start anchor task_done]", seen)
	}
}

func TestHandleTaskNoSessionRecord(t *testing.T) {
	dir := t.TempDir()
	backend := &fakeBackend{alive: true}
	a := &Adapter{
		Key:     "codex",
		Backend: backend,
		NewReader: func(workDir string) (transcript.Reader, error) {
			return &fakeReader{}, nil
		},
	}

	result := a.HandleTask(Request{WorkDir: dir, TimeoutS: 1}, "reqid")
	if result.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", result.ExitCode)
	}
}

func TestHandleTaskPaneDead(t *testing.T) {
	dir := t.TempDir()
	newBoundRecord(t, dir, "codex", "pane-1")
	backend := &fakeBackend{alive: false}
	a := &Adapter{
		Key:     "codex",
		Backend: backend,
		NewReader: func(workDir string) (transcript.Reader, error) {
			return &fakeReader{}, nil
		},
	}

	result := a.HandleTask(Request{WorkDir: dir, TimeoutS: 1}, "reqid")
	if result.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", result.ExitCode)
	}
}

func TestHandleTaskTimeout(t *testing.T) {
	dir := t.TempDir()
	newBoundRecord(t, dir, "codex", "pane-1")
	backend := &fakeBackend{alive: true}
	reader := &fakeReader{} // never produces a message
	a := &Adapter{
		Key:     "codex",
		Backend: backend,
		NewReader: func(workDir string) (transcript.Reader, error) {
			return reader, nil
		},
	}

	result := a.HandleTask(Request{WorkDir: dir, TimeoutS: 0.3}, "reqid")
	if result.ExitCode != 2 {
		t.Errorf("ExitCode = %d, want 2 (timeout)", result.ExitCode)
	}
	if result.Reply != "" {
		t.Errorf("Reply = %q, want empty on timeout", result.Reply)
	}
}

func TestHandleTaskScreenCancellation(t *testing.T) {
	dir := t.TempDir()
	newBoundRecord(t, dir, "codex", "pane-1")
	reqID := "cafebabecafebabecafebabecafebabe"
	backend := &fakeBackend{alive: true}
	backend.setCaptured(protocol.ReqIDPrefix + " " + reqID + "\n" + codexCancelMarker)
	reader := &fakeReader{} // no transcript message, cancellation detected via screen
	a := &Adapter{
		Key:                "codex",
		Backend:            backend,
		ScreenCancelMarker: codexCancelMarker,
		NewReader: func(workDir string) (transcript.Reader, error) {
			return reader, nil
		},
	}

	result := a.HandleTask(Request{WorkDir: dir, TimeoutS: 5}, reqID)
	if result.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1 (cancelled)", result.ExitCode)
	}
	if result.Reply != "cancelled" {
		t.Errorf("Reply = %q, want %q", result.Reply, "cancelled")
	}
}

func TestHandleTaskSendTextError(t *testing.T) {
	dir := t.TempDir()
	newBoundRecord(t, dir, "codex", "pane-1")
	backend := &fakeBackend{alive: true, sendErr: fmt.Errorf("boom")}
	a := &Adapter{
		Key:     "codex",
		Backend: backend,
		NewReader: func(workDir string) (transcript.Reader, error) {
			return &fakeReader{}, nil
		},
	}

	result := a.HandleTask(Request{WorkDir: dir, TimeoutS: 1}, "reqid")
	if result.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", result.ExitCode)
	}
}

func TestHandleExceptionReturnsErrorResult(t *testing.T) {
	a := &Adapter{Key: "codex"}
	result := a.HandleException("reqid", "boom")
	if result.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", result.ExitCode)
	}
	if result.ReqID != "reqid" {
		t.Errorf("ReqID = %q, want %q", result.ReqID, "reqid")
	}
}
