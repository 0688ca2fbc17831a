package providers

import (
	"strings"
	"testing"

	"github.com/stefanc-ai2/claude-code-bridge/internal/protocol"
	"github.com/stefanc-ai2/claude-code-bridge/internal/rpc"
	"github.com/stefanc-ai2/claude-code-bridge/internal/transcript"
)

func TestUnifiedHandlerMissingProvider(t *testing.T) {
	reg := NewRegistry(&fakeBackend{alive: true}, testLogger(), nil)
	handler := UnifiedHandler(reg)

	resp := handler(rpc.Request{Type: "ask.request", V: 1, ID: "1", WorkDir: t.TempDir(), Message: "hi"})
	if resp.ExitCode != rpc.ExitError {
		t.Errorf("ExitCode = %d, want %d", resp.ExitCode, rpc.ExitError)
	}
}

func TestUnifiedHandlerUnknownProvider(t *testing.T) {
	reg := NewRegistry(&fakeBackend{alive: true}, testLogger(), nil)
	handler := UnifiedHandler(reg)

	resp := handler(rpc.Request{Type: "ask.request", V: 1, ID: "1", Provider: "cursor", WorkDir: t.TempDir(), Message: "hi"})
	if resp.ExitCode != rpc.ExitError {
		t.Errorf("ExitCode = %d, want %d", resp.ExitCode, rpc.ExitError)
	}
}

func TestUnifiedHandlerDispatchesToAdapter(t *testing.T) {
	dir := t.TempDir()
	newBoundRecord(t, dir, "gemini", "pane-1")

	backend := &fakeBackend{alive: true}
	reqID := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	backend.setCaptured(protocol.ReqIDPrefix + " " + reqID)

	reader := &fakeReader{messages: []string{"hi\n" + protocol.DonePrefix + " " + reqID}}
	adapter := &Adapter{
		Key:     "gemini",
		Backend: backend,
		NewReader: func(workDir string) (transcript.Reader, error) {
			return reader, nil
		},
	}

	registry := NewRegistry(backend, testLogger(), nil)
	registry.adapters["gemini"] = adapter

	handler := UnifiedHandler(registry)
	resp := handler(rpc.Request{
		Type: "ask.request", V: 1, ID: "1", Provider: "gemini", WorkDir: dir,
		Message: "hi", TimeoutS: 2, ReqIDOverr: reqID,
	})

	if resp.ExitCode != rpc.ExitOK {
		t.Fatalf("ExitCode = %d, want %d (reply=%q)", resp.ExitCode, rpc.ExitOK, resp.Reply)
	}
	if resp.Reply != "hi" {
		t.Errorf("Reply = %q, want %q", resp.Reply, "hi")
	}
	if resp.ReqID != reqID {
		t.Errorf("ReqID = %q, want %q", resp.ReqID, reqID)
	}
	if resp.Meta == nil || !resp.Meta.DoneSeen {
		t.Errorf("Meta.DoneSeen = %+v, want true", resp.Meta)
	}
}

func TestSingleProviderHandlerHappyPath(t *testing.T) {
	dir := t.TempDir()
	newBoundRecord(t, dir, "codex", "pane-1")

	backend := &fakeBackend{alive: true}
	reqID := "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	backend.setCaptured(protocol.ReqIDPrefix + " " + reqID)
	reader := &fakeReader{messages: []string{"ok\n" + protocol.DonePrefix + " " + reqID}}

	adapter := &Adapter{
		Key:     "codex",
		Backend: backend,
		NewReader: func(workDir string) (transcript.Reader, error) {
			return reader, nil
		},
	}
	handler := SingleProviderHandler(adapter, "cask")

	resp := handler(rpc.Request{Type: "cask.request", V: 1, ID: "1", WorkDir: dir, Message: "go", TimeoutS: 2, ReqIDOverr: reqID})
	if resp.ExitCode != rpc.ExitOK {
		t.Fatalf("ExitCode = %d, want %d (reply=%q)", resp.ExitCode, rpc.ExitOK, resp.Reply)
	}
	if resp.Type != "cask.response" {
		t.Errorf("Type = %q, want cask.response", resp.Type)
	}
	if resp.Reply != "ok" {
		t.Errorf("Reply = %q, want %q", resp.Reply, "ok")
	}
}

func TestSingleProviderHandlerNoSession(t *testing.T) {
	dir := t.TempDir()
	backend := &fakeBackend{alive: true}
	adapter := &Adapter{
		Key:     "codex",
		Backend: backend,
		NewReader: func(workDir string) (transcript.Reader, error) {
			return &fakeReader{}, nil
		},
	}
	handler := SingleProviderHandler(adapter, "cask")

	resp := handler(rpc.Request{Type: "cask.request", V: 1, ID: "1", WorkDir: dir, Message: "go", TimeoutS: 1})
	if resp.ExitCode != rpc.ExitError {
		t.Errorf("ExitCode = %d, want %d", resp.ExitCode, rpc.ExitError)
	}
}

func TestCompletionResultModeDefaultsToSummary(t *testing.T) {
	t.Setenv("CCB_COMPLETION_HOOK_RESULT_MODE", "")
	if got := completionHookResultMode(); got != "summary" {
		t.Errorf("completionHookResultMode() = %q, want %q", got, "summary")
	}
}

func TestCompletionResultModeHonorsOverride(t *testing.T) {
	for _, mode := range []string{"full", "summary", "none"} {
		t.Setenv("CCB_COMPLETION_HOOK_RESULT_MODE", mode)
		if got := completionHookResultMode(); got != mode {
			t.Errorf("completionHookResultMode() = %q, want %q", got, mode)
		}
	}
	t.Setenv("CCB_COMPLETION_HOOK_RESULT_MODE", "bogus")
	if got := completionHookResultMode(); got != "summary" {
		t.Errorf("completionHookResultMode() = %q, want %q for an unrecognized value", got, "summary")
	}
}

func TestApplyCompletionResultModeFull(t *testing.T) {
	reply := "first paragraph.\n\nsecond paragraph with more detail."
	if got := applyCompletionResultMode(reply, "full"); got != reply {
		t.Errorf("applyCompletionResultMode(full) = %q, want unchanged reply", got)
	}
}

func TestApplyCompletionResultModeNone(t *testing.T) {
	if got := applyCompletionResultMode("anything at all", "none"); got != "" {
		t.Errorf("applyCompletionResultMode(none) = %q, want empty", got)
	}
}

func TestApplyCompletionResultModeSummaryTruncatesToFirstParagraph(t *testing.T) {
	reply := "first paragraph.\n\nsecond paragraph should be dropped."
	if got := applyCompletionResultMode(reply, "summary"); got != "first paragraph." {
		t.Errorf("applyCompletionResultMode(summary) = %q, want %q", got, "first paragraph.")
	}
}

func TestApplyCompletionResultModeSummaryCapsBytes(t *testing.T) {
	reply := strings.Repeat("x", completionSummaryByteCap+50)
	got := applyCompletionResultMode(reply, "summary")
	if len(got) > completionSummaryByteCap+len("…") {
		t.Errorf("applyCompletionResultMode(summary) len = %d, want <= %d", len(got), completionSummaryByteCap+len("…"))
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("applyCompletionResultMode(summary) = %q, want an ellipsis suffix when truncated", got)
	}
}

func TestResponseFromResultSkipsTruncationOnFailure(t *testing.T) {
	t.Setenv("CCB_COMPLETION_HOOK_RESULT_MODE", "none")
	reply := "a detailed error message that explains exactly what went wrong"
	resp := responseFromResult(rpc.Request{ID: "1"}, "ask", "codex", Result{ReqID: "r1", ExitCode: 1, Reply: reply})
	if resp.Reply != reply {
		t.Errorf("responseFromResult() on failure Reply = %q, want untouched %q", resp.Reply, reply)
	}
}

func TestResolveReqIDHonorsValidOverride(t *testing.T) {
	override := strings.Repeat("c", 32)
	got := resolveReqID(Request{ReqIDOverr: override})
	if got != override {
		t.Errorf("resolveReqID = %q, want override %q", got, override)
	}
}

func TestResolveReqIDIgnoresInvalidOverride(t *testing.T) {
	got := resolveReqID(Request{ReqIDOverr: "not-a-valid-reqid"})
	if got == "not-a-valid-reqid" {
		t.Error("resolveReqID should not accept a malformed override")
	}
	if len(got) != 32 {
		t.Errorf("resolveReqID fallback length = %d, want 32", len(got))
	}
}
