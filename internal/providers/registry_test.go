package providers

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stefanc-ai2/claude-code-bridge/internal/protocol"
	"github.com/stefanc-ai2/claude-code-bridge/internal/sessionreg"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegistryHasAllFiveProviders(t *testing.T) {
	reg := NewRegistry(&fakeBackend{alive: true}, testLogger(), nil)
	for _, key := range []string{"codex", "gemini", "opencode", "droid", "claude"} {
		if reg.Adapter(key) == nil {
			t.Errorf("Adapter(%q) = nil, want a registered adapter", key)
		}
	}
}

func TestRegistrySubmitUnknownProvider(t *testing.T) {
	reg := NewRegistry(&fakeBackend{alive: true}, testLogger(), nil)
	_, err := reg.Submit("nonexistent", Request{WorkDir: t.TempDir()}, "reqid")
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestRegistrySubmitNoSessionRecord(t *testing.T) {
	reg := NewRegistry(&fakeBackend{alive: true}, testLogger(), nil)
	_, err := reg.Submit("codex", Request{WorkDir: t.TempDir()}, "reqid")
	if err == nil {
		t.Fatal("expected error when no session record is bound")
	}
}

func TestRegistrySubmitRunsTaskThroughWorkerPool(t *testing.T) {
	dir := t.TempDir()
	rec := sessionreg.New(dir, "codex")
	rec.SetTerminal("fake")
	rec.SetPaneID("pane-1")
	if err := rec.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	backend := &fakeBackend{alive: true}
	reg := NewRegistry(backend, testLogger(), nil)

	reqID := "0123456789abcdef0123456789abcdef"
	backend.setCaptured(protocol.ReqIDPrefix + " " + reqID)

	task, err := reg.Submit("codex", Request{WorkDir: dir, TimeoutS: 0.3}, reqID)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	result, err := task.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if result.ExitCode != 2 {
		t.Errorf("ExitCode = %d, want 2 (no transcript reply ever arrives)", result.ExitCode)
	}

	reg.StopAll()
}

func TestRegistrySubmitSameSessionReusesWorker(t *testing.T) {
	dir := t.TempDir()
	rec := sessionreg.New(dir, "gemini")
	rec.SetTerminal("fake")
	rec.SetPaneID("pane-2")
	if err := rec.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	backend := &fakeBackend{alive: true}
	reg := NewRegistry(backend, testLogger(), nil)
	defer reg.StopAll()

	task1, err := reg.Submit("gemini", Request{WorkDir: dir, TimeoutS: 0.2}, "reqid-1")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	task2, err := reg.Submit("gemini", Request{WorkDir: dir, TimeoutS: 0.2}, "reqid-2")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := task1.Wait(ctx); err != nil {
		t.Fatalf("task1 Wait() error = %v", err)
	}
	if _, err := task2.Wait(ctx); err != nil {
		t.Fatalf("task2 Wait() error = %v", err)
	}
}
