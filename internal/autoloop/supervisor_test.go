package autoloop

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestSupervisor(t *testing.T, repo string, backend *fakeBackend) *Supervisor {
	t.Helper()
	t.Setenv("HOME", t.TempDir()) // no Claude project transcript -> GetContextPercent returns 100
	t.Setenv("CLAUDE_PANE_ID", "%1")

	s := New(Options{Repo: repo, Backend: backend})
	s.sleep = func(time.Duration) {}
	s.opts.Cooldown = 0 // bypass withDefaults' 20s default so rapid test RunOnce calls aren't cooldown-gated
	return s
}

func writeRepoState(t *testing.T, repo string, doc map[string]any) {
	t.Helper()
	dir := filepath.Join(repo, ".ccb")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "state.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRunOnceNoStateFile(t *testing.T) {
	repo := t.TempDir()
	backend := &fakeBackend{}
	s := newTestSupervisor(t, repo, backend)

	result, err := s.RunOnce(true)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if result.Status != "noop" {
		t.Errorf("Status = %q, want noop", result.Status)
	}
	if len(backend.sent) != 0 {
		t.Errorf("sent = %v, want none", backend.sent)
	}
}

func TestRunOnceCursorNoneMarksComplete(t *testing.T) {
	repo := t.TempDir()
	writeRepoState(t, repo, map[string]any{"steps": []any{}})
	backend := &fakeBackend{}
	s := newTestSupervisor(t, repo, backend)

	result, err := s.RunOnce(true)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if result.Status != "ok" || !result.TaskComplete {
		t.Errorf("result = %+v, want ok/complete", result)
	}
	if len(backend.sent) != 0 {
		t.Errorf("sent = %v, want none", backend.sent)
	}
}

func TestRunOnceAllStepsDoneMarksComplete(t *testing.T) {
	repo := t.TempDir()
	writeRepoState(t, repo, map[string]any{
		"current": map[string]any{"type": "step", "stepIndex": 0},
		"steps":   []any{map[string]any{"status": "done"}},
	})
	backend := &fakeBackend{}
	s := newTestSupervisor(t, repo, backend)

	result, err := s.RunOnce(true)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if result.Status != "ok" || !result.TaskComplete {
		t.Errorf("result = %+v, want ok/complete", result)
	}
}

func TestRunOnceFirstTriggerRequiresFlag(t *testing.T) {
	repo := t.TempDir()
	writeRepoState(t, repo, map[string]any{
		"current": map[string]any{"type": "step", "stepIndex": 0},
		"steps":   []any{map[string]any{"status": "doing"}},
	})
	backend := &fakeBackend{}
	s := newTestSupervisor(t, repo, backend)

	result, err := s.RunOnce(false)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if result.Status != "noop" {
		t.Errorf("Status = %q, want noop when triggerOnMissingState is false", result.Status)
	}
	if len(backend.sent) != 0 {
		t.Errorf("sent = %v, want none", backend.sent)
	}
}

func TestRunOnceTriggersOnFirstEvaluationWhenRequested(t *testing.T) {
	repo := t.TempDir()
	writeRepoState(t, repo, map[string]any{
		"current": map[string]any{"type": "step", "stepIndex": 0},
		"steps":   []any{map[string]any{"status": "doing"}},
	})
	backend := &fakeBackend{}
	s := newTestSupervisor(t, repo, backend)

	result, err := s.RunOnce(true)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if result.Status != "triggered" {
		t.Fatalf("Status = %q, want triggered", result.Status)
	}
	if len(backend.sent) != 2 || backend.sent[0] != "/clear" || backend.sent[1] != "/tr" {
		t.Fatalf("sent = %v, want [/clear /tr] (no transcript found -> usage defaults to 100%%)", backend.sent)
	}
}

func TestRunOnceNoRetriggerWhenCursorUnchanged(t *testing.T) {
	repo := t.TempDir()
	writeRepoState(t, repo, map[string]any{
		"current": map[string]any{"type": "step", "stepIndex": 0},
		"steps":   []any{map[string]any{"status": "doing"}},
	})
	backend := &fakeBackend{}
	s := newTestSupervisor(t, repo, backend)

	if _, err := s.RunOnce(true); err != nil {
		t.Fatalf("first RunOnce() error = %v", err)
	}

	result, err := s.RunOnce(true)
	if err != nil {
		t.Fatalf("second RunOnce() error = %v", err)
	}
	if result.Status != "noop" {
		t.Errorf("second RunOnce().Status = %q, want noop (cursor unchanged)", result.Status)
	}
	if len(backend.sent) != 2 {
		t.Errorf("sent = %v, want unchanged from first run", backend.sent)
	}
}

func TestRunOnceRetriggersWhenCursorAdvances(t *testing.T) {
	repo := t.TempDir()
	writeRepoState(t, repo, map[string]any{
		"current": map[string]any{"type": "step", "stepIndex": 0},
		"steps":   []any{map[string]any{"status": "doing"}, map[string]any{"status": "todo"}},
	})
	backend := &fakeBackend{}
	s := newTestSupervisor(t, repo, backend)

	if _, err := s.RunOnce(true); err != nil {
		t.Fatalf("first RunOnce() error = %v", err)
	}

	writeRepoState(t, repo, map[string]any{
		"current": map[string]any{"type": "step", "stepIndex": 1},
		"steps":   []any{map[string]any{"status": "done"}, map[string]any{"status": "doing"}},
	})

	result, err := s.RunOnce(true)
	if err != nil {
		t.Fatalf("second RunOnce() error = %v", err)
	}
	if result.Status != "triggered" {
		t.Errorf("second RunOnce().Status = %q, want triggered (cursor advanced)", result.Status)
	}
	if len(backend.sent) != 4 {
		t.Errorf("sent = %v, want 4 calls across both triggers", backend.sent)
	}
}

func TestRunOnceCooldownBlocksRetrigger(t *testing.T) {
	repo := t.TempDir()
	writeRepoState(t, repo, map[string]any{
		"current": map[string]any{"type": "step", "stepIndex": 0},
		"steps":   []any{map[string]any{"status": "doing"}, map[string]any{"status": "todo"}},
	})
	backend := &fakeBackend{}
	s := newTestSupervisor(t, repo, backend)
	s.opts.Cooldown = time.Hour

	if _, err := s.RunOnce(true); err != nil {
		t.Fatalf("first RunOnce() error = %v", err)
	}

	writeRepoState(t, repo, map[string]any{
		"current": map[string]any{"type": "step", "stepIndex": 1},
		"steps":   []any{map[string]any{"status": "done"}, map[string]any{"status": "doing"}},
	})

	result, err := s.RunOnce(true)
	if err != nil {
		t.Fatalf("second RunOnce() error = %v", err)
	}
	if result.Status != "noop" || result.Reason != "cooldown" {
		t.Errorf("result = %+v, want noop/cooldown", result)
	}
	if len(backend.sent) != 2 {
		t.Errorf("sent = %v, want unchanged (second trigger blocked by cooldown)", backend.sent)
	}
}

func TestRunOnceFailsWithoutPaneID(t *testing.T) {
	repo := t.TempDir()
	writeRepoState(t, repo, map[string]any{
		"current": map[string]any{"type": "step", "stepIndex": 0},
		"steps":   []any{map[string]any{"status": "doing"}},
	})
	backend := &fakeBackend{}
	s := newTestSupervisor(t, repo, backend)
	t.Setenv("CLAUDE_PANE_ID", "")

	result, err := s.RunOnce(true)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if result.Status != "fail" {
		t.Errorf("Status = %q, want fail", result.Status)
	}
}

func TestDaemonTriggersImmediatelyOnPreexistingStateWithRemainingWork(t *testing.T) {
	repo := t.TempDir()
	writeRepoState(t, repo, map[string]any{
		"current": map[string]any{"type": "step", "stepIndex": 0},
		"steps":   []any{map[string]any{"status": "doing"}},
	})
	backend := &fakeBackend{}
	s := newTestSupervisor(t, repo, backend)
	s.opts.PollInterval = 5 * time.Millisecond

	stop := make(chan struct{})
	results := make(chan Result, 4)
	done := make(chan error, 1)
	go func() {
		done <- s.Daemon(stop, func(r Result) { results <- r })
	}()
	defer func() {
		close(stop)
		<-done
	}()

	select {
	case result := <-results:
		if result.Status != "triggered" {
			t.Fatalf("first Daemon result = %+v, want status=triggered (state.json already had remaining work at startup)", result)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Daemon() never produced a result for pre-existing state.json with remaining work")
	}
}

func TestRunOnceConcurrentLockBlocksSecondCaller(t *testing.T) {
	repo := t.TempDir()
	writeRepoState(t, repo, map[string]any{
		"current": map[string]any{"type": "step", "stepIndex": 0},
		"steps":   []any{map[string]any{"status": "doing"}},
	})
	backend := &fakeBackend{}
	s := newTestSupervisor(t, repo, backend)

	lock := NewLock(s.lockPath)
	ok, err := lock.TryAcquire()
	if err != nil || !ok {
		t.Fatalf("pre-acquire lock: ok=%v err=%v", ok, err)
	}
	defer lock.Release()

	result, err := s.RunOnce(true)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if result.Status != "noop" || result.Reason != "locked" {
		t.Errorf("result = %+v, want noop/locked", result)
	}
}
