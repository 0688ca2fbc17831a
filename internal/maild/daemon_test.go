package maild

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stefanc-ai2/claude-code-bridge/internal/rpc"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSource struct {
	mu       sync.Mutex
	batches  [][]Message
	polls    int
	pollErr  error
}

func (f *fakeSource) Poll(ctx context.Context) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	next := f.batches[0]
	f.batches = f.batches[1:]
	return next, nil
}

func withTempHome(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
}

func TestRunWritesStateAndRemovesOnStop(t *testing.T) {
	withTempHome(t)

	d := New(Options{
		Email:        "bot@example.com",
		PollInterval: 10 * time.Millisecond,
		Source:       &fakeSource{},
		Logger:       testLogger(),
	})

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		d.Run(context.Background(), stop)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if st, ok, _ := readState(); ok && st.Email == "bot@example.com" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	st, ok, err := readState()
	if err != nil || !ok {
		t.Fatalf("readState() = %+v, %v, %v", st, ok, err)
	}
	if st.Status != "running" {
		t.Errorf("Status = %q, want running", st.Status)
	}

	close(stop)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after stop closed")
	}

	if _, ok, _ := readState(); ok {
		t.Error("state file still present after clean shutdown")
	}
}

func TestRunSecondInstanceExitsCodeTwo(t *testing.T) {
	withTempHome(t)

	d1 := New(Options{Email: "a@example.com", PollInterval: time.Hour, Source: &fakeSource{}})
	stop1 := make(chan struct{})
	started := make(chan struct{})
	go func() {
		close(started)
		d1.Run(context.Background(), stop1)
	}()
	<-started
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok, _ := readState(); ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	d2 := New(Options{Email: "b@example.com", Source: &fakeSource{}})
	code, err := d2.Run(context.Background(), make(chan struct{}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if code != 2 {
		t.Errorf("second instance exit code = %d, want 2", code)
	}

	close(stop1)
}

func TestRouteDispatchesParsedMessage(t *testing.T) {
	withTempHome(t)

	var mu sync.Mutex
	var sentReqs []rpc.Request
	send := func(req rpc.Request) (rpc.Response, error) {
		mu.Lock()
		sentReqs = append(sentReqs, req)
		mu.Unlock()
		return rpc.Response{ExitCode: rpc.ExitOK, Reply: "done"}, nil
	}

	var routed []RoutedResult
	d := New(Options{
		Email:  "bot@example.com",
		Source: &fakeSource{},
		Send:   send,
		Logger: testLogger(),
		OnRouted: func(r RoutedResult) {
			mu.Lock()
			routed = append(routed, r)
			mu.Unlock()
		},
	})

	d.route(Message{From: "user@example.com", Body: "CLAUDE: look into the failing build", WorkDir: "/repo", MsgID: "m1"})

	mu.Lock()
	defer mu.Unlock()
	if len(sentReqs) != 1 {
		t.Fatalf("sentReqs = %v, want exactly one", sentReqs)
	}
	req := sentReqs[0]
	if req.Provider != "claude" {
		t.Errorf("Provider = %q, want claude", req.Provider)
	}
	if req.Message != "look into the failing build" {
		t.Errorf("Message = %q", req.Message)
	}
	if req.WorkDir != "/repo" {
		t.Errorf("WorkDir = %q, want /repo", req.WorkDir)
	}
	if req.EmailFrom != "user@example.com" || req.EmailMsgID != "m1" {
		t.Errorf("email fields = %+v", req)
	}
	if len(routed) != 1 || routed[0].Provider != "claude" {
		t.Errorf("routed = %+v", routed)
	}
}

func TestRouteSkipsMessageWithoutProviderPrefix(t *testing.T) {
	withTempHome(t)

	called := false
	send := func(req rpc.Request) (rpc.Response, error) {
		called = true
		return rpc.Response{}, nil
	}
	d := New(Options{Email: "bot@example.com", Source: &fakeSource{}, Send: send, Logger: testLogger()})

	d.route(Message{From: "user@example.com", Body: "no prefix here"})

	if called {
		t.Error("Send was called for a message with no provider prefix")
	}
}

func TestPollOnceRoutesEachBatchMessage(t *testing.T) {
	withTempHome(t)

	var mu sync.Mutex
	var sent int
	send := func(req rpc.Request) (rpc.Response, error) {
		mu.Lock()
		sent++
		mu.Unlock()
		return rpc.Response{ExitCode: rpc.ExitOK}, nil
	}
	source := &fakeSource{batches: [][]Message{
		{
			{From: "a@example.com", Body: "CODEX: one"},
			{From: "b@example.com", Body: "GEMINI: two"},
		},
	}}
	d := New(Options{Email: "bot@example.com", Source: source, Send: send, Logger: testLogger()})

	d.pollOnce(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if sent != 2 {
		t.Errorf("sent = %d, want 2", sent)
	}
}
