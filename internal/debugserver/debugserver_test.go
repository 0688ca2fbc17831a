package debugserver

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stefanc-ai2/claude-code-bridge/internal/monitor"
)

func TestServerStreamsHubEvents(t *testing.T) {
	hub := monitor.NewHub()
	srv := New("127.0.0.1:0", hub, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go srv.Serve(ln)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	url := "ws://" + ln.Addr().String() + "/debug/ws"

	var conn *websocket.Conn
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c, _, err := websocket.Dial(context.Background(), url, nil)
		if err == nil {
			conn = c
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if conn == nil {
		t.Fatal("could not dial debug websocket")
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// give the handler a moment to register its subscription before publishing
	time.Sleep(20 * time.Millisecond)
	hub.TaskStart("sess-1", "req-1", "codex", time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("reading event frame: %v", err)
	}
	got := string(data)
	for _, want := range []string{"task_start", "sess-1", "req-1"} {
		if !strings.Contains(got, want) {
			t.Errorf("frame = %q, want it to contain %q", got, want)
		}
	}
}
