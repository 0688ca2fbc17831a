package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// pingInterval matches the teacher's websocket keepalive cadence
// (internal/server/websocket.go's wsPingLoop), which exists to detect a
// dead connection before the OS TCP stack would notice.
const pingInterval = 30 * time.Second

// Handler serves GET /debug/ws: accept the upgrade, subscribe to hub,
// and stream every Event as a JSON text frame until the client
// disconnects. Reads go only through conn.CloseRead, which discards
// incoming data frames and cancels ctx when the client closes — this is
// a one-way observability feed, not an interactive session, so unlike
// the teacher's handler there is no input/resize message type to
// dispatch.
func Handler(hub *Hub, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
		})
		if err != nil {
			logger.Error("monitor: websocket accept failed", "err", err)
			return
		}
		defer conn.CloseNow()

		ctx, cancel := context.WithCancel(conn.CloseRead(r.Context()))
		defer cancel()

		events, unsubscribe := hub.Subscribe()
		defer unsubscribe()

		go pingLoop(ctx, cancel, conn, logger)

		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				if err := writeJSON(ctx, conn, e); err != nil {
					return
				}
			}
		}
	}
}

func pingLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, logger *slog.Logger) {
	defer cancel()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				logger.Debug("monitor: websocket ping failed", "err", err)
				return
			}
		}
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
