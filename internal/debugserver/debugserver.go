// Package debugserver hosts the unified daemon's optional debug HTTP
// surface: just GET /debug/ws, the live task-event feed from
// internal/monitor. Trimmed down from the teacher's internal/server.Server
// (same mux/http.Server/Shutdown shape) to the one route CCB actually
// needs — no session CRUD, file browser, git, or web push here, since
// none of those have a place in a terminal-driving daemon with no web UI
// of its own.
package debugserver

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/stefanc-ai2/claude-code-bridge/internal/monitor"
)

// Server is the debug HTTP server. The zero value is not usable;
// construct with New.
type Server struct {
	httpSrv *http.Server
	logger  *slog.Logger
}

// New builds a Server whose only route streams hub's events over
// WebSocket at /debug/ws.
func New(addr string, hub *monitor.Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /debug/ws", monitor.Handler(hub, logger))

	return &Server{
		logger: logger,
		httpSrv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
}

// Serve accepts connections on ln until Shutdown is called, matching
// the teacher's Server.Serve(ln net.Listener) signature.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("debugserver: started", "addr", ln.Addr().String())
	return s.httpSrv.Serve(ln)
}

// ListenAndServe binds s's configured address and serves until
// Shutdown is called.
func (s *Server) ListenAndServe() error {
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server, matching the teacher's
// Server.Shutdown(ctx).
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
