// Command askd is the unified multi-provider daemon (spec §4.4, §4.5):
// it hosts the codex, gemini, opencode, droid, and claude adapters behind
// one token-gated TCP loopback socket, dispatching each "ask.request" by
// its "provider" field.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/stefanc-ai2/claude-code-bridge/internal/daemonkit"
	"github.com/stefanc-ai2/claude-code-bridge/internal/debugserver"
	"github.com/stefanc-ai2/claude-code-bridge/internal/monitor"
	"github.com/stefanc-ai2/claude-code-bridge/internal/providers"
)

var version = "0.1.0"

func main() {
	port := flag.Int("port", 0, "port to bind (0 = pick any free port)")
	host := flag.String("host", "127.0.0.1", "bind host")
	debugAddr := flag.String("debug-addr", "", "address to serve GET /debug/ws on (empty = disabled)")
	showVersion := flag.Bool("version", false, "show version")
	flag.Parse()

	if *showVersion {
		fmt.Println("askd", version)
		return
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	hub := monitor.NewHub()
	registry := providers.NewRegistry(nil, logger, hub)
	defer registry.StopAll()

	if *debugAddr != "" {
		dbg := debugserver.New(*debugAddr, hub, logger)
		ln, err := net.Listen("tcp", *debugAddr)
		if err != nil {
			logger.Error("askd: debug server listen failed", "err", err)
		} else {
			go func() {
				if err := dbg.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("askd: debug server exited", "err", err)
				}
			}()
		}
	}

	srv := &daemonkit.Server{
		Spec: daemonkit.Spec{
			DaemonKey:      "askd",
			ProtocolPrefix: "ask",
			IdleTimeoutEnv: "CCB_ASKD_IDLE_TIMEOUT_S",
		},
		Host:           *host,
		Port:           *port,
		Token:          daemonkit.GenerateToken(),
		RequestHandler: providers.UnifiedHandler(registry),
		ParentPID:      daemonkit.ParentPIDFromEnv(),
		Managed:        daemonkit.ManagedFromEnv(),
		Logger:         logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		srv.Shutdown()
	}()

	code, err := srv.ListenAndServe()
	if err != nil {
		logger.Error("askd exited with error", "err", err)
	}
	os.Exit(code)
}
