// Command caskd is the single-provider Codex daemon (spec §4.4): it
// binds only the codex adapter, one per-session worker pool, no
// "provider" field routing — the "cask" protocol prefix.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/stefanc-ai2/claude-code-bridge/internal/daemonkit"
	"github.com/stefanc-ai2/claude-code-bridge/internal/providers"
)

var version = "0.1.0"

func main() {
	port := flag.Int("port", 0, "port to bind (0 = pick any free port)")
	host := flag.String("host", "127.0.0.1", "bind host")
	showVersion := flag.Bool("version", false, "show version")
	flag.Parse()

	if *showVersion {
		fmt.Println("caskd", version)
		return
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	registry := providers.NewRegistry(nil, logger, nil)
	adapter := registry.Adapter("codex")

	srv := &daemonkit.Server{
		Spec: daemonkit.Spec{
			DaemonKey:      "caskd",
			ProtocolPrefix: "cask",
			IdleTimeoutEnv: "CCB_CASKD_IDLE_TIMEOUT_S",
		},
		Host:           *host,
		Port:           *port,
		Token:          daemonkit.GenerateToken(),
		RequestHandler: providers.SingleProviderHandler(adapter, "cask"),
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
		logger.Error("caskd exited with error", "err", err)
	}
	os.Exit(code)
}
