// Command gaskd is the single-provider Gemini daemon (spec §4.4): it
// binds only the gemini adapter, one per-session worker pool, no
// "provider" field routing — the "gask" protocol prefix.
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
		fmt.Println("gaskd", version)
		return
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	registry := providers.NewRegistry(nil, logger, nil)
	adapter := registry.Adapter("gemini")

	srv := &daemonkit.Server{
		Spec: daemonkit.Spec{
			DaemonKey:      "gaskd",
			ProtocolPrefix: "gask",
			IdleTimeoutEnv: "CCB_GASKD_IDLE_TIMEOUT_S",
		},
		Host:           *host,
		Port:           *port,
		Token:          daemonkit.GenerateToken(),
		RequestHandler: providers.SingleProviderHandler(adapter, "gask"),
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
		logger.Error("gaskd exited with error", "err", err)
	}
	os.Exit(code)
}
