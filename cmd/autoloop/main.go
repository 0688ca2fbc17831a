// Command autoloop drives one caller's plan-state supervisor (spec
// §4.6): "--once" for a single evaluation, or a daemon polling
// state.json at 500ms intervals until interrupted.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stefanc-ai2/claude-code-bridge/internal/autoloop"
	"github.com/stefanc-ai2/claude-code-bridge/internal/config"
	"github.com/stefanc-ai2/claude-code-bridge/internal/terminal"
)

func main() {
	repo := flag.String("repo", "", "project root (required)")
	once := flag.Bool("once", false, "run a single evaluation and exit")
	terminalKind := flag.String("terminal", "tmux", "terminal backend bound to the caller's own pane (tmux|wezterm|iterm2|direct)")
	threshold := flag.Int("threshold", 0, "context-usage percent above which /clear is injected before /tr (default 70)")
	cooldown := flag.Int("cooldown-s", 0, "minimum seconds between triggers (default 20)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *repo == "" {
		logger.Error("autoloop: --repo is required")
		os.Exit(1)
	}

	cfg, err := config.LoadDefault()
	if err != nil {
		logger.Warn("autoloop: loading model-context config", "err", err)
		cfg = nil
	}

	backend, err := terminal.Resolve(*terminalKind)
	if err != nil {
		logger.Error("autoloop: resolving terminal backend", "err", err)
		os.Exit(1)
	}

	opts := autoloop.Options{
		Repo:    *repo,
		Backend: backend,
		Config:  cfg,
	}
	if *threshold > 0 {
		opts.Threshold = *threshold
	}
	if *cooldown > 0 {
		opts.Cooldown = time.Duration(*cooldown) * time.Second
	}
	sup := autoloop.New(opts)

	if *once {
		result, err := sup.RunOnce(true)
		if err != nil {
			logger.Error("autoloop: run once", "err", err)
			os.Exit(1)
		}
		logger.Info("autoloop: evaluation complete", "status", result.Status, "reason", result.Reason, "triggered", result.Status == "triggered")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(done)
	}()

	if err := sup.Daemon(done, func(r autoloop.Result) {
		logger.Info("autoloop: tick", "status", r.Status, "reason", r.Reason)
	}); err != nil {
		logger.Error("autoloop: daemon exited", "err", err)
		os.Exit(1)
	}
}
