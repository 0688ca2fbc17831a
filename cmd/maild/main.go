// Command maild is the mail bridge's lifecycle shell (spec §4.7): the
// same single-instance lock, state file, and parent-pid supervision
// every other daemon gets, with a poll loop that routes each message as
// an ask.request into the unified daemon. Message parsing and SMTP
// sending are out of scope (spec §4.7). This binary wires the AskSender
// to askd but sets no maild.Source, so its poll ticks fetch nothing.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stefanc-ai2/claude-code-bridge/internal/daemonkit"
	"github.com/stefanc-ai2/claude-code-bridge/internal/maild"
	"github.com/stefanc-ai2/claude-code-bridge/internal/rpc"
	"github.com/stefanc-ai2/claude-code-bridge/internal/rpcclient"
)

func main() {
	email := flag.String("email", "", "mailbox address this bridge answers for")
	pollIntervalS := flag.Int("poll-interval-s", 30, "seconds between inbox polls")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	d := maild.New(maild.Options{
		Email:        *email,
		PollInterval: time.Duration(*pollIntervalS) * time.Second,
		Send:         sendViaAskd,
		Logger:       logger,
		ParentPID:    daemonkit.ParentPIDFromEnv(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(done)
	}()

	code, err := d.Run(context.Background(), done)
	if err != nil {
		logger.Error("maild exited with error", "err", err)
	}
	os.Exit(code)
}

// sendViaAskd is the routing hop spec §4.7 describes: every parsed
// message becomes an ask.request against the unified daemon, the same
// path a caller's own `ask` client would take.
func sendViaAskd(req rpc.Request) (rpc.Response, error) {
	return rpcclient.SendRequest("askd", "ask", req)
}
