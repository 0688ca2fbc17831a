package maild

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/stefanc-ai2/claude-code-bridge/internal/daemonkit"
	"github.com/stefanc-ai2/claude-code-bridge/internal/reqid"
	"github.com/stefanc-ai2/claude-code-bridge/internal/rpc"
)

// Source polls an inbox for new mail. A real IMAP implementation is out
// of scope here (spec §4.7); Daemon only needs something that can
// produce Messages on demand.
type Source interface {
	Poll(ctx context.Context) ([]Message, error)
}

// AskSender submits req to the unified daemon and returns its response,
// the routing hop spec §4.7 describes ("routes the message as an
// ask.request into the unified daemon"). In production this wraps
// rpcclient.SendRequest("askd", "ask", req); tests supply a fake.
type AskSender func(req rpc.Request) (rpc.Response, error)

// RoutedResult is reported to OnRouted after each message is handled,
// the same observability hook mail/daemon.py's message handler's return
// value gave the caller ("[maild] ... (req=...)").
type RoutedResult struct {
	Message  Message
	Provider string
	ReqID    string
	Response rpc.Response
	Err      error
}

// Options configures a Daemon.
type Options struct {
	Email        string
	PollInterval time.Duration // default 30s
	Source       Source
	Send         AskSender
	Logger       *slog.Logger
	OnRouted     func(RoutedResult)

	// ParentPID enables parent-liveness supervision (spec §4.4's parent
	// monitor); 0 disables it. cmd/maild sets this from CCB_PARENT_PID.
	ParentPID int
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 30 * time.Second
	}
	return o
}

// Daemon is the mail bridge's lifecycle shell: single-instance lock,
// state file, parent-pid supervision, and a poll loop that routes each
// inbound message into the unified daemon.
type Daemon struct {
	opts Options
	lock *daemonkit.Lock
}

// New builds a Daemon. Call Run to start serving.
func New(opts Options) *Daemon {
	return &Daemon{opts: opts.withDefaults(), lock: daemonkit.NewLock(daemonKey)}
}

// Run acquires the single-instance lock, publishes state, and polls
// until stop is closed or ctx is cancelled. Returns exit code 2 (matching
// every other daemon's single-instance convention, spec §4.4) if another
// maild instance already holds the lock.
func (d *Daemon) Run(ctx context.Context, stop <-chan struct{}) (int, error) {
	ok, err := d.lock.TryAcquire()
	if err != nil {
		return 1, err
	}
	if !ok {
		return 2, nil
	}
	defer d.lock.Release()

	st := State{
		PID:       os.Getpid(),
		StartedAt: newStartedAt(time.Now()),
		Email:     d.opts.Email,
		Status:    "running",
		Version:   3,
	}
	if err := writeState(st); err != nil {
		return 1, err
	}
	d.logInfo(fmt.Sprintf("maild started pid=%d email=%s", st.PID, st.Email))

	parent := daemonkit.NewParentMonitor(d.opts.ParentPID)
	parentDone := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		parent.Run(func() {
			d.logInfo("maild: parent process exited; shutting down")
			close(stopped)
		})
		close(parentDone)
	}()
	defer parent.Stop()

	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-stop:
			break loop
		case <-stopped:
			break loop
		case <-ticker.C:
			d.pollOnce(ctx)
		}
	}

	if err := removeStateIfOwned(); err != nil {
		d.logError(fmt.Sprintf("maild: remove state file: %v", err))
	}
	d.logInfo("maild stopped")
	return 0, nil
}

func (d *Daemon) pollOnce(ctx context.Context) {
	if d.opts.Source == nil {
		return
	}
	messages, err := d.opts.Source.Poll(ctx)
	if err != nil {
		d.logError(fmt.Sprintf("maild: poll error: %v", err))
		return
	}
	for _, msg := range messages {
		d.route(msg)
	}
}

func (d *Daemon) route(msg Message) {
	provider, text, ok := ParseProviderPrefix(msg.Body)
	if !ok {
		d.logError(fmt.Sprintf("maild: no provider prefix in message from %s, skipping", msg.From))
		return
	}

	id := msg.ReqIDHint
	if id == "" || !reqid.Valid(id) {
		id = reqid.New()
	}

	req := rpc.Request{
		ID:         id,
		Provider:   provider,
		Caller:     "email",
		WorkDir:    msg.WorkDir,
		Message:    text,
		TimeoutS:   -1,
		EmailReqID: id,
		EmailMsgID: msg.MsgID,
		EmailFrom:  msg.From,
	}

	result := RoutedResult{Message: msg, Provider: provider, ReqID: id}
	if d.opts.Send == nil {
		result.Err = fmt.Errorf("maild: no ask sender configured")
	} else {
		result.Response, result.Err = d.opts.Send(req)
	}

	if result.Err != nil {
		d.logError(fmt.Sprintf("maild: ask dispatch failed for %s: %v", msg.From, result.Err))
	} else {
		d.logInfo(fmt.Sprintf("maild: routed %s -> provider=%s req=%s exit_code=%d", msg.From, provider, id, result.Response.ExitCode))
	}
	if d.opts.OnRouted != nil {
		d.opts.OnRouted(result)
	}
}

func (d *Daemon) logInfo(msg string) {
	if d.opts.Logger != nil {
		d.opts.Logger.Info(msg)
	}
}

func (d *Daemon) logError(msg string) {
	if d.opts.Logger != nil {
		d.opts.Logger.Error(msg)
	}
}
