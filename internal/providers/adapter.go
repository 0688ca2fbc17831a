// Package providers implements the per-provider adapters the unified
// daemon dispatches requests to (spec §4.5): each adapter binds a
// work-dir's session record, computes its session key, and carries out
// one delegation — inject the wrapped prompt, tail the provider's
// transcript for the done sentinel, and report the result. Grounded on
// _examples/original_source/lib/askd/daemon.py's BaseProviderAdapter
// usage contract (load_session / compute_session_key / handle_task /
// handle_exception) and on _examples/original_source/lib/caskd_daemon.py,
// gaskd_daemon.py, and oaskd_daemon.py for the shared inject-then-tail
// algorithm each single-provider daemon repeats.
package providers

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stefanc-ai2/claude-code-bridge/internal/monitor"
	"github.com/stefanc-ai2/claude-code-bridge/internal/protocol"
	"github.com/stefanc-ai2/claude-code-bridge/internal/sessionreg"
	"github.com/stefanc-ai2/claude-code-bridge/internal/terminal"
	"github.com/stefanc-ai2/claude-code-bridge/internal/transcript"
)

// Request is the provider-agnostic shape of one delegation, carrying
// every field the wire Request (spec §6) can set.
type Request struct {
	ClientID   string
	WorkDir    string
	TimeoutS   float64 // negative = no bound
	Quiet      bool
	Message    string
	Caller     string
	OutputPath string
	NoWrap     bool
	ReqIDOverr string

	EmailReqID string
	EmailMsgID string
	EmailFrom  string
}

// Result is the provider-agnostic shape of one delegation's outcome,
// carrying every field the wire Response's body/meta (spec §6) needs.
type Result struct {
	ReqID        string
	ExitCode     int
	Reply        string
	SessionKey   string
	DoneSeen     bool
	DoneMs       int64
	AnchorSeen   bool
	AnchorMs     int64
	FallbackScan bool
	LogPath      string
}

// pollSlice bounds how long one WaitForMessage call blocks before this
// package re-checks for provider-side cancellation (screen-capture
// cancellation can only be observed between reader polls, not during
// one). Small enough that a cancelled task is reported promptly, large
// enough not to busy-loop the reader.
const pollSlice = 1 * time.Second

// anchorSettleDelay gives the terminal multiplexer time to actually
// render the injected prompt before the anchor screen-capture check
// runs, avoiding a false "anchor not seen" on a slow pane.
const anchorSettleDelay = 150 * time.Millisecond

// Adapter carries out one provider's delegation. The inject-then-tail
// algorithm itself (this file's handleTask) is shared by every provider;
// only session-record suffix, transcript reader construction, default
// launch command, and cancellation detection vary — exactly mirroring
// how caskd_daemon.py/gaskd_daemon.py/oaskd_daemon.py each wrap the same
// shape around a different CodexLogReader/GeminiLogReader/
// OpenCodeLogReader.
type Adapter struct {
	// Key is the provider name carried in the wire protocol's "provider"
	// field and the session record suffix (".<key>-session").
	Key string

	// Backend, when set, overrides per-session terminal-kind resolution
	// (the injection point tests use). Production adapters leave this
	// nil so backendFor resolves the right multiplexer from each
	// session record's own "terminal" field (spec §3: terminal kind "set
	// at pane creation", which can differ session to session).
	Backend terminal.Backend
	Logger  *slog.Logger

	// NewReader constructs a fresh transcript.Reader bound to workDir.
	NewReader func(workDir string) (transcript.Reader, error)

	// ScreenCancelMarker, when set, enables Codex/Droid-style
	// screen-capture cancellation: if the pane's visible text contains
	// this marker after the injected CCB_REQ_ID line, the task is
	// reported cancelled rather than waited out to timeout.
	ScreenCancelMarker string

	// ReaderCancelText, when set, enables cancellation detection against
	// text the reader itself surfaces (e.g. a reader that folds an
	// aborted-message marker into the text it returns from
	// WaitForMessage). A message containing this substring is treated as
	// "the provider cancelled", not as a candidate reply.
	ReaderCancelText string

	// Hub, when set, receives task_start/anchor/task_done/task_cancelled
	// events for every delegation this adapter runs. Nil is a valid,
	// fully-supported value — the observability surface is additive
	// (spec's debug websocket is opt-in), so adapter tests and any
	// caller that doesn't wire a Hub pay nothing for it.
	Hub *monitor.Hub

	// PaneCheckInterval, when nonzero, makes HandleTask re-verify the
	// pane is still alive at this cadence while it waits for a reply,
	// failing fast instead of waiting out the full timeout when the
	// provider's pane dies mid-request (spec §6:
	// CCB_CASKD_PANE_CHECK_INTERVAL). Zero disables the check.
	PaneCheckInterval time.Duration
}

// LoadSession loads the existing session record bound to workDir. It
// never creates one — binding a fresh pane to a work-dir is session
// provisioning (the CLI/bootstrap concern spec §1 scopes to the
// caller's `ask` client and terminal capability, not the daemon's
// request-handling path), so an unbound work-dir is reported as a
// request-level error rather than silently opening a pane.
func (a *Adapter) LoadSession(workDir string) (*sessionreg.Record, error) {
	rec, ok, err := sessionreg.Load(workDir, a.Key)
	if err != nil {
		return nil, err
	}
	if !ok || !rec.Active() {
		return nil, fmt.Errorf("%s: no active session bound for %s", a.Key, workDir)
	}
	return rec, nil
}

// ComputeSessionKey delegates to the record's shared priority rule
// (spec §4.2).
func (a *Adapter) ComputeSessionKey(rec *sessionreg.Record) string {
	return rec.ComputeSessionKey()
}

// HandleTask runs the full delegation: resolve the pane, wrap and inject
// the prompt, tail the transcript for the done sentinel, and return the
// result. reqID is pre-assigned by the caller (the worker pool mints it
// before a session key is even known) so it can be threaded through
// HandleException on an unrecovered panic too.
func (a *Adapter) HandleTask(req Request, reqID string) Result {
	rec, err := a.LoadSession(req.WorkDir)
	if err != nil {
		return Result{ReqID: reqID, ExitCode: 1, Reply: err.Error()}
	}
	sessionKey := a.ComputeSessionKey(rec)

	backend, err := a.backendFor(rec)
	if err != nil {
		return Result{ReqID: reqID, ExitCode: 1, Reply: err.Error(), SessionKey: sessionKey}
	}

	if a.Hub != nil {
		a.Hub.TaskStart(sessionKey, reqID, a.Key, time.Now())
	}

	paneID, alive := rec.EnsurePane(backend)
	if !alive {
		return Result{ReqID: reqID, ExitCode: 1, Reply: "pane unavailable", SessionKey: sessionKey}
	}

	reader, err := a.NewReader(req.WorkDir)
	if err != nil {
		return Result{ReqID: reqID, ExitCode: 1, Reply: fmt.Sprintf("transcript reader: %v", err), SessionKey: sessionKey}
	}
	state := reader.CaptureState()

	prompt := req.Message
	if !req.NoWrap {
		prompt = protocol.WrapRequestPrompt(req.Message, reqID)
	}
	if err := backend.SendText(paneID, prompt); err != nil {
		return Result{ReqID: reqID, ExitCode: 1, Reply: fmt.Sprintf("inject prompt: %v", err), SessionKey: sessionKey}
	}

	anchorSeen, anchorMs := a.checkAnchor(backend, paneID, reqID)
	if anchorSeen && a.Hub != nil {
		a.Hub.Anchor(sessionKey, reqID, a.Key, time.Now())
	}

	deadline := time.Now().Add(24 * time.Hour) // effectively unbounded
	if req.TimeoutS >= 0 {
		deadline = time.Now().Add(time.Duration(req.TimeoutS * float64(time.Second)))
	}

	lastPaneCheck := time.Now()
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Result{ReqID: reqID, ExitCode: 2, Reply: "", SessionKey: sessionKey, AnchorSeen: anchorSeen, AnchorMs: anchorMs}
		}

		if a.PaneCheckInterval > 0 && time.Since(lastPaneCheck) >= a.PaneCheckInterval {
			lastPaneCheck = time.Now()
			if !backend.IsAlive(paneID) {
				return Result{ReqID: reqID, ExitCode: 1, Reply: "pane died during request", SessionKey: sessionKey, AnchorSeen: anchorSeen, AnchorMs: anchorMs}
			}
		}

		slice := pollSlice
		if remaining < slice {
			slice = remaining
		}

		msg, newState := reader.WaitForMessage(state, slice)
		state = newState

		if msg != "" {
			if a.ReaderCancelText != "" && strings.Contains(msg, a.ReaderCancelText) {
				a.publishCancelled(sessionKey, reqID)
				return Result{ReqID: reqID, ExitCode: 1, Reply: "cancelled", SessionKey: sessionKey, AnchorSeen: anchorSeen, AnchorMs: anchorMs}
			}
			if protocol.IsDoneText(msg, reqID) {
				doneMs := time.Now().UnixMilli()
				reply := protocol.StripDoneText(msg, reqID)
				a.rebind(rec, reader)
				if a.Hub != nil {
					a.Hub.TaskDone(sessionKey, reqID, a.Key, time.Now())
				}
				return Result{
					ReqID: reqID, ExitCode: 0, Reply: reply, SessionKey: sessionKey,
					DoneSeen: true, DoneMs: doneMs, AnchorSeen: anchorSeen, AnchorMs: anchorMs,
				}
			}
			// A message arrived but isn't this request's done line —
			// either an earlier in-flight reply or an intermediate
			// assistant turn. Keep waiting.
		}

		if a.ScreenCancelMarker != "" && a.screenShowsCancelAfterAnchor(backend, paneID, reqID) {
			a.publishCancelled(sessionKey, reqID)
			return Result{ReqID: reqID, ExitCode: 1, Reply: "cancelled", SessionKey: sessionKey, AnchorSeen: anchorSeen, AnchorMs: anchorMs}
		}
	}
}

// HandleException converts a recovered panic into the same Result shape
// a normal failure path would produce, mirroring
// BaseSessionWorker._handle_exception's "task failures never abort the
// worker" guarantee (spec §4.2).
func (a *Adapter) HandleException(reqID string, recovered any) Result {
	if a.Logger != nil {
		a.Logger.Error("provider adapter panic", "provider", a.Key, "req_id", reqID, "recovered", recovered)
	}
	return Result{ReqID: reqID, ExitCode: 1, Reply: fmt.Sprintf("internal error: %v", recovered)}
}

// backendFor resolves the terminal capability to drive this session's
// pane through. a.Backend, when set, overrides resolution entirely (the
// hook tests use); otherwise it resolves from the record's own
// "terminal" field, so a tmux session and a wezterm session bound to the
// same adapter are each driven through their own backend.
func (a *Adapter) backendFor(rec *sessionreg.Record) (terminal.Backend, error) {
	if a.Backend != nil {
		return a.Backend, nil
	}
	return terminal.Resolve(rec.Terminal())
}

func (a *Adapter) publishCancelled(sessionKey, reqID string) {
	if a.Hub != nil {
		a.Hub.TaskCancelled(sessionKey, reqID, a.Key, time.Now())
	}
}

func (a *Adapter) checkAnchor(backend terminal.Backend, paneID, reqID string) (bool, int64) {
	time.Sleep(anchorSettleDelay)
	text, err := backend.CapturePaneText(paneID, 0)
	if err != nil {
		return false, 0
	}
	anchor := protocol.ReqIDPrefix + " " + reqID
	if strings.Contains(text, anchor) {
		return true, time.Now().UnixMilli()
	}
	return false, 0
}

// screenShowsCancelAfterAnchor reports whether the pane's visible text
// contains ScreenCancelMarker at or after the last occurrence of this
// request's anchor line (spec §4.3: "Codex detects interruption by
// screen-capture: if the pane's recent text contains '■ Conversation
// interrupted' after our CCB_REQ_ID marker").
func (a *Adapter) screenShowsCancelAfterAnchor(backend terminal.Backend, paneID, reqID string) bool {
	text, err := backend.CapturePaneText(paneID, 0)
	if err != nil {
		return false
	}
	anchor := protocol.ReqIDPrefix + " " + reqID
	anchorIdx := strings.LastIndex(text, anchor)
	if anchorIdx < 0 {
		return false
	}
	return strings.Contains(text[anchorIdx:], a.ScreenCancelMarker)
}

// rebind updates the session record with whatever the transcript reader
// observed about the provider's own session id/path during this
// delegation (spec §3: "updated when observed in transcript"/"updated on
// rebind"). Best-effort: a save failure here does not fail the request
// that already has its reply.
func (a *Adapter) rebind(rec *sessionreg.Record, reader transcript.Reader) {
	if path := reader.CurrentSessionPath(); path != "" {
		rec.UpdateSessionPath(path)
	}
	_ = rec.Save()
}
