package providers

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/stefanc-ai2/claude-code-bridge/internal/daemonkit"
	"github.com/stefanc-ai2/claude-code-bridge/internal/reqid"
	"github.com/stefanc-ai2/claude-code-bridge/internal/rpc"
	"github.com/stefanc-ai2/claude-code-bridge/internal/workerpool"
)

// UnifiedHandler builds the daemonkit.RequestHandler for the unified
// daemon (spec §4.5): every "ask.request" carries a "provider" field
// naming which of registry's adapters should handle it, mirroring
// askd/daemon.py's dispatch-by-provider-field request loop.
func UnifiedHandler(registry *Registry) daemonkit.RequestHandler {
	return func(req rpc.Request) rpc.Response {
		if req.Provider == "" {
			return errorResponse(req, "ask", "missing provider")
		}
		if registry.Adapter(req.Provider) == nil {
			return errorResponse(req, "ask", "unknown provider "+req.Provider)
		}
		preq := requestFromRPC(req)
		reqID := resolveReqID(preq)

		task, err := registry.Submit(req.Provider, preq, reqID)
		if err != nil {
			return errorResponse(req, "ask", err.Error())
		}
		return waitAndRespond(req, "ask", req.Provider, task)
	}
}

// SingleProviderHandler builds the daemonkit.RequestHandler for a daemon
// bound to exactly one provider (caskd/gaskd/oaskd): one per-session
// worker pool, no "provider" field routing, matching the shape
// caskd_daemon.py/gaskd_daemon.py/oaskd_daemon.py each gave their single
// PerSessionWorkerPool.
func SingleProviderHandler(adapter *Adapter, protocolPrefix string) daemonkit.RequestHandler {
	pool := workerpool.NewPool[Request, Result]()
	return func(req rpc.Request) rpc.Response {
		preq := requestFromRPC(req)
		reqID := resolveReqID(preq)

		rec, err := adapter.LoadSession(preq.WorkDir)
		if err != nil {
			return errorResponse(req, protocolPrefix, err.Error())
		}
		sessionKey := adapter.ComputeSessionKey(rec)
		worker := pool.GetOrCreate(sessionKey, func(key string) *workerpool.Worker[Request, Result] {
			return workerpool.NewWorker(key, 0, adapterHandler(adapter), adapterPanicHandler(adapter))
		})

		task := workerpool.NewTask[Request, Result](reqID, preq)
		worker.Enqueue(task)
		return waitAndRespond(req, protocolPrefix, adapter.Key, task)
	}
}

func requestFromRPC(req rpc.Request) Request {
	return Request{
		ClientID:   req.ID,
		WorkDir:    req.WorkDir,
		TimeoutS:   req.TimeoutS,
		Quiet:      req.Quiet,
		Message:    req.Message,
		Caller:     req.Caller,
		OutputPath: req.OutputPath,
		NoWrap:     req.NoWrap,
		ReqIDOverr: req.ReqIDOverr,
		EmailReqID: req.EmailReqID,
		EmailMsgID: req.EmailMsgID,
		EmailFrom:  req.EmailFrom,
	}
}

// resolveReqID honors a caller-supplied override (spec §6: "req_id, when
// present, replaces the minted request id" — used by the mail bridge to
// thread its own id through) and mints a fresh one otherwise.
func resolveReqID(req Request) string {
	if req.ReqIDOverr != "" && reqid.Valid(req.ReqIDOverr) {
		return req.ReqIDOverr
	}
	return reqid.New()
}

// waitAndRespond blocks on task until it completes or the request's own
// timeout_s elapses, whichever comes first — a belt-and-suspenders bound
// alongside HandleTask's own deadline, in case a task never reaches the
// handler (e.g. queued behind a long-running sibling on the same
// session).
func waitAndRespond(req rpc.Request, protocolPrefix, provider string, task *workerpool.Task[Request, Result]) rpc.Response {
	ctx := context.Background()
	var cancel context.CancelFunc
	if req.TimeoutS > 0 {
		// a small margin over the adapter's own deadline so HandleTask's
		// own timeout path (which returns a clean exit_code=2) wins the
		// race in the common case.
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutS*float64(time.Second))+5*time.Second)
		defer cancel()
	}

	result, err := task.Wait(ctx)
	if err != nil {
		return rpc.Response{
			Type: protocolPrefix + ".response", V: 1, ID: req.ID, ReqID: task.ReqID,
			ExitCode: rpc.ExitTimeout, Reply: "", Provider: provider,
		}
	}
	return responseFromResult(req, protocolPrefix, provider, result)
}

func responseFromResult(req rpc.Request, protocolPrefix, provider string, result Result) rpc.Response {
	reply := result.Reply
	if result.ExitCode == 0 {
		reply = applyCompletionResultMode(reply, completionHookResultMode())
	}
	return rpc.Response{
		Type:     protocolPrefix + ".response",
		V:        1,
		ID:       req.ID,
		ReqID:    result.ReqID,
		ExitCode: result.ExitCode,
		Reply:    reply,
		Provider: provider,
		Meta: &rpc.Meta{
			SessionKey:   result.SessionKey,
			DoneSeen:     result.DoneSeen,
			DoneMs:       result.DoneMs,
			AnchorSeen:   result.AnchorSeen,
			AnchorMs:     result.AnchorMs,
			FallbackScan: result.FallbackScan,
			LogPath:      result.LogPath,
		},
	}
}

// completionSummaryByteCap bounds the synopsis applyCompletionResultMode
// produces in "summary" mode (the default).
const completionSummaryByteCap = 480

// completionHookResultMode reads CCB_COMPLETION_HOOK_RESULT_MODE
// (spec §6, §9's Open Question resolution), defaulting to "summary" for
// every provider on an unset or unrecognized value.
func completionHookResultMode() string {
	switch mode := strings.ToLower(strings.TrimSpace(os.Getenv("CCB_COMPLETION_HOOK_RESULT_MODE"))); mode {
	case "full", "summary", "none":
		return mode
	default:
		return "summary"
	}
}

// applyCompletionResultMode shapes a successful task's reply for the
// wire response per mode: "full" passes it through untouched, "none"
// zeroes it (Meta still carries done/anchor timing either way), and
// "summary" truncates it to a short synopsis — the reply's first
// paragraph, further capped at completionSummaryByteCap bytes.
func applyCompletionResultMode(reply, mode string) string {
	switch mode {
	case "full":
		return reply
	case "none":
		return ""
	default:
		return summarizeReply(reply)
	}
}

func summarizeReply(reply string) string {
	trimmed := strings.TrimSpace(reply)
	if trimmed == "" {
		return ""
	}
	para := trimmed
	if idx := strings.Index(trimmed, "\n\n"); idx >= 0 {
		para = trimmed[:idx]
	}
	para = strings.TrimSpace(para)
	if len(para) > completionSummaryByteCap {
		para = strings.TrimSpace(para[:completionSummaryByteCap]) + "…"
	}
	return para
}

func errorResponse(req rpc.Request, protocolPrefix, reply string) rpc.Response {
	return rpc.Response{
		Type: protocolPrefix + ".response", V: 1, ID: req.ID,
		ExitCode: rpc.ExitError, Reply: reply,
	}
}
