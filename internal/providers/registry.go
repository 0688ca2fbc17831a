package providers

import (
	"fmt"
	"log/slog"

	"github.com/stefanc-ai2/claude-code-bridge/internal/monitor"
	"github.com/stefanc-ai2/claude-code-bridge/internal/terminal"
	"github.com/stefanc-ai2/claude-code-bridge/internal/workerpool"
)

// Registry maps a provider key to its Adapter and per-session worker
// pool, the routing table the unified daemon's request handler
// dispatches through — mirroring askd/daemon.py's _UnifiedWorkerPool,
// which lazily creates one PerSessionWorkerPool per provider key behind
// adapter.load_session / adapter.compute_session_key.
type Registry struct {
	adapters map[string]*Adapter
	pools    map[string]*workerpool.Pool[Request, Result]
}

// NewRegistry builds adapters for every provider backed by backend,
// logging through logger. hub may be nil — every adapter's
// observability publishing is a no-op without one.
func NewRegistry(backend terminal.Backend, logger *slog.Logger, hub *monitor.Hub) *Registry {
	reg := &Registry{
		adapters: make(map[string]*Adapter),
		pools:    make(map[string]*workerpool.Pool[Request, Result]),
	}
	for _, a := range defaultAdapters(backend, logger) {
		a.Hub = hub
		reg.adapters[a.Key] = a
		reg.pools[a.Key] = workerpool.NewPool[Request, Result]()
	}
	return reg
}

// Adapter returns the adapter registered for key, or nil if key is
// unknown.
func (r *Registry) Adapter(key string) *Adapter {
	return r.adapters[key]
}

// Submit enqueues req on key's per-session worker, keyed by the
// session-key the adapter computes from req's bound session record —
// the same "one worker per session, tasks serialize" shape every
// PerSessionWorkerPool in the original gave each provider (spec §5).
func (r *Registry) Submit(key string, req Request, reqID string) (*workerpool.Task[Request, Result], error) {
	adapter, ok := r.adapters[key]
	if !ok {
		return nil, fmt.Errorf("providers: unknown provider %q", key)
	}
	pool := r.pools[key]

	rec, err := adapter.LoadSession(req.WorkDir)
	if err != nil {
		return nil, err
	}
	sessionKey := adapter.ComputeSessionKey(rec)

	worker := pool.GetOrCreate(sessionKey, func(key string) *workerpool.Worker[Request, Result] {
		return workerpool.NewWorker(key, 0, adapterHandler(adapter), adapterPanicHandler(adapter))
	})

	task := workerpool.NewTask[Request, Result](reqID, req)
	worker.Enqueue(task)
	return task, nil
}

// StopAll shuts every provider's worker pool down, used on daemon
// shutdown (spec §4.5: "registry.stop_all() on exit").
func (r *Registry) StopAll() {
	for _, pool := range r.pools {
		pool.StopAll()
	}
}

func adapterHandler(a *Adapter) workerpool.Handler[Request, Result] {
	return func(task *workerpool.Task[Request, Result]) (Result, error) {
		return a.HandleTask(task.Request, task.ReqID), nil
	}
}

func adapterPanicHandler(a *Adapter) workerpool.PanicHandler[Request, Result] {
	return func(task *workerpool.Task[Request, Result], recovered any) (Result, error) {
		return a.HandleException(task.ReqID, recovered), nil
	}
}

// defaultAdapters builds the five provider adapters, one constructor per
// provider file (codex.go, gemini.go, opencode.go, droid.go, claude.go)
// mirroring how the original kept one daemon module per provider even
// though they shared almost all of their logic.
func defaultAdapters(backend terminal.Backend, logger *slog.Logger) []*Adapter {
	return []*Adapter{
		newCodexAdapter(backend, logger),
		newGeminiAdapter(backend, logger),
		newOpenCodeAdapter(backend, logger),
		newDroidAdapter(backend, logger),
		newClaudeAdapter(backend, logger),
	}
}
