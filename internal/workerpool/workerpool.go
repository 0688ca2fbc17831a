// Package workerpool implements the per-session serial worker pool
// (spec §2 item 5, §4.2): one FIFO queue and one dedicated goroutine per
// session key, guaranteeing at most one in-flight delegation per provider
// TUI. Grounded on _examples/original_source/lib/worker_pool.py.
package workerpool

import (
	"context"
	"sync"
	"time"
)

// Task is one unit of work routed through a session's worker. ReqID is
// carried for logging; Done is closed exactly once, after Result/Err are
// set, mirroring the original's threading.Event "done_event".
type Task[Req any, Result any] struct {
	ReqID     string
	Request   Req
	CreatedAt time.Time

	done   chan struct{}
	once   sync.Once
	Result Result
	Err    error
}

// NewTask builds a task ready to enqueue.
func NewTask[Req any, Result any](reqID string, req Req) *Task[Req, Result] {
	return &Task[Req, Result]{ReqID: reqID, Request: req, CreatedAt: time.Now(), done: make(chan struct{})}
}

// Wait blocks until the task completes or ctx is done, whichever comes
// first. Submitters use this with a context bounded by timeout_s plus the
// slack spec §4.2 describes.
func (t *Task[Req, Result]) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		return t.Result, t.Err
	case <-ctx.Done():
		var zero Result
		return zero, ctx.Err()
	}
}

func (t *Task[Req, Result]) complete(result Result, err error) {
	t.once.Do(func() {
		t.Result = result
		t.Err = err
		close(t.done)
	})
}

// Handler processes one task for a session worker. It should not panic;
// Worker recovers and routes a panic through OnPanic, converting it to a
// Result the same way the original's _handle_exception does.
type Handler[Req any, Result any] func(task *Task[Req, Result]) (Result, error)

// PanicHandler converts a recovered panic value into a Result/error pair,
// the Go analogue of BaseSessionWorker._handle_exception.
type PanicHandler[Req any, Result any] func(task *Task[Req, Result], recovered any) (Result, error)

// Worker runs one goroutine draining a FIFO queue for a single session
// key. At most one task is processed at a time — this is the "serial
// lane" the spec requires per provider TUI.
type Worker[Req any, Result any] struct {
	SessionKey string

	handler Handler[Req, Result]
	onPanic PanicHandler[Req, Result]

	queue chan *Task[Req, Result]
	stop  chan struct{}
	once  sync.Once
}

// NewWorker constructs (but does not start) a worker for sessionKey.
// queueSize bounds the FIFO before Enqueue blocks; pass 0 for a reasonable
// default.
func NewWorker[Req any, Result any](sessionKey string, queueSize int, handler Handler[Req, Result], onPanic PanicHandler[Req, Result]) *Worker[Req, Result] {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Worker[Req, Result]{
		SessionKey: sessionKey,
		handler:    handler,
		onPanic:    onPanic,
		queue:      make(chan *Task[Req, Result], queueSize),
		stop:       make(chan struct{}),
	}
}

// Enqueue adds a task to the worker's FIFO queue.
func (w *Worker[Req, Result]) Enqueue(task *Task[Req, Result]) {
	w.queue <- task
}

// Start runs the worker loop in its own goroutine. Call once.
func (w *Worker[Req, Result]) Start() {
	go w.run()
}

// Stop ends the worker loop after its current task (if any) finishes.
// The loop may still take a queued task before it sees the stop signal;
// tasks left in the queue when it exits are never processed.
func (w *Worker[Req, Result]) Stop() {
	w.once.Do(func() { close(w.stop) })
}

func (w *Worker[Req, Result]) run() {
	for {
		select {
		case <-w.stop:
			return
		case task := <-w.queue:
			w.process(task)
		}
	}
}

func (w *Worker[Req, Result]) process(task *Task[Req, Result]) {
	defer func() {
		if r := recover(); r != nil {
			result, err := w.onPanic(task, r)
			task.complete(result, err)
		}
	}()
	result, err := w.handler(task)
	task.complete(result, err)
}

// Pool maps session keys to their dedicated Worker, creating one lazily on
// first use (spec §4.2 "get_or_create").
type Pool[Req any, Result any] struct {
	mu      sync.Mutex
	workers map[string]*Worker[Req, Result]
}

// NewPool builds an empty pool.
func NewPool[Req any, Result any]() *Pool[Req, Result] {
	return &Pool[Req, Result]{workers: make(map[string]*Worker[Req, Result])}
}

// GetOrCreate returns the worker for sessionKey, creating and starting one
// via factory if none exists yet. Safe for concurrent use.
func (p *Pool[Req, Result]) GetOrCreate(sessionKey string, factory func(string) *Worker[Req, Result]) *Worker[Req, Result] {
	p.mu.Lock()
	worker, ok := p.workers[sessionKey]
	if !ok {
		worker = factory(sessionKey)
		p.workers[sessionKey] = worker
	}
	p.mu.Unlock()

	if !ok {
		worker.Start()
	}
	return worker
}

// StopAll stops every worker currently tracked by the pool. Used on
// daemon shutdown.
func (p *Pool[Req, Result]) StopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		w.Stop()
	}
}
