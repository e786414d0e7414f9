package task

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/latchkey-labs/embermcp/internal/jsonrpc"
)

// Hooks lets callers (internal/metrics) observe engine activity without the
// task package importing prometheus directly.
type Hooks struct {
	OnSubmit   func()
	OnComplete func(state State, d time.Duration)
	OnReject   func()
}

// Config sizes the worker pool and the resource limit of spec.md §4.4.
type Config struct {
	Workers        int
	MaxPendingTasks int
	DefaultTimeout time.Duration
	EventBuffer    int
}

// DefaultConfig matches the spec's documented defaults: a small worker pool
// (most tool calls are I/O-bound, not CPU-bound), an 8-task pending cap,
// and a 30s per-task deadline absent an explicit override.
func DefaultConfig() Config {
	return Config{
		Workers:         2,
		MaxPendingTasks: 8,
		DefaultTimeout:  30 * time.Second,
		EventBuffer:     64,
	}
}

type queuedItem struct {
	task    *Task
	handler Handler
	args    []byte
}

// Engine is the bounded worker pool that runs tool handlers off the
// receive path (spec.md §4.4).
type Engine struct {
	cfg   Config
	hooks Hooks

	queue chan queuedItem
	out   chan Event

	mu      sync.Mutex
	tasks   map[string]*Task
	pending int

	closed atomic.Bool
	wg     sync.WaitGroup
}

// New starts cfg.Workers worker goroutines and returns a ready Engine.
// Zero-value Config fields fall back to DefaultConfig's.
func New(cfg Config, hooks Hooks) *Engine {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxPendingTasks <= 0 {
		cfg.MaxPendingTasks = def.MaxPendingTasks
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = def.DefaultTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}

	e := &Engine{
		cfg:   cfg,
		hooks: hooks,
		queue: make(chan queuedItem, cfg.MaxPendingTasks),
		out:   make(chan Event, cfg.EventBuffer),
		tasks: make(map[string]*Task),
	}

	for i := 0; i < cfg.Workers; i++ {
		e.wg.Add(1)
		go e.runWorker()
	}

	return e
}

// Events returns the channel of progress/terminal events; the session's
// single writer goroutine must drain it for the lifetime of the engine.
func (e *Engine) Events() <-chan Event { return e.out }

// Submit enqueues a handler to run asynchronously under requestId. It
// returns the -32011 resource-limit error synchronously, without touching
// the worker pool, once MaxPendingTasks in-flight tasks already exist
// (spec §4.4).
func (e *Engine) Submit(id jsonrpc.Id, method jsonrpc.Method, progressToken string, timeout time.Duration, args []byte, handler Handler) (*Task, *jsonrpc.Error) {
	if e.closed.Load() {
		return nil, jsonrpc.NewInvalidState("task engine is shutting down")
	}
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}

	e.mu.Lock()
	if e.pending >= e.cfg.MaxPendingTasks {
		e.mu.Unlock()
		if e.hooks.OnReject != nil {
			e.hooks.OnReject()
		}
		return nil, jsonrpc.NewResourceLimit(fmt.Sprintf("max_pending_tasks (%d) exceeded", e.cfg.MaxPendingTasks))
	}

	t := newTask(id, method, progressToken, timeout, e.out)
	e.tasks[taskKey(id)] = t
	e.pending++
	e.mu.Unlock()

	if e.hooks.OnSubmit != nil {
		e.hooks.OnSubmit()
	}

	e.queue <- queuedItem{task: t, handler: handler, args: args}
	return t, nil
}

// Cancel looks up the task registered under requestId and sets its
// cooperative cancel flag. It reports whether a live task was found.
func (e *Engine) Cancel(requestId jsonrpc.Id) bool {
	e.mu.Lock()
	t, ok := e.tasks[taskKey(requestId)]
	e.mu.Unlock()
	if !ok {
		return false
	}
	t.Cancel()
	return true
}

// PendingCount reports the number of tasks currently queued or running.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending
}

// Shutdown stops accepting new Submit calls, cancels every tracked task,
// and waits up to grace for every pending task to finish before returning. It never
// closes Events(): the caller stops reading once it has drained the
// terminal response for every task it was waiting on.
func (e *Engine) Shutdown(grace time.Duration) {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}

	e.mu.Lock()
	for _, t := range e.tasks {
		t.Cancel()
	}
	e.mu.Unlock()

	// Workers keep ranging over the queue after Shutdown, so wait on the
	// pending count rather than on the worker goroutines exiting.
	deadline := time.Now().Add(grace)
	for e.PendingCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
}

func (e *Engine) runWorker() {
	defer e.wg.Done()
	for item := range e.queue {
		e.runOne(item)
	}
}

func (e *Engine) runOne(item queuedItem) {
	t := item.task
	t.setState(StateRunning)

	result, err := e.invoke(item)

	t.setState(StateFinishing)

	elapsed := time.Since(t.StartedAt)
	terminalState := StateDone

	switch {
	case t.IsCancelled():
		terminalState = StateCancelled
		t.emitTerminal(TerminalResponse{
			RequestId: t.RequestId,
			Err:       jsonrpc.NewCancelled(),
		})
	case t.ctx.Err() == context.DeadlineExceeded:
		terminalState = StateTimedOut
		t.emitTerminal(TerminalResponse{
			RequestId: t.RequestId,
			Err:       jsonrpc.NewTimeout(),
		})
	case err != nil:
		var rpcErr *jsonrpc.Error
		if asRPC, ok := err.(*jsonrpc.Error); ok {
			rpcErr = asRPC
		} else {
			rpcErr = jsonrpc.NewInternalError(err.Error())
		}
		t.emitTerminal(TerminalResponse{RequestId: t.RequestId, Err: rpcErr})
	default:
		res := result
		t.emitTerminal(TerminalResponse{RequestId: t.RequestId, Result: &res})
	}

	if e.hooks.OnComplete != nil {
		e.hooks.OnComplete(terminalState, elapsed)
	}

	e.mu.Lock()
	delete(e.tasks, taskKey(t.RequestId))
	e.pending--
	e.mu.Unlock()

	t.cancel()
}

// invoke runs the handler, recovering a panic into an internal error so one
// misbehaving tool can never take down a worker goroutine.
func (e *Engine) invoke(item queuedItem) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task handler panicked: %v", r)
		}
	}()
	return item.handler(item.task.Context(), item.task, item.args)
}

// taskKey disambiguates ids by variant: a string id "5" and an integer id 5
// must never collide in the tracking map.
func taskKey(id jsonrpc.Id) string {
	return fmt.Sprintf("%d:%s", id.Kind, id.String())
}
