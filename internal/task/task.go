// Package task implements the cooperative async task engine of spec.md
// §4.4: a bounded worker pool that runs request-scoped tool handlers off
// the receive path, streams progress, and honors cooperative cancellation
// and per-task deadlines.
package task

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/latchkey-labs/embermcp/internal/jsonrpc"
)

// State is one of the AsyncTask lifecycle states from spec.md §3.
type State int

const (
	StatePending State = iota
	StateRunning
	StateFinishing
	StateCancelled
	StateTimedOut
	StateDone
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateFinishing:
		return "finishing"
	case StateCancelled:
		return "cancelled"
	case StateTimedOut:
		return "timed_out"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Progress is the payload of a notifications/progress message (spec §6).
type Progress struct {
	ProgressToken string `json:"progressToken"`
	Progress      int64  `json:"progress"`
	Total         int64  `json:"total"`
	Message       string `json:"message,omitempty"`
}

// Result is the success payload a handler returns; it becomes the
// tools/call response's result.content (spec §6).
type Result struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// ContentItem is one element of a tool result's content array.
type ContentItem struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// TextResult is a convenience constructor for the common single-text-block result.
func TextResult(text string) Result {
	return Result{Content: []ContentItem{{Type: "text", Text: text}}}
}

// ErrorResult builds an application-level failure: spec.md §4.4 mandates
// this surfaces as a successful Response with isError:true, never a
// JSON-RPC error object.
func ErrorResult(text string) Result {
	return Result{Content: []ContentItem{{Type: "text", Text: text}}, IsError: true}
}

// Handler is the async factory contract of spec.md §4.5: it runs on a
// worker goroutine, may call t.Progress any number of times before
// returning, and must observe ctx.Done() at cooperative yield points.
// A non-nil error is treated as an engine/protocol fault (surfaced as a
// JSON-RPC error response); an application-level tool failure should be
// returned as Result{IsError: true}, nil.
type Handler func(ctx context.Context, t *Task, args []byte) (Result, error)

// Task is the engine's view of one in-flight request (spec.md §3 AsyncTask).
type Task struct {
	RequestId     jsonrpc.Id
	Method        jsonrpc.Method
	StartedAt     time.Time
	Deadline      time.Time
	ProgressToken string

	mu           sync.Mutex
	state        State
	lastProgress int64
	terminalOnce sync.Once
	cancelled    atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	out chan<- Event
}

// Event is one outbound item the engine hands to the session's writer:
// either a progress notification or the task's single terminal response.
type Event struct {
	Kind     EventKind
	Progress *Progress
	Response *TerminalResponse
}

type EventKind int

const (
	EventProgress EventKind = iota
	EventTerminal
)

// TerminalResponse carries a task's single terminal outcome.
type TerminalResponse struct {
	RequestId jsonrpc.Id
	Result    *Result
	Err       *jsonrpc.Error
}

func newTask(id jsonrpc.Id, method jsonrpc.Method, progressToken string, timeout time.Duration, out chan<- Event) *Task {
	parent := context.Background()
	var ctx context.Context
	var cancel context.CancelFunc
	deadline := time.Time{}
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, timeout)
		deadline = time.Now().Add(timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}

	return &Task{
		RequestId:     id,
		Method:        method,
		StartedAt:     time.Now(),
		Deadline:      deadline,
		ProgressToken: progressToken,
		state:         StatePending,
		ctx:           ctx,
		cancel:        cancel,
		out:           out,
	}
}

// State returns the task's current lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Task) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// Context returns the per-task context; handlers must select on Done() at
// cooperative yield points to observe cancellation or deadline expiry.
func (t *Task) Context() context.Context { return t.ctx }

// Cancel sets the cooperative cancel flag. Workers observe this at the next
// yield point (ctx.Done()) or progress emission; it is the only
// cancellation mechanism (spec §4.4, §5).
func (t *Task) Cancel() {
	t.cancelled.Store(true)
	t.cancel()
}

// IsCancelled reports whether Cancel has been called.
func (t *Task) IsCancelled() bool { return t.cancelled.Load() }

// Progress emits a notifications/progress event, provided the task has not
// been cancelled, has not already produced a terminal response, and has a
// progress token. Progress
// values are clamped to be monotonically non-decreasing and never to
// exceed total (spec §4.4, §8).
func (t *Task) Progress(progress, total int64, message string) {
	if t.ProgressToken == "" || t.IsCancelled() {
		return
	}

	t.mu.Lock()
	if t.state == StateDone || t.state == StateFinishing {
		t.mu.Unlock()
		return
	}
	if progress < t.lastProgress {
		progress = t.lastProgress
	}
	if total > 0 && progress > total {
		progress = total
	}
	t.lastProgress = progress
	t.mu.Unlock()

	select {
	case t.out <- Event{Kind: EventProgress, Progress: &Progress{
		ProgressToken: t.ProgressToken,
		Progress:      progress,
		Total:         total,
		Message:       message,
	}}:
	case <-t.ctx.Done():
	}
}

// emitTerminal sends the task's single terminal event. Guarded by
// sync.Once so that, per spec.md §3/§4.4, no output is ever permitted
// under this id after a terminal has been produced.
func (t *Task) emitTerminal(resp TerminalResponse) {
	t.terminalOnce.Do(func() {
		t.setState(StateDone)
		select {
		case t.out <- Event{Kind: EventTerminal, Response: &resp}:
		default:
			// Outbound channel is bounded; a blocked writer role means the
			// session is shutting down or the transport died. Retry with a
			// short grace window so a slow writer doesn't drop the terminal.
			select {
			case t.out <- Event{Kind: EventTerminal, Response: &resp}:
			case <-time.After(2 * time.Second):
			}
		}
	})
}
