package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/latchkey-labs/embermcp/internal/jsonrpc"
	"github.com/latchkey-labs/embermcp/internal/logger"
	"github.com/latchkey-labs/embermcp/internal/task"
	"github.com/latchkey-labs/embermcp/internal/tools"
	"github.com/latchkey-labs/embermcp/internal/transport"
)

// ProtocolVersion is the only protocolVersion this server negotiates (spec §6).
const ProtocolVersion = "2024-11-05"

// Config holds a session's tunable timing knobs, all defaulted.
type Config struct {
	ServerName        string
	ServerVersion     string
	HeartbeatInterval time.Duration // idle time before a keepalive notification
	SessionTimeout    time.Duration // idle time before ShuttingDown
	ShutdownGrace     time.Duration // bound on draining pending tasks at shutdown
}

// DefaultConfig returns spec.md §4.3's documented defaults.
func DefaultConfig() Config {
	return Config{
		ServerName:        "embermcpd",
		ServerVersion:      "0.1.0",
		HeartbeatInterval: 60 * time.Second,
		SessionTimeout:    300 * time.Second,
		ShutdownGrace:     5 * time.Second,
	}
}

// Hooks lets callers observe session lifecycle events for metrics/audit
// without the session package depending on either.
type Hooks struct {
	OnStateChange      func(from, to State)
	OnRequest          func(method jsonrpc.Method)
	OnToolCall         func(name string)
	OnToolCallComplete func(requestID, name string, success bool, err error)
	OnSessionEnd       func(reason string, duration time.Duration)
}

// Session owns one client connection end-to-end: the receive loop, dispatch
// table, single writer goroutine, and shutdown sequence of spec.md §4.3.
// Three logical roles — receiver, writer, task worker — share state under
// a single coarse lock (spec.md §5); the task engine itself runs its own
// worker pool and hands events back through a channel the writer drains.
type Session struct {
	id        string
	transport *transport.Transport
	registry  *tools.Registry
	engine    *task.Engine
	cfg       Config
	hooks     Hooks

	mu    sync.Mutex
	state State

	startedAt    time.Time
	lastActivity atomic.Int64 // unix nanoseconds

	outCh        chan []byte
	ctx          context.Context
	cancel       context.CancelFunc
	pendingTasks sync.Map // taskKey string -> *pendingTask, tracks requestIds in flight for cancellation lookups and completion audit
}

// pendingTask pairs an in-flight async task with the tool name it was
// dispatched under, so its terminal event can still be attributed to a
// tool when it is read back out of pendingTasks.
type pendingTask struct {
	task *task.Task
	name string
}

// New wires a Session around an already-accepted transport. The caller owns
// engine and registry and may share them across sessions or construct one
// per connection; New does not start the engine's workers.
func New(id string, t *transport.Transport, registry *tools.Registry, engine *task.Engine, cfg Config, hooks Hooks) *Session {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = DefaultConfig().HeartbeatInterval
	}
	if cfg.SessionTimeout == 0 {
		cfg.SessionTimeout = DefaultConfig().SessionTimeout
	}
	if cfg.ShutdownGrace == 0 {
		cfg.ShutdownGrace = DefaultConfig().ShutdownGrace
	}
	if cfg.ServerName == "" {
		cfg.ServerName = DefaultConfig().ServerName
	}
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = DefaultConfig().ServerVersion
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:        id,
		transport: t,
		registry:  registry,
		engine:    engine,
		cfg:       cfg,
		hooks:     hooks,
		state:     StateUninitialized,
		startedAt: time.Now(),
		outCh:     make(chan []byte, 64),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.touch()
	return s
}

// ID returns the connection identifier this session was constructed with.
func (s *Session) ID() string { return s.id }

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	if prev != next && s.hooks.OnStateChange != nil {
		s.hooks.OnStateChange(prev, next)
	}
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *Session) idleFor() time.Duration {
	last := s.lastActivity.Load()
	return time.Since(time.Unix(0, last))
}

// IdleFor exposes idle duration for the scheduler's idle-session sweep, a
// backstop in case a session's own watchIdle goroutine has wedged.
func (s *Session) IdleFor() time.Duration { return s.idleFor() }

// Run drives the session until the transport closes, the shutdown sequence
// completes, or ctx is cancelled. It starts the single writer goroutine and
// the task-event forwarder, then loops reading frames off the transport.
func (s *Session) Run(ctx context.Context) error {
	done := make(chan struct{})
	var writerWG sync.WaitGroup
	writerWG.Add(2)
	go func() { defer writerWG.Done(); s.runWriter() }()
	go func() { defer writerWG.Done(); s.forwardTaskEvents() }()

	go func() {
		select {
		case <-ctx.Done():
			s.beginShutdown("context_cancelled")
		case <-done:
		}
	}()

	defer func() {
		close(done)
		s.cancel()
		close(s.outCh)
		writerWG.Wait()
	}()

	ticker := time.NewTicker(s.cfg.HeartbeatInterval / 2)
	defer ticker.Stop()
	go s.watchIdle(ticker)

	for {
		if s.State().terminal() {
			return nil
		}

		payload, err := s.transport.Receive()
		if err != nil {
			if err == transport.ErrTimeout {
				continue
			}
			logger.DebugContext(s.ctx, "transport receive ended", "session", s.id, "err", err)
			s.beginShutdown("client_closed")
			return nil
		}
		if len(payload) == 0 {
			continue
		}
		s.touch()
		s.handleFrame(payload)
	}
}

func (s *Session) watchIdle(ticker *time.Ticker) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			idle := s.idleFor()
			switch {
			case idle >= s.cfg.SessionTimeout:
				if s.State() == StateActive {
					logger.InfoContext(s.ctx, "session idle timeout, shutting down", "session", s.id)
					s.beginShutdown("idle_timeout")
				}
			case idle >= s.cfg.HeartbeatInterval:
				s.emitHeartbeat()
			}
		}
	}
}

// emitHeartbeat sends a notifications/log keepalive. notifications/ping is
// not part of the recognized notification vocabulary, so a debug-level log
// notification stands in for it as spec.md §4.3's "or equivalent keepalive".
func (s *Session) emitHeartbeat() {
	if s.State() != StateActive {
		return
	}
	payload, err := jsonrpc.EncodeNotification(jsonrpc.MethodLog, map[string]any{
		"level":   "debug",
		"message": "heartbeat",
	})
	if err != nil {
		return
	}
	s.send(payload)
}

func (s *Session) handleFrame(payload []byte) {
	msg, decErr := jsonrpc.Decode(payload)
	if decErr != nil {
		s.send(mustEncodeError(jsonrpc.NoId, decErr))
		return
	}

	switch msg.Category {
	case jsonrpc.CategoryRequest:
		s.handleRequest(msg.Request)
	case jsonrpc.CategoryNotification:
		s.handleNotification(msg.Notification)
	case jsonrpc.CategoryResponse:
		logger.WarnContext(s.ctx, "unexpected response frame from peer", "session", s.id)
	}
}

func (s *Session) send(payload []byte) {
	select {
	case s.outCh <- payload:
	case <-s.ctx.Done():
	}
}

// runWriter is the session's single writer: every outbound frame, whether
// an inline reply or a forwarded task event, passes through outCh so writes
// to the transport are strictly serialized (spec.md §5).
func (s *Session) runWriter() {
	for payload := range s.outCh {
		if err := s.transport.Send(payload); err != nil {
			logger.DebugContext(s.ctx, "transport send failed", "session", s.id, "err", err)
			return
		}
	}
}

// forwardTaskEvents drains the engine's event stream for the lifetime of the
// session, encoding progress notifications and terminal responses onto outCh.
func (s *Session) forwardTaskEvents() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-s.engine.Events():
			if !ok {
				return
			}
			s.emitEvent(ev)
		}
	}
}

func (s *Session) emitEvent(ev task.Event) {
	switch ev.Kind {
	case task.EventProgress:
		p := ev.Progress
		payload, err := jsonrpc.EncodeNotification(jsonrpc.MethodProgress, map[string]any{
			"progressToken": p.ProgressToken,
			"progress":      p.Progress,
			"total":         p.Total,
			"message":       p.Message,
		})
		if err == nil {
			s.send(payload)
		}
	case task.EventTerminal:
		r := ev.Response
		key := taskKey(r.RequestId)
		var toolName string
		if v, ok := s.pendingTasks.LoadAndDelete(key); ok {
			if pt, ok := v.(*pendingTask); ok {
				toolName = pt.name
			}
		}
		var payload []byte
		var err error
		if r.Err != nil {
			payload, err = jsonrpc.EncodeError(r.RequestId, r.Err)
		} else {
			payload, err = jsonrpc.EncodeResult(r.RequestId, toolCallResult(*r.Result))
		}
		if err == nil {
			s.send(payload)
		}
		if s.hooks.OnToolCallComplete != nil {
			success := r.Err == nil && (r.Result == nil || !r.Result.IsError)
			var completeErr error
			if r.Err != nil {
				completeErr = fmt.Errorf("%s", r.Err.Message)
			}
			s.hooks.OnToolCallComplete(r.RequestId.String(), toolName, success, completeErr)
		}
	}
}

// taskKey indexes pendingTasks by the id's wire string form. notifications/cancelled
// carries requestId as a plain string (spec.md §6), which loses whether the
// original request id was a JSON string or integer; matching on String() is
// therefore the only lookup the wire format supports. If a session somehow
// has both an integer and an identically-valued string request id pending
// at once, a cancellation matches whichever is still tracked — an accepted
// ambiguity of the wire format, not of this map.
func taskKey(id jsonrpc.Id) string { return id.String() }

func toolCallResult(r task.Result) map[string]any {
	return map[string]any{
		"content": r.Content,
		"isError": r.IsError,
	}
}

func mustEncodeError(id jsonrpc.Id, e *jsonrpc.Error) []byte {
	payload, err := jsonrpc.EncodeError(id, e)
	if err != nil {
		// Encoding a fixed error shape cannot fail; fall back to a minimal
		// hand-built frame rather than panicking the receive loop.
		return []byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":null,"error":{"code":%d,"message":"internal error"}}`, jsonrpc.CodeInternalError))
	}
	return payload
}

// beginShutdown runs the shutdown sequence of spec.md §4.3: stop accepting
// new requests, cancel and drain this session's own pending tasks within
// the grace window, flush anything still buffered in the engine's event
// channel directly (bypassing outCh, which is about to be torn down), then
// close the transport. The task engine is shared across every session the
// process hosts (spec.md's Non-goal note: "multiple sessions may be
// instantiated"), so shutdown here must only ever touch this session's own
// tracked tasks — never the engine itself, which would otherwise strand
// every other connected session.
func (s *Session) beginShutdown(reason string) {
	s.mu.Lock()
	if s.state == StateShuttingDown || s.state == StateShutdown {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.setState(StateShuttingDown)
	s.cancelPendingTasks()
	s.awaitPendingTasksDrain(s.cfg.ShutdownGrace)
	s.drainRemainingEvents()
	_ = s.transport.Close()
	s.setState(StateShutdown)

	if s.hooks.OnSessionEnd != nil {
		s.hooks.OnSessionEnd(reason, time.Since(s.startedAt))
	}
}

// cancelPendingTasks sets the cooperative cancel flag on every task this
// session has in flight, identified by the *task.Task values recorded in
// pendingTasks at dispatch time (dispatch.go's handleToolsCall). It never
// reaches into the engine's own bookkeeping, so tasks belonging to other
// sessions sharing the same engine are left running.
func (s *Session) cancelPendingTasks() {
	s.pendingTasks.Range(func(_, value any) bool {
		if pt, ok := value.(*pendingTask); ok {
			pt.task.Cancel()
		}
		return true
	})
}

// awaitPendingTasksDrain blocks until this session's pendingTasks map has
// emptied out — each task's terminal event removes its own entry in
// emitEvent — or grace elapses, whichever comes first.
func (s *Session) awaitPendingTasksDrain(grace time.Duration) {
	deadline := time.After(grace)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for s.hasPendingTasks() {
		select {
		case <-deadline:
			return
		case <-ticker.C:
		}
	}
}

func (s *Session) hasPendingTasks() bool {
	has := false
	s.pendingTasks.Range(func(_, _ any) bool {
		has = true
		return false
	})
	return has
}

// drainRemainingEvents flushes any engine events still sitting in the
// buffer after the pending-task drain, writing directly to the transport since
// the writer goroutine may already be winding down.
func (s *Session) drainRemainingEvents() {
	for {
		select {
		case ev, ok := <-s.engine.Events():
			if !ok {
				return
			}
			s.writeEventDirect(ev)
		default:
			return
		}
	}
}

func (s *Session) writeEventDirect(ev task.Event) {
	var payload []byte
	var err error
	switch ev.Kind {
	case task.EventProgress:
		return // terminal-only flush; stale progress for a torn-down session is not useful
	case task.EventTerminal:
		r := ev.Response
		if r.Err != nil {
			payload, err = jsonrpc.EncodeError(r.RequestId, r.Err)
		} else {
			payload, err = jsonrpc.EncodeResult(r.RequestId, toolCallResult(*r.Result))
		}
	}
	if err == nil && payload != nil {
		_ = s.transport.Send(payload)
	}
}
