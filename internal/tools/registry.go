// Package tools implements the tool registry of spec.md §4.5: a
// name-keyed catalog of synchronous and asynchronous handlers, each with
// a JSON Schema used to validate arguments before dispatch.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/latchkey-labs/embermcp/internal/jsonrpc"
	"github.com/latchkey-labs/embermcp/internal/task"
	"github.com/latchkey-labs/embermcp/internal/validation"
)

// SyncHandler runs inline on the receive goroutine and must return
// promptly; it is for tools with no meaningful progress to report.
type SyncHandler func(ctx context.Context, args json.RawMessage) (task.Result, error)

// Descriptor is the tools/list view of one registered tool (spec §6).
type Descriptor struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	InputSchema *jsonschema.Schema `json:"inputSchema"`
}

type entry struct {
	descriptor Descriptor
	schema     *compiledSchema
	sync       SyncHandler
	async      task.Handler
	timeout    time.Duration
}

func (e *entry) isAsync() bool { return e.async != nil }

// Registry is the process-wide tool catalog. Registration is idempotent
// by name: registering the same name twice replaces the definition in
// place without disturbing its position in iteration order, matching the
// teacher's insertion-ordered GetAllTools (internal/mcp/registry.go).
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// RegisterSync adds (or replaces) a synchronous tool.
func (r *Registry) RegisterSync(name, description string, schema *jsonschema.Schema, h SyncHandler) error {
	return r.register(name, description, schema, h, nil, 0)
}

// RegisterAsync adds (or replaces) a tool whose handler runs on the task
// engine's worker pool, optionally reporting progress. timeout overrides
// the engine's default per-task deadline when non-zero.
func (r *Registry) RegisterAsync(name, description string, schema *jsonschema.Schema, timeout time.Duration, h task.Handler) error {
	return r.register(name, description, schema, nil, h, timeout)
}

func (r *Registry) register(name, description string, schema *jsonschema.Schema, sh SyncHandler, ah task.Handler, timeout time.Duration) error {
	if err := validation.ValidateToolName(name); err != nil {
		return fmt.Errorf("tools: %w", err)
	}
	compiled, err := compileSchema(schema)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e := &entry{
		descriptor: Descriptor{Name: name, Description: description, InputSchema: compiled.raw},
		schema:     compiled,
		sync:       sh,
		async:      ah,
		timeout:    timeout,
	}

	if _, exists := r.entries[name]; !exists {
		r.order = append(r.order, name)
	}
	r.entries[name] = e
	return nil
}

// List returns every registered tool's descriptor in registration order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].descriptor)
	}
	return out
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

func (r *Registry) lookup(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// CallSync validates args and invokes a synchronous tool inline. It
// returns a *jsonrpc.Error for -32601 (unknown tool, a specialization of
// method-not-found scoped to tools/call), -32602 (schema validation), or
// wraps an unexpected handler error as -32603.
func (r *Registry) CallSync(ctx context.Context, name string, args json.RawMessage) (task.Result, *jsonrpc.Error) {
	if err := validation.ValidateToolName(name); err != nil {
		return task.Result{}, jsonrpc.NewInvalidParams(err.Error())
	}
	e, ok := r.lookup(name)
	if !ok {
		return task.Result{}, jsonrpc.NewMethodNotFound(name)
	}
	if e.isAsync() {
		return task.Result{}, jsonrpc.NewInvalidRequest(fmt.Sprintf("tool %q must be dispatched asynchronously", name))
	}
	if err := e.schema.validate(args); err != nil {
		return task.Result{}, jsonrpc.NewInvalidParams(err.Error())
	}

	result, err := e.sync(ctx, args)
	if err != nil {
		return task.Result{}, jsonrpc.NewInternalError(err.Error())
	}
	return result, nil
}

// Dispatch validates args and, for an async tool, submits it to engine
// under requestId; it returns the live *task.Task so the session can
// track it for cancellation. Sync tools are not accepted here — callers
// should check IsAsync first and use CallSync otherwise.
func (r *Registry) Dispatch(engine *task.Engine, id jsonrpc.Id, method jsonrpc.Method, name string, args json.RawMessage, progressToken string) (*task.Task, *jsonrpc.Error) {
	if err := validation.ValidateToolName(name); err != nil {
		return nil, jsonrpc.NewInvalidParams(err.Error())
	}
	e, ok := r.lookup(name)
	if !ok {
		return nil, jsonrpc.NewMethodNotFound(name)
	}
	if !e.isAsync() {
		return nil, jsonrpc.NewInvalidRequest(fmt.Sprintf("tool %q is synchronous", name))
	}
	if err := e.schema.validate(args); err != nil {
		return nil, jsonrpc.NewInvalidParams(err.Error())
	}

	return engine.Submit(id, method, progressToken, e.timeout, args, e.async)
}

// IsAsync reports whether name is registered as an async tool. Callers
// use this to choose between CallSync and Dispatch.
func (r *Registry) IsAsync(name string) bool {
	e, ok := r.lookup(name)
	return ok && e.isAsync()
}
