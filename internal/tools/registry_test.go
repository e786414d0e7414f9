package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/latchkey-labs/embermcp/internal/jsonrpc"
	"github.com/latchkey-labs/embermcp/internal/task"
	"github.com/stretchr/testify/require"
)

func TestRegisterSyncAndCallRoundTrip(t *testing.T) {
	r := NewRegistry()
	schema := objectSchema(map[string]*jsonschema.Schema{"message": stringProp("")}, "message")

	err := r.RegisterSync("echo", "echoes", schema, func(ctx context.Context, args json.RawMessage) (task.Result, error) {
		var p struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(args, &p)
		return task.TextResult(p.Message), nil
	})
	require.NoError(t, err)

	result, rpcErr := r.CallSync(context.Background(), "echo", json.RawMessage(`{"message":"hi"}`))
	require.Nil(t, rpcErr)
	require.Equal(t, "hi", result.Content[0].Text)
}

func TestListPreservesRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"c", "a", "b"} {
		require.NoError(t, r.RegisterSync(name, "", objectSchema(nil), noopSync))
	}

	var names []string
	for _, d := range r.List() {
		names = append(names, d.Name)
	}
	require.Equal(t, []string{"c", "a", "b"}, names)
}

func TestReregisteringSameNameIsIdempotentAndKeepsPosition(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterSync("a", "first", objectSchema(nil), noopSync))
	require.NoError(t, r.RegisterSync("b", "", objectSchema(nil), noopSync))
	require.NoError(t, r.RegisterSync("a", "second", objectSchema(nil), noopSync))

	list := r.List()
	require.Len(t, list, 2)
	require.Equal(t, "a", list[0].Name)
	require.Equal(t, "second", list[0].Description)
	require.Equal(t, "b", list[1].Name)
}

func TestCallSyncUnknownToolReturnsMethodNotFound(t *testing.T) {
	r := NewRegistry()
	_, rpcErr := r.CallSync(context.Background(), "nope", nil)
	require.NotNil(t, rpcErr)
	require.Equal(t, jsonrpc.CodeMethodNotFound, rpcErr.Code)
}

func TestCallSyncValidatesArgumentsAgainstSchema(t *testing.T) {
	r := NewRegistry()
	schema := objectSchema(map[string]*jsonschema.Schema{"n": integerProp("")}, "n")
	require.NoError(t, r.RegisterSync("needs-n", "", schema, noopSync))

	_, rpcErr := r.CallSync(context.Background(), "needs-n", json.RawMessage(`{}`))
	require.NotNil(t, rpcErr)
	require.Equal(t, jsonrpc.CodeInvalidParams, rpcErr.Code)
}

func TestCallSyncRejectsAsyncTool(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterAsync("slow", "", objectSchema(nil), time.Second, func(ctx context.Context, tk *task.Task, args []byte) (task.Result, error) {
		return task.TextResult("x"), nil
	}))

	_, rpcErr := r.CallSync(context.Background(), "slow", nil)
	require.NotNil(t, rpcErr)
	require.Equal(t, jsonrpc.CodeInvalidRequest, rpcErr.Code)
}

func TestDispatchSubmitsAsyncToolToEngine(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterAsync("slow", "", objectSchema(nil), time.Second, func(ctx context.Context, tk *task.Task, args []byte) (task.Result, error) {
		return task.TextResult("done"), nil
	}))

	engine := task.New(task.Config{Workers: 1, MaxPendingTasks: 2}, task.Hooks{})
	id := jsonrpc.IntId(1)
	tk, rpcErr := r.Dispatch(engine, id, "tools/call", "slow", nil, "")
	require.Nil(t, rpcErr)
	require.NotNil(t, tk)

	select {
	case ev := <-engine.Events():
		require.Equal(t, task.EventTerminal, ev.Kind)
		require.Equal(t, "done", ev.Response.Result.Content[0].Text)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for terminal event")
	}
}

func TestIsAsyncDistinguishesRegistrationKind(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterSync("sync-tool", "", objectSchema(nil), noopSync))
	require.NoError(t, r.RegisterAsync("async-tool", "", objectSchema(nil), 0, func(ctx context.Context, tk *task.Task, args []byte) (task.Result, error) {
		return task.Result{}, nil
	}))

	require.False(t, r.IsAsync("sync-tool"))
	require.True(t, r.IsAsync("async-tool"))
	require.False(t, r.IsAsync("missing"))
}

func noopSync(ctx context.Context, args json.RawMessage) (task.Result, error) {
	return task.TextResult(""), nil
}
