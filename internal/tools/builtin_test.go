package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/latchkey-labs/embermcp/internal/jsonrpc"
	"github.com/latchkey-labs/embermcp/internal/task"
	"github.com/stretchr/testify/require"
)

func TestBuiltinsRegisterAndListInOrder(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r))

	var names []string
	for _, d := range r.List() {
		names = append(names, d.Name)
	}
	require.Equal(t, []string{"echo", "system_info", "gpio_control", "wifi_scan", "i2c_scan", "long_running_task"}, names)
}

func TestEchoReturnsMessageSubstring(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r))

	result, rpcErr := r.CallSync(context.Background(), "echo", json.RawMessage(`{"message":"hi"}`))
	require.Nil(t, rpcErr)
	require.False(t, result.IsError)
	require.Contains(t, result.Content[0].Text, "hi")
}

func TestGpioControlRejectsInvalidValue(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r))

	result, rpcErr := r.CallSync(context.Background(), "gpio_control", json.RawMessage(`{"pin":1,"value":"sideways"}`))
	require.Nil(t, rpcErr)
	require.True(t, result.IsError)
}

func TestWifiScanIsRegisteredAsync(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r))
	require.True(t, r.IsAsync("wifi_scan"))
}

func TestLongRunningTaskCooperativelyCancels(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r))

	engine := task.New(task.Config{Workers: 1, MaxPendingTasks: 2}, task.Hooks{})
	id := jsonrpc.IntId(2)
	tk, rpcErr := r.Dispatch(engine, id, "tools/call", "long_running_task", json.RawMessage(`{"steps":100}`), "tok")
	require.Nil(t, rpcErr)

	time.Sleep(50 * time.Millisecond)
	require.NotNil(t, tk)
	engine.Cancel(id)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-engine.Events():
			if ev.Kind == task.EventTerminal {
				require.NotNil(t, ev.Response.Err)
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for cancellation to take effect")
		}
	}
}
