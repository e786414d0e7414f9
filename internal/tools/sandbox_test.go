package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/docker/docker/client"
	"github.com/latchkey-labs/embermcp/internal/task"
	"github.com/stretchr/testify/require"
)

func TestRegisterSandboxExecAddsAsyncTool(t *testing.T) {
	r := NewRegistry()
	if err := RegisterSandboxExec(r); err != nil {
		t.Skipf("docker client unavailable in this environment: %v", err)
	}
	require.True(t, r.IsAsync("sandbox_exec"))
}

func TestRunSandboxedRejectsEmptyCommand(t *testing.T) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	require.NoError(t, err)

	result, rpcErr := runSandboxed(context.Background(), &task.Task{}, cli, json.RawMessage(`{"command":[]}`))
	require.Nil(t, rpcErr)
	require.True(t, result.IsError)
	require.Contains(t, result.Content[0].Text, "non-empty")
}

func TestRunSandboxedEndToEnd(t *testing.T) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	require.NoError(t, err)
	if _, err := cli.Ping(context.Background()); err != nil {
		t.Skipf("no docker daemon reachable: %v", err)
	}

	args := json.RawMessage(`{"image":"alpine:3.20","command":["echo","hello"],"timeoutSeconds":30}`)
	result, rpcErr := runSandboxed(context.Background(), &task.Task{}, cli, args)
	require.Nil(t, rpcErr)
	require.False(t, result.IsError)
	require.Contains(t, result.Content[0].Text, "hello")
}
