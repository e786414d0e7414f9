package session

import (
	"net"
	"testing"
	"time"

	"github.com/latchkey-labs/embermcp/internal/task"
	"github.com/latchkey-labs/embermcp/internal/tools"
	"github.com/latchkey-labs/embermcp/internal/transport"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, id string) *Session {
	t.Helper()
	serverConn, _ := net.Pipe()
	registry := tools.NewRegistry()
	require.NoError(t, tools.RegisterBuiltins(registry))
	engine := task.New(task.Config{Workers: 1, MaxPendingTasks: 2}, task.Hooks{})
	tr := transport.New(serverConn, transport.Config{ReceiveTimeout: 50 * time.Millisecond})
	return New(id, tr, registry, engine, Config{ShutdownGrace: 100 * time.Millisecond}, Hooks{})
}

func TestManagerRegisterGetUnregister(t *testing.T) {
	m := NewManager()
	s := newTestSession(t, "conn-a")

	m.Register(s)
	require.Equal(t, 1, m.Count())

	got, ok := m.Get("conn-a")
	require.True(t, ok)
	require.Same(t, s, got)

	m.Unregister("conn-a")
	require.Equal(t, 0, m.Count())

	_, ok = m.Get("conn-a")
	require.False(t, ok)
}

func TestManagerStatesSnapshotsEachConnection(t *testing.T) {
	m := NewManager()
	a := newTestSession(t, "conn-a")
	b := newTestSession(t, "conn-b")
	m.Register(a)
	m.Register(b)

	states := m.States()
	require.Len(t, states, 2)
	require.Equal(t, StateUninitialized, states["conn-a"])
	require.Equal(t, StateUninitialized, states["conn-b"])
}
