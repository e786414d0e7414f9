package session

import (
	"sync"
	"time"
)

// Manager tracks every live connection's Session for introspection — metrics
// scraping, an admin/debug endpoint, or graceful-drain on server shutdown.
// It does not own a Session's lifecycle; callers still call Run themselves
// and Unregister on exit.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	locks    *SessionLockMap
}

// NewManager returns an empty connection registry.
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		locks:    NewSessionLockMap(),
	}
}

// Register adds s to the registry, keyed by its connection id.
func (m *Manager) Register(s *Session) {
	m.locks.Lock(s.ID())
	defer m.locks.Unlock(s.ID())

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
}

// Unregister removes a connection once its Session has returned from Run.
func (m *Manager) Unregister(id string) {
	m.locks.Lock(id)
	defer m.locks.Unlock(id)

	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()

	m.locks.Delete(id)
}

// Get returns the live Session for id, if any.
func (m *Manager) Get(id string) (*Session, bool) {
	m.locks.RLock(id)
	defer m.locks.RUnlock(id)

	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Count returns the number of currently tracked connections.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// States returns a snapshot of every tracked connection's lifecycle state,
// keyed by connection id — the shape a metrics gauge or debug dump wants.
func (m *Manager) States() map[string]State {
	m.mu.RLock()
	ids := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		ids = append(ids, s)
	}
	m.mu.RUnlock()

	out := make(map[string]State, len(ids))
	for _, s := range ids {
		out[s.ID()] = s.State()
	}
	return out
}

// SweepIdle force-shuts-down any Active session that has been idle longer
// than maxIdle. It exists as a backstop for the scheduler's idle-session
// maintenance job; under normal operation a session's own watchIdle
// goroutine reaches SessionTimeout first and shuts itself down.
func (m *Manager) SweepIdle(maxIdle time.Duration) int {
	m.mu.RLock()
	snapshot := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		snapshot = append(snapshot, s)
	}
	m.mu.RUnlock()

	swept := 0
	for _, s := range snapshot {
		if s.State() == StateActive && s.IdleFor() >= maxIdle {
			s.beginShutdown("idle_timeout")
			swept++
		}
	}
	return swept
}

// Shutdown requests an orderly shutdown of every tracked session and
// returns once each has finished (or grace elapses, whichever first —
// each Session's own ShutdownGrace bounds its individual drain).
func (m *Manager) Shutdown() {
	m.mu.RLock()
	snapshot := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		snapshot = append(snapshot, s)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, s := range snapshot {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.beginShutdown("server_shutdown")
		}(s)
	}
	wg.Wait()
}
