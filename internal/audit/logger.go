// Package audit records a queryable, append-only trail of tool invocations
// and session lifecycle transitions. It is an observability aid, not
// protocol state — the server itself stays stateless across restarts.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Operation names an auditable action.
type Operation string

const (
	OpToolCall           Operation = "tool.call"
	OpSessionStateChange Operation = "session.state_change"
	OpSessionShutdown    Operation = "session.shutdown"
)

// Event is a single audit log entry.
type Event struct {
	ID          string                 `json:"id"`
	Timestamp   time.Time              `json:"timestamp"`
	Operation   Operation              `json:"operation"`
	SessionID   string                 `json:"session_id,omitempty"`
	RequestID   string                 `json:"request_id,omitempty"`
	ToolName    string                 `json:"tool_name,omitempty"`
	FromState   string                 `json:"from_state,omitempty"`
	ToState     string                 `json:"to_state,omitempty"`
	Success     bool                   `json:"success"`
	Error       string                 `json:"error,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// Logger writes audit events to structured logs and, when a Store is
// attached, persists them for later querying by session id.
type Logger struct {
	slog    *slog.Logger
	store   *Store
	enabled bool
	mu      sync.RWMutex
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Default returns the process-wide audit logger, log-only until AttachStore
// is called by cmd/embermcpd during startup.
func Default() *Logger {
	once.Do(func() {
		defaultLogger = New(true)
	})
	return defaultLogger
}

// New creates an audit logger writing JSON lines to stdout.
func New(enabled bool) *Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &Logger{slog: slog.New(handler), enabled: enabled}
}

// AttachStore wires a sqlite-backed Store so events are persisted in
// addition to being logged.
func (l *Logger) AttachStore(store *Store) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.store = store
}

// SetEnabled enables or disables audit logging.
func (l *Logger) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
}

// Log records an audit event, writing it to the log sink and, if attached,
// the persistent store.
func (l *Logger) Log(event *Event) {
	l.mu.RLock()
	enabled, store := l.enabled, l.store
	l.mu.RUnlock()

	if !enabled {
		return
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	attrs := []any{
		slog.String("audit_id", event.ID),
		slog.String("operation", string(event.Operation)),
		slog.Bool("success", event.Success),
	}
	if event.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", event.SessionID))
	}
	if event.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", event.RequestID))
	}
	if event.ToolName != "" {
		attrs = append(attrs, slog.String("tool_name", event.ToolName))
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}
	l.slog.Info("AUDIT", attrs...)

	if store != nil {
		if err := store.Insert(event); err != nil {
			l.slog.Error("audit persist failed", slog.String("error", err.Error()))
		}
	}
}

// LogToolCall records a tools/call dispatch outcome.
func (l *Logger) LogToolCall(sessionID, requestID, toolName string, success bool, err error) {
	ev := &Event{
		Operation: OpToolCall,
		SessionID: sessionID,
		RequestID: requestID,
		ToolName:  toolName,
		Success:   success,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	l.Log(ev)
}

// LogStateChange records a session lifecycle transition.
func (l *Logger) LogStateChange(sessionID, from, to string) {
	l.Log(&Event{
		Operation: OpSessionStateChange,
		SessionID: sessionID,
		FromState: from,
		ToState:   to,
		Success:   true,
	})
}

// Store persists audit events to sqlite so they can be queried by session
// id after the fact, grounded on the teacher's schedule.Store.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) an audit database under dataDir.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating audit data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "audit.db")
	db, err := sql.Open("sqlite", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating audit database: %w", err)
	}
	return store, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		timestamp DATETIME NOT NULL,
		operation TEXT NOT NULL,
		session_id TEXT,
		request_id TEXT,
		tool_name TEXT,
		from_state TEXT,
		to_state TEXT,
		success INTEGER NOT NULL,
		error TEXT,
		details TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_events(session_id);
	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp);
	`)
	return err
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Insert persists a single audit event, assigning an id and timestamp when
// the event carries none.
func (s *Store) Insert(event *Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	var detailsJSON []byte
	if event.Details != nil {
		var err error
		detailsJSON, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("marshaling audit details: %w", err)
		}
	}

	_, err := s.db.Exec(`
		INSERT INTO audit_events (id, timestamp, operation, session_id, request_id, tool_name, from_state, to_state, success, error, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Timestamp, string(event.Operation), event.SessionID, event.RequestID,
		event.ToolName, event.FromState, event.ToState, event.Success, event.Error, string(detailsJSON),
	)
	return err
}

// ForSession returns every recorded event for a session, oldest first.
func (s *Store) ForSession(ctx context.Context, sessionID string) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, operation, session_id, request_id, tool_name, from_state, to_state, success, error, details
		FROM audit_events WHERE session_id = ? ORDER BY timestamp ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*Event
	for rows.Next() {
		ev, detailsJSON, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		if len(detailsJSON) > 0 {
			_ = json.Unmarshal(detailsJSON, &ev.Details)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*Event, []byte, error) {
	var ev Event
	var op, sessionID, requestID, toolName, fromState, toState, errStr sql.NullString
	var detailsJSON sql.NullString

	if err := row.Scan(&ev.ID, &ev.Timestamp, &op, &sessionID, &requestID, &toolName, &fromState, &toState, &ev.Success, &errStr, &detailsJSON); err != nil {
		return nil, nil, fmt.Errorf("scanning audit event: %w", err)
	}
	ev.Operation = Operation(op.String)
	ev.SessionID = sessionID.String
	ev.RequestID = requestID.String
	ev.ToolName = toolName.String
	ev.FromState = fromState.String
	ev.ToState = toState.String
	ev.Error = errStr.String
	return &ev, []byte(detailsJSON.String), nil
}

// Prune deletes events older than before and reports how many rows were
// removed, used by the scheduler's retention maintenance job.
func (s *Store) Prune(before time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM audit_events WHERE timestamp < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("pruning audit events: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// ErrNotFound indicates a session had no recorded audit events.
var ErrNotFound = errors.New("no audit events for session")
