// Package schedule drives the server's periodic maintenance work — metrics
// snapshots, an idle-session sweep backstop, and audit log retention —
// expressed as cron entries instead of a single hand-rolled ticker loop.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/latchkey-labs/embermcp/internal/audit"
	"github.com/latchkey-labs/embermcp/internal/logger"
	"github.com/latchkey-labs/embermcp/internal/session"
	"github.com/latchkey-labs/embermcp/internal/task"
)

// Config controls the interval of each built-in maintenance job. Zero
// values fall back to DefaultConfig's.
type Config struct {
	MetricsInterval    time.Duration
	IdleSweepInterval  time.Duration
	IdleSweepMaxIdle   time.Duration
	RetentionInterval  time.Duration
	RetentionMaxAge    time.Duration
}

// DefaultConfig returns the intervals the server runs with out of the box.
func DefaultConfig() Config {
	return Config{
		MetricsInterval:   5 * time.Second,
		IdleSweepInterval: 30 * time.Second,
		IdleSweepMaxIdle:  10 * time.Minute,
		RetentionInterval: time.Hour,
		RetentionMaxAge:   7 * 24 * time.Hour,
	}
}

// MetricsSink receives periodic snapshots; internal/metrics implements it.
type MetricsSink interface {
	SetPendingTasks(n int)
	SetSessionStates(counts map[string]int)
}

// Scheduler owns a cron.Cron running the three built-in maintenance jobs
// (metrics snapshot, idle-session sweep, audit retention) plus any
// operator-registered custom job. It generalizes the
// teacher's schedule.Runner ticker loop to cron expressions.
type Scheduler struct {
	cron *cron.Cron

	cfg     Config
	manager *session.Manager
	engine  *task.Engine
	metrics MetricsSink
	store   *audit.Store

	mu      sync.Mutex
	entries []cron.EntryID
}

// New constructs a Scheduler. metrics or store may be nil, in which case
// the corresponding job is skipped.
func New(cfg Config, manager *session.Manager, engine *task.Engine, metrics MetricsSink, store *audit.Store) *Scheduler {
	cfg = withDefaults(cfg)
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		cfg:     cfg,
		manager: manager,
		engine:  engine,
		metrics: metrics,
		store:   store,
	}
}

func withDefaults(cfg Config) Config {
	d := DefaultConfig()
	if cfg.MetricsInterval == 0 {
		cfg.MetricsInterval = d.MetricsInterval
	}
	if cfg.IdleSweepInterval == 0 {
		cfg.IdleSweepInterval = d.IdleSweepInterval
	}
	if cfg.IdleSweepMaxIdle == 0 {
		cfg.IdleSweepMaxIdle = d.IdleSweepMaxIdle
	}
	if cfg.RetentionInterval == 0 {
		cfg.RetentionInterval = d.RetentionInterval
	}
	if cfg.RetentionMaxAge == 0 {
		cfg.RetentionMaxAge = d.RetentionMaxAge
	}
	return cfg
}

// everyExpr renders a Go duration as the "@every" descriptor robfig/cron
// accepts regardless of the WithSeconds() parser mode.
func everyExpr(d time.Duration) string {
	return fmt.Sprintf("@every %s", d.String())
}

// Start registers the built-in jobs and starts the cron scheduler. Call
// Stop to drain running jobs on shutdown.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(everyExpr(s.cfg.MetricsInterval), s.snapshotMetrics); err != nil {
		return fmt.Errorf("registering metrics job: %w", err)
	}
	if _, err := s.cron.AddFunc(everyExpr(s.cfg.IdleSweepInterval), s.sweepIdleSessions); err != nil {
		return fmt.Errorf("registering idle-sweep job: %w", err)
	}
	if s.store != nil {
		if _, err := s.cron.AddFunc(everyExpr(s.cfg.RetentionInterval), s.pruneAuditLog); err != nil {
			return fmt.Errorf("registering retention job: %w", err)
		}
	}
	s.cron.Start()
	logger.Info("scheduler started")
	return nil
}

// Stop waits for any running job invocation to finish before returning.
func (s *Scheduler) Stop(ctx context.Context) {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
	logger.Info("scheduler stopped")
}

// RegisterJob adds an operator-defined maintenance job on a standard
// 5-field cron expression, validated with ValidateCron before being handed
// to the underlying seconds-aware scheduler with a "0" seconds field
// prepended, since that scheduler requires six fields.
func (s *Scheduler) RegisterJob(name, cronExpr string, fn func()) error {
	if err := ValidateCron(cronExpr); err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	id, err := s.cron.AddFunc("0 "+cronExpr, fn)
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	s.mu.Lock()
	s.entries = append(s.entries, id)
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) snapshotMetrics() {
	if s.metrics == nil {
		return
	}
	s.metrics.SetPendingTasks(s.engine.PendingCount())

	states := s.manager.States()
	counts := make(map[string]int)
	for _, st := range states {
		counts[st.String()]++
	}
	s.metrics.SetSessionStates(counts)
}

func (s *Scheduler) sweepIdleSessions() {
	swept := s.manager.SweepIdle(s.cfg.IdleSweepMaxIdle)
	if swept > 0 {
		logger.Info("idle sweep closed %d session(s)", swept)
	}
}

func (s *Scheduler) pruneAuditLog() {
	cutoff := time.Now().Add(-s.cfg.RetentionMaxAge)
	n, err := s.store.Prune(cutoff)
	if err != nil {
		logger.Error("audit retention prune failed: %v", err)
		return
	}
	if n > 0 {
		logger.Info("audit retention pruned %d event(s) older than %s", n, cutoff.Format(time.RFC3339))
	}
}
