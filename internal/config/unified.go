package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// UnifiedConfig is the single configuration file format for embermcp.jsonc:
// transport limits, task engine limits, session timeouts, and serverInfo,
// loaded once at startup and overridable by EMBERMCP_* environment variables.
type UnifiedConfig struct {
	Server     ServerSection     `json:"server"`
	Transport  TransportSection  `json:"transport"`
	TaskEngine TaskEngineSection `json:"task_engine"`
	Session    SessionSection    `json:"session"`
	Logging    LoggingSection    `json:"logging"`
	Schedule   ScheduleSection   `json:"schedule"`
}

// ScheduleSection lists operator-defined maintenance jobs to register with
// internal/schedule.Scheduler.RegisterJob alongside the three built-in
// jobs, each on its own standard 5-field cron expression.
type ScheduleSection struct {
	CustomJobs []CustomJobConfig `json:"custom_jobs,omitempty"`
}

// CustomJobConfig names one operator-defined cron job.
type CustomJobConfig struct {
	Name string `json:"name"`
	Cron string `json:"cron"`
}

// ServerSection identifies this server in the initialize handshake and
// binds the framed listener.
type ServerSection struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	ListenAddr string `json:"listen_addr"`
	MetricsAddr string `json:"metrics_addr"`
}

// TransportSection mirrors internal/transport.Config's tunables.
type TransportSection struct {
	MaxMessageSizeBytes uint32  `json:"max_message_size_bytes"`
	ReceiveTimeoutMs    int     `json:"receive_timeout_ms"`
	SendTimeoutMs       int     `json:"send_timeout_ms"`
	RateLimitPerSecond  float64 `json:"rate_limit_per_second"`
	RateLimitBurst      int     `json:"rate_limit_burst"`
	KeepAliveEnabled    bool    `json:"keepalive_enabled"`
}

// TaskEngineSection mirrors internal/task.Config's tunables.
type TaskEngineSection struct {
	Workers           int `json:"workers"`
	MaxPendingTasks   int `json:"max_pending_tasks"`
	DefaultTimeoutMs  int `json:"default_timeout_ms"`
}

// SessionSection mirrors internal/session.Config's tunables.
type SessionSection struct {
	HeartbeatIntervalMs int `json:"heartbeat_interval_ms"`
	SessionTimeoutMs    int `json:"session_timeout_ms"`
	ShutdownGraceMs     int `json:"shutdown_grace_ms"`
}

// LoggingSection controls the dual console/file logger and the structured
// slog handler (internal/logger).
type LoggingSection struct {
	Dir        string `json:"dir"`
	Level      string `json:"level"`
	JSONOutput bool   `json:"json_output"`
}

// FindConfigPath returns the path to embermcp.jsonc using precedence:
// 1. configDir + /embermcp.jsonc (if configDir specified)
// 2. ./config/embermcp.jsonc (project-local)
// 3. ~/.embermcp/config/embermcp.jsonc (user global)
func FindConfigPath(configDir string) (string, error) {
	var candidates []string

	if configDir != "" {
		candidates = append(candidates, filepath.Join(configDir, "embermcp.jsonc"))
	}
	candidates = append(candidates, filepath.Join("config", "embermcp.jsonc"))

	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".embermcp", "config", "embermcp.jsonc"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			if abs, err := filepath.Abs(path); err == nil {
				return abs, nil
			}
			return path, nil
		}
	}

	return "", fmt.Errorf("embermcp.jsonc not found; tried: %v", candidates)
}

// LoadUnifiedConfig loads and defaults configuration from a single
// embermcp.jsonc file, stripping // and /* */ comments first.
func LoadUnifiedConfig(configPath string) (*UnifiedConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", configPath, err)
	}

	jsonData := StripJSONComments(data)

	var cfg UnifiedConfig
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", configPath, err)
	}

	applyUnifiedDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyUnifiedDefaults(cfg *UnifiedConfig) {
	if cfg.Server.Name == "" {
		cfg.Server.Name = "embermcpd"
	}
	if cfg.Server.Version == "" {
		cfg.Server.Version = "0.1.0"
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.MetricsAddr == "" {
		cfg.Server.MetricsAddr = ":9090"
	}

	if cfg.Transport.MaxMessageSizeBytes == 0 {
		cfg.Transport.MaxMessageSizeBytes = 8192
	}
	if cfg.Transport.ReceiveTimeoutMs == 0 {
		cfg.Transport.ReceiveTimeoutMs = 5000
	}
	if cfg.Transport.SendTimeoutMs == 0 {
		cfg.Transport.SendTimeoutMs = 5000
	}
	if cfg.Transport.RateLimitPerSecond == 0 {
		cfg.Transport.RateLimitPerSecond = 200
	}
	if cfg.Transport.RateLimitBurst == 0 {
		cfg.Transport.RateLimitBurst = 400
	}

	if cfg.TaskEngine.Workers == 0 {
		cfg.TaskEngine.Workers = 2
	}
	if cfg.TaskEngine.MaxPendingTasks == 0 {
		cfg.TaskEngine.MaxPendingTasks = 8
	}
	if cfg.TaskEngine.DefaultTimeoutMs == 0 {
		cfg.TaskEngine.DefaultTimeoutMs = 30_000
	}

	if cfg.Session.HeartbeatIntervalMs == 0 {
		cfg.Session.HeartbeatIntervalMs = 60_000
	}
	if cfg.Session.SessionTimeoutMs == 0 {
		cfg.Session.SessionTimeoutMs = 300_000
	}
	if cfg.Session.ShutdownGraceMs == 0 {
		cfg.Session.ShutdownGraceMs = 5_000
	}

	if cfg.Logging.Dir == "" {
		cfg.Logging.Dir = "logs"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// applyEnvOverrides lets EMBERMCP_* environment variables win over the file
// for the knobs most often tuned per-deployment, without requiring a config
// file edit.
func applyEnvOverrides(cfg *UnifiedConfig) {
	if v := os.Getenv("EMBERMCP_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("EMBERMCP_METRICS_ADDR"); v != "" {
		cfg.Server.MetricsAddr = v
	}
	if v := os.Getenv("EMBERMCP_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("EMBERMCP_LOG_DIR"); v != "" {
		cfg.Logging.Dir = v
	}
}

// Validate checks the loaded configuration is internally consistent.
func (u *UnifiedConfig) Validate() error {
	if u.TaskEngine.Workers <= 0 {
		return fmt.Errorf("task_engine.workers must be positive")
	}
	if u.TaskEngine.MaxPendingTasks <= 0 {
		return fmt.Errorf("task_engine.max_pending_tasks must be positive")
	}
	if u.Session.HeartbeatIntervalMs >= u.Session.SessionTimeoutMs {
		return fmt.Errorf("session.heartbeat_interval_ms must be less than session.session_timeout_ms")
	}
	return nil
}

func millis(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }
