package config

import (
	"github.com/latchkey-labs/embermcp/internal/session"
	"github.com/latchkey-labs/embermcp/internal/task"
	"github.com/latchkey-labs/embermcp/internal/transport"
)

// LoadAll locates and loads embermcp.jsonc, falling back to built-in
// defaults (via applyUnifiedDefaults on a zero-value config) if no file is
// found — the server runs standalone with sane defaults out of the box.
func LoadAll(configDir string) (*UnifiedConfig, error) {
	path, err := FindConfigPath(configDir)
	if err != nil {
		cfg := &UnifiedConfig{}
		applyUnifiedDefaults(cfg)
		applyEnvOverrides(cfg)
		return cfg, nil
	}
	return LoadUnifiedConfig(path)
}

// TransportConfig converts the loaded transport section into
// internal/transport.Config.
func (u *UnifiedConfig) TransportConfig() transport.Config {
	return transport.Config{
		MaxMessageSize:     u.Transport.MaxMessageSizeBytes,
		ReceiveTimeout:     millis(u.Transport.ReceiveTimeoutMs),
		SendTimeout:        millis(u.Transport.SendTimeoutMs),
		RateLimitPerSecond: u.Transport.RateLimitPerSecond,
		RateLimitBurst:     u.Transport.RateLimitBurst,
		KeepAlive:          transport.KeepAliveConfig{Enabled: u.Transport.KeepAliveEnabled},
	}
}

// TaskEngineConfig converts the loaded task_engine section into
// internal/task.Config.
func (u *UnifiedConfig) TaskEngineConfig() task.Config {
	return task.Config{
		Workers:         u.TaskEngine.Workers,
		MaxPendingTasks: u.TaskEngine.MaxPendingTasks,
		DefaultTimeout:  millis(u.TaskEngine.DefaultTimeoutMs),
	}
}

// SessionConfig converts the loaded session section into
// internal/session.Config.
func (u *UnifiedConfig) SessionConfig() session.Config {
	return session.Config{
		ServerName:        u.Server.Name,
		ServerVersion:     u.Server.Version,
		HeartbeatInterval: millis(u.Session.HeartbeatIntervalMs),
		SessionTimeout:    millis(u.Session.SessionTimeoutMs),
		ShutdownGrace:     millis(u.Session.ShutdownGraceMs),
	}
}
