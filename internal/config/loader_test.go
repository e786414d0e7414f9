package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadUnifiedConfig(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("valid unified config", func(t *testing.T) {
		configPath := filepath.Join(tmpDir, "valid.jsonc")
		configJSON := `{
			// Test config
			"server": {"listen_addr": ":9000"},
			"task_engine": {"workers": 4, "max_pending_tasks": 16},
			"session": {"heartbeat_interval_ms": 10000, "session_timeout_ms": 60000}
		}`
		_ = os.WriteFile(configPath, []byte(configJSON), 0o644)

		cfg, err := LoadUnifiedConfig(configPath)
		if err != nil {
			t.Fatalf("LoadUnifiedConfig() error = %v", err)
		}
		if cfg.Server.ListenAddr != ":9000" {
			t.Errorf("Server.ListenAddr = %q, want %q", cfg.Server.ListenAddr, ":9000")
		}
		if cfg.TaskEngine.Workers != 4 {
			t.Errorf("TaskEngine.Workers = %d, want 4", cfg.TaskEngine.Workers)
		}
		if cfg.Session.SessionTimeoutMs != 60000 {
			t.Errorf("Session.SessionTimeoutMs = %d, want 60000", cfg.Session.SessionTimeoutMs)
		}
	})

	t.Run("JSONC comments are stripped", func(t *testing.T) {
		configPath := filepath.Join(tmpDir, "comments.jsonc")
		configJSON := `{
			// Line comment
			"server": {"listen_addr": ":8080"}
			/* Block comment */
		}`
		_ = os.WriteFile(configPath, []byte(configJSON), 0o644)

		cfg, err := LoadUnifiedConfig(configPath)
		if err != nil {
			t.Fatalf("LoadUnifiedConfig() error = %v", err)
		}
		if cfg.Server.ListenAddr != ":8080" {
			t.Errorf("Server.ListenAddr = %q, want %q", cfg.Server.ListenAddr, ":8080")
		}
	})

	t.Run("applies defaults for missing fields", func(t *testing.T) {
		configPath := filepath.Join(tmpDir, "minimal.jsonc")
		_ = os.WriteFile(configPath, []byte(`{}`), 0o644)

		cfg, err := LoadUnifiedConfig(configPath)
		if err != nil {
			t.Fatalf("LoadUnifiedConfig() error = %v", err)
		}
		if cfg.Server.ListenAddr != ":8080" {
			t.Errorf("Server.ListenAddr = %q, want default %q", cfg.Server.ListenAddr, ":8080")
		}
		if cfg.TaskEngine.MaxPendingTasks != 8 {
			t.Errorf("TaskEngine.MaxPendingTasks = %d, want default 8", cfg.TaskEngine.MaxPendingTasks)
		}
		if cfg.Session.HeartbeatIntervalMs != 60_000 {
			t.Errorf("Session.HeartbeatIntervalMs = %d, want default 60000", cfg.Session.HeartbeatIntervalMs)
		}
	})

	t.Run("invalid JSON returns error", func(t *testing.T) {
		configPath := filepath.Join(tmpDir, "invalid.jsonc")
		_ = os.WriteFile(configPath, []byte("not json"), 0o644)

		_, err := LoadUnifiedConfig(configPath)
		if err == nil {
			t.Error("expected error for invalid JSON")
		}
	})
}

func TestFindConfigPath(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("finds config in specified dir", func(t *testing.T) {
		configDir := filepath.Join(tmpDir, "custom")
		_ = os.MkdirAll(configDir, 0o755)
		_ = os.WriteFile(filepath.Join(configDir, "embermcp.jsonc"), []byte("{}"), 0o644)

		path, err := FindConfigPath(configDir)
		if err != nil {
			t.Fatalf("FindConfigPath() error = %v", err)
		}
		if filepath.Base(path) != "embermcp.jsonc" {
			t.Errorf("FindConfigPath() = %q, want embermcp.jsonc", path)
		}
	})

	t.Run("error when config not found", func(t *testing.T) {
		_, err := FindConfigPath(filepath.Join(tmpDir, "nonexistent"))
		if err == nil {
			t.Error("expected error when config not found")
		}
	})
}

func TestLoadAllFallsBackToDefaultsWithoutAFile(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := LoadAll(filepath.Join(tmpDir, "nonexistent"))
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("Server.ListenAddr = %q, want default %q", cfg.Server.ListenAddr, ":8080")
	}
	if cfg.TaskEngine.Workers != 2 {
		t.Errorf("TaskEngine.Workers = %d, want default 2", cfg.TaskEngine.Workers)
	}
}

func TestLoadAllReadsFile(t *testing.T) {
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, "all")
	_ = os.MkdirAll(configDir, 0o755)

	configJSON := `{
		"server": {"listen_addr": ":7000"},
		"task_engine": {"workers": 3, "max_pending_tasks": 12}
	}`
	_ = os.WriteFile(filepath.Join(configDir, "embermcp.jsonc"), []byte(configJSON), 0o644)

	cfg, err := LoadAll(configDir)
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if cfg.Server.ListenAddr != ":7000" {
		t.Errorf("Server.ListenAddr = %q, want %q", cfg.Server.ListenAddr, ":7000")
	}
	if cfg.TaskEngine.Workers != 3 {
		t.Errorf("TaskEngine.Workers = %d, want 3", cfg.TaskEngine.Workers)
	}
}

func TestUnifiedConfigValidate(t *testing.T) {
	t.Run("defaulted config is valid", func(t *testing.T) {
		cfg := &UnifiedConfig{}
		applyUnifiedDefaults(cfg)
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() error = %v, want nil", err)
		}
	})

	t.Run("zero workers is invalid", func(t *testing.T) {
		cfg := &UnifiedConfig{}
		applyUnifiedDefaults(cfg)
		cfg.TaskEngine.Workers = 0
		if err := cfg.Validate(); err == nil {
			t.Error("expected error for zero workers")
		}
	})

	t.Run("heartbeat must be shorter than session timeout", func(t *testing.T) {
		cfg := &UnifiedConfig{}
		applyUnifiedDefaults(cfg)
		cfg.Session.HeartbeatIntervalMs = cfg.Session.SessionTimeoutMs
		if err := cfg.Validate(); err == nil {
			t.Error("expected error when heartbeat interval >= session timeout")
		}
	})
}

func TestConvertersProduceUsableConfigs(t *testing.T) {
	cfg := &UnifiedConfig{}
	applyUnifiedDefaults(cfg)

	tc := cfg.TransportConfig()
	if tc.MaxMessageSize != 8192 {
		t.Errorf("TransportConfig().MaxMessageSize = %d, want 8192", tc.MaxMessageSize)
	}

	te := cfg.TaskEngineConfig()
	if te.Workers != 2 {
		t.Errorf("TaskEngineConfig().Workers = %d, want 2", te.Workers)
	}

	sc := cfg.SessionConfig()
	if sc.ServerName != "embermcpd" {
		t.Errorf("SessionConfig().ServerName = %q, want embermcpd", sc.ServerName)
	}
}
