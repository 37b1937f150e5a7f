package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 0 {
		t.Errorf("Expected port=0, got %d", cfg.Server.Port)
	}
	if !cfg.Server.HistoryEnabled {
		t.Error("Expected history_enabled=true")
	}
	if cfg.Server.HistoryRetentionDays != 30 {
		t.Errorf("Expected history_retention_days=30, got %d", cfg.Server.HistoryRetentionDays)
	}
	if cfg.Server.ShutdownGraceMs != 5000 {
		t.Errorf("Expected shutdown_grace_ms=5000, got %d", cfg.Server.ShutdownGraceMs)
	}
	if cfg.Client.Color != "auto" {
		t.Errorf("Expected color=auto, got %s", cfg.Client.Color)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Expected log.level=info, got %s", cfg.Log.Level)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Expected log.format=text, got %s", cfg.Log.Format)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFromFile_Missing(t *testing.T) {
	t.Setenv("LISTDIR_LOG_LEVEL", "")
	t.Setenv("LISTDIR_DEBUG", "")

	cfg, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Expected defaults, got log.level=%s", cfg.Log.Level)
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("LISTDIR_LOG_LEVEL", "")
	t.Setenv("LISTDIR_DEBUG", "")
	t.Setenv("LISTDIR_HISTORY_DB", "")
	t.Setenv("LISTDIR_HEALTH_ADDR", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `server:
  port: 9000
  history_db: /tmp/h.db
  io_timeout_ms: 250
client:
  color: never
log:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Expected port=9000, got %d", cfg.Server.Port)
	}
	if cfg.Server.HistoryDB != "/tmp/h.db" {
		t.Errorf("Expected history_db=/tmp/h.db, got %s", cfg.Server.HistoryDB)
	}
	if got := Millis(cfg.Server.IOTimeoutMs); got != 250*time.Millisecond {
		t.Errorf("Expected io timeout 250ms, got %v", got)
	}
	if cfg.Client.Color != "never" {
		t.Errorf("Expected color=never, got %s", cfg.Client.Color)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Expected debug/json, got %s/%s", cfg.Log.Level, cfg.Log.Format)
	}
	// unset fields keep their defaults
	if cfg.Server.ShutdownGraceMs != 5000 {
		t.Errorf("Expected shutdown_grace_ms=5000, got %d", cfg.Server.ShutdownGraceMs)
	}
}

func TestLoadFromFile_Invalid(t *testing.T) {
	t.Setenv("LISTDIR_LOG_LEVEL", "")
	t.Setenv("LISTDIR_DEBUG", "")
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad yaml", "server: [", "failed to parse config file"},
		{"port range", "server:\n  port: 70000\n", "server.port"},
		{"negative timeout", "client:\n  timeout_ms: -1\n", "client.timeout_ms"},
		{"color", "client:\n  color: rainbow\n", "client.color"},
		{"log level", "log:\n  level: verbose\n", "log.level"},
		{"log format", "log:\n  format: xml\n", "log.format"},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "c"+string(rune('a'+i))+".yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}
			_, err := LoadFromFile(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("LISTDIR_DEBUG", "")
	t.Setenv("LISTDIR_LOG_LEVEL", "warn")
	t.Setenv("LISTDIR_HISTORY_DB", "/var/lib/ld.db")
	t.Setenv("LISTDIR_HEALTH_ADDR", "127.0.0.1:7070")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.Log.Level != "warn" {
		t.Errorf("Expected log.level=warn, got %s", cfg.Log.Level)
	}
	if cfg.Server.HistoryDB != "/var/lib/ld.db" {
		t.Errorf("Expected history_db override, got %s", cfg.Server.HistoryDB)
	}
	if cfg.Server.HealthAddr != "127.0.0.1:7070" {
		t.Errorf("Expected health_addr override, got %s", cfg.Server.HealthAddr)
	}
}

func TestApplyEnvOverrides_IgnoresInvalidLevel(t *testing.T) {
	t.Setenv("LISTDIR_DEBUG", "")
	t.Setenv("LISTDIR_LOG_LEVEL", "loud")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()
	if cfg.Log.Level != "info" {
		t.Errorf("invalid env level should be ignored, got %s", cfg.Log.Level)
	}
}

func TestApplyEnvOverrides_Debug(t *testing.T) {
	t.Setenv("LISTDIR_LOG_LEVEL", "")
	t.Setenv("LISTDIR_DEBUG", "1")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log.level=debug, got %s", cfg.Log.Level)
	}
}

func TestHistoryPath(t *testing.T) {
	paths := &Paths{DataDir: "/data"}
	cfg := DefaultConfig()

	if got := cfg.HistoryPath(paths); got != "/data/history.db" {
		t.Errorf("HistoryPath() = %s, want /data/history.db", got)
	}

	cfg.Server.HistoryDB = "/elsewhere.db"
	if got := cfg.HistoryPath(paths); got != "/elsewhere.db" {
		t.Errorf("HistoryPath() = %s, want /elsewhere.db", got)
	}
}

func TestHistoryRetention(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.HistoryRetention(); got != 30*24*time.Hour {
		t.Errorf("HistoryRetention() = %v", got)
	}

	cfg.Server.HistoryRetentionDays = 0
	if got := cfg.HistoryRetention(); got >= 0 {
		t.Errorf("zero days should disable pruning, got %v", got)
	}
}
