package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the list-dir configuration shared by both binaries.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig holds server-related settings.
type ServerConfig struct {
	Port                 int    `yaml:"port"`                   // TCP port to listen on
	HistoryEnabled       bool   `yaml:"history_enabled"`        // Record handled requests
	HistoryDB            string `yaml:"history_db"`             // History database path (overrides default)
	HistoryRetentionDays int    `yaml:"history_retention_days"` // Prune records older than this (0 = keep forever)
	HealthAddr           string `yaml:"health_addr"`            // gRPC health endpoint address (empty = disabled)
	PIDFile              string `yaml:"pid_file"`               // PID file path (empty = none)
	IOTimeoutMs          int    `yaml:"io_timeout_ms"`          // Per send/receive timeout (0 = none)
	MaxRequestBytes      int    `yaml:"max_request_bytes"`      // Request line limit (0 = unlimited)
	ShutdownGraceMs      int    `yaml:"shutdown_grace_ms"`      // Wait for in-flight workers on shutdown (0 = don't wait)
}

// ClientConfig holds client-related settings.
type ClientConfig struct {
	ConnectTimeoutMs int    `yaml:"connect_timeout_ms"` // Per endpoint connect timeout (0 = none)
	TimeoutMs        int    `yaml:"timeout_ms"`         // Per send/receive timeout (0 = none)
	Color            string `yaml:"color"`              // auto, always, never
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HistoryEnabled:       true,
			HistoryRetentionDays: 30,
			ShutdownGraceMs:      5000,
		},
		Client: ClientConfig{
			Color: "auto",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from the default path.
func Load() (*Config, error) {
	return LoadFromFile(DefaultPaths().ConfigFile())
}

// LoadFromFile loads configuration from the specified file.
// If the file doesn't exist, returns default configuration.
// Environment variable overrides are applied after file loading.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path) //nolint:gosec // G304: config path is user-provided by design
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535 (got: %d)", c.Server.Port)
	}
	if c.Server.HistoryRetentionDays < 0 {
		return errors.New("server.history_retention_days must be >= 0")
	}
	if c.Server.IOTimeoutMs < 0 {
		return errors.New("server.io_timeout_ms must be >= 0")
	}
	if c.Server.MaxRequestBytes < 0 {
		return errors.New("server.max_request_bytes must be >= 0")
	}
	if c.Server.ShutdownGraceMs < 0 {
		return errors.New("server.shutdown_grace_ms must be >= 0")
	}
	if c.Client.ConnectTimeoutMs < 0 {
		return errors.New("client.connect_timeout_ms must be >= 0")
	}
	if c.Client.TimeoutMs < 0 {
		return errors.New("client.timeout_ms must be >= 0")
	}
	if !IsValidColorMode(c.Client.Color) {
		return fmt.Errorf("client.color must be auto, always, or never (got: %s)", c.Client.Color)
	}
	if !IsValidLogLevel(c.Log.Level) {
		return fmt.Errorf("log.level must be debug, info, warn, or error (got: %s)", c.Log.Level)
	}
	if !IsValidLogFormat(c.Log.Format) {
		return fmt.Errorf("log.format must be text or json (got: %s)", c.Log.Format)
	}
	return nil
}

// IsValidLogLevel reports whether level is a known log level.
func IsValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

// IsValidLogFormat reports whether format is a known log format.
func IsValidLogFormat(format string) bool {
	return format == "text" || format == "json"
}

// IsValidColorMode reports whether mode is a known color mode.
func IsValidColorMode(mode string) bool {
	switch mode {
	case "auto", "always", "never":
		return true
	default:
		return false
	}
}

// ApplyEnvOverrides applies environment variable overrides to the config.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("LISTDIR_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil && b {
			c.Log.Level = "debug"
		}
	}
	if v := os.Getenv("LISTDIR_LOG_LEVEL"); v != "" {
		if IsValidLogLevel(v) {
			c.Log.Level = v
		}
	}
	if v := os.Getenv("LISTDIR_HISTORY_DB"); v != "" {
		c.Server.HistoryDB = v
	}
	if v := os.Getenv("LISTDIR_HEALTH_ADDR"); v != "" {
		c.Server.HealthAddr = v
	}
}

// HistoryPath returns the configured history database path, falling back to
// the default location.
func (c *Config) HistoryPath(paths *Paths) string {
	if c.Server.HistoryDB != "" {
		return c.Server.HistoryDB
	}
	if paths == nil {
		paths = DefaultPaths()
	}
	return paths.HistoryFile()
}

// HistoryRetention returns the retention as a duration; negative disables
// pruning.
func (c *Config) HistoryRetention() time.Duration {
	if c.Server.HistoryRetentionDays == 0 {
		return -1
	}
	return time.Duration(c.Server.HistoryRetentionDays) * 24 * time.Hour
}

// Millis converts a millisecond setting to a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
