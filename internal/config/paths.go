// Package config provides configuration management for list-dir.
package config

import (
	"os"
	"path/filepath"
)

const appName = "list-dir"

// Paths holds all the path configurations for list-dir.
type Paths struct {
	// ConfigDir is the directory for configuration files (~/.config/list-dir)
	ConfigDir string

	// DataDir is the directory for data files (~/.local/share/list-dir)
	DataDir string

	// RuntimeDir is the directory for runtime files like PID files
	RuntimeDir string
}

// DefaultPaths returns the default paths following the XDG Base Directory layout.
func DefaultPaths() *Paths {
	home := homeDir()

	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		configHome = filepath.Join(home, ".config")
	}

	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		dataHome = filepath.Join(home, ".local", "share")
	}

	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		runtimeDir = filepath.Join(dataHome, appName, "run")
	} else {
		runtimeDir = filepath.Join(runtimeDir, appName)
	}

	return &Paths{
		ConfigDir:  filepath.Join(configHome, appName),
		DataDir:    filepath.Join(dataHome, appName),
		RuntimeDir: runtimeDir,
	}
}

// ConfigFile returns the path to the main configuration file.
func (p *Paths) ConfigFile() string {
	return filepath.Join(p.ConfigDir, "config.yaml")
}

// HistoryFile returns the path to the request history database.
func (p *Paths) HistoryFile() string {
	return filepath.Join(p.DataDir, "history.db")
}

// PIDFile returns the path to the server PID file.
func (p *Paths) PIDFile() string {
	return filepath.Join(p.RuntimeDir, "server.pid")
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}
