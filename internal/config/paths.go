// Package config provides configuration management for kb-picker.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// ConfigDir is the configuration directory name
const ConfigDir = "kb-picker"

// getConfigDir returns the platform-appropriate config directory.
//   - Windows: %APPDATA%\kb-picker
//   - Unix: ~/.config/kb-picker (XDG standard)
func getConfigDir() string {
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, ConfigDir)
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", ConfigDir)
	}
	return ""
}

// GetDefaultConfigPath returns the default config file path.
func GetDefaultConfigPath() string {
	dir := getConfigDir()
	if dir == "" {
		return "config.csv"
	}
	return filepath.Join(dir, "config.csv")
}

// GetDefaultCredentialsPath returns where 'login' stores the session token.
func GetDefaultCredentialsPath() string {
	dir := getConfigDir()
	if dir == "" {
		return "credentials"
	}
	return filepath.Join(dir, "credentials")
}

// GetDefaultHistoryDBPath returns the sqlite database that keeps knowledge base history.
func GetDefaultHistoryDBPath() string {
	dir := getConfigDir()
	if dir == "" {
		return "history.db"
	}
	return filepath.Join(dir, "history.db")
}

// LogDirectory returns the directory for picker log files.
func LogDirectory() string {
	dir := getConfigDir()
	if dir == "" {
		return filepath.Join(os.TempDir(), "kb-picker-logs")
	}
	return filepath.Join(dir, "logs")
}

// DefaultLogFile returns the rotating log file used by the interactive picker.
func DefaultLogFile() string {
	return filepath.Join(LogDirectory(), "kb-picker.log")
}

// EnsureLogDirectory creates the log directory with owner-only permissions.
func EnsureLogDirectory() error {
	return os.MkdirAll(LogDirectory(), 0700)
}
