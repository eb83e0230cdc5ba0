// Package paths provides centralized path resolution for wabridge.
// This package has NO internal imports (only stdlib) to avoid import cycles.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// BaseDir returns the wabridge base directory (~/.wabridge).
func BaseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".wabridge"), nil
}

// DataPath returns a path within the data directory (~/.wabridge/<subpath>).
func DataPath(subpath string) (string, error) {
	base, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, subpath), nil
}

// configNames are tried in order, locally first and then in the base dir.
var configNames = []string{"wabridge.json", "wabridge.yaml", "wabridge.yml", "wabridge.toml"}

// ConfigPath returns the active config file path.
// Priority: ./wabridge.* (current dir) > ~/.wabridge/wabridge.*
// Returns ("", nil) if no config exists - this is a valid state, not an error.
func ConfigPath() (string, error) {
	for _, name := range configNames {
		if _, err := os.Stat(name); err == nil {
			abs, err := filepath.Abs(name)
			if err != nil {
				return "", fmt.Errorf("failed to get absolute path: %w", err)
			}
			return abs, nil
		}
	}

	for _, name := range configNames {
		global, err := DataPath(name)
		if err != nil {
			return "", err
		}
		if _, err := os.Stat(global); err == nil {
			return global, nil
		}
	}

	return "", nil
}

// BrowserDir returns the default browser data directory (~/.wabridge/browser).
func BrowserDir() (string, error) {
	return DataPath("browser")
}

// JournalPath returns the default session journal path for a backend.
func JournalPath(backend string) (string, error) {
	if backend == "sqlite" {
		return DataPath("sessions.db")
	}
	return DataPath("sessions.json")
}

// EnsureDir creates a directory if it doesn't exist.
// Uses 0750 permissions (owner: rwx, group: rx, other: none).
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// EnsureParentDir creates the parent directory of a file path if it doesn't exist.
func EnsureParentDir(filePath string) error {
	return EnsureDir(filepath.Dir(filePath))
}

// ExpandTilde expands a path that starts with ~ to the user's home directory.
// Returns the path unchanged if it doesn't start with ~.
func ExpandTilde(path string) (string, error) {
	if len(path) == 0 || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	if len(path) == 1 {
		return home, nil
	}
	return filepath.Join(home, path[1:]), nil
}
