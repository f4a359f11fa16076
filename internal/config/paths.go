package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const appDirName = "stashbox"

// ConfigDirectory returns the directory holding the client config file.
//   - Windows: %USERPROFILE%\.config\stashbox
//   - Unix: ~/.config/stashbox
func ConfigDirectory() (string, error) {
	if runtime.GOOS == "windows" {
		userProfile := os.Getenv("USERPROFILE")
		if userProfile == "" {
			return "", errors.New("USERPROFILE environment variable not set")
		}
		return filepath.Join(userProfile, ".config", appDirName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", appDirName), nil
}

// DefaultConfigPath returns the default path for the client config file.
func DefaultConfigPath() (string, error) {
	dir, err := ConfigDirectory()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config"), nil
}

// LogDirectory returns the directory for log files.
//
// Locations:
//   - Windows: %LOCALAPPDATA%\stashbox\logs
//   - Unix: $XDG_CONFIG_HOME/stashbox/logs
func LogDirectory() string {
	if runtime.GOOS == "windows" {
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return filepath.Join(os.TempDir(), "stashbox-logs")
			}
			localAppData = filepath.Join(homeDir, "AppData", "Local")
		}
		return filepath.Join(localAppData, appDirName, "logs")
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "stashbox-logs")
	}
	return filepath.Join(configDir, appDirName, "logs")
}

// EnsureLogDirectory creates the log directory with owner-only permissions.
func EnsureLogDirectory() error {
	return os.MkdirAll(LogDirectory(), 0700)
}
