package config

import (
	"os"
	"path/filepath"
)

const appDirName = ".clawgate"

// DataDir returns the base data directory for the gateway. The
// CLAWGATE_DATA_DIR environment variable overrides the default under the
// user's home directory.
func DataDir() (string, error) {
	if dir := os.Getenv("CLAWGATE_DATA_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, appDirName), nil
}

// ConfigPath returns the path to the gateway config file.
func ConfigPath() (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "config.toml"), nil
}

// SessionsDBPath returns the path to the conversation session database.
func SessionsDBPath() (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "sessions.db"), nil
}
