package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	appDirName  = ".dilag"
	homeEnvName = "DILAG_HOME"
)

// DataDir returns the base data directory for Dilag. DILAG_HOME overrides
// the default of ~/.dilag.
func DataDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv(homeEnvName)); override != "" {
		return filepath.Clean(override), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, appDirName), nil
}

// SessionsDir returns the directory holding one working directory per session.
func SessionsDir() (string, error) {
	return dataPath("sessions")
}

// SessionsMetaPath returns the path to the JSON session metadata file.
func SessionsMetaPath() (string, error) {
	return dataPath("sessions.json")
}

// ScreenPositionsPath returns the path to the JSON canvas layout file.
func ScreenPositionsPath() (string, error) {
	return dataPath("screen_positions.json")
}

// BoltPath returns the path to the bbolt database.
func BoltPath() (string, error) {
	return dataPath("dilag.db")
}

// SQLitePath returns the path to the sqlite database.
func SQLitePath() (string, error) {
	return dataPath("dilag.sqlite")
}

// ConfigPath returns the path to config.toml.
func ConfigPath() (string, error) {
	return dataPath("config.toml")
}

// OpenCodeConfigDir is where the agent runtime reads opencode.json. The
// runtime is started with XDG_CONFIG_HOME pointing at DataDir.
func OpenCodeConfigDir() (string, error) {
	return dataPath("opencode")
}

// LogPath returns the path used when the OpenCode server output is captured.
func LogPath() (string, error) {
	return dataPath("opencode.log")
}

// ServerStatePath records the OpenCode server a `dilag server start`
// process is supervising.
func ServerStatePath() (string, error) {
	return dataPath("server.json")
}

func dataPath(name string) (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, name), nil
}
