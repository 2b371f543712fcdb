package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	defaultOpenCodeHostname = "127.0.0.1"
	defaultOpenCodePort     = 4096
	defaultOpenCodeTimeout  = 30 * time.Second
	defaultProviderID       = "anthropic"
	defaultModelID          = "claude-sonnet-4-20250514"
	defaultAgent            = "build"
	defaultQuestionTimeout  = 30 * time.Second
	defaultReconnectInitial = 250 * time.Millisecond
	defaultReconnectMax     = 10 * time.Second
)

const (
	StoreBackendFile   = "file"
	StoreBackendBbolt  = "bbolt"
	StoreBackendSQLite = "sqlite"
)

type Config struct {
	OpenCode OpenCodeConfig `toml:"opencode"`
	Store    StoreConfig    `toml:"store"`
	Session  SessionConfig  `toml:"session"`
	Events   EventsConfig   `toml:"events"`
	Logging  LoggingConfig  `toml:"logging"`
}

type OpenCodeConfig struct {
	BaseURL   string `toml:"base_url,omitempty"`
	Command   string `toml:"command,omitempty"`
	Hostname  string `toml:"hostname"`
	Port      int    `toml:"port"`
	Username  string `toml:"username,omitempty"`
	Password  string `toml:"password,omitempty"`
	Timeout   string `toml:"timeout"`
	AutoStart *bool  `toml:"auto_start,omitempty"`
}

type StoreConfig struct {
	Backend string `toml:"backend"`
}

type SessionConfig struct {
	ProviderID      string `toml:"provider_id"`
	ModelID         string `toml:"model_id"`
	Agent           string `toml:"agent"`
	QuestionTimeout string `toml:"question_timeout"`
}

type EventsConfig struct {
	ReconnectInitial string `toml:"reconnect_initial"`
	ReconnectMax     string `toml:"reconnect_max"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
	// File appends logs to this path instead of stderr. Relative paths
	// resolve against the data dir.
	File string `toml:"file,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		OpenCode: OpenCodeConfig{
			Hostname: defaultOpenCodeHostname,
			Port:     defaultOpenCodePort,
			Timeout:  defaultOpenCodeTimeout.String(),
		},
		Store: StoreConfig{
			Backend: StoreBackendFile,
		},
		Session: SessionConfig{
			ProviderID:      defaultProviderID,
			ModelID:         defaultModelID,
			Agent:           defaultAgent,
			QuestionTimeout: defaultQuestionTimeout.String(),
		},
		Events: EventsConfig{
			ReconnectInitial: defaultReconnectInitial.String(),
			ReconnectMax:     defaultReconnectMax.String(),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func Load() (Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return Config{}, err
	}
	return LoadFromPath(path)
}

func LoadFromPath(path string) (Config, error) {
	cfg := DefaultConfig()
	if err := readTOML(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}

func (c Config) OpenCodeBaseURL() string {
	if raw := strings.TrimRight(strings.TrimSpace(c.OpenCode.BaseURL), "/"); raw != "" {
		return raw
	}
	return "http://" + net.JoinHostPort(c.OpenCodeHostname(), strconv.Itoa(c.OpenCodePort()))
}

func (c Config) OpenCodeHostname() string {
	host := strings.TrimSpace(c.OpenCode.Hostname)
	if host == "" {
		return defaultOpenCodeHostname
	}
	return host
}

func (c Config) OpenCodePort() int {
	if c.OpenCode.Port <= 0 {
		return defaultOpenCodePort
	}
	return c.OpenCode.Port
}

func (c Config) OpenCodeTimeout() time.Duration {
	return parseDurationOr(c.OpenCode.Timeout, defaultOpenCodeTimeout)
}

func (c Config) OpenCodeCommand() string {
	return strings.TrimSpace(c.OpenCode.Command)
}

// AutoStartEnabled reports whether the CLI may launch a local OpenCode
// server when none answers. Remote base URLs never auto-start.
func (c Config) AutoStartEnabled() bool {
	if strings.TrimSpace(c.OpenCode.BaseURL) != "" {
		return false
	}
	if c.OpenCode.AutoStart == nil {
		return true
	}
	return *c.OpenCode.AutoStart
}

func (c Config) StoreBackend() string {
	backend := strings.ToLower(strings.TrimSpace(c.Store.Backend))
	switch backend {
	case StoreBackendBbolt, StoreBackendSQLite:
		return backend
	default:
		return StoreBackendFile
	}
}

func (c Config) ProviderID() string {
	if v := strings.TrimSpace(c.Session.ProviderID); v != "" {
		return v
	}
	return defaultProviderID
}

func (c Config) ModelID() string {
	if v := strings.TrimSpace(c.Session.ModelID); v != "" {
		return v
	}
	return defaultModelID
}

func (c Config) Agent() string {
	if v := strings.TrimSpace(c.Session.Agent); v != "" {
		return v
	}
	return defaultAgent
}

func (c Config) QuestionTimeout() time.Duration {
	return parseDurationOr(c.Session.QuestionTimeout, defaultQuestionTimeout)
}

func (c Config) ReconnectInitial() time.Duration {
	return parseDurationOr(c.Events.ReconnectInitial, defaultReconnectInitial)
}

func (c Config) ReconnectMax() time.Duration {
	maxDelay := parseDurationOr(c.Events.ReconnectMax, defaultReconnectMax)
	if initial := c.ReconnectInitial(); maxDelay < initial {
		return initial
	}
	return maxDelay
}

func (c Config) LogLevel() string {
	level := strings.TrimSpace(c.Logging.Level)
	if level == "" {
		return "info"
	}
	return level
}

// LogFile returns the absolute log file path, or "" when logging goes to
// the default output.
func (c Config) LogFile() (string, error) {
	path := strings.TrimSpace(c.Logging.File)
	if path == "" || filepath.IsAbs(path) {
		return path, nil
	}
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, path), nil
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func readTOML(path string, out any) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	return toml.Unmarshal(data, out)
}
