package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ServerState describes an OpenCode server supervised by a long-running
// `dilag server start`.
type ServerState struct {
	PID       int       `json:"pid"`
	BaseURL   string    `json:"base_url"`
	StartedAt time.Time `json:"started_at"`
}

func WriteServerState(path string, state ServerState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadServerState returns the recorded state; ok is false when none exists.
func ReadServerState(path string) (ServerState, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ServerState{}, false, nil
		}
		return ServerState{}, false, err
	}
	var state ServerState
	if err := json.Unmarshal(data, &state); err != nil {
		return ServerState{}, false, fmt.Errorf("decode %s: %w", path, err)
	}
	return state, true, nil
}

func RemoveServerState(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
