// Package workspace manages the on-disk working directories that the agent
// runtime writes generated screens into.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const ScreensDirName = "screens"

var ErrOutsideRoot = errors.New("path is outside the sessions directory")

type Workspace struct {
	root string
}

func New(root string) *Workspace {
	return &Workspace{root: filepath.Clean(root)}
}

func (w *Workspace) Root() string {
	return w.root
}

func (w *Workspace) SessionDir(sessionID string) string {
	return filepath.Join(w.root, sessionID)
}

// CreateSessionDir creates <root>/<sessionID>/screens and returns the
// session directory.
func (w *Workspace) CreateSessionDir(sessionID string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" || strings.ContainsAny(sessionID, `/\`) || sessionID == "." || sessionID == ".." {
		return "", fmt.Errorf("invalid session id %q", sessionID)
	}
	dir := w.SessionDir(sessionID)
	if err := os.MkdirAll(filepath.Join(dir, ScreensDirName), 0o755); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}
	return dir, nil
}

// NewWorkDir allocates a directory before the remote session id is known.
func (w *Workspace) NewWorkDir() (string, error) {
	return w.CreateSessionDir(uuid.NewString())
}

// RemoveDir deletes a session directory. Paths outside the root are refused.
func (w *Workspace) RemoveDir(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	clean := filepath.Clean(path)
	rel, err := filepath.Rel(w.root, clean)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("remove %s: %w", path, ErrOutsideRoot)
	}
	if err := os.RemoveAll(clean); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}
