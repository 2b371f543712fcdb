package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"dilag/internal/logging"
)

type DesignChangeKind string

const (
	DesignWritten DesignChangeKind = "written"
	DesignRemoved DesignChangeKind = "removed"
)

type DesignChange struct {
	Filename string
	Path     string
	Kind     DesignChangeKind
}

// Watch reports design file changes under cwd and cwd/screens until ctx is
// canceled. The returned channel is closed when watching stops.
func Watch(ctx context.Context, cwd string, logger logging.Logger) (<-chan DesignChange, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	screens := filepath.Join(cwd, ScreensDirName)
	if err := os.MkdirAll(screens, 0o755); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("create screens dir: %w", err)
	}
	for _, dir := range []string{cwd, screens} {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	out := make(chan DesignChange, 32)
	go func() {
		defer close(out)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				change, ok := designChangeFor(event)
				if !ok {
					continue
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("design_watch_error", logging.F("cwd", cwd), logging.Err(err))
			}
		}
	}()
	return out, nil
}

func designChangeFor(event fsnotify.Event) (DesignChange, bool) {
	name := filepath.Base(event.Name)
	if !IsDesignFile(name) {
		return DesignChange{}, false
	}
	change := DesignChange{Filename: name, Path: event.Name}
	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		change.Kind = DesignRemoved
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		change.Kind = DesignWritten
	default:
		return DesignChange{}, false
	}
	return change, true
}
