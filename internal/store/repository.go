package store

import (
	"context"
	"fmt"
	"strings"
)

const (
	RepositoryBackendFile   = "file"
	RepositoryBackendBbolt  = "bbolt"
	RepositoryBackendSQLite = "sqlite"
)

type Repository interface {
	SessionMeta() SessionMetaStore
	ScreenPositions() ScreenPositionStore
	Backend() string
	Close() error
}

type RepositoryPaths struct {
	SessionMetaPath     string
	ScreenPositionsPath string
	BoltPath            string
	SQLitePath          string
}

type fileRepository struct {
	meta      SessionMetaStore
	positions ScreenPositionStore
}

func NewFileRepository(paths RepositoryPaths) Repository {
	return &fileRepository{
		meta:      NewFileSessionMetaStore(paths.SessionMetaPath),
		positions: NewFileScreenPositionStore(paths.ScreenPositionsPath),
	}
}

func (r *fileRepository) SessionMeta() SessionMetaStore {
	return r.meta
}

func (r *fileRepository) ScreenPositions() ScreenPositionStore {
	return r.positions
}

func (r *fileRepository) Backend() string {
	return RepositoryBackendFile
}

func (r *fileRepository) Close() error {
	return nil
}

func OpenRepository(paths RepositoryPaths, backend string) (Repository, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", RepositoryBackendFile:
		return NewFileRepository(paths), nil
	case RepositoryBackendBbolt:
		return NewBboltRepository(paths.BoltPath)
	case RepositoryBackendSQLite:
		return NewSQLiteRepository(paths.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported repository backend: %q", backend)
	}
}

// SeedRepositoryFromFiles copies sessions.json and screen positions into dst
// when dst holds no sessions yet, so switching backends keeps existing work.
func SeedRepositoryFromFiles(ctx context.Context, dst Repository, paths RepositoryPaths) error {
	if dst == nil || dst.Backend() == RepositoryBackendFile {
		return nil
	}
	src := NewFileRepository(paths)
	defer src.Close()

	current, err := dst.SessionMeta().List(ctx)
	if err != nil {
		return err
	}
	if len(current) > 0 {
		return nil
	}
	legacy, err := src.SessionMeta().List(ctx)
	if err != nil {
		return err
	}
	for _, meta := range legacy {
		if _, err := dst.SessionMeta().Upsert(ctx, meta); err != nil {
			return fmt.Errorf("seed session %s: %w", meta.ID, err)
		}
		positions, err := src.ScreenPositions().List(ctx, meta.ID)
		if err != nil {
			return err
		}
		for _, position := range positions {
			if err := dst.ScreenPositions().Upsert(ctx, meta.ID, position); err != nil {
				return fmt.Errorf("seed screen position %s/%s: %w", meta.ID, position.ID, err)
			}
		}
	}
	return nil
}
