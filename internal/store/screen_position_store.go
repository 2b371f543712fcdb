package store

import (
	"context"
	"errors"
	"os"
	"sort"
	"strings"
	"sync"

	"dilag/internal/types"
)

const screenPositionSchemaVersion = 1

var errScreenPositionMissingID = errors.New("screen position requires session id and design id")

// ScreenPositionStore persists canvas placement of design screens, keyed by
// session and design filename.
type ScreenPositionStore interface {
	List(ctx context.Context, sessionID string) ([]types.ScreenPosition, error)
	Upsert(ctx context.Context, sessionID string, position types.ScreenPosition) error
	DeleteSession(ctx context.Context, sessionID string) error
}

type FileScreenPositionStore struct {
	path string
	mu   sync.Mutex
}

type screenPositionFile struct {
	Version  int                                `json:"version"`
	Sessions map[string][]types.ScreenPosition `json:"sessions"`
}

func NewFileScreenPositionStore(path string) *FileScreenPositionStore {
	return &FileScreenPositionStore{path: path}
}

func (s *FileScreenPositionStore) List(ctx context.Context, sessionID string) ([]types.ScreenPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.load()
	if err != nil {
		return nil, err
	}
	out := append([]types.ScreenPosition{}, file.Sessions[sessionID]...)
	sortScreenPositions(out)
	return out, nil
}

func (s *FileScreenPositionStore) Upsert(ctx context.Context, sessionID string, position types.ScreenPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(position.ID) == "" {
		return errScreenPositionMissingID
	}
	file, err := s.load()
	if err != nil {
		return err
	}
	positions := file.Sessions[sessionID]
	replaced := false
	for i := range positions {
		if positions[i].ID == position.ID {
			positions[i] = position
			replaced = true
			break
		}
	}
	if !replaced {
		positions = append(positions, position)
	}
	file.Sessions[sessionID] = positions
	return s.save(file)
}

func (s *FileScreenPositionStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := file.Sessions[sessionID]; !ok {
		return nil
	}
	delete(file.Sessions, sessionID)
	return s.save(file)
}

func (s *FileScreenPositionStore) load() (*screenPositionFile, error) {
	file := &screenPositionFile{}
	if err := readJSON(s.path, file); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if file.Sessions == nil {
		file.Sessions = map[string][]types.ScreenPosition{}
	}
	return file, nil
}

func (s *FileScreenPositionStore) save(file *screenPositionFile) error {
	file.Version = screenPositionSchemaVersion
	return writeJSONAtomic(s.path, file)
}

func sortScreenPositions(positions []types.ScreenPosition) {
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].ID < positions[j].ID
	})
}
