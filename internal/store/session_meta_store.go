package store

import (
	"context"
	"errors"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"dilag/internal/types"
)

var ErrSessionMetaNotFound = errors.New("session meta not found")

var errSessionMetaMissingID = errors.New("session meta requires id")

const sessionMetaSchemaVersion = 1

type SessionMetaStore interface {
	List(ctx context.Context) ([]*types.SessionMeta, error)
	Get(ctx context.Context, sessionID string) (*types.SessionMeta, bool, error)
	Upsert(ctx context.Context, meta *types.SessionMeta) (*types.SessionMeta, error)
	Delete(ctx context.Context, sessionID string) error
}

// FileSessionMetaStore keeps session metadata in a single JSON document
// shaped as {"version":1,"sessions":[...]}. Files written by older releases
// without a version field load unchanged.
type FileSessionMetaStore struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

type sessionMetaFile struct {
	Version  int                  `json:"version"`
	Sessions []*types.SessionMeta `json:"sessions"`
}

func NewFileSessionMetaStore(path string) *FileSessionMetaStore {
	return &FileSessionMetaStore{path: path, now: time.Now}
}

func (s *FileSessionMetaStore) List(ctx context.Context) ([]*types.SessionMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]*types.SessionMeta, 0, len(file.Sessions))
	for _, meta := range file.Sessions {
		if meta == nil {
			continue
		}
		out = append(out, types.CloneSessionMeta(meta))
	}
	sortSessionMetas(out)
	return out, nil
}

func (s *FileSessionMetaStore) Get(ctx context.Context, sessionID string) (*types.SessionMeta, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.load()
	if err != nil {
		return nil, false, err
	}
	for _, meta := range file.Sessions {
		if meta != nil && meta.ID == sessionID {
			return types.CloneSessionMeta(meta), true, nil
		}
	}
	return nil, false, nil
}

func (s *FileSessionMetaStore) Upsert(ctx context.Context, meta *types.SessionMeta) (*types.SessionMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if meta == nil || strings.TrimSpace(meta.ID) == "" {
		return nil, errSessionMetaMissingID
	}
	file, err := s.load()
	if err != nil {
		return nil, err
	}

	var normalized *types.SessionMeta
	for i, existing := range file.Sessions {
		if existing != nil && existing.ID == meta.ID {
			normalized = normalizeSessionMeta(meta, existing, s.now())
			file.Sessions[i] = normalized
			break
		}
	}
	if normalized == nil {
		normalized = normalizeSessionMeta(meta, nil, s.now())
		file.Sessions = append(file.Sessions, normalized)
	}

	if err := s.save(file); err != nil {
		return nil, err
	}
	return types.CloneSessionMeta(normalized), nil
}

func (s *FileSessionMetaStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.load()
	if err != nil {
		return err
	}
	filtered := file.Sessions[:0]
	found := false
	for _, meta := range file.Sessions {
		if meta == nil {
			continue
		}
		if meta.ID == sessionID {
			found = true
			continue
		}
		filtered = append(filtered, meta)
	}
	if !found {
		return ErrSessionMetaNotFound
	}
	file.Sessions = filtered
	return s.save(file)
}

func (s *FileSessionMetaStore) load() (*sessionMetaFile, error) {
	file := newSessionMetaFile()
	if err := readJSON(s.path, file); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return newSessionMetaFile(), nil
		}
		return nil, err
	}
	if file.Sessions == nil {
		file.Sessions = []*types.SessionMeta{}
	}
	return file, nil
}

func (s *FileSessionMetaStore) save(file *sessionMetaFile) error {
	file.Version = sessionMetaSchemaVersion
	return writeJSONAtomic(s.path, file)
}

func newSessionMetaFile() *sessionMetaFile {
	return &sessionMetaFile{
		Version:  sessionMetaSchemaVersion,
		Sessions: []*types.SessionMeta{},
	}
}

// normalizeSessionMeta merges an incoming record over the stored one: empty
// strings keep the stored value, Favorite always takes the incoming value,
// and UpdatedAt is stamped with now.
func normalizeSessionMeta(meta *types.SessionMeta, existing *types.SessionMeta, now time.Time) *types.SessionMeta {
	normalized := types.CloneSessionMeta(meta)
	normalized.ID = strings.TrimSpace(normalized.ID)
	if existing != nil {
		if strings.TrimSpace(normalized.Name) == "" {
			normalized.Name = existing.Name
		}
		if normalized.CreatedAt.IsZero() {
			normalized.CreatedAt = existing.CreatedAt
		}
		if normalized.Cwd == "" {
			normalized.Cwd = existing.Cwd
		}
		if normalized.Platform == "" {
			normalized.Platform = existing.Platform
		}
		if normalized.ParentID == "" {
			normalized.ParentID = existing.ParentID
		}
	}
	now = now.UTC()
	if normalized.CreatedAt.IsZero() {
		normalized.CreatedAt = now
	}
	if existing != nil {
		normalized.UpdatedAt = &now
	}
	return normalized
}

// sortSessionMetas orders newest first, falling back to id for a stable order.
func sortSessionMetas(metas []*types.SessionMeta) {
	sort.SliceStable(metas, func(i, j int) bool {
		left, right := metas[i].CreatedAt, metas[j].CreatedAt
		if !left.Equal(right) {
			return left.After(right)
		}
		return metas[i].ID < metas[j].ID
	})
}
