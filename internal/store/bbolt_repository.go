package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"dilag/internal/types"
)

var (
	bucketSessionMeta     = []byte("session_meta")
	bucketScreenPositions = []byte("screen_positions")
)

type bboltRepository struct {
	db        *bolt.DB
	meta      SessionMetaStore
	positions ScreenPositionStore
}

func NewBboltRepository(path string) (Repository, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("repository db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := initBboltSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &bboltRepository{
		db:        db,
		meta:      &bboltSessionMetaStore{db: db, now: time.Now},
		positions: &bboltScreenPositionStore{db: db},
	}, nil
}

func (r *bboltRepository) SessionMeta() SessionMetaStore {
	return r.meta
}

func (r *bboltRepository) ScreenPositions() ScreenPositionStore {
	return r.positions
}

func (r *bboltRepository) Backend() string {
	return RepositoryBackendBbolt
}

func (r *bboltRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func initBboltSchema(db *bolt.DB) error {
	return db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketSessionMeta, bucketScreenPositions} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
}

type bboltSessionMetaStore struct {
	db  *bolt.DB
	mu  sync.Mutex
	now func() time.Time
}

func (s *bboltSessionMetaStore) List(ctx context.Context) ([]*types.SessionMeta, error) {
	out := make([]*types.SessionMeta, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessionMeta)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var meta types.SessionMeta
			if err := json.Unmarshal(v, &meta); err != nil {
				return err
			}
			out = append(out, &meta)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortSessionMetas(out)
	return out, nil
}

func (s *bboltSessionMetaStore) Get(ctx context.Context, sessionID string) (*types.SessionMeta, bool, error) {
	var out *types.SessionMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		meta, err := getBboltSessionMeta(tx, sessionID)
		out = meta
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

func (s *bboltSessionMetaStore) Upsert(ctx context.Context, meta *types.SessionMeta) (*types.SessionMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if meta == nil || strings.TrimSpace(meta.ID) == "" {
		return nil, errSessionMetaMissingID
	}
	var normalized *types.SessionMeta
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessionMeta)
		if b == nil {
			return errors.New("session meta bucket missing")
		}
		existing, err := getBboltSessionMeta(tx, meta.ID)
		if err != nil {
			return err
		}
		normalized = normalizeSessionMeta(meta, existing, s.now())
		raw, err := json.Marshal(normalized)
		if err != nil {
			return err
		}
		return b.Put([]byte(normalized.ID), raw)
	})
	if err != nil {
		return nil, err
	}
	return types.CloneSessionMeta(normalized), nil
}

func (s *bboltSessionMetaStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessionMeta)
		if b == nil {
			return errors.New("session meta bucket missing")
		}
		key := []byte(sessionID)
		if b.Get(key) == nil {
			return ErrSessionMetaNotFound
		}
		return b.Delete(key)
	})
}

func getBboltSessionMeta(tx *bolt.Tx, sessionID string) (*types.SessionMeta, error) {
	b := tx.Bucket(bucketSessionMeta)
	if b == nil {
		return nil, nil
	}
	raw := b.Get([]byte(sessionID))
	if len(raw) == 0 {
		return nil, nil
	}
	var meta types.SessionMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// bboltScreenPositionStore keeps one nested bucket per session under
// screen_positions, keyed by design id.
type bboltScreenPositionStore struct {
	db *bolt.DB
}

func (s *bboltScreenPositionStore) List(ctx context.Context, sessionID string) ([]types.ScreenPosition, error) {
	out := make([]types.ScreenPosition, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketScreenPositions)
		if root == nil {
			return nil
		}
		b := root.Bucket([]byte(sessionID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var position types.ScreenPosition
			if err := json.Unmarshal(v, &position); err != nil {
				return err
			}
			out = append(out, position)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortScreenPositions(out)
	return out, nil
}

func (s *bboltScreenPositionStore) Upsert(ctx context.Context, sessionID string, position types.ScreenPosition) error {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(position.ID) == "" {
		return errScreenPositionMissingID
	}
	raw, err := json.Marshal(position)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketScreenPositions)
		if root == nil {
			return errors.New("screen positions bucket missing")
		}
		b, err := root.CreateBucketIfNotExists([]byte(sessionID))
		if err != nil {
			return err
		}
		return b.Put([]byte(position.ID), raw)
	})
}

func (s *bboltScreenPositionStore) DeleteSession(ctx context.Context, sessionID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketScreenPositions)
		if root == nil {
			return nil
		}
		err := root.DeleteBucket([]byte(sessionID))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}
