package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"dilag/internal/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL DEFAULT '',
	created_at_ns INTEGER NOT NULL,
	updated_at_ns INTEGER,
	cwd           TEXT NOT NULL DEFAULT '',
	platform      TEXT NOT NULL DEFAULT '',
	favorite      INTEGER NOT NULL DEFAULT 0,
	parent_id     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS screen_positions (
	session_id TEXT NOT NULL,
	design_id  TEXT NOT NULL,
	x          REAL NOT NULL,
	y          REAL NOT NULL,
	PRIMARY KEY (session_id, design_id)
);
`

type sqliteRepository struct {
	db        *sql.DB
	meta      SessionMetaStore
	positions ScreenPositionStore
}

func NewSQLiteRepository(path string) (Repository, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("repository sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	_, _ = db.Exec("PRAGMA busy_timeout = 5000;")
	_, _ = db.Exec("PRAGMA journal_mode = WAL;")
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &sqliteRepository{
		db:        db,
		meta:      &sqliteSessionMetaStore{db: db, now: time.Now},
		positions: &sqliteScreenPositionStore{db: db},
	}, nil
}

func (r *sqliteRepository) SessionMeta() SessionMetaStore {
	return r.meta
}

func (r *sqliteRepository) ScreenPositions() ScreenPositionStore {
	return r.positions
}

func (r *sqliteRepository) Backend() string {
	return RepositoryBackendSQLite
}

func (r *sqliteRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

type sqliteSessionMetaStore struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

const sessionColumns = `id, name, created_at_ns, updated_at_ns, cwd, platform, favorite, parent_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSessionMeta(row rowScanner) (*types.SessionMeta, error) {
	var (
		meta      types.SessionMeta
		createdNs int64
		updatedNs sql.NullInt64
		platform  string
		favorite  int
	)
	if err := row.Scan(&meta.ID, &meta.Name, &createdNs, &updatedNs, &meta.Cwd, &platform, &favorite, &meta.ParentID); err != nil {
		return nil, err
	}
	meta.CreatedAt = time.Unix(0, createdNs).UTC()
	if updatedNs.Valid {
		ts := time.Unix(0, updatedNs.Int64).UTC()
		meta.UpdatedAt = &ts
	}
	meta.Platform = types.Platform(platform)
	meta.Favorite = favorite != 0
	return &meta, nil
}

func (s *sqliteSessionMetaStore) List(ctx context.Context) ([]*types.SessionMeta, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := make([]*types.SessionMeta, 0)
	for rows.Next() {
		meta, err := scanSessionMeta(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortSessionMetas(out)
	return out, nil
}

func (s *sqliteSessionMetaStore) Get(ctx context.Context, sessionID string) (*types.SessionMeta, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, sessionID)
	meta, err := scanSessionMeta(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	return meta, true, nil
}

func (s *sqliteSessionMetaStore) Upsert(ctx context.Context, meta *types.SessionMeta) (*types.SessionMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if meta == nil || strings.TrimSpace(meta.ID) == "" {
		return nil, errSessionMetaMissingID
	}
	existing, _, err := s.Get(ctx, strings.TrimSpace(meta.ID))
	if err != nil {
		return nil, err
	}
	normalized := normalizeSessionMeta(meta, existing, s.now())

	var updatedNs sql.NullInt64
	if normalized.UpdatedAt != nil {
		updatedNs = sql.NullInt64{Int64: normalized.UpdatedAt.UnixNano(), Valid: true}
	}
	favorite := 0
	if normalized.Favorite {
		favorite = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			created_at_ns = excluded.created_at_ns,
			updated_at_ns = excluded.updated_at_ns,
			cwd = excluded.cwd,
			platform = excluded.platform,
			favorite = excluded.favorite,
			parent_id = excluded.parent_id`,
		normalized.ID, normalized.Name, normalized.CreatedAt.UnixNano(), updatedNs,
		normalized.Cwd, string(normalized.Platform), favorite, normalized.ParentID,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert session %s: %w", normalized.ID, err)
	}
	return types.CloneSessionMeta(normalized), nil
}

func (s *sqliteSessionMetaStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrSessionMetaNotFound
	}
	return nil
}

type sqliteScreenPositionStore struct {
	db *sql.DB
}

func (s *sqliteScreenPositionStore) List(ctx context.Context, sessionID string) ([]types.ScreenPosition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT design_id, x, y FROM screen_positions WHERE session_id = ? ORDER BY design_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list screen positions: %w", err)
	}
	defer rows.Close()

	out := make([]types.ScreenPosition, 0)
	for rows.Next() {
		var position types.ScreenPosition
		if err := rows.Scan(&position.ID, &position.X, &position.Y); err != nil {
			return nil, err
		}
		out = append(out, position)
	}
	return out, rows.Err()
}

func (s *sqliteScreenPositionStore) Upsert(ctx context.Context, sessionID string, position types.ScreenPosition) error {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(position.ID) == "" {
		return errScreenPositionMissingID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO screen_positions (session_id, design_id, x, y) VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, design_id) DO UPDATE SET x = excluded.x, y = excluded.y`,
		sessionID, position.ID, position.X, position.Y)
	if err != nil {
		return fmt.Errorf("upsert screen position %s/%s: %w", sessionID, position.ID, err)
	}
	return nil
}

func (s *sqliteScreenPositionStore) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM screen_positions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete screen positions %s: %w", sessionID, err)
	}
	return nil
}
