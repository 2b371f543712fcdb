// Package sessionlist caches the local session list and deduplicates
// concurrent loads.
package sessionlist

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"dilag/internal/logging"
	"dilag/internal/types"
)

// Lister is the subset of store.SessionMetaStore the cache reads from.
type Lister interface {
	List(ctx context.Context) ([]*types.SessionMeta, error)
}

type Snapshot struct {
	Sessions  []*types.SessionMeta
	Loading   bool
	Err       error
	FetchedAt time.Time
}

type Cache struct {
	lister Lister
	logger logging.Logger
	group  singleflight.Group
	now    func() time.Time

	mu        sync.Mutex
	sessions  []*types.SessionMeta
	loaded    bool
	loading   bool
	err       error
	fetchedAt time.Time
	gen       uint64
	listeners map[int]func(Snapshot)
	nextID    int
}

func New(lister Lister, logger logging.Logger) *Cache {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Cache{
		lister:    lister,
		logger:    logger,
		now:       time.Now,
		listeners: map[int]func(Snapshot){},
	}
}

func (c *Cache) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Cache) snapshotLocked() Snapshot {
	return Snapshot{
		Sessions:  cloneMetas(c.sessions),
		Loading:   c.loading,
		Err:       c.err,
		FetchedAt: c.fetchedAt,
	}
}

// Sessions returns the cached list, loading it first when the cache is
// empty or invalidated.
func (c *Cache) Sessions(ctx context.Context) ([]*types.SessionMeta, error) {
	c.mu.Lock()
	if c.loaded {
		out := cloneMetas(c.sessions)
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()
	return c.Load(ctx)
}

// Load fetches the list from the store. Concurrent callers of the same
// generation share one read; a load begun after Invalidate never joins an
// older one.
func (c *Cache) Load(ctx context.Context) ([]*types.SessionMeta, error) {
	c.mu.Lock()
	gen := c.gen
	c.loading = true
	c.mu.Unlock()

	value, err, _ := c.group.Do(strconv.FormatUint(gen, 10), func() (any, error) {
		return c.lister.List(ctx)
	})
	var sessions []*types.SessionMeta
	if err == nil {
		sessions, _ = value.([]*types.SessionMeta)
		sessions = cloneMetas(sessions)
		sortSessions(sessions)
	}

	c.mu.Lock()
	c.loading = false
	if err != nil {
		c.err = err
	} else if gen == c.gen {
		c.sessions = sessions
		c.loaded = true
		c.err = nil
		c.fetchedAt = c.now()
	}
	snap := c.snapshotLocked()
	listeners := c.listenersLocked()
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("session_list_load_failed", logging.Err(err))
	}
	for _, fn := range listeners {
		fn(snap)
	}
	if err != nil {
		return nil, err
	}
	return cloneMetas(sessions), nil
}

// Invalidate marks the cache stale. When anyone is subscribed the list is
// refetched in the background.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.gen++
	c.loaded = false
	hasListeners := len(c.listeners) > 0
	snap := c.snapshotLocked()
	listeners := c.listenersLocked()
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
	if hasListeners {
		go func() {
			if _, err := c.Load(context.Background()); err != nil {
				c.logger.Debug("session_list_refetch_failed", logging.Err(err))
			}
		}()
	}
}

// Subscribe calls fn with a fresh snapshot after every load and
// invalidation.
func (c *Cache) Subscribe(fn func(Snapshot)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Cache) listenersLocked() []func(Snapshot) {
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(Snapshot), 0, len(ids))
	for _, id := range ids {
		out = append(out, c.listeners[id])
	}
	return out
}

// sortSessions pins favorites, then orders by creation time, newest first.
func sortSessions(sessions []*types.SessionMeta) {
	sort.SliceStable(sessions, func(i, j int) bool {
		a, b := sessions[i], sessions[j]
		if a.Favorite != b.Favorite {
			return a.Favorite
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func cloneMetas(in []*types.SessionMeta) []*types.SessionMeta {
	if in == nil {
		return nil
	}
	out := make([]*types.SessionMeta, 0, len(in))
	for _, meta := range in {
		if meta == nil {
			continue
		}
		out = append(out, types.CloneSessionMeta(meta))
	}
	return out
}
