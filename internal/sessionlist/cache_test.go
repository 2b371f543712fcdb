package sessionlist

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dilag/internal/logging"
	"dilag/internal/types"
)

type fakeLister struct {
	mu       sync.Mutex
	sessions []*types.SessionMeta
	err      error
	calls    atomic.Int32
	gate     chan struct{}
}

func (f *fakeLister) List(ctx context.Context) ([]*types.SessionMeta, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return cloneMetas(f.sessions), nil
}

func (f *fakeLister) set(sessions ...*types.SessionMeta) {
	f.mu.Lock()
	f.sessions = sessions
	f.mu.Unlock()
}

func meta(id string, created int64, favorite bool) *types.SessionMeta {
	return &types.SessionMeta{ID: id, Name: id, CreatedAt: time.Unix(created, 0).UTC(), Favorite: favorite}
}

func ids(sessions []*types.SessionMeta) []string {
	out := make([]string, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.ID)
	}
	return out
}

func TestSessionsSortedFavoritesFirst(t *testing.T) {
	lister := &fakeLister{}
	lister.set(meta("old", 1, false), meta("fav", 2, true), meta("new", 3, false))
	cache := New(lister, logging.Nop())

	sessions, err := cache.Sessions(context.Background())
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	got := ids(sessions)
	want := []string{"fav", "new", "old"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if _, err := cache.Sessions(context.Background()); err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if calls := lister.calls.Load(); calls != 1 {
		t.Fatalf("expected cached result, got %d loads", calls)
	}
	if cache.Snapshot().FetchedAt.IsZero() {
		t.Fatalf("expected fetchedAt to be set")
	}
}

func TestConcurrentLoadsShareOneRead(t *testing.T) {
	lister := &fakeLister{gate: make(chan struct{})}
	lister.set(meta("a", 1, false))
	cache := New(lister, logging.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.Load(context.Background()); err != nil {
				t.Errorf("Load: %v", err)
			}
		}()
	}
	deadline := time.After(2 * time.Second)
	for lister.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for load")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	time.Sleep(20 * time.Millisecond)
	close(lister.gate)
	wg.Wait()
	if calls := lister.calls.Load(); calls != 1 {
		t.Fatalf("expected one shared read, got %d", calls)
	}
}

func TestLoadAfterInvalidateDoesNotJoinOlderRead(t *testing.T) {
	lister := &fakeLister{gate: make(chan struct{})}
	cache := New(lister, logging.Nop())

	first := make(chan []*types.SessionMeta, 1)
	go func() {
		sessions, err := cache.Load(context.Background())
		if err != nil {
			t.Errorf("first Load: %v", err)
		}
		first <- sessions
	}()
	waitCalls(t, lister, 1)

	lister.set(meta("new", 1, false))
	cache.Invalidate()
	second := make(chan []*types.SessionMeta, 1)
	go func() {
		sessions, err := cache.Load(context.Background())
		if err != nil {
			t.Errorf("second Load: %v", err)
		}
		second <- sessions
	}()
	waitCalls(t, lister, 2)
	close(lister.gate)

	if got := ids(<-second); len(got) != 1 || got[0] != "new" {
		t.Fatalf("expected fresh list after invalidate, got %v", got)
	}
	<-first
	sessions, err := cache.Sessions(context.Background())
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if got := ids(sessions); len(got) != 1 || got[0] != "new" {
		t.Fatalf("expected cached fresh list, got %v", got)
	}
}

func waitCalls(t *testing.T, lister *fakeLister, want int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for lister.calls.Load() < want {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d list calls", want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestInvalidateRefetchesForSubscribers(t *testing.T) {
	lister := &fakeLister{}
	lister.set(meta("a", 1, false))
	cache := New(lister, logging.Nop())
	if _, err := cache.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	snaps := make(chan Snapshot, 8)
	unsubscribe := cache.Subscribe(func(s Snapshot) { snaps <- s })
	defer unsubscribe()

	lister.set(meta("a", 1, false), meta("b", 2, false))
	cache.Invalidate()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-snaps:
			if !snap.Loading && len(snap.Sessions) == 2 {
				if snap.Sessions[0].ID != "b" {
					t.Fatalf("expected newest first, got %v", ids(snap.Sessions))
				}
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for refetch")
		}
	}
}

func TestInvalidateWithoutSubscribersIsLazy(t *testing.T) {
	lister := &fakeLister{}
	lister.set(meta("a", 1, false))
	cache := New(lister, logging.Nop())
	if _, err := cache.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	cache.Invalidate()
	if calls := lister.calls.Load(); calls != 1 {
		t.Fatalf("expected no background load, got %d", calls)
	}
	lister.set(meta("b", 2, false))
	sessions, err := cache.Sessions(context.Background())
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "b" {
		t.Fatalf("expected reload after invalidate, got %v", ids(sessions))
	}
}

func TestLoadErrorKeepsPreviousList(t *testing.T) {
	lister := &fakeLister{}
	lister.set(meta("a", 1, false))
	cache := New(lister, logging.Nop())
	if _, err := cache.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	lister.mu.Lock()
	lister.err = errors.New("disk gone")
	lister.mu.Unlock()
	if _, err := cache.Load(context.Background()); err == nil {
		t.Fatalf("expected load error")
	}
	snap := cache.Snapshot()
	if snap.Err == nil || len(snap.Sessions) != 1 {
		t.Fatalf("unexpected snapshot: %#v", snap)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	lister := &fakeLister{}
	lister.set(meta("a", 1, false))
	cache := New(lister, logging.Nop())
	sessions, err := cache.Sessions(context.Background())
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	sessions[0].Name = "mutated"
	if got := cache.Snapshot().Sessions[0].Name; got != "a" {
		t.Fatalf("expected cache unaffected, got %q", got)
	}
}
