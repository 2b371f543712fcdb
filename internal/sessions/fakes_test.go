package sessions

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"dilag/internal/logging"
	"dilag/internal/opencode"
	"dilag/internal/store"
	"dilag/internal/types"
	"dilag/internal/workspace"
)

type promptCall struct {
	SessionID string
	Directory string
	Request   opencode.PromptRequest
}

type fakeSDK struct {
	mu       sync.Mutex
	nextID   int
	sessions map[string]*types.SessionInfo
	history  map[string][]types.MessageWithParts
	prompts  []promptCall
	deleted  []string
	aborted  []string
	replied  []string
	rejected []string
	msgCalls map[string]int

	promptGate   chan struct{}
	messagesGate map[string]chan struct{}

	createErr  error
	promptErr  error
	deleteErr  error
	abortErr   error
	replyErr   error
	revertErr  error
	getErr     error
	historyErr error
}

func newFakeSDK() *fakeSDK {
	return &fakeSDK{
		sessions:     map[string]*types.SessionInfo{},
		history:      map[string][]types.MessageWithParts{},
		msgCalls:     map[string]int{},
		messagesGate: map[string]chan struct{}{},
	}
}

func (f *fakeSDK) newSession(title, directory, parentID string) *types.SessionInfo {
	f.nextID++
	info := &types.SessionInfo{
		ID:        fmt.Sprintf("ses_%03d", f.nextID),
		Title:     title,
		Directory: directory,
		ParentID:  parentID,
	}
	f.sessions[info.ID] = info
	return info
}

func (f *fakeSDK) CreateSession(ctx context.Context, title, directory string) (*types.SessionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.newSession(title, directory, ""), nil
}

func (f *fakeSDK) GetSession(ctx context.Context, sessionID, directory string) (*types.SessionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	info, ok := f.sessions[sessionID]
	if !ok {
		return nil, &opencode.RequestError{Method: "GET", Path: "/session/" + sessionID, StatusCode: 404, Message: "not found"}
	}
	clone := *info
	return &clone, nil
}

func (f *fakeSDK) SessionMessages(ctx context.Context, sessionID, directory string) ([]types.MessageWithParts, error) {
	f.mu.Lock()
	f.msgCalls[sessionID]++
	gate := f.messagesGate[sessionID]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	if _, ok := f.sessions[sessionID]; !ok {
		return nil, &opencode.RequestError{Method: "GET", Path: "/session/" + sessionID + "/message", StatusCode: 404, Message: "not found"}
	}
	return append([]types.MessageWithParts(nil), f.history[sessionID]...), nil
}

func (f *fakeSDK) messageCalls(sessionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.msgCalls[sessionID]
}

func (f *fakeSDK) PromptAsync(ctx context.Context, sessionID, directory string, req opencode.PromptRequest) error {
	f.mu.Lock()
	gate := f.promptGate
	f.prompts = append(f.prompts, promptCall{SessionID: sessionID, Directory: directory, Request: req})
	err := f.promptErr
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeSDK) promptCalls() []promptCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]promptCall(nil), f.prompts...)
}

func (f *fakeSDK) DeleteSession(ctx context.Context, sessionID, directory string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, sessionID)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.sessions, sessionID)
	return nil
}

func (f *fakeSDK) AbortSession(ctx context.Context, sessionID, directory string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = append(f.aborted, sessionID)
	return f.abortErr
}

func (f *fakeSDK) ForkSession(ctx context.Context, sessionID, directory, messageID string) (*types.SessionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parent, ok := f.sessions[sessionID]
	if !ok {
		return nil, &opencode.RequestError{Method: "POST", Path: "/session/" + sessionID + "/fork", StatusCode: 404}
	}
	info := f.newSession(parent.Title, directory, sessionID)
	for _, message := range f.history[sessionID] {
		f.history[info.ID] = append(f.history[info.ID], message)
		if message.Info.ID == messageID {
			break
		}
	}
	return info, nil
}

func (f *fakeSDK) RevertSession(ctx context.Context, sessionID, directory, messageID string) (*types.SessionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.revertErr != nil {
		return nil, f.revertErr
	}
	info := f.sessions[sessionID]
	info.Revert = &types.RevertInfo{MessageID: messageID}
	clone := *info
	return &clone, nil
}

func (f *fakeSDK) UnrevertSession(ctx context.Context, sessionID, directory string) (*types.SessionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.revertErr != nil {
		return nil, f.revertErr
	}
	info := f.sessions[sessionID]
	info.Revert = nil
	clone := *info
	return &clone, nil
}

func (f *fakeSDK) UpdateSessionTitle(ctx context.Context, sessionID, directory, title string) (*types.SessionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.sessions[sessionID]
	if !ok {
		return nil, errors.New("missing session")
	}
	info.Title = title
	clone := *info
	return &clone, nil
}

func (f *fakeSDK) ReplyQuestion(ctx context.Context, requestID string, answers [][]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replied = append(f.replied, requestID)
	return f.replyErr
}

func (f *fakeSDK) RejectQuestion(ctx context.Context, requestID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected = append(f.rejected, requestID)
	return nil
}

type fakeEvents struct {
	mu        sync.Mutex
	state     types.ConnectionState
	listeners []func(types.ConnectionState)
	stream    chan types.Event
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{
		state:  types.ConnectionState{Status: types.ConnectionConnecting},
		stream: make(chan types.Event, 16),
	}
}

func (f *fakeEvents) State() types.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeEvents) OnStatus(fn func(types.ConnectionState)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
	return func() {}
}

func (f *fakeEvents) Subscribe() (<-chan types.Event, func()) {
	return f.stream, func() {}
}

func (f *fakeEvents) emit(status types.ConnectionStatus) {
	f.mu.Lock()
	f.state = types.ConnectionState{Status: status}
	listeners := append([]func(types.ConnectionState){}, f.listeners...)
	state := f.state
	f.mu.Unlock()
	for _, fn := range listeners {
		fn(state)
	}
}

type harness struct {
	orch      *Orchestrator
	sdk       *fakeSDK
	events    *fakeEvents
	repo      store.Repository
	workspace *workspace.Workspace
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newLoggedHarness(t, logging.Nop())
}

func newLoggedHarness(t *testing.T, logger logging.Logger) *harness {
	t.Helper()
	base := t.TempDir()
	repo := store.NewFileRepository(store.RepositoryPaths{
		SessionMetaPath:     filepath.Join(base, "sessions.json"),
		ScreenPositionsPath: filepath.Join(base, "screen_positions.json"),
	})
	ws := workspace.New(filepath.Join(base, "sessions"))
	sdk := newFakeSDK()
	events := newFakeEvents()
	orch := New(Dependencies{
		SDK:       sdk,
		Repo:      repo,
		Workspace: ws,
		Events:    events,
	}, Config{Logger: logger})
	if err := orch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		orch.Close()
		_ = repo.Close()
	})
	return &harness{orch: orch, sdk: sdk, events: events, repo: repo, workspace: ws}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Split(strings.TrimSpace(b.buf.String()), "\n")
}
