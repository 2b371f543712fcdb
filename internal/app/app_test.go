package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"dilag/internal/config"
	"dilag/internal/store"
	"dilag/internal/types"
)

type fakeRuntime struct {
	mu       sync.Mutex
	sessions map[string]string
	prompts  int
	events   chan string
}

func newFakeRuntime(t *testing.T) (*fakeRuntime, *httptest.Server) {
	t.Helper()
	rt := &fakeRuntime{sessions: map[string]string{}, events: make(chan string, 8)}
	server := httptest.NewServer(http.HandlerFunc(rt.serveHTTP))
	t.Cleanup(server.Close)
	return rt, server
}

func (f *fakeRuntime) serveHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON := func(v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	if r.URL.Path == "/event" {
		f.serveEvents(w, r)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/session":
		id := fmt.Sprintf("ses_%d", len(f.sessions)+1)
		f.sessions[id] = r.URL.Query().Get("directory")
		writeJSON(map[string]any{"id": id, "title": "x", "directory": f.sessions[id]})
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/prompt_async"):
		f.prompts++
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/session/"):
		delete(f.sessions, strings.TrimPrefix(r.URL.Path, "/session/"))
		writeJSON(true)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeRuntime) serveEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	flusher := w.(http.Flusher)
	fmt.Fprint(w, "data: {\"type\":\"server.connected\",\"properties\":{}}\n\n")
	flusher.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case data := <-f.events:
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func testConfig(baseURL, backend string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.OpenCode.BaseURL = baseURL
	cfg.Store.Backend = backend
	cfg.Events.ReconnectInitial = "10ms"
	cfg.Events.ReconnectMax = "20ms"
	return &cfg
}

func TestInitWiresSessionCore(t *testing.T) {
	t.Setenv("DILAG_HOME", t.TempDir())
	rt, server := newFakeRuntime(t)
	ctx := context.Background()

	a, err := Init(ctx, Options{Config: testConfig(server.URL, "file"), LogOutput: io.Discard, Live: true})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer func() {
		if err := a.Teardown(); err != nil {
			t.Fatalf("Teardown: %v", err)
		}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for a.Orchestrator.ConnectionStatus().Status != types.ConnectionConnected {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for event stream")
		}
		time.Sleep(5 * time.Millisecond)
	}

	meta := a.Orchestrator.CreateSession(ctx, "Landing", types.PlatformWeb)
	if meta == nil {
		t.Fatalf("CreateSession failed: %s", a.Orchestrator.Error())
	}
	sessionsDir, _ := config.SessionsDir()
	if !strings.HasPrefix(meta.Cwd, sessionsDir) {
		t.Fatalf("expected cwd under %s, got %s", sessionsDir, meta.Cwd)
	}

	rt.events <- fmt.Sprintf(`{"type":"session.status","properties":{"sessionID":%q,"status":{"type":"busy"}}}`, meta.ID)
	for a.Orchestrator.SessionStatus(meta.ID) != types.SessionBusy {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for status event")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if !a.Orchestrator.SendMessage(ctx, "Hello", nil) {
		t.Fatalf("SendMessage failed: %s", a.Orchestrator.Error())
	}
	if phase := a.Orchestrator.WaitSent(ctx, meta.ID); phase != types.SendConfirmed {
		t.Fatalf("expected confirmed, got %q (%s)", phase, a.Orchestrator.Error())
	}
	if !a.Orchestrator.DeleteSession(ctx, meta.ID) {
		t.Fatalf("DeleteSession failed: %s", a.Orchestrator.Error())
	}
	rt.mu.Lock()
	remaining := len(rt.sessions)
	rt.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected remote session deleted, %d left", remaining)
	}
}

func TestInitSeedsDatabaseBackends(t *testing.T) {
	home := t.TempDir()
	t.Setenv("DILAG_HOME", home)
	_, server := newFakeRuntime(t)
	ctx := context.Background()

	legacy := `{"sessions":[{"id":"ses_old","name":"Old","created_at":"2025-01-02T03:04:05Z","cwd":"/tmp/old"}]}`
	if err := os.WriteFile(filepath.Join(home, "sessions.json"), []byte(legacy), 0o600); err != nil {
		t.Fatalf("write sessions.json: %v", err)
	}

	for _, backend := range []string{store.RepositoryBackendBbolt, store.RepositoryBackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			a, err := Init(ctx, Options{Config: testConfig(server.URL, backend), LogOutput: io.Discard})
			if err != nil {
				t.Fatalf("Init: %v", err)
			}
			defer a.Teardown()
			if got := a.Repo.Backend(); got != backend {
				t.Fatalf("expected %s backend, got %s", backend, got)
			}
			sessions := a.Orchestrator.Sessions(ctx)
			if len(sessions) != 1 || sessions[0].ID != "ses_old" {
				t.Fatalf("expected seeded session, got %#v", sessions)
			}
		})
	}
}

func TestInitWritesLogFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("DILAG_HOME", home)
	_, server := newFakeRuntime(t)
	ctx := context.Background()

	cfg := testConfig(server.URL, "file")
	cfg.Logging.Level = "debug"
	cfg.Logging.File = "logs/dilag.log"
	a, err := Init(ctx, Options{Config: cfg})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if meta := a.Orchestrator.CreateSession(ctx, "Logged", types.PlatformWeb); meta == nil {
		t.Fatalf("CreateSession failed: %s", a.Orchestrator.Error())
	}
	if err := a.Teardown(); err != nil {
		t.Fatalf("Teardown: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(home, "logs", "dilag.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "msg=session_created") || !strings.Contains(text, "request_id=") {
		t.Fatalf("expected tagged session_created line, got:\n%s", text)
	}
}

func TestServerStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.json")
	if _, ok, err := ReadServerState(path); err != nil || ok {
		t.Fatalf("expected no state: ok=%v err=%v", ok, err)
	}
	want := ServerState{PID: 42, BaseURL: "http://127.0.0.1:4096", StartedAt: time.Unix(100, 0).UTC()}
	if err := WriteServerState(path, want); err != nil {
		t.Fatalf("WriteServerState: %v", err)
	}
	got, ok, err := ReadServerState(path)
	if err != nil || !ok {
		t.Fatalf("ReadServerState: ok=%v err=%v", ok, err)
	}
	if got.PID != want.PID || got.BaseURL != want.BaseURL || !got.StartedAt.Equal(want.StartedAt) {
		t.Fatalf("unexpected state: %#v", got)
	}
	if err := RemoveServerState(path); err != nil {
		t.Fatalf("RemoveServerState: %v", err)
	}
	if err := RemoveServerState(path); err != nil {
		t.Fatalf("RemoveServerState twice: %v", err)
	}
}
