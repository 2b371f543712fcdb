package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/x/ansi"

	"dilag/internal/app"
	"dilag/internal/config"
	"dilag/internal/opencode"
	"dilag/internal/sessions"
	"dilag/internal/types"
)

func TestSessionsCommandPrintsTable(t *testing.T) {
	core := newFakeCore(
		&types.SessionMeta{ID: "ses_2", Name: "Checkout", CreatedAt: time.Now().Add(-time.Hour), Favorite: true},
		&types.SessionMeta{ID: "ses_1", Name: "Landing", CreatedAt: time.Now().Add(-2 * time.Hour), Platform: types.PlatformMobile},
	)
	core.status["ses_1"] = types.SessionRunning
	stdout, err := runCLI(t, core, "sessions")
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	plain := ansi.Strip(stdout)
	lines := strings.Split(strings.TrimSpace(plain), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and two rows, got %q", plain)
	}
	if !strings.Contains(lines[0], "ID") || !strings.Contains(lines[0], "STATUS") {
		t.Fatalf("unexpected header %q", lines[0])
	}
	if !strings.Contains(lines[1], "ses_2") || !strings.Contains(lines[1], "★ Checkout") {
		t.Fatalf("expected favorite row first, got %q", lines[1])
	}
	if !strings.Contains(lines[2], "running") || !strings.Contains(lines[2], "mobile") {
		t.Fatalf("expected running mobile row, got %q", lines[2])
	}
	if !core.closed {
		t.Fatalf("expected core to be closed")
	}
}

func TestSessionsCommandStructuredFormats(t *testing.T) {
	core := newFakeCore(&types.SessionMeta{ID: "ses_1", Name: "Landing", CreatedAt: time.Unix(100, 0).UTC()})
	stdout, err := runCLI(t, core, "sessions", "--format", "json")
	if err != nil {
		t.Fatalf("sessions json: %v", err)
	}
	var decoded []types.SessionMeta
	if err := json.Unmarshal([]byte(stdout), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != 1 || decoded[0].Name != "Landing" {
		t.Fatalf("unexpected json output %q", stdout)
	}

	stdout, err = runCLI(t, newFakeCore(&types.SessionMeta{ID: "ses_1", Name: "Landing"}), "sessions", "--format", "yaml")
	if err != nil {
		t.Fatalf("sessions yaml: %v", err)
	}
	if !strings.Contains(stdout, "name: Landing") || !strings.Contains(stdout, "id: ses_1") {
		t.Fatalf("unexpected yaml output %q", stdout)
	}

	if _, err := runCLI(t, newFakeCore(), "sessions", "--format", "xml"); err == nil {
		t.Fatalf("expected invalid format error")
	}
}

func TestNewCommandCreatesSession(t *testing.T) {
	core := newFakeCore()
	stdout, err := runCLI(t, core, "new", "Landing", "--platform", "mobile")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if len(core.created) != 1 {
		t.Fatalf("expected one create, got %d", len(core.created))
	}
	if core.created[0].Name != "Landing" || core.created[0].Platform != types.PlatformMobile {
		t.Fatalf("unexpected create %+v", core.created[0])
	}
	if strings.TrimSpace(stdout) != core.created[0].ID {
		t.Fatalf("expected id output, got %q", stdout)
	}
}

func TestNewCommandDefaultsAndValidation(t *testing.T) {
	core := newFakeCore()
	if _, err := runCLI(t, core, "new"); err != nil {
		t.Fatalf("new: %v", err)
	}
	if core.created[0].Name != sessions.DefaultSessionName || core.created[0].Platform != types.PlatformWeb {
		t.Fatalf("unexpected defaults %+v", core.created[0])
	}
	if _, err := runCLI(t, newFakeCore(), "new", "x", "--platform", "desktop"); err == nil {
		t.Fatalf("expected platform validation error")
	}

	failing := newFakeCore()
	failing.createErr = "create session: runtime down"
	_, err := runCLI(t, failing, "new", "x")
	if err == nil || !strings.Contains(err.Error(), "runtime down") {
		t.Fatalf("expected core error, got %v", err)
	}
}

func TestSendCommandAttachesFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "home.html")
	if err := os.WriteFile(path, []byte("<h1>Hi</h1>"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	core := newFakeCore(&types.SessionMeta{ID: "ses_1", Name: "Landing"})
	stdout, err := runCLI(t, core, "send", "ses_1", "make", "it", "blue", "--file", path)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if strings.TrimSpace(stdout) != "sent" {
		t.Fatalf("unexpected output %q", stdout)
	}
	if core.selected != "ses_1" {
		t.Fatalf("expected ses_1 selected, got %q", core.selected)
	}
	if len(core.sent) != 1 || core.sent[0].content != "make it blue" {
		t.Fatalf("unexpected sends %+v", core.sent)
	}
	files := core.sent[0].files
	if len(files) != 1 || files[0].Filename != "home.html" || files[0].Mime != "text/html" {
		t.Fatalf("unexpected attachments %+v", files)
	}
	if !strings.HasPrefix(files[0].URL, "data:text/html;base64,") {
		t.Fatalf("expected data url, got %q", files[0].URL)
	}
	if core.live {
		t.Fatalf("send without --wait should not subscribe to events")
	}
}

func TestSendCommandSurfacesDispatchFailure(t *testing.T) {
	core := newFakeCore(&types.SessionMeta{ID: "ses_1"})
	core.phase = types.SendFailed
	core.lastError = "send message: provider rejected prompt"
	_, err := runCLI(t, core, "send", "ses_1", "hello")
	if err == nil || !strings.Contains(err.Error(), "provider rejected prompt") {
		t.Fatalf("expected dispatch error, got %v", err)
	}
}

func TestSendCommandWaitPrintsReply(t *testing.T) {
	core := newFakeCore(&types.SessionMeta{ID: "ses_1"})
	core.messages = []types.MessageWithParts{textMessage("msg_1", types.RoleUser, "earlier prompt")}
	core.reply = []types.MessageWithParts{textMessage("msg_2", types.RoleAssistant, "hello there")}
	stdout, err := runCLI(t, core, "send", "ses_1", "hi", "--wait")
	if err != nil {
		t.Fatalf("send --wait: %v", err)
	}
	if !core.live {
		t.Fatalf("expected live core for --wait")
	}
	plain := ansi.Strip(stdout)
	if !strings.Contains(plain, "hello there") {
		t.Fatalf("expected reply in output, got %q", plain)
	}
	if strings.Contains(plain, "earlier prompt") {
		t.Fatalf("history should not be reprinted, got %q", plain)
	}
}

func TestCommandsRejectUnknownSession(t *testing.T) {
	for _, args := range [][]string{
		{"show", "ses_missing"},
		{"stop", "ses_missing"},
		{"fork", "ses_missing"},
		{"revert", "ses_missing", "msg_1"},
		{"designs", "ses_missing"},
	} {
		_, err := runCLI(t, newFakeCore(), args...)
		if err == nil || !strings.Contains(err.Error(), "not found") {
			t.Fatalf("%s: expected not found, got %v", args[0], err)
		}
	}
}

func TestShowCommandRendersVisibleMessages(t *testing.T) {
	core := newFakeCore(&types.SessionMeta{ID: "ses_1"})
	tool := types.ToolPart{
		PartBase: types.PartBase{ID: "prt_tool", MessageID: "msg_2", SessionID: "ses_1", Type: types.PartTool},
		Tool:     "write",
		State:    types.ToolState{Status: types.ToolError, Error: types.ToolAbortedMessage},
	}
	reply := textMessage("msg_2", types.RoleAssistant, "done")
	reply.Parts = append(reply.Parts, tool)
	core.messages = []types.MessageWithParts{textMessage("msg_1", types.RoleUser, "build a page"), reply}
	stdout, err := runCLI(t, core, "show", "ses_1")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	plain := ansi.Strip(stdout)
	for _, want := range []string{"user", "build a page", "assistant", "done", "write", types.ToolAbortedMessage} {
		if !strings.Contains(plain, want) {
			t.Fatalf("expected %q in output %q", want, plain)
		}
	}
}

func TestLifecycleCommands(t *testing.T) {
	core := newFakeCore(&types.SessionMeta{ID: "ses_1", Name: "Landing"})
	if _, err := runCLI(t, core, "stop", "ses_1"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if core.stopped != 1 {
		t.Fatalf("expected stop, got %d", core.stopped)
	}
	if _, err := runCLI(t, core, "revert", "ses_1", "msg_3"); err != nil {
		t.Fatalf("revert: %v", err)
	}
	if core.revertedTo != "msg_3" {
		t.Fatalf("expected revert to msg_3, got %q", core.revertedTo)
	}
	if _, err := runCLI(t, core, "unrevert", "ses_1"); err != nil {
		t.Fatalf("unrevert: %v", err)
	}
	if core.revertedTo != "" {
		t.Fatalf("expected unrevert to clear marker")
	}
	if _, err := runCLI(t, core, "rename", "ses_1", "Pricing"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	stdout, err := runCLI(t, core, "favorite", "ses_1")
	if err != nil {
		t.Fatalf("favorite: %v", err)
	}
	if strings.TrimSpace(stdout) != "favorited ses_1" {
		t.Fatalf("unexpected favorite output %q", stdout)
	}
	if got := core.metas["ses_1"]; got.Name != "Pricing" || !got.Favorite {
		t.Fatalf("unexpected meta %+v", got)
	}
	if _, err := runCLI(t, core, "delete", "ses_1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := core.metas["ses_1"]; ok {
		t.Fatalf("expected session deleted")
	}
	_, err = runCLI(t, core, "delete", "ses_1")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected delete error, got %v", err)
	}
}

func TestForkCommandModes(t *testing.T) {
	core := newFakeCore(&types.SessionMeta{ID: "ses_1", Name: "Landing"})
	stdout, err := runCLI(t, core, "fork", "ses_1", "--message", "msg_2")
	if err != nil {
		t.Fatalf("fork: %v", err)
	}
	if core.forkedAt != "msg_2" || strings.TrimSpace(stdout) == "" {
		t.Fatalf("unexpected fork state %q / %q", core.forkedAt, stdout)
	}
	if _, err := runCLI(t, core, "fork", "ses_1", "--designs-only"); err != nil {
		t.Fatalf("fork designs: %v", err)
	}
	if core.designForks != 1 {
		t.Fatalf("expected designs-only fork, got %d", core.designForks)
	}
	if _, err := runCLI(t, core, "fork", "ses_1", "--designs-only", "--message", "msg_2"); err == nil {
		t.Fatalf("expected mutually exclusive flag error")
	}
}

func TestDesignsCommand(t *testing.T) {
	core := newFakeCore(&types.SessionMeta{ID: "ses_1"})
	core.designs = []types.DesignFile{
		{Filename: "home.html", Title: "Home", ScreenType: "web", HTML: "<h1>Home</h1>", ModifiedAt: time.Now().Unix()},
	}
	stdout, err := runCLI(t, core, "designs", "ses_1")
	if err != nil {
		t.Fatalf("designs: %v", err)
	}
	if plain := ansi.Strip(stdout); !strings.Contains(plain, "home.html") || !strings.Contains(plain, "Home") {
		t.Fatalf("unexpected listing %q", plain)
	}

	stdout, err = runCLI(t, core, "designs", "ses_1", "--show", "home.html")
	if err != nil {
		t.Fatalf("designs --show: %v", err)
	}
	if plain := ansi.Strip(stdout); !strings.Contains(plain, "<h1>Home</h1>") {
		t.Fatalf("unexpected highlighted html %q", plain)
	}

	stdout, err = runCLI(t, core, "designs", "ses_1", "--show", "home.html", "--plain")
	if err != nil {
		t.Fatalf("designs --plain: %v", err)
	}
	if stdout != "<h1>Home</h1>\n" {
		t.Fatalf("unexpected plain html %q", stdout)
	}

	var copied string
	wiring := testWiring(core)
	wiring.clipboard = func(text string) (string, error) {
		copied = text
		return clipboardMethodOSC52, nil
	}
	stdout, err = runWiring(t, wiring, "designs", "ses_1", "--copy", "home.html")
	if err != nil {
		t.Fatalf("designs --copy: %v", err)
	}
	if copied != "<h1>Home</h1>" || !strings.Contains(stdout, "OSC52") {
		t.Fatalf("unexpected copy %q / %q", copied, stdout)
	}

	if _, err := runCLI(t, core, "designs", "ses_1", "--show", "missing.html"); err == nil {
		t.Fatalf("expected missing design error")
	}
}

func TestDesignsCommandMovesAndDeletes(t *testing.T) {
	core := newFakeCore(&types.SessionMeta{ID: "ses_1"})
	core.designs = []types.DesignFile{
		{Filename: "home.html", Title: "Home", ScreenType: "web"},
		{Filename: "cart.html", Title: "Cart", ScreenType: "web"},
	}
	core.positions = map[string][]types.ScreenPosition{"ses_1": {{ID: "home.html", X: 40, Y: 40}}}

	stdout, err := runCLI(t, core, "designs", "ses_1", "--move", "home.html", "--x", "600", "--y", "80")
	if err != nil {
		t.Fatalf("designs --move: %v", err)
	}
	if !strings.Contains(stdout, "moved home.html to 600,80") {
		t.Fatalf("unexpected move output %q", stdout)
	}
	if got := core.positions["ses_1"][0]; got.X != 600 || got.Y != 80 {
		t.Fatalf("unexpected position %+v", got)
	}
	if _, err := runCLI(t, core, "designs", "ses_1", "--move", "missing.html"); err == nil {
		t.Fatalf("expected missing design error")
	}

	stdout, err = runCLI(t, core, "designs", "ses_1")
	if err != nil {
		t.Fatalf("designs: %v", err)
	}
	var homeLine, cartLine string
	for _, line := range strings.Split(ansi.Strip(stdout), "\n") {
		switch {
		case strings.HasPrefix(line, "home.html"):
			homeLine = line
		case strings.HasPrefix(line, "cart.html"):
			cartLine = line
		}
	}
	if !strings.Contains(homeLine, "600,80") {
		t.Fatalf("expected home position, got %q", homeLine)
	}
	if !strings.Contains(cartLine, " - ") {
		t.Fatalf("expected unplaced cart, got %q", cartLine)
	}

	if _, err := runCLI(t, core, "designs", "ses_1", "--delete", "cart.html"); err != nil {
		t.Fatalf("designs --delete: %v", err)
	}
	if len(core.deleted) != 1 || core.deleted[0] != "cart.html" {
		t.Fatalf("unexpected deletes %v", core.deleted)
	}
	_, err = runCLI(t, core, "designs", "ses_1", "--delete", "cart.html")
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Fatalf("expected delete failure, got %v", err)
	}
	if _, err := runCLI(t, core, "designs", "ses_1", "--delete", "home.html", "--show", "home.html"); err == nil {
		t.Fatalf("expected exclusive flag error")
	}
}

func TestAnswerQuestions(t *testing.T) {
	core := newFakeCore(&types.SessionMeta{ID: "ses_1"})
	core.questions = []types.PendingQuestion{
		{ID: "que_other", SessionID: "ses_2", Questions: []types.Question{{Question: "Other?"}}},
		{ID: "que_1", SessionID: "ses_1", Questions: []types.Question{
			{Question: "Theme?", Options: []types.QuestionOption{{Label: "Light"}, {Label: "Dark"}}},
			{Question: "Pages?", Multiple: true, Options: []types.QuestionOption{{Label: "Home"}, {Label: "Cart"}}},
		}},
		{ID: "que_2", SessionID: "ses_1", Questions: []types.Question{{Question: "Ship it?"}}},
		{ID: "que_3", SessionID: "ses_1", Questions: []types.Question{{Question: "Again?"}}},
	}
	in := strings.NewReader("2 | 1, Checkout\n/reject\n\nextra\n")
	out := &bytes.Buffer{}
	if err := answerQuestions(context.Background(), core, "ses_1", in, out); err != nil {
		t.Fatalf("answerQuestions: %v", err)
	}

	got := core.replies["que_1"]
	if len(got) != 2 || len(got[0]) != 1 || got[0][0] != "Dark" {
		t.Fatalf("unexpected first answer %v", got)
	}
	if len(got[1]) != 2 || got[1][0] != "Home" || got[1][1] != "Checkout" {
		t.Fatalf("unexpected second answer %v", got)
	}
	if len(core.rejected) != 2 || core.rejected[0] != "que_2" || core.rejected[1] != "que_3" {
		t.Fatalf("unexpected rejects %v", core.rejected)
	}
	if len(core.questions) != 1 || core.questions[0].ID != "que_other" {
		t.Fatalf("other session's question should remain, got %v", core.questions)
	}
	if !strings.Contains(out.String(), "no pending question") {
		t.Fatalf("expected idle notice, got %q", out.String())
	}
}

func TestParseAnswersPadsMissingFields(t *testing.T) {
	answers := parseAnswers([]types.Question{{Question: "A"}, {Question: "B"}}, "only, one")
	if len(answers) != 2 {
		t.Fatalf("expected 2 answers, got %v", answers)
	}
	if len(answers[0]) != 1 || answers[0][0] != "only, one" {
		t.Fatalf("single choice should keep commas, got %v", answers[0])
	}
	if answers[1] == nil || len(answers[1]) != 0 {
		t.Fatalf("expected empty second answer, got %#v", answers[1])
	}
}

func TestProvidersCommand(t *testing.T) {
	core := newFakeCore()
	core.catalog = &opencode.ProviderCatalog{
		All: []opencode.Provider{
			{ID: "anthropic", Name: "Anthropic", Models: map[string]opencode.Model{"claude": {Name: "Claude"}}},
			{ID: "openai", Name: "OpenAI"},
		},
		Default:   map[string]string{"anthropic": "claude"},
		Connected: []string{"anthropic"},
	}
	stdout, err := runCLI(t, core, "providers", "--models")
	if err != nil {
		t.Fatalf("providers: %v", err)
	}
	plain := ansi.Strip(stdout)
	if !strings.Contains(plain, "claude Claude") {
		t.Fatalf("expected model listing in %q", plain)
	}
	for _, line := range strings.Split(plain, "\n") {
		switch {
		case strings.Contains(line, "anthropic") && !strings.HasPrefix(line, "●"):
			t.Fatalf("expected anthropic connected, got %q", line)
		case strings.Contains(line, "openai") && !strings.HasPrefix(line, "○"):
			t.Fatalf("expected openai disconnected, got %q", line)
		}
	}

	core.providersErr = errors.New("unauthorized")
	if _, err := runCLI(t, core, "providers"); err == nil {
		t.Fatalf("expected providers error")
	}
}

func TestProvidersLoginFlows(t *testing.T) {
	core := newFakeCore()
	core.authMethods = map[string][]opencode.AuthMethod{
		"openai":    {{Type: "api", Label: "API key"}},
		"anthropic": {{Type: "oauth", Label: "Claude Pro"}, {Type: "api", Label: "API key"}},
	}
	stdout, err := runCLI(t, core, "providers", "methods")
	if err != nil {
		t.Fatalf("methods: %v", err)
	}
	plain := ansi.Strip(stdout)
	if !strings.Contains(plain, "Claude Pro") || strings.Index(plain, "anthropic") > strings.Index(plain, "openai") {
		t.Fatalf("unexpected methods %q", plain)
	}

	if _, err := runCLI(t, core, "providers", "login", "openai", "--key", "sk-test"); err != nil {
		t.Fatalf("login key: %v", err)
	}
	if core.apiKeys["openai"] != "sk-test" {
		t.Fatalf("expected key stored, got %v", core.apiKeys)
	}

	core.authorization = &opencode.OAuthAuthorization{URL: "https://auth.example/authorize", Method: "code"}
	stdout, err = runCLI(t, core, "providers", "login", "anthropic")
	if err != nil {
		t.Fatalf("login authorize: %v", err)
	}
	if !strings.Contains(stdout, "https://auth.example/authorize") || !strings.Contains(stdout, "--code") {
		t.Fatalf("unexpected authorize output %q", stdout)
	}
	if len(core.callbacks) != 0 {
		t.Fatalf("code flow should wait for --code, got %v", core.callbacks)
	}
	if _, err := runCLI(t, core, "providers", "login", "anthropic", "--code", "abc"); err != nil {
		t.Fatalf("login code: %v", err)
	}
	if len(core.callbacks) != 1 || core.callbacks[0] != "anthropic/0/abc" {
		t.Fatalf("unexpected callbacks %v", core.callbacks)
	}

	core.authorization = &opencode.OAuthAuthorization{URL: "https://auth.example/device", Method: "auto"}
	if _, err := runCLI(t, core, "providers", "login", "anthropic", "--method", "1"); err != nil {
		t.Fatalf("login auto: %v", err)
	}
	if core.callbacks[1] != "anthropic/1/" {
		t.Fatalf("auto flow should complete immediately, got %v", core.callbacks)
	}
}

func TestConfigCommandFormats(t *testing.T) {
	wiring := testWiring(newFakeCore())
	wiring.loadConfig = func() (config.Config, error) {
		cfg := config.DefaultConfig()
		cfg.Store.Backend = config.StoreBackendSQLite
		return cfg, nil
	}
	stdout, err := runWiring(t, wiring, "config")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if !strings.Contains(stdout, "[session]") || !strings.Contains(stdout, "sqlite") {
		t.Fatalf("unexpected toml %q", stdout)
	}

	stdout, err = runWiring(t, wiring, "config", "--defaults", "--format", "json")
	if err != nil {
		t.Fatalf("config defaults: %v", err)
	}
	var decoded map[string]map[string]any
	if err := json.Unmarshal([]byte(stdout), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["store"]["backend"] != config.StoreBackendFile {
		t.Fatalf("expected default backend, got %v", decoded["store"])
	}
	if decoded["session"]["agent"] != "build" {
		t.Fatalf("expected default agent, got %v", decoded["session"])
	}

	stdout, err = runWiring(t, wiring, "config", "--format", "yaml")
	if err != nil {
		t.Fatalf("config yaml: %v", err)
	}
	if !strings.Contains(stdout, "backend: sqlite") {
		t.Fatalf("unexpected yaml %q", stdout)
	}

	wiring.loadConfig = func() (config.Config, error) { return config.Config{}, errors.New("bad toml") }
	if _, err := runWiring(t, wiring, "config"); err == nil {
		t.Fatalf("expected load error")
	}
}

func TestServerStatusAndStop(t *testing.T) {
	servers := &fakeServerControl{
		state:    app.ServerState{PID: 4242, BaseURL: "http://127.0.0.1:5000", StartedAt: time.Now().Add(-time.Minute)},
		hasState: true,
	}
	wiring := testWiring(newFakeCore())
	wiring.servers = servers

	stdout, err := runWiring(t, wiring, "server", "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	plain := ansi.Strip(stdout)
	if !strings.Contains(plain, "reachable http://127.0.0.1:5000") || !strings.Contains(plain, "pid 4242") {
		t.Fatalf("unexpected status %q", plain)
	}
	if servers.pinged[0] != "http://127.0.0.1:5000" {
		t.Fatalf("expected recorded url pinged, got %v", servers.pinged)
	}

	if _, err := runWiring(t, wiring, "server", "start"); err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected already running error, got %v", err)
	}

	stdout, err = runWiring(t, wiring, "server", "stop")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(servers.terminated) != 1 || servers.terminated[0] != 4242 || servers.hasState {
		t.Fatalf("expected pid terminated and state removed, got %+v", servers)
	}
	if !strings.Contains(stdout, "stopped server pid 4242") {
		t.Fatalf("unexpected stop output %q", stdout)
	}

	stdout, err = runWiring(t, wiring, "server", "stop")
	if err != nil {
		t.Fatalf("stop without state: %v", err)
	}
	if !strings.Contains(stdout, "no recorded server") {
		t.Fatalf("unexpected output %q", stdout)
	}
}

func TestServerRestartStartsAfterStop(t *testing.T) {
	servers := &fakeServerControl{
		state:    app.ServerState{PID: 7, BaseURL: "http://127.0.0.1:5000"},
		hasState: true,
		pingErr: errors.New("connection refused"),
	}
	wiring := testWiring(newFakeCore())
	wiring.servers = servers
	stdout, err := runWiring(t, wiring, "server", "restart")
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if len(servers.terminated) != 1 || servers.runs != 1 {
		t.Fatalf("expected stop then start, got %+v", servers)
	}
	if !strings.Contains(stdout, "opencode listening on http://127.0.0.1:6000 (pid 99)") {
		t.Fatalf("unexpected output %q", stdout)
	}

	status, err := runWiring(t, wiring, "server", "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(ansi.Strip(status), "unreachable") {
		t.Fatalf("expected unreachable, got %q", status)
	}
}

func TestStreamPrinterWritesDeltas(t *testing.T) {
	var out bytes.Buffer
	printer := newStreamPrinter(&out)
	first := textMessage("msg_1", types.RoleAssistant, "Hel")
	printer.Update([]types.MessageWithParts{first})
	printer.Update([]types.MessageWithParts{textMessage("msg_1", types.RoleAssistant, "Hello")})
	printer.Update([]types.MessageWithParts{textMessage("msg_1", types.RoleAssistant, "Hello")})
	plain := ansi.Strip(out.String())
	if strings.Count(plain, "assistant") != 1 {
		t.Fatalf("expected one header, got %q", plain)
	}
	if !strings.HasSuffix(plain, "Hello") || strings.Count(plain, "Hel") != 1 {
		t.Fatalf("expected streamed deltas, got %q", plain)
	}

	out.Reset()
	tool := types.ToolPart{
		PartBase: types.PartBase{ID: "prt_t", MessageID: "msg_1", SessionID: "ses_1", Type: types.PartTool},
		Tool:     "write",
		State:    types.ToolState{Status: types.ToolRunning},
	}
	withTool := textMessage("msg_1", types.RoleAssistant, "Hello")
	withTool.Parts = append(withTool.Parts, tool)
	printer.Update([]types.MessageWithParts{withTool})
	printer.Update([]types.MessageWithParts{withTool})
	tool.State.Status = types.ToolCompleted
	withTool.Parts[1] = tool
	printer.Update([]types.MessageWithParts{withTool})
	plain = ansi.Strip(out.String())
	if strings.Count(plain, "write") != 2 || !strings.Contains(plain, "✓ write") {
		t.Fatalf("expected one line per tool status, got %q", plain)
	}

	out.Reset()
	printer.Questions([]types.PendingQuestion{{ID: "que_1", SessionID: "ses_1", Questions: []types.Question{{Question: "Dark mode?", Options: []types.QuestionOption{{Label: "Yes"}}}}}})
	printer.Questions([]types.PendingQuestion{{ID: "que_1", SessionID: "ses_1", Questions: []types.Question{{Question: "Dark mode?"}}}})
	if plain := ansi.Strip(out.String()); strings.Count(plain, "Dark mode?") != 1 || !strings.Contains(plain, "- Yes") {
		t.Fatalf("unexpected question output %q", plain)
	}
}

func TestReadAttachmentFallsBackToSniffing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes")
	if err := os.WriteFile(path, []byte("plain words"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	attachment, err := readAttachment(path)
	if err != nil {
		t.Fatalf("readAttachment: %v", err)
	}
	if attachment.Mime != "text/plain" || attachment.Filename != "notes" {
		t.Fatalf("unexpected attachment %+v", attachment)
	}
	if _, err := readAttachment(filepath.Join(dir, "missing.png")); err == nil {
		t.Fatalf("expected read error")
	}
}

func TestWriteOSC52SequenceWrapsForScreen(t *testing.T) {
	t.Setenv("TMUX", "")
	t.Setenv("TERM", "screen-256color")
	var out bytes.Buffer
	if err := writeOSC52Sequence(&out, "hi"); err != nil {
		t.Fatalf("writeOSC52Sequence: %v", err)
	}
	if !strings.HasPrefix(out.String(), "\x1bP") {
		t.Fatalf("expected DCS-wrapped sequence, got %q", out.String())
	}
	t.Setenv("DILAG_DISABLE_OSC52", "true")
	if shouldAttemptOSC52() {
		t.Fatalf("expected OSC52 disabled")
	}
}

func runCLI(t *testing.T, core *fakeCore, args ...string) (string, error) {
	t.Helper()
	return runWiring(t, testWiring(core), args...)
}

func runWiring(t *testing.T, wiring commandWiring, args ...string) (string, error) {
	t.Helper()
	stdout := &bytes.Buffer{}
	wiring.stdout = stdout
	wiring.stderr = &bytes.Buffer{}
	root := buildRootCommand(wiring)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), err
}

func testWiring(core *fakeCore) commandWiring {
	return commandWiring{
		newCore: func(_ context.Context, opts coreOptions) (sessionCore, error) {
			core.live = opts.Live
			core.closed = false
			return core, nil
		},
		servers:    &fakeServerControl{},
		loadConfig: func() (config.Config, error) { return config.DefaultConfig(), nil },
		clipboard: func(string) (string, error) {
			return "", errors.New("clipboard disabled in tests")
		},
		version: "test",
	}
}

func textMessage(id string, role types.MessageRole, text string) types.MessageWithParts {
	return types.MessageWithParts{
		Info: types.Message{ID: id, SessionID: "ses_1", Role: role},
		Parts: []types.Part{types.TextPart{
			PartBase: types.PartBase{ID: id + "_text", MessageID: id, SessionID: "ses_1", Type: types.PartText},
			Text:     text,
		}},
	}
}

type sentPrompt struct {
	content string
	files   []sessions.Attachment
}

type fakeCore struct {
	metas  map[string]*types.SessionMeta
	order  []string
	status map[string]types.SessionStatus

	selected  string
	lastError string
	createErr string
	live      bool
	closed    bool
	nextID    int

	created     []*types.SessionMeta
	sent        []sentPrompt
	phase       types.SendPhase
	messages    []types.MessageWithParts
	reply       []types.MessageWithParts
	stopped     int
	revertedTo  string
	forkedAt    string
	designForks int
	designs     []types.DesignFile
	positions   map[string][]types.ScreenPosition
	deleted     []string
	questions   []types.PendingQuestion
	replies     map[string][][]string
	rejected    []string

	catalog       *opencode.ProviderCatalog
	providersErr  error
	authMethods   map[string][]opencode.AuthMethod
	authorization *opencode.OAuthAuthorization
	apiKeys       map[string]string
	authorized    []string
	callbacks     []string
}

func newFakeCore(metas ...*types.SessionMeta) *fakeCore {
	f := &fakeCore{
		metas:   map[string]*types.SessionMeta{},
		status:  map[string]types.SessionStatus{},
		apiKeys: map[string]string{},
		phase:   types.SendConfirmed,
	}
	for _, meta := range metas {
		f.metas[meta.ID] = meta
		f.order = append(f.order, meta.ID)
	}
	return f
}

func (f *fakeCore) Sessions(context.Context) []*types.SessionMeta {
	out := make([]*types.SessionMeta, 0, len(f.order))
	for _, id := range f.order {
		if meta, ok := f.metas[id]; ok {
			out = append(out, types.CloneSessionMeta(meta))
		}
	}
	return out
}

func (f *fakeCore) CreateSession(_ context.Context, name string, platform types.Platform) *types.SessionMeta {
	if f.createErr != "" {
		f.lastError = f.createErr
		return nil
	}
	f.nextID++
	meta := &types.SessionMeta{ID: fmt.Sprintf("ses_new%d", f.nextID), Name: name, Platform: platform}
	f.created = append(f.created, meta)
	f.metas[meta.ID] = meta
	f.order = append(f.order, meta.ID)
	return meta
}

func (f *fakeCore) SelectSession(_ context.Context, sessionID string) bool {
	if _, ok := f.metas[sessionID]; !ok {
		f.lastError = "load session: " + sessionID + ": session meta not found"
		return false
	}
	f.selected = sessionID
	return true
}

func (f *fakeCore) CurrentSession(context.Context) *types.SessionMeta {
	return types.CloneSessionMeta(f.metas[f.selected])
}

func (f *fakeCore) SendMessage(_ context.Context, content string, files []sessions.Attachment) bool {
	f.sent = append(f.sent, sentPrompt{content: content, files: files})
	f.messages = append(f.messages, f.reply...)
	return true
}

func (f *fakeCore) WaitSent(context.Context, string) types.SendPhase { return f.phase }

func (f *fakeCore) Messages() []types.MessageWithParts { return f.messages }

func (f *fakeCore) SessionStatus(sessionID string) types.SessionStatus {
	if status, ok := f.status[sessionID]; ok {
		return status
	}
	return types.SessionIdle
}

func (f *fakeCore) PendingQuestions() []types.PendingQuestion { return f.questions }

func (f *fakeCore) ReplyQuestion(_ context.Context, requestID string, answers [][]string) bool {
	if !f.dropQuestion(requestID) {
		f.lastError = "reply question: " + requestID + ": not pending"
		return false
	}
	if f.replies == nil {
		f.replies = map[string][][]string{}
	}
	f.replies[requestID] = answers
	return true
}

func (f *fakeCore) RejectQuestion(_ context.Context, requestID string) bool {
	if !f.dropQuestion(requestID) {
		return false
	}
	f.rejected = append(f.rejected, requestID)
	return true
}

func (f *fakeCore) dropQuestion(requestID string) bool {
	for i, question := range f.questions {
		if question.ID == requestID {
			f.questions = append(f.questions[:i], f.questions[i+1:]...)
			return true
		}
	}
	return false
}

func (f *fakeCore) StopSession(context.Context) bool {
	f.stopped++
	return true
}

func (f *fakeCore) DeleteSession(_ context.Context, sessionID string) bool {
	if _, ok := f.metas[sessionID]; !ok {
		f.lastError = "load session: " + sessionID + ": session not found"
		return false
	}
	delete(f.metas, sessionID)
	return true
}

func (f *fakeCore) ForkSession(_ context.Context, messageID string) *types.SessionMeta {
	f.forkedAt = messageID
	return &types.SessionMeta{ID: "ses_fork", ParentID: f.selected}
}

func (f *fakeCore) ForkSessionDesignsOnly(context.Context) *types.SessionMeta {
	f.designForks++
	return &types.SessionMeta{ID: "ses_designs"}
}

func (f *fakeCore) RevertToMessage(_ context.Context, messageID string) bool {
	f.revertedTo = messageID
	return true
}

func (f *fakeCore) UnrevertSession(context.Context) bool {
	f.revertedTo = ""
	return true
}

func (f *fakeCore) RenameSession(_ context.Context, sessionID, name string) bool {
	meta, ok := f.metas[sessionID]
	if !ok {
		return false
	}
	meta.Name = name
	return true
}

func (f *fakeCore) ToggleFavorite(_ context.Context, sessionID string) bool {
	meta, ok := f.metas[sessionID]
	if !ok {
		return false
	}
	meta.Favorite = !meta.Favorite
	return true
}

func (f *fakeCore) LoadDesigns(context.Context) []types.DesignFile { return f.designs }

func (f *fakeCore) DeleteDesign(_ context.Context, filename string) bool {
	for i, design := range f.designs {
		if design.Filename == filename {
			f.designs = append(f.designs[:i], f.designs[i+1:]...)
			f.deleted = append(f.deleted, filename)
			return true
		}
	}
	f.lastError = "delete design: " + filename + ": file does not exist"
	return false
}

func (f *fakeCore) ScreenPositions(sessionID string) []types.ScreenPosition {
	return f.positions[sessionID]
}

func (f *fakeCore) MoveScreen(_ context.Context, sessionID string, position types.ScreenPosition) bool {
	if f.positions == nil {
		f.positions = map[string][]types.ScreenPosition{}
	}
	current := f.positions[sessionID]
	for i := range current {
		if current[i].ID == position.ID {
			current[i] = position
			return true
		}
	}
	f.positions[sessionID] = append(current, position)
	return true
}

func (f *fakeCore) Subscribe(string, func(string)) func() { return func() {} }

func (f *fakeCore) Error() string { return f.lastError }

func (f *fakeCore) ClearError() { f.lastError = "" }

func (f *fakeCore) AuthMethods(context.Context) (map[string][]opencode.AuthMethod, error) {
	return f.authMethods, nil
}

func (f *fakeCore) SetAPIKey(_ context.Context, providerID, key string) error {
	f.apiKeys[providerID] = key
	return nil
}

func (f *fakeCore) OAuthAuthorize(_ context.Context, providerID string, method int) (*opencode.OAuthAuthorization, error) {
	f.authorized = append(f.authorized, fmt.Sprintf("%s/%d", providerID, method))
	return f.authorization, nil
}

func (f *fakeCore) OAuthCallback(_ context.Context, providerID string, method int, code string) error {
	f.callbacks = append(f.callbacks, fmt.Sprintf("%s/%d/%s", providerID, method, code))
	return nil
}

func (f *fakeCore) Providers(context.Context) (*opencode.ProviderCatalog, error) {
	if f.providersErr != nil {
		return nil, f.providersErr
	}
	return f.catalog, nil
}

func (f *fakeCore) Close() error {
	f.closed = true
	return nil
}

type fakeServerControl struct {
	state      app.ServerState
	hasState   bool
	pingErr   error
	pinged     []string
	terminated []int
	runs       int
}

func (f *fakeServerControl) Config() (config.Config, error) { return config.DefaultConfig(), nil }

func (f *fakeServerControl) Run(_ context.Context, _ config.Config, ready func(app.ServerState)) error {
	f.runs++
	f.state = app.ServerState{PID: 99, BaseURL: "http://127.0.0.1:6000"}
	f.hasState = true
	if ready != nil {
		ready(f.state)
	}
	return nil
}

func (f *fakeServerControl) ReadState() (app.ServerState, bool, error) {
	return f.state, f.hasState, nil
}

func (f *fakeServerControl) RemoveState() error {
	f.hasState = false
	return nil
}

func (f *fakeServerControl) Terminate(pid int) error {
	f.terminated = append(f.terminated, pid)
	return nil
}

func (f *fakeServerControl) Ping(_ context.Context, baseURL string) error {
	f.pinged = append(f.pinged, baseURL)
	return f.pingErr
}

type fakeSkillStore struct {
	*opencode.SkillManager
	previews  []opencode.SkillPreview
	installed []string
	sources   []string
	requested [][]string
}

func (s *fakeSkillStore) Preview(_ context.Context, source string) ([]opencode.SkillPreview, error) {
	s.sources = append(s.sources, source)
	return s.previews, nil
}

func (s *fakeSkillStore) Install(_ context.Context, source string, names []string) ([]string, error) {
	s.sources = append(s.sources, source)
	s.requested = append(s.requested, names)
	return s.installed, nil
}

func TestSkillsCommandListsAndRemoves(t *testing.T) {
	configDir := t.TempDir()
	for _, dir := range []string{filepath.Join(configDir, "skill", "web-design"), filepath.Join(configDir, "skills", "charts")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
	}
	wiring := testWiring(newFakeCore())
	wiring.skills = func() (skillStore, error) { return opencode.NewSkillManager(configDir), nil }

	stdout, err := runWiring(t, wiring, "skills", "list")
	if err != nil {
		t.Fatalf("skills list: %v", err)
	}
	plain := ansi.Strip(stdout)
	if !strings.Contains(plain, "charts") || !strings.Contains(plain, "web-design") || !strings.Contains(plain, "skills") {
		t.Fatalf("unexpected list output %q", plain)
	}

	stdout, err = runWiring(t, wiring, "skills", "remove", "charts")
	if err != nil {
		t.Fatalf("skills remove: %v", err)
	}
	if !strings.Contains(stdout, "removed charts") {
		t.Fatalf("unexpected remove output %q", stdout)
	}
	if _, err := os.Stat(filepath.Join(configDir, "skills", "charts")); !os.IsNotExist(err) {
		t.Fatalf("charts still present: %v", err)
	}
	if _, err := runWiring(t, wiring, "skills", "remove", "web-design"); !errors.Is(err, opencode.ErrBuiltinSkill) {
		t.Fatalf("remove builtin err = %v", err)
	}
}

func TestSkillsAddPreviewsThenInstalls(t *testing.T) {
	store := &fakeSkillStore{
		SkillManager: opencode.NewSkillManager(t.TempDir()),
		previews:     []opencode.SkillPreview{{Name: "frontend-design", Description: "Distinctive interfaces"}},
		installed:    []string{"frontend-design"},
	}
	wiring := testWiring(newFakeCore())
	wiring.skills = func() (skillStore, error) { return store, nil }

	stdout, err := runWiring(t, wiring, "skills", "add", "acme/skills")
	if err != nil {
		t.Fatalf("skills add preview: %v", err)
	}
	if !strings.Contains(stdout, "frontend-design") || !strings.Contains(stdout, "--skill <name>") {
		t.Fatalf("unexpected preview output %q", stdout)
	}
	if len(store.requested) != 0 {
		t.Fatalf("preview installed skills: %v", store.requested)
	}

	stdout, err = runWiring(t, wiring, "skills", "add", "acme/skills", "-s", "frontend-design", "-s", "extra")
	if err != nil {
		t.Fatalf("skills add install: %v", err)
	}
	if !strings.Contains(stdout, "installed frontend-design") {
		t.Fatalf("unexpected install output %q", stdout)
	}
	if len(store.requested) != 1 || strings.Join(store.requested[0], ",") != "frontend-design,extra" {
		t.Fatalf("requested = %v", store.requested)
	}
	if got := missingNames([]string{"frontend-design", "extra"}, store.installed); len(got) != 1 || got[0] != "extra" {
		t.Fatalf("missingNames = %v", got)
	}
}
