package opencode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"dilag/internal/logging"
)

var ErrBinaryNotFound = errors.New("opencode binary not found")

const (
	defaultServerHost  = "127.0.0.1"
	serverReadyTimeout = 10 * time.Second
	serverStopTimeout  = 4 * time.Second
)

// Swappable for tests.
var (
	startServeProcess = startServeProcessImpl
	pingServer       = pingServerImpl
	pickFreePort      = pickFreePortImpl
	userHomeDir       = os.UserHomeDir
	userCacheDir      = os.UserCacheDir
)

type ServerConfig struct {
	// Command overrides binary discovery when set.
	Command  string
	Hostname string
	// Port is the preferred port; 0 or a busy port falls back to a free one.
	Port     int
	Password string
	// DataDir is exported as XDG_CONFIG_HOME so the server reads
	// <DataDir>/opencode/opencode.json.
	DataDir string
	LogPath string
	Logger  logging.Logger
}

// Server supervises one `opencode serve` child process.
type Server struct {
	cfg    ServerConfig
	logger logging.Logger

	mu      sync.Mutex
	process serverProcess
	done    <-chan struct{}
	port    int
	baseURL string
	logFile io.Closer
}

func NewServer(cfg ServerConfig) *Server {
	if strings.TrimSpace(cfg.Hostname) == "" {
		cfg.Hostname = defaultServerHost
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Server{cfg: cfg, logger: logger.With(logging.Component("opencode_server"))}
}

func (s *Server) BaseURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseURL
}

// PID returns the owned child's process id, or 0 when none is running.
func (s *Server) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.runningLocked() {
		return 0
	}
	return s.process.pid()
}

// Ping reports whether an OpenCode server answers at baseURL.
func Ping(ctx context.Context, baseURL string) error {
	return pingServer(ctx, baseURL)
}

// TerminatePID asks a server started by another dilag process to exit.
func TerminatePID(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := signalTerminate(process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("terminate %d: %w", pid, err)
	}
	return nil
}

// Running reports whether this supervisor owns a live child process.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningLocked()
}

func (s *Server) runningLocked() bool {
	if s.process == nil || s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Start launches the server unless one this supervisor owns is already
// running, and blocks until it answers HTTP. A server already listening on
// the preferred port is adopted without spawning.
func (s *Server) Start(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runningLocked() {
		return s.baseURL, nil
	}

	host := s.cfg.Hostname
	if s.cfg.Port > 0 {
		preferred := serverBaseURL(host, s.cfg.Port)
		if pingServer(ctx, preferred) == nil {
			s.logger.Info("opencode_server_adopted", logging.F("base_url", preferred))
			s.port = s.cfg.Port
			s.baseURL = preferred
			return preferred, nil
		}
	}
	port := s.port
	if port == 0 {
		port = s.cfg.Port
	}
	if port == 0 || !portAvailable(host, port) {
		free, err := pickFreePort(host)
		if err != nil {
			return "", err
		}
		port = free
	}
	return s.launchLocked(ctx, port)
}

func (s *Server) launchLocked(ctx context.Context, port int) (string, error) {
	binary, err := FindBinary(s.cfg.Command)
	if err != nil {
		return "", err
	}
	if s.cfg.DataDir != "" {
		if err := WriteRuntimeConfig(filepath.Join(s.cfg.DataDir, "opencode")); err != nil {
			return "", err
		}
	}

	env := upsertEnvValue(os.Environ(), "PATH", AugmentedPath(os.Getenv("PATH")))
	if s.cfg.DataDir != "" {
		env = upsertEnvValue(env, "XDG_CONFIG_HOME", s.cfg.DataDir)
	}
	if password := strings.TrimSpace(s.cfg.Password); password != "" {
		env = upsertEnvValue(env, "OPENCODE_SERVER_PASSWORD", password)
	}

	var out io.Writer = io.Discard
	if s.cfg.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(s.cfg.LogPath), 0o700); err != nil {
			return "", err
		}
		file, err := os.OpenFile(s.cfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return "", fmt.Errorf("open server log: %w", err)
		}
		out = file
		s.logFile = file
	}

	args := []string{"serve", "--port", strconv.Itoa(port), "--hostname", s.cfg.Hostname}
	s.logger.Info("opencode_server_launch",
		logging.F("binary", binary),
		logging.F("port", port),
	)
	process, done, err := startServeProcess(binary, args, env, out)
	if err != nil {
		s.closeLogLocked()
		return "", fmt.Errorf("start opencode: %w", err)
	}
	baseURL := serverBaseURL(s.cfg.Hostname, port)
	s.process = process
	s.done = done
	s.port = port
	s.baseURL = baseURL

	if err := waitForReady(ctx, baseURL, done, serverReadyTimeout); err != nil {
		_ = s.stopLocked()
		return "", fmt.Errorf("opencode not ready at %s: %w", baseURL, err)
	}
	s.logger.Info("opencode_server_ready", logging.F("base_url", baseURL))
	return baseURL, nil
}

// Stop terminates the owned process. It is a no-op when nothing is running.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Server) stopLocked() error {
	defer s.closeLogLocked()
	process, done := s.process, s.done
	s.process, s.done = nil, nil
	if process == nil {
		return nil
	}
	if err := process.terminate(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	select {
	case <-done:
		s.logger.Info("opencode_server_stopped", logging.F("pid", process.pid()))
		return nil
	case <-time.After(serverStopTimeout):
	}
	if err := process.kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	<-done
	s.logger.Warn("opencode_server_killed", logging.F("pid", process.pid()))
	return nil
}

func (s *Server) closeLogLocked() {
	if s.logFile != nil {
		_ = s.logFile.Close()
		s.logFile = nil
	}
}

// Restart stops the server, drops the runtime's cached model catalog, and
// starts again on a fresh port.
func (s *Server) Restart(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.stopLocked(); err != nil {
		return "", err
	}
	if cacheDir, err := userCacheDir(); err == nil {
		cache := filepath.Join(cacheDir, "opencode", "models.json")
		if err := os.Remove(cache); err == nil {
			s.logger.Info("opencode_models_cache_removed", logging.F("path", cache))
		}
	}
	port, err := pickFreePort(s.cfg.Hostname)
	if err != nil {
		return "", err
	}
	return s.launchLocked(ctx, port)
}

// Version runs `opencode --version`.
func (s *Server) Version(ctx context.Context) (string, error) {
	binary, err := FindBinary(s.cfg.Command)
	if err != nil {
		return "", err
	}
	cmd := exec.CommandContext(ctx, binary, "--version")
	cmd.Env = upsertEnvValue(os.Environ(), "PATH", AugmentedPath(os.Getenv("PATH")))
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("opencode --version: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// FindBinary resolves the opencode executable: an explicit command first,
// then the well-known install locations, then PATH.
func FindBinary(command string) (string, error) {
	if command = strings.TrimSpace(command); command != "" {
		path, err := exec.LookPath(command)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, command)
		}
		return path, nil
	}
	for _, candidate := range binaryCandidates() {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	if path, err := exec.LookPath("opencode"); err == nil {
		return path, nil
	}
	return "", ErrBinaryNotFound
}

func binaryCandidates() []string {
	name := "opencode"
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	var out []string
	if home, err := userHomeDir(); err == nil {
		out = append(out,
			filepath.Join(home, ".opencode", "bin", name),
			filepath.Join(home, ".npm-global", "bin", name),
			filepath.Join(home, ".bun", "bin", name),
		)
	}
	return append(out,
		filepath.Join("/opt/homebrew/bin", name),
		filepath.Join("/usr/local/bin", name),
		filepath.Join("/usr/bin", name),
	)
}

// AugmentedPath prepends common user tool directories that exist on disk to
// existing, dropping duplicates.
func AugmentedPath(existing string) string {
	extra := []string{"/opt/homebrew/bin", "/usr/local/bin"}
	if home, err := userHomeDir(); err == nil {
		extra = append(extra,
			filepath.Join(home, ".bun", "bin"),
			filepath.Join(home, ".npm-global", "bin"),
			filepath.Join(home, ".cargo", "bin"),
			filepath.Join(home, ".local", "bin"),
		)
	}
	seen := map[string]struct{}{}
	parts := make([]string, 0, len(extra))
	for _, dir := range extra {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		if _, ok := seen[dir]; ok {
			continue
		}
		seen[dir] = struct{}{}
		parts = append(parts, dir)
	}
	for _, item := range filepath.SplitList(existing) {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		parts = append(parts, item)
	}
	if len(parts) == 0 {
		return "/usr/bin:/bin:/usr/sbin:/sbin"
	}
	return strings.Join(parts, string(os.PathListSeparator))
}

func upsertEnvValue(values []string, key, value string) []string {
	prefix := key + "="
	out := make([]string, 0, len(values)+1)
	replaced := false
	for _, entry := range values {
		if strings.HasPrefix(entry, prefix) {
			if !replaced {
				out = append(out, prefix+value)
				replaced = true
			}
			continue
		}
		out = append(out, entry)
	}
	if !replaced {
		out = append(out, prefix+value)
	}
	return out
}

type serverProcess interface {
	pid() int
	terminate() error
	kill() error
}

type osProcess struct {
	process *os.Process
}

func (p osProcess) pid() int         { return p.process.Pid }
func (p osProcess) terminate() error { return signalTerminate(p.process) }
func (p osProcess) kill() error      { return signalKill(p.process) }

func startServeProcessImpl(binary string, args, env []string, out io.Writer) (serverProcess, <-chan struct{}, error) {
	cmd := exec.Command(binary, args...)
	cmd.Env = env
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}
	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	return osProcess{process: cmd.Process}, done, nil
}

func serverBaseURL(host string, port int) string {
	u := &url.URL{Scheme: "http", Host: net.JoinHostPort(host, strconv.Itoa(port))}
	return u.String()
}

func portAvailable(host string, port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

func pickFreePortImpl(host string) (int, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(strings.TrimSpace(host), "0"))
	if err != nil {
		return 0, fmt.Errorf("allocate port: %w", err)
	}
	defer ln.Close()
	addr, ok := ln.Addr().(*net.TCPAddr)
	if !ok || addr.Port == 0 {
		return 0, errors.New("allocate port: no port assigned")
	}
	return addr.Port, nil
}

func pingServerImpl(ctx context.Context, baseURL string) error {
	ctx, cancel := context.WithTimeout(ctx, 1500*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/config/providers", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusUnauthorized, http.StatusForbidden:
		return nil
	default:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}

func waitForReady(ctx context.Context, baseURL string, exited <-chan struct{}, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	delay := 100 * time.Millisecond
	var lastErr error
	for {
		if err := pingServer(ctx, baseURL); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-exited:
			return errors.New("process exited before becoming ready")
		case <-deadline.C:
			if lastErr == nil {
				lastErr = errors.New("server did not become ready")
			}
			return lastErr
		case <-time.After(delay):
		}
		if delay < time.Second {
			delay *= 2
		}
	}
}
