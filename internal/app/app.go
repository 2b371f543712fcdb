// Package app wires configuration, storage, the agent runtime client and
// the session core into one value with a matching teardown.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"dilag/internal/config"
	"dilag/internal/events"
	"dilag/internal/logging"
	"dilag/internal/opencode"
	"dilag/internal/realtime"
	"dilag/internal/sessionlist"
	"dilag/internal/sessions"
	"dilag/internal/store"
	"dilag/internal/types"
	"dilag/internal/workspace"
)

type Options struct {
	// Config overrides loading config.toml from the data dir.
	Config *config.Config
	// LogOutput receives logfmt lines; defaults to stderr.
	LogOutput io.Writer
	// Live subscribes to the runtime event stream.
	Live bool
	// WatchDesigns follows the current session's screens directory.
	WatchDesigns bool
	// AutoStart launches a local OpenCode server when none answers and the
	// config allows it.
	AutoStart bool
}

type App struct {
	Config       config.Config
	Logger       logging.Logger
	Repo         store.Repository
	Workspace    *workspace.Workspace
	Client       *opencode.Client
	Server       *opencode.Server
	Events       *events.Channel
	Realtime     *realtime.Store
	List         *sessionlist.Cache
	Orchestrator *sessions.Orchestrator

	closers []func() error
}

// Init builds the application. On error everything opened so far is
// closed again.
func Init(ctx context.Context, opts Options) (*App, error) {
	a := &App{}
	if err := a.init(ctx, opts); err != nil {
		_ = a.Teardown()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, opts Options) error {
	if opts.Config != nil {
		a.Config = *opts.Config
	} else {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		a.Config = cfg
	}
	level := logging.ParseLevel(a.Config.LogLevel())
	logFile, err := a.Config.LogFile()
	if err != nil {
		return err
	}
	if logFile != "" {
		logger, closer, err := logging.NewFile(logFile, level)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		a.Logger = logger
		a.closers = append(a.closers, closer.Close)
	} else {
		out := opts.LogOutput
		if out == nil {
			out = os.Stderr
		}
		a.Logger = logging.New(out, level)
	}

	dataDir, err := config.DataDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	if err := a.openRepository(ctx); err != nil {
		return err
	}
	sessionsDir, err := config.SessionsDir()
	if err != nil {
		return err
	}
	a.Workspace = workspace.New(sessionsDir)

	baseURL, err := a.resolveServer(ctx, opts.AutoStart)
	if err != nil {
		return err
	}
	client, err := opencode.NewClient(opencode.ClientConfig{
		BaseURL:  baseURL,
		Username: a.Config.OpenCode.Username,
		Password: a.Config.OpenCode.Password,
		Timeout:  a.Config.OpenCodeTimeout(),
		Logger:   a.Logger,
	})
	if err != nil {
		return err
	}
	a.Client = client

	a.Events = events.NewChannel(client, events.Config{
		Backoff: events.Backoff{Initial: a.Config.ReconnectInitial(), Max: a.Config.ReconnectMax()},
		Logger:  a.Logger,
	})
	a.closers = append(a.closers, func() error { a.Events.Close(); return nil })

	a.Realtime = realtime.NewStore()
	a.List = sessionlist.New(a.Repo.SessionMeta(), a.Logger)
	var feed sessions.Events
	if opts.Live {
		feed = a.Events
	}
	a.Orchestrator = sessions.New(sessions.Dependencies{
		SDK:       client,
		Repo:      a.Repo,
		Workspace: a.Workspace,
		Realtime:  a.Realtime,
		List:      a.List,
		Events:    feed,
	}, sessions.Config{
		Model:           types.ModelRef{ProviderID: a.Config.ProviderID(), ModelID: a.Config.ModelID()},
		Agent:           a.Config.Agent(),
		QuestionTimeout: a.Config.QuestionTimeout(),
		WatchDesigns:    opts.WatchDesigns,
		Logger:          a.Logger,
	})
	a.closers = append(a.closers, func() error { a.Orchestrator.Close(); return nil })
	if err := a.Orchestrator.Start(ctx); err != nil {
		return err
	}
	if opts.Live {
		a.Events.Start(ctx)
	}
	a.Logger.Debug("app_initialized",
		logging.F("store", a.Repo.Backend()),
		logging.F("base_url", baseURL),
		logging.F("live", opts.Live),
	)
	return nil
}

func (a *App) openRepository(ctx context.Context) error {
	paths, err := RepositoryPaths()
	if err != nil {
		return err
	}
	repo, err := store.OpenRepository(paths, a.Config.StoreBackend())
	if err != nil {
		return err
	}
	a.Repo = repo
	a.closers = append(a.closers, repo.Close)
	if err := store.SeedRepositoryFromFiles(ctx, repo, paths); err != nil {
		a.Logger.Warn("store_seed_failed", logging.F("backend", repo.Backend()), logging.Err(err))
	}
	return nil
}

// RepositoryPaths resolves every store location under the data dir.
func RepositoryPaths() (store.RepositoryPaths, error) {
	var (
		paths store.RepositoryPaths
		err   error
	)
	if paths.SessionMetaPath, err = config.SessionsMetaPath(); err != nil {
		return paths, err
	}
	if paths.ScreenPositionsPath, err = config.ScreenPositionsPath(); err != nil {
		return paths, err
	}
	if paths.BoltPath, err = config.BoltPath(); err != nil {
		return paths, err
	}
	if paths.SQLitePath, err = config.SQLitePath(); err != nil {
		return paths, err
	}
	return paths, nil
}

// resolveServer returns the runtime base URL, starting a supervised local
// server when the configured one does not answer.
func (a *App) resolveServer(ctx context.Context, autoStart bool) (string, error) {
	baseURL := a.Config.OpenCodeBaseURL()
	if !autoStart || !a.Config.AutoStartEnabled() {
		return baseURL, nil
	}
	if opencode.Ping(ctx, baseURL) == nil {
		return baseURL, nil
	}
	server, err := NewServer(a.Config, a.Logger)
	if err != nil {
		return "", err
	}
	started, err := server.Start(ctx)
	if err != nil {
		return "", fmt.Errorf("start opencode: %w", err)
	}
	a.Server = server
	a.closers = append(a.closers, server.Stop)
	return started, nil
}

// NewServer builds the OpenCode supervisor from config.
func NewServer(cfg config.Config, logger logging.Logger) (*opencode.Server, error) {
	dataDir, err := config.DataDir()
	if err != nil {
		return nil, err
	}
	logPath, err := config.LogPath()
	if err != nil {
		return nil, err
	}
	return opencode.NewServer(opencode.ServerConfig{
		Command:  cfg.OpenCodeCommand(),
		Hostname: cfg.OpenCodeHostname(),
		Port:     cfg.OpenCodePort(),
		Password: cfg.OpenCode.Password,
		DataDir:  dataDir,
		LogPath:  logPath,
		Logger:   logger,
	}), nil
}

// Teardown closes everything Init opened, newest first.
func (a *App) Teardown() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
