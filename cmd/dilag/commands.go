package main

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"dilag/internal/app"
	"dilag/internal/config"
	"dilag/internal/logging"
	"dilag/internal/opencode"
)

type commandWiring struct {
	stdin      io.Reader
	stdout     io.Writer
	stderr     io.Writer
	newCore    coreFactory
	servers    serverControl
	loadConfig func() (config.Config, error)
	clipboard  func(text string) (string, error)
	skills     func() (skillStore, error)
	version    string
}

func defaultCommandWiring(stdout, stderr io.Writer) commandWiring {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return commandWiring{
		stdin:      os.Stdin,
		stdout:     stdout,
		stderr:     stderr,
		newCore:    newAppCoreFactory(stderr),
		servers:    newOSServerControl(stderr),
		loadConfig: config.Load,
		clipboard:  copyTextToClipboard,
		skills:     openSkillStore,
		version:    buildVersion(),
	}
}

func buildRootCommand(wiring commandWiring) *cobra.Command {
	root := &cobra.Command{
		Use:           "dilag",
		Short:         "Drive OpenCode design sessions from the terminal",
		Version:       wiring.version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(wiring.stdout)
	root.SetErr(wiring.stderr)
	root.AddCommand(
		NewSessionsCommand(wiring.stdout, wiring.stderr, wiring.newCore).Command(),
		NewNewCommand(wiring.stdout, wiring.stderr, wiring.newCore).Command(),
		NewSendCommand(wiring.stdout, wiring.stderr, wiring.newCore).Command(),
		NewWatchCommand(wiring.stdin, wiring.stdout, wiring.stderr, wiring.newCore).Command(),
		NewShowCommand(wiring.stdout, wiring.stderr, wiring.newCore).Command(),
		NewStopCommand(wiring.stdout, wiring.stderr, wiring.newCore).Command(),
		NewDeleteCommand(wiring.stdout, wiring.stderr, wiring.newCore).Command(),
		NewForkCommand(wiring.stdout, wiring.stderr, wiring.newCore).Command(),
		NewRevertCommand(wiring.stdout, wiring.stderr, wiring.newCore).Command(),
		NewUnrevertCommand(wiring.stdout, wiring.stderr, wiring.newCore).Command(),
		NewRenameCommand(wiring.stdout, wiring.stderr, wiring.newCore).Command(),
		NewFavoriteCommand(wiring.stdout, wiring.stderr, wiring.newCore).Command(),
		NewDesignsCommand(wiring.stdout, wiring.stderr, wiring.newCore, wiring.clipboard).Command(),
		NewProvidersCommand(wiring.stdout, wiring.stderr, wiring.newCore).Command(),
		NewServerCommand(wiring.stdout, wiring.stderr, wiring.servers).Command(),
		NewConfigCommand(wiring.stdout, wiring.stderr, wiring.loadConfig).Command(),
		NewSkillsCommand(wiring.stdout, wiring.stderr, wiring.skills).Command(),
	)
	return root
}

// serverControl is what the server commands need from the process
// supervisor and the recorded server state.
type serverControl interface {
	Config() (config.Config, error)
	Run(ctx context.Context, cfg config.Config, ready func(app.ServerState)) error
	ReadState() (app.ServerState, bool, error)
	RemoveState() error
	Terminate(pid int) error
	Ping(ctx context.Context, baseURL string) error
}

type osServerControl struct {
	logOutput io.Writer
}

func newOSServerControl(logOutput io.Writer) *osServerControl {
	return &osServerControl{logOutput: logOutput}
}

func (c *osServerControl) Config() (config.Config, error) {
	return config.Load()
}

// Run starts a supervised server, records its state and blocks until ctx
// is done.
func (c *osServerControl) Run(ctx context.Context, cfg config.Config, ready func(app.ServerState)) error {
	logger := logging.New(c.logOutput, logging.ParseLevel(cfg.LogLevel()))
	server, err := app.NewServer(cfg, logger)
	if err != nil {
		return err
	}
	baseURL, err := server.Start(ctx)
	if err != nil {
		return err
	}
	state := app.ServerState{PID: server.PID(), BaseURL: baseURL, StartedAt: now()}
	path, err := config.ServerStatePath()
	if err != nil {
		_ = server.Stop()
		return err
	}
	if err := app.WriteServerState(path, state); err != nil {
		_ = server.Stop()
		return err
	}
	if ready != nil {
		ready(state)
	}
	<-ctx.Done()
	stopErr := server.Stop()
	if err := app.RemoveServerState(path); err != nil && stopErr == nil {
		stopErr = err
	}
	return stopErr
}

func (c *osServerControl) ReadState() (app.ServerState, bool, error) {
	path, err := config.ServerStatePath()
	if err != nil {
		return app.ServerState{}, false, err
	}
	return app.ReadServerState(path)
}

func (c *osServerControl) RemoveState() error {
	path, err := config.ServerStatePath()
	if err != nil {
		return err
	}
	return app.RemoveServerState(path)
}

func (c *osServerControl) Terminate(pid int) error {
	return opencode.TerminatePID(pid)
}

func (c *osServerControl) Ping(ctx context.Context, baseURL string) error {
	return opencode.Ping(ctx, baseURL)
}
