package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"dilag/internal/app"
)

const serverPingTimeout = 3 * time.Second

type ServerCommand struct {
	stdout  io.Writer
	stderr  io.Writer
	servers serverControl
}

func NewServerCommand(stdout, stderr io.Writer, servers serverControl) *ServerCommand {
	return &ServerCommand{stdout: stdout, stderr: stderr, servers: servers}
}

func (c *ServerCommand) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Supervise a local OpenCode server",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "start",
			Short: "Start a server and keep it running until interrupted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.Start(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "stop",
			Short: "Stop the server recorded by server start",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.Stop(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "restart",
			Short: "Stop any recorded server and start a new one",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.Restart(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Report whether the configured server answers",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.Status(cmd.Context())
			},
		},
	)
	return cmd
}

func (c *ServerCommand) Start(ctx context.Context) error {
	if c.servers == nil {
		return errors.New("server control is not configured")
	}
	if state, ok, err := c.servers.ReadState(); err != nil {
		return err
	} else if ok && c.ping(ctx, state.BaseURL) == nil {
		return fmt.Errorf("server already running (pid %d) at %s", state.PID, state.BaseURL)
	}
	cfg, err := c.servers.Config()
	if err != nil {
		return err
	}
	return c.servers.Run(ctx, cfg, func(state app.ServerState) {
		fmt.Fprintf(c.stdout, "opencode listening on %s (pid %d)\n", state.BaseURL, state.PID)
	})
}

func (c *ServerCommand) Stop(ctx context.Context) error {
	if c.servers == nil {
		return errors.New("server control is not configured")
	}
	state, ok, err := c.servers.ReadState()
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(c.stdout, "no recorded server")
		return nil
	}
	if state.PID > 0 {
		if err := c.servers.Terminate(state.PID); err != nil && c.ping(ctx, state.BaseURL) == nil {
			return fmt.Errorf("stop server pid %d: %w", state.PID, err)
		}
	}
	if err := c.servers.RemoveState(); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "stopped server pid %d\n", state.PID)
	return nil
}

func (c *ServerCommand) Restart(ctx context.Context) error {
	if err := c.Stop(ctx); err != nil {
		return err
	}
	return c.Start(ctx)
}

func (c *ServerCommand) Status(ctx context.Context) error {
	if c.servers == nil {
		return errors.New("server control is not configured")
	}
	cfg, err := c.servers.Config()
	if err != nil {
		return err
	}
	baseURL := cfg.OpenCodeBaseURL()
	state, ok, err := c.servers.ReadState()
	if err != nil {
		return err
	}
	if ok && state.BaseURL != "" {
		baseURL = state.BaseURL
	}
	status := runningStyle.Render("● reachable")
	if err := c.ping(ctx, baseURL); err != nil {
		status = errorStyle.Render("● unreachable")
	}
	fmt.Fprintf(c.stdout, "%s %s\n", status, baseURL)
	if ok {
		fmt.Fprintf(c.stdout, "pid %d, started %s\n", state.PID, humanize.Time(state.StartedAt))
	}
	return nil
}

func (c *ServerCommand) ping(ctx context.Context, baseURL string) error {
	if baseURL == "" {
		return errors.New("no base url")
	}
	pingCtx, cancel := context.WithTimeout(ctx, serverPingTimeout)
	defer cancel()
	return c.servers.Ping(pingCtx, baseURL)
}
