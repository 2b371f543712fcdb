package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"dilag/internal/sessions"
	"dilag/internal/types"
)

type SessionsCommand struct {
	stdout  io.Writer
	stderr  io.Writer
	newCore coreFactory
	format  string
}

func NewSessionsCommand(stdout, stderr io.Writer, newCore coreFactory) *SessionsCommand {
	return &SessionsCommand{
		stdout:  stdout,
		stderr:  stderr,
		newCore: newCore,
	}
}

func (c *SessionsCommand) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"ls"},
		Short:   "List sessions, favorites first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&c.format, "format", "table", "output format: table|json|yaml")
	return cmd
}

func (c *SessionsCommand) Run(ctx context.Context) error {
	format := strings.ToLower(strings.TrimSpace(c.format))
	if format != "table" && format != "json" && format != "yaml" {
		return fmt.Errorf("invalid format: must be table, json or yaml")
	}
	return withCore(ctx, c.newCore, coreOptions{}, func(core sessionCore) error {
		list := core.Sessions(ctx)
		if format == "table" {
			printSessions(c.stdout, list, core.SessionStatus)
			return nil
		}
		if list == nil {
			list = []*types.SessionMeta{}
		}
		return writeStructured(c.stdout, format, list)
	})
}

type NewCommand struct {
	stdout   io.Writer
	stderr   io.Writer
	newCore  coreFactory
	platform string
}

func NewNewCommand(stdout, stderr io.Writer, newCore coreFactory) *NewCommand {
	return &NewCommand{
		stdout:  stdout,
		stderr:  stderr,
		newCore: newCore,
	}
}

func (c *NewCommand) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "new [name]",
		Short: "Create a session with its own working directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Run(cmd.Context(), args)
		},
	}
	cmd.Flags().StringVar(&c.platform, "platform", string(types.PlatformWeb), "design platform: web|mobile")
	return cmd
}

func (c *NewCommand) Run(ctx context.Context, args []string) error {
	name := sessions.DefaultSessionName
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		name = strings.TrimSpace(args[0])
	}
	platform := types.Platform(strings.ToLower(strings.TrimSpace(c.platform)))
	if platform != types.PlatformWeb && platform != types.PlatformMobile {
		return fmt.Errorf("invalid platform: must be web or mobile")
	}
	return withCore(ctx, c.newCore, coreOptions{}, func(core sessionCore) error {
		meta := core.CreateSession(ctx, name, platform)
		if meta == nil {
			return coreFailure(core, "create session")
		}
		fmt.Fprintln(c.stdout, meta.ID)
		return nil
	})
}
