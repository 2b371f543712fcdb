package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

type StopCommand struct {
	stdout  io.Writer
	stderr  io.Writer
	newCore coreFactory
}

func NewStopCommand(stdout, stderr io.Writer, newCore coreFactory) *StopCommand {
	return &StopCommand{stdout: stdout, stderr: stderr, newCore: newCore}
}

func (c *StopCommand) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <session-id>",
		Short: "Abort a session's running turn",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Run(cmd.Context(), args[0])
		},
	}
}

func (c *StopCommand) Run(ctx context.Context, sessionID string) error {
	return withCore(ctx, c.newCore, coreOptions{}, func(core sessionCore) error {
		if _, err := selectSession(ctx, core, sessionID); err != nil {
			return err
		}
		if !core.StopSession(ctx) {
			return coreFailure(core, "stop session")
		}
		fmt.Fprintf(c.stdout, "stopped %s\n", sessionID)
		return nil
	})
}

type DeleteCommand struct {
	stdout  io.Writer
	stderr  io.Writer
	newCore coreFactory
}

func NewDeleteCommand(stdout, stderr io.Writer, newCore coreFactory) *DeleteCommand {
	return &DeleteCommand{stdout: stdout, stderr: stderr, newCore: newCore}
}

func (c *DeleteCommand) Command() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <session-id>",
		Aliases: []string{"rm"},
		Short:   "Delete a session, its record and its working directory",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Run(cmd.Context(), args[0])
		},
	}
}

func (c *DeleteCommand) Run(ctx context.Context, sessionID string) error {
	return withCore(ctx, c.newCore, coreOptions{}, func(core sessionCore) error {
		if !core.DeleteSession(ctx, sessionID) {
			return coreFailure(core, "delete session")
		}
		fmt.Fprintf(c.stdout, "deleted %s\n", sessionID)
		return nil
	})
}

type ForkCommand struct {
	stdout      io.Writer
	stderr      io.Writer
	newCore     coreFactory
	messageID   string
	designsOnly bool
}

func NewForkCommand(stdout, stderr io.Writer, newCore coreFactory) *ForkCommand {
	return &ForkCommand{stdout: stdout, stderr: stderr, newCore: newCore}
}

func (c *ForkCommand) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fork <session-id>",
		Short: "Fork a session's conversation, or only its designs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Run(cmd.Context(), args[0])
		},
	}
	cmd.Flags().StringVar(&c.messageID, "message", "", "fork up to this message id")
	cmd.Flags().BoolVar(&c.designsOnly, "designs-only", false, "start a fresh conversation with copies of the designs")
	cmd.MarkFlagsMutuallyExclusive("message", "designs-only")
	return cmd
}

func (c *ForkCommand) Run(ctx context.Context, sessionID string) error {
	return withCore(ctx, c.newCore, coreOptions{}, func(core sessionCore) error {
		if _, err := selectSession(ctx, core, sessionID); err != nil {
			return err
		}
		if c.designsOnly {
			meta := core.ForkSessionDesignsOnly(ctx)
			if meta == nil {
				return coreFailure(core, "fork designs")
			}
			fmt.Fprintln(c.stdout, meta.ID)
			return nil
		}
		meta := core.ForkSession(ctx, c.messageID)
		if meta == nil {
			return coreFailure(core, "fork session")
		}
		fmt.Fprintln(c.stdout, meta.ID)
		return nil
	})
}

type RevertCommand struct {
	stdout  io.Writer
	stderr  io.Writer
	newCore coreFactory
}

func NewRevertCommand(stdout, stderr io.Writer, newCore coreFactory) *RevertCommand {
	return &RevertCommand{stdout: stdout, stderr: stderr, newCore: newCore}
}

func (c *RevertCommand) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "revert <session-id> <message-id>",
		Short: "Hide a message and everything after it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Run(cmd.Context(), args[0], args[1])
		},
	}
}

func (c *RevertCommand) Run(ctx context.Context, sessionID, messageID string) error {
	return withCore(ctx, c.newCore, coreOptions{}, func(core sessionCore) error {
		if _, err := selectSession(ctx, core, sessionID); err != nil {
			return err
		}
		if !core.RevertToMessage(ctx, messageID) {
			return coreFailure(core, "revert session")
		}
		fmt.Fprintf(c.stdout, "reverted %s to %s\n", sessionID, messageID)
		return nil
	})
}

type UnrevertCommand struct {
	stdout  io.Writer
	stderr  io.Writer
	newCore coreFactory
}

func NewUnrevertCommand(stdout, stderr io.Writer, newCore coreFactory) *UnrevertCommand {
	return &UnrevertCommand{stdout: stdout, stderr: stderr, newCore: newCore}
}

func (c *UnrevertCommand) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "unrevert <session-id>",
		Short: "Restore messages hidden by a revert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Run(cmd.Context(), args[0])
		},
	}
}

func (c *UnrevertCommand) Run(ctx context.Context, sessionID string) error {
	return withCore(ctx, c.newCore, coreOptions{}, func(core sessionCore) error {
		if _, err := selectSession(ctx, core, sessionID); err != nil {
			return err
		}
		if !core.UnrevertSession(ctx) {
			return coreFailure(core, "unrevert session")
		}
		fmt.Fprintf(c.stdout, "unreverted %s\n", sessionID)
		return nil
	})
}

type RenameCommand struct {
	stdout  io.Writer
	stderr  io.Writer
	newCore coreFactory
}

func NewRenameCommand(stdout, stderr io.Writer, newCore coreFactory) *RenameCommand {
	return &RenameCommand{stdout: stdout, stderr: stderr, newCore: newCore}
}

func (c *RenameCommand) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <session-id> <name>",
		Short: "Rename a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Run(cmd.Context(), args[0], args[1])
		},
	}
}

func (c *RenameCommand) Run(ctx context.Context, sessionID, name string) error {
	return withCore(ctx, c.newCore, coreOptions{}, func(core sessionCore) error {
		if !core.RenameSession(ctx, sessionID, name) {
			return coreFailure(core, "rename session")
		}
		fmt.Fprintf(c.stdout, "renamed %s\n", sessionID)
		return nil
	})
}

type FavoriteCommand struct {
	stdout  io.Writer
	stderr  io.Writer
	newCore coreFactory
}

func NewFavoriteCommand(stdout, stderr io.Writer, newCore coreFactory) *FavoriteCommand {
	return &FavoriteCommand{stdout: stdout, stderr: stderr, newCore: newCore}
}

func (c *FavoriteCommand) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "favorite <session-id>",
		Short: "Toggle a session's favorite flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Run(cmd.Context(), args[0])
		},
	}
}

func (c *FavoriteCommand) Run(ctx context.Context, sessionID string) error {
	return withCore(ctx, c.newCore, coreOptions{}, func(core sessionCore) error {
		if !core.ToggleFavorite(ctx, sessionID) {
			return coreFailure(core, "toggle favorite")
		}
		for _, meta := range core.Sessions(ctx) {
			if meta.ID == sessionID {
				state := "unfavorited"
				if meta.Favorite {
					state = "favorited"
				}
				fmt.Fprintf(c.stdout, "%s %s\n", state, sessionID)
				return nil
			}
		}
		return nil
	})
}
