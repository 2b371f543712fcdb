package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"dilag/internal/sessions"
	"dilag/internal/types"
)

type SendCommand struct {
	stdout  io.Writer
	stderr  io.Writer
	newCore coreFactory
	files   []string
	wait    bool
}

func NewSendCommand(stdout, stderr io.Writer, newCore coreFactory) *SendCommand {
	return &SendCommand{
		stdout:  stdout,
		stderr:  stderr,
		newCore: newCore,
	}
}

func (c *SendCommand) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <session-id> <message>",
		Short: "Send a prompt to a session",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Run(cmd.Context(), args[0], strings.Join(args[1:], " "))
		},
	}
	cmd.Flags().StringArrayVar(&c.files, "file", nil, "attach a file (repeatable)")
	cmd.Flags().BoolVar(&c.wait, "wait", false, "follow the reply until the session is idle")
	return cmd
}

func (c *SendCommand) Run(ctx context.Context, sessionID, message string) error {
	if strings.TrimSpace(message) == "" {
		return errors.New("message is required")
	}
	attachments := make([]sessions.Attachment, 0, len(c.files))
	for _, path := range c.files {
		attachment, err := readAttachment(path)
		if err != nil {
			return err
		}
		attachments = append(attachments, attachment)
	}
	return withCore(ctx, c.newCore, coreOptions{Live: c.wait}, func(core sessionCore) error {
		if _, err := selectSession(ctx, core, sessionID); err != nil {
			return err
		}
		printer := newStreamPrinter(c.stdout)
		printer.Seed(core.Messages())
		if !core.SendMessage(ctx, message, attachments) {
			return coreFailure(core, "send message")
		}
		phase := core.WaitSent(ctx, sessionID)
		switch phase {
		case types.SendFailed:
			return coreFailure(core, "send message")
		case types.SendConfirmed:
		default:
			if err := ctx.Err(); err != nil {
				return err
			}
			return fmt.Errorf("send message: unexpected phase %s", phase)
		}
		if !c.wait {
			fmt.Fprintln(c.stdout, "sent")
			return nil
		}
		err := followSession(ctx, core, sessionID, printer, func(status types.SessionStatus) bool {
			return !status.Active()
		})
		fmt.Fprintln(c.stdout)
		if err != nil {
			return err
		}
		if core.SessionStatus(sessionID) == types.SessionError {
			return coreFailure(core, "session run")
		}
		return nil
	})
}

// readAttachment loads a file as a data URL attachment.
func readAttachment(path string) (sessions.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return sessions.Attachment{}, fmt.Errorf("read attachment: %w", err)
	}
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	if idx := strings.IndexByte(mimeType, ';'); idx >= 0 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}
	return sessions.Attachment{
		Filename: filepath.Base(path),
		Mime:     mimeType,
		URL:      "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data),
	}, nil
}
