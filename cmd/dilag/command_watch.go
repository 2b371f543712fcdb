package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"dilag/internal/types"
)

type ShowCommand struct {
	stdout  io.Writer
	stderr  io.Writer
	newCore coreFactory
	width   int
}

func NewShowCommand(stdout, stderr io.Writer, newCore coreFactory) *ShowCommand {
	return &ShowCommand{
		stdout:  stdout,
		stderr:  stderr,
		newCore: newCore,
	}
}

func (c *ShowCommand) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session's visible conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Run(cmd.Context(), args[0])
		},
	}
	cmd.Flags().IntVar(&c.width, "width", defaultRenderWidth, "wrap width for rendered text")
	return cmd
}

func (c *ShowCommand) Run(ctx context.Context, sessionID string) error {
	return withCore(ctx, c.newCore, coreOptions{}, func(core sessionCore) error {
		if _, err := selectSession(ctx, core, sessionID); err != nil {
			return err
		}
		renderTranscript(c.stdout, core.Messages(), c.width)
		return nil
	})
}

type WatchCommand struct {
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
	newCore coreFactory
	width   int
	answer  bool
}

func NewWatchCommand(stdin io.Reader, stdout, stderr io.Writer, newCore coreFactory) *WatchCommand {
	return &WatchCommand{
		stdin:   stdin,
		stdout:  stdout,
		stderr:  stderr,
		newCore: newCore,
	}
}

func (c *WatchCommand) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <session-id>",
		Short: "Print a session and follow its live updates until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Run(cmd.Context(), args[0])
		},
	}
	cmd.Flags().IntVar(&c.width, "width", defaultRenderWidth, "wrap width for rendered history")
	cmd.Flags().BoolVar(&c.answer, "answer", false, "answer pending questions from stdin, one line per question")
	return cmd
}

func (c *WatchCommand) Run(ctx context.Context, sessionID string) error {
	return withCore(ctx, c.newCore, coreOptions{Live: true, WatchDesigns: true}, func(core sessionCore) error {
		if _, err := selectSession(ctx, core, sessionID); err != nil {
			return err
		}
		history := core.Messages()
		renderTranscript(c.stdout, history, c.width)
		printer := newStreamPrinter(c.stdout)
		printer.Seed(history)
		if c.answer && c.stdin != nil {
			go func() {
				if err := answerQuestions(ctx, core, sessionID, c.stdin, c.stderr); err != nil {
					fmt.Fprintf(c.stderr, "answer: %v\n", err)
				}
			}()
		}
		err := followSession(ctx, core, sessionID, printer, nil)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
}

// followSession prints updates for sessionID until done reports true for
// the session's status or ctx ends.
func followSession(ctx context.Context, core sessionCore, sessionID string, printer *streamPrinter, done func(types.SessionStatus) bool) error {
	notify := make(chan struct{}, 1)
	unsubscribe := core.Subscribe(sessionID, func(string) {
		select {
		case notify <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	for {
		printer.Update(core.Messages())
		printer.Questions(sessionQuestions(core.PendingQuestions(), sessionID))
		if done != nil && done(core.SessionStatus(sessionID)) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-notify:
		}
	}
}

func sessionQuestions(all []types.PendingQuestion, sessionID string) []types.PendingQuestion {
	out := make([]types.PendingQuestion, 0, len(all))
	for _, question := range all {
		if question.SessionID == sessionID {
			out = append(out, question)
		}
	}
	return out
}

const rejectAnswer = "/reject"

// answerQuestions reads one line per question from in and answers the
// oldest pending question of sessionID with it. An empty line or /reject
// rejects the question. Answers for a multi-question prompt are separated
// by "|" and multiple choices by ",". A number picks an option by index.
func answerQuestions(ctx context.Context, core sessionCore, sessionID string, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		pending := sessionQuestions(core.PendingQuestions(), sessionID)
		if len(pending) == 0 {
			fmt.Fprintln(out, "no pending question")
			continue
		}
		question := pending[0]
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line == rejectAnswer {
			if !core.RejectQuestion(ctx, question.ID) {
				return coreFailure(core, "reject question")
			}
			fmt.Fprintf(out, "rejected %s\n", question.ID)
			continue
		}
		if !core.ReplyQuestion(ctx, question.ID, parseAnswers(question.Questions, line)) {
			return coreFailure(core, "reply question")
		}
		fmt.Fprintf(out, "answered %s\n", question.ID)
	}
	return scanner.Err()
}

func parseAnswers(questions []types.Question, line string) [][]string {
	fields := strings.Split(line, "|")
	count := len(questions)
	if count == 0 {
		count = 1
	}
	answers := make([][]string, count)
	for i := range answers {
		if i >= len(fields) {
			answers[i] = []string{}
			continue
		}
		var q types.Question
		if i < len(questions) {
			q = questions[i]
		}
		answers[i] = parseChoices(q, fields[i])
	}
	return answers
}

func parseChoices(question types.Question, field string) []string {
	values := []string{field}
	if question.Multiple {
		values = strings.Split(field, ",")
	}
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if n, err := strconv.Atoi(value); err == nil && n >= 1 && n <= len(question.Options) {
			value = question.Options[n-1].Label
		}
		out = append(out, value)
	}
	return out
}
