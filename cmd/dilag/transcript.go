package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	humanize "github.com/dustin/go-humanize"

	"dilag/internal/types"
)

// renderTranscript writes a complete, rendered conversation.
func renderTranscript(out io.Writer, messages []types.MessageWithParts, width int) {
	for i, message := range messages {
		if i > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintln(out, messageHeader(message.Info))
		for _, part := range message.Parts {
			if line := renderPart(message.Info.Role, part, width); line != "" {
				fmt.Fprintln(out, line)
			}
		}
		if message.Info.Error != nil && !message.Info.Error.Aborted() {
			fmt.Fprintln(out, errorStyle.Render("error: "+message.Info.Error.Message()))
		}
	}
}

func messageHeader(info types.Message) string {
	header := headerStyle.Render(string(info.Role))
	if info.Time.Created > 0 {
		header += faintStyle.Render(" · " + humanize.Time(time.UnixMilli(info.Time.Created)))
	}
	return header + faintStyle.Render(" "+info.ID)
}

func renderPart(role types.MessageRole, part types.Part, width int) string {
	switch p := part.(type) {
	case types.TextPart:
		if p.Synthetic || strings.TrimSpace(p.Text) == "" {
			return ""
		}
		if role == types.RoleUser {
			return renderMarkdown(escapeMarkdown(p.Text), width)
		}
		return renderMarkdown(p.Text, width)
	case types.ReasoningPart:
		if strings.TrimSpace(p.Text) == "" {
			return ""
		}
		return faintStyle.Render(p.Text)
	case types.ToolPart:
		return toolLine(p)
	case types.FilePart:
		return faintStyle.Render("📎 " + fileLabel(p))
	default:
		return ""
	}
}

func toolLine(part types.ToolPart) string {
	label := part.Tool
	if part.State.Title != "" {
		label += " " + part.State.Title
	}
	switch part.State.Status {
	case types.ToolCompleted:
		return runningStyle.Render("✓ ") + label
	case types.ToolError:
		line := errorStyle.Render("✗ ") + label
		if part.State.Error != "" {
			line += faintStyle.Render(": " + part.State.Error)
		}
		return line
	default:
		return idleStyle.Render("… ") + label
	}
}

func fileLabel(part types.FilePart) string {
	if part.Filename != "" {
		return part.Filename
	}
	return part.Mime
}

// streamPrinter prints message updates incrementally. Text is written as
// raw deltas and tools are reported on every status change.
type streamPrinter struct {
	out      io.Writer
	messages map[string]struct{}
	text     map[string]string
	tools    map[string]types.ToolStatus
	files    map[string]struct{}
	errors   map[string]struct{}
	asked    map[string]struct{}
}

func newStreamPrinter(out io.Writer) *streamPrinter {
	return &streamPrinter{
		out:      out,
		messages: map[string]struct{}{},
		text:     map[string]string{},
		tools:    map[string]types.ToolStatus{},
		files:    map[string]struct{}{},
		errors:   map[string]struct{}{},
		asked:    map[string]struct{}{},
	}
}

// Seed marks the given history as already printed.
func (p *streamPrinter) Seed(messages []types.MessageWithParts) {
	for _, message := range messages {
		p.messages[message.Info.ID] = struct{}{}
		if message.Info.Error != nil {
			p.errors[message.Info.ID] = struct{}{}
		}
		for _, part := range message.Parts {
			switch v := part.(type) {
			case types.TextPart:
				p.text[v.ID] = v.Text
			case types.ReasoningPart:
				p.text[v.ID] = v.Text
			case types.ToolPart:
				p.tools[v.ID] = v.State.Status
			case types.FilePart:
				p.files[v.ID] = struct{}{}
			}
		}
	}
}

func (p *streamPrinter) Update(messages []types.MessageWithParts) {
	for _, message := range messages {
		if _, ok := p.messages[message.Info.ID]; !ok {
			p.messages[message.Info.ID] = struct{}{}
			fmt.Fprintln(p.out)
			fmt.Fprintln(p.out, messageHeader(message.Info))
		}
		for _, part := range message.Parts {
			p.updatePart(part)
		}
		if message.Info.Error != nil && !message.Info.Error.Aborted() {
			if _, ok := p.errors[message.Info.ID]; !ok {
				p.errors[message.Info.ID] = struct{}{}
				fmt.Fprintln(p.out, errorStyle.Render("error: "+message.Info.Error.Message()))
			}
		}
	}
}

func (p *streamPrinter) updatePart(part types.Part) {
	switch v := part.(type) {
	case types.TextPart:
		if v.Synthetic {
			return
		}
		p.writeDelta(v.ID, v.Text, false)
	case types.ReasoningPart:
		p.writeDelta(v.ID, v.Text, true)
	case types.ToolPart:
		if prev, ok := p.tools[v.ID]; ok && prev == v.State.Status {
			return
		}
		p.tools[v.ID] = v.State.Status
		fmt.Fprintln(p.out, toolLine(v))
	case types.FilePart:
		if _, ok := p.files[v.ID]; ok {
			return
		}
		p.files[v.ID] = struct{}{}
		fmt.Fprintln(p.out, faintStyle.Render("📎 "+fileLabel(v)))
	}
}

func (p *streamPrinter) writeDelta(partID, text string, faint bool) {
	prev, seen := p.text[partID]
	if seen && prev == text {
		return
	}
	delta := text
	if strings.HasPrefix(text, prev) {
		delta = text[len(prev):]
	} else if seen {
		fmt.Fprintln(p.out)
	}
	p.text[partID] = text
	if delta == "" {
		return
	}
	if faint {
		delta = faintStyle.Render(delta)
	}
	fmt.Fprint(p.out, delta)
}

// Questions prints questions that have not been shown yet.
func (p *streamPrinter) Questions(questions []types.PendingQuestion) {
	sort.SliceStable(questions, func(i, j int) bool { return questions[i].AskedAt.Before(questions[j].AskedAt) })
	for _, question := range questions {
		if _, ok := p.asked[question.ID]; ok {
			continue
		}
		p.asked[question.ID] = struct{}{}
		for _, q := range question.Questions {
			fmt.Fprintln(p.out)
			fmt.Fprintln(p.out, favoriteStyle.Render("? ")+q.Question+faintStyle.Render(" ("+question.ID+")"))
			for _, option := range q.Options {
				fmt.Fprintln(p.out, "  - "+option.Label)
			}
		}
	}
}
