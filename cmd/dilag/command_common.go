package main

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	humanize "github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
	"gopkg.in/yaml.v3"

	"dilag/internal/types"
)

const version = "dev"

const maxNameWidth = 40

var now = time.Now

var (
	headerStyle   = lipgloss.NewStyle().Bold(true)
	faintStyle    = lipgloss.NewStyle().Faint(true)
	favoriteStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	idleStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	runningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// withCore opens a core for one command invocation and closes it after fn.
func withCore(ctx context.Context, factory coreFactory, opts coreOptions, fn func(sessionCore) error) (err error) {
	if factory == nil {
		return errors.New("session core is not configured")
	}
	core, err := factory(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := core.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(core)
}

// coreFailure consumes the core's last error as a command error.
func coreFailure(core sessionCore, op string) error {
	msg := strings.TrimSpace(core.Error())
	core.ClearError()
	if msg != "" {
		return errors.New(msg)
	}
	return fmt.Errorf("%s failed", op)
}

// selectSession makes sessionID current and returns its record.
func selectSession(ctx context.Context, core sessionCore, sessionID string) (*types.SessionMeta, error) {
	if !core.SelectSession(ctx, sessionID) {
		return nil, coreFailure(core, "select session")
	}
	meta := core.CurrentSession(ctx)
	if meta == nil {
		return nil, coreFailure(core, "select session")
	}
	return meta, nil
}

func printSessions(output io.Writer, sessions []*types.SessionMeta, status func(string) types.SessionStatus) {
	rows := make([][]string, 0, len(sessions))
	for _, session := range sessions {
		name := runewidth.Truncate(session.Name, maxNameWidth, "…")
		if session.Favorite {
			name = favoriteStyle.Render("★ ") + name
		}
		parent := "-"
		if session.ParentID != "" {
			parent = session.ParentID
		}
		rows = append(rows, []string{
			session.ID,
			renderStatus(status(session.ID)),
			string(types.NormalizePlatform(session.Platform)),
			humanize.Time(session.LastActivity()),
			parent,
			name,
		})
	}
	printTable(output, []string{"ID", "STATUS", "PLATFORM", "ACTIVE", "PARENT", "NAME"}, rows)
}

func renderStatus(status types.SessionStatus) string {
	if status == "" {
		status = types.SessionIdle
	}
	switch status {
	case types.SessionRunning, types.SessionBusy:
		return runningStyle.Render("● " + string(status))
	case types.SessionError:
		return errorStyle.Render("● " + string(status))
	default:
		return idleStyle.Render("○ " + string(status))
	}
}

// printTable pads cells by their printable width so styled cells line up.
func printTable(output io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, header := range headers {
		widths[i] = ansi.StringWidth(header)
	}
	for _, row := range rows {
		for i, cell := range row {
			if w := ansi.StringWidth(cell); i < len(widths) && w > widths[i] {
				widths[i] = w
			}
		}
	}
	writeRow := func(cells []string, style *lipgloss.Style) {
		var line strings.Builder
		for i, cell := range cells {
			if style != nil {
				cell = style.Render(cell)
			}
			line.WriteString(cell)
			if i < len(cells)-1 {
				line.WriteString(strings.Repeat(" ", widths[i]-ansi.StringWidth(cell)+2))
			}
		}
		fmt.Fprintln(output, line.String())
	}
	writeRow(headers, &headerStyle)
	for _, row := range rows {
		writeRow(row, nil)
	}
}

func writeStructured(output io.Writer, format string, value any) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		encoder := json.NewEncoder(output)
		encoder.SetIndent("", "  ")
		return encoder.Encode(value)
	case "yaml":
		encoder := yaml.NewEncoder(output)
		encoder.SetIndent(2)
		if err := encoder.Encode(value); err != nil {
			return err
		}
		return encoder.Close()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func exitOnErr(label string, err error, stderr io.Writer) {
	if err == nil {
		return
	}
	fmt.Fprintf(stderr, "%s error: %v\n", label, err)
	os.Exit(1)
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		var revision string
		var modified string
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				revision = setting.Value
			case "vcs.modified":
				modified = setting.Value
			}
		}
		if revision != "" {
			if modified == "true" {
				return revision + "-dirty"
			}
			return revision
		}
	}

	exe, err := os.Executable()
	if err == nil {
		file, err := os.Open(exe)
		if err == nil {
			defer file.Close()
			hasher := sha256.New()
			if _, err := io.Copy(hasher, file); err == nil {
				sum := hasher.Sum(nil)
				return fmt.Sprintf("bin-%x", sum[:6])
			}
		}
	}

	return version
}
