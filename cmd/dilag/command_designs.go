package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	chromastyles "github.com/alecthomas/chroma/v2/styles"
	humanize "github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"dilag/internal/types"
)

const highlightStyle = "monokai"

type DesignsCommand struct {
	stdout    io.Writer
	stderr    io.Writer
	newCore   coreFactory
	clipboard func(text string) (string, error)
	copyName  string
	showName  string
	delName   string
	moveName  string
	moveX     float64
	moveY     float64
	plain     bool
}

func NewDesignsCommand(stdout, stderr io.Writer, newCore coreFactory, clipboard func(string) (string, error)) *DesignsCommand {
	return &DesignsCommand{
		stdout:    stdout,
		stderr:    stderr,
		newCore:   newCore,
		clipboard: clipboard,
	}
}

func (c *DesignsCommand) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "designs <session-id>",
		Short: "List, print or copy a session's HTML designs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Run(cmd.Context(), args[0])
		},
	}
	cmd.Flags().StringVar(&c.copyName, "copy", "", "copy a design's HTML to the clipboard")
	cmd.Flags().StringVar(&c.showName, "show", "", "print a design's HTML")
	cmd.Flags().StringVar(&c.delName, "delete", "", "delete a design file")
	cmd.Flags().StringVar(&c.moveName, "move", "", "move a design on the canvas to --x/--y")
	cmd.Flags().Float64Var(&c.moveX, "x", 0, "canvas x for --move")
	cmd.Flags().Float64Var(&c.moveY, "y", 0, "canvas y for --move")
	cmd.Flags().BoolVar(&c.plain, "plain", false, "print HTML without highlighting")
	cmd.MarkFlagsMutuallyExclusive("copy", "show", "delete", "move")
	return cmd
}

func (c *DesignsCommand) Run(ctx context.Context, sessionID string) error {
	return withCore(ctx, c.newCore, coreOptions{}, func(core sessionCore) error {
		if _, err := selectSession(ctx, core, sessionID); err != nil {
			return err
		}
		designs := core.LoadDesigns(ctx)
		if designs == nil && core.Error() != "" {
			return coreFailure(core, "load designs")
		}
		switch {
		case c.showName != "":
			design, err := findDesign(designs, c.showName)
			if err != nil {
				return err
			}
			if c.plain {
				_, err = io.WriteString(c.stdout, ensureNewline(design.HTML))
				return err
			}
			return highlightHTML(c.stdout, ensureNewline(design.HTML))
		case c.copyName != "":
			design, err := findDesign(designs, c.copyName)
			if err != nil {
				return err
			}
			if c.clipboard == nil {
				return fmt.Errorf("clipboard is not available")
			}
			method, err := c.clipboard(design.HTML)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "copied %s to %s\n", design.Filename, method)
			return nil
		case c.delName != "":
			if !core.DeleteDesign(ctx, c.delName) {
				return coreFailure(core, "delete design")
			}
			fmt.Fprintf(c.stdout, "deleted %s\n", c.delName)
			return nil
		case c.moveName != "":
			if _, err := findDesign(designs, c.moveName); err != nil {
				return err
			}
			position := types.ScreenPosition{ID: c.moveName, X: c.moveX, Y: c.moveY}
			if !core.MoveScreen(ctx, sessionID, position) {
				return coreFailure(core, "move screen")
			}
			fmt.Fprintf(c.stdout, "moved %s to %g,%g\n", c.moveName, c.moveX, c.moveY)
			return nil
		default:
			printDesigns(c.stdout, designs, core.ScreenPositions(sessionID))
			return nil
		}
	})
}

func findDesign(designs []types.DesignFile, filename string) (types.DesignFile, error) {
	for _, design := range designs {
		if design.Filename == filename {
			return design, nil
		}
	}
	return types.DesignFile{}, fmt.Errorf("design not found: %s", filename)
}

func printDesigns(output io.Writer, designs []types.DesignFile, positions []types.ScreenPosition) {
	placed := make(map[string]types.ScreenPosition, len(positions))
	for _, position := range positions {
		placed[position.ID] = position
	}
	rows := make([][]string, 0, len(designs))
	for _, design := range designs {
		modified := "-"
		if design.ModifiedAt > 0 {
			modified = humanize.Time(time.Unix(design.ModifiedAt, 0))
		}
		at := "-"
		if position, ok := placed[design.Filename]; ok {
			at = fmt.Sprintf("%g,%g", position.X, position.Y)
		}
		rows = append(rows, []string{design.Filename, design.ScreenType, at, modified, design.Title})
	}
	printTable(output, []string{"FILE", "TYPE", "POSITION", "MODIFIED", "TITLE"}, rows)
}

func highlightHTML(out io.Writer, source string) error {
	lexer := lexers.Get("html")
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)
	style := chromastyles.Get(highlightStyle)
	if style == nil {
		style = chromastyles.Fallback
	}
	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}
	iterator, err := lexer.Tokenise(nil, source)
	if err != nil {
		return err
	}
	return formatter.Format(out, style, iterator)
}

func ensureNewline(text string) string {
	if strings.HasSuffix(text, "\n") {
		return text
	}
	return text + "\n"
}
