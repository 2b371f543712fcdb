package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"dilag/internal/config"
	"dilag/internal/opencode"
)

// skillStore is the part of opencode.SkillManager the skills commands use.
type skillStore interface {
	List() ([]opencode.InstalledSkill, error)
	Remove(name string) error
	Preview(ctx context.Context, source string) ([]opencode.SkillPreview, error)
	Install(ctx context.Context, source string, names []string) ([]string, error)
}

func openSkillStore() (skillStore, error) {
	dir, err := config.OpenCodeConfigDir()
	if err != nil {
		return nil, err
	}
	return opencode.NewSkillManager(dir), nil
}

type SkillsCommand struct {
	stdout    io.Writer
	stderr    io.Writer
	newSkills func() (skillStore, error)
	names     []string
}

func NewSkillsCommand(stdout, stderr io.Writer, newSkills func() (skillStore, error)) *SkillsCommand {
	return &SkillsCommand{stdout: stdout, stderr: stderr, newSkills: newSkills}
}

func (c *SkillsCommand) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "Manage agent skills available to design sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.List()
		},
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List installed skills",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.List()
		},
	}
	add := &cobra.Command{
		Use:   "add <source>",
		Short: "Preview or install skills from a repository",
		Long: "Without --skill the command lists the skills the source offers.\n" +
			"With one or more --skill flags it installs them through `npx skills add`.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Add(cmd.Context(), args[0])
		},
	}
	add.Flags().StringArrayVarP(&c.names, "skill", "s", nil, "skill name to install (repeatable)")
	remove := &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Remove an installed skill",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Remove(args[0])
		},
	}
	cmd.AddCommand(list, add, remove)
	return cmd
}

func (c *SkillsCommand) store() (skillStore, error) {
	if c.newSkills == nil {
		return nil, errors.New("skills are not configured")
	}
	return c.newSkills()
}

func (c *SkillsCommand) List() error {
	store, err := c.store()
	if err != nil {
		return err
	}
	skills, err := store.List()
	if err != nil {
		return err
	}
	if len(skills) == 0 {
		fmt.Fprintln(c.stdout, "no skills installed")
		return nil
	}
	rows := make([][]string, 0, len(skills))
	for _, skill := range skills {
		kind := filepath.Base(filepath.Dir(skill.Path))
		if skill.Symlink {
			kind += " (link)"
		}
		rows = append(rows, []string{skill.Name, kind, faintStyle.Render(skill.Path)})
	}
	printTable(c.stdout, []string{"NAME", "DIR", "PATH"}, rows)
	return nil
}

func (c *SkillsCommand) Add(ctx context.Context, source string) error {
	store, err := c.store()
	if err != nil {
		return err
	}
	if len(c.names) == 0 {
		previews, err := store.Preview(ctx, source)
		if err != nil {
			return err
		}
		if len(previews) == 0 {
			fmt.Fprintf(c.stdout, "no skills found in %s\n", source)
			return nil
		}
		rows := make([][]string, 0, len(previews))
		for _, preview := range previews {
			rows = append(rows, []string{preview.Name, runewidth.Truncate(preview.Description, 72, "…")})
		}
		printTable(c.stdout, []string{"NAME", "DESCRIPTION"}, rows)
		fmt.Fprintf(c.stdout, "install with: dilag skills add %s --skill <name>\n", source)
		return nil
	}
	installed, err := store.Install(ctx, source, c.names)
	if err != nil {
		return err
	}
	if len(installed) == 0 {
		return fmt.Errorf("no skills installed from %s", source)
	}
	fmt.Fprintf(c.stdout, "installed %s\n", strings.Join(installed, ", "))
	if missing := missingNames(c.names, installed); len(missing) > 0 {
		fmt.Fprintf(c.stderr, "not installed: %s\n", strings.Join(missing, ", "))
	}
	return nil
}

func (c *SkillsCommand) Remove(name string) error {
	store, err := c.store()
	if err != nil {
		return err
	}
	if err := store.Remove(name); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "removed %s\n", name)
	return nil
}

func missingNames(requested, installed []string) []string {
	have := make(map[string]struct{}, len(installed))
	for _, name := range installed {
		have[name] = struct{}{}
	}
	var missing []string
	for _, name := range requested {
		if _, ok := have[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
