package opencode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

var (
	ErrInvalidSkillSource = errors.New("invalid skill source")
	ErrInvalidSkillName   = errors.New("invalid skill name")
	ErrSkillNotFound      = errors.New("skill not found")
	ErrBuiltinSkill       = errors.New("built-in skill cannot be removed")
)

// The runtime reads both directory spellings.
var skillDirNames = []string{"skill", "skills"}

// Swappable for tests.
var runSkillsCLI = runSkillsCLIImpl

type InstalledSkill struct {
	Name    string
	Path    string
	Symlink bool
}

type SkillPreview struct {
	Name        string
	Description string
}

// SkillManager lists, installs, and removes agent skills under the runtime
// config directory. Installs shell out to `npx skills add`.
type SkillManager struct {
	configDir string
}

func NewSkillManager(configDir string) *SkillManager {
	return &SkillManager{configDir: configDir}
}

// List returns installed skills from both skill directories, sorted by name.
// A name present in both is reported once, from the first directory.
func (m *SkillManager) List() ([]InstalledSkill, error) {
	seen := map[string]struct{}{}
	var out []InstalledSkill
	for _, dirName := range skillDirNames {
		dir := filepath.Join(m.configDir, dirName)
		entries, err := os.ReadDir(dir)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", dir, err)
		}
		for _, entry := range entries {
			symlink := entry.Type()&os.ModeSymlink != 0
			if !entry.IsDir() && !symlink {
				continue
			}
			if _, ok := seen[entry.Name()]; ok {
				continue
			}
			seen[entry.Name()] = struct{}{}
			out = append(out, InstalledSkill{
				Name:    entry.Name(),
				Path:    filepath.Join(dir, entry.Name()),
				Symlink: symlink,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Remove deletes name from both skill directories. Symlinks are unlinked
// without touching their target.
func (m *SkillManager) Remove(name string) error {
	if !validSkillName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidSkillName, name)
	}
	if name == SkillWebDesign || name == SkillMobileDesign {
		return fmt.Errorf("%w: %s", ErrBuiltinSkill, name)
	}
	removed := false
	for _, dirName := range skillDirNames {
		path := filepath.Join(m.configDir, dirName, name)
		info, err := os.Lstat(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			err = os.Remove(path)
		} else {
			err = os.RemoveAll(path)
		}
		if err != nil {
			return fmt.Errorf("remove skill %s: %w", name, err)
		}
		removed = true
	}
	if !removed {
		return fmt.Errorf("%w: %s", ErrSkillNotFound, name)
	}
	return nil
}

// Preview lists the skills a source repository offers without installing.
func (m *SkillManager) Preview(ctx context.Context, source string) ([]SkillPreview, error) {
	if err := ValidateSkillSource(source); err != nil {
		return nil, err
	}
	out, err := runSkillsCLI(ctx, []string{"-y", "skills", "add", source, "-l"})
	if err != nil {
		return nil, err
	}
	return parseSkillList(out), nil
}

// Install adds the named skills from source for the runtime, links any
// skills the CLI placed in the shared agents directory, and returns the
// names that ended up installed.
func (m *SkillManager) Install(ctx context.Context, source string, names []string) ([]string, error) {
	if err := ValidateSkillSource(source); err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no skills selected", ErrInvalidSkillName)
	}
	args := []string{"-y", "skills", "add", source}
	for _, name := range names {
		if !validSkillName(name) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSkillName, name)
		}
		args = append(args, "-s", name)
	}
	args = append(args, "-g", "-y", "-a", "opencode")
	if _, err := runSkillsCLI(ctx, args); err != nil {
		return nil, err
	}
	if err := m.linkSharedSkills(); err != nil {
		return nil, err
	}
	var installed []string
	for _, name := range names {
		for _, dirName := range skillDirNames {
			if _, err := os.Stat(filepath.Join(m.configDir, dirName, name)); err == nil {
				installed = append(installed, name)
				break
			}
		}
	}
	return installed, nil
}

// linkSharedSkills symlinks ~/.agents/skills entries into the skill
// directory when the runtime cannot see them yet.
func (m *SkillManager) linkSharedSkills() error {
	home, err := userHomeDir()
	if err != nil {
		return nil
	}
	shared := filepath.Join(home, ".agents", "skills")
	entries, err := os.ReadDir(shared)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", shared, err)
	}
	target := filepath.Join(m.configDir, "skill")
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("create skill dir: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && entry.Type()&os.ModeSymlink == 0 {
			continue
		}
		link := filepath.Join(target, entry.Name())
		if _, err := os.Lstat(link); err == nil {
			continue
		}
		if err := os.Symlink(filepath.Join(shared, entry.Name()), link); err != nil {
			return fmt.Errorf("link skill %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// ValidateSkillSource accepts repository references such as owner/repo or
// a git URL. Anything that could be read as a flag is rejected.
func ValidateSkillSource(source string) error {
	source = strings.TrimSpace(source)
	if source == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSkillSource)
	}
	if strings.HasPrefix(source, "-") {
		return fmt.Errorf("%w: %q", ErrInvalidSkillSource, source)
	}
	for _, r := range source {
		if isSkillNameRune(r) || strings.ContainsRune("/.:@", r) {
			continue
		}
		return fmt.Errorf("%w: %q", ErrInvalidSkillSource, source)
	}
	return nil
}

func validSkillName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if !isSkillNameRune(r) {
			return false
		}
	}
	return true
}

func isSkillNameRune(r rune) bool {
	return r == '-' || r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'
}

// parseSkillList reads the box-drawn listing printed by `skills add -l`.
// A bare identifier line starts a skill and the lines after it are its
// description.
func parseSkillList(output string) []SkillPreview {
	var (
		skills  []SkillPreview
		started bool
	)
	for _, raw := range strings.Split(ansi.Strip(output), "\n") {
		line := strings.TrimSpace(raw)
		if !started {
			started = strings.Contains(line, "Available Skills")
			continue
		}
		if strings.HasPrefix(line, "Use --skill") || strings.HasPrefix(line, "└") {
			break
		}
		line = strings.TrimSpace(strings.TrimLeft(line, "│|"))
		if line == "" {
			continue
		}
		if len(line) < 80 && validSkillName(line) {
			skills = append(skills, SkillPreview{Name: line})
			continue
		}
		if n := len(skills); n > 0 {
			if skills[n-1].Description != "" {
				skills[n-1].Description += " "
			}
			skills[n-1].Description += line
		}
	}
	return skills
}

func runSkillsCLIImpl(ctx context.Context, args []string) (string, error) {
	path := AugmentedPath(os.Getenv("PATH"))
	cmd := exec.CommandContext(ctx, lookNPX(path), args...)
	cmd.Env = upsertEnvValue(os.Environ(), "PATH", path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(ansi.Strip(stderr.String())); msg != "" {
			return "", fmt.Errorf("npx skills: %w: %s", err, msg)
		}
		return "", fmt.Errorf("npx skills: %w", err)
	}
	return stdout.String(), nil
}

// lookNPX resolves npx against path rather than the process PATH, which
// often lacks the node install when launched outside a login shell.
func lookNPX(path string) string {
	for _, dir := range filepath.SplitList(path) {
		candidate := filepath.Join(dir, "npx")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return "npx"
}
