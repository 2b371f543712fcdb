package opencode

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeSkill(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(path, "SKILL.md"), []byte("# "+name+"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestListSkillsMergesBothDirectories(t *testing.T) {
	configDir := t.TempDir()
	writeSkill(t, filepath.Join(configDir, "skill"), "web-design")
	writeSkill(t, filepath.Join(configDir, "skill"), "shared")
	writeSkill(t, filepath.Join(configDir, "skills"), "shared")
	writeSkill(t, filepath.Join(configDir, "skills"), "charts")
	target := writeSkill(t, t.TempDir(), "linked")
	if err := os.Symlink(target, filepath.Join(configDir, "skills", "linked")); err != nil {
		t.Fatalf("Symlink: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "skills", "README.md"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	skills, err := NewSkillManager(configDir).List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var names []string
	for _, skill := range skills {
		names = append(names, skill.Name)
	}
	if want := []string{"charts", "linked", "shared", "web-design"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	if !skills[1].Symlink || skills[0].Symlink {
		t.Fatalf("symlink flags = %+v", skills)
	}
	if want := filepath.Join(configDir, "skill", "shared"); skills[2].Path != want {
		t.Fatalf("shared path = %q, want %q", skills[2].Path, want)
	}
}

func TestListSkillsWithoutDirectories(t *testing.T) {
	skills, err := NewSkillManager(filepath.Join(t.TempDir(), "missing")).List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(skills) != 0 {
		t.Fatalf("skills = %+v, want none", skills)
	}
}

func TestRemoveSkillFromBothDirectoriesKeepsLinkTarget(t *testing.T) {
	configDir := t.TempDir()
	writeSkill(t, filepath.Join(configDir, "skill"), "charts")
	target := writeSkill(t, t.TempDir(), "charts")
	if err := os.MkdirAll(filepath.Join(configDir, "skills"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.Symlink(target, filepath.Join(configDir, "skills", "charts")); err != nil {
		t.Fatalf("Symlink: %v", err)
	}
	manager := NewSkillManager(configDir)

	if err := manager.Remove("charts"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	for _, dir := range []string{"skill", "skills"} {
		if _, err := os.Lstat(filepath.Join(configDir, dir, "charts")); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("%s/charts still present: %v", dir, err)
		}
	}
	if _, err := os.Stat(filepath.Join(target, "SKILL.md")); err != nil {
		t.Fatalf("link target removed: %v", err)
	}
	if err := manager.Remove("charts"); !errors.Is(err, ErrSkillNotFound) {
		t.Fatalf("second Remove err = %v, want ErrSkillNotFound", err)
	}
}

func TestRemoveSkillRejectsUnsafeAndBuiltinNames(t *testing.T) {
	configDir := t.TempDir()
	writeSkill(t, filepath.Join(configDir, "skill"), SkillWebDesign)
	manager := NewSkillManager(configDir)

	for _, name := range []string{"", "..", "../skill", "a/b"} {
		if err := manager.Remove(name); !errors.Is(err, ErrInvalidSkillName) {
			t.Fatalf("Remove(%q) err = %v, want ErrInvalidSkillName", name, err)
		}
	}
	if err := manager.Remove(SkillWebDesign); !errors.Is(err, ErrBuiltinSkill) {
		t.Fatalf("Remove builtin err = %v, want ErrBuiltinSkill", err)
	}
	if _, err := os.Stat(filepath.Join(configDir, "skill", SkillWebDesign)); err != nil {
		t.Fatalf("builtin removed: %v", err)
	}
}

func TestValidateSkillSource(t *testing.T) {
	for _, source := range []string{"vercel-labs/agent-skills", "https://github.com/acme/skills.git", "git@github.com:acme/skills"} {
		if err := ValidateSkillSource(source); err != nil {
			t.Fatalf("ValidateSkillSource(%q): %v", source, err)
		}
	}
	for _, source := range []string{"", "  ", "-g", "acme/skills; rm -rf ~", "acme/$(whoami)", "a b"} {
		if err := ValidateSkillSource(source); !errors.Is(err, ErrInvalidSkillSource) {
			t.Fatalf("ValidateSkillSource(%q) err = %v, want ErrInvalidSkillSource", source, err)
		}
	}
}

const skillListOutput = "\x1b[36m◇\x1b[0m  Cloning repository\n" +
	"│\n" +
	"◇  Available Skills\n" +
	"│\n" +
	"│  \x1b[1mfrontend-design\x1b[0m\n" +
	"│    Build distinctive, production-grade interfaces\n" +
	"│    with strong visual direction.\n" +
	"│\n" +
	"│  web-design-guidelines\n" +
	"│    Review UI code for accessibility.\n" +
	"│\n" +
	"└  Use --skill <name> to install specific skills\n" +
	"ignored-after-end\n"

func TestParseSkillList(t *testing.T) {
	got := parseSkillList(skillListOutput)
	want := []SkillPreview{
		{Name: "frontend-design", Description: "Build distinctive, production-grade interfaces with strong visual direction."},
		{Name: "web-design-guidelines", Description: "Review UI code for accessibility."},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("parseSkillList = %+v, want %+v", got, want)
	}
	if got := parseSkillList("no header here\nfrontend-design\n"); len(got) != 0 {
		t.Fatalf("parseSkillList without header = %+v, want none", got)
	}
}

func installSkillsCLI(t *testing.T, fn func(args []string) (string, error)) *[][]string {
	t.Helper()
	var calls [][]string
	prev := runSkillsCLI
	t.Cleanup(func() { runSkillsCLI = prev })
	runSkillsCLI = func(_ context.Context, args []string) (string, error) {
		calls = append(calls, append([]string(nil), args...))
		return fn(args)
	}
	return &calls
}

func TestPreviewSkillsRunsListMode(t *testing.T) {
	calls := installSkillsCLI(t, func([]string) (string, error) { return skillListOutput, nil })

	previews, err := NewSkillManager(t.TempDir()).Preview(context.Background(), "acme/skills")
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if len(previews) != 2 {
		t.Fatalf("previews = %+v", previews)
	}
	if want := [][]string{{"-y", "skills", "add", "acme/skills", "-l"}}; !reflect.DeepEqual(*calls, want) {
		t.Fatalf("calls = %v, want %v", *calls, want)
	}
}

func TestInstallSkillsLinksSharedDirectory(t *testing.T) {
	prevHome := userHomeDir
	t.Cleanup(func() { userHomeDir = prevHome })
	home := t.TempDir()
	userHomeDir = func() (string, error) { return home, nil }
	configDir := t.TempDir()
	shared := filepath.Join(home, ".agents", "skills")

	calls := installSkillsCLI(t, func([]string) (string, error) {
		writeSkill(t, shared, "frontend-design")
		return "", nil
	})

	installed, err := NewSkillManager(configDir).Install(context.Background(), "acme/skills", []string{"frontend-design", "missing-one"})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if want := []string{"frontend-design"}; !reflect.DeepEqual(installed, want) {
		t.Fatalf("installed = %v, want %v", installed, want)
	}
	want := []string{"-y", "skills", "add", "acme/skills", "-s", "frontend-design", "-s", "missing-one", "-g", "-y", "-a", "opencode"}
	if len(*calls) != 1 || !reflect.DeepEqual((*calls)[0], want) {
		t.Fatalf("calls = %v, want %v", *calls, want)
	}
	link := filepath.Join(configDir, "skill", "frontend-design")
	info, err := os.Lstat(link)
	if err != nil || info.Mode()&os.ModeSymlink == 0 {
		t.Fatalf("expected symlink at %s: %v", link, err)
	}
}

func TestInstallSkillsValidatesBeforeRunning(t *testing.T) {
	calls := installSkillsCLI(t, func([]string) (string, error) { return "", nil })
	manager := NewSkillManager(t.TempDir())

	if _, err := manager.Install(context.Background(), "-x", []string{"a"}); !errors.Is(err, ErrInvalidSkillSource) {
		t.Fatalf("bad source err = %v", err)
	}
	if _, err := manager.Install(context.Background(), "acme/skills", []string{"ok", "--global"}); !errors.Is(err, ErrInvalidSkillName) {
		t.Fatalf("bad name err = %v", err)
	}
	if _, err := manager.Install(context.Background(), "acme/skills", nil); !errors.Is(err, ErrInvalidSkillName) {
		t.Fatalf("empty names err = %v", err)
	}
	if len(*calls) != 0 {
		t.Fatalf("cli ran for invalid input: %v", *calls)
	}
}

func TestInstallSkillsReportsCLIFailure(t *testing.T) {
	installSkillsCLI(t, func([]string) (string, error) {
		return "", errors.New("npx skills: exit status 1: repository not found")
	})
	_, err := NewSkillManager(t.TempDir()).Install(context.Background(), "acme/nope", []string{"x"})
	if err == nil || !strings.Contains(err.Error(), "repository not found") {
		t.Fatalf("Install err = %v", err)
	}
}

func TestLookNPXPrefersPathEntry(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "npx")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	path := filepath.Join(t.TempDir(), "empty") + string(os.PathListSeparator) + dir
	if got := lookNPX(path); got != bin {
		t.Fatalf("lookNPX = %q, want %q", got, bin)
	}
	if got := lookNPX(t.TempDir()); got != "npx" {
		t.Fatalf("lookNPX fallback = %q", got)
	}
}
