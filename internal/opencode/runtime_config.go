package opencode

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

//go:embed skills/*.md
var skillFiles embed.FS

const (
	SkillWebDesign    = "web-design"
	SkillMobileDesign = "mobile-design"
)

const buildAgentPrompt = "You are a UI design assistant that creates HTML screen prototypes. " +
	"On your first response, invoke the skill specified in the user's message (either 'mobile-design' or 'web-design'). " +
	"Write all screens to the screens/ directory as HTML files."

// runtimeConfig is written to <dir>/opencode.json for servers this process
// spawns.
func runtimeConfig() map[string]any {
	allow := func(patterns ...string) map[string]any {
		out := map[string]any{"*": "ask"}
		for _, pattern := range patterns {
			out[pattern] = "allow"
		}
		return out
	}
	return map[string]any{
		"$schema":       "https://opencode.ai/config.json",
		"autoupdate":    false,
		"share":         "disabled",
		"default_agent": "build",
		"agent": map[string]any{
			"build": map[string]any{"prompt": buildAgentPrompt},
		},
		"permission": map[string]any{
			"bash": allow(
				"ls", "ls *", "mkdir *", "pwd", "which *", "echo *", "cat *", "head *", "tail *", "wc *",
				"find", "find *", "grep *", "file *", "stat *", "tree *",
				"git status", "git status *", "git log", "git log *", "git diff", "git diff *",
				"bun i", "bun install", "bun install *", "bun add *", "bun run *", "bunx *",
				"npm i", "npm install", "npm install *", "npm ci", "npm run *", "npx *",
			),
			"task": "deny",
			"skill": map[string]any{
				SkillMobileDesign: "allow",
				SkillWebDesign:    "allow",
			},
		},
	}
}

// WriteRuntimeConfig writes opencode.json and the design skills into dir.
func WriteRuntimeConfig(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create opencode config dir: %w", err)
	}
	for _, skill := range []string{SkillMobileDesign, SkillWebDesign} {
		content, err := skillFiles.ReadFile("skills/" + skill + ".md")
		if err != nil {
			return err
		}
		skillDir := filepath.Join(dir, "skill", skill)
		if err := os.MkdirAll(skillDir, 0o755); err != nil {
			return fmt.Errorf("create skill dir: %w", err)
		}
		if err := os.WriteFile(filepath.Join(skillDir, "SKILL.md"), content, 0o644); err != nil {
			return fmt.Errorf("write skill %s: %w", skill, err)
		}
	}
	data, err := json.MarshalIndent(runtimeConfig(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "opencode.json"), data, 0o644); err != nil {
		return fmt.Errorf("write opencode.json: %w", err)
	}
	return nil
}
