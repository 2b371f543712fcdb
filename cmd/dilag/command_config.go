package main

import (
	"errors"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"dilag/internal/config"
)

const (
	configFormatTOML = "toml"
	configFormatJSON = "json"
	configFormatYAML = "yaml"
)

type ConfigCommand struct {
	stdout     io.Writer
	stderr     io.Writer
	loadConfig func() (config.Config, error)
	defaults   bool
	format     string
}

func NewConfigCommand(stdout, stderr io.Writer, loadConfig func() (config.Config, error)) *ConfigCommand {
	return &ConfigCommand{stdout: stdout, stderr: stderr, loadConfig: loadConfig}
}

func (c *ConfigCommand) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print configuration (effective or defaults)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.Run()
		},
	}
	cmd.Flags().BoolVar(&c.defaults, "defaults", false, "print default config values")
	cmd.Flags().StringVar(&c.format, "format", configFormatTOML, "output format: toml|json|yaml")
	return cmd
}

func (c *ConfigCommand) Run() error {
	format, err := resolveConfigFormat(c.format)
	if err != nil {
		return err
	}
	cfg := config.DefaultConfig()
	if !c.defaults {
		if c.loadConfig == nil {
			return errors.New("config loader is not configured")
		}
		if cfg, err = c.loadConfig(); err != nil {
			return err
		}
	}
	return writeConfigOutput(c.stdout, format, cfg)
}

func writeConfigOutput(out io.Writer, format string, cfg config.Config) error {
	switch format {
	case configFormatTOML:
		data, err := cfg.Encode()
		if err != nil {
			return err
		}
		if len(data) == 0 || data[len(data)-1] != '\n' {
			data = append(data, '\n')
		}
		_, err = out.Write(data)
		return err
	default:
		return writeStructured(out, format, configView(cfg))
	}
}

// configView mirrors the TOML keys for json and yaml output.
func configView(cfg config.Config) map[string]any {
	view := map[string]any{
		"opencode": map[string]any{
			"base_url":   cfg.OpenCodeBaseURL(),
			"command":    cfg.OpenCode.Command,
			"hostname":   cfg.OpenCodeHostname(),
			"port":       cfg.OpenCodePort(),
			"timeout":    cfg.OpenCodeTimeout().String(),
			"auto_start": cfg.AutoStartEnabled(),
		},
		"store": map[string]any{
			"backend": cfg.StoreBackend(),
		},
		"session": map[string]any{
			"provider_id":      cfg.ProviderID(),
			"model_id":         cfg.ModelID(),
			"agent":            cfg.Agent(),
			"question_timeout": cfg.QuestionTimeout().String(),
		},
		"events": map[string]any{
			"reconnect_initial": cfg.ReconnectInitial().String(),
			"reconnect_max":     cfg.ReconnectMax().String(),
		},
		"logging": map[string]any{
			"level": cfg.LogLevel(),
			"file":  cfg.Logging.File,
		},
	}
	if cfg.OpenCode.Username != "" {
		view["opencode"].(map[string]any)["username"] = cfg.OpenCode.Username
	}
	return view
}

func resolveConfigFormat(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", configFormatTOML:
		return configFormatTOML, nil
	case configFormatJSON:
		return configFormatJSON, nil
	case configFormatYAML:
		return configFormatYAML, nil
	default:
		return "", errors.New("invalid format: must be toml, json or yaml")
	}
}
