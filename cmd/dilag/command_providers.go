package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

type ProvidersCommand struct {
	stdout  io.Writer
	stderr  io.Writer
	newCore coreFactory
	models  bool

	apiKey string
	method int
	code   string
}

func NewProvidersCommand(stdout, stderr io.Writer, newCore coreFactory) *ProvidersCommand {
	return &ProvidersCommand{stdout: stdout, stderr: stderr, newCore: newCore}
}

func (c *ProvidersCommand) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List model providers known to the runtime",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.Run(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&c.models, "models", false, "list every model of each provider")

	methods := &cobra.Command{
		Use:   "methods",
		Short: "List the authentication methods each provider accepts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.Methods(cmd.Context())
		},
	}
	login := &cobra.Command{
		Use:   "login <provider-id>",
		Short: "Store an API key, or start and finish an OAuth login",
		Long: "With --key the key is stored directly. Otherwise the command prints the\n" +
			"authorization URL for --method; run it again with --code to finish.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Login(cmd.Context(), args[0])
		},
	}
	login.Flags().StringVar(&c.apiKey, "key", "", "API key to store")
	login.Flags().IntVar(&c.method, "method", 0, "index of the OAuth method from `providers methods`")
	login.Flags().StringVar(&c.code, "code", "", "authorization code returned by the provider")
	login.MarkFlagsMutuallyExclusive("key", "code")
	cmd.AddCommand(methods, login)
	return cmd
}

func (c *ProvidersCommand) Run(ctx context.Context) error {
	return withCore(ctx, c.newCore, coreOptions{}, func(core sessionCore) error {
		catalog, err := core.Providers(ctx)
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(catalog.All))
		for _, provider := range catalog.All {
			connected := idleStyle.Render("○")
			if catalog.IsConnected(provider.ID) {
				connected = runningStyle.Render("●")
			}
			defaultModel := catalog.Default[provider.ID]
			if defaultModel == "" {
				defaultModel = "-"
			}
			rows = append(rows, []string{connected, provider.ID, defaultModel, fmt.Sprintf("%d", len(provider.Models)), provider.Name})
			if c.models {
				for _, model := range provider.SortedModels() {
					rows = append(rows, []string{"", "", "", "", faintStyle.Render(strings.TrimSpace(model.ID + " " + model.Name))})
				}
			}
		}
		printTable(c.stdout, []string{"", "PROVIDER", "DEFAULT", "MODELS", "NAME"}, rows)
		return nil
	})
}

func (c *ProvidersCommand) Methods(ctx context.Context) error {
	return withCore(ctx, c.newCore, coreOptions{}, func(core sessionCore) error {
		methods, err := core.AuthMethods(ctx)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(methods))
		for id := range methods {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		rows := make([][]string, 0, len(ids))
		for _, id := range ids {
			for i, method := range methods[id] {
				rows = append(rows, []string{id, strconv.Itoa(i), method.Type, method.Label})
			}
		}
		printTable(c.stdout, []string{"PROVIDER", "METHOD", "TYPE", "LABEL"}, rows)
		return nil
	})
}

func (c *ProvidersCommand) Login(ctx context.Context, providerID string) error {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return errors.New("provider id is required")
	}
	return withCore(ctx, c.newCore, coreOptions{}, func(core sessionCore) error {
		switch {
		case strings.TrimSpace(c.apiKey) != "":
			if err := core.SetAPIKey(ctx, providerID, c.apiKey); err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "stored API key for %s\n", providerID)
		case strings.TrimSpace(c.code) != "":
			if err := core.OAuthCallback(ctx, providerID, c.method, c.code); err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "logged in to %s\n", providerID)
		default:
			auth, err := core.OAuthAuthorize(ctx, providerID, c.method)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.stdout, auth.URL)
			if auth.Instructions != "" {
				fmt.Fprintln(c.stdout, faintStyle.Render(auth.Instructions))
			}
			if auth.Method == "code" {
				fmt.Fprintf(c.stdout, "finish with: dilag providers login %s --method %d --code <code>\n", providerID, c.method)
			} else {
				if err := core.OAuthCallback(ctx, providerID, c.method, ""); err != nil {
					return err
				}
				fmt.Fprintf(c.stdout, "logged in to %s\n", providerID)
			}
		}
		return nil
	})
}
