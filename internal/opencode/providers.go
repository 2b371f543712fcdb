package opencode

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

type Model struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Provider struct {
	ID     string           `json:"id"`
	Name   string           `json:"name"`
	Env    []string         `json:"env,omitempty"`
	Models map[string]Model `json:"models"`
}

// SortedModels returns the provider's models ordered by id.
func (p Provider) SortedModels() []Model {
	out := make([]Model, 0, len(p.Models))
	for id, model := range p.Models {
		if model.ID == "" {
			model.ID = id
		}
		out = append(out, model)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type ProviderCatalog struct {
	All       []Provider        `json:"all"`
	Default   map[string]string `json:"default"`
	Connected []string          `json:"connected"`
}

func (c *ProviderCatalog) IsConnected(providerID string) bool {
	if c == nil {
		return false
	}
	for _, id := range c.Connected {
		if strings.EqualFold(id, providerID) {
			return true
		}
	}
	return false
}

type AuthMethod struct {
	Type  string `json:"type"`
	Label string `json:"label"`
}

type OAuthAuthorization struct {
	URL          string `json:"url"`
	Method       string `json:"method"`
	Instructions string `json:"instructions"`
}

func (c *Client) ListProviders(ctx context.Context) (*ProviderCatalog, error) {
	var catalog ProviderCatalog
	if err := c.doJSON(ctx, http.MethodGet, "/provider", nil, &catalog); err != nil {
		return nil, err
	}
	sort.Slice(catalog.All, func(i, j int) bool { return catalog.All[i].ID < catalog.All[j].ID })
	return &catalog, nil
}

func (c *Client) AuthMethods(ctx context.Context) (map[string][]AuthMethod, error) {
	methods := map[string][]AuthMethod{}
	if err := c.doJSON(ctx, http.MethodGet, "/provider/auth", nil, &methods); err != nil {
		return nil, err
	}
	return methods, nil
}

// SetAPIKey stores an API key credential for providerID.
func (c *Client) SetAPIKey(ctx context.Context, providerID, key string) error {
	payload := map[string]any{"type": "api", "key": strings.TrimSpace(key)}
	return c.doJSON(ctx, http.MethodPut, "/auth/"+url.PathEscape(providerID), payload, nil)
}

func (c *Client) OAuthAuthorize(ctx context.Context, providerID string, method int) (*OAuthAuthorization, error) {
	var out OAuthAuthorization
	path := "/provider/" + url.PathEscape(providerID) + "/oauth/authorize"
	if err := c.doJSON(ctx, http.MethodPost, path, map[string]any{"method": method}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) OAuthCallback(ctx context.Context, providerID string, method int, code string) error {
	payload := map[string]any{"method": method}
	if code = strings.TrimSpace(code); code != "" {
		payload["code"] = code
	}
	path := "/provider/" + url.PathEscape(providerID) + "/oauth/callback"
	return c.doJSON(ctx, http.MethodPost, path, payload, nil)
}
