// Package opencode talks to an OpenCode server over its HTTP API and
// supervises a locally spawned server process.
package opencode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dilag/internal/logging"
	"dilag/internal/types"
)

var ErrEmptyResponse = errors.New("opencode returned an empty response")

const defaultRequestTimeout = 30 * time.Second

type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	logger     logging.Logger
}

type ClientConfig struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
	Logger   logging.Logger
}

type RequestError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	if e == nil {
		return "opencode request failed"
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if msg == "" {
		msg = "request failed"
	}
	return fmt.Sprintf("opencode request failed (%s %s): %s", e.Method, e.Path, msg)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr) && reqErr.StatusCode == http.StatusNotFound
}

func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("opencode base_url is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base_url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base_url: %s", baseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	username := strings.TrimSpace(cfg.Username)
	if username == "" {
		username = "opencode"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Client{
		baseURL:    strings.TrimRight(parsed.String(), "/"),
		username:   username,
		password:   strings.TrimSpace(cfg.Password),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(logging.Component("opencode")),
	}, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) CreateSession(ctx context.Context, title, directory string) (*types.SessionInfo, error) {
	payload := map[string]any{}
	if title = strings.TrimSpace(title); title != "" {
		payload["title"] = title
	}
	var info types.SessionInfo
	if err := c.doJSON(ctx, http.MethodPost, withDirectory("/session", directory), payload, &info); err != nil {
		return nil, err
	}
	if strings.TrimSpace(info.ID) == "" {
		return nil, fmt.Errorf("create session: %w", ErrEmptyResponse)
	}
	return &info, nil
}

func (c *Client) GetSession(ctx context.Context, sessionID, directory string) (*types.SessionInfo, error) {
	var info types.SessionInfo
	if err := c.doJSON(ctx, http.MethodGet, withDirectory(sessionPath(sessionID, ""), directory), nil, &info); err != nil {
		return nil, err
	}
	if info.ID == "" {
		return nil, fmt.Errorf("get session %s: %w", sessionID, ErrEmptyResponse)
	}
	return &info, nil
}

func (c *Client) SessionMessages(ctx context.Context, sessionID, directory string) ([]types.MessageWithParts, error) {
	var messages []types.MessageWithParts
	if err := c.doJSON(ctx, http.MethodGet, withDirectory(sessionPath(sessionID, "message"), directory), nil, &messages); err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []types.MessageWithParts{}
	}
	return messages, nil
}

type PromptPart struct {
	Type      types.PartType `json:"type"`
	Text      string         `json:"text,omitempty"`
	Synthetic bool           `json:"synthetic,omitempty"`
	Mime      string         `json:"mime,omitempty"`
	URL       string         `json:"url,omitempty"`
	Filename  string         `json:"filename,omitempty"`
}

func TextPrompt(text string) PromptPart {
	return PromptPart{Type: types.PartText, Text: text}
}

type PromptRequest struct {
	Parts []PromptPart    `json:"parts"`
	Model *types.ModelRef `json:"model,omitempty"`
	Agent string          `json:"agent,omitempty"`
}

// PromptAsync queues a prompt and returns once the server has accepted it.
// Progress arrives on the event stream.
func (c *Client) PromptAsync(ctx context.Context, sessionID, directory string, req PromptRequest) error {
	if len(req.Parts) == 0 {
		return errors.New("prompt requires at least one part")
	}
	return c.doJSON(ctx, http.MethodPost, withDirectory(sessionPath(sessionID, "prompt_async"), directory), req, nil)
}

func (c *Client) DeleteSession(ctx context.Context, sessionID, directory string) error {
	return c.doJSON(ctx, http.MethodDelete, withDirectory(sessionPath(sessionID, ""), directory), nil, nil)
}

func (c *Client) AbortSession(ctx context.Context, sessionID, directory string) error {
	return c.doJSON(ctx, http.MethodPost, withDirectory(sessionPath(sessionID, "abort"), directory), nil, nil)
}

// ForkSession copies history up to and including messageID into a new
// session. An empty messageID forks the whole session.
func (c *Client) ForkSession(ctx context.Context, sessionID, directory, messageID string) (*types.SessionInfo, error) {
	payload := map[string]any{}
	if messageID = strings.TrimSpace(messageID); messageID != "" {
		payload["messageID"] = messageID
	}
	var info types.SessionInfo
	if err := c.doJSON(ctx, http.MethodPost, withDirectory(sessionPath(sessionID, "fork"), directory), payload, &info); err != nil {
		return nil, err
	}
	if info.ID == "" {
		return nil, fmt.Errorf("fork session %s: %w", sessionID, ErrEmptyResponse)
	}
	return &info, nil
}

func (c *Client) RevertSession(ctx context.Context, sessionID, directory, messageID string) (*types.SessionInfo, error) {
	payload := map[string]any{"messageID": messageID}
	var info types.SessionInfo
	if err := c.doJSON(ctx, http.MethodPost, withDirectory(sessionPath(sessionID, "revert"), directory), payload, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) UnrevertSession(ctx context.Context, sessionID, directory string) (*types.SessionInfo, error) {
	var info types.SessionInfo
	if err := c.doJSON(ctx, http.MethodPost, withDirectory(sessionPath(sessionID, "unrevert"), directory), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) UpdateSessionTitle(ctx context.Context, sessionID, directory, title string) (*types.SessionInfo, error) {
	payload := map[string]any{"title": strings.TrimSpace(title)}
	var info types.SessionInfo
	if err := c.doJSON(ctx, http.MethodPatch, withDirectory(sessionPath(sessionID, ""), directory), payload, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) ReplyQuestion(ctx context.Context, requestID string, answers [][]string) error {
	if answers == nil {
		answers = [][]string{}
	}
	path := "/question/" + url.PathEscape(requestID) + "/reply"
	return c.doJSON(ctx, http.MethodPost, path, map[string]any{"answers": answers}, nil)
}

func (c *Client) RejectQuestion(ctx context.Context, requestID string) error {
	path := "/question/" + url.PathEscape(requestID) + "/reject"
	return c.doJSON(ctx, http.MethodPost, path, nil, nil)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		payload = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	path = "/" + strings.TrimLeft(strings.TrimSpace(path), "/")
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if c.logger.Enabled(logging.Debug) {
		c.logger.Debug("opencode_request",
			logging.F("method", method),
			logging.F("path", path),
			logging.F("status", resp.StatusCode),
			logging.F("duration_ms", time.Since(started).Milliseconds()),
		)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return responseError(method, path, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return fmt.Errorf("%s %s: %w", method, path, ErrEmptyResponse)
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}

func responseError(method, path string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(raw))
	var structured struct {
		Name string `json:"name"`
		Data struct {
			Message string `json:"message"`
		} `json:"data"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &structured) == nil {
		switch {
		case structured.Data.Message != "":
			msg = structured.Data.Message
		case structured.Message != "":
			msg = structured.Message
		}
	}
	if msg == "" {
		msg = resp.Status
	}
	return &RequestError{
		Method:     method,
		Path:       path,
		StatusCode: resp.StatusCode,
		Message:    msg,
	}
}

func sessionPath(sessionID, suffix string) string {
	path := "/session/" + url.PathEscape(strings.TrimSpace(sessionID))
	if suffix != "" {
		path += "/" + suffix
	}
	return path
}

func withDirectory(path, directory string) string {
	directory = strings.TrimSpace(directory)
	if directory == "" {
		return path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return path + separator + "directory=" + url.QueryEscape(directory)
}
