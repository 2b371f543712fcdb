package main

import (
	"context"
	"io"

	"dilag/internal/app"
	"dilag/internal/opencode"
	"dilag/internal/sessions"
	"dilag/internal/types"
)

type coreOptions struct {
	Live         bool
	WatchDesigns bool
}

type coreFactory func(ctx context.Context, opts coreOptions) (sessionCore, error)

// sessionCore is the slice of the session orchestrator the commands drive.
type sessionCore interface {
	Sessions(ctx context.Context) []*types.SessionMeta
	CreateSession(ctx context.Context, name string, platform types.Platform) *types.SessionMeta
	SelectSession(ctx context.Context, sessionID string) bool
	CurrentSession(ctx context.Context) *types.SessionMeta
	SendMessage(ctx context.Context, content string, files []sessions.Attachment) bool
	WaitSent(ctx context.Context, sessionID string) types.SendPhase
	Messages() []types.MessageWithParts
	SessionStatus(sessionID string) types.SessionStatus
	PendingQuestions() []types.PendingQuestion
	ReplyQuestion(ctx context.Context, requestID string, answers [][]string) bool
	RejectQuestion(ctx context.Context, requestID string) bool
	StopSession(ctx context.Context) bool
	DeleteSession(ctx context.Context, sessionID string) bool
	ForkSession(ctx context.Context, messageID string) *types.SessionMeta
	ForkSessionDesignsOnly(ctx context.Context) *types.SessionMeta
	RevertToMessage(ctx context.Context, messageID string) bool
	UnrevertSession(ctx context.Context) bool
	RenameSession(ctx context.Context, sessionID, name string) bool
	ToggleFavorite(ctx context.Context, sessionID string) bool
	LoadDesigns(ctx context.Context) []types.DesignFile
	DeleteDesign(ctx context.Context, filename string) bool
	ScreenPositions(sessionID string) []types.ScreenPosition
	MoveScreen(ctx context.Context, sessionID string, position types.ScreenPosition) bool
	Subscribe(sessionID string, fn func(sessionID string)) func()
	Error() string
	ClearError()
	Providers(ctx context.Context) (*opencode.ProviderCatalog, error)
	AuthMethods(ctx context.Context) (map[string][]opencode.AuthMethod, error)
	SetAPIKey(ctx context.Context, providerID, key string) error
	OAuthAuthorize(ctx context.Context, providerID string, method int) (*opencode.OAuthAuthorization, error)
	OAuthCallback(ctx context.Context, providerID string, method int, code string) error
	Close() error
}

type appCore struct {
	*sessions.Orchestrator
	app *app.App
}

func newAppCoreFactory(logOutput io.Writer) coreFactory {
	return func(ctx context.Context, opts coreOptions) (sessionCore, error) {
		a, err := app.Init(ctx, app.Options{
			LogOutput:    logOutput,
			Live:         opts.Live,
			WatchDesigns: opts.WatchDesigns,
			AutoStart:    true,
		})
		if err != nil {
			return nil, err
		}
		return &appCore{Orchestrator: a.Orchestrator, app: a}, nil
	}
}

func (c *appCore) Providers(ctx context.Context) (*opencode.ProviderCatalog, error) {
	return c.app.Client.ListProviders(ctx)
}

func (c *appCore) AuthMethods(ctx context.Context) (map[string][]opencode.AuthMethod, error) {
	return c.app.Client.AuthMethods(ctx)
}

func (c *appCore) SetAPIKey(ctx context.Context, providerID, key string) error {
	return c.app.Client.SetAPIKey(ctx, providerID, key)
}

func (c *appCore) OAuthAuthorize(ctx context.Context, providerID string, method int) (*opencode.OAuthAuthorization, error) {
	return c.app.Client.OAuthAuthorize(ctx, providerID, method)
}

func (c *appCore) OAuthCallback(ctx context.Context, providerID string, method int, code string) error {
	return c.app.Client.OAuthCallback(ctx, providerID, method, code)
}

func (c *appCore) Close() error {
	return c.app.Teardown()
}
