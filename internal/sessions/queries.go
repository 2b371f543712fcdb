package sessions

import (
	"context"

	"dilag/internal/types"
)

func (o *Orchestrator) Sessions(ctx context.Context) []*types.SessionMeta {
	sessions, err := o.list.Sessions(ctx)
	if err != nil {
		o.setError(ctx, "list sessions", err)
		return nil
	}
	return sessions
}

func (o *Orchestrator) CurrentSession(ctx context.Context) *types.SessionMeta {
	meta, ok := o.currentMeta(ctx)
	if !ok {
		return nil
	}
	return meta
}

func (o *Orchestrator) CurrentSessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// Messages returns the current session's history with reverted messages
// hidden.
func (o *Orchestrator) Messages() []types.MessageWithParts {
	id := o.CurrentSessionID()
	if id == "" {
		return nil
	}
	return o.realtime.VisibleMessages(id)
}

func (o *Orchestrator) IsLoading() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.loading
}

func (o *Orchestrator) SessionStatus(sessionID string) types.SessionStatus {
	return o.realtime.Status(sessionID)
}

func (o *Orchestrator) SendPhase(sessionID string) types.SendPhase {
	return o.realtime.SendPhase(sessionID)
}

func (o *Orchestrator) ScreenPositions(sessionID string) []types.ScreenPosition {
	return o.realtime.ScreenPositions(sessionID)
}

func (o *Orchestrator) Error() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastError
}

func (o *Orchestrator) ClearError() {
	o.mu.Lock()
	o.lastError = ""
	o.mu.Unlock()
}

func (o *Orchestrator) ConnectionStatus() types.ConnectionState {
	if o.events == nil {
		return types.ConnectionState{Status: types.ConnectionDisconnected}
	}
	return o.events.State()
}

// Subscribe calls fn after every realtime change to sessionID.
func (o *Orchestrator) Subscribe(sessionID string, fn func(sessionID string)) func() {
	return o.realtime.Subscribe(sessionID, fn)
}
