package sessions

import (
	"context"

	"dilag/internal/logging"
	"dilag/internal/types"
)

func (o *Orchestrator) handleEvent(event types.Event) {
	changed := o.realtime.Apply(event)
	switch payload := event.Payload.(type) {
	case types.QuestionAsked:
		if changed {
			o.startQuestionTimer(payload.PendingQuestion)
		}
	case types.QuestionReplied:
		o.stopQuestionTimer(payload.RequestID)
	case types.QuestionRejected:
		o.stopQuestionTimer(payload.RequestID)
	}
}

// handleConnection runs the reconnect bootstrap on each edge from a
// non-connected state to connected, skipping the very first connection.
func (o *Orchestrator) handleConnection(state types.ConnectionState) {
	o.mu.Lock()
	prev := o.connStatus
	o.connStatus = state.Status
	if state.Status != types.ConnectionConnected || prev == types.ConnectionConnected {
		o.mu.Unlock()
		return
	}
	first := !o.connectedOnce
	o.connectedOnce = true
	current := o.current
	o.mu.Unlock()
	if first {
		return
	}
	ctx := beginOp(o.ctx)
	o.log(ctx).Info("reconnect_bootstrap", logging.F("current_session", current))
	o.stopAllQuestionTimers()
	o.realtime.ResetRealtimeState()
	o.list.Invalidate()
	if current == "" {
		return
	}
	meta, ok := o.lookup(ctx, current)
	if !ok {
		return
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.reloadMessages(ctx, meta)
	}()
}

// Bootstrap runs the reconnect bootstrap immediately, for callers that
// know the runtime restarted.
func (o *Orchestrator) Bootstrap(ctx context.Context) {
	ctx = beginOp(ctx)
	o.stopAllQuestionTimers()
	o.realtime.ResetRealtimeState()
	o.list.Invalidate()
	if meta, ok := o.currentMeta(ctx); ok {
		o.reloadMessages(ctx, meta)
	}
}
