package realtime

import (
	"dilag/internal/types"
)

// Apply folds one runtime event into the store. Events for sessions the
// known predicate rejects are dropped. It reports whether state changed.
func (s *Store) Apply(event types.Event) bool {
	sessionID := event.SessionID()
	if sessionID != "" && !s.isKnown(sessionID) {
		return false
	}
	switch payload := event.Payload.(type) {
	case types.SessionUpdated:
		return s.SetSessionRevert(payload.Info.ID, payload.Info.Revert)
	case types.SessionDeleted:
		return s.ClearSessionData(payload.Info.ID)
	case types.SessionStatusChanged:
		return s.SetSessionStatus(payload.SessionID, runtimeStatus(payload.Status.Type))
	case types.SessionIdleEvent:
		return s.SetSessionStatus(payload.SessionID, types.SessionIdle)
	case types.SessionErrored:
		return s.applySessionError(payload)
	case types.MessageUpdated:
		return s.UpsertMessage(payload.Info)
	case types.MessageRemoved:
		return s.RemoveMessage(payload.SessionID, payload.MessageID)
	case types.PartUpdated:
		return s.UpdatePart(payload.Part)
	case types.PartRemoved:
		return s.RemovePart(payload.SessionID, payload.MessageID, payload.PartID)
	case types.QuestionAsked:
		return s.AddQuestion(payload.PendingQuestion)
	case types.QuestionReplied:
		return s.RemoveQuestion(payload.RequestID)
	case types.QuestionRejected:
		return s.RemoveQuestion(payload.RequestID)
	default:
		return false
	}
}

func (s *Store) isKnown(sessionID string) bool {
	s.mu.Lock()
	known := s.known
	s.mu.Unlock()
	return known == nil || known(sessionID)
}

func (s *Store) applySessionError(payload types.SessionErrored) bool {
	if payload.SessionID == "" {
		return false
	}
	if payload.Error != nil && payload.Error.Aborted() {
		aborted := s.AbortRunningTools(payload.SessionID) > 0
		return s.SetSessionStatus(payload.SessionID, types.SessionIdle) || aborted
	}
	message := "session error"
	if payload.Error != nil {
		if msg := payload.Error.Message(); msg != "" {
			message = msg
		}
	}
	changed := s.SetSessionError(payload.SessionID, message)
	if s.SetSendPhase(payload.SessionID, types.SendFailed) {
		changed = true
	}
	return changed
}

func runtimeStatus(raw string) types.SessionStatus {
	switch raw {
	case "busy", "retry":
		return types.SessionBusy
	case "running":
		return types.SessionRunning
	case "error":
		return types.SessionError
	default:
		return types.SessionIdle
	}
}
