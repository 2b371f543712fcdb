package realtime

import (
	"sort"

	"dilag/internal/types"
)

// Snapshot is a read-only copy of one session's realtime state.
type Snapshot struct {
	Messages  []types.MessageWithParts
	Status    types.SessionStatus
	Phase     types.SendPhase
	Revert    *types.RevertInfo
	LastError string
	Questions []types.PendingQuestion
}

func (s *Store) Snapshot(sessionID string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.sessions[sessionID]
	if !ok {
		return Snapshot{Status: types.SessionIdle, Phase: types.SendIdle}
	}
	snap := Snapshot{
		Messages:  messagesLocked(data),
		Status:    data.status,
		Phase:     data.phase,
		LastError: data.lastError,
		Questions: append([]types.PendingQuestion(nil), data.questions...),
	}
	if data.revert != nil {
		revert := *data.revert
		snap.Revert = &revert
	}
	return snap
}

func messagesLocked(data *sessionData) []types.MessageWithParts {
	out := make([]types.MessageWithParts, 0, len(data.messages))
	for _, info := range data.messages {
		out = append(out, types.MessageWithParts{
			Info:  info,
			Parts: append([]types.Part(nil), data.parts[info.ID]...),
		})
	}
	return out
}

// Messages returns every message in arrival order, including any hidden by
// a revert marker.
func (s *Store) Messages(sessionID string) []types.MessageWithParts {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	return messagesLocked(data)
}

// VisibleMessages hides the revert marker message and everything after it.
func (s *Store) VisibleMessages(sessionID string) []types.MessageWithParts {
	snap := s.Snapshot(sessionID)
	return visibleMessages(snap.Messages, snap.Revert)
}

func visibleMessages(messages []types.MessageWithParts, revert *types.RevertInfo) []types.MessageWithParts {
	if revert == nil || revert.MessageID == "" {
		return messages
	}
	for i := range messages {
		if messages[i].Info.ID == revert.MessageID {
			return messages[:i]
		}
	}
	return messages
}

func (s *Store) Status(sessionID string) types.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if data, ok := s.sessions[sessionID]; ok {
		return data.status
	}
	return types.SessionIdle
}

func (s *Store) SendPhase(sessionID string) types.SendPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	if data, ok := s.sessions[sessionID]; ok {
		return data.phase
	}
	return types.SendIdle
}

// Question finds a pending question by request id across sessions.
func (s *Store) Question(requestID string) (types.PendingQuestion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, data := range s.sessions {
		for _, question := range data.questions {
			if question.ID == requestID {
				return question, true
			}
		}
	}
	return types.PendingQuestion{}, false
}

// PendingQuestions returns every pending question, oldest first.
func (s *Store) PendingQuestions() []types.PendingQuestion {
	s.mu.Lock()
	var out []types.PendingQuestion
	for _, data := range s.sessions {
		out = append(out, data.questions...)
	}
	s.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AskedAt.Equal(out[j].AskedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].AskedAt.Before(out[j].AskedAt)
	})
	return out
}

func (s *Store) ScreenPositions(sessionID string) []types.ScreenPosition {
	s.mu.Lock()
	data, ok := s.sessions[sessionID]
	var out []types.ScreenPosition
	if ok {
		out = make([]types.ScreenPosition, 0, len(data.positions))
		for _, position := range data.positions {
			out = append(out, position)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ActiveSessions lists sessions whose status is running or busy.
func (s *Store) ActiveSessions() []string {
	s.mu.Lock()
	var out []string
	for id, data := range s.sessions {
		if data.status.Active() {
			out = append(out, id)
		}
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}
