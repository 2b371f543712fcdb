// Package realtime holds the in-memory view of every session's messages,
// parts, run status, and pending questions. All mutation goes through the
// named actions on Store; subscribers are notified after the lock is
// released.
package realtime

import (
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"dilag/internal/types"
)

type sessionData struct {
	messages  []types.Message
	parts     map[string][]types.Part
	status    types.SessionStatus
	phase     types.SendPhase
	revert    *types.RevertInfo
	lastError string
	questions []types.PendingQuestion
	positions map[string]types.ScreenPosition
}

func newSessionData() *sessionData {
	return &sessionData{
		parts:     map[string][]types.Part{},
		status:    types.SessionIdle,
		phase:     types.SendIdle,
		positions: map[string]types.ScreenPosition{},
	}
}

func (d *sessionData) messageIndex(messageID string) int {
	for i := range d.messages {
		if d.messages[i].ID == messageID {
			return i
		}
	}
	return -1
}

type listener struct {
	sessionID string
	fn        func(sessionID string)
}

type Store struct {
	mu        sync.Mutex
	sessions  map[string]*sessionData
	known     func(sessionID string) bool
	listeners map[int]listener
	nextID    int
	now       func() time.Time
}

func NewStore() *Store {
	return &Store{
		sessions:  map[string]*sessionData{},
		listeners: map[int]listener{},
		now:       time.Now,
	}
}

// SetKnown installs the predicate Apply uses to ignore events for sessions
// that have no local metadata.
func (s *Store) SetKnown(known func(sessionID string) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.known = known
}

// Subscribe calls fn after every change to sessionID.
func (s *Store) Subscribe(sessionID string, fn func(sessionID string)) func() {
	return s.addListener(sessionID, fn)
}

// SubscribeAll calls fn after every change to any session.
func (s *Store) SubscribeAll(fn func(sessionID string)) func() {
	return s.addListener("", fn)
}

func (s *Store) addListener(sessionID string, fn func(string)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = listener{sessionID: sessionID, fn: fn}
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// mutate runs fn under the lock and notifies listeners for sessionID when
// fn reports a change.
func (s *Store) mutate(sessionID string, fn func(data *sessionData) bool) bool {
	s.mu.Lock()
	data, ok := s.sessions[sessionID]
	if !ok {
		data = newSessionData()
	}
	changed := fn(data)
	if changed && !ok {
		s.sessions[sessionID] = data
	}
	listeners := s.listenersForLocked(changed, sessionID)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(sessionID)
	}
	return changed
}

func (s *Store) listenersForLocked(changed bool, sessionID string) []func(string) {
	if !changed {
		return nil
	}
	out := make([]func(string), 0, len(s.listeners))
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		l := s.listeners[id]
		if l.sessionID == "" || l.sessionID == sessionID {
			out = append(out, l.fn)
		}
	}
	return out
}

// SetMessages replaces a session's history. Parts are merged through the
// same path as live updates so a newer live part is not rolled back.
func (s *Store) SetMessages(sessionID string, history []types.MessageWithParts) {
	s.mutate(sessionID, func(data *sessionData) bool {
		messages := make([]types.Message, 0, len(history))
		parts := make(map[string][]types.Part, len(history))
		for _, item := range history {
			if item.Info.ID == "" {
				continue
			}
			messages = append(messages, item.Info)
			current := data.parts[item.Info.ID]
			for _, part := range item.Parts {
				current, _ = mergePart(current, part)
			}
			parts[item.Info.ID] = current
		}
		data.messages = messages
		data.parts = parts
		return true
	})
}

func (s *Store) UpsertMessage(info types.Message) bool {
	if info.ID == "" || info.SessionID == "" {
		return false
	}
	return s.mutate(info.SessionID, func(data *sessionData) bool {
		idx := data.messageIndex(info.ID)
		if idx < 0 {
			data.messages = append(data.messages, info)
			return true
		}
		if reflect.DeepEqual(data.messages[idx], info) {
			return false
		}
		data.messages[idx] = info
		return true
	})
}

func (s *Store) RemoveMessage(sessionID, messageID string) bool {
	return s.mutate(sessionID, func(data *sessionData) bool {
		idx := data.messageIndex(messageID)
		_, hasParts := data.parts[messageID]
		if idx < 0 && !hasParts {
			return false
		}
		if idx >= 0 {
			data.messages = append(data.messages[:idx], data.messages[idx+1:]...)
		}
		delete(data.parts, messageID)
		return true
	})
}

// UpdatePart upserts a part by id. Re-delivering an identical part, a tool
// state that would move backwards, or a lower revision is a no-op.
func (s *Store) UpdatePart(part types.Part) bool {
	if part == nil {
		return false
	}
	base := part.Base()
	if base.ID == "" || base.SessionID == "" || base.MessageID == "" {
		return false
	}
	return s.mutate(base.SessionID, func(data *sessionData) bool {
		merged, changed := mergePart(data.parts[base.MessageID], part)
		if changed {
			data.parts[base.MessageID] = merged
		}
		return changed
	})
}

func (s *Store) RemovePart(sessionID, messageID, partID string) bool {
	return s.mutate(sessionID, func(data *sessionData) bool {
		parts := data.parts[messageID]
		for i := range parts {
			if parts[i].Base().ID == partID {
				data.parts[messageID] = append(parts[:i:i], parts[i+1:]...)
				return true
			}
		}
		return false
	})
}

func (s *Store) SetSessionStatus(sessionID string, status types.SessionStatus) bool {
	return s.mutate(sessionID, func(data *sessionData) bool {
		changed := data.status != status
		data.status = status
		if status == types.SessionIdle && data.phase != types.SendIdle && data.phase != types.SendFailed {
			data.phase = types.SendIdle
			changed = true
		}
		return changed
	})
}

// SetSendPhase advances the send state machine. Sending and failed also set
// the run status; confirmed leaves the status to the event stream.
func (s *Store) SetSendPhase(sessionID string, phase types.SendPhase) bool {
	return s.mutate(sessionID, func(data *sessionData) bool {
		changed := data.phase != phase
		data.phase = phase
		switch phase {
		case types.SendSending, types.SendFailed:
			if status := phase.Status(); data.status != status {
				data.status = status
				changed = true
			}
		}
		return changed
	})
}

func (s *Store) SetSessionRevert(sessionID string, revert *types.RevertInfo) bool {
	return s.mutate(sessionID, func(data *sessionData) bool {
		if reflect.DeepEqual(data.revert, revert) {
			return false
		}
		if revert == nil {
			data.revert = nil
		} else {
			clone := *revert
			data.revert = &clone
		}
		return true
	})
}

func (s *Store) SetSessionError(sessionID, message string) bool {
	return s.mutate(sessionID, func(data *sessionData) bool {
		if data.lastError == message {
			return false
		}
		data.lastError = message
		return true
	})
}

func (s *Store) AddQuestion(question types.PendingQuestion) bool {
	if question.ID == "" || question.SessionID == "" {
		return false
	}
	if question.AskedAt.IsZero() {
		question.AskedAt = s.now()
	}
	return s.mutate(question.SessionID, func(data *sessionData) bool {
		for i := range data.questions {
			if data.questions[i].ID == question.ID {
				question.AskedAt = data.questions[i].AskedAt
				if reflect.DeepEqual(data.questions[i], question) {
					return false
				}
				data.questions[i] = question
				return true
			}
		}
		data.questions = append(data.questions, question)
		return true
	})
}

// RemoveQuestion drops requestID from whichever session holds it.
func (s *Store) RemoveQuestion(requestID string) bool {
	s.mu.Lock()
	sessionID := ""
	for id, data := range s.sessions {
		for _, question := range data.questions {
			if question.ID == requestID {
				sessionID = id
			}
		}
	}
	s.mu.Unlock()
	if sessionID == "" {
		return false
	}
	return s.mutate(sessionID, func(data *sessionData) bool {
		for i := range data.questions {
			if data.questions[i].ID == requestID {
				data.questions = append(data.questions[:i:i], data.questions[i+1:]...)
				return true
			}
		}
		return false
	})
}

// AbortRunningTools marks every pending or running tool part in the session
// as failed with ToolAbortedMessage. It returns the number of parts changed.
func (s *Store) AbortRunningTools(sessionID string) int {
	aborted := 0
	end := s.now().UnixMilli()
	s.mutate(sessionID, func(data *sessionData) bool {
		for messageID, parts := range data.parts {
			for i, part := range parts {
				tool, ok := part.(types.ToolPart)
				if !ok || tool.State.Status.Terminal() {
					continue
				}
				tool.State.Status = types.ToolError
				tool.State.Error = types.ToolAbortedMessage
				if tool.State.Time == nil {
					tool.State.Time = &types.ToolTime{}
				} else {
					t := *tool.State.Time
					tool.State.Time = &t
				}
				tool.State.Time.End = end
				data.parts[messageID][i] = tool
				aborted++
			}
		}
		return aborted > 0
	})
	return aborted
}

// SetScreenPositions replaces the positions held for a session, typically
// with the persisted layout.
func (s *Store) SetScreenPositions(sessionID string, positions []types.ScreenPosition) {
	s.mutate(sessionID, func(data *sessionData) bool {
		data.positions = make(map[string]types.ScreenPosition, len(positions))
		for _, position := range positions {
			data.positions[position.ID] = position
		}
		return true
	})
}

func (s *Store) SetScreenPosition(sessionID string, position types.ScreenPosition) bool {
	if strings.TrimSpace(position.ID) == "" {
		return false
	}
	return s.mutate(sessionID, func(data *sessionData) bool {
		if current, ok := data.positions[position.ID]; ok && current == position {
			return false
		}
		data.positions[position.ID] = position
		return true
	})
}

// EnsureScreenPositions places every design id that has no position on the
// next free grid cell and returns the positions it created.
func (s *Store) EnsureScreenPositions(sessionID string, designIDs []string) []types.ScreenPosition {
	var created []types.ScreenPosition
	s.mutate(sessionID, func(data *sessionData) bool {
		for _, id := range designIDs {
			if id == "" {
				continue
			}
			if _, ok := data.positions[id]; ok {
				continue
			}
			position := gridPosition(len(data.positions))
			position.ID = id
			data.positions[id] = position
			created = append(created, position)
		}
		return len(created) > 0
	})
	return created
}

func (s *Store) ClearSessionData(sessionID string) bool {
	s.mu.Lock()
	_, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	listeners := s.listenersForLocked(ok, sessionID)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(sessionID)
	}
	return ok
}

// ResetRealtimeState drops everything except screen positions, which only
// change on explicit layout edits or session delete.
func (s *Store) ResetRealtimeState() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id, data := range s.sessions {
		ids = append(ids, id)
		positions := data.positions
		fresh := newSessionData()
		fresh.positions = positions
		s.sessions[id] = fresh
	}
	sort.Strings(ids)
	notify := make(map[string][]func(string), len(ids))
	for _, id := range ids {
		notify[id] = s.listenersForLocked(true, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		for _, fn := range notify[id] {
			fn(id)
		}
	}
}
