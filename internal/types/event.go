package types

import (
	"encoding/json"
	"fmt"
)

type EventType string

const (
	EventServerConnected  EventType = "server.connected"
	EventSessionUpdated   EventType = "session.updated"
	EventSessionDeleted   EventType = "session.deleted"
	EventSessionStatus    EventType = "session.status"
	EventSessionIdle      EventType = "session.idle"
	EventSessionError     EventType = "session.error"
	EventMessageUpdated   EventType = "message.updated"
	EventMessageRemoved   EventType = "message.removed"
	EventPartUpdated      EventType = "message.part.updated"
	EventPartRemoved      EventType = "message.part.removed"
	EventQuestionAsked    EventType = "question.asked"
	EventQuestionReplied  EventType = "question.replied"
	EventQuestionRejected EventType = "question.rejected"
)

// Event is one server-sent event from the agent runtime. Payload holds the
// decoded properties; unmodelled event types decode to UnknownEvent.
type Event struct {
	Type       EventType       `json:"type"`
	Properties json.RawMessage `json:"properties,omitempty"`
	Payload    EventPayload    `json:"-"`
}

type EventPayload interface {
	EventSessionID() string
}

type ServerConnected struct{}

type SessionUpdated struct {
	Info SessionInfo `json:"info"`
}

type SessionDeleted struct {
	Info SessionInfo `json:"info"`
}

type SessionStatusChanged struct {
	SessionID string `json:"sessionID"`
	Status    struct {
		Type string `json:"type"`
	} `json:"status"`
}

type SessionIdleEvent struct {
	SessionID string `json:"sessionID"`
}

type SessionErrored struct {
	SessionID string    `json:"sessionID,omitempty"`
	Error     *APIError `json:"error,omitempty"`
}

type MessageUpdated struct {
	Info Message `json:"info"`
}

type MessageRemoved struct {
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
}

type PartUpdated struct {
	Part  Part
	Delta string
}

type PartRemoved struct {
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	PartID    string `json:"partID"`
}

type QuestionAsked struct {
	PendingQuestion
}

type QuestionReplied struct {
	SessionID string     `json:"sessionID"`
	RequestID string     `json:"requestID"`
	Answers   [][]string `json:"answers,omitempty"`
}

type QuestionRejected struct {
	SessionID string `json:"sessionID"`
	RequestID string `json:"requestID"`
}

type UnknownEvent struct {
	SessionID string `json:"sessionID,omitempty"`
}

func (ServerConnected) EventSessionID() string        { return "" }
func (e SessionUpdated) EventSessionID() string       { return e.Info.ID }
func (e SessionDeleted) EventSessionID() string       { return e.Info.ID }
func (e SessionStatusChanged) EventSessionID() string { return e.SessionID }
func (e SessionIdleEvent) EventSessionID() string     { return e.SessionID }
func (e SessionErrored) EventSessionID() string       { return e.SessionID }
func (e MessageUpdated) EventSessionID() string       { return e.Info.SessionID }
func (e MessageRemoved) EventSessionID() string       { return e.SessionID }
func (e PartRemoved) EventSessionID() string          { return e.SessionID }
func (e QuestionAsked) EventSessionID() string        { return e.SessionID }
func (e QuestionReplied) EventSessionID() string      { return e.SessionID }
func (e QuestionRejected) EventSessionID() string     { return e.SessionID }
func (e UnknownEvent) EventSessionID() string         { return e.SessionID }

func (e PartUpdated) EventSessionID() string {
	if e.Part == nil {
		return ""
	}
	return e.Part.Base().SessionID
}

func (e Event) SessionID() string {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.EventSessionID()
}

func DecodeEvent(raw []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if event.Type == "" {
		return Event{}, fmt.Errorf("decode event: missing type")
	}
	payload, err := decodeEventPayload(event.Type, event.Properties)
	if err != nil {
		return Event{}, fmt.Errorf("decode %s: %w", event.Type, err)
	}
	event.Payload = payload
	return event, nil
}

func decodeEventPayload(eventType EventType, props json.RawMessage) (EventPayload, error) {
	if len(props) == 0 {
		props = json.RawMessage("{}")
	}
	switch eventType {
	case EventServerConnected:
		return ServerConnected{}, nil
	case EventSessionUpdated:
		return decodePayload[SessionUpdated](props)
	case EventSessionDeleted:
		return decodePayload[SessionDeleted](props)
	case EventSessionStatus:
		return decodePayload[SessionStatusChanged](props)
	case EventSessionIdle:
		return decodePayload[SessionIdleEvent](props)
	case EventSessionError:
		return decodePayload[SessionErrored](props)
	case EventMessageUpdated:
		return decodePayload[MessageUpdated](props)
	case EventMessageRemoved:
		return decodePayload[MessageRemoved](props)
	case EventPartUpdated:
		var raw struct {
			Part  json.RawMessage `json:"part"`
			Delta string          `json:"delta"`
		}
		if err := json.Unmarshal(props, &raw); err != nil {
			return nil, err
		}
		part, err := DecodePart(raw.Part)
		if err != nil {
			return nil, err
		}
		return PartUpdated{Part: part, Delta: raw.Delta}, nil
	case EventPartRemoved:
		return decodePayload[PartRemoved](props)
	case EventQuestionAsked:
		return decodePayload[QuestionAsked](props)
	case EventQuestionReplied:
		return decodePayload[QuestionReplied](props)
	case EventQuestionRejected:
		return decodePayload[QuestionRejected](props)
	default:
		return decodePayload[UnknownEvent](props)
	}
}

func decodePayload[T EventPayload](props json.RawMessage) (EventPayload, error) {
	var out T
	if err := json.Unmarshal(props, &out); err != nil {
		return nil, err
	}
	return out, nil
}
