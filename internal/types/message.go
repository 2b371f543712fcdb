package types

import "encoding/json"

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

type MessageTime struct {
	Created   int64 `json:"created"`
	Completed int64 `json:"completed,omitempty"`
}

type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"sessionID"`
	Role      MessageRole `json:"role"`
	Time      MessageTime `json:"time"`
	Error     *APIError   `json:"error,omitempty"`
}

// APIError is the error shape the agent runtime attaches to assistant
// messages and session.error events.
type APIError struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
}

func (e *APIError) Message() string {
	if e == nil {
		return ""
	}
	var data struct {
		Message string `json:"message"`
	}
	if len(e.Data) > 0 && json.Unmarshal(e.Data, &data) == nil && data.Message != "" {
		return data.Message
	}
	return e.Name
}

func (e *APIError) Aborted() bool {
	return e != nil && e.Name == "MessageAbortedError"
}

// MessageWithParts is the bulk history shape returned by the runtime.
type MessageWithParts struct {
	Info  Message `json:"info"`
	Parts []Part  `json:"-"`
}

func (m *MessageWithParts) UnmarshalJSON(data []byte) error {
	var raw struct {
		Info  Message           `json:"info"`
		Parts []json.RawMessage `json:"parts"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Info = raw.Info
	m.Parts = make([]Part, 0, len(raw.Parts))
	for _, item := range raw.Parts {
		part, err := DecodePart(item)
		if err != nil {
			return err
		}
		m.Parts = append(m.Parts, part)
	}
	return nil
}

func (m MessageWithParts) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Info  Message `json:"info"`
		Parts []Part  `json:"parts"`
	}{Info: m.Info, Parts: m.Parts})
}
