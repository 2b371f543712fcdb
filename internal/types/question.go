package types

import "time"

type QuestionOption struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

type Question struct {
	Question string           `json:"question"`
	Header   string           `json:"header,omitempty"`
	Options  []QuestionOption `json:"options,omitempty"`
	Multiple bool             `json:"multiple,omitempty"`
}

type QuestionTool struct {
	MessageID string `json:"messageID"`
	CallID    string `json:"callID"`
}

// PendingQuestion is an interactive prompt raised by the agent that blocks
// a tool call until it is answered.
type PendingQuestion struct {
	ID        string        `json:"id"`
	SessionID string        `json:"sessionID"`
	Questions []Question    `json:"questions"`
	Tool      *QuestionTool `json:"tool,omitempty"`
	AskedAt   time.Time     `json:"-"`
}
