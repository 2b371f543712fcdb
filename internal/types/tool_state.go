package types

import "strings"

type ToolStatus string

const (
	ToolPending   ToolStatus = "pending"
	ToolRunning   ToolStatus = "running"
	ToolCompleted ToolStatus = "completed"
	ToolError     ToolStatus = "error"
)

const ToolAbortedMessage = "Tool execution aborted"

type ToolTime struct {
	Start int64 `json:"start,omitempty"`
	End   int64 `json:"end,omitempty"`
}

type ToolState struct {
	Status   ToolStatus     `json:"status"`
	Input    map[string]any `json:"input,omitempty"`
	Output   string         `json:"output,omitempty"`
	Error    string         `json:"error,omitempty"`
	Title    string         `json:"title,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Time     *ToolTime      `json:"time,omitempty"`
}

func NormalizeToolStatus(raw ToolStatus) ToolStatus {
	switch ToolStatus(strings.ToLower(strings.TrimSpace(string(raw)))) {
	case ToolRunning:
		return ToolRunning
	case ToolCompleted:
		return ToolCompleted
	case ToolError:
		return ToolError
	default:
		return ToolPending
	}
}

// Rank orders tool states along pending -> running -> completed|error.
func (s ToolStatus) Rank() int {
	switch s {
	case ToolRunning:
		return 1
	case ToolCompleted, ToolError:
		return 2
	default:
		return 0
	}
}

func (s ToolStatus) Terminal() bool {
	return s.Rank() == 2
}
