package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

type PartType string

const (
	PartText       PartType = "text"
	PartReasoning  PartType = "reasoning"
	PartTool       PartType = "tool"
	PartFile       PartType = "file"
	PartStepStart  PartType = "step-start"
	PartStepFinish PartType = "step-finish"
)

// Part is a typed fragment of a message. The concrete value is one of
// TextPart, ReasoningPart, ToolPart, FilePart, StepStartPart,
// StepFinishPart or UnknownPart.
type Part interface {
	Base() PartBase
	isPart()
}

type PartBase struct {
	ID        string   `json:"id"`
	MessageID string   `json:"messageID"`
	SessionID string   `json:"sessionID"`
	Type      PartType `json:"type"`
	// Revision is optional; when both sides carry one, lower revisions
	// never overwrite higher ones.
	Revision int64 `json:"revision,omitempty"`
}

func (b PartBase) Base() PartBase { return b }
func (PartBase) isPart()          {}

type PartTime struct {
	Start int64 `json:"start,omitempty"`
	End   int64 `json:"end,omitempty"`
}

type TextPart struct {
	PartBase
	Text      string    `json:"text"`
	Synthetic bool      `json:"synthetic,omitempty"`
	Time      *PartTime `json:"time,omitempty"`
}

type ReasoningPart struct {
	PartBase
	Text string    `json:"text"`
	Time *PartTime `json:"time,omitempty"`
}

type ToolPart struct {
	PartBase
	CallID string    `json:"callID,omitempty"`
	Tool   string    `json:"tool"`
	State  ToolState `json:"state"`
}

type FilePart struct {
	PartBase
	Mime     string `json:"mime"`
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
}

type StepStartPart struct {
	PartBase
}

type StepFinishPart struct {
	PartBase
	Reason string `json:"reason,omitempty"`
}

// UnknownPart keeps part kinds this client does not model so they survive
// a store round trip unchanged.
type UnknownPart struct {
	PartBase
	Raw json.RawMessage `json:"-"`
}

func (p UnknownPart) MarshalJSON() ([]byte, error) {
	if len(p.Raw) > 0 {
		return p.Raw, nil
	}
	return json.Marshal(p.PartBase)
}

var ErrPartMissingID = errors.New("part id is required")

func DecodePart(raw []byte) (Part, error) {
	var base PartBase
	if err := json.Unmarshal(raw, &base); err != nil {
		return nil, fmt.Errorf("decode part: %w", err)
	}
	if base.ID == "" {
		return nil, ErrPartMissingID
	}
	switch base.Type {
	case PartText:
		var part TextPart
		if err := decodeInto(raw, &part); err != nil {
			return nil, err
		}
		return part, nil
	case PartReasoning:
		var part ReasoningPart
		if err := decodeInto(raw, &part); err != nil {
			return nil, err
		}
		return part, nil
	case PartTool:
		var part ToolPart
		if err := decodeInto(raw, &part); err != nil {
			return nil, err
		}
		part.State.Status = NormalizeToolStatus(part.State.Status)
		return part, nil
	case PartFile:
		var part FilePart
		if err := decodeInto(raw, &part); err != nil {
			return nil, err
		}
		return part, nil
	case PartStepStart:
		return StepStartPart{PartBase: base}, nil
	case PartStepFinish:
		var part StepFinishPart
		if err := decodeInto(raw, &part); err != nil {
			return nil, err
		}
		return part, nil
	default:
		buf := make(json.RawMessage, len(raw))
		copy(buf, raw)
		return UnknownPart{PartBase: base, Raw: buf}, nil
	}
}

func decodeInto(raw []byte, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode part: %w", err)
	}
	return nil
}

// PartTextContent returns the displayable text of text and reasoning parts.
func PartTextContent(part Part) string {
	switch p := part.(type) {
	case TextPart:
		return p.Text
	case ReasoningPart:
		return p.Text
	default:
		return ""
	}
}
