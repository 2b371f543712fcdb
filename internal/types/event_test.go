package types

import "testing"

func TestDecodeEventPartUpdatedTool(t *testing.T) {
	raw := `{"type":"message.part.updated","properties":{"part":{"id":"prt_1","messageID":"msg_1","sessionID":"ses_1","type":"tool","callID":"call_1","tool":"write","state":{"status":"RUNNING","input":{"filePath":"screens/home.html"}}}}}`
	event, err := DecodeEvent([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if event.SessionID() != "ses_1" {
		t.Fatalf("expected session id ses_1, got %q", event.SessionID())
	}
	payload, ok := event.Payload.(PartUpdated)
	if !ok {
		t.Fatalf("expected PartUpdated payload, got %T", event.Payload)
	}
	tool, ok := payload.Part.(ToolPart)
	if !ok {
		t.Fatalf("expected ToolPart, got %T", payload.Part)
	}
	if tool.State.Status != ToolRunning {
		t.Fatalf("expected normalized running status, got %q", tool.State.Status)
	}
	if tool.Tool != "write" || tool.CallID != "call_1" {
		t.Fatalf("unexpected tool part: %+v", tool)
	}
}

func TestDecodeEventSessionStatus(t *testing.T) {
	event, err := DecodeEvent([]byte(`{"type":"session.status","properties":{"sessionID":"ses_2","status":{"type":"busy"}}}`))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	payload, ok := event.Payload.(SessionStatusChanged)
	if !ok {
		t.Fatalf("expected SessionStatusChanged, got %T", event.Payload)
	}
	if payload.Status.Type != "busy" || event.SessionID() != "ses_2" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestDecodeEventQuestionAsked(t *testing.T) {
	raw := `{"type":"question.asked","properties":{"id":"que_1","sessionID":"ses_3","questions":[{"question":"Which palette?","options":[{"label":"Warm"},{"label":"Cool"}]}],"tool":{"messageID":"msg_1","callID":"call_9"}}}`
	event, err := DecodeEvent([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	payload, ok := event.Payload.(QuestionAsked)
	if !ok {
		t.Fatalf("expected QuestionAsked, got %T", event.Payload)
	}
	if payload.ID != "que_1" || len(payload.Questions) != 1 || len(payload.Questions[0].Options) != 2 {
		t.Fatalf("unexpected question: %+v", payload.PendingQuestion)
	}
	if payload.Tool == nil || payload.Tool.CallID != "call_9" {
		t.Fatalf("expected tool reference")
	}
}

func TestDecodeEventUnknownTypeKeepsSession(t *testing.T) {
	event, err := DecodeEvent([]byte(`{"type":"session.compacted","properties":{"sessionID":"ses_4"}}`))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if _, ok := event.Payload.(UnknownEvent); !ok {
		t.Fatalf("expected UnknownEvent, got %T", event.Payload)
	}
	if event.SessionID() != "ses_4" {
		t.Fatalf("expected session id ses_4, got %q", event.SessionID())
	}
}

func TestDecodeEventRejectsMissingType(t *testing.T) {
	if _, err := DecodeEvent([]byte(`{"properties":{}}`)); err == nil {
		t.Fatalf("expected error for missing type")
	}
}

func TestDecodeEventSessionIdle(t *testing.T) {
	event, err := DecodeEvent([]byte(`{"type":"session.idle","properties":{"sessionID":"ses_4"}}`))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	payload, ok := event.Payload.(SessionIdleEvent)
	if !ok {
		t.Fatalf("expected SessionIdleEvent, got %T", event.Payload)
	}
	if payload.SessionID != "ses_4" || event.SessionID() != "ses_4" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}
