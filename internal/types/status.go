package types

type SessionStatus string

const (
	SessionIdle    SessionStatus = "idle"
	SessionRunning SessionStatus = "running"
	SessionBusy    SessionStatus = "busy"
	SessionError   SessionStatus = "error"
)

func (s SessionStatus) Active() bool {
	return s == SessionRunning || s == SessionBusy
}

// SendPhase tracks one outgoing prompt from the moment it is queued until
// the runtime confirms or rejects it.
type SendPhase string

const (
	SendIdle      SendPhase = "idle"
	SendSending   SendPhase = "sending"
	SendConfirmed SendPhase = "confirmed"
	SendFailed    SendPhase = "failed"
)

// Status maps a send phase onto the run status shown for the session.
func (p SendPhase) Status() SessionStatus {
	switch p {
	case SendSending, SendConfirmed:
		return SessionRunning
	case SendFailed:
		return SessionError
	default:
		return SessionIdle
	}
}

type ConnectionStatus string

const (
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionConnecting   ConnectionStatus = "connecting"
	ConnectionReconnecting ConnectionStatus = "reconnecting"
	ConnectionDisconnected ConnectionStatus = "disconnected"
)

type ConnectionState struct {
	Status   ConnectionStatus `json:"status"`
	Attempts int              `json:"attempts"`
}
