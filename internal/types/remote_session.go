package types

type RevertInfo struct {
	MessageID string `json:"messageID"`
	PartID    string `json:"partID,omitempty"`
	Snapshot  string `json:"snapshot,omitempty"`
	Diff      string `json:"diff,omitempty"`
}

type SessionTime struct {
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
}

// SessionInfo is the agent runtime's view of a session.
type SessionInfo struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	Directory string      `json:"directory,omitempty"`
	ParentID  string      `json:"parentID,omitempty"`
	Version   string      `json:"version,omitempty"`
	Revert    *RevertInfo `json:"revert,omitempty"`
	Time      SessionTime `json:"time"`
}

type ModelRef struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}

func (m ModelRef) IsZero() bool {
	return m.ProviderID == "" || m.ModelID == ""
}

func (m ModelRef) String() string {
	if m.IsZero() {
		return ""
	}
	return m.ProviderID + "/" + m.ModelID
}
