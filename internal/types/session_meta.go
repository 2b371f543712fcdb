package types

import (
	"strings"
	"time"
)

type Platform string

const (
	PlatformWeb    Platform = "web"
	PlatformMobile Platform = "mobile"
)

func NormalizePlatform(raw Platform) Platform {
	switch Platform(strings.ToLower(strings.TrimSpace(string(raw)))) {
	case PlatformMobile:
		return PlatformMobile
	default:
		return PlatformWeb
	}
}

// SessionMeta is the locally persisted record of a design session. ID is
// assigned by the agent runtime when the remote session is created.
type SessionMeta struct {
	ID        string     `json:"id" yaml:"id"`
	Name      string     `json:"name" yaml:"name"`
	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
	Cwd       string     `json:"cwd" yaml:"cwd"`
	Platform  Platform   `json:"platform,omitempty" yaml:"platform,omitempty"`
	Favorite  bool       `json:"favorite,omitempty" yaml:"favorite,omitempty"`
	ParentID  string     `json:"parentID,omitempty" yaml:"parent_id,omitempty"`
}

func CloneSessionMeta(meta *SessionMeta) *SessionMeta {
	if meta == nil {
		return nil
	}
	out := *meta
	if meta.UpdatedAt != nil {
		ts := *meta.UpdatedAt
		out.UpdatedAt = &ts
	}
	return &out
}

func (m *SessionMeta) LastActivity() time.Time {
	if m == nil {
		return time.Time{}
	}
	if m.UpdatedAt != nil && m.UpdatedAt.After(m.CreatedAt) {
		return *m.UpdatedAt
	}
	return m.CreatedAt
}
