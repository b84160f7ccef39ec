package models

import "time"

// Session flows.
const (
	SessionFlowStandard = "standard"
	SessionFlowShort    = "short"
)

// Session is the authoritative session row held by the primary store. Only the token hash is kept.
type Session struct {
	BaseModel

	UserID     string    `gorm:"type:uuid;not null;index" json:"user_id" validate:"required"`
	TokenHash  string    `gorm:"uniqueIndex;not null" json:"-"`
	Flow       string    `gorm:"type:varchar(16);not null" json:"flow" validate:"required,oneof=standard short"`
	IPAddress  string    `json:"ip_address"`
	UserAgent  string    `json:"user_agent"`
	ExpiresAt  time.Time `gorm:"index" json:"expires_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}

func (Session) EntityName() string { return EntitySession }

func (s Session) ExpiresTime() time.Time { return s.ExpiresAt }

// SessionMirror is the real-time copy of a session, keyed by token hash.
type SessionMirror struct {
	BaseModel

	TokenHash string    `json:"token_hash"`
	UserID    string    `json:"user_id"`
	Flow      string    `json:"flow"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (SessionMirror) EntityName() string { return EntitySessionMirror }

func (m SessionMirror) EntityKey() string { return m.TokenHash }

func (m SessionMirror) ExpiresTime() time.Time { return m.ExpiresAt }
