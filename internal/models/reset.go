package models

import "time"

// Credential kinds that can be reset.
const (
	ResetKindPassword = "password"
	ResetKindPin      = "pin"
)

// Delivery methods recorded on a reset request.
const (
	ResetMethodEmail = "email"
	ResetMethodSMS   = "sms"
)

// ResetKey is the real-time document key for a user's live reset request of a kind.
func ResetKey(userID, kind string) string {
	return userID + ":" + kind
}

// ResetRequest is the live reset document held in the real-time store.
type ResetRequest struct {
	BaseModel

	UserID    string    `json:"user_id" validate:"required"`
	Kind      string    `json:"kind" validate:"required,oneof=password pin"`
	Method    string    `json:"method" validate:"required,oneof=email sms"`
	Code      string    `json:"code" validate:"required,alphanum,uppercase"`
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"used"`
	Attempts  int       `json:"attempts"`
}

func (ResetRequest) EntityName() string { return EntityResetRequest }

func (r ResetRequest) EntityKey() string { return ResetKey(r.UserID, r.Kind) }

func (r ResetRequest) ExpiresTime() time.Time { return r.ExpiresAt }

// ResetMarker is the primary-store record that arbitrates single use of a reset code.
type ResetMarker struct {
	BaseModel

	UserID      string     `gorm:"type:uuid;not null;index" json:"user_id" validate:"required"`
	Kind        string     `gorm:"type:varchar(16);not null" json:"kind" validate:"required,oneof=password pin"`
	Method      string     `gorm:"type:varchar(16);not null" json:"method" validate:"required,oneof=email sms"`
	CodeDigest  string     `gorm:"type:varchar(64);not null" json:"-"`
	ExpiresAt   time.Time  `gorm:"index" json:"expires_at"`
	UsedAt      *time.Time `json:"used_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (ResetMarker) EntityName() string { return EntityResetMarker }

func (m ResetMarker) ExpiresTime() time.Time { return m.ExpiresAt }
