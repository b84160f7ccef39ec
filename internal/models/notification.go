package models

import "time"

// Notification represents an in-app notification for a user. It lives in the real-time store.
type Notification struct {
	BaseModel

	UserID    string     `json:"user_id" validate:"required"`
	Type      string     `json:"type" validate:"required,max=64"`
	Title     string     `json:"title" validate:"required,max=255"`
	Message   string     `json:"message"`
	ActionURL string     `json:"action_url,omitempty"`
	IsRead    bool       `json:"is_read"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}

func (Notification) EntityName() string { return EntityNotification }
