package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BaseModel provides shared fields for all persistent models.
type BaseModel struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate ensures UUID identifiers are generated automatically.
func (m *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// EntityKey returns the identifier used by every store for this record.
func (m BaseModel) EntityKey() string {
	return m.ID
}

// CreatedTime returns the creation timestamp used for newest-first ordering.
func (m BaseModel) CreatedTime() time.Time {
	return m.CreatedAt
}

// Stamp assigns an identifier and timestamps ahead of a write that may not pass through gorm hooks.
func (m *BaseModel) Stamp(now time.Time) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
}
