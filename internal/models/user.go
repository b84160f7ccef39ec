package models

import "time"

// User is a member of the platform. Credential hashes never leave the primary store.
type User struct {
	BaseModel

	Username    string `gorm:"uniqueIndex;not null" json:"username" validate:"required,min=3,max=64"`
	Email       string `gorm:"uniqueIndex;not null" json:"email" validate:"required,email"`
	Phone       string `gorm:"type:varchar(32)" json:"phone" validate:"omitempty,e164"`
	DisplayName string `gorm:"type:varchar(128)" json:"display_name" validate:"max=128"`
	Region      string `gorm:"type:varchar(32);index" json:"region" validate:"omitempty,region"`
	AvatarURL   string `json:"avatar_url" validate:"omitempty,url"`

	PasswordHash string `gorm:"not null;default:''" json:"-"`
	PinHash      string `gorm:"not null;default:''" json:"-"`

	IsActive             bool       `gorm:"default:true" json:"is_active"`
	CredentialsUpdatedAt *time.Time `json:"credentials_updated_at,omitempty"`
	LastLoginAt          *time.Time `json:"last_login_at,omitempty"`
}

func (User) EntityName() string { return EntityUser }
