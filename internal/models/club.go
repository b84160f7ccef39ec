package models

import "time"

// Club contribution cycles.
const (
	CycleWeekly  = "weekly"
	CycleMonthly = "monthly"
)

// Club is a rotating savings group.
type Club struct {
	BaseModel

	Name               string `gorm:"type:varchar(128);not null" json:"name" validate:"required,max=128"`
	Description        string `gorm:"type:text" json:"description"`
	OwnerID            string `gorm:"type:uuid;index;not null" json:"owner_id" validate:"required"`
	Region             string `gorm:"type:varchar(32);index" json:"region" validate:"omitempty,region"`
	ContributionAmount int64  `json:"contribution_amount" validate:"gte=0"`
	Currency           string `gorm:"type:varchar(3);not null" json:"currency" validate:"required,currency"`
	Cycle              string `gorm:"type:varchar(16);not null" json:"cycle" validate:"required,oneof=weekly monthly"`
	MemberLimit        int    `gorm:"default:12" json:"member_limit" validate:"gte=0,lte=500"`
}

func (Club) EntityName() string { return EntityClub }

// Membership roles.
const (
	MembershipRoleMember = "member"
	MembershipRoleAdmin  = "admin"
)

// Membership links a user to a club.
type Membership struct {
	BaseModel

	ClubID   string     `gorm:"type:uuid;not null;uniqueIndex:idx_membership_club_user" json:"club_id" validate:"required"`
	UserID   string     `gorm:"type:uuid;not null;uniqueIndex:idx_membership_club_user;index" json:"user_id" validate:"required"`
	Role     string     `gorm:"type:varchar(16);not null" json:"role" validate:"required,oneof=member admin"`
	Position int        `json:"position" validate:"gte=0"`
	LeftAt   *time.Time `json:"left_at,omitempty"`
}

func (Membership) EntityName() string { return EntityMembership }

// Payment statuses.
const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
)

// Payment records a contribution into a club.
type Payment struct {
	BaseModel

	ClubID    string     `gorm:"type:uuid;not null;index" json:"club_id" validate:"required"`
	UserID    string     `gorm:"type:uuid;not null;index" json:"user_id" validate:"required"`
	Amount    int64      `gorm:"not null" json:"amount" validate:"gt=0"`
	Currency  string     `gorm:"type:varchar(3);not null" json:"currency" validate:"required,currency"`
	Status    string     `gorm:"type:varchar(16);not null;index" json:"status" validate:"required,oneof=pending completed failed"`
	Reference string     `gorm:"uniqueIndex;not null" json:"reference" validate:"required,max=64"`
	PaidAt    *time.Time `json:"paid_at,omitempty"`
}

func (Payment) EntityName() string { return EntityPayment }
