package models

import "gorm.io/datatypes"

// Listing statuses.
const (
	ListingActive    = "active"
	ListingSold      = "sold"
	ListingWithdrawn = "withdrawn"
)

// Listing is a marketplace item offered by a user.
type Listing struct {
	BaseModel

	SellerID    string         `gorm:"type:uuid;not null;index" json:"seller_id" validate:"required"`
	Title       string         `gorm:"type:varchar(160);not null" json:"title" validate:"required,max=160"`
	Description string         `gorm:"type:text" json:"description"`
	Price       int64          `gorm:"not null" json:"price" validate:"gte=0"`
	Currency    string         `gorm:"type:varchar(3);not null" json:"currency" validate:"required,currency"`
	Region      string         `gorm:"type:varchar(32);index" json:"region" validate:"omitempty,region"`
	Status      string         `gorm:"type:varchar(16);not null;index" json:"status" validate:"required,oneof=active sold withdrawn"`
	Attributes  datatypes.JSON `json:"attributes,omitempty"`
}

func (Listing) EntityName() string { return EntityListing }
