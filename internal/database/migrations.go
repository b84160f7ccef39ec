package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/charlesng35/tandem/internal/models"
)

// SchemaVersion is bumped whenever primary tables change shape.
const SchemaVersion = "3"

// AutoMigrate creates or updates the primary store schema. Real-time-owned entities have no table here.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.SystemSetting{},
		&models.User{},
		&models.Club{},
		&models.Membership{},
		&models.Payment{},
		&models.Post{},
		&models.PostLike{},
		&models.PostComment{},
		&models.Listing{},
		&models.Session{},
		&models.ResetMarker{},
	)
}

// SeedData records installation metadata used by logs and analytics tagging.
func SeedData(db *gorm.DB) error {
	ctx := context.Background()

	if _, err := EnsureSystemSetting(ctx, db, InstallationIDSetting, uuid.NewString()); err != nil {
		return err
	}
	if _, err := EnsureSystemSetting(ctx, db, InstalledAtSetting, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return UpsertSystemSetting(ctx, db, SchemaVersionSetting, SchemaVersion)
}
