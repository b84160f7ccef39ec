package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/tandem/internal/models"
)

func TestOpenSQLiteMemory(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Exec("SELECT 1").Error)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"})
	require.Error(t, err)
}

func TestMemoryDatabasesAreIsolated(t *testing.T) {
	first := openTestDB(t)
	second := openTestDB(t)

	require.NoError(t, first.AutoMigrate(&models.SystemSetting{}))
	require.NoError(t, UpsertSystemSetting(context.Background(), first, "k", "v"))

	value, err := GetSystemSetting(context.Background(), second, "k")
	require.NoError(t, err)
	require.Empty(t, value)
}

func TestAutoMigrateAndSeedData(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, AutoMigrateAndSeed(db))

	for _, table := range []string{"users", "clubs", "memberships", "payments", "posts", "post_likes", "post_comments", "listings", "sessions", "reset_markers"} {
		require.True(t, db.Migrator().HasTable(table), "expected table %s", table)
	}
	require.False(t, db.Migrator().HasTable("notifications"))
	require.False(t, db.Migrator().HasColumn(&models.Post{}, "like_count"))

	installation, err := GetSystemSetting(context.Background(), db, InstallationIDSetting)
	require.NoError(t, err)
	require.NotEmpty(t, installation)

	// Seeding twice keeps the installation identity.
	require.NoError(t, AutoMigrateAndSeed(db))
	again, err := GetSystemSetting(context.Background(), db, InstallationIDSetting)
	require.NoError(t, err)
	require.Equal(t, installation, again)

	version, err := GetSystemSetting(context.Background(), db, SchemaVersionSetting)
	require.NoError(t, err)
	require.Equal(t, SchemaVersion, version)
}

func TestDuplicateKeysAreTranslated(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, AutoMigrate(db))

	require.NoError(t, db.Create(&models.User{Username: "ama", Email: "ama@example.com"}).Error)
	err := db.Create(&models.User{Username: "ama", Email: "other@example.com"}).Error
	require.ErrorIs(t, err, gorm.ErrDuplicatedKey)
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := Open(Config{Driver: "sqlite"})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = Close(db)
	})

	return db
}
