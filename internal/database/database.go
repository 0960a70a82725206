package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/skydisk/backend/internal/config"
	"github.com/skydisk/backend/internal/models"
	"github.com/skydisk/backend/pkg/utils"
)

func Connect(cfg config.DBConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Name,
		cfg.SSLMode,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	if err := seedAdminUser(db); err != nil {
		return nil, err
	}

	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.FileEntry{},
	); err != nil {
		return err
	}

	// The service layer resolves sibling name collisions under the owner
	// lock; these indexes are the backstop when another process writes the
	// table. NULL parents compare distinct in unique indexes, so root-level
	// entries need their own.
	for _, stmt := range []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_file_entries_active_sibling
			ON file_entries (owner_id, parent_id, name)
			WHERE state = 'active' AND parent_id IS NOT NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_file_entries_active_root
			ON file_entries (owner_id, name)
			WHERE state = 'active' AND parent_id IS NULL`,
	} {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

func seedAdminUser(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.User{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := utils.HashPassword("admin123")
	if err != nil {
		return err
	}

	admin := models.User{
		Email:        "admin@skydisk.local",
		PasswordHash: hash,
		FirstName:    "System",
		LastName:     "Admin",
		Role:         models.UserRoleAdmin,
	}
	return db.Create(&admin).Error
}
