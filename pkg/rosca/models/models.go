package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Model is embedded by every table. IDs are UUID strings assigned on create.
type Model struct {
	ID        string    `gorm:"type:varchar(36);primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BeforeCreate assigns a UUID when the caller did not set one.
func (m *Model) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// AllModels returns all models for migration.
// Users and groups come first because the rest reference them.
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&Session{},
		&OTPCode{},
		&Group{},
		&Membership{},
		&Cycle{},
		&Contribution{},
		&Draw{},
		&Payout{},
		&AuditLog{},
	}
}

// AutoMigrate runs GORM auto-migration for all models
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(AllModels()...)
}
