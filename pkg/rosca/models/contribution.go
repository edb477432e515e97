package models

import "time"

// ContributionStatus is the confirmation state of a contribution.
type ContributionStatus string

const (
	ContributionStatusPending   ContributionStatus = "PENDING"
	ContributionStatusConfirmed ContributionStatus = "CONFIRMED"
	ContributionStatusFailed    ContributionStatus = "FAILED"
	ContributionStatusCancelled ContributionStatus = "CANCELLED"
)

// Contribution is one member's payment into one cycle.
type Contribution struct {
	Model
	CycleID        string             `gorm:"type:varchar(36);not null;uniqueIndex:idx_cycle_user" json:"cycleId"`
	UserID         string             `gorm:"type:varchar(36);not null;uniqueIndex:idx_cycle_user;index" json:"userId"`
	Amount         int64              `gorm:"not null" json:"-"`
	Status         ContributionStatus `gorm:"type:varchar(20);default:'PENDING'" json:"status"`
	IdempotencyKey *string            `gorm:"type:varchar(128);uniqueIndex" json:"idempotencyKey,omitempty"`
	PaidAt         *time.Time         `json:"paidAt,omitempty"`
	ConfirmedAt    *time.Time         `json:"confirmedAt,omitempty"`

	User  User  `gorm:"foreignKey:UserID" json:"-"`
	Cycle Cycle `gorm:"foreignKey:CycleID" json:"-"`
}
