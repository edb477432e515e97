package models

import "time"

// CycleStatus is the state of one round of a group.
type CycleStatus string

const (
	CycleStatusOpen      CycleStatus = "OPEN"
	CycleStatusClosed    CycleStatus = "CLOSED"
	CycleStatusCancelled CycleStatus = "CANCELLED"
)

// Cycle is one numbered round of a group. A group has at most one OPEN cycle.
type Cycle struct {
	Model
	GroupID     string      `gorm:"type:varchar(36);not null;uniqueIndex:idx_group_cycle" json:"groupId"`
	CycleNumber int         `gorm:"not null;uniqueIndex:idx_group_cycle" json:"cycleNumber"`
	Status      CycleStatus `gorm:"type:varchar(20);default:'OPEN';index" json:"status"`
	DueDate     time.Time   `gorm:"not null" json:"dueDate"`

	Group         Group          `gorm:"foreignKey:GroupID" json:"-"`
	Contributions []Contribution `gorm:"foreignKey:CycleID" json:"-"`
	Draw          *Draw          `gorm:"foreignKey:CycleID" json:"-"`
	Payout        *Payout        `gorm:"foreignKey:CycleID" json:"-"`
}
