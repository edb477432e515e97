package models

import "time"

// DrawMethod records how a winner was chosen.
type DrawMethod string

const DrawMethodRandom DrawMethod = "RANDOM"

// Draw is the winner selection for a cycle. The unique index on CycleID is
// what stops two concurrent draws from both committing.
type Draw struct {
	Model
	CycleID       string     `gorm:"type:varchar(36);not null;uniqueIndex" json:"cycleId"`
	WinnerID      string     `gorm:"type:varchar(36);not null;index" json:"winnerId"`
	Method        DrawMethod `gorm:"type:varchar(20);default:'RANDOM'" json:"method"`
	EligibleCount int        `gorm:"not null" json:"eligibleCount"`
	SeedValue     string     `gorm:"not null" json:"seedValue"`

	Winner User  `gorm:"foreignKey:WinnerID" json:"-"`
	Cycle  Cycle `gorm:"foreignKey:CycleID" json:"-"`
}

// PayoutStatus is the bookkeeping state of a payout.
type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "PENDING"
	PayoutStatusProcessing PayoutStatus = "PROCESSING"
	PayoutStatusCompleted  PayoutStatus = "COMPLETED"
	PayoutStatusFailed     PayoutStatus = "FAILED"
)

// Payout is created with its Draw. No money moves; admins advance the status.
type Payout struct {
	Model
	CycleID     string       `gorm:"type:varchar(36);not null;uniqueIndex" json:"cycleId"`
	ReceiverID  string       `gorm:"type:varchar(36);not null;index" json:"receiverId"`
	Amount      int64        `gorm:"not null" json:"-"`
	Status      PayoutStatus `gorm:"type:varchar(20);default:'PENDING'" json:"status"`
	ProcessedAt *time.Time   `json:"processedAt,omitempty"`

	Receiver User  `gorm:"foreignKey:ReceiverID" json:"-"`
	Cycle    Cycle `gorm:"foreignKey:CycleID" json:"-"`
}

// CanTransition reports whether a payout may move from s to next.
func (s PayoutStatus) CanTransition(next PayoutStatus) bool {
	switch s {
	case PayoutStatusPending:
		return next == PayoutStatusProcessing || next == PayoutStatusCompleted || next == PayoutStatusFailed
	case PayoutStatusProcessing:
		return next == PayoutStatusCompleted || next == PayoutStatusFailed
	default:
		return false
	}
}
