package models

// GroupStatus is the lifecycle of a savings group.
type GroupStatus string

const (
	GroupStatusActive    GroupStatus = "ACTIVE"
	GroupStatusPaused    GroupStatus = "PAUSED"
	GroupStatusCompleted GroupStatus = "COMPLETED"
	GroupStatusCancelled GroupStatus = "CANCELLED"
)

// Group is a savings group. TotalMembers is fixed at creation and is also the
// number of cycles the group runs, one win per member.
type Group struct {
	Model
	Name              string      `gorm:"not null" json:"name"`
	AmountPerCycle    int64       `gorm:"not null" json:"-"`
	TotalMembers      int         `gorm:"not null" json:"totalMembers"`
	CycleDurationDays int         `gorm:"not null;default:30" json:"cycleDurationDays"`
	Status            GroupStatus `gorm:"type:varchar(20);default:'ACTIVE';index" json:"status"`
	OwnerID           string      `gorm:"type:varchar(36);index;not null" json:"ownerId"`

	Owner       User         `gorm:"foreignKey:OwnerID" json:"-"`
	Memberships []Membership `gorm:"foreignKey:GroupID" json:"-"`
	Cycles      []Cycle      `gorm:"foreignKey:GroupID" json:"-"`
}
