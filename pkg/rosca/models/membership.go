package models

// MembershipRole is a user's role within one group.
type MembershipRole string

const (
	MembershipRoleAdmin  MembershipRole = "ADMIN"
	MembershipRoleMember MembershipRole = "MEMBER"
)

// MembershipStatus tracks joining, leaving and reactivation.
type MembershipStatus string

const (
	MembershipStatusActive  MembershipStatus = "ACTIVE"
	MembershipStatusPaused  MembershipStatus = "PAUSED"
	MembershipStatusRemoved MembershipStatus = "REMOVED"
)

// Membership links a user to a group. TotalPaid and TotalWon change only when
// a contribution is confirmed or a draw completes.
type Membership struct {
	Model
	GroupID   string           `gorm:"type:varchar(36);not null;uniqueIndex:idx_group_user" json:"groupId"`
	UserID    string           `gorm:"type:varchar(36);not null;uniqueIndex:idx_group_user;index" json:"userId"`
	Role      MembershipRole   `gorm:"type:varchar(20);default:'MEMBER'" json:"role"`
	Status    MembershipStatus `gorm:"type:varchar(20);default:'ACTIVE'" json:"status"`
	TotalPaid int64            `gorm:"not null;default:0" json:"-"`
	TotalWon  int64            `gorm:"not null;default:0" json:"-"`

	User  User  `gorm:"foreignKey:UserID" json:"-"`
	Group Group `gorm:"foreignKey:GroupID" json:"-"`
}
