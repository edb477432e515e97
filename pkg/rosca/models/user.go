package models

import "time"

// UserRole is a system-wide role.
type UserRole string

const (
	UserRoleUser       UserRole = "USER"
	UserRoleAdmin      UserRole = "ADMIN"
	UserRoleSuperAdmin UserRole = "SUPER_ADMIN"
)

// UserStatus controls whether a user may sign in.
type UserStatus string

const (
	UserStatusActive    UserStatus = "ACTIVE"
	UserStatusSuspended UserStatus = "SUSPENDED"
	UserStatusDeleted   UserStatus = "DELETED"
)

// User is identified by phone number.
type User struct {
	Model
	Phone    string     `gorm:"type:varchar(20);uniqueIndex;not null" json:"phone"`
	FullName string     `gorm:"not null" json:"fullName"`
	Role     UserRole   `gorm:"type:varchar(20);default:'USER'" json:"role"`
	Status   UserStatus `gorm:"type:varchar(20);default:'ACTIVE'" json:"status"`

	Memberships []Membership `gorm:"foreignKey:UserID" json:"memberships,omitempty"`
}

// IsSystemAdmin reports whether the user holds an admin role and is active.
func (u *User) IsSystemAdmin() bool {
	return u.Status == UserStatusActive && (u.Role == UserRoleAdmin || u.Role == UserRoleSuperAdmin)
}

// Session is a server-side login record. The JWT handed to the client only
// carries its ID, so deleting the row logs the client out.
type Session struct {
	Model
	UserID    string    `gorm:"type:varchar(36);index;not null" json:"userId"`
	ExpiresAt time.Time `gorm:"index;not null" json:"expiresAt"`
	UserAgent string    `json:"userAgent,omitempty"`
	IPAddress string    `gorm:"type:varchar(64)" json:"ipAddress,omitempty"`

	User User `gorm:"foreignKey:UserID" json:"-"`
}

// OTPCode is a hashed one-time login code for a phone number.
type OTPCode struct {
	Model
	Phone     string    `gorm:"type:varchar(20);index;not null" json:"phone"`
	CodeHash  string    `gorm:"not null" json:"-"`
	ExpiresAt time.Time `gorm:"not null" json:"expiresAt"`
	Used      bool      `gorm:"default:false" json:"used"`
}
