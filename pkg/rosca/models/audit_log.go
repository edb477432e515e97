package models

// AuditLog is an append-only activity record.
type AuditLog struct {
	Model
	Entity   string  `gorm:"type:varchar(32);not null;index:idx_audit_entity" json:"entity"`
	EntityID string  `gorm:"type:varchar(64);not null;index:idx_audit_entity" json:"entityId"`
	Action   string  `gorm:"type:varchar(32);not null" json:"action"`
	UserID   *string `gorm:"type:varchar(36);index" json:"userId,omitempty"`
	Summary  string  `json:"summary,omitempty"`
	Metadata string  `gorm:"type:text" json:"-"`
}
