// Package audit records who did what to which entity.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/models"
)

// Entity names.
const (
	EntityUser         = "User"
	EntitySession      = "Session"
	EntityOTPCode      = "OTPCode"
	EntityGroup        = "Group"
	EntityMembership   = "Membership"
	EntityCycle        = "Cycle"
	EntityContribution = "Contribution"
	EntityDraw         = "Draw"
	EntityPayout       = "Payout"
)

// Actions.
const (
	ActionCreate  = "CREATE"
	ActionUpdate  = "UPDATE"
	ActionDelete  = "DELETE"
	ActionLogin   = "LOGIN"
	ActionLogout  = "LOGOUT"
	ActionJoin    = "JOIN"
	ActionLeave   = "LEAVE"
	ActionConfirm = "CONFIRM"
	ActionDraw    = "DRAW"
	ActionExport  = "EXPORT"
)

// Entities lists the entity names accepted by the audit query endpoint.
var Entities = []string{
	EntityUser, EntitySession, EntityOTPCode, EntityGroup, EntityMembership,
	EntityCycle, EntityContribution, EntityDraw, EntityPayout,
}

// ValidEntity reports whether name is a known entity.
func ValidEntity(name string) bool {
	for _, e := range Entities {
		if e == name {
			return true
		}
	}
	return false
}

// Options are the optional parts of an entry.
type Options struct {
	UserID   string
	Summary  string
	Metadata map[string]any
}

// Recorder appends audit entries.
type Recorder struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewRecorder creates a recorder writing to db.
func NewRecorder(db *gorm.DB, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{db: db, logger: logger}
}

// Write stores one entry and returns any storage error.
func (r *Recorder) Write(ctx context.Context, entity, entityID, action string, opts Options) error {
	entry := models.AuditLog{
		Entity:   entity,
		EntityID: entityID,
		Action:   action,
		Summary:  opts.Summary,
	}
	if opts.UserID != "" {
		uid := opts.UserID
		entry.UserID = &uid
	}
	if len(opts.Metadata) > 0 {
		raw, err := json.Marshal(opts.Metadata)
		if err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
		entry.Metadata = string(raw)
	}
	return r.db.WithContext(ctx).Create(&entry).Error
}

// Record stores one entry. Failures are logged and swallowed so auditing
// never fails the caller's request. The caller's cancellation is ignored for
// the same reason.
func (r *Recorder) Record(ctx context.Context, entity, entityID, action string, opts Options) {
	if err := r.Write(context.WithoutCancel(ctx), entity, entityID, action, opts); err != nil {
		r.logger.Error("Failed to write audit log",
			"entity", entity,
			"entity_id", entityID,
			"action", action,
			"error", err,
		)
	}
}

// DecodeMetadata parses the stored metadata of an entry.
func DecodeMetadata(entry models.AuditLog) map[string]any {
	if entry.Metadata == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(entry.Metadata), &m); err != nil {
		return nil
	}
	return m
}
