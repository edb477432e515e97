package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/api"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/audit"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/auth"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/models"
)

// ErrInvalidBootstrapPhone is returned for a BOOTSTRAP_ADMIN_PHONE that is
// not a phone number.
var ErrInvalidBootstrapPhone = errors.New("invalid bootstrap admin phone")

// EnsureSuperAdmin makes the user with phone an active SUPER_ADMIN, creating
// it when missing. An empty phone is a no-op.
func EnsureSuperAdmin(ctx context.Context, db *gorm.DB, auditor *audit.Recorder, phone string, logger *slog.Logger) error {
	if phone == "" {
		return nil
	}
	if !api.ValidPhone(phone) {
		return fmt.Errorf("%w: %s", ErrInvalidBootstrapPhone, auth.MaskPhone(phone))
	}
	phone = api.NormalizePhone(phone)

	var user models.User
	err := db.WithContext(ctx).Where("phone = ?", phone).First(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = models.User{
			Phone:    phone,
			FullName: "Administrator",
			Role:     models.UserRoleSuperAdmin,
			Status:   models.UserStatusActive,
		}
		if err := db.WithContext(ctx).Create(&user).Error; err != nil {
			return fmt.Errorf("create bootstrap admin: %w", err)
		}
		logger.Info("Created bootstrap admin", "user_id", user.ID, "phone", auth.MaskPhone(phone))
		auditor.Record(ctx, audit.EntityUser, user.ID, audit.ActionCreate, audit.Options{
			Metadata: map[string]any{"source": "BOOTSTRAP"},
		})
		return nil
	case err != nil:
		return fmt.Errorf("load bootstrap admin: %w", err)
	}

	if user.Role == models.UserRoleSuperAdmin && user.Status == models.UserStatusActive {
		return nil
	}
	if err := db.WithContext(ctx).Model(&user).Updates(map[string]any{
		"role":   models.UserRoleSuperAdmin,
		"status": models.UserStatusActive,
	}).Error; err != nil {
		return fmt.Errorf("promote bootstrap admin: %w", err)
	}
	logger.Info("Promoted bootstrap admin", "user_id", user.ID, "previous_role", user.Role)
	auditor.Record(ctx, audit.EntityUser, user.ID, audit.ActionUpdate, audit.Options{
		Metadata: map[string]any{"source": "BOOTSTRAP", "previousRole": user.Role},
	})
	return nil
}
