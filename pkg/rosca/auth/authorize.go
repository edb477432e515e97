package auth

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/models"
)

// IsSystemAdminRole reports whether role grants system administration.
func IsSystemAdminRole(role string) bool {
	return role == string(models.UserRoleAdmin) || role == string(models.UserRoleSuperAdmin)
}

// IsGroupAdmin reports whether the user owns the group or is an active
// ADMIN member of it.
func IsGroupAdmin(ctx context.Context, db *gorm.DB, groupID, userID string) (bool, error) {
	var group models.Group
	err := db.WithContext(ctx).Select("id", "owner_id").Where("id = ?", groupID).First(&group).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	if group.OwnerID == userID {
		return true, nil
	}

	var count int64
	err = db.WithContext(ctx).Model(&models.Membership{}).
		Where("group_id = ? AND user_id = ? AND role = ? AND status = ?",
			groupID, userID, models.MembershipRoleAdmin, models.MembershipStatusActive).
		Count(&count).Error
	return count > 0, err
}

// IsGroupMember reports whether the user has an ACTIVE membership.
func IsGroupMember(ctx context.Context, db *gorm.DB, groupID, userID string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Model(&models.Membership{}).
		Where("group_id = ? AND user_id = ? AND status = ?", groupID, userID, models.MembershipStatusActive).
		Count(&count).Error
	return count > 0, err
}
