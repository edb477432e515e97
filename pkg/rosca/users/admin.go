package users

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/api"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/audit"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/auth"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/database"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/models"
)

// UpdateUserRequest represents an admin's change to a user
type UpdateUserRequest struct {
	FullName *string `json:"fullName" binding:"omitempty,min=2,max=100"`
	Role     *string `json:"role" binding:"omitempty,oneof=USER ADMIN SUPER_ADMIN"`
	Status   *string `json:"status" binding:"omitempty,oneof=ACTIVE SUSPENDED DELETED"`
}

// StatsResponse represents system statistics
type StatsResponse struct {
	TotalUsers           int64  `json:"totalUsers"`
	ActiveUsers          int64  `json:"activeUsers"`
	AdminUsers           int64  `json:"adminUsers"`
	TotalGroups          int64  `json:"totalGroups"`
	ActiveGroups         int64  `json:"activeGroups"`
	CompletedGroups      int64  `json:"completedGroups"`
	TotalCycles          int64  `json:"totalCycles"`
	OpenCycles           int64  `json:"openCycles"`
	TotalDraws           int64  `json:"totalDraws"`
	PendingPayouts       int64  `json:"pendingPayouts"`
	ConfirmedCollected   string `json:"confirmedCollected"`
	TotalPayoutAmount    string `json:"totalPayoutAmount"`
	PendingContributions int64  `json:"pendingContributions"`
}

// GetUser returns a single user (system admin only)
// @Summary Get a user
// @Tags admin
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} api.Envelope
// @Security BearerAuth
// @Router /admin/users/{id} [get]
func (h *Handler) GetUser(c *gin.Context) {
	user, ok := h.loadUser(c)
	if !ok {
		return
	}
	api.OK(c, gin.H{"user": h.userResponse(h.db.WithContext(c.Request.Context()), *user)})
}

// UpdateUser changes a user's name, role or status (system admin only)
// @Summary Update a user
// @Tags admin
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param request body UpdateUserRequest true "Fields to change"
// @Success 200 {object} api.Envelope
// @Failure 400 {object} api.Envelope "Cannot demote or suspend yourself"
// @Security BearerAuth
// @Router /admin/users/{id} [patch]
func (h *Handler) UpdateUser(c *gin.Context) {
	currentUserID, _ := auth.GetUserID(c)
	user, ok := h.loadUser(c)
	if !ok {
		return
	}

	var req UpdateUserRequest
	if !api.Bind(c, &req) {
		return
	}

	if user.ID == currentUserID {
		if req.Role != nil && !auth.IsSystemAdminRole(*req.Role) {
			api.BadRequest(c, api.CodeValidation, "Cannot demote yourself")
			return
		}
		if req.Status != nil && *req.Status != string(models.UserStatusActive) {
			api.BadRequest(c, api.CodeValidation, "Cannot deactivate yourself")
			return
		}
	}
	if req.Role != nil && models.UserRole(*req.Role) == models.UserRoleSuperAdmin &&
		auth.GetRole(c) != string(models.UserRoleSuperAdmin) {
		api.Forbidden(c, "Only super admins can grant SUPER_ADMIN")
		return
	}

	updates := map[string]any{}
	fields := []string{}
	if req.FullName != nil {
		updates["full_name"] = *req.FullName
		fields = append(fields, "fullName")
	}
	if req.Role != nil {
		updates["role"] = *req.Role
		fields = append(fields, "role")
	}
	if req.Status != nil {
		updates["status"] = *req.Status
		fields = append(fields, "status")
	}
	if len(updates) == 0 {
		api.BadRequest(c, api.CodeValidation, "No fields to update")
		return
	}

	ctx := c.Request.Context()
	err := database.Transact(ctx, h.db, func(tx *gorm.DB) error {
		if err := tx.Model(user).Updates(updates).Error; err != nil {
			return err
		}
		// A user who can no longer sign in loses their sessions.
		if req.Status != nil && *req.Status != string(models.UserStatusActive) {
			return tx.Where("user_id = ?", user.ID).Delete(&models.Session{}).Error
		}
		return nil
	})
	if err != nil {
		h.logger.Error("Failed to update user", "user_id", user.ID, "error", err)
		api.ServerError(c)
		return
	}

	db := h.db.WithContext(ctx)
	if err := db.First(user, "id = ?", user.ID).Error; err != nil {
		api.ServerError(c)
		return
	}

	h.auditor.Record(ctx, audit.EntityUser, user.ID, audit.ActionUpdate, audit.Options{
		UserID:   currentUserID,
		Metadata: map[string]any{"updatedFields": fields, "byAdmin": true},
	})
	api.OK(c, gin.H{"user": h.userResponse(db, *user)})
}

// GetStats returns system-wide statistics (system admin only)
// @Summary System statistics
// @Tags admin
// @Produce json
// @Success 200 {object} api.Envelope
// @Security BearerAuth
// @Router /admin/stats [get]
func (h *Handler) GetStats(c *gin.Context) {
	db := h.db.WithContext(c.Request.Context())
	var stats StatsResponse
	var collected, paidOut int64

	db.Model(&models.User{}).Count(&stats.TotalUsers)
	db.Model(&models.User{}).Where("status = ?", models.UserStatusActive).Count(&stats.ActiveUsers)
	db.Model(&models.User{}).Where("role IN ?", []models.UserRole{models.UserRoleAdmin, models.UserRoleSuperAdmin}).Count(&stats.AdminUsers)
	db.Model(&models.Group{}).Count(&stats.TotalGroups)
	db.Model(&models.Group{}).Where("status = ?", models.GroupStatusActive).Count(&stats.ActiveGroups)
	db.Model(&models.Group{}).Where("status = ?", models.GroupStatusCompleted).Count(&stats.CompletedGroups)
	db.Model(&models.Cycle{}).Count(&stats.TotalCycles)
	db.Model(&models.Cycle{}).Where("status = ?", models.CycleStatusOpen).Count(&stats.OpenCycles)
	db.Model(&models.Draw{}).Count(&stats.TotalDraws)
	db.Model(&models.Payout{}).Where("status IN ?", []models.PayoutStatus{models.PayoutStatusPending, models.PayoutStatusProcessing}).Count(&stats.PendingPayouts)
	db.Model(&models.Contribution{}).Where("status = ?", models.ContributionStatusPending).Count(&stats.PendingContributions)

	if err := db.Model(&models.Contribution{}).Select("COALESCE(SUM(amount), 0)").
		Where("status = ?", models.ContributionStatusConfirmed).Scan(&collected).Error; err != nil {
		h.logger.Error("Failed to sum contributions", "error", err)
		api.ServerError(c)
		return
	}
	if err := db.Model(&models.Payout{}).Select("COALESCE(SUM(amount), 0)").Scan(&paidOut).Error; err != nil {
		h.logger.Error("Failed to sum payouts", "error", err)
		api.ServerError(c)
		return
	}
	stats.ConfirmedCollected = api.FormatAmount(collected)
	stats.TotalPayoutAmount = api.FormatAmount(paidOut)

	api.OK(c, gin.H{"stats": stats})
}

// RegisterAdminRoutes registers admin routes on a group that already
// requires a system admin
func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.GET("/stats", h.GetStats)
	rg.GET("/users", h.ListUsers)
	rg.GET("/users/:id", h.GetUser)
	rg.PATCH("/users/:id", h.UpdateUser)
}
