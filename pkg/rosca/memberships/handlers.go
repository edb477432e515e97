// Package memberships handles joining, leaving and managing group members.
package memberships

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/api"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/audit"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/auth"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/database"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/models"
)

// Handler handles membership requests
type Handler struct {
	db      *gorm.DB
	auditor *audit.Recorder
	logger  *slog.Logger
}

// NewHandler creates a new memberships handler
func NewHandler(db *gorm.DB, auditor *audit.Recorder, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{db: db, auditor: auditor, logger: logger}
}

// JoinRequest represents the request to join a group
type JoinRequest struct {
	GroupID string `json:"groupId" binding:"required,uuid"`
}

// UpdateRequest represents the request to update a membership
type UpdateRequest struct {
	Role   *string `json:"role" binding:"omitempty,oneof=ADMIN MEMBER"`
	Status *string `json:"status" binding:"omitempty,oneof=ACTIVE PAUSED REMOVED"`
}

// GroupRef is the group part of a membership response.
type GroupRef struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Status         string       `json:"status"`
	AmountPerCycle string       `json:"amountPerCycle"`
	TotalMembers   int          `json:"totalMembers"`
	Owner          *api.UserRef `json:"owner,omitempty"`
	MemberCount    int64        `json:"memberCount"`
}

// MembershipResponse represents a membership in API responses
type MembershipResponse struct {
	ID        string       `json:"id"`
	GroupID   string       `json:"groupId"`
	UserID    string       `json:"userId"`
	Role      string       `json:"role"`
	Status    string       `json:"status"`
	TotalPaid string       `json:"totalPaid"`
	TotalWon  string       `json:"totalWon"`
	Group     *GroupRef    `json:"group,omitempty"`
	User      *api.UserRef `json:"user,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}

func newMembershipResponse(m models.Membership) MembershipResponse {
	return MembershipResponse{
		ID:        m.ID,
		GroupID:   m.GroupID,
		UserID:    m.UserID,
		Role:      string(m.Role),
		Status:    string(m.Status),
		TotalPaid: api.FormatAmount(m.TotalPaid),
		TotalWon:  api.FormatAmount(m.TotalWon),
		User:      api.NewUserRef(m.User),
		CreatedAt: m.CreatedAt,
	}
}

// List returns the current user's memberships
// @Summary List my memberships
// @Tags memberships
// @Produce json
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} api.Envelope
// @Security BearerAuth
// @Router /memberships [get]
func (h *Handler) List(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	page, ok := api.ParsePage(c)
	if !ok {
		return
	}
	db := h.db.WithContext(c.Request.Context())

	var total int64
	if err := db.Model(&models.Membership{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		h.logger.Error("Failed to count memberships", "error", err)
		api.ServerError(c)
		return
	}

	var memberships []models.Membership
	if err := db.Preload("Group.Owner").Where("user_id = ?", userID).
		Order("created_at DESC").Offset(page.Offset()).Limit(page.Limit).
		Find(&memberships).Error; err != nil {
		h.logger.Error("Failed to fetch memberships", "error", err)
		api.ServerError(c)
		return
	}

	resp := make([]MembershipResponse, len(memberships))
	for i, m := range memberships {
		var count int64
		db.Model(&models.Membership{}).Where("group_id = ? AND status = ?", m.GroupID, models.MembershipStatusActive).Count(&count)
		resp[i] = newMembershipResponse(m)
		resp[i].Group = &GroupRef{
			ID:             m.Group.ID,
			Name:           m.Group.Name,
			Status:         string(m.Group.Status),
			AmountPerCycle: api.FormatAmount(m.Group.AmountPerCycle),
			TotalMembers:   m.Group.TotalMembers,
			Owner:          api.NewUserRef(m.Group.Owner),
			MemberCount:    count,
		}
	}

	api.List(c, gin.H{"memberships": resp}, page.Paginate(total))
}

// Join adds the current user to a group as a MEMBER, or reactivates a
// previous membership
// @Summary Join a group
// @Tags memberships
// @Accept json
// @Produce json
// @Param request body JoinRequest true "Group to join"
// @Success 201 {object} api.Envelope
// @Failure 400 {object} api.Envelope "Group full or not active"
// @Failure 404 {object} api.Envelope "Group not found"
// @Failure 409 {object} api.Envelope "Already a member"
// @Security BearerAuth
// @Router /memberships [post]
func (h *Handler) Join(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	var req JoinRequest
	if !api.Bind(c, &req) {
		return
	}
	ctx := c.Request.Context()

	var membership models.Membership
	var reactivated bool
	err := database.Transact(ctx, h.db, func(tx *gorm.DB) error {
		var group models.Group
		if err := tx.First(&group, "id = ?", req.GroupID).Error; err != nil {
			return err
		}
		if group.Status != models.GroupStatusActive {
			return errGroupNotActive
		}

		var active int64
		if err := tx.Model(&models.Membership{}).
			Where("group_id = ? AND status = ?", group.ID, models.MembershipStatusActive).
			Count(&active).Error; err != nil {
			return err
		}
		if active >= int64(group.TotalMembers) {
			return errGroupFull
		}

		err := tx.Where("group_id = ? AND user_id = ?", group.ID, userID).First(&membership).Error
		switch {
		case err == nil:
			if membership.Status == models.MembershipStatusActive {
				return errAlreadyMember
			}
			reactivated = true
			membership.Status = models.MembershipStatusActive
			return tx.Model(&membership).Update("status", models.MembershipStatusActive).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			membership = models.Membership{
				GroupID: group.ID,
				UserID:  userID,
				Role:    models.MembershipRoleMember,
				Status:  models.MembershipStatusActive,
			}
			return tx.Create(&membership).Error
		default:
			return err
		}
	})
	switch {
	case err == nil:
	case errors.Is(err, gorm.ErrRecordNotFound):
		api.NotFound(c, "Group not found")
		return
	case errors.Is(err, errGroupNotActive):
		api.BadRequest(c, api.CodeGroupNotActive, "This group is not accepting new members")
		return
	case errors.Is(err, errGroupFull):
		api.BadRequest(c, api.CodeGroupFull, "This group has reached its member limit")
		return
	case errors.Is(err, errAlreadyMember), database.IsUniqueViolation(err):
		api.Conflict(c, "Already a member of this group")
		return
	default:
		h.logger.Error("Failed to join group", "group_id", req.GroupID, "error", err)
		api.ServerError(c)
		return
	}

	if reactivated {
		h.auditor.Record(ctx, audit.EntityMembership, membership.ID, audit.ActionJoin, audit.Options{
			UserID:   userID,
			Metadata: map[string]any{"action": "REACTIVATED"},
		})
		api.OK(c, gin.H{"message": "Membership reactivated", "membership": newMembershipResponse(membership)})
		return
	}

	h.auditor.Record(ctx, audit.EntityMembership, membership.ID, audit.ActionJoin, audit.Options{
		UserID:   userID,
		Metadata: map[string]any{"groupId": req.GroupID, "role": membership.Role},
	})
	api.Created(c, gin.H{"membership": newMembershipResponse(membership)})
}

func (h *Handler) loadMembership(c *gin.Context) (*models.Membership, bool) {
	id, ok := api.ParseID(c, "id", "Membership not found")
	if !ok {
		return nil, false
	}
	var m models.Membership
	if err := h.db.WithContext(c.Request.Context()).Preload("Group").First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			api.NotFound(c, "Membership not found")
		} else {
			h.logger.Error("Failed to load membership", "membership_id", id, "error", err)
			api.ServerError(c)
		}
		return nil, false
	}
	return &m, true
}

// Update changes a membership's role (admins) or status (admins or the
// member themselves)
// @Summary Update a membership
// @Tags memberships
// @Accept json
// @Produce json
// @Param id path string true "Membership ID"
// @Param request body UpdateRequest true "Fields to change"
// @Success 200 {object} api.Envelope
// @Failure 403 {object} api.Envelope "Forbidden"
// @Failure 404 {object} api.Envelope "Membership not found"
// @Security BearerAuth
// @Router /memberships/{id} [patch]
func (h *Handler) Update(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	membership, ok := h.loadMembership(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	isAdmin, err := auth.IsGroupAdmin(ctx, h.db, membership.GroupID, userID)
	if err != nil {
		h.logger.Error("Failed to check group admin", "error", err)
		api.ServerError(c)
		return
	}
	if !isAdmin && membership.UserID != userID {
		api.Forbidden(c, "Only group admins can update memberships")
		return
	}

	var req UpdateRequest
	if !api.Bind(c, &req) {
		return
	}

	updates := map[string]any{}
	fields := []string{}
	if req.Role != nil {
		if !isAdmin {
			api.Forbidden(c, "Only group admins can change roles")
			return
		}
		updates["role"] = *req.Role
		fields = append(fields, "role")
	}
	if req.Status != nil {
		if membership.Group.OwnerID == membership.UserID && *req.Status != string(models.MembershipStatusActive) {
			api.Forbidden(c, "Cannot deactivate the group owner")
			return
		}
		updates["status"] = *req.Status
		fields = append(fields, "status")
	}
	if len(updates) == 0 {
		api.BadRequest(c, api.CodeValidation, "No fields to update")
		return
	}

	if err := h.db.WithContext(ctx).Model(membership).Updates(updates).Error; err != nil {
		h.logger.Error("Failed to update membership", "membership_id", membership.ID, "error", err)
		api.ServerError(c)
		return
	}
	if err := h.db.WithContext(ctx).First(membership, "id = ?", membership.ID).Error; err != nil {
		api.ServerError(c)
		return
	}

	h.auditor.Record(ctx, audit.EntityMembership, membership.ID, audit.ActionUpdate, audit.Options{
		UserID:   userID,
		Metadata: map[string]any{"updatedFields": fields},
	})
	api.OK(c, gin.H{"membership": newMembershipResponse(*membership)})
}

// Delete removes a member from a group. The row is kept with status REMOVED.
// @Summary Leave or remove from a group
// @Tags memberships
// @Produce json
// @Param id path string true "Membership ID"
// @Success 200 {object} api.Envelope
// @Failure 403 {object} api.Envelope "Forbidden"
// @Failure 404 {object} api.Envelope "Membership not found"
// @Security BearerAuth
// @Router /memberships/{id} [delete]
func (h *Handler) Delete(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	membership, ok := h.loadMembership(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	isSelf := membership.UserID == userID
	isAdmin, err := auth.IsGroupAdmin(ctx, h.db, membership.GroupID, userID)
	if err != nil {
		h.logger.Error("Failed to check group admin", "error", err)
		api.ServerError(c)
		return
	}
	if !isAdmin && !isSelf {
		api.Forbidden(c, "Cannot remove other members")
		return
	}
	if membership.Group.OwnerID == membership.UserID {
		api.Forbidden(c, "Cannot remove the group owner")
		return
	}

	if err := h.db.WithContext(ctx).Model(membership).Update("status", models.MembershipStatusRemoved).Error; err != nil {
		h.logger.Error("Failed to remove membership", "membership_id", membership.ID, "error", err)
		api.ServerError(c)
		return
	}

	action := "REMOVED_BY_ADMIN"
	if isSelf {
		action = "SELF_LEAVE"
	}
	h.auditor.Record(ctx, audit.EntityMembership, membership.ID, audit.ActionLeave, audit.Options{
		UserID:   userID,
		Metadata: map[string]any{"action": action},
	})
	api.OK(c, gin.H{"message": "Left group successfully"})
}

// RegisterRoutes registers membership routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.List)
	rg.POST("", h.Join)
	rg.PATCH("/:id", h.Update)
	rg.DELETE("/:id", h.Delete)
}
