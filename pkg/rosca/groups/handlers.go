package groups

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/api"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/audit"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/auth"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/models"
)

// Handler handles group-related requests
type Handler struct {
	db               *gorm.DB
	auditor          *audit.Recorder
	defaultCycleDays int
	logger           *slog.Logger
}

// NewHandler creates a new groups handler
func NewHandler(db *gorm.DB, auditor *audit.Recorder, defaultCycleDays int, logger *slog.Logger) *Handler {
	if defaultCycleDays <= 0 {
		defaultCycleDays = 30
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{db: db, auditor: auditor, defaultCycleDays: defaultCycleDays, logger: logger}
}

// CreateGroupRequest represents the request to create a group
type CreateGroupRequest struct {
	Name              string `json:"name" binding:"required,min=2,max=100"`
	AmountPerCycle    string `json:"amountPerCycle" binding:"required,amount"`
	TotalMembers      int    `json:"totalMembers" binding:"required,min=2,max=50"`
	CycleDurationDays int    `json:"cycleDurationDays" binding:"omitempty,min=1,max=365"`
}

// UpdateGroupRequest represents the request to update a group
type UpdateGroupRequest struct {
	Name           *string `json:"name" binding:"omitempty,min=2,max=100"`
	AmountPerCycle *string `json:"amountPerCycle" binding:"omitempty,amount"`
	Status         *string `json:"status" binding:"omitempty,oneof=ACTIVE PAUSED"`
}

// GroupResponse represents a group in API responses
type GroupResponse struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	AmountPerCycle    string       `json:"amountPerCycle"`
	TotalMembers      int          `json:"totalMembers"`
	CycleDurationDays int          `json:"cycleDurationDays"`
	Status            string       `json:"status"`
	OwnerID           string       `json:"ownerId"`
	Owner             *api.UserRef `json:"owner,omitempty"`
	Role              string       `json:"role,omitempty"`
	MemberCount       int64        `json:"memberCount"`
	CycleCount        int64        `json:"cycleCount"`
	CreatedAt         time.Time    `json:"createdAt"`
}

// CycleResponse represents a cycle in API responses
type CycleResponse struct {
	ID          string    `json:"id"`
	GroupID     string    `json:"groupId"`
	CycleNumber int       `json:"cycleNumber"`
	Status      string    `json:"status"`
	DueDate     time.Time `json:"dueDate"`
}

// NewCycleResponse converts a cycle row.
func NewCycleResponse(c models.Cycle) CycleResponse {
	return CycleResponse{
		ID:          c.ID,
		GroupID:     c.GroupID,
		CycleNumber: c.CycleNumber,
		Status:      string(c.Status),
		DueDate:     c.DueDate,
	}
}

func newGroupResponse(g models.Group) GroupResponse {
	return GroupResponse{
		ID:                g.ID,
		Name:              g.Name,
		AmountPerCycle:    api.FormatAmount(g.AmountPerCycle),
		TotalMembers:      g.TotalMembers,
		CycleDurationDays: g.CycleDurationDays,
		Status:            string(g.Status),
		OwnerID:           g.OwnerID,
		Owner:             api.NewUserRef(g.Owner),
		CreatedAt:         g.CreatedAt,
	}
}

// countBy counts rows of model per group_id for the given groups.
func (h *Handler) countBy(model any, groupIDs []string, where string, args ...any) (map[string]int64, error) {
	var rows []struct {
		GroupID string
		N       int64
	}
	q := h.db.Model(model).Select("group_id, COUNT(*) AS n").Where("group_id IN ?", groupIDs)
	if where != "" {
		q = q.Where(where, args...)
	}
	if err := q.Group("group_id").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.GroupID] = r.N
	}
	return out, nil
}

// List returns the groups the current user is an active member of
// @Summary List groups
// @Tags groups
// @Produce json
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} api.Envelope
// @Security BearerAuth
// @Router /groups [get]
func (h *Handler) List(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	page, ok := api.ParsePage(c)
	if !ok {
		return
	}
	db := h.db.WithContext(c.Request.Context())

	mine := db.Model(&models.Membership{}).Select("group_id").
		Where("user_id = ? AND status = ?", userID, models.MembershipStatusActive)
	query := db.Model(&models.Group{}).Where("id IN (?)", mine)
	if status := c.Query("status"); status != "" {
		switch models.GroupStatus(status) {
		case models.GroupStatusActive, models.GroupStatusPaused, models.GroupStatusCompleted, models.GroupStatusCancelled:
		default:
			api.BadRequest(c, api.CodeValidation, "Invalid status filter")
			return
		}
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		h.logger.Error("Failed to count groups", "error", err)
		api.ServerError(c)
		return
	}

	var groups []models.Group
	if err := query.Preload("Owner").Order("created_at DESC").
		Offset(page.Offset()).Limit(page.Limit).Find(&groups).Error; err != nil {
		h.logger.Error("Failed to fetch groups", "error", err)
		api.ServerError(c)
		return
	}

	ids := make([]string, len(groups))
	for i, g := range groups {
		ids[i] = g.ID
	}
	resp := make([]GroupResponse, len(groups))
	if len(ids) > 0 {
		members, err := h.countBy(&models.Membership{}, ids, "status = ?", models.MembershipStatusActive)
		if err != nil {
			h.logger.Error("Failed to count members", "error", err)
			api.ServerError(c)
			return
		}
		cycles, err := h.countBy(&models.Cycle{}, ids, "")
		if err != nil {
			h.logger.Error("Failed to count cycles", "error", err)
			api.ServerError(c)
			return
		}
		var memberships []models.Membership
		db.Where("user_id = ? AND group_id IN ?", userID, ids).Find(&memberships)
		roles := make(map[string]string, len(memberships))
		for _, m := range memberships {
			roles[m.GroupID] = string(m.Role)
		}

		for i, g := range groups {
			resp[i] = newGroupResponse(g)
			resp[i].MemberCount = members[g.ID]
			resp[i].CycleCount = cycles[g.ID]
			resp[i].Role = roles[g.ID]
		}
	}

	api.List(c, gin.H{"groups": resp}, page.Paginate(total))
}

// Create creates a new group with the caller as owner and admin, and opens
// its first cycle
// @Summary Create a group
// @Tags groups
// @Accept json
// @Produce json
// @Param request body CreateGroupRequest true "Group details"
// @Success 201 {object} api.Envelope
// @Failure 400 {object} api.Envelope "Validation error"
// @Security BearerAuth
// @Router /groups [post]
func (h *Handler) Create(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	var req CreateGroupRequest
	if !api.Bind(c, &req) {
		return
	}
	amount, err := api.ParseAmount(req.AmountPerCycle)
	if err != nil {
		api.BadRequest(c, api.CodeValidation, "amountPerCycle must be a positive whole number")
		return
	}
	days := req.CycleDurationDays
	if days == 0 {
		days = h.defaultCycleDays
	}
	ctx := c.Request.Context()

	var group models.Group
	var firstCycle models.Cycle
	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		group = models.Group{
			Name:              req.Name,
			AmountPerCycle:    amount,
			TotalMembers:      req.TotalMembers,
			CycleDurationDays: days,
			Status:            models.GroupStatusActive,
			OwnerID:           userID,
		}
		if err := tx.Create(&group).Error; err != nil {
			return err
		}

		membership := models.Membership{
			GroupID: group.ID,
			UserID:  userID,
			Role:    models.MembershipRoleAdmin,
			Status:  models.MembershipStatusActive,
		}
		if err := tx.Create(&membership).Error; err != nil {
			return err
		}

		firstCycle = models.Cycle{
			GroupID:     group.ID,
			CycleNumber: 1,
			Status:      models.CycleStatusOpen,
			DueDate:     time.Now().AddDate(0, 0, days),
		}
		return tx.Create(&firstCycle).Error
	})
	if err != nil {
		h.logger.Error("Failed to create group", "error", err)
		api.ServerError(c)
		return
	}

	h.auditor.Record(ctx, audit.EntityGroup, group.ID, audit.ActionCreate, audit.Options{
		UserID: userID,
		Metadata: map[string]any{
			"name":           group.Name,
			"totalMembers":   group.TotalMembers,
			"amountPerCycle": api.FormatAmount(group.AmountPerCycle),
		},
	})
	h.auditor.Record(ctx, audit.EntityMembership, group.ID, audit.ActionJoin, audit.Options{
		UserID:   userID,
		Metadata: map[string]any{"role": models.MembershipRoleAdmin},
	})
	h.auditor.Record(ctx, audit.EntityCycle, firstCycle.ID, audit.ActionCreate, audit.Options{
		UserID:   userID,
		Metadata: map[string]any{"cycleNumber": 1},
	})

	resp := newGroupResponse(group)
	resp.Role = string(models.MembershipRoleAdmin)
	resp.MemberCount = 1
	resp.CycleCount = 1
	api.Created(c, gin.H{"group": resp, "firstCycle": NewCycleResponse(firstCycle)})
}

// loadGroup fetches a group and writes 404 when it does not exist.
func (h *Handler) loadGroup(c *gin.Context, groupID string, preload ...string) (*models.Group, bool) {
	q := h.db.WithContext(c.Request.Context())
	for _, p := range preload {
		q = q.Preload(p)
	}
	var group models.Group
	if err := q.First(&group, "id = ?", groupID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			api.NotFound(c, "Group not found")
		} else {
			h.logger.Error("Failed to load group", "group_id", groupID, "error", err)
			api.ServerError(c)
		}
		return nil, false
	}
	return &group, true
}

// requireMember writes 403 unless the caller is an active member.
func (h *Handler) requireMember(c *gin.Context, groupID, userID string) bool {
	ok, err := auth.IsGroupMember(c.Request.Context(), h.db, groupID, userID)
	if err != nil {
		h.logger.Error("Failed to check membership", "group_id", groupID, "error", err)
		api.ServerError(c)
		return false
	}
	if !ok {
		api.Forbidden(c, "Not a member of this group")
		return false
	}
	return true
}

// MemberResponse represents a group member in API responses
type MemberResponse struct {
	MembershipID string       `json:"membershipId"`
	User         *api.UserRef `json:"user"`
	Role         string       `json:"role"`
	Status       string       `json:"status"`
	TotalPaid    string       `json:"totalPaid"`
	TotalWon     string       `json:"totalWon"`
	JoinedAt     time.Time    `json:"joinedAt"`
}

// Get returns a group with its members, cycles and statistics
// @Summary Get a group
// @Tags groups
// @Produce json
// @Param id path string true "Group ID"
// @Success 200 {object} api.Envelope
// @Failure 403 {object} api.Envelope "Not a member"
// @Failure 404 {object} api.Envelope "Group not found"
// @Security BearerAuth
// @Router /groups/{id} [get]
func (h *Handler) Get(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	groupID, ok := api.ParseID(c, "id", "Group not found")
	if !ok {
		return
	}
	group, ok := h.loadGroup(c, groupID, "Owner")
	if !ok || !h.requireMember(c, groupID, userID) {
		return
	}
	db := h.db.WithContext(c.Request.Context())

	var members []models.Membership
	var cycles []models.Cycle
	var collected int64
	err := db.Preload("User").
		Where("group_id = ? AND status = ?", groupID, models.MembershipStatusActive).
		Order("created_at ASC").Find(&members).Error
	if err == nil {
		err = db.Preload("Draw.Winner").Where("group_id = ?", groupID).Order("cycle_number ASC").Find(&cycles).Error
	}
	if err == nil {
		err = db.Model(&models.Contribution{}).
			Select("COALESCE(SUM(amount), 0)").
			Where("status = ? AND cycle_id IN (?)", models.ContributionStatusConfirmed,
				db.Model(&models.Cycle{}).Select("id").Where("group_id = ?", groupID)).
			Scan(&collected).Error
	}
	if err != nil {
		h.logger.Error("Failed to load group details", "group_id", groupID, "error", err)
		api.ServerError(c)
		return
	}

	memberResp := make([]MemberResponse, len(members))
	var role string
	for i, m := range members {
		memberResp[i] = MemberResponse{
			MembershipID: m.ID,
			User:         api.NewUserRef(m.User),
			Role:         string(m.Role),
			Status:       string(m.Status),
			TotalPaid:    api.FormatAmount(m.TotalPaid),
			TotalWon:     api.FormatAmount(m.TotalWon),
			JoinedAt:     m.CreatedAt,
		}
		if m.UserID == userID {
			role = string(m.Role)
		}
	}

	type cycleDetail struct {
		CycleResponse
		Winner *api.UserRef `json:"winner"`
	}
	cycleResp := make([]cycleDetail, len(cycles))
	var current *int
	completed := 0
	for i, cy := range cycles {
		cycleResp[i] = cycleDetail{CycleResponse: NewCycleResponse(cy)}
		if cy.Draw != nil {
			cycleResp[i].Winner = api.NewUserRef(cy.Draw.Winner)
		}
		switch cy.Status {
		case models.CycleStatusOpen:
			n := cy.CycleNumber
			current = &n
		case models.CycleStatusClosed:
			completed++
		}
	}

	resp := newGroupResponse(*group)
	resp.Role = role
	resp.MemberCount = int64(len(members))
	resp.CycleCount = int64(len(cycles))

	api.OK(c, gin.H{
		"group":   resp,
		"members": memberResp,
		"cycles":  cycleResp,
		"statistics": gin.H{
			"totalCollected":  api.FormatAmount(collected),
			"currentCycle":    current,
			"completedCycles": completed,
			"totalMembers":    len(members),
			"expectedMembers": group.TotalMembers,
			"isFull":          len(members) >= group.TotalMembers,
		},
	})
}

// Update updates group settings (admin only)
// @Summary Update a group
// @Tags groups
// @Accept json
// @Produce json
// @Param id path string true "Group ID"
// @Param request body UpdateGroupRequest true "Fields to change"
// @Success 200 {object} api.Envelope
// @Failure 403 {object} api.Envelope "Admin access required"
// @Security BearerAuth
// @Router /groups/{id} [patch]
func (h *Handler) Update(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	groupID, ok := api.ParseID(c, "id", "Group not found")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	group, ok := h.loadGroup(c, groupID)
	if !ok {
		return
	}
	isAdmin, err := auth.IsGroupAdmin(ctx, h.db, groupID, userID)
	if err != nil {
		h.logger.Error("Failed to check group admin", "error", err)
		api.ServerError(c)
		return
	}
	if !isAdmin {
		api.Forbidden(c, "Only group admins can update settings")
		return
	}

	var req UpdateGroupRequest
	if !api.Bind(c, &req) {
		return
	}

	updates := map[string]any{}
	fields := []string{}
	if req.Name != nil {
		updates["name"] = *req.Name
		fields = append(fields, "name")
	}
	if req.AmountPerCycle != nil {
		amount, err := api.ParseAmount(*req.AmountPerCycle)
		if err != nil {
			api.BadRequest(c, api.CodeValidation, "amountPerCycle must be a positive whole number")
			return
		}
		updates["amount_per_cycle"] = amount
		fields = append(fields, "amountPerCycle")
	}
	if req.Status != nil {
		if group.Status == models.GroupStatusCompleted || group.Status == models.GroupStatusCancelled {
			api.BadRequest(c, api.CodeInvalidStatus, "Group is already "+string(group.Status))
			return
		}
		updates["status"] = *req.Status
		fields = append(fields, "status")
	}
	if len(updates) == 0 {
		api.BadRequest(c, api.CodeValidation, "No fields to update")
		return
	}

	if err := h.db.WithContext(ctx).Model(group).Updates(updates).Error; err != nil {
		h.logger.Error("Failed to update group", "group_id", groupID, "error", err)
		api.ServerError(c)
		return
	}
	if err := h.db.WithContext(ctx).Preload("Owner").First(group, "id = ?", groupID).Error; err != nil {
		api.ServerError(c)
		return
	}

	h.auditor.Record(ctx, audit.EntityGroup, groupID, audit.ActionUpdate, audit.Options{
		UserID:   userID,
		Metadata: map[string]any{"updatedFields": fields},
	})
	api.OK(c, gin.H{"group": newGroupResponse(*group)})
}

// Delete cancels a group (owner only)
// @Summary Cancel a group
// @Tags groups
// @Produce json
// @Param id path string true "Group ID"
// @Success 200 {object} api.Envelope
// @Failure 403 {object} api.Envelope "Only the owner can cancel"
// @Security BearerAuth
// @Router /groups/{id} [delete]
func (h *Handler) Delete(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	groupID, ok := api.ParseID(c, "id", "Group not found")
	if !ok {
		return
	}
	group, ok := h.loadGroup(c, groupID)
	if !ok {
		return
	}
	if group.OwnerID != userID {
		api.Forbidden(c, "Only the group owner can cancel the group")
		return
	}

	ctx := c.Request.Context()
	if err := h.db.WithContext(ctx).Model(group).Update("status", models.GroupStatusCancelled).Error; err != nil {
		h.logger.Error("Failed to cancel group", "group_id", groupID, "error", err)
		api.ServerError(c)
		return
	}

	h.auditor.Record(ctx, audit.EntityGroup, groupID, audit.ActionDelete, audit.Options{
		UserID:   userID,
		Metadata: map[string]any{"action": "CANCELLED"},
	})
	api.OK(c, gin.H{"message": "Group cancelled successfully"})
}

// RegisterRoutes registers group routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.List)
	rg.POST("", h.Create)
	rg.GET("/:id", h.Get)
	rg.PATCH("/:id", h.Update)
	rg.DELETE("/:id", h.Delete)
	rg.GET("/:id/summary", h.Summary)
	rg.GET("/:id/export", h.Export)
}
