// Package cycles serves the rounds of a group.
package cycles

import (
	"errors"
	"fmt"
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

var (
	errOpenCycleExists = errors.New("another cycle is open")
	errCycleNumber     = errors.New("invalid cycle number")
)

// Handler handles cycle requests
type Handler struct {
	db      *gorm.DB
	auditor *audit.Recorder
	logger  *slog.Logger
}

// NewHandler creates a new cycles handler
func NewHandler(db *gorm.DB, auditor *audit.Recorder, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{db: db, auditor: auditor, logger: logger}
}

// CreateCycleRequest represents the request to open a cycle. CycleNumber
// defaults to the next number and DueDate to the group's cycle length.
type CreateCycleRequest struct {
	GroupID     string     `json:"groupId" binding:"required,uuid"`
	CycleNumber int        `json:"cycleNumber" binding:"omitempty,min=1"`
	DueDate     *time.Time `json:"dueDate"`
}

// UpdateCycleRequest represents the request to update a cycle
type UpdateCycleRequest struct {
	Status  *string    `json:"status" binding:"omitempty,oneof=OPEN CLOSED CANCELLED"`
	DueDate *time.Time `json:"dueDate"`
}

// GroupRef is the group part of a cycle response.
type GroupRef struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	AmountPerCycle string `json:"amountPerCycle"`
}

// CycleResponse represents a cycle in API responses
type CycleResponse struct {
	ID                string       `json:"id"`
	GroupID           string       `json:"groupId"`
	CycleNumber       int          `json:"cycleNumber"`
	Status            string       `json:"status"`
	DueDate           time.Time    `json:"dueDate"`
	Group             *GroupRef    `json:"group,omitempty"`
	ContributionCount int64        `json:"contributionCount"`
	Winner            *api.UserRef `json:"winner"`
	CreatedAt         time.Time    `json:"createdAt"`
}

func newCycleResponse(c models.Cycle) CycleResponse {
	resp := CycleResponse{
		ID:          c.ID,
		GroupID:     c.GroupID,
		CycleNumber: c.CycleNumber,
		Status:      string(c.Status),
		DueDate:     c.DueDate,
		CreatedAt:   c.CreatedAt,
	}
	if c.Group.ID != "" {
		resp.Group = &GroupRef{
			ID:             c.Group.ID,
			Name:           c.Group.Name,
			AmountPerCycle: api.FormatAmount(c.Group.AmountPerCycle),
		}
	}
	if c.Draw != nil {
		resp.Winner = api.NewUserRef(c.Draw.Winner)
	}
	return resp
}

// List returns cycles of the caller's groups
// @Summary List cycles
// @Tags cycles
// @Produce json
// @Param groupId query string false "Filter by group"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} api.Envelope
// @Security BearerAuth
// @Router /cycles [get]
func (h *Handler) List(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	page, ok := api.ParsePage(c)
	if !ok {
		return
	}
	db := h.db.WithContext(c.Request.Context())

	mine := db.Model(&models.Membership{}).Select("group_id").
		Where("user_id = ? AND status = ?", userID, models.MembershipStatusActive)
	query := db.Model(&models.Cycle{}).Where("group_id IN (?)", mine)
	if groupID := c.Query("groupId"); groupID != "" {
		query = query.Where("group_id = ?", groupID)
	}
	if status := c.Query("status"); status != "" {
		switch models.CycleStatus(status) {
		case models.CycleStatusOpen, models.CycleStatusClosed, models.CycleStatusCancelled:
		default:
			api.BadRequest(c, api.CodeValidation, "Invalid status filter")
			return
		}
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		h.logger.Error("Failed to count cycles", "error", err)
		api.ServerError(c)
		return
	}
	var cycles []models.Cycle
	if err := query.Preload("Group").Preload("Draw.Winner").
		Order("group_id ASC, cycle_number ASC").
		Offset(page.Offset()).Limit(page.Limit).Find(&cycles).Error; err != nil {
		h.logger.Error("Failed to fetch cycles", "error", err)
		api.ServerError(c)
		return
	}

	resp := make([]CycleResponse, len(cycles))
	for i, cy := range cycles {
		resp[i] = newCycleResponse(cy)
		db.Model(&models.Contribution{}).Where("cycle_id = ?", cy.ID).Count(&resp[i].ContributionCount)
	}
	api.List(c, gin.H{"cycles": resp}, page.Paginate(total))
}

// Create opens a new cycle for a group (admin only)
// @Summary Create a cycle
// @Tags cycles
// @Accept json
// @Produce json
// @Param request body CreateCycleRequest true "Cycle details"
// @Success 201 {object} api.Envelope
// @Failure 400 {object} api.Envelope "Invalid cycle number"
// @Failure 403 {object} api.Envelope "Admin access required"
// @Failure 409 {object} api.Envelope "Another cycle is open"
// @Security BearerAuth
// @Router /cycles [post]
func (h *Handler) Create(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	var req CreateCycleRequest
	if !api.Bind(c, &req) {
		return
	}
	ctx := c.Request.Context()

	var group models.Group
	if err := h.db.WithContext(ctx).First(&group, "id = ?", req.GroupID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			api.NotFound(c, "Group not found")
		} else {
			api.ServerError(c)
		}
		return
	}
	isAdmin, err := auth.IsGroupAdmin(ctx, h.db, group.ID, userID)
	if err != nil {
		h.logger.Error("Failed to check group admin", "error", err)
		api.ServerError(c)
		return
	}
	if !isAdmin {
		api.Forbidden(c, "Only group admins can create cycles")
		return
	}

	var cycle models.Cycle
	var expected int
	err = database.Transact(ctx, h.db, func(tx *gorm.DB) error {
		var open int64
		if err := tx.Model(&models.Cycle{}).
			Where("group_id = ? AND status = ?", group.ID, models.CycleStatusOpen).
			Count(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			return errOpenCycleExists
		}

		var last int
		if err := tx.Model(&models.Cycle{}).Select("COALESCE(MAX(cycle_number), 0)").
			Where("group_id = ?", group.ID).Scan(&last).Error; err != nil {
			return err
		}
		expected = last + 1
		if req.CycleNumber != 0 && req.CycleNumber != expected {
			return errCycleNumber
		}

		var members int64
		if err := tx.Model(&models.Membership{}).
			Where("group_id = ? AND status = ?", group.ID, models.MembershipStatusActive).
			Count(&members).Error; err != nil {
			return err
		}
		if int64(expected) > members {
			return errCycleNumber
		}

		due := time.Now().AddDate(0, 0, group.CycleDurationDays)
		if req.DueDate != nil {
			due = *req.DueDate
		}
		cycle = models.Cycle{
			GroupID:     group.ID,
			CycleNumber: expected,
			Status:      models.CycleStatusOpen,
			DueDate:     due,
		}
		return tx.Create(&cycle).Error
	})
	switch {
	case err == nil:
	case errors.Is(err, errOpenCycleExists), database.IsUniqueViolation(err):
		api.Conflict(c, "Cannot create a new cycle while another cycle is open")
		return
	case errors.Is(err, errCycleNumber):
		api.BadRequest(c, api.CodeValidation,
			fmt.Sprintf("Next cycle number should be %d and cannot exceed the number of active members", expected))
		return
	default:
		h.logger.Error("Failed to create cycle", "group_id", group.ID, "error", err)
		api.ServerError(c)
		return
	}

	h.auditor.Record(ctx, audit.EntityCycle, cycle.ID, audit.ActionCreate, audit.Options{
		UserID:   userID,
		Metadata: map[string]any{"cycleNumber": cycle.CycleNumber, "groupId": group.ID},
	})
	api.Created(c, gin.H{"cycle": newCycleResponse(cycle)})
}

func (h *Handler) loadCycle(c *gin.Context, preload ...string) (*models.Cycle, bool) {
	id, ok := api.ParseID(c, "id", "Cycle not found")
	if !ok {
		return nil, false
	}
	q := h.db.WithContext(c.Request.Context())
	for _, p := range preload {
		q = q.Preload(p)
	}
	var cycle models.Cycle
	if err := q.First(&cycle, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			api.NotFound(c, "Cycle not found")
		} else {
			h.logger.Error("Failed to load cycle", "cycle_id", id, "error", err)
			api.ServerError(c)
		}
		return nil, false
	}
	return &cycle, true
}

// ContributionItem is a contribution inside a cycle detail.
type ContributionItem struct {
	ID          string       `json:"id"`
	User        *api.UserRef `json:"user"`
	Amount      string       `json:"amount"`
	Status      string       `json:"status"`
	PaidAt      *time.Time   `json:"paidAt"`
	ConfirmedAt *time.Time   `json:"confirmedAt"`
}

// PayoutItem is the payout inside a cycle detail.
type PayoutItem struct {
	ID          string     `json:"id"`
	ReceiverID  string     `json:"receiverId"`
	Amount      string     `json:"amount"`
	Status      string     `json:"status"`
	ProcessedAt *time.Time `json:"processedAt"`
}

// Statistics summarizes a cycle's collection.
type Statistics struct {
	TotalExpected     string         `json:"totalExpected"`
	TotalCollected    string         `json:"totalCollected"`
	ContributionRate  string         `json:"contributionRate"`
	ContributorsCount int            `json:"contributorsCount"`
	ExpectedCount     int            `json:"expectedCount"`
	NonContributors   []*api.UserRef `json:"nonContributors"`
}

// Get returns a cycle with contributions, draw, payout and statistics
// @Summary Get a cycle
// @Tags cycles
// @Produce json
// @Param id path string true "Cycle ID"
// @Success 200 {object} api.Envelope
// @Failure 403 {object} api.Envelope "Not a member"
// @Failure 404 {object} api.Envelope "Cycle not found"
// @Security BearerAuth
// @Router /cycles/{id} [get]
func (h *Handler) Get(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	cycle, ok := h.loadCycle(c, "Group", "Contributions.User", "Draw.Winner", "Payout")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var members []models.Membership
	if err := h.db.WithContext(ctx).Preload("User").
		Where("group_id = ? AND status = ?", cycle.GroupID, models.MembershipStatusActive).
		Order("created_at ASC").Find(&members).Error; err != nil {
		h.logger.Error("Failed to load members", "cycle_id", cycle.ID, "error", err)
		api.ServerError(c)
		return
	}
	isMember := false
	for _, m := range members {
		if m.UserID == userID {
			isMember = true
			break
		}
	}
	if !isMember {
		api.Forbidden(c, "Not a member of this group")
		return
	}

	contributed := make(map[string]bool, len(cycle.Contributions))
	items := make([]ContributionItem, len(cycle.Contributions))
	var collected int64
	confirmed := 0
	for i, ct := range cycle.Contributions {
		contributed[ct.UserID] = true
		items[i] = ContributionItem{
			ID:          ct.ID,
			User:        api.NewUserRef(ct.User),
			Amount:      api.FormatAmount(ct.Amount),
			Status:      string(ct.Status),
			PaidAt:      ct.PaidAt,
			ConfirmedAt: ct.ConfirmedAt,
		}
		if ct.Status == models.ContributionStatusConfirmed {
			collected += ct.Amount
			confirmed++
		}
	}
	missing := []*api.UserRef{}
	for _, m := range members {
		if !contributed[m.UserID] {
			missing = append(missing, &api.UserRef{ID: m.User.ID, FullName: m.User.FullName})
		}
	}
	rate := 0.0
	if len(members) > 0 {
		rate = float64(confirmed) / float64(len(members)) * 100
	}

	var payout *PayoutItem
	if p := cycle.Payout; p != nil {
		payout = &PayoutItem{
			ID:          p.ID,
			ReceiverID:  p.ReceiverID,
			Amount:      api.FormatAmount(p.Amount),
			Status:      string(p.Status),
			ProcessedAt: p.ProcessedAt,
		}
	}

	api.OK(c, gin.H{
		"cycle":         newCycleResponse(*cycle),
		"contributions": items,
		"payout":        payout,
		"statistics": Statistics{
			TotalExpected:     api.FormatAmount(cycle.Group.AmountPerCycle * int64(len(members))),
			TotalCollected:    api.FormatAmount(collected),
			ContributionRate:  fmt.Sprintf("%.2f", rate),
			ContributorsCount: confirmed,
			ExpectedCount:     len(members),
			NonContributors:   missing,
		},
	})
}

// Update changes a cycle's status or due date (admin only)
// @Summary Update a cycle
// @Tags cycles
// @Accept json
// @Produce json
// @Param id path string true "Cycle ID"
// @Param request body UpdateCycleRequest true "Fields to change"
// @Success 200 {object} api.Envelope
// @Failure 403 {object} api.Envelope "Admin access required"
// @Failure 409 {object} api.Envelope "Another cycle is open"
// @Security BearerAuth
// @Router /cycles/{id} [patch]
func (h *Handler) Update(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	cycle, ok := h.loadCycle(c, "Draw")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	isAdmin, err := auth.IsGroupAdmin(ctx, h.db, cycle.GroupID, userID)
	if err != nil {
		h.logger.Error("Failed to check group admin", "error", err)
		api.ServerError(c)
		return
	}
	if !isAdmin {
		api.Forbidden(c, "Only group admins can update cycles")
		return
	}

	var req UpdateCycleRequest
	if !api.Bind(c, &req) {
		return
	}

	updates := map[string]any{}
	fields := []string{}
	if req.DueDate != nil {
		updates["due_date"] = *req.DueDate
		fields = append(fields, "dueDate")
	}
	if req.Status != nil && *req.Status != string(cycle.Status) {
		if *req.Status == string(models.CycleStatusOpen) {
			if cycle.Draw != nil {
				api.BadRequest(c, api.CodeInvalidStatus, "A drawn cycle cannot be reopened")
				return
			}
			var open int64
			h.db.WithContext(ctx).Model(&models.Cycle{}).
				Where("group_id = ? AND status = ? AND id <> ?", cycle.GroupID, models.CycleStatusOpen, cycle.ID).
				Count(&open)
			if open > 0 {
				api.Conflict(c, "Another cycle is already open")
				return
			}
		}
		updates["status"] = *req.Status
		fields = append(fields, "status")
	}
	if len(updates) == 0 {
		api.BadRequest(c, api.CodeValidation, "No fields to update")
		return
	}

	if err := h.db.WithContext(ctx).Model(cycle).Updates(updates).Error; err != nil {
		h.logger.Error("Failed to update cycle", "cycle_id", cycle.ID, "error", err)
		api.ServerError(c)
		return
	}
	if err := h.db.WithContext(ctx).First(cycle, "id = ?", cycle.ID).Error; err != nil {
		api.ServerError(c)
		return
	}

	h.auditor.Record(ctx, audit.EntityCycle, cycle.ID, audit.ActionUpdate, audit.Options{
		UserID:   userID,
		Metadata: map[string]any{"updatedFields": fields},
	})
	api.OK(c, gin.H{"cycle": newCycleResponse(*cycle)})
}

// RegisterRoutes registers cycle routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.List)
	rg.POST("", h.Create)
	rg.GET("/:id", h.Get)
	rg.PATCH("/:id", h.Update)
}
