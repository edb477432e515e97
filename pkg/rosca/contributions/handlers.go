// Package contributions records members' payments into cycles and lets
// group admins confirm them.
package contributions

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/api"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/audit"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/auth"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/database"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/models"
)

var errNotPending = errors.New("contribution is not pending")

// Handler handles contribution requests
type Handler struct {
	db      *gorm.DB
	auditor *audit.Recorder
	logger  *slog.Logger
}

// NewHandler creates a new contributions handler
func NewHandler(db *gorm.DB, auditor *audit.Recorder, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{db: db, auditor: auditor, logger: logger}
}

// CreateRequest represents the request to record a contribution. The
// contributor is always the authenticated user.
type CreateRequest struct {
	CycleID        string `json:"cycleId" binding:"required,uuid"`
	Amount         string `json:"amount" binding:"required,amount"`
	IdempotencyKey string `json:"idempotencyKey" binding:"omitempty,max=128"`
}

// ConfirmRequest represents an admin's decision on a pending contribution
type ConfirmRequest struct {
	Status string `json:"status" binding:"required,oneof=CONFIRMED FAILED CANCELLED"`
}

// CycleRef is the cycle part of a contribution response.
type CycleRef struct {
	ID          string `json:"id"`
	CycleNumber int    `json:"cycleNumber"`
	Status      string `json:"status"`
	GroupID     string `json:"groupId"`
	GroupName   string `json:"groupName,omitempty"`
}

// ContributionResponse represents a contribution in API responses
type ContributionResponse struct {
	ID             string       `json:"id"`
	CycleID        string       `json:"cycleId"`
	UserID         string       `json:"userId"`
	Amount         string       `json:"amount"`
	Status         string       `json:"status"`
	IdempotencyKey *string      `json:"idempotencyKey,omitempty"`
	PaidAt         *time.Time   `json:"paidAt"`
	ConfirmedAt    *time.Time   `json:"confirmedAt"`
	User           *api.UserRef `json:"user,omitempty"`
	Cycle          *CycleRef    `json:"cycle,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
}

func newContributionResponse(c models.Contribution) ContributionResponse {
	resp := ContributionResponse{
		ID:             c.ID,
		CycleID:        c.CycleID,
		UserID:         c.UserID,
		Amount:         api.FormatAmount(c.Amount),
		Status:         string(c.Status),
		IdempotencyKey: c.IdempotencyKey,
		PaidAt:         c.PaidAt,
		ConfirmedAt:    c.ConfirmedAt,
		User:           api.NewUserRef(c.User),
		CreatedAt:      c.CreatedAt,
	}
	if c.Cycle.ID != "" {
		resp.Cycle = &CycleRef{
			ID:          c.Cycle.ID,
			CycleNumber: c.Cycle.CycleNumber,
			Status:      string(c.Cycle.Status),
			GroupID:     c.Cycle.GroupID,
			GroupName:   c.Cycle.Group.Name,
		}
	}
	return resp
}

// List returns contributions in the caller's groups
// @Summary List contributions
// @Tags contributions
// @Produce json
// @Param cycleId query string false "Filter by cycle"
// @Param userId query string false "Filter by contributor"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} api.Envelope
// @Security BearerAuth
// @Router /contributions [get]
func (h *Handler) List(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	page, ok := api.ParsePage(c)
	if !ok {
		return
	}
	db := h.db.WithContext(c.Request.Context())

	groups := db.Model(&models.Membership{}).Select("group_id").
		Where("user_id = ? AND status = ?", userID, models.MembershipStatusActive)
	cycles := db.Model(&models.Cycle{}).Select("id").Where("group_id IN (?)", groups)
	query := db.Model(&models.Contribution{}).Where("cycle_id IN (?)", cycles)
	if v := c.Query("cycleId"); v != "" {
		query = query.Where("cycle_id = ?", v)
	}
	if v := c.Query("userId"); v != "" {
		query = query.Where("user_id = ?", v)
	}
	if v := c.Query("status"); v != "" {
		switch models.ContributionStatus(v) {
		case models.ContributionStatusPending, models.ContributionStatusConfirmed,
			models.ContributionStatusFailed, models.ContributionStatusCancelled:
		default:
			api.BadRequest(c, api.CodeValidation, "Invalid status filter")
			return
		}
		query = query.Where("status = ?", v)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		h.logger.Error("Failed to count contributions", "error", err)
		api.ServerError(c)
		return
	}
	var rows []models.Contribution
	if err := query.Preload("User").Preload("Cycle.Group").
		Order("created_at DESC").Offset(page.Offset()).Limit(page.Limit).
		Find(&rows).Error; err != nil {
		h.logger.Error("Failed to fetch contributions", "error", err)
		api.ServerError(c)
		return
	}

	resp := make([]ContributionResponse, len(rows))
	for i, row := range rows {
		resp[i] = newContributionResponse(row)
	}
	api.List(c, gin.H{"contributions": resp}, page.Paginate(total))
}

// Create records the caller's contribution to an open cycle
// @Summary Record a contribution
// @Tags contributions
// @Accept json
// @Produce json
// @Param request body CreateRequest true "Contribution"
// @Success 201 {object} api.Envelope
// @Success 200 {object} api.Envelope "Idempotent replay"
// @Failure 400 {object} api.Envelope "Cycle closed or wrong amount"
// @Failure 403 {object} api.Envelope "Not a member"
// @Failure 409 {object} api.Envelope "Already contributed"
// @Security BearerAuth
// @Router /contributions [post]
func (h *Handler) Create(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	var req CreateRequest
	if !api.Bind(c, &req) {
		return
	}
	amount, err := api.ParseAmount(req.Amount)
	if err != nil {
		api.BadRequest(c, api.CodeInvalidAmount, "Amount must be a positive whole number")
		return
	}
	ctx := c.Request.Context()
	db := h.db.WithContext(ctx)

	var cycle models.Cycle
	if err := db.Preload("Group").First(&cycle, "id = ?", req.CycleID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			api.NotFound(c, "Cycle not found")
		} else {
			api.ServerError(c)
		}
		return
	}
	if cycle.Status != models.CycleStatusOpen {
		api.BadRequest(c, api.CodeCycleClosed, "This cycle is not accepting contributions")
		return
	}
	isMember, err := auth.IsGroupMember(ctx, h.db, cycle.GroupID, userID)
	if err != nil {
		h.logger.Error("Failed to check membership", "error", err)
		api.ServerError(c)
		return
	}
	if !isMember {
		api.Error(c, http.StatusForbidden, api.CodeNotMember, "User is not a member of this group")
		return
	}

	var existing models.Contribution
	err = db.Where("cycle_id = ? AND user_id = ?", cycle.ID, userID).First(&existing).Error
	if err == nil {
		if req.IdempotencyKey != "" && existing.IdempotencyKey != nil && *existing.IdempotencyKey == req.IdempotencyKey {
			api.OK(c, gin.H{
				"contribution": newContributionResponse(existing),
				"message":      "Contribution already exists (idempotent)",
			})
			return
		}
		api.Conflict(c, "User already has a contribution for this cycle")
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		h.logger.Error("Failed to check existing contribution", "error", err)
		api.ServerError(c)
		return
	}

	if amount != cycle.Group.AmountPerCycle {
		api.BadRequest(c, api.CodeInvalidAmount, "Amount must be "+api.FormatAmount(cycle.Group.AmountPerCycle))
		return
	}

	contribution := models.Contribution{
		CycleID: cycle.ID,
		UserID:  userID,
		Amount:  amount,
		Status:  models.ContributionStatusPending,
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		contribution.IdempotencyKey = &key
	}
	if err := db.Create(&contribution).Error; err != nil {
		if database.IsUniqueViolation(err) {
			api.Conflict(c, "User already has a contribution for this cycle")
			return
		}
		h.logger.Error("Failed to create contribution", "cycle_id", cycle.ID, "error", err)
		api.ServerError(c)
		return
	}

	h.auditor.Record(ctx, audit.EntityContribution, contribution.ID, audit.ActionCreate, audit.Options{
		UserID: userID,
		Metadata: map[string]any{
			"cycleId":        cycle.ID,
			"amount":         req.Amount,
			"idempotencyKey": req.IdempotencyKey,
		},
	})
	api.Created(c, gin.H{"contribution": newContributionResponse(contribution)})
}

func (h *Handler) loadContribution(c *gin.Context) (*models.Contribution, bool) {
	id, ok := api.ParseID(c, "id", "Contribution not found")
	if !ok {
		return nil, false
	}
	var contribution models.Contribution
	err := h.db.WithContext(c.Request.Context()).
		Preload("User").Preload("Cycle.Group").
		First(&contribution, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			api.NotFound(c, "Contribution not found")
		} else {
			h.logger.Error("Failed to load contribution", "contribution_id", id, "error", err)
			api.ServerError(c)
		}
		return nil, false
	}
	return &contribution, true
}

// Get returns one contribution to members of its group
// @Summary Get a contribution
// @Tags contributions
// @Produce json
// @Param id path string true "Contribution ID"
// @Success 200 {object} api.Envelope
// @Failure 403 {object} api.Envelope "Not a member"
// @Failure 404 {object} api.Envelope "Contribution not found"
// @Security BearerAuth
// @Router /contributions/{id} [get]
func (h *Handler) Get(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	contribution, ok := h.loadContribution(c)
	if !ok {
		return
	}
	isMember, err := auth.IsGroupMember(c.Request.Context(), h.db, contribution.Cycle.GroupID, userID)
	if err != nil {
		api.ServerError(c)
		return
	}
	if !isMember {
		api.Forbidden(c, "Not a member of this group")
		return
	}
	api.OK(c, gin.H{"contribution": newContributionResponse(*contribution)})
}

// Confirm settles a pending contribution (group admins only). Confirming
// adds the amount to the member's total paid in the same transaction.
// @Summary Confirm or reject a contribution
// @Tags contributions
// @Accept json
// @Produce json
// @Param id path string true "Contribution ID"
// @Param request body ConfirmRequest true "New status"
// @Success 200 {object} api.Envelope
// @Failure 400 {object} api.Envelope "Not pending"
// @Failure 403 {object} api.Envelope "Admin access required"
// @Security BearerAuth
// @Router /contributions/{id}/confirm [patch]
func (h *Handler) Confirm(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	contribution, ok := h.loadContribution(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	groupID := contribution.Cycle.GroupID

	isAdmin, err := auth.IsGroupAdmin(ctx, h.db, groupID, userID)
	if err != nil {
		h.logger.Error("Failed to check group admin", "error", err)
		api.ServerError(c)
		return
	}
	if !isAdmin {
		api.Forbidden(c, "Only group admins can confirm contributions")
		return
	}

	var req ConfirmRequest
	if !api.Bind(c, &req) {
		return
	}
	if contribution.Status != models.ContributionStatusPending {
		api.BadRequest(c, api.CodeInvalidStatus, "Cannot confirm contribution with status "+string(contribution.Status))
		return
	}

	status := models.ContributionStatus(req.Status)
	updates := map[string]any{"status": status}
	if status == models.ContributionStatusConfirmed {
		now := time.Now()
		updates["paid_at"] = now
		updates["confirmed_at"] = now
	}

	err = database.Transact(ctx, h.db, func(tx *gorm.DB) error {
		res := tx.Model(&models.Contribution{}).
			Where("id = ? AND status = ?", contribution.ID, models.ContributionStatusPending).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errNotPending
		}
		if status != models.ContributionStatusConfirmed {
			return nil
		}
		return tx.Model(&models.Membership{}).
			Where("group_id = ? AND user_id = ? AND status = ?", groupID, contribution.UserID, models.MembershipStatusActive).
			Update("total_paid", gorm.Expr("total_paid + ?", contribution.Amount)).Error
	})
	switch {
	case err == nil:
	case errors.Is(err, errNotPending):
		api.BadRequest(c, api.CodeInvalidStatus, "Contribution is no longer pending")
		return
	default:
		h.logger.Error("Failed to confirm contribution", "contribution_id", contribution.ID, "error", err)
		api.ServerError(c)
		return
	}

	h.auditor.Record(ctx, audit.EntityContribution, contribution.ID, audit.ActionConfirm, audit.Options{
		UserID: userID,
		Metadata: map[string]any{
			"status":        status,
			"contributorId": contribution.UserID,
			"amount":        api.FormatAmount(contribution.Amount),
		},
	})

	if err := h.db.WithContext(ctx).Preload("User").First(contribution, "id = ?", contribution.ID).Error; err != nil {
		api.ServerError(c)
		return
	}
	api.OK(c, gin.H{"contribution": newContributionResponse(*contribution)})
}

// RegisterRoutes registers contribution routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.List)
	rg.POST("", h.Create)
	rg.GET("/:id", h.Get)
	rg.PATCH("/:id/confirm", h.Confirm)
}
