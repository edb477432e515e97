// Package payouts exposes the bookkeeping state of draw payouts. No money
// moves here; admins record what happened outside the system.
package payouts

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
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/models"
)

// Handler handles payout requests
type Handler struct {
	db      *gorm.DB
	auditor *audit.Recorder
	logger  *slog.Logger
}

// NewHandler creates a new payouts handler
func NewHandler(db *gorm.DB, auditor *audit.Recorder, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{db: db, auditor: auditor, logger: logger}
}

// UpdateRequest represents a payout status change
type UpdateRequest struct {
	PayoutID string `json:"payoutId" binding:"required,uuid"`
	Status   string `json:"status" binding:"required,oneof=PENDING PROCESSING COMPLETED FAILED"`
}

// GroupRef is the group part of a payout response.
type GroupRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PayoutResponse represents a payout in API responses
type PayoutResponse struct {
	ID          string       `json:"id"`
	CycleID     string       `json:"cycleId"`
	CycleNumber int          `json:"cycleNumber"`
	Amount      string       `json:"amount"`
	Status      string       `json:"status"`
	ProcessedAt *time.Time   `json:"processedAt"`
	Receiver    *api.UserRef `json:"receiver"`
	Group       *GroupRef    `json:"group,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

func newPayoutResponse(p models.Payout) PayoutResponse {
	resp := PayoutResponse{
		ID:          p.ID,
		CycleID:     p.CycleID,
		CycleNumber: p.Cycle.CycleNumber,
		Amount:      api.FormatAmount(p.Amount),
		Status:      string(p.Status),
		ProcessedAt: p.ProcessedAt,
		Receiver:    api.NewUserRef(p.Receiver),
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	if p.Cycle.Group.ID != "" {
		resp.Group = &GroupRef{ID: p.Cycle.Group.ID, Name: p.Cycle.Group.Name}
	}
	return resp
}

// List returns payouts the caller received or that belong to their groups
// @Summary List payouts
// @Tags payouts
// @Produce json
// @Param status query string false "Filter by status"
// @Param receiverId query string false "Filter by receiver"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} api.Envelope
// @Security BearerAuth
// @Router /payouts [get]
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
	query := db.Model(&models.Payout{}).Where("receiver_id = ? OR cycle_id IN (?)", userID, cycles)
	if v := c.Query("status"); v != "" {
		switch models.PayoutStatus(v) {
		case models.PayoutStatusPending, models.PayoutStatusProcessing,
			models.PayoutStatusCompleted, models.PayoutStatusFailed:
		default:
			api.BadRequest(c, api.CodeValidation, "Invalid status filter")
			return
		}
		query = query.Where("status = ?", v)
	}
	if v := c.Query("receiverId"); v != "" {
		query = query.Where("receiver_id = ?", v)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		h.logger.Error("Failed to count payouts", "error", err)
		api.ServerError(c)
		return
	}
	var rows []models.Payout
	if err := query.Preload("Receiver").Preload("Cycle.Group").
		Order("created_at DESC").Offset(page.Offset()).Limit(page.Limit).
		Find(&rows).Error; err != nil {
		h.logger.Error("Failed to fetch payouts", "error", err)
		api.ServerError(c)
		return
	}

	resp := make([]PayoutResponse, len(rows))
	for i, p := range rows {
		resp[i] = newPayoutResponse(p)
	}
	api.List(c, gin.H{"payouts": resp}, page.Paginate(total))
}

// Update moves a payout along PENDING, PROCESSING, COMPLETED or FAILED
// (group admins only)
// @Summary Update payout status
// @Tags payouts
// @Accept json
// @Produce json
// @Param request body UpdateRequest true "Payout and new status"
// @Success 200 {object} api.Envelope
// @Failure 400 {object} api.Envelope "Invalid transition"
// @Failure 403 {object} api.Envelope "Admin access required"
// @Failure 404 {object} api.Envelope "Payout not found"
// @Security BearerAuth
// @Router /payouts [patch]
func (h *Handler) Update(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	var req UpdateRequest
	if !api.Bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	db := h.db.WithContext(ctx)

	var payout models.Payout
	if err := db.Preload("Receiver").Preload("Cycle.Group").First(&payout, "id = ?", req.PayoutID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			api.NotFound(c, "Payout not found")
		} else {
			h.logger.Error("Failed to load payout", "payout_id", req.PayoutID, "error", err)
			api.ServerError(c)
		}
		return
	}

	isAdmin, err := auth.IsGroupAdmin(ctx, h.db, payout.Cycle.GroupID, userID)
	if err != nil {
		h.logger.Error("Failed to check group admin", "error", err)
		api.ServerError(c)
		return
	}
	if !isAdmin {
		api.Forbidden(c, "Only group admins can update payouts")
		return
	}

	next := models.PayoutStatus(req.Status)
	if next == payout.Status {
		api.OK(c, gin.H{"payout": newPayoutResponse(payout)})
		return
	}
	if !payout.Status.CanTransition(next) {
		api.BadRequest(c, api.CodeInvalidStatus,
			fmt.Sprintf("Invalid status transition from %s to %s", payout.Status, next))
		return
	}

	updates := map[string]any{"status": next}
	if next == models.PayoutStatusCompleted {
		updates["processed_at"] = time.Now()
	}
	res := db.Model(&models.Payout{}).
		Where("id = ? AND status = ?", payout.ID, payout.Status).
		Updates(updates)
	if res.Error != nil {
		h.logger.Error("Failed to update payout", "payout_id", payout.ID, "error", res.Error)
		api.ServerError(c)
		return
	}
	if res.RowsAffected == 0 {
		api.Conflict(c, "Payout was changed by another request")
		return
	}

	h.auditor.Record(ctx, audit.EntityPayout, payout.ID, audit.ActionUpdate, audit.Options{
		UserID: userID,
		Metadata: map[string]any{
			"from":       payout.Status,
			"status":     next,
			"receiverId": payout.ReceiverID,
			"amount":     api.FormatAmount(payout.Amount),
		},
	})

	if err := db.Preload("Receiver").Preload("Cycle.Group").First(&payout, "id = ?", payout.ID).Error; err != nil {
		api.ServerError(c)
		return
	}
	api.OK(c, gin.H{"payout": newPayoutResponse(payout)})
}

// RegisterRoutes registers payout routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.List)
	rg.PATCH("", h.Update)
}
