package draw

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/api"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/auth"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/models"
)

// Handler serves the draw endpoints of a group.
type Handler struct {
	db      *gorm.DB
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a new draw handler
func NewHandler(db *gorm.DB, service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{db: db, service: service, logger: logger}
}

// WinnerResponse identifies the winning user.
type WinnerResponse struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
	Phone    string `json:"phone"`
}

func newWinnerResponse(u models.User) WinnerResponse {
	return WinnerResponse{ID: u.ID, FullName: u.FullName, Phone: u.Phone}
}

// DrawResponse describes a completed draw.
type DrawResponse struct {
	ID                   string         `json:"id"`
	CycleID              string         `json:"cycleId"`
	CycleNumber          int            `json:"cycleNumber"`
	Winner               WinnerResponse `json:"winner"`
	PayoutAmount         string         `json:"payoutAmount"`
	EligibleMembersCount int            `json:"eligibleMembersCount"`
	SeedValue            string         `json:"seedValue"`
	NextCycleNumber      *int           `json:"nextCycleNumber,omitempty"`
	GroupCompleted       bool           `json:"groupCompleted"`
}

// PayoutSummary is the payout attached to a history entry.
type PayoutSummary struct {
	Amount string `json:"amount"`
	Status string `json:"status"`
}

// HistoryResponse is one entry of the draw history.
type HistoryResponse struct {
	ID          string         `json:"id"`
	CycleNumber int            `json:"cycleNumber"`
	Winner      WinnerResponse `json:"winner"`
	Payout      *PayoutSummary `json:"payout"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// PerformDraw draws a winner for the group's open cycle.
// @Summary Perform draw
// @Description Select a winner for the open cycle, create the payout and roll the group to its next cycle
// @Tags draws
// @Produce json
// @Security BearerAuth
// @Param id path string true "Group ID"
// @Success 200 {object} api.Envelope
// @Failure 400 {object} api.Envelope "NO_OPEN_CYCLE, INCOMPLETE_CONTRIBUTIONS or NO_ELIGIBLE_MEMBERS"
// @Failure 403 {object} api.Envelope "Not a group admin"
// @Failure 404 {object} api.Envelope "Group not found"
// @Failure 409 {object} api.Envelope "Draw already performed"
// @Router /groups/{id}/draw [post]
func (h *Handler) PerformDraw(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	groupID, ok := api.ParseID(c, "id", "Group not found")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if !h.groupExists(c, groupID) {
		return
	}

	isAdmin, err := auth.IsGroupAdmin(ctx, h.db, groupID, userID)
	if err != nil {
		h.logger.Error("Failed to check group admin", "group_id", groupID, "error", err)
		api.ServerError(c)
		return
	}
	if !isAdmin {
		api.Forbidden(c, "Only group admins can perform draws")
		return
	}

	res, err := h.service.Perform(ctx, groupID, userID)
	if err != nil {
		var derr *Error
		if errors.As(err, &derr) {
			h.logger.Warn("Draw rejected", "group_id", groupID, "code", derr.Code)
			api.Error(c, derr.Status, derr.Code, derr.Message)
			return
		}
		h.logger.Error("Draw failed", "group_id", groupID, "error", err)
		api.ServerError(c)
		return
	}

	resp := DrawResponse{
		ID:                   res.Draw.ID,
		CycleID:              res.Cycle.ID,
		CycleNumber:          res.Cycle.CycleNumber,
		Winner:               newWinnerResponse(res.Winner),
		PayoutAmount:         api.FormatAmount(res.Payout.Amount),
		EligibleMembersCount: res.EligibleCount,
		SeedValue:            res.Draw.SeedValue,
		GroupCompleted:       res.GroupCompleted,
	}
	if res.NextCycle != nil {
		n := res.NextCycle.CycleNumber
		resp.NextCycleNumber = &n
	}

	api.OK(c, gin.H{
		"draw":    resp,
		"message": "Draw completed successfully! Winner: " + res.Winner.FullName,
	})
}

// ListDraws returns the draw history of a group to its active members.
// @Summary Draw history
// @Tags draws
// @Produce json
// @Security BearerAuth
// @Param id path string true "Group ID"
// @Success 200 {object} api.Envelope
// @Failure 403 {object} api.Envelope "Not a member"
// @Router /groups/{id}/draw [get]
func (h *Handler) ListDraws(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	groupID, ok := api.ParseID(c, "id", "Group not found")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if !h.groupExists(c, groupID) {
		return
	}

	isMember, err := auth.IsGroupMember(ctx, h.db, groupID, userID)
	if err != nil {
		h.logger.Error("Failed to check membership", "group_id", groupID, "error", err)
		api.ServerError(c)
		return
	}
	if !isMember {
		api.Forbidden(c, "Not a member of this group")
		return
	}

	entries, err := h.service.History(ctx, groupID)
	if err != nil {
		h.logger.Error("Failed to load draw history", "group_id", groupID, "error", err)
		api.ServerError(c)
		return
	}

	draws := make([]HistoryResponse, 0, len(entries))
	for _, e := range entries {
		item := HistoryResponse{
			ID:          e.Draw.ID,
			CycleNumber: e.Draw.Cycle.CycleNumber,
			Winner:      newWinnerResponse(e.Draw.Winner),
			CreatedAt:   e.Draw.CreatedAt,
		}
		if e.Payout != nil {
			item.Payout = &PayoutSummary{
				Amount: api.FormatAmount(e.Payout.Amount),
				Status: string(e.Payout.Status),
			}
		}
		draws = append(draws, item)
	}

	api.OK(c, gin.H{"draws": draws, "totalDraws": len(draws)})
}

func (h *Handler) groupExists(c *gin.Context, groupID string) bool {
	var count int64
	if err := h.db.WithContext(c.Request.Context()).Model(&models.Group{}).Where("id = ?", groupID).Count(&count).Error; err != nil {
		h.logger.Error("Failed to load group", "group_id", groupID, "error", err)
		api.ServerError(c)
		return false
	}
	if count == 0 {
		api.NotFound(c, "Group not found")
		return false
	}
	return true
}

// RegisterRoutes registers draw routes on the groups router group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/:id/draw", h.PerformDraw)
	rg.GET("/:id/draw", h.ListDraws)
}
