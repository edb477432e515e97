// Package activity serves the audit trail over HTTP.
package activity

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/api"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/audit"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/auth"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/models"
)

// Handler handles audit log requests
type Handler struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewHandler creates a new activity handler
func NewHandler(db *gorm.DB, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{db: db, logger: logger}
}

// EntryResponse is one audit log entry
type EntryResponse struct {
	ID        string         `json:"id"`
	Entity    string         `json:"entity"`
	EntityID  string         `json:"entityId"`
	Action    string         `json:"action"`
	Summary   string         `json:"summary,omitempty"`
	User      *api.UserRef   `json:"user"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"createdAt"`
}

// List returns the caller's own activity, or with entity and entityId the
// full history of one record (system admins only)
// @Summary Audit log
// @Tags audit
// @Produce json
// @Param entity query string false "Entity type"
// @Param entityId query string false "Entity ID"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} api.Envelope
// @Failure 403 {object} api.Envelope "Entity filter requires admin"
// @Security BearerAuth
// @Router /audit [get]
func (h *Handler) List(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	page, ok := api.ParsePage(c)
	if !ok {
		return
	}
	db := h.db.WithContext(c.Request.Context())

	query := db.Model(&models.AuditLog{})
	entity, entityID := c.Query("entity"), c.Query("entityId")
	if entity != "" && entityID != "" {
		if !auth.IsSystemAdminRole(auth.GetRole(c)) {
			api.Forbidden(c, "Entity audit access requires admin role")
			return
		}
		if !audit.ValidEntity(entity) {
			api.Error(c, http.StatusBadRequest, api.CodeValidation, "Invalid audit entity type",
				[]api.FieldError{{Field: "entity", Message: "Invalid audit entity type"}})
			return
		}
		query = query.Where("entity = ? AND entity_id = ?", entity, entityID)
	} else {
		query = query.Where("user_id = ?", userID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		h.logger.Error("Failed to count audit logs", "error", err)
		api.ServerError(c)
		return
	}
	var logs []models.AuditLog
	if err := query.Order("created_at DESC").Offset(page.Offset()).Limit(page.Limit).Find(&logs).Error; err != nil {
		h.logger.Error("Failed to fetch audit logs", "error", err)
		api.ServerError(c)
		return
	}

	actorIDs := []string{}
	for _, l := range logs {
		if l.UserID != nil {
			actorIDs = append(actorIDs, *l.UserID)
		}
	}
	actors := map[string]models.User{}
	if len(actorIDs) > 0 {
		var users []models.User
		db.Where("id IN ?", actorIDs).Find(&users)
		for _, u := range users {
			actors[u.ID] = u
		}
	}

	resp := make([]EntryResponse, len(logs))
	for i, l := range logs {
		resp[i] = EntryResponse{
			ID:        l.ID,
			Entity:    l.Entity,
			EntityID:  l.EntityID,
			Action:    l.Action,
			Summary:   l.Summary,
			Metadata:  audit.DecodeMetadata(l),
			CreatedAt: l.CreatedAt,
		}
		if l.UserID != nil {
			resp[i].User = api.NewUserRef(actors[*l.UserID])
		}
	}
	api.List(c, gin.H{"logs": resp}, page.Paginate(total))
}

// RegisterRoutes registers audit routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.List)
}
