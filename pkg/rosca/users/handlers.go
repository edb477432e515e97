// Package users serves user profiles and the system admin console.
package users

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

// Handler handles user and admin requests
type Handler struct {
	db      *gorm.DB
	auditor *audit.Recorder
	logger  *slog.Logger
}

// NewHandler creates a new users handler
func NewHandler(db *gorm.DB, auditor *audit.Recorder, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{db: db, auditor: auditor, logger: logger}
}

// UserResponse represents user data in list and admin responses
type UserResponse struct {
	ID              string    `json:"id"`
	Phone           string    `json:"phone"`
	FullName        string    `json:"fullName"`
	Role            string    `json:"role"`
	Status          string    `json:"status"`
	MembershipCount int64     `json:"membershipCount"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// UpdateProfileRequest represents a user's change to their own profile
type UpdateProfileRequest struct {
	FullName string `json:"fullName" binding:"required,min=2,max=100"`
}

func (h *Handler) userResponse(db *gorm.DB, u models.User) UserResponse {
	var count int64
	db.Model(&models.Membership{}).Where("user_id = ?", u.ID).Count(&count)
	return UserResponse{
		ID:              u.ID,
		Phone:           u.Phone,
		FullName:        u.FullName,
		Role:            string(u.Role),
		Status:          string(u.Status),
		MembershipCount: count,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
	}
}

// ListUsers returns all users (system admin only)
// @Summary List users
// @Tags users
// @Produce json
// @Param q query string false "Search by phone or name"
// @Param role query string false "Filter by role"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} api.Envelope
// @Failure 403 {object} api.Envelope "Admin access required"
// @Security BearerAuth
// @Router /users [get]
func (h *Handler) ListUsers(c *gin.Context) {
	page, ok := api.ParsePage(c)
	if !ok {
		return
	}
	db := h.db.WithContext(c.Request.Context())

	query := db.Model(&models.User{})
	if search := c.Query("q"); search != "" {
		like := "%" + search + "%"
		query = query.Where("phone LIKE ? OR full_name LIKE ?", like, like)
	}
	if role := c.Query("role"); role != "" {
		query = query.Where("role = ?", role)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		h.logger.Error("Failed to count users", "error", err)
		api.ServerError(c)
		return
	}
	var users []models.User
	if err := query.Order("created_at DESC").Offset(page.Offset()).Limit(page.Limit).Find(&users).Error; err != nil {
		h.logger.Error("Failed to fetch users", "error", err)
		api.ServerError(c)
		return
	}

	responses := make([]UserResponse, len(users))
	for i, user := range users {
		responses[i] = h.userResponse(db, user)
	}
	api.List(c, gin.H{"users": responses}, page.Paginate(total))
}

// UpdateProfile updates the current user's profile
// @Summary Update my profile
// @Tags users
// @Accept json
// @Produce json
// @Param request body UpdateProfileRequest true "Profile"
// @Success 200 {object} api.Envelope
// @Security BearerAuth
// @Router /users [patch]
func (h *Handler) UpdateProfile(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	var req UpdateProfileRequest
	if !api.Bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	db := h.db.WithContext(ctx)

	if err := db.Model(&models.User{}).Where("id = ?", userID).Update("full_name", req.FullName).Error; err != nil {
		h.logger.Error("Failed to update profile", "user_id", userID, "error", err)
		api.ServerError(c)
		return
	}
	var user models.User
	if err := db.First(&user, "id = ?", userID).Error; err != nil {
		api.ServerError(c)
		return
	}

	h.auditor.Record(ctx, audit.EntityUser, userID, audit.ActionUpdate, audit.Options{
		UserID:   userID,
		Metadata: map[string]any{"updatedFields": []string{"fullName"}},
	})
	api.OK(c, gin.H{"user": auth.NewUserResponse(user)})
}

func (h *Handler) loadUser(c *gin.Context) (*models.User, bool) {
	id, ok := api.ParseID(c, "id", "User not found")
	if !ok {
		return nil, false
	}
	var user models.User
	if err := h.db.WithContext(c.Request.Context()).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			api.NotFound(c, "User not found")
		} else {
			api.ServerError(c)
		}
		return nil, false
	}
	return &user, true
}

// RegisterRoutes registers user routes. Listing requires a system admin.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", auth.RequireSystemAdmin(), h.ListUsers)
	rg.PATCH("", h.UpdateProfile)
}
