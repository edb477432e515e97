package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/api"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/audit"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/models"
)

// candidateCodes bounds how many unused codes are compared on verify.
const candidateCodes = 5

// Options tune the one-time code flow.
type Options struct {
	OTPTTL        time.Duration
	OTPMaxPerHour int
	DevEcho       bool
	SecureCookie  bool
}

// Handler handles authentication requests
type Handler struct {
	db      *gorm.DB
	tokens  *TokenManager
	auditor *audit.Recorder
	sender  Sender
	opts    Options
	logger  *slog.Logger
}

// NewHandler creates a new auth handler
func NewHandler(db *gorm.DB, tokens *TokenManager, auditor *audit.Recorder, sender Sender, opts Options, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if sender == nil {
		sender = LogSender{Logger: logger}
	}
	if opts.OTPTTL <= 0 {
		opts.OTPTTL = 5 * time.Minute
	}
	return &Handler{db: db, tokens: tokens, auditor: auditor, sender: sender, opts: opts, logger: logger}
}

// OTPRequest asks for a code to be sent to a phone.
type OTPRequest struct {
	Phone string `json:"phone" binding:"required,phone"`
}

// OTPVerifyRequest exchanges a code for a session.
type OTPVerifyRequest struct {
	Phone string `json:"phone" binding:"required,phone"`
	Code  string `json:"code" binding:"required,len=6,numeric"`
}

// UserResponse represents user data in responses
type UserResponse struct {
	ID        string `json:"id"`
	Phone     string `json:"phone"`
	FullName  string `json:"fullName"`
	Role      string `json:"role"`
	Status    string `json:"status"`
	IsNewUser bool   `json:"isNewUser,omitempty"`
}

// NewUserResponse converts a user row.
func NewUserResponse(u models.User) UserResponse {
	return UserResponse{
		ID:       u.ID,
		Phone:    u.Phone,
		FullName: u.FullName,
		Role:     string(u.Role),
		Status:   string(u.Status),
	}
}

// RequestOTP issues a new code for a phone, invalidating older unused ones.
// @Summary Request a one-time code
// @Tags auth
// @Accept json
// @Produce json
// @Param request body OTPRequest true "Phone number"
// @Success 200 {object} api.Envelope
// @Failure 400 {object} api.Envelope "Validation error"
// @Failure 429 {object} api.Envelope "Too many codes requested"
// @Router /auth/otp/request [post]
func (h *Handler) RequestOTP(c *gin.Context) {
	var req OTPRequest
	if !api.Bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	phone := api.NormalizePhone(req.Phone)
	now := time.Now()

	if h.opts.OTPMaxPerHour > 0 {
		var recent int64
		if err := h.db.WithContext(ctx).Model(&models.OTPCode{}).
			Where("phone = ? AND created_at > ?", phone, now.Add(-time.Hour)).
			Count(&recent).Error; err != nil {
			h.logger.Error("Failed to count otp codes", "error", err)
			api.ServerError(c)
			return
		}
		if recent >= int64(h.opts.OTPMaxPerHour) {
			api.Error(c, http.StatusTooManyRequests, api.CodeRateLimited, "Too many code requests. Try again later.")
			return
		}
	}

	code, err := GenerateCode()
	if err != nil {
		h.logger.Error("Failed to generate otp", "error", err)
		api.ServerError(c)
		return
	}
	hash, err := HashCode(code)
	if err != nil {
		h.logger.Error("Failed to hash otp", "error", err)
		api.ServerError(c)
		return
	}

	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.OTPCode{}).
			Where("phone = ? AND used = ?", phone, false).
			Update("used", true).Error; err != nil {
			return err
		}
		return tx.Create(&models.OTPCode{
			Phone:     phone,
			CodeHash:  hash,
			ExpiresAt: now.Add(h.opts.OTPTTL),
		}).Error
	})
	if err != nil {
		h.logger.Error("Failed to store otp", "error", err)
		api.ServerError(c)
		return
	}

	if err := h.sender.Send(ctx, phone, code); err != nil {
		h.logger.Error("Failed to send otp", "phone", MaskPhone(phone), "error", err)
		api.ServerError(c)
		return
	}

	h.auditor.Record(ctx, audit.EntityOTPCode, phone, audit.ActionCreate, audit.Options{
		Metadata: map[string]any{"expiresAt": now.Add(h.opts.OTPTTL)},
	})

	resp := gin.H{
		"message":   "OTP sent successfully",
		"expiresIn": int(h.opts.OTPTTL.Seconds()),
	}
	if h.opts.DevEcho {
		resp["code"] = code
	}
	api.OK(c, resp)
}

// VerifyOTP exchanges a valid code for a session, creating the user on first
// login.
// @Summary Verify a one-time code
// @Tags auth
// @Accept json
// @Produce json
// @Param request body OTPVerifyRequest true "Phone and code"
// @Success 200 {object} api.Envelope
// @Failure 401 {object} api.Envelope "Invalid or expired code"
// @Router /auth/otp/verify [post]
func (h *Handler) VerifyOTP(c *gin.Context) {
	var req OTPVerifyRequest
	if !api.Bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	phone := api.NormalizePhone(req.Phone)
	now := time.Now()

	var candidates []models.OTPCode
	if err := h.db.WithContext(ctx).
		Where("phone = ? AND used = ?", phone, false).
		Order("created_at DESC").
		Limit(candidateCodes).
		Find(&candidates).Error; err != nil {
		h.logger.Error("Failed to load otp codes", "error", err)
		api.ServerError(c)
		return
	}

	var matched *models.OTPCode
	for i := range candidates {
		if CheckCode(req.Code, candidates[i].CodeHash) {
			matched = &candidates[i]
			break
		}
	}
	if matched == nil {
		api.Error(c, http.StatusUnauthorized, api.CodeInvalidOTP, "Invalid or expired OTP")
		return
	}
	if matched.ExpiresAt.Before(now) {
		api.Error(c, http.StatusUnauthorized, api.CodeOTPExpired, "Invalid or expired OTP")
		return
	}

	result := h.db.WithContext(ctx).Model(&models.OTPCode{}).
		Where("id = ? AND used = ?", matched.ID, false).
		Update("used", true)
	if result.Error != nil {
		h.logger.Error("Failed to mark otp used", "error", result.Error)
		api.ServerError(c)
		return
	}
	if result.RowsAffected == 0 {
		api.Error(c, http.StatusUnauthorized, api.CodeInvalidOTP, "Invalid or expired OTP")
		return
	}

	var user models.User
	isNewUser := false
	err := h.db.WithContext(ctx).Where("phone = ?", phone).First(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = models.User{
			Phone:    phone,
			FullName: "User_" + phone[len(phone)-4:],
			Role:     models.UserRoleUser,
			Status:   models.UserStatusActive,
		}
		if err := h.db.WithContext(ctx).Create(&user).Error; err != nil {
			h.logger.Error("Failed to create user", "error", err)
			api.ServerError(c)
			return
		}
		isNewUser = true
		h.auditor.Record(ctx, audit.EntityUser, user.ID, audit.ActionCreate, audit.Options{
			Metadata: map[string]any{"source": "OTP_REGISTRATION"},
		})
	case err != nil:
		h.logger.Error("Failed to load user", "error", err)
		api.ServerError(c)
		return
	}

	if user.Status != models.UserStatusActive {
		api.Forbidden(c, "Account is not active")
		return
	}

	token, session, err := h.tokens.IssueSession(ctx, h.db, user, c.Request.UserAgent(), c.ClientIP())
	if err != nil {
		h.logger.Error("Failed to create session", "error", err)
		api.ServerError(c)
		return
	}
	h.setSessionCookie(c, token, int(h.tokens.TTL().Seconds()))

	h.auditor.Record(ctx, audit.EntitySession, session.ID, audit.ActionLogin, audit.Options{
		UserID:   user.ID,
		Metadata: map[string]any{"isNewUser": isNewUser},
	})

	resp := NewUserResponse(user)
	resp.IsNewUser = isNewUser
	api.OK(c, gin.H{
		"message":   "Authentication successful",
		"token":     token,
		"expiresAt": session.ExpiresAt,
		"user":      resp,
	})
}

// Logout deletes the current session.
// @Summary Logout
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} api.Envelope
// @Router /auth/logout [post]
func (h *Handler) Logout(c *gin.Context) {
	userID, _ := GetUserID(c)
	sessionID := GetSessionID(c)

	if err := h.db.WithContext(c.Request.Context()).Delete(&models.Session{}, "id = ?", sessionID).Error; err != nil {
		h.logger.Error("Failed to delete session", "error", err)
		api.ServerError(c)
		return
	}
	h.setSessionCookie(c, "", -1)

	h.auditor.Record(c.Request.Context(), audit.EntitySession, sessionID, audit.ActionLogout, audit.Options{UserID: userID})
	api.OK(c, gin.H{"message": "Logged out successfully"})
}

// Me returns the current user.
// @Summary Current user
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} api.Envelope
// @Router /auth/me [get]
func (h *Handler) Me(c *gin.Context) {
	userID, _ := GetUserID(c)

	var user models.User
	if err := h.db.WithContext(c.Request.Context()).First(&user, "id = ?", userID).Error; err != nil {
		api.NotFound(c, "User not found")
		return
	}
	api.OK(c, gin.H{"user": NewUserResponse(user)})
}

func (h *Handler) setSessionCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, value, maxAge, "/", "", h.opts.SecureCookie, true)
}

// RegisterRoutes registers auth routes. requireAuth guards logout and me.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, requireAuth gin.HandlerFunc) {
	rg.POST("/otp/request", h.RequestOTP)
	rg.POST("/otp/verify", h.VerifyOTP)
	rg.POST("/logout", requireAuth, h.Logout)
	rg.GET("/me", requireAuth, h.Me)
}
