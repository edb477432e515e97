package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/api"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/models"
)

const (
	// SessionCookie holds the session token for browser clients.
	SessionCookie = "rosca_session"

	// ContextKeyUserID is the key for user ID in gin context
	ContextKeyUserID = "user_id"
	// ContextKeyRole is the key for the system role in gin context
	ContextKeyRole = "user_role"
	// ContextKeySessionID is the key for the session ID in gin context
	ContextKeySessionID = "session_id"
)

// Middleware authenticates requests with a bearer token or the session
// cookie, and requires the session row to still exist.
func Middleware(db *gorm.DB, tokens *TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := tokenFromRequest(c)
		if tokenString == "" {
			api.Unauthorized(c, "Authentication required")
			return
		}

		claims, err := tokens.ValidateToken(tokenString)
		if err != nil {
			if errors.Is(err, ErrExpiredToken) {
				api.Unauthorized(c, "Session has expired")
			} else {
				api.Unauthorized(c, "Invalid session")
			}
			return
		}

		var session models.Session
		err = db.WithContext(c.Request.Context()).
			Preload("User").
			Where("id = ? AND user_id = ? AND expires_at > ?", claims.SessionID(), claims.UserID, time.Now()).
			First(&session).Error
		if err != nil {
			api.Unauthorized(c, "Invalid session")
			return
		}
		if session.User.Status != models.UserStatusActive {
			api.Unauthorized(c, "Account is not active")
			return
		}

		c.Set(ContextKeyUserID, session.UserID)
		c.Set(ContextKeyRole, string(session.User.Role))
		c.Set(ContextKeySessionID, session.ID)

		c.Next()
	}
}

func tokenFromRequest(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if cookie, err := c.Cookie(SessionCookie); err == nil {
		return cookie
	}
	return ""
}

// RequireSystemAdmin rejects users without the ADMIN or SUPER_ADMIN role.
// It must run after Middleware.
func RequireSystemAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetUserID(c); !ok {
			api.Unauthorized(c, "Authentication required")
			return
		}
		if !IsSystemAdminRole(GetRole(c)) {
			api.Forbidden(c, "Admin access required")
			return
		}
		c.Next()
	}
}

// GetUserID returns the user ID from the gin context
func GetUserID(c *gin.Context) (string, bool) {
	userID := c.GetString(ContextKeyUserID)
	return userID, userID != ""
}

// GetRole returns the system role from the gin context
func GetRole(c *gin.Context) string {
	return c.GetString(ContextKeyRole)
}

// GetSessionID returns the session ID from the gin context
func GetSessionID(c *gin.Context) string {
	return c.GetString(ContextKeySessionID)
}
