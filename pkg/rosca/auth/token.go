package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/models"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

const issuer = "rosca"

// Claims are carried in the session JWT. RegisteredClaims.ID holds the
// session row ID so a token stops working once its session is deleted.
type Claims struct {
	UserID string `json:"uid"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// SessionID returns the ID of the server-side session.
func (c *Claims) SessionID() string {
	return c.ID
}

// TokenManager signs and verifies session tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenManager creates a manager using an HMAC secret.
func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	return &TokenManager{secret: []byte(secret), ttl: ttl}
}

// TTL is how long issued sessions live.
func (m *TokenManager) TTL() time.Duration {
	return m.ttl
}

// GenerateToken signs a token for a session that expires at expiresAt.
func (m *TokenManager) GenerateToken(userID, sessionID, role string, expiresAt time.Time) (string, error) {
	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// ValidateToken validates a token and returns its claims.
func (m *TokenManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	}, jwt.WithIssuer(issuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.ID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// IssueSession stores a new session row for the user and returns its signed
// token.
func (m *TokenManager) IssueSession(ctx context.Context, db *gorm.DB, user models.User, userAgent, ip string) (string, models.Session, error) {
	session := models.Session{
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(m.ttl),
		UserAgent: userAgent,
		IPAddress: ip,
	}
	if err := db.WithContext(ctx).Create(&session).Error; err != nil {
		return "", session, fmt.Errorf("create session: %w", err)
	}
	token, err := m.GenerateToken(user.ID, session.ID, string(user.Role), session.ExpiresAt)
	if err != nil {
		return "", session, fmt.Errorf("sign session token: %w", err)
	}
	return token, session, nil
}
