// Package roscatest provides fixtures shared by handler tests.
package roscatest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/api"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/models"
)

// Secret signs tokens in tests.
const Secret = "test-secret"

var phoneSeq atomic.Int64

func init() {
	gin.SetMode(gin.TestMode)
	api.RegisterValidators()
}

// NewDB opens a migrated in-memory SQLite database.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate failed: %v", err)
	}
	return db
}

// CreateUser inserts an active user with a unique phone number.
func CreateUser(t testing.TB, db *gorm.DB, fullName string, role models.UserRole) models.User {
	t.Helper()
	user := models.User{
		Phone:    fmt.Sprintf("0912%07d", phoneSeq.Add(1)),
		FullName: fullName,
		Role:     role,
		Status:   models.UserStatusActive,
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	return user
}

// Issuer creates sessions for users. It matches auth.TokenManager.
type Issuer interface {
	IssueSession(ctx context.Context, db *gorm.DB, user models.User, userAgent, ip string) (string, models.Session, error)
}

// AuthHeader returns a bearer header value for user.
func AuthHeader(t testing.TB, db *gorm.DB, tokens Issuer, user models.User) string {
	t.Helper()
	token, _, err := tokens.IssueSession(context.Background(), db, user, "test", "127.0.0.1")
	if err != nil {
		t.Fatalf("Failed to issue session: %v", err)
	}
	return "Bearer " + token
}

// GroupFixture is a group with its members and first open cycle.
type GroupFixture struct {
	Group   models.Group
	Owner   models.User
	Members []models.User
	Cycle   models.Cycle
}

// CreateGroup creates a group owned by owner with owner as ADMIN, the others
// as MEMBER, and cycle 1 OPEN.
func CreateGroup(t testing.TB, db *gorm.DB, owner models.User, amount int64, totalMembers int, others ...models.User) GroupFixture {
	t.Helper()
	group := models.Group{
		Name:              "Family Circle",
		AmountPerCycle:    amount,
		TotalMembers:      totalMembers,
		CycleDurationDays: 30,
		Status:            models.GroupStatusActive,
		OwnerID:           owner.ID,
	}
	if err := db.Create(&group).Error; err != nil {
		t.Fatalf("Failed to create group: %v", err)
	}

	members := append([]models.User{owner}, others...)
	for i, u := range members {
		role := models.MembershipRoleMember
		if i == 0 {
			role = models.MembershipRoleAdmin
		}
		m := models.Membership{GroupID: group.ID, UserID: u.ID, Role: role, Status: models.MembershipStatusActive}
		if err := db.Create(&m).Error; err != nil {
			t.Fatalf("Failed to create membership: %v", err)
		}
	}

	cycle := models.Cycle{
		GroupID:     group.ID,
		CycleNumber: 1,
		Status:      models.CycleStatusOpen,
		DueDate:     time.Now().AddDate(0, 0, 30),
	}
	if err := db.Create(&cycle).Error; err != nil {
		t.Fatalf("Failed to create cycle: %v", err)
	}
	return GroupFixture{Group: group, Owner: owner, Members: members, Cycle: cycle}
}

// Contribute inserts a contribution with the given status.
func Contribute(t testing.TB, db *gorm.DB, cycleID, userID string, amount int64, status models.ContributionStatus) models.Contribution {
	t.Helper()
	c := models.Contribution{CycleID: cycleID, UserID: userID, Amount: amount, Status: status}
	if status == models.ContributionStatusConfirmed {
		now := time.Now()
		c.PaidAt = &now
		c.ConfirmedAt = &now
	}
	if err := db.Create(&c).Error; err != nil {
		t.Fatalf("Failed to create contribution: %v", err)
	}
	return c
}

// Do performs a JSON request against r.
func Do(r http.Handler, method, path, authHeader string, body any) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = strings.NewReader(string(raw))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// Response is a decoded envelope with raw data.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *api.ErrorBody  `json:"error"`
	Meta    api.Meta        `json:"meta"`
}

// Decode parses an envelope and, when out is non-nil, its data.
func Decode(t testing.TB, w *httptest.ResponseRecorder, out any) Response {
	t.Helper()
	var resp Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
	if out != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			t.Fatalf("Failed to decode data %s: %v", resp.Data, err)
		}
	}
	return resp
}

// ErrorCode returns the envelope error code, or "" on success.
func ErrorCode(t testing.TB, w *httptest.ResponseRecorder) string {
	t.Helper()
	resp := Decode(t, w, nil)
	if resp.Error == nil {
		return ""
	}
	return resp.Error.Code
}
