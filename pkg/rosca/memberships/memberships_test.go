package memberships

import (
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/api"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/audit"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/auth"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/logging"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/models"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/roscatest"
)

func setupTestRouter(db *gorm.DB) (*gin.Engine, *auth.TokenManager) {
	r := gin.New()
	tokens := auth.NewTokenManager(roscatest.Secret, time.Hour)
	handler := NewHandler(db, audit.NewRecorder(db, logging.Discard()), logging.Discard())
	handler.RegisterRoutes(r.Group("/api/memberships", auth.Middleware(db, tokens)))
	return r, tokens
}

func membershipOf(t *testing.T, db *gorm.DB, groupID, userID string) models.Membership {
	t.Helper()
	var m models.Membership
	require.NoError(t, db.Where("group_id = ? AND user_id = ?", groupID, userID).First(&m).Error)
	return m
}

func TestJoinGroup(t *testing.T) {
	db := roscatest.NewDB(t)
	r, tokens := setupTestRouter(db)
	owner := roscatest.CreateUser(t, db, "Ali", models.UserRoleUser)
	joiner := roscatest.CreateUser(t, db, "Sara", models.UserRoleUser)
	fx := roscatest.CreateGroup(t, db, owner, 1000, 3)
	header := roscatest.AuthHeader(t, db, tokens, joiner)

	w := roscatest.Do(r, http.MethodPost, "/api/memberships", header, gin.H{"groupId": fx.Group.ID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var data struct {
		Membership MembershipResponse `json:"membership"`
	}
	roscatest.Decode(t, w, &data)
	assert.Equal(t, "MEMBER", data.Membership.Role)
	assert.Equal(t, "ACTIVE", data.Membership.Status)
	assert.Equal(t, joiner.ID, data.Membership.UserID)

	w = roscatest.Do(r, http.MethodPost, "/api/memberships", header, gin.H{"groupId": fx.Group.ID})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, api.CodeConflict, roscatest.ErrorCode(t, w))
}

func TestJoinGroupRejections(t *testing.T) {
	db := roscatest.NewDB(t)
	r, tokens := setupTestRouter(db)
	owner := roscatest.CreateUser(t, db, "Ali", models.UserRoleUser)
	member := roscatest.CreateUser(t, db, "Sara", models.UserRoleUser)
	joiner := roscatest.CreateUser(t, db, "Reza", models.UserRoleUser)
	header := roscatest.AuthHeader(t, db, tokens, joiner)

	full := roscatest.CreateGroup(t, db, owner, 1000, 2, member)
	w := roscatest.Do(r, http.MethodPost, "/api/memberships", header, gin.H{"groupId": full.Group.ID})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, api.CodeGroupFull, roscatest.ErrorCode(t, w))

	paused := roscatest.CreateGroup(t, db, owner, 1000, 5)
	db.Model(&paused.Group).Update("status", models.GroupStatusPaused)
	w = roscatest.Do(r, http.MethodPost, "/api/memberships", header, gin.H{"groupId": paused.Group.ID})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, api.CodeGroupNotActive, roscatest.ErrorCode(t, w))

	w = roscatest.Do(r, http.MethodPost, "/api/memberships", header, gin.H{"groupId": "9b2d6c1e-8f3a-4e5b-a7c9-0d1e2f3a4b5c"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = roscatest.Do(r, http.MethodPost, "/api/memberships", header, gin.H{"groupId": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, api.CodeValidation, roscatest.ErrorCode(t, w))
}

func TestJoinReactivatesRemovedMembership(t *testing.T) {
	db := roscatest.NewDB(t)
	r, tokens := setupTestRouter(db)
	owner := roscatest.CreateUser(t, db, "Ali", models.UserRoleUser)
	member := roscatest.CreateUser(t, db, "Sara", models.UserRoleUser)
	fx := roscatest.CreateGroup(t, db, owner, 1000, 3, member)
	db.Model(&models.Membership{}).Where("user_id = ?", member.ID).Update("status", models.MembershipStatusRemoved)

	w := roscatest.Do(r, http.MethodPost, "/api/memberships", roscatest.AuthHeader(t, db, tokens, member), gin.H{"groupId": fx.Group.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.MembershipStatusActive, membershipOf(t, db, fx.Group.ID, member.ID).Status)

	var count int64
	db.Model(&models.Membership{}).Where("group_id = ?", fx.Group.ID).Count(&count)
	assert.Equal(t, int64(2), count)
}

func TestListMemberships(t *testing.T) {
	db := roscatest.NewDB(t)
	r, tokens := setupTestRouter(db)
	owner := roscatest.CreateUser(t, db, "Ali", models.UserRoleUser)
	member := roscatest.CreateUser(t, db, "Sara", models.UserRoleUser)
	roscatest.CreateGroup(t, db, owner, 1000, 3, member)
	roscatest.CreateGroup(t, db, owner, 2000, 3)

	w := roscatest.Do(r, http.MethodGet, "/api/memberships", roscatest.AuthHeader(t, db, tokens, owner), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var data struct {
		Memberships []MembershipResponse `json:"memberships"`
	}
	resp := roscatest.Decode(t, w, &data)
	assert.Len(t, data.Memberships, 2)
	require.NotNil(t, resp.Meta.Pagination)
	assert.Equal(t, int64(2), resp.Meta.Pagination.Total)

	w = roscatest.Do(r, http.MethodGet, "/api/memberships?limit=1", roscatest.AuthHeader(t, db, tokens, member), nil)
	roscatest.Decode(t, w, &data)
	require.Len(t, data.Memberships, 1)
	require.NotNil(t, data.Memberships[0].Group)
	assert.Equal(t, int64(2), data.Memberships[0].Group.MemberCount)
	assert.Equal(t, "1000", data.Memberships[0].Group.AmountPerCycle)
}

func TestUpdateMembership(t *testing.T) {
	db := roscatest.NewDB(t)
	r, tokens := setupTestRouter(db)
	owner := roscatest.CreateUser(t, db, "Ali", models.UserRoleUser)
	member := roscatest.CreateUser(t, db, "Sara", models.UserRoleUser)
	other := roscatest.CreateUser(t, db, "Reza", models.UserRoleUser)
	fx := roscatest.CreateGroup(t, db, owner, 1000, 3, member, other)
	m := membershipOf(t, db, fx.Group.ID, member.ID)
	path := "/api/memberships/" + m.ID

	w := roscatest.Do(r, http.MethodPatch, path, roscatest.AuthHeader(t, db, tokens, other), gin.H{"status": "PAUSED"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	memberAuth := roscatest.AuthHeader(t, db, tokens, member)
	w = roscatest.Do(r, http.MethodPatch, path, memberAuth, gin.H{"role": "ADMIN"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = roscatest.Do(r, http.MethodPatch, path, memberAuth, gin.H{"status": "PAUSED"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.MembershipStatusPaused, membershipOf(t, db, fx.Group.ID, member.ID).Status)

	w = roscatest.Do(r, http.MethodPatch, path, roscatest.AuthHeader(t, db, tokens, owner), gin.H{"role": "ADMIN", "status": "ACTIVE"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var data struct {
		Membership MembershipResponse `json:"membership"`
	}
	roscatest.Decode(t, w, &data)
	assert.Equal(t, "ADMIN", data.Membership.Role)
	assert.Equal(t, "ACTIVE", data.Membership.Status)

	w = roscatest.Do(r, http.MethodPatch, path, memberAuth, gin.H{"role": "OWNER"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = roscatest.Do(r, http.MethodPatch, "/api/memberships/9b2d6c1e-8f3a-4e5b-a7c9-0d1e2f3a4b5c", memberAuth, gin.H{"status": "PAUSED"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteMembership(t *testing.T) {
	db := roscatest.NewDB(t)
	r, tokens := setupTestRouter(db)
	owner := roscatest.CreateUser(t, db, "Ali", models.UserRoleUser)
	member := roscatest.CreateUser(t, db, "Sara", models.UserRoleUser)
	other := roscatest.CreateUser(t, db, "Reza", models.UserRoleUser)
	fx := roscatest.CreateGroup(t, db, owner, 1000, 3, member, other)

	memberM := membershipOf(t, db, fx.Group.ID, member.ID)
	otherM := membershipOf(t, db, fx.Group.ID, other.ID)
	ownerM := membershipOf(t, db, fx.Group.ID, owner.ID)

	w := roscatest.Do(r, http.MethodDelete, "/api/memberships/"+otherM.ID, roscatest.AuthHeader(t, db, tokens, member), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = roscatest.Do(r, http.MethodDelete, "/api/memberships/"+memberM.ID, roscatest.AuthHeader(t, db, tokens, member), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.MembershipStatusRemoved, membershipOf(t, db, fx.Group.ID, member.ID).Status)

	ownerAuth := roscatest.AuthHeader(t, db, tokens, owner)
	w = roscatest.Do(r, http.MethodDelete, "/api/memberships/"+otherM.ID, ownerAuth, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = roscatest.Do(r, http.MethodDelete, "/api/memberships/"+ownerM.ID, ownerAuth, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	var leaves []models.AuditLog
	db.Where("action = ?", audit.ActionLeave).Find(&leaves)
	assert.Len(t, leaves, 2)
}
