package groups

import (
	"encoding/csv"
	"net/http"
	"strings"
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
	handler := NewHandler(db, audit.NewRecorder(db, logging.Discard()), 30, logging.Discard())
	handler.RegisterRoutes(r.Group("/api/groups", auth.Middleware(db, tokens)))
	return r, tokens
}

func TestCreateGroup(t *testing.T) {
	db := roscatest.NewDB(t)
	r, tokens := setupTestRouter(db)
	user := roscatest.CreateUser(t, db, "Ali", models.UserRoleUser)
	header := roscatest.AuthHeader(t, db, tokens, user)

	w := roscatest.Do(r, http.MethodPost, "/api/groups", header, gin.H{
		"name":              "Family",
		"amountPerCycle":    "5000000",
		"totalMembers":      5,
		"cycleDurationDays": 14,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var data struct {
		Group      GroupResponse `json:"group"`
		FirstCycle CycleResponse `json:"firstCycle"`
	}
	roscatest.Decode(t, w, &data)
	assert.Equal(t, "Family", data.Group.Name)
	assert.Equal(t, "5000000", data.Group.AmountPerCycle)
	assert.Equal(t, "ACTIVE", data.Group.Status)
	assert.Equal(t, user.ID, data.Group.OwnerID)
	assert.Equal(t, "ADMIN", data.Group.Role)
	assert.Equal(t, 1, data.FirstCycle.CycleNumber)
	assert.Equal(t, "OPEN", data.FirstCycle.Status)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 14), data.FirstCycle.DueDate, time.Minute)

	var membership models.Membership
	require.NoError(t, db.Where("group_id = ? AND user_id = ?", data.Group.ID, user.ID).First(&membership).Error)
	assert.Equal(t, models.MembershipRoleAdmin, membership.Role)

	var entries int64
	db.Model(&models.AuditLog{}).Where("entity = ? AND entity_id = ?", audit.EntityGroup, data.Group.ID).Count(&entries)
	assert.Equal(t, int64(1), entries)
}

func TestCreateGroupDefaultsCycleDuration(t *testing.T) {
	db := roscatest.NewDB(t)
	r, tokens := setupTestRouter(db)
	user := roscatest.CreateUser(t, db, "Ali", models.UserRoleUser)
	header := roscatest.AuthHeader(t, db, tokens, user)

	w := roscatest.Do(r, http.MethodPost, "/api/groups", header, gin.H{
		"name": "Family", "amountPerCycle": "1000", "totalMembers": 3,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var data struct {
		Group GroupResponse `json:"group"`
	}
	roscatest.Decode(t, w, &data)
	assert.Equal(t, 30, data.Group.CycleDurationDays)
}

func TestCreateGroupValidation(t *testing.T) {
	db := roscatest.NewDB(t)
	r, tokens := setupTestRouter(db)
	user := roscatest.CreateUser(t, db, "Ali", models.UserRoleUser)
	header := roscatest.AuthHeader(t, db, tokens, user)

	tests := []struct {
		name string
		body gin.H
	}{
		{"missing name", gin.H{"amountPerCycle": "1000", "totalMembers": 3}},
		{"short name", gin.H{"name": "A", "amountPerCycle": "1000", "totalMembers": 3}},
		{"zero amount", gin.H{"name": "Family", "amountPerCycle": "0", "totalMembers": 3}},
		{"decimal amount", gin.H{"name": "Family", "amountPerCycle": "10.5", "totalMembers": 3}},
		{"one member", gin.H{"name": "Family", "amountPerCycle": "1000", "totalMembers": 1}},
		{"too many members", gin.H{"name": "Family", "amountPerCycle": "1000", "totalMembers": 51}},
		{"long cycle", gin.H{"name": "Family", "amountPerCycle": "1000", "totalMembers": 3, "cycleDurationDays": 400}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := roscatest.Do(r, http.MethodPost, "/api/groups", header, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, api.CodeValidation, roscatest.ErrorCode(t, w))
		})
	}

	var count int64
	db.Model(&models.Group{}).Count(&count)
	assert.Zero(t, count)
}

func TestListGroups(t *testing.T) {
	db := roscatest.NewDB(t)
	r, tokens := setupTestRouter(db)
	owner := roscatest.CreateUser(t, db, "Ali", models.UserRoleUser)
	member := roscatest.CreateUser(t, db, "Sara", models.UserRoleUser)
	outsider := roscatest.CreateUser(t, db, "Reza", models.UserRoleUser)

	fx := roscatest.CreateGroup(t, db, owner, 1000, 3, member)
	paused := roscatest.CreateGroup(t, db, owner, 2000, 3)
	db.Model(&paused.Group).Update("status", models.GroupStatusPaused)
	roscatest.CreateGroup(t, db, outsider, 3000, 3)

	w := roscatest.Do(r, http.MethodGet, "/api/groups", roscatest.AuthHeader(t, db, tokens, owner), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var data struct {
		Groups []GroupResponse `json:"groups"`
	}
	resp := roscatest.Decode(t, w, &data)
	assert.Len(t, data.Groups, 2)
	require.NotNil(t, resp.Meta.Pagination)
	assert.Equal(t, int64(2), resp.Meta.Pagination.Total)

	w = roscatest.Do(r, http.MethodGet, "/api/groups?status=PAUSED", roscatest.AuthHeader(t, db, tokens, owner), nil)
	roscatest.Decode(t, w, &data)
	require.Len(t, data.Groups, 1)
	assert.Equal(t, paused.Group.ID, data.Groups[0].ID)

	w = roscatest.Do(r, http.MethodGet, "/api/groups", roscatest.AuthHeader(t, db, tokens, member), nil)
	roscatest.Decode(t, w, &data)
	require.Len(t, data.Groups, 1)
	assert.Equal(t, fx.Group.ID, data.Groups[0].ID)
	assert.Equal(t, "MEMBER", data.Groups[0].Role)
	assert.Equal(t, int64(2), data.Groups[0].MemberCount)
	assert.Equal(t, int64(1), data.Groups[0].CycleCount)
	assert.Equal(t, "1000", data.Groups[0].AmountPerCycle)

	w = roscatest.Do(r, http.MethodGet, "/api/groups?status=bogus", roscatest.AuthHeader(t, db, tokens, member), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = roscatest.Do(r, http.MethodGet, "/api/groups?limit=500", roscatest.AuthHeader(t, db, tokens, member), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetGroup(t *testing.T) {
	db := roscatest.NewDB(t)
	r, tokens := setupTestRouter(db)
	owner := roscatest.CreateUser(t, db, "Ali", models.UserRoleUser)
	member := roscatest.CreateUser(t, db, "Sara", models.UserRoleUser)
	outsider := roscatest.CreateUser(t, db, "Reza", models.UserRoleUser)
	fx := roscatest.CreateGroup(t, db, owner, 1000, 4, member)
	roscatest.Contribute(t, db, fx.Cycle.ID, owner.ID, 1000, models.ContributionStatusConfirmed)
	roscatest.Contribute(t, db, fx.Cycle.ID, member.ID, 1000, models.ContributionStatusPending)

	path := "/api/groups/" + fx.Group.ID
	w := roscatest.Do(r, http.MethodGet, path, roscatest.AuthHeader(t, db, tokens, member), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var data struct {
		Group      GroupResponse    `json:"group"`
		Members    []MemberResponse `json:"members"`
		Statistics struct {
			TotalCollected  string `json:"totalCollected"`
			CurrentCycle    *int   `json:"currentCycle"`
			CompletedCycles int    `json:"completedCycles"`
			TotalMembers    int    `json:"totalMembers"`
			IsFull          bool   `json:"isFull"`
		} `json:"statistics"`
	}
	roscatest.Decode(t, w, &data)
	assert.Equal(t, "MEMBER", data.Group.Role)
	assert.Len(t, data.Members, 2)
	assert.Equal(t, "1000", data.Statistics.TotalCollected)
	require.NotNil(t, data.Statistics.CurrentCycle)
	assert.Equal(t, 1, *data.Statistics.CurrentCycle)
	assert.Equal(t, 2, data.Statistics.TotalMembers)
	assert.False(t, data.Statistics.IsFull)

	w = roscatest.Do(r, http.MethodGet, path, roscatest.AuthHeader(t, db, tokens, outsider), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = roscatest.Do(r, http.MethodGet, "/api/groups/9b2d6c1e-8f3a-4e5b-a7c9-0d1e2f3a4b5c", roscatest.AuthHeader(t, db, tokens, outsider), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = roscatest.Do(r, http.MethodGet, "/api/groups/not-a-uuid", roscatest.AuthHeader(t, db, tokens, outsider), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateGroup(t *testing.T) {
	db := roscatest.NewDB(t)
	r, tokens := setupTestRouter(db)
	owner := roscatest.CreateUser(t, db, "Ali", models.UserRoleUser)
	member := roscatest.CreateUser(t, db, "Sara", models.UserRoleUser)
	fx := roscatest.CreateGroup(t, db, owner, 1000, 4, member)
	path := "/api/groups/" + fx.Group.ID

	w := roscatest.Do(r, http.MethodPatch, path, roscatest.AuthHeader(t, db, tokens, member), gin.H{"name": "Mine"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	ownerAuth := roscatest.AuthHeader(t, db, tokens, owner)
	w = roscatest.Do(r, http.MethodPatch, path, ownerAuth, gin.H{"name": "Renamed", "amountPerCycle": "2500", "status": "PAUSED"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var group models.Group
	require.NoError(t, db.First(&group, "id = ?", fx.Group.ID).Error)
	assert.Equal(t, "Renamed", group.Name)
	assert.Equal(t, int64(2500), group.AmountPerCycle)
	assert.Equal(t, models.GroupStatusPaused, group.Status)

	w = roscatest.Do(r, http.MethodPatch, path, ownerAuth, gin.H{"status": "COMPLETED"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = roscatest.Do(r, http.MethodPatch, path, ownerAuth, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	db.Model(&group).Update("status", models.GroupStatusCompleted)
	w = roscatest.Do(r, http.MethodPatch, path, ownerAuth, gin.H{"status": "ACTIVE"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, api.CodeInvalidStatus, roscatest.ErrorCode(t, w))
}

func TestDeleteGroup(t *testing.T) {
	db := roscatest.NewDB(t)
	r, tokens := setupTestRouter(db)
	owner := roscatest.CreateUser(t, db, "Ali", models.UserRoleUser)
	member := roscatest.CreateUser(t, db, "Sara", models.UserRoleUser)
	fx := roscatest.CreateGroup(t, db, owner, 1000, 4, member)
	db.Model(&models.Membership{}).Where("user_id = ?", member.ID).Update("role", models.MembershipRoleAdmin)
	path := "/api/groups/" + fx.Group.ID

	w := roscatest.Do(r, http.MethodDelete, path, roscatest.AuthHeader(t, db, tokens, member), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = roscatest.Do(r, http.MethodDelete, path, roscatest.AuthHeader(t, db, tokens, owner), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var group models.Group
	require.NoError(t, db.First(&group, "id = ?", fx.Group.ID).Error)
	assert.Equal(t, models.GroupStatusCancelled, group.Status)
}

func drawCycle(t *testing.T, db *gorm.DB, cycle models.Cycle, winner models.User, amount int64) {
	t.Helper()
	require.NoError(t, db.Create(&models.Draw{CycleID: cycle.ID, WinnerID: winner.ID, EligibleCount: 2, SeedValue: "seed"}).Error)
	require.NoError(t, db.Create(&models.Payout{CycleID: cycle.ID, ReceiverID: winner.ID, Amount: amount, Status: models.PayoutStatusPending}).Error)
	require.NoError(t, db.Model(&cycle).Update("status", models.CycleStatusClosed).Error)
}

func TestSummary(t *testing.T) {
	db := roscatest.NewDB(t)
	r, tokens := setupTestRouter(db)
	owner := roscatest.CreateUser(t, db, "Ali", models.UserRoleUser)
	member := roscatest.CreateUser(t, db, "Sara", models.UserRoleUser)
	fx := roscatest.CreateGroup(t, db, owner, 1000, 2, member)
	roscatest.Contribute(t, db, fx.Cycle.ID, owner.ID, 1000, models.ContributionStatusConfirmed)
	roscatest.Contribute(t, db, fx.Cycle.ID, member.ID, 1000, models.ContributionStatusConfirmed)
	drawCycle(t, db, fx.Cycle, member, 2000)
	next := models.Cycle{GroupID: fx.Group.ID, CycleNumber: 2, Status: models.CycleStatusOpen, DueDate: time.Now()}
	require.NoError(t, db.Create(&next).Error)
	roscatest.Contribute(t, db, next.ID, owner.ID, 1000, models.ContributionStatusConfirmed)

	w := roscatest.Do(r, http.MethodGet, "/api/groups/"+fx.Group.ID+"/summary", roscatest.AuthHeader(t, db, tokens, owner), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var data struct {
		Statistics struct {
			TotalCycles        int    `json:"totalCycles"`
			CompletedCycles    int    `json:"completedCycles"`
			CurrentCycleNumber *int   `json:"currentCycleNumber"`
			TotalCollected     string `json:"totalCollected"`
			TotalPayouts       string `json:"totalPayouts"`
			CompletionPercent  string `json:"completionPercent"`
		} `json:"statistics"`
		Winners        []WinnerSummary `json:"winners"`
		PendingWinners []api.UserRef   `json:"pendingWinners"`
		MemberSummary  []MemberSummary `json:"memberSummary"`
		CycleProgress  []CycleProgress `json:"cycleProgress"`
	}
	roscatest.Decode(t, w, &data)

	assert.Equal(t, 2, data.Statistics.TotalCycles)
	assert.Equal(t, 1, data.Statistics.CompletedCycles)
	require.NotNil(t, data.Statistics.CurrentCycleNumber)
	assert.Equal(t, 2, *data.Statistics.CurrentCycleNumber)
	assert.Equal(t, "3000", data.Statistics.TotalCollected)
	assert.Equal(t, "2000", data.Statistics.TotalPayouts)
	assert.Equal(t, "50", data.Statistics.CompletionPercent)

	require.Len(t, data.Winners, 1)
	assert.Equal(t, member.ID, data.Winners[0].Winner.ID)
	assert.Equal(t, "2000", data.Winners[0].Amount)
	assert.Equal(t, "PENDING", data.Winners[0].PayoutStatus)

	require.Len(t, data.PendingWinners, 1)
	assert.Equal(t, owner.ID, data.PendingWinners[0].ID)

	require.Len(t, data.MemberSummary, 2)
	for _, m := range data.MemberSummary {
		switch m.ID {
		case owner.ID:
			assert.Equal(t, "2000", m.TotalContributed)
			assert.Equal(t, 2, m.ContributionCount)
			assert.False(t, m.HasWon)
		case member.ID:
			assert.True(t, m.HasWon)
			require.NotNil(t, m.WonAt)
			assert.Equal(t, 1, *m.WonAt)
			require.NotNil(t, m.WinAmount)
			assert.Equal(t, "2000", *m.WinAmount)
		}
	}

	require.Len(t, data.CycleProgress, 2)
	assert.Equal(t, "100", data.CycleProgress[0].ProgressPercent)
	assert.Equal(t, "50", data.CycleProgress[1].ProgressPercent)
}

func TestExportCSV(t *testing.T) {
	db := roscatest.NewDB(t)
	r, tokens := setupTestRouter(db)
	owner := roscatest.CreateUser(t, db, "Ali", models.UserRoleUser)
	member := roscatest.CreateUser(t, db, "Sara", models.UserRoleUser)
	outsider := roscatest.CreateUser(t, db, "Reza", models.UserRoleUser)
	fx := roscatest.CreateGroup(t, db, owner, 1000, 2, member)
	roscatest.Contribute(t, db, fx.Cycle.ID, owner.ID, 1000, models.ContributionStatusConfirmed)
	roscatest.Contribute(t, db, fx.Cycle.ID, member.ID, 1000, models.ContributionStatusConfirmed)
	drawCycle(t, db, fx.Cycle, owner, 2000)

	path := "/api/groups/" + fx.Group.ID + "/export"
	w := roscatest.Do(r, http.MethodGet, path+"?download=true", roscatest.AuthHeader(t, db, tokens, member), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")

	records, err := csv.NewReader(strings.NewReader(w.Body.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, ledgerHeader, records[0])
	assert.Equal(t, "contribution", records[1][0])
	assert.Equal(t, "payout", records[3][0])
	assert.Equal(t, owner.ID, records[3][2])
	assert.Equal(t, "2000", records[3][4])

	var exports int64
	db.Model(&models.AuditLog{}).Where("action = ?", audit.ActionExport).Count(&exports)
	assert.Equal(t, int64(1), exports)

	w = roscatest.Do(r, http.MethodGet, path, roscatest.AuthHeader(t, db, tokens, outsider), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = roscatest.Do(r, http.MethodGet, path+"?format=xml", roscatest.AuthHeader(t, db, tokens, member), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExportJSON(t *testing.T) {
	db := roscatest.NewDB(t)
	r, tokens := setupTestRouter(db)
	owner := roscatest.CreateUser(t, db, "Ali", models.UserRoleUser)
	member := roscatest.CreateUser(t, db, "Sara", models.UserRoleUser)
	fx := roscatest.CreateGroup(t, db, owner, 1000, 2, member)
	roscatest.Contribute(t, db, fx.Cycle.ID, owner.ID, 1000, models.ContributionStatusConfirmed)
	roscatest.Contribute(t, db, fx.Cycle.ID, member.ID, 1000, models.ContributionStatusPending)

	w := roscatest.Do(r, http.MethodGet, "/api/groups/"+fx.Group.ID+"/export?format=json", roscatest.AuthHeader(t, db, tokens, owner), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var data struct {
		Entries []LedgerEntry `json:"entries"`
	}
	roscatest.Decode(t, w, &data)
	require.Len(t, data.Entries, 1)
	assert.Equal(t, "Ali", data.Entries[0].FullName)
	assert.Equal(t, "CONFIRMED", data.Entries[0].Status)
}
