package groups

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/api"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/auth"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/models"
)

// ledger is a group with everything needed to summarize or export it.
type ledger struct {
	Group   models.Group
	Members []models.Membership
	Cycles  []models.Cycle
}

func loadLedger(ctx context.Context, db *gorm.DB, group models.Group) (*ledger, error) {
	db = db.WithContext(ctx)
	l := &ledger{Group: group}
	err := db.Preload("User").
		Where("group_id = ? AND status = ?", group.ID, models.MembershipStatusActive).
		Order("created_at ASC").Find(&l.Members).Error
	if err != nil {
		return nil, err
	}
	err = db.Preload("Contributions", "status = ?", models.ContributionStatusConfirmed).
		Preload("Contributions.User").
		Preload("Draw.Winner").
		Preload("Payout.Receiver").
		Where("group_id = ?", group.ID).
		Order("cycle_number ASC").Find(&l.Cycles).Error
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (l *ledger) totalCollected() int64 {
	var sum int64
	for _, cy := range l.Cycles {
		for _, c := range cy.Contributions {
			sum += c.Amount
		}
	}
	return sum
}

func (l *ledger) totalPayouts() int64 {
	var sum int64
	for _, cy := range l.Cycles {
		if cy.Payout != nil {
			sum += cy.Payout.Amount
		}
	}
	return sum
}

func percent(n, d int) string {
	if d <= 0 {
		return "0"
	}
	return strconv.Itoa(int(float64(n)/float64(d)*100 + 0.5))
}

// WinnerSummary is one drawn cycle in a group summary.
type WinnerSummary struct {
	CycleNumber  int          `json:"cycleNumber"`
	Winner       *api.UserRef `json:"winner"`
	Amount       string       `json:"amount,omitempty"`
	PayoutStatus string       `json:"payoutStatus,omitempty"`
}

// MemberSummary is one active member's standing in a group.
type MemberSummary struct {
	api.UserRef
	Role              string  `json:"role"`
	TotalContributed  string  `json:"totalContributed"`
	ContributionCount int     `json:"contributionCount"`
	HasWon            bool    `json:"hasWon"`
	WonAt             *int    `json:"wonAt"`
	WinAmount         *string `json:"winAmount"`
}

// CycleProgress is how far a cycle's confirmations have come.
type CycleProgress struct {
	CycleNumber            int          `json:"cycleNumber"`
	Status                 string       `json:"status"`
	DueDate                time.Time    `json:"dueDate"`
	ConfirmedContributions int          `json:"confirmedContributions"`
	ExpectedContributions  int          `json:"expectedContributions"`
	ProgressPercent        string       `json:"progressPercent"`
	Winner                 *api.UserRef `json:"winner"`
}

// Summary returns a group's statistics, winners and per-member standing
// @Summary Group summary
// @Tags groups
// @Produce json
// @Param id path string true "Group ID"
// @Success 200 {object} api.Envelope
// @Failure 403 {object} api.Envelope "Not a member"
// @Failure 404 {object} api.Envelope "Group not found"
// @Security BearerAuth
// @Router /groups/{id}/summary [get]
func (h *Handler) Summary(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	groupID, ok := api.ParseID(c, "id", "Group not found")
	if !ok {
		return
	}
	group, ok := h.loadGroup(c, groupID, "Owner")
	if !ok || !h.requireMember(c, groupID, userID) {
		return
	}

	l, err := loadLedger(c.Request.Context(), h.db, *group)
	if err != nil {
		h.logger.Error("Failed to load group summary", "group_id", groupID, "error", err)
		api.ServerError(c)
		return
	}

	var winners []WinnerSummary
	won := map[string]WinnerSummary{}
	var current *int
	completed := 0
	progress := make([]CycleProgress, len(l.Cycles))
	for i, cy := range l.Cycles {
		progress[i] = CycleProgress{
			CycleNumber:            cy.CycleNumber,
			Status:                 string(cy.Status),
			DueDate:                cy.DueDate,
			ConfirmedContributions: len(cy.Contributions),
			ExpectedContributions:  len(l.Members),
			ProgressPercent:        percent(len(cy.Contributions), len(l.Members)),
		}
		switch cy.Status {
		case models.CycleStatusOpen:
			n := cy.CycleNumber
			current = &n
		case models.CycleStatusClosed:
			completed++
		}
		if cy.Draw == nil {
			continue
		}
		w := WinnerSummary{CycleNumber: cy.CycleNumber, Winner: api.NewUserRef(cy.Draw.Winner)}
		if cy.Payout != nil {
			w.Amount = api.FormatAmount(cy.Payout.Amount)
			w.PayoutStatus = string(cy.Payout.Status)
		}
		progress[i].Winner = w.Winner
		winners = append(winners, w)
		won[cy.Draw.WinnerID] = w
	}

	pending := []*api.UserRef{}
	members := make([]MemberSummary, len(l.Members))
	for i, m := range l.Members {
		var total int64
		count := 0
		for _, cy := range l.Cycles {
			for _, ct := range cy.Contributions {
				if ct.UserID == m.UserID {
					total += ct.Amount
					count++
				}
			}
		}
		members[i] = MemberSummary{
			UserRef:           *api.NewUserRef(m.User),
			Role:              string(m.Role),
			TotalContributed:  api.FormatAmount(total),
			ContributionCount: count,
		}
		if w, ok := won[m.UserID]; ok {
			n := w.CycleNumber
			members[i].HasWon = true
			members[i].WonAt = &n
			if w.Amount != "" {
				amount := w.Amount
				members[i].WinAmount = &amount
			}
		} else {
			pending = append(pending, api.NewUserRef(m.User))
		}
	}
	if winners == nil {
		winners = []WinnerSummary{}
	}

	api.OK(c, gin.H{
		"group": gin.H{
			"id":              group.ID,
			"name":            group.Name,
			"status":          group.Status,
			"owner":           api.NewUserRef(group.Owner),
			"amountPerCycle":  api.FormatAmount(group.AmountPerCycle),
			"totalMembers":    len(l.Members),
			"expectedMembers": group.TotalMembers,
			"isFull":          len(l.Members) >= group.TotalMembers,
			"createdAt":       group.CreatedAt,
		},
		"statistics": gin.H{
			"totalCycles":        len(l.Cycles),
			"completedCycles":    completed,
			"currentCycleNumber": current,
			"totalCollected":     api.FormatAmount(l.totalCollected()),
			"totalPayouts":       api.FormatAmount(l.totalPayouts()),
			"completionPercent":  percent(completed, len(l.Cycles)),
		},
		"winners":        winners,
		"pendingWinners": pending,
		"memberSummary":  members,
		"cycleProgress":  progress,
	})
}
