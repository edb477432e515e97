package draw

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/models"
)

// Eligibility is the read-only snapshot a draw is decided on.
type Eligibility struct {
	Group       models.Group
	Cycle       models.Cycle
	Members     []models.Membership
	Confirmed   []models.Contribution
	PastWinners map[string]bool
	Eligible    []models.Membership
}

// PayoutAmount is the sum of the confirmed contributions of the cycle. It
// pays out what was actually collected, not amountPerCycle times members.
func (e *Eligibility) PayoutAmount() int64 {
	var total int64
	for _, c := range e.Confirmed {
		total += c.Amount
	}
	return total
}

// groupCycleIDs selects the IDs of every cycle of a group, for use as a
// subquery.
func groupCycleIDs(db *gorm.DB, groupID string) *gorm.DB {
	return db.Model(&models.Cycle{}).Select("id").Where("group_id = ?", groupID)
}

// PastWinnerIDs returns the users who won any draw of the group.
func PastWinnerIDs(db *gorm.DB, groupID string) (map[string]bool, error) {
	var ids []string
	if err := db.Model(&models.Draw{}).
		Where("cycle_id IN (?)", groupCycleIDs(db, groupID)).
		Pluck("winner_id", &ids).Error; err != nil {
		return nil, err
	}
	winners := make(map[string]bool, len(ids))
	for _, id := range ids {
		winners[id] = true
	}
	return winners, nil
}

// Evaluate loads the open cycle of a group and decides whether it can be
// drawn. Members are matched to contributions by user ID.
func Evaluate(ctx context.Context, db *gorm.DB, groupID string) (*Eligibility, error) {
	db = db.WithContext(ctx)
	el := &Eligibility{}

	if err := db.First(&el.Group, "id = ?", groupID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("load group: %w", err)
	}

	err := db.Where("group_id = ? AND status = ?", groupID, models.CycleStatusOpen).
		Order("cycle_number ASC").
		First(&el.Cycle).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoOpenCycle
		}
		return nil, fmt.Errorf("load open cycle: %w", err)
	}

	var drawn int64
	if err := db.Model(&models.Draw{}).Where("cycle_id = ?", el.Cycle.ID).Count(&drawn).Error; err != nil {
		return nil, fmt.Errorf("check existing draw: %w", err)
	}
	if drawn > 0 {
		return nil, ErrAlreadyDrawn
	}

	if err := db.Preload("User").
		Where("group_id = ? AND status = ?", groupID, models.MembershipStatusActive).
		Order("created_at ASC, id ASC").
		Find(&el.Members).Error; err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}

	if err := db.Where("cycle_id = ? AND status = ?", el.Cycle.ID, models.ContributionStatusConfirmed).
		Find(&el.Confirmed).Error; err != nil {
		return nil, fmt.Errorf("load contributions: %w", err)
	}

	paid := make(map[string]bool, len(el.Confirmed))
	for _, c := range el.Confirmed {
		paid[c.UserID] = true
	}
	for _, m := range el.Members {
		if !paid[m.UserID] {
			return nil, ErrIncompleteContributions
		}
	}

	el.PastWinners, err = PastWinnerIDs(db, groupID)
	if err != nil {
		return nil, fmt.Errorf("load past winners: %w", err)
	}

	for _, m := range el.Members {
		if !el.PastWinners[m.UserID] {
			el.Eligible = append(el.Eligible, m)
		}
	}
	if len(el.Eligible) == 0 {
		return nil, ErrNoEligibleMembers
	}
	return el, nil
}
