package draw

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/database"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/models"
)

// Outcome is what a committed draw wrote.
type Outcome struct {
	Draw           models.Draw
	Payout         models.Payout
	NextCycle      *models.Cycle
	GroupCompleted bool
}

// Transition records the draw and rolls the group forward in one
// transaction: draw and payout rows, cycle closed, winner's totalWon
// incremented, then either the next cycle opened or the group completed.
//
// A unique violation on the draw, payout or next cycle means another request
// drew this cycle first and is reported as ErrAlreadyDrawn.
func Transition(ctx context.Context, db *gorm.DB, el *Eligibility, sel Selection, now time.Time) (*Outcome, error) {
	amount := el.PayoutAmount()
	winnerID := sel.Winner.UserID
	out := &Outcome{}

	err := database.Transact(ctx, db, func(tx *gorm.DB) error {
		past, err := PastWinnerIDs(tx, el.Group.ID)
		if err != nil {
			return err
		}
		if past[winnerID] {
			return ErrAlreadyWon
		}

		out.Draw = models.Draw{
			CycleID:       el.Cycle.ID,
			WinnerID:      winnerID,
			Method:        models.DrawMethodRandom,
			EligibleCount: sel.EligibleCount,
			SeedValue:     sel.SeedValue,
		}
		if err := tx.Omit(clause.Associations).Create(&out.Draw).Error; err != nil {
			return err
		}

		out.Payout = models.Payout{
			CycleID:    el.Cycle.ID,
			ReceiverID: winnerID,
			Amount:     amount,
			Status:     models.PayoutStatusPending,
		}
		if err := tx.Omit(clause.Associations).Create(&out.Payout).Error; err != nil {
			return err
		}

		closed := tx.Model(&models.Cycle{}).
			Where("id = ? AND status = ?", el.Cycle.ID, models.CycleStatusOpen).
			Update("status", models.CycleStatusClosed)
		if closed.Error != nil {
			return closed.Error
		}
		if closed.RowsAffected == 0 {
			return ErrAlreadyDrawn
		}

		if err := tx.Model(&models.Membership{}).
			Where("group_id = ? AND user_id = ? AND status = ?", el.Group.ID, winnerID, models.MembershipStatusActive).
			Update("total_won", gorm.Expr("total_won + ?", amount)).Error; err != nil {
			return err
		}

		var closedCount int64
		if err := tx.Model(&models.Cycle{}).
			Where("group_id = ? AND status = ?", el.Group.ID, models.CycleStatusClosed).
			Count(&closedCount).Error; err != nil {
			return err
		}

		if closedCount < int64(el.Group.TotalMembers) {
			next := models.Cycle{
				GroupID:     el.Group.ID,
				CycleNumber: el.Cycle.CycleNumber + 1,
				Status:      models.CycleStatusOpen,
				DueDate:     now.AddDate(0, 0, el.Group.CycleDurationDays),
			}
			if err := tx.Omit(clause.Associations).Create(&next).Error; err != nil {
				return err
			}
			out.NextCycle = &next
			return nil
		}

		out.GroupCompleted = true
		return tx.Model(&models.Group{}).
			Where("id = ?", el.Group.ID).
			Update("status", models.GroupStatusCompleted).Error
	})
	if err != nil {
		var derr *Error
		if errors.As(err, &derr) {
			return nil, derr
		}
		if database.IsUniqueViolation(err) {
			return nil, ErrAlreadyDrawn
		}
		return nil, fmt.Errorf("draw transition: %w", err)
	}
	return out, nil
}
