package draw

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/audit"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/logging"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/models"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/roscatest"
)

type fakeObserver struct {
	results []string
	amounts []int64
}

func (o *fakeObserver) ObserveDraw(result string, amount int64) {
	o.results = append(o.results, result)
	o.amounts = append(o.amounts, amount)
}

type scenario struct {
	db      *gorm.DB
	fx      roscatest.GroupFixture
	src     *stubSource
	service *Service
	obs     *fakeObserver
	now     time.Time
}

// newScenario builds a group with totalMembers members, all active, and
// cycle 1 open.
func newScenario(t *testing.T, totalMembers int, amount int64) *scenario {
	t.Helper()
	db := roscatest.NewDB(t)
	owner := roscatest.CreateUser(t, db, "Ali", models.UserRoleUser)
	var others []models.User
	names := []string{"Sara", "Reza", "Neda", "Omid"}
	for i := 1; i < totalMembers; i++ {
		others = append(others, roscatest.CreateUser(t, db, names[(i-1)%len(names)], models.UserRoleUser))
	}
	fx := roscatest.CreateGroup(t, db, owner, amount, totalMembers, others...)

	src := &stubSource{token: "1700000000000-42"}
	obs := &fakeObserver{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(db, src, audit.NewRecorder(db, logging.Discard()), logging.Discard(),
		WithObserver(obs),
		WithClock(func() time.Time { return now }),
	)
	return &scenario{db: db, fx: fx, src: src, service: svc, obs: obs, now: now}
}

func (s *scenario) openCycle(t *testing.T) models.Cycle {
	t.Helper()
	var c models.Cycle
	require.NoError(t, s.db.Where("group_id = ? AND status = ?", s.fx.Group.ID, models.CycleStatusOpen).First(&c).Error)
	return c
}

func (s *scenario) confirmAll(t *testing.T, amount int64) models.Cycle {
	t.Helper()
	cycle := s.openCycle(t)
	for _, m := range s.fx.Members {
		roscatest.Contribute(t, s.db, cycle.ID, m.ID, amount, models.ContributionStatusConfirmed)
	}
	return cycle
}

func (s *scenario) count(t *testing.T, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	q := s.db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

func (s *scenario) membership(t *testing.T, userID string) models.Membership {
	t.Helper()
	var m models.Membership
	require.NoError(t, s.db.Where("group_id = ? AND user_id = ?", s.fx.Group.ID, userID).First(&m).Error)
	return m
}

func TestThreeMemberScenario(t *testing.T) {
	s := newScenario(t, 3, 1000)
	cycle1 := s.confirmAll(t, 1000)
	s.src.index = 1

	res, err := s.service.Perform(context.Background(), s.fx.Group.ID, s.fx.Owner.ID)
	require.NoError(t, err)

	winner := s.fx.Members[1]
	assert.Equal(t, winner.ID, res.Winner.ID)
	assert.Equal(t, 3, res.EligibleCount)
	assert.Equal(t, 3, res.Draw.EligibleCount)
	assert.Equal(t, models.DrawMethodRandom, res.Draw.Method)
	assert.Equal(t, "1700000000000-42", res.Draw.SeedValue)

	var payout models.Payout
	require.NoError(t, s.db.Where("cycle_id = ?", cycle1.ID).First(&payout).Error)
	assert.Equal(t, int64(3000), payout.Amount)
	assert.Equal(t, models.PayoutStatusPending, payout.Status)
	assert.Equal(t, winner.ID, payout.ReceiverID)

	var closed models.Cycle
	require.NoError(t, s.db.First(&closed, "id = ?", cycle1.ID).Error)
	assert.Equal(t, models.CycleStatusClosed, closed.Status)

	cycle2 := s.openCycle(t)
	assert.Equal(t, 2, cycle2.CycleNumber)
	assert.True(t, cycle2.DueDate.Equal(s.now.AddDate(0, 0, 30)), "due date %v", cycle2.DueDate)
	require.NotNil(t, res.NextCycle)
	assert.Equal(t, cycle2.ID, res.NextCycle.ID)

	assert.Equal(t, int64(3000), s.membership(t, winner.ID).TotalWon)
	assert.Equal(t, int64(0), s.membership(t, s.fx.Owner.ID).TotalWon)

	// cycle 2 has no contributions yet
	_, err = s.service.Perform(context.Background(), s.fx.Group.ID, s.fx.Owner.ID)
	assert.ErrorIs(t, err, ErrIncompleteContributions)

	// the previous winner is excluded from the next draw
	s.confirmAll(t, 1000)
	s.src.index = 0
	res, err = s.service.Perform(context.Background(), s.fx.Group.ID, s.fx.Owner.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.EligibleCount)
	assert.NotEqual(t, winner.ID, res.Winner.ID)

	assert.Equal(t, []string{"success", "incomplete_contributions", "success"}, s.obs.results)
}

func TestFullRotationCompletesGroup(t *testing.T) {
	s := newScenario(t, 3, 500)
	winners := make(map[string]bool)

	for round := 1; round <= 3; round++ {
		s.confirmAll(t, 500)
		res, err := s.service.Perform(context.Background(), s.fx.Group.ID, s.fx.Owner.ID)
		require.NoError(t, err, "round %d", round)
		assert.Equal(t, 4-round, res.EligibleCount)
		assert.False(t, winners[res.Winner.ID], "member %s won twice", res.Winner.ID)
		winners[res.Winner.ID] = true

		if round < 3 {
			assert.False(t, res.GroupCompleted)
		} else {
			assert.True(t, res.GroupCompleted)
			assert.Nil(t, res.NextCycle)
		}
	}

	var group models.Group
	require.NoError(t, s.db.First(&group, "id = ?", s.fx.Group.ID).Error)
	assert.Equal(t, models.GroupStatusCompleted, group.Status)
	assert.Equal(t, int64(0), s.count(t, &models.Cycle{}, "group_id = ? AND status = ?", s.fx.Group.ID, models.CycleStatusOpen))
	assert.Equal(t, int64(3), s.count(t, &models.Cycle{}, "group_id = ? AND status = ?", s.fx.Group.ID, models.CycleStatusClosed))

	var winnerIDs []string
	s.db.Model(&models.Draw{}).Pluck("winner_id", &winnerIDs)
	assert.Len(t, winnerIDs, 3)
	assert.Len(t, winners, 3)

	_, err := s.service.Perform(context.Background(), s.fx.Group.ID, s.fx.Owner.ID)
	assert.ErrorIs(t, err, ErrNoOpenCycle)
}

func TestNoEligibleMembers(t *testing.T) {
	// totalMembers exceeds the active members, so a cycle opens after
	// everyone has won.
	s := newScenario(t, 2, 1000)
	s.db.Model(&models.Group{}).Where("id = ?", s.fx.Group.ID).Update("total_members", 3)

	for i := 0; i < 2; i++ {
		s.confirmAll(t, 1000)
		_, err := s.service.Perform(context.Background(), s.fx.Group.ID, s.fx.Owner.ID)
		require.NoError(t, err)
	}

	s.confirmAll(t, 1000)
	_, err := s.service.Perform(context.Background(), s.fx.Group.ID, s.fx.Owner.ID)
	assert.ErrorIs(t, err, ErrNoEligibleMembers)
	assert.Equal(t, int64(2), s.count(t, &models.Draw{}, ""))
}

func TestIncompleteContributionsWritesNothing(t *testing.T) {
	s := newScenario(t, 3, 1000)
	cycle := s.openCycle(t)
	roscatest.Contribute(t, s.db, cycle.ID, s.fx.Members[0].ID, 1000, models.ContributionStatusConfirmed)
	roscatest.Contribute(t, s.db, cycle.ID, s.fx.Members[1].ID, 1000, models.ContributionStatusConfirmed)
	roscatest.Contribute(t, s.db, cycle.ID, s.fx.Members[2].ID, 1000, models.ContributionStatusPending)

	_, err := s.service.Perform(context.Background(), s.fx.Group.ID, s.fx.Owner.ID)
	assert.ErrorIs(t, err, ErrIncompleteContributions)

	assert.Equal(t, int64(0), s.count(t, &models.Draw{}, ""))
	assert.Equal(t, int64(0), s.count(t, &models.Payout{}, ""))
	assert.Equal(t, models.CycleStatusOpen, s.openCycle(t).Status)
}

func TestContributionsMatchedByUser(t *testing.T) {
	s := newScenario(t, 2, 1000)
	cycle := s.openCycle(t)
	outsider := roscatest.CreateUser(t, s.db, "Outsider", models.UserRoleUser)

	// Two confirmed contributions, but one belongs to a non-member.
	roscatest.Contribute(t, s.db, cycle.ID, s.fx.Members[0].ID, 1000, models.ContributionStatusConfirmed)
	roscatest.Contribute(t, s.db, cycle.ID, outsider.ID, 1000, models.ContributionStatusConfirmed)

	_, err := s.service.Perform(context.Background(), s.fx.Group.ID, s.fx.Owner.ID)
	assert.ErrorIs(t, err, ErrIncompleteContributions)
}

func TestInactiveMembersAreIgnored(t *testing.T) {
	s := newScenario(t, 3, 1000)
	removed := s.fx.Members[2]
	s.db.Model(&models.Membership{}).Where("user_id = ?", removed.ID).Update("status", models.MembershipStatusRemoved)

	cycle := s.openCycle(t)
	roscatest.Contribute(t, s.db, cycle.ID, s.fx.Members[0].ID, 1000, models.ContributionStatusConfirmed)
	roscatest.Contribute(t, s.db, cycle.ID, s.fx.Members[1].ID, 1000, models.ContributionStatusConfirmed)

	s.src.index = 1
	res, err := s.service.Perform(context.Background(), s.fx.Group.ID, s.fx.Owner.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.EligibleCount)
	assert.Equal(t, s.fx.Members[1].ID, res.Winner.ID)
	assert.Equal(t, int64(2000), res.Payout.Amount)
}

func TestPayoutIsSumOfConfirmedAmounts(t *testing.T) {
	s := newScenario(t, 3, 1000)
	cycle := s.openCycle(t)
	roscatest.Contribute(t, s.db, cycle.ID, s.fx.Members[0].ID, 1000, models.ContributionStatusConfirmed)
	roscatest.Contribute(t, s.db, cycle.ID, s.fx.Members[1].ID, 1250, models.ContributionStatusConfirmed)
	roscatest.Contribute(t, s.db, cycle.ID, s.fx.Members[2].ID, 999, models.ContributionStatusConfirmed)

	res, err := s.service.Perform(context.Background(), s.fx.Group.ID, s.fx.Owner.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3249), res.Payout.Amount)
	assert.Equal(t, int64(3249), s.membership(t, res.Winner.ID).TotalWon)
	assert.Equal(t, []int64{3249}, s.obs.amounts)
}

func TestSecondDrawOnSameCycleConflicts(t *testing.T) {
	s := newScenario(t, 2, 1000)
	s.confirmAll(t, 1000)
	cycle := s.openCycle(t)

	el, err := Evaluate(context.Background(), s.db, s.fx.Group.ID)
	require.NoError(t, err)

	// Another request commits a draw for the cycle between our eligibility
	// read and our transaction.
	require.NoError(t, s.db.Create(&models.Draw{
		CycleID: cycle.ID, WinnerID: s.fx.Members[0].ID, Method: models.DrawMethodRandom, EligibleCount: 2, SeedValue: "other",
	}).Error)

	sel := Selection{Winner: el.Eligible[1], EligibleCount: len(el.Eligible), SeedValue: "mine"}
	_, err = Transition(context.Background(), s.db, el, sel, s.now)
	assert.ErrorIs(t, err, ErrAlreadyDrawn)

	assert.Equal(t, int64(1), s.count(t, &models.Draw{}, ""))
	assert.Equal(t, int64(0), s.count(t, &models.Payout{}, ""))
	assert.Equal(t, models.CycleStatusOpen, s.openCycle(t).Status)
	assert.Equal(t, int64(0), s.membership(t, s.fx.Members[1].ID).TotalWon)
	assert.Equal(t, int64(1), s.count(t, &models.Cycle{}, "group_id = ?", s.fx.Group.ID))

	// The fast-path check now sees the committed draw.
	_, err = Evaluate(context.Background(), s.db, s.fx.Group.ID)
	assert.ErrorIs(t, err, ErrAlreadyDrawn)
}

func TestTransitionRechecksPastWinners(t *testing.T) {
	s := newScenario(t, 3, 1000)
	s.confirmAll(t, 1000)

	el, err := Evaluate(context.Background(), s.db, s.fx.Group.ID)
	require.NoError(t, err)

	// A stale snapshot picks a member who has since won another cycle.
	past := models.Cycle{GroupID: s.fx.Group.ID, CycleNumber: 99, Status: models.CycleStatusClosed, DueDate: s.now}
	require.NoError(t, s.db.Create(&past).Error)
	require.NoError(t, s.db.Create(&models.Draw{
		CycleID: past.ID, WinnerID: s.fx.Members[0].ID, EligibleCount: 3, SeedValue: "old",
	}).Error)

	sel := Selection{Winner: el.Eligible[0], EligibleCount: 3, SeedValue: "mine"}
	_, err = Transition(context.Background(), s.db, el, sel, s.now)
	assert.ErrorIs(t, err, ErrAlreadyWon)
	assert.Equal(t, int64(0), s.count(t, &models.Payout{}, ""))
}

func TestAtomicityUnderInjectedFailure(t *testing.T) {
	s := newScenario(t, 3, 1000)
	cycle := s.confirmAll(t, 1000)

	injected := errors.New("injected membership failure")
	require.NoError(t, s.db.Callback().Update().Before("gorm:update").Register("test:fail_memberships", func(tx *gorm.DB) {
		if tx.Statement.Table == "memberships" {
			tx.AddError(injected)
		}
	}))

	_, err := s.service.Perform(context.Background(), s.fx.Group.ID, s.fx.Owner.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, injected)
	var derr *Error
	assert.False(t, errors.As(err, &derr), "storage failures are not business errors")

	assert.Equal(t, int64(0), s.count(t, &models.Draw{}, ""))
	assert.Equal(t, int64(0), s.count(t, &models.Payout{}, ""))
	assert.Equal(t, int64(1), s.count(t, &models.Cycle{}, "group_id = ?", s.fx.Group.ID))

	var reloaded models.Cycle
	require.NoError(t, s.db.First(&reloaded, "id = ?", cycle.ID).Error)
	assert.Equal(t, models.CycleStatusOpen, reloaded.Status)
	for _, m := range s.fx.Members {
		assert.Equal(t, int64(0), s.membership(t, m.ID).TotalWon)
	}
	assert.Equal(t, int64(0), s.count(t, &models.AuditLog{}, "entity = ?", audit.EntityDraw))
	assert.Equal(t, []string{"error"}, s.obs.results)

	// Once the failure clears, a fresh attempt succeeds.
	require.NoError(t, s.db.Callback().Update().Remove("test:fail_memberships"))
	_, err = s.service.Perform(context.Background(), s.fx.Group.ID, s.fx.Owner.ID)
	require.NoError(t, err)
}

func TestPerformWritesAuditEntries(t *testing.T) {
	s := newScenario(t, 2, 1000)
	s.confirmAll(t, 1000)

	res, err := s.service.Perform(context.Background(), s.fx.Group.ID, s.fx.Owner.ID)
	require.NoError(t, err)

	var drawLog models.AuditLog
	require.NoError(t, s.db.Where("entity = ? AND entity_id = ?", audit.EntityDraw, res.Draw.ID).First(&drawLog).Error)
	assert.Equal(t, audit.ActionDraw, drawLog.Action)
	require.NotNil(t, drawLog.UserID)
	assert.Equal(t, s.fx.Owner.ID, *drawLog.UserID)
	meta := audit.DecodeMetadata(drawLog)
	assert.Equal(t, res.Winner.ID, meta["winnerId"])
	assert.Equal(t, res.Winner.FullName, meta["winnerName"])
	assert.Equal(t, "2000", meta["amount"])
	assert.Equal(t, float64(2), meta["eligibleMembersCount"])
	assert.Equal(t, res.Draw.SeedValue, meta["seedValue"])
	assert.Contains(t, drawLog.Summary, "2,000")

	var payoutLog models.AuditLog
	require.NoError(t, s.db.Where("entity = ? AND entity_id = ?", audit.EntityPayout, res.Payout.ID).First(&payoutLog).Error)
	assert.Equal(t, audit.ActionCreate, payoutLog.Action)
}

func TestAuditFailureDoesNotFailDraw(t *testing.T) {
	s := newScenario(t, 2, 1000)
	s.confirmAll(t, 1000)
	require.NoError(t, s.db.Migrator().DropTable(&models.AuditLog{}))

	res, err := s.service.Perform(context.Background(), s.fx.Group.ID, s.fx.Owner.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Draw.ID)
	assert.Equal(t, int64(1), s.count(t, &models.Draw{}, ""))
}

func TestEvaluateErrors(t *testing.T) {
	s := newScenario(t, 2, 1000)

	_, err := Evaluate(context.Background(), s.db, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrGroupNotFound)

	s.db.Model(&models.Cycle{}).Where("group_id = ?", s.fx.Group.ID).Update("status", models.CycleStatusCancelled)
	_, err = Evaluate(context.Background(), s.db, s.fx.Group.ID)
	assert.ErrorIs(t, err, ErrNoOpenCycle)
}

func TestHistory(t *testing.T) {
	s := newScenario(t, 3, 1000)
	for i := 0; i < 2; i++ {
		s.confirmAll(t, 1000)
		_, err := s.service.Perform(context.Background(), s.fx.Group.ID, s.fx.Owner.ID)
		require.NoError(t, err)
	}

	entries, err := s.service.History(context.Background(), s.fx.Group.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 2, entries[0].Draw.Cycle.CycleNumber)
	assert.Equal(t, 1, entries[1].Draw.Cycle.CycleNumber)
	require.NotNil(t, entries[0].Payout)
	assert.Equal(t, int64(3000), entries[0].Payout.Amount)
	assert.NotEmpty(t, entries[0].Draw.Winner.FullName)
}
