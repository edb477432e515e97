package draw

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gorm.io/gorm"

	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/api"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/audit"
	"github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/models"
)

const tracerName = "github.com/alirezasafaeiiidev/asdev-family-rosca/pkg/rosca/draw"

// Auditor receives the entries written after a draw commits.
type Auditor interface {
	Record(ctx context.Context, entity, entityID, action string, opts audit.Options)
}

// Observer is told the result of every draw attempt.
type Observer interface {
	ObserveDraw(result string, payout int64)
}

// Result is a committed draw with the snapshot it was decided on.
type Result struct {
	Outcome
	Cycle         models.Cycle
	Winner        models.User
	EligibleCount int
}

// Service runs draws.
type Service struct {
	db       *gorm.DB
	random   RandomSource
	auditor  Auditor
	observer Observer
	tracer   trace.Tracer
	logger   *slog.Logger
	now      func() time.Time
	printer  *message.Printer
}

// Option configures a Service.
type Option func(*Service)

// WithObserver reports draw results, typically to metrics.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// WithClock overrides the time source used for due dates.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// NewService creates a draw service. A nil random source uses crypto/rand.
func NewService(db *gorm.DB, random RandomSource, auditor Auditor, logger *slog.Logger, opts ...Option) *Service {
	if random == nil {
		random = CryptoSource{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		db:      db,
		random:  random,
		auditor: auditor,
		tracer:  otel.Tracer(tracerName),
		logger:  logger,
		now:     time.Now,
		printer: message.NewPrinter(language.English),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Perform draws the open cycle of a group on behalf of actorID. The caller
// has already checked that actorID administers the group.
func (s *Service) Perform(ctx context.Context, groupID, actorID string) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "draw.Perform", trace.WithAttributes(
		attribute.String("rosca.group_id", groupID),
	))
	defer span.End()

	res, err := s.perform(ctx, groupID)
	if err != nil {
		s.observe(resultLabel(err), 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	s.observe("success", res.Payout.Amount)
	span.SetAttributes(
		attribute.String("rosca.cycle_id", res.Cycle.ID),
		attribute.Int("rosca.eligible_count", res.EligibleCount),
		attribute.Bool("rosca.group_completed", res.GroupCompleted),
	)

	s.recordAudit(ctx, actorID, res)
	s.logger.InfoContext(ctx, "Draw completed",
		"group_id", groupID,
		"cycle_id", res.Cycle.ID,
		"cycle_number", res.Cycle.CycleNumber,
		"winner_id", res.Winner.ID,
		"payout", res.Payout.Amount,
		"eligible", res.EligibleCount,
		"group_completed", res.GroupCompleted,
	)
	return res, nil
}

func (s *Service) perform(ctx context.Context, groupID string) (*Result, error) {
	evalCtx, span := s.tracer.Start(ctx, "draw.Evaluate")
	el, err := Evaluate(evalCtx, s.db, groupID)
	span.End()
	if err != nil {
		return nil, err
	}

	_, span = s.tracer.Start(ctx, "draw.Select")
	sel, err := Select(s.random, el.Eligible)
	span.End()
	if err != nil {
		return nil, err
	}

	txCtx, span := s.tracer.Start(ctx, "draw.Transition")
	out, err := Transition(txCtx, s.db, el, sel, s.now())
	span.End()
	if err != nil {
		return nil, err
	}

	return &Result{
		Outcome:       *out,
		Cycle:         el.Cycle,
		Winner:        sel.Winner.User,
		EligibleCount: sel.EligibleCount,
	}, nil
}

// recordAudit writes the draw and payout entries. The draw has committed, so
// failures are only logged by the auditor.
func (s *Service) recordAudit(ctx context.Context, actorID string, res *Result) {
	if s.auditor == nil {
		return
	}
	amount := api.FormatAmount(res.Payout.Amount)

	s.auditor.Record(ctx, audit.EntityDraw, res.Draw.ID, audit.ActionDraw, audit.Options{
		UserID:  actorID,
		Summary: s.printer.Sprintf("%s won cycle %d with a payout of %d", res.Winner.FullName, res.Cycle.CycleNumber, res.Payout.Amount),
		Metadata: map[string]any{
			"cycleId":              res.Cycle.ID,
			"cycleNumber":          res.Cycle.CycleNumber,
			"winnerId":             res.Winner.ID,
			"winnerName":           res.Winner.FullName,
			"amount":               amount,
			"eligibleMembersCount": res.EligibleCount,
			"seedValue":            res.Draw.SeedValue,
		},
	})
	s.auditor.Record(ctx, audit.EntityPayout, res.Payout.ID, audit.ActionCreate, audit.Options{
		UserID:  actorID,
		Summary: s.printer.Sprintf("Payout of %d created for %s", res.Payout.Amount, res.Winner.FullName),
		Metadata: map[string]any{
			"cycleId":    res.Cycle.ID,
			"receiverId": res.Winner.ID,
			"amount":     amount,
		},
	})
}

func (s *Service) observe(result string, amount int64) {
	if s.observer != nil {
		s.observer.ObserveDraw(result, amount)
	}
}

func resultLabel(err error) string {
	var derr *Error
	if errors.As(err, &derr) {
		return strings.ToLower(derr.Code)
	}
	return "error"
}

// HistoryEntry is one past draw of a group.
type HistoryEntry struct {
	Draw   models.Draw
	Payout *models.Payout
}

// History returns every draw of a group, newest first.
func (s *Service) History(ctx context.Context, groupID string) ([]HistoryEntry, error) {
	db := s.db.WithContext(ctx)

	var draws []models.Draw
	if err := db.Preload("Winner").Preload("Cycle").
		Where("cycle_id IN (?)", groupCycleIDs(db, groupID)).
		Order("created_at DESC").
		Find(&draws).Error; err != nil {
		return nil, err
	}

	var payouts []models.Payout
	if err := db.Where("cycle_id IN (?)", groupCycleIDs(db, groupID)).Find(&payouts).Error; err != nil {
		return nil, err
	}
	byCycle := make(map[string]*models.Payout, len(payouts))
	for i := range payouts {
		byCycle[payouts[i].CycleID] = &payouts[i]
	}

	entries := make([]HistoryEntry, 0, len(draws))
	for _, d := range draws {
		entries = append(entries, HistoryEntry{Draw: d, Payout: byCycle[d.CycleID]})
	}
	return entries, nil
}
