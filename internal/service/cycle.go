// Package service orchestrates the per-account reconciliation cycle: score
// the portfolio, pick sale candidates, reconcile the live offers, and record
// what happened.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/CaoKaiK/bondora/internal/domain"
	"github.com/CaoKaiK/bondora/internal/notify"
	"github.com/CaoKaiK/bondora/internal/sales"
	"github.com/CaoKaiK/bondora/internal/scoring"
)

// Signal bus targets for cycle reports. Exported so observers (the watch
// mode) subscribe to the same channel and stream the cycle service writes.
const (
	CycleChannel = "cycles"
	CycleStream  = "cycle_reports"
)

// CalibrationSource provides the reliability bins used to fit the linear
// calibration applied on top of raw model scores.
type CalibrationSource interface {
	CalibrationBins(ctx context.Context) ([]scoring.Bin, error)
}

// HoldingsArchiver uploads the scored holdings snapshot for one account.
type HoldingsArchiver interface {
	ArchiveHoldings(ctx context.Context, account string, day time.Time, holdings []domain.Holding) error
}

// Notifier is the slice of the notification fan-out the cycle service needs.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// AccountSpec is one account plus its per-deployment sale parameters.
type AccountSpec struct {
	Account domain.Account
	// SellStart excludes holdings bid at or before this instant.
	SellStart time.Time
	// InitialGain is the gain assigned to freshly listed parts.
	InitialGain int
}

// CycleConfig holds the orchestration parameters.
type CycleConfig struct {
	// MaxAdjustedInterest is the candidate selection threshold in percent.
	MaxAdjustedInterest float64
	// LockTTL bounds how long a cycle may hold the per-account lock.
	LockTTL time.Duration
}

// CycleService runs one reconciliation cycle per account. The stores, the
// archiver, the signal bus and the notifier are optional; a nil collaborator
// simply skips that side effect. The gateway, scorer and reconciler are
// required.
type CycleService struct {
	gw         domain.MarketplaceGateway
	scorer     domain.Scorer
	calSource  CalibrationSource
	reconciler *sales.Reconciler
	locks      domain.LockManager
	reports    domain.CycleReportStore
	events     domain.ListingEventStore
	archiver   HoldingsArchiver
	bus        domain.SignalBus
	notifier   Notifier
	cfg        CycleConfig
	logger     *slog.Logger
	now        func() time.Time
}

// NewCycleService creates a CycleService.
func NewCycleService(
	gw domain.MarketplaceGateway,
	scorer domain.Scorer,
	calSource CalibrationSource,
	reconciler *sales.Reconciler,
	locks domain.LockManager,
	reports domain.CycleReportStore,
	events domain.ListingEventStore,
	archiver HoldingsArchiver,
	bus domain.SignalBus,
	notifier Notifier,
	cfg CycleConfig,
	logger *slog.Logger,
) *CycleService {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	return &CycleService{
		gw:         gw,
		scorer:     scorer,
		calSource:  calSource,
		reconciler: reconciler,
		locks:      locks,
		reports:    reports,
		events:     events,
		archiver:   archiver,
		bus:        bus,
		notifier:   notifier,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "cycle_service")),
		now:        time.Now,
	}
}

// RunCycle executes one full cycle for the account: acquire the account
// lock, fetch and score holdings, snapshot them, select sale candidates,
// reconcile the live offers, and persist and publish the report.
//
// It returns domain.ErrLockHeld when another cycle for the same account is
// already running; callers treat that as a skip, not a failure.
func (s *CycleService) RunCycle(ctx context.Context, spec AccountSpec) (domain.CycleReport, error) {
	account := spec.Account
	logger := s.logger.With(slog.String("account", account.Name))

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, "cycle:"+account.Name, s.cfg.LockTTL)
		if err != nil {
			return domain.CycleReport{}, fmt.Errorf("service: acquire cycle lock for %s: %w", account.Name, err)
		}
		defer unlock()
	}

	started := s.now()
	logger.Info("cycle started")

	holdings, err := s.gw.Holdings(ctx, account)
	if err != nil {
		s.reportFailure(ctx, account.Name, "fetch holdings", err)
		return domain.CycleReport{}, fmt.Errorf("service: fetch holdings: %w", err)
	}
	if len(holdings) == 0 {
		// An empty portfolio is valid; stale offers may still need stepping
		// down, so the cycle continues.
		logger.Info("no holdings returned")
	}

	if err := s.scoreHoldings(ctx, holdings); err != nil {
		s.reportFailure(ctx, account.Name, "score holdings", err)
		return domain.CycleReport{}, fmt.Errorf("service: score holdings: %w", err)
	}

	if s.archiver != nil && len(holdings) > 0 {
		if err := s.archiver.ArchiveHoldings(ctx, account.Name, started, holdings); err != nil {
			// Snapshots are best effort; the cycle proceeds without one.
			logger.Warn("holdings snapshot failed", slog.String("error", err.Error()))
		}
	}

	candidates := sales.SelectCandidates(holdings, sales.SelectorConfig{
		SellStart:           spec.SellStart,
		MaxAdjustedInterest: s.cfg.MaxAdjustedInterest,
	})
	logger.Info("candidates selected",
		slog.Int("holdings", len(holdings)),
		slog.Int("candidates", len(candidates)))

	result, err := s.reconciler.Reconcile(ctx, account, candidates, spec.InitialGain)
	if err != nil {
		s.reportFailure(ctx, account.Name, "reconcile offers", err)
		return domain.CycleReport{}, fmt.Errorf("service: reconcile offers: %w", err)
	}

	report := domain.CycleReport{
		ID:                uuid.New().String(),
		Account:           account.Name,
		Holdings:          len(holdings),
		Candidates:        len(candidates),
		LiveOffers:        result.LiveOffers,
		Held:              result.Held,
		Cancelled:         result.Cancelled,
		Created:           result.Created,
		Unsellable:        result.Unsellable,
		DuplicatesDropped: result.DuplicatesDropped,
		StartedAt:         started,
		FinishedAt:        s.now(),
	}

	s.persist(ctx, logger, report, result)
	s.publish(ctx, logger, report)

	logger.Info("cycle finished",
		slog.Int("cancelled", report.Cancelled),
		slog.Int("created", report.Created),
		slog.Int("held", report.Held),
		slog.Int("unsellable", report.Unsellable))

	if s.notifier != nil {
		msg := fmt.Sprintf("account %s: %d created, %d cancelled, %d held, %d unsellable",
			report.Account, report.Created, report.Cancelled, report.Held, report.Unsellable)
		_ = s.notifier.Notify(ctx, notify.EventCycleCompleted, "Cycle completed", msg)
	}

	return report, nil
}

// scoreHoldings assigns a calibrated default probability and the resulting
// risk-adjusted interest to every holding, in place.
func (s *CycleService) scoreHoldings(ctx context.Context, holdings []domain.Holding) error {
	if len(holdings) == 0 {
		return nil
	}

	raw, err := s.scorer.Score(ctx, holdings)
	if err != nil {
		return err
	}
	if len(raw) != len(holdings) {
		return fmt.Errorf("expected %d scores, got %d", len(holdings), len(raw))
	}

	cal := s.calibration(ctx)

	for i := range holdings {
		p := cal.Apply(raw[i])
		holdings[i].DefaultProb = p
		holdings[i].AdjustedInterest = scoring.AdjustedInterest(holdings[i].Interest, p)
	}
	return nil
}

// calibration fits the linear calibration from the scorer's current
// reliability bins, falling back to identity when the bins are missing or
// degenerate.
func (s *CycleService) calibration(ctx context.Context) scoring.Calibration {
	if s.calSource == nil {
		return scoring.Identity()
	}

	bins, err := s.calSource.CalibrationBins(ctx)
	if err != nil {
		s.logger.Warn("calibration bins unavailable, using raw scores", slog.String("error", err.Error()))
		return scoring.Identity()
	}

	cal, err := scoring.Fit(bins)
	if err != nil {
		s.logger.Warn("calibration fit failed, using raw scores", slog.String("error", err.Error()))
		return scoring.Identity()
	}
	return cal
}

// persist writes the cycle report and its listing events. Store failures are
// logged but do not fail the cycle; the marketplace changes have already
// happened.
func (s *CycleService) persist(ctx context.Context, logger *slog.Logger, report domain.CycleReport, result sales.Result) {
	if s.reports != nil {
		if err := s.reports.Insert(ctx, report); err != nil {
			logger.Error("persist cycle report failed", slog.String("error", err.Error()))
		}
	}

	if s.events == nil {
		return
	}

	now := s.now()
	events := make([]domain.ListingEvent, 0, len(result.CancelledOffers)+len(result.CreatedItems))
	for _, offerID := range result.CancelledOffers {
		events = append(events, domain.ListingEvent{
			ID:        uuid.New().String(),
			CycleID:   report.ID,
			Account:   report.Account,
			Action:    domain.ListingCancelled,
			OfferID:   offerID,
			CreatedAt: now,
		})
	}
	for _, item := range result.CreatedItems {
		events = append(events, domain.ListingEvent{
			ID:        uuid.New().String(),
			CycleID:   report.ID,
			Account:   report.Account,
			Action:    domain.ListingCreated,
			PartID:    item.PartID,
			Gain:      item.Gain,
			CreatedAt: now,
		})
	}

	if err := s.events.InsertBatch(ctx, events); err != nil {
		logger.Error("persist listing events failed", slog.String("error", err.Error()))
	}
}

// publish pushes the report onto the signal bus: an ephemeral pub/sub
// notification plus a durable stream entry. Best effort.
func (s *CycleService) publish(ctx context.Context, logger *slog.Logger, report domain.CycleReport) {
	if s.bus == nil {
		return
	}

	payload, err := json.Marshal(report)
	if err != nil {
		logger.Error("marshal cycle report failed", slog.String("error", err.Error()))
		return
	}

	if err := s.bus.Publish(ctx, CycleChannel, payload); err != nil {
		logger.Warn("publish cycle report failed", slog.String("error", err.Error()))
	}
	if err := s.bus.StreamAppend(ctx, CycleStream, payload); err != nil {
		logger.Warn("append cycle report failed", slog.String("error", err.Error()))
	}
}

// reportFailure notifies operators about a failed cycle step.
func (s *CycleService) reportFailure(ctx context.Context, account, step string, err error) {
	if s.notifier == nil {
		return
	}
	msg := fmt.Sprintf("account %s: %s: %v", account, step, err)
	_ = s.notifier.Notify(ctx, notify.EventCycleFailed, "Cycle failed", msg)
}
