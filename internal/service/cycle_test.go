package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/CaoKaiK/bondora/internal/domain"
	"github.com/CaoKaiK/bondora/internal/sales"
	"github.com/CaoKaiK/bondora/internal/scoring"
)

type stubGateway struct {
	holdings    []domain.Holding
	holdingsErr error
	offers      []domain.Offer

	cancelCalls [][]string
	createCalls [][]domain.SaleItem
}

func (g *stubGateway) Holdings(context.Context, domain.Account) ([]domain.Holding, error) {
	return g.holdings, g.holdingsErr
}

func (g *stubGateway) LiveOffers(context.Context, domain.Account) ([]domain.Offer, error) {
	return g.offers, nil
}

func (g *stubGateway) CancelOffers(_ context.Context, _ domain.Account, ids []string) error {
	g.cancelCalls = append(g.cancelCalls, ids)
	return nil
}

func (g *stubGateway) CreateOffers(_ context.Context, _ domain.Account, items []domain.SaleItem) (domain.CreateOutcome, error) {
	g.createCalls = append(g.createCalls, items)
	return domain.CreateOutcome{Status: domain.CreateAccepted}, nil
}

type stubScorer struct {
	scores []float64
	err    error
}

func (s *stubScorer) Score(_ context.Context, holdings []domain.Holding) ([]float64, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.scores != nil {
		return s.scores, nil
	}
	return make([]float64, len(holdings)), nil
}

type stubReportStore struct {
	inserted []domain.CycleReport
}

func (s *stubReportStore) Insert(_ context.Context, r domain.CycleReport) error {
	s.inserted = append(s.inserted, r)
	return nil
}

func (s *stubReportStore) ListRecent(context.Context, string, int) ([]domain.CycleReport, error) {
	return s.inserted, nil
}

type stubEventStore struct {
	inserted []domain.ListingEvent
}

func (s *stubEventStore) InsertBatch(_ context.Context, events []domain.ListingEvent) error {
	s.inserted = append(s.inserted, events...)
	return nil
}

func (s *stubEventStore) ListByCycle(context.Context, string) ([]domain.ListingEvent, error) {
	return s.inserted, nil
}

type stubBus struct {
	published [][]byte
	appended  [][]byte
}

func (b *stubBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.published = append(b.published, payload)
	return nil
}

func (b *stubBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *stubBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.appended = append(b.appended, payload)
	return nil
}

func (b *stubBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type stubNotifier struct {
	events []string
}

func (n *stubNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.events = append(n.events, event)
	return nil
}

type stubLocks struct {
	held bool
}

func (l *stubLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	if l.held {
		return nil, domain.ErrLockHeld
	}
	return func() {}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newService(gw *stubGateway, sc domain.Scorer, opts func(*CycleService)) (*CycleService, *stubReportStore, *stubEventStore, *stubBus, *stubNotifier) {
	logger := testLogger()
	reports := &stubReportStore{}
	events := &stubEventStore{}
	bus := &stubBus{}
	notifier := &stubNotifier{}
	rec := sales.NewReconciler(gw, sales.Config{}, logger)

	svc := NewCycleService(gw, sc, nil, rec, nil, reports, events, nil, bus, notifier,
		CycleConfig{MaxAdjustedInterest: 17.5}, logger)
	if opts != nil {
		opts(svc)
	}
	return svc, reports, events, bus, notifier
}

func TestRunCycleListsCandidateAtInitialGain(t *testing.T) {
	sellStart := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	gw := &stubGateway{
		holdings: []domain.Holding{
			{PartID: "p1", Interest: 20, NextPaymentNr: 1, BiddingStartedAt: sellStart.Add(24 * time.Hour)},
		},
	}
	sc := &stubScorer{scores: []float64{0.1}}
	svc, reports, events, bus, _ := newService(gw, sc, nil)

	report, err := svc.RunCycle(context.Background(), AccountSpec{
		Account:     domain.Account{Name: "main", Token: "t"},
		SellStart:   sellStart,
		InitialGain: 4,
	})
	if err != nil {
		t.Fatal(err)
	}

	if report.Holdings != 1 || report.Candidates != 1 || report.Created != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(gw.createCalls) != 1 || gw.createCalls[0][0].Gain != 4 {
		t.Fatalf("expected one create at gain 4, got %+v", gw.createCalls)
	}
	if len(reports.inserted) != 1 || reports.inserted[0].ID != report.ID {
		t.Fatalf("expected report persisted, got %+v", reports.inserted)
	}
	if len(events.inserted) != 1 || events.inserted[0].Action != domain.ListingCreated || events.inserted[0].PartID != "p1" {
		t.Fatalf("unexpected events: %+v", events.inserted)
	}
	if len(bus.published) != 1 || len(bus.appended) != 1 {
		t.Fatalf("expected report published and appended, got %d/%d", len(bus.published), len(bus.appended))
	}
}

func TestRunCycleComputesAdjustedInterest(t *testing.T) {
	sellStart := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	gw := &stubGateway{
		holdings: []domain.Holding{
			{PartID: "p1", Interest: 20, NextPaymentNr: 1, BiddingStartedAt: sellStart.Add(time.Hour)},
		},
	}
	sc := &stubScorer{scores: []float64{0.1}}
	svc, _, _, _, _ := newService(gw, sc, nil)

	_, err := svc.RunCycle(context.Background(), AccountSpec{
		Account:   domain.Account{Name: "main"},
		SellStart: sellStart,
	})
	if err != nil {
		t.Fatal(err)
	}

	want := scoring.AdjustedInterest(20, 0.1)
	if math.Abs(gw.holdings[0].AdjustedInterest-want) > 1e-12 {
		t.Fatalf("expected adjusted interest %v, got %v", want, gw.holdings[0].AdjustedInterest)
	}
	if gw.holdings[0].DefaultProb != 0.1 {
		t.Fatalf("expected default prob set, got %v", gw.holdings[0].DefaultProb)
	}
}

func TestRunCycleHoldingsErrorFailsAndNotifies(t *testing.T) {
	gw := &stubGateway{holdingsErr: errors.New("boom")}
	svc, reports, _, _, notifier := newService(gw, &stubScorer{}, nil)

	_, err := svc.RunCycle(context.Background(), AccountSpec{Account: domain.Account{Name: "main"}})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(reports.inserted) != 0 {
		t.Fatalf("expected no report persisted, got %+v", reports.inserted)
	}
	if len(notifier.events) != 1 || notifier.events[0] != "cycle_failed" {
		t.Fatalf("expected cycle_failed notification, got %v", notifier.events)
	}
}

func TestRunCycleEmptyHoldingsStillReconcilesStaleOffers(t *testing.T) {
	// An empty portfolio response must not skip the step-down of stale
	// offers already on the market.
	stale := time.Now().Add(-6 * time.Hour)
	gw := &stubGateway{
		offers: []domain.Offer{{ID: "o1", PartID: "p1", ListedAt: stale, Gain: 3}},
	}
	svc, _, _, _, _ := newService(gw, &stubScorer{}, nil)

	report, err := svc.RunCycle(context.Background(), AccountSpec{
		Account:     domain.Account{Name: "main"},
		InitialGain: 4,
	})
	if err != nil {
		t.Fatal(err)
	}
	if report.Cancelled != 1 || report.Created != 1 {
		t.Fatalf("expected stale offer stepped down, got %+v", report)
	}
	if len(gw.createCalls) != 1 || gw.createCalls[0][0].Gain != 2 {
		t.Fatalf("expected relist at gain 2, got %+v", gw.createCalls)
	}
}

func TestRunCycleLockHeldSkips(t *testing.T) {
	gw := &stubGateway{}
	svc, _, _, _, _ := newService(gw, &stubScorer{}, func(s *CycleService) {
		s.locks = &stubLocks{held: true}
	})

	_, err := svc.RunCycle(context.Background(), AccountSpec{Account: domain.Account{Name: "main"}})
	if !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
	if len(gw.createCalls) != 0 || len(gw.cancelCalls) != 0 {
		t.Fatal("expected no gateway writes while lock held")
	}
}

type stubCalSource struct {
	bins []scoring.Bin
	err  error
}

func (c *stubCalSource) CalibrationBins(context.Context) ([]scoring.Bin, error) {
	return c.bins, c.err
}

func TestRunCycleAppliesCalibration(t *testing.T) {
	sellStart := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	gw := &stubGateway{
		holdings: []domain.Holding{
			{PartID: "p1", Interest: 20, NextPaymentNr: 1, BiddingStartedAt: sellStart.Add(time.Hour)},
		},
	}
	sc := &stubScorer{scores: []float64{0.5}}
	// Bins describing observed = 0.8*predicted + 0.05.
	cal := &stubCalSource{bins: []scoring.Bin{
		{Predicted: 0, Observed: 0.05},
		{Predicted: 0.5, Observed: 0.45},
		{Predicted: 1, Observed: 0.85},
	}}
	svc, _, _, _, _ := newService(gw, sc, func(s *CycleService) {
		s.calSource = cal
	})

	_, err := svc.RunCycle(context.Background(), AccountSpec{
		Account:   domain.Account{Name: "main"},
		SellStart: sellStart,
	})
	if err != nil {
		t.Fatal(err)
	}

	if math.Abs(gw.holdings[0].DefaultProb-0.45) > 1e-9 {
		t.Fatalf("expected calibrated prob 0.45, got %v", gw.holdings[0].DefaultProb)
	}
}
