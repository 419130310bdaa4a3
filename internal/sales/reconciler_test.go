package sales

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/CaoKaiK/bondora/internal/domain"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeGateway records every call and replays scripted responses.
type fakeGateway struct {
	offers       []domain.Offer
	offersErr    error
	cancelCalls  [][]string
	cancelErr    error
	createCalls  [][]domain.SaleItem
	conflictIDs  []string // one conflict outcome per entry, then accept
	createErr    error
	failedDetail string
}

func (f *fakeGateway) Holdings(ctx context.Context, account domain.Account) ([]domain.Holding, error) {
	return nil, nil
}

func (f *fakeGateway) LiveOffers(ctx context.Context, account domain.Account) ([]domain.Offer, error) {
	return f.offers, f.offersErr
}

func (f *fakeGateway) CancelOffers(ctx context.Context, account domain.Account, offerIDs []string) error {
	ids := make([]string, len(offerIDs))
	copy(ids, offerIDs)
	f.cancelCalls = append(f.cancelCalls, ids)
	return f.cancelErr
}

func (f *fakeGateway) CreateOffers(ctx context.Context, account domain.Account, items []domain.SaleItem) (domain.CreateOutcome, error) {
	batch := make([]domain.SaleItem, len(items))
	copy(batch, items)
	f.createCalls = append(f.createCalls, batch)
	if f.createErr != nil {
		return domain.CreateOutcome{}, f.createErr
	}
	if f.failedDetail != "" {
		return domain.CreateOutcome{Status: domain.CreateFailed, Detail: f.failedDetail}, nil
	}
	if len(f.conflictIDs) > 0 {
		id := f.conflictIDs[0]
		f.conflictIDs = f.conflictIDs[1:]
		return domain.CreateOutcome{Status: domain.CreateConflict, ConflictPartID: id}, nil
	}
	return domain.CreateOutcome{Status: domain.CreateAccepted}, nil
}

func newTestReconciler(gw domain.MarketplaceGateway, now time.Time) *Reconciler {
	r := NewReconciler(gw, Config{}, testLogger)
	r.now = func() time.Time { return now }
	return r
}

var testAccount = domain.Account{Name: "test"}

func TestReconcileNoOp(t *testing.T) {
	gw := &fakeGateway{}
	r := newTestReconciler(gw, time.Now())

	res, err := r.Reconcile(context.Background(), testAccount, nil, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(gw.cancelCalls) != 0 || len(gw.createCalls) != 0 {
		t.Fatalf("expected no cancel/create calls, got %d/%d", len(gw.cancelCalls), len(gw.createCalls))
	}
	if res.Cancelled != 0 || res.Created != 0 {
		t.Fatalf("expected zero counts, got %+v", res)
	}
}

func TestReconcileFreshCandidatesOnly(t *testing.T) {
	gw := &fakeGateway{}
	r := newTestReconciler(gw, time.Now())

	candidates := []domain.Holding{{PartID: "p1"}, {PartID: "p2"}}
	res, err := r.Reconcile(context.Background(), testAccount, candidates, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(gw.cancelCalls) != 0 {
		t.Fatalf("expected no cancels, got %d", len(gw.cancelCalls))
	}
	if len(gw.createCalls) != 1 {
		t.Fatalf("expected 1 create call, got %d", len(gw.createCalls))
	}
	for _, it := range gw.createCalls[0] {
		if it.Gain != 4 {
			t.Fatalf("expected initial gain 4 for %s, got %d", it.PartID, it.Gain)
		}
	}
	if res.Created != 2 {
		t.Fatalf("expected 2 created, got %d", res.Created)
	}
}

func TestReconcileStaleOfferSteppedDown(t *testing.T) {
	now := time.Now()
	gw := &fakeGateway{offers: []domain.Offer{
		{ID: "o1", PartID: "p1", ListedAt: now.Add(-5 * time.Hour), Gain: 3},
		{ID: "o2", PartID: "p2", ListedAt: now.Add(-1 * time.Hour), Gain: 3},
	}}
	r := newTestReconciler(gw, now)

	res, err := r.Reconcile(context.Background(), testAccount, nil, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(gw.cancelCalls) != 1 || len(gw.cancelCalls[0]) != 1 || gw.cancelCalls[0][0] != "o1" {
		t.Fatalf("expected exactly o1 cancelled, got %v", gw.cancelCalls)
	}
	if len(gw.createCalls) != 1 {
		t.Fatalf("expected 1 create call, got %d", len(gw.createCalls))
	}
	created := gw.createCalls[0]
	if len(created) != 1 || created[0].PartID != "p1" || created[0].Gain != 2 {
		t.Fatalf("expected p1 relisted at gain 2, got %v", created)
	}
	if res.Held != 1 {
		t.Fatalf("expected 1 held offer, got %d", res.Held)
	}
}

func TestGainNeverNegative(t *testing.T) {
	now := time.Now()
	gw := &fakeGateway{offers: []domain.Offer{
		{ID: "o1", PartID: "p1", ListedAt: now.Add(-5 * time.Hour), Gain: 1},
	}}
	r := newTestReconciler(gw, now)

	if _, err := r.Reconcile(context.Background(), testAccount, nil, 4); err != nil {
		t.Fatal(err)
	}
	if got := gw.createCalls[0][0].Gain; got != 0 {
		t.Fatalf("expected gain floored at 0, got %d", got)
	}
}

func TestZeroGainStaleOfferStays(t *testing.T) {
	// Regression for the max(0, g-1) == g boundary: a stale offer at gain 0
	// is never re-cancelled and remains on the market.
	now := time.Now()
	gw := &fakeGateway{offers: []domain.Offer{
		{ID: "o1", PartID: "p1", ListedAt: now.Add(-48 * time.Hour), Gain: 0},
	}}
	r := newTestReconciler(gw, now)

	res, err := r.Reconcile(context.Background(), testAccount, nil, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(gw.cancelCalls) != 0 || len(gw.createCalls) != 0 {
		t.Fatalf("zero-gain offer must not be touched, got cancels=%v creates=%v", gw.cancelCalls, gw.createCalls)
	}
	if res.Held != 1 {
		t.Fatalf("expected the offer held, got %+v", res)
	}
}

func TestAdjustedEntryWinsOverCandidate(t *testing.T) {
	now := time.Now()
	gw := &fakeGateway{offers: []domain.Offer{
		{ID: "o1", PartID: "p1", ListedAt: now.Add(-5 * time.Hour), Gain: 3},
	}}
	r := newTestReconciler(gw, now)

	// p1 is both freshly selected and currently being adjusted.
	candidates := []domain.Holding{{PartID: "p1"}, {PartID: "p2"}}
	res, err := r.Reconcile(context.Background(), testAccount, candidates, 4)
	if err != nil {
		t.Fatal(err)
	}
	created := gw.createCalls[0]
	if len(created) != 2 {
		t.Fatalf("expected 2 items, got %v", created)
	}
	if created[0].PartID != "p1" || created[0].Gain != 2 {
		t.Fatalf("expected adjusted p1 at gain 2 first, got %v", created[0])
	}
	if created[1].PartID != "p2" || created[1].Gain != 4 {
		t.Fatalf("expected fresh p2 at gain 4, got %v", created[1])
	}
	if res.Created != 2 {
		t.Fatalf("expected 2 created, got %d", res.Created)
	}
}

func TestBatchSizeBound(t *testing.T) {
	now := time.Now()
	gw := &fakeGateway{}
	r := newTestReconciler(gw, now)

	var candidates []domain.Holding
	for i := 0; i < 250; i++ {
		candidates = append(candidates, domain.Holding{PartID: fmt.Sprintf("p%03d", i)})
	}
	res, err := r.Reconcile(context.Background(), testAccount, candidates, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(gw.createCalls) != 3 {
		t.Fatalf("expected ceil(250/100)=3 create calls, got %d", len(gw.createCalls))
	}
	for i, call := range gw.createCalls {
		if len(call) > 100 {
			t.Fatalf("call %d exceeds batch size: %d items", i, len(call))
		}
	}
	if res.Created != 250 {
		t.Fatalf("expected 250 created, got %d", res.Created)
	}
}

func TestCancelBatchesSplit(t *testing.T) {
	now := time.Now()
	var offers []domain.Offer
	for i := 0; i < 150; i++ {
		offers = append(offers, domain.Offer{
			ID:       fmt.Sprintf("o%03d", i),
			PartID:   fmt.Sprintf("p%03d", i),
			ListedAt: now.Add(-5 * time.Hour),
			Gain:     3,
		})
	}
	gw := &fakeGateway{offers: offers}
	r := newTestReconciler(gw, now)

	res, err := r.Reconcile(context.Background(), testAccount, nil, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(gw.cancelCalls) != 2 {
		t.Fatalf("expected 2 cancel calls, got %d", len(gw.cancelCalls))
	}
	if len(gw.cancelCalls[0]) != 100 || len(gw.cancelCalls[1]) != 50 {
		t.Fatalf("expected 100+50 split, got %d+%d", len(gw.cancelCalls[0]), len(gw.cancelCalls[1]))
	}
	if res.Cancelled != 150 {
		t.Fatalf("expected 150 cancelled, got %d", res.Cancelled)
	}
}

func TestNarrowingRetryTerminates(t *testing.T) {
	gw := &fakeGateway{conflictIDs: []string{"p1", "p3"}}
	r := newTestReconciler(gw, time.Now())

	candidates := []domain.Holding{{PartID: "p1"}, {PartID: "p2"}, {PartID: "p3"}, {PartID: "p4"}}
	res, err := r.Reconcile(context.Background(), testAccount, candidates, 4)
	if err != nil {
		t.Fatal(err)
	}
	// Initial call plus one resubmission per conflict.
	if len(gw.createCalls) != 3 {
		t.Fatalf("expected 3 create calls, got %d", len(gw.createCalls))
	}
	final := gw.createCalls[2]
	if len(final) != 2 || final[0].PartID != "p2" || final[1].PartID != "p4" {
		t.Fatalf("expected final batch without conflicting ids, got %v", final)
	}
	if res.Unsellable != 2 {
		t.Fatalf("expected 2 unsellable, got %d", res.Unsellable)
	}
	if res.Created != 2 {
		t.Fatalf("expected 2 created, got %d", res.Created)
	}
}

func TestConflictRetryBudgetExhausted(t *testing.T) {
	// A conflict naming a part that is not in the batch never shrinks it;
	// the bounded budget must still terminate the loop.
	gw := &fakeGateway{}
	for i := 0; i < 10; i++ {
		gw.conflictIDs = append(gw.conflictIDs, "missing")
	}
	r := NewReconciler(gw, Config{MaxConflictRetries: 3}, testLogger)
	r.now = time.Now

	res, err := r.Reconcile(context.Background(), testAccount, []domain.Holding{{PartID: "p1"}}, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(gw.createCalls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(gw.createCalls))
	}
	if res.Created != 0 {
		t.Fatalf("expected nothing created, got %d", res.Created)
	}
	if res.Unsellable != 4 {
		t.Fatalf("expected 3 conflicts + 1 remaining = 4 unsellable, got %d", res.Unsellable)
	}
}

func TestCreateTransportErrorFailsCycle(t *testing.T) {
	gw := &fakeGateway{createErr: errors.New("connection reset")}
	r := newTestReconciler(gw, time.Now())

	_, err := r.Reconcile(context.Background(), testAccount, []domain.Holding{{PartID: "p1"}}, 4)
	if err == nil {
		t.Fatal("expected transport error to surface")
	}
}

func TestCancelFailureDoesNotAbortCycle(t *testing.T) {
	now := time.Now()
	gw := &fakeGateway{
		offers:    []domain.Offer{{ID: "o1", PartID: "p1", ListedAt: now.Add(-5 * time.Hour), Gain: 3}},
		cancelErr: errors.New("gateway hiccup"),
	}
	r := newTestReconciler(gw, now)

	res, err := r.Reconcile(context.Background(), testAccount, nil, 4)
	if err != nil {
		t.Fatal(err)
	}
	if res.Cancelled != 0 {
		t.Fatalf("failed cancel must not count, got %d", res.Cancelled)
	}
	if len(gw.createCalls) != 1 {
		t.Fatalf("create step should still run, got %d calls", len(gw.createCalls))
	}
}

func TestDedupeKeepsFirst(t *testing.T) {
	items := []domain.SaleItem{
		{PartID: "p1", Gain: 2},
		{PartID: "p2", Gain: 4},
		{PartID: "p1", Gain: 4},
	}
	out, dropped := dedupe(items)
	if dropped != 1 {
		t.Fatalf("expected 1 dropped, got %d", dropped)
	}
	if len(out) != 2 || out[0].PartID != "p1" || out[0].Gain != 2 {
		t.Fatalf("expected first occurrence kept, got %v", out)
	}
}
