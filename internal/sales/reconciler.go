package sales

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/CaoKaiK/bondora/internal/domain"
)

// Config holds the reconciliation policy parameters.
type Config struct {
	// StaleAfter is how long an offer may sit unsold before its gain is
	// stepped down.
	StaleAfter time.Duration
	// GainStep is the per-adjustment gain decrement.
	GainStep int
	// BatchSize caps the items per cancel/create call; the marketplace
	// rejects oversized batches.
	BatchSize int
	// MaxConflictRetries bounds the narrowing retry loop per create batch.
	MaxConflictRetries int
}

// Result carries the per-cycle reconciliation counts plus the concrete
// listing changes, for the audit log.
type Result struct {
	LiveOffers        int
	Held              int
	Cancelled         int
	Created           int
	Unsellable        int
	DuplicatesDropped int

	CancelledOffers []string
	CreatedItems    []domain.SaleItem
}

// Reconciler decides, each cycle, the full action set against the live
// marketplace state: which stale offers to cancel, which parts to (re)list at
// which gain, batched and de-duplicated.
type Reconciler struct {
	gw     domain.MarketplaceGateway
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewReconciler creates a Reconciler talking to the given gateway.
func NewReconciler(gw domain.MarketplaceGateway, cfg Config, logger *slog.Logger) *Reconciler {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 4 * time.Hour
	}
	if cfg.GainStep <= 0 {
		cfg.GainStep = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxConflictRetries <= 0 {
		cfg.MaxConflictRetries = 99
	}
	return &Reconciler{
		gw:     gw,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "reconciler")),
		now:    time.Now,
	}
}

// Reconcile runs one reconciliation pass for the account: fetch live offers,
// step down stale gains, cancel the adjusted offers, merge in the fresh
// candidates at initialGain, and submit the de-duplicated create set. Zero
// work means zero gateway writes; an empty merged set issues no create call.
func (r *Reconciler) Reconcile(ctx context.Context, account domain.Account, candidates []domain.Holding, initialGain int) (Result, error) {
	var res Result

	offers, err := r.gw.LiveOffers(ctx, account)
	if err != nil {
		return res, fmt.Errorf("sales: list live offers: %w", err)
	}
	res.LiveOffers = len(offers)

	adjusted, held := adjustGains(offers, r.now(), r.cfg.StaleAfter, r.cfg.GainStep)
	res.Held = held

	r.cancelAdjusted(ctx, account, adjusted, &res)

	items := mergeCandidates(adjusted, candidates, initialGain)
	items, res.DuplicatesDropped = dedupe(items)
	if res.DuplicatesDropped > 0 {
		r.logger.WarnContext(ctx, "removed duplicate sale items",
			slog.String("account", account.Name),
			slog.Int("count", res.DuplicatesDropped),
		)
	}
	if len(items) == 0 {
		r.logger.InfoContext(ctx, "no items to sell", slog.String("account", account.Name))
		return res, nil
	}

	if err := verifyUnique(items); err != nil {
		return res, fmt.Errorf("sales: create set for %s: %w", account.Name, err)
	}

	for _, batch := range chunk(items, r.cfg.BatchSize) {
		created, unsellable, err := r.createBatch(ctx, account, batch)
		if err != nil {
			return res, err
		}
		res.Created += len(created)
		res.Unsellable += unsellable
		res.CreatedItems = append(res.CreatedItems, created...)
	}

	return res, nil
}

// cancelAdjusted cancels all adjusted offers in bounded batches. Individual
// batch failures are logged and accumulated without aborting the cycle: the
// narrowing retry on the create side resolves any offer left live.
func (r *Reconciler) cancelAdjusted(ctx context.Context, account domain.Account, adjusted []adjustment, res *Result) {
	if len(adjusted) == 0 {
		r.logger.InfoContext(ctx, "no items to cancel", slog.String("account", account.Name))
		return
	}

	ids := make([]string, len(adjusted))
	for i, a := range adjusted {
		ids[i] = a.OfferID
	}

	for _, batch := range chunk(ids, r.cfg.BatchSize) {
		if err := r.gw.CancelOffers(ctx, account, batch); err != nil {
			r.logger.WarnContext(ctx, "cancel batch failed",
				slog.String("account", account.Name),
				slog.Int("size", len(batch)),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.Cancelled += len(batch)
		res.CancelledOffers = append(res.CancelledOffers, batch...)
	}
}

// createBatch submits one create batch with idempotent-narrowing retry: a
// conflict outcome names exactly one offending part, which is removed before
// resubmitting, so every retry strictly shrinks the batch and the loop
// terminates within min(MaxConflictRetries, len(batch)) iterations. Conflicts
// and an exhausted retry budget count as un-sellable items, not cycle
// failures; only transport-level errors propagate.
func (r *Reconciler) createBatch(ctx context.Context, account domain.Account, batch []domain.SaleItem) (created []domain.SaleItem, unsellable int, err error) {
	for attempt := 0; attempt < r.cfg.MaxConflictRetries; attempt++ {
		if len(batch) == 0 {
			return nil, unsellable, nil
		}

		outcome, err := r.gw.CreateOffers(ctx, account, batch)
		if err != nil {
			return nil, unsellable, fmt.Errorf("sales: create offers: %w", err)
		}

		switch outcome.Status {
		case domain.CreateAccepted:
			if unsellable > 0 {
				r.logger.InfoContext(ctx, "some items could not be sold",
					slog.String("account", account.Name),
					slog.Int("count", unsellable),
				)
			}
			return batch, unsellable, nil
		case domain.CreateConflict:
			batch = removePart(batch, outcome.ConflictPartID)
			unsellable++
		default:
			return nil, unsellable, fmt.Errorf("sales: create offers rejected: %s", outcome.Detail)
		}
	}

	unsellable += len(batch)
	r.logger.WarnContext(ctx, "conflict retry budget exhausted, giving up on batch",
		slog.String("account", account.Name),
		slog.Int("remaining", len(batch)),
		slog.Int("unsellable", unsellable),
	)
	return nil, unsellable, nil
}

// removePart returns items without the entry for partID.
func removePart(items []domain.SaleItem, partID string) []domain.SaleItem {
	out := items[:0]
	for _, it := range items {
		if it.PartID == partID {
			continue
		}
		out = append(out, it)
	}
	return out
}

// verifyUnique is the defensive invariant check before submission: a
// duplicate surviving de-duplication aborts the create step rather than risk
// a rejected or duplicated listing.
func verifyUnique(items []domain.SaleItem) error {
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		if seen[it.PartID] {
			return domain.ErrDuplicateParts
		}
		seen[it.PartID] = true
	}
	return nil
}
