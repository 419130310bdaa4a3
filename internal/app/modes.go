package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/CaoKaiK/bondora/internal/config"
	"github.com/CaoKaiK/bondora/internal/domain"
	"github.com/CaoKaiK/bondora/internal/sales"
	"github.com/CaoKaiK/bondora/internal/service"
)

// LoopMode runs one reconciliation pass immediately and then repeats on the
// scheduler interval until the context is cancelled. One account failing does
// not abort the other accounts or later passes.
func (a *App) LoopMode(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Scheduler.Interval.Duration
	if interval <= 0 {
		interval = 4 * time.Hour
	}

	a.logger.InfoContext(ctx, "starting loop mode",
		slog.Duration("interval", interval))

	// Deployment notice bypasses the event filter; operators want to know
	// about restarts regardless of which cycle events they subscribed to.
	if deps.Notifier != nil {
		_ = deps.Notifier.NotifyAll(ctx, "Sales manager started",
			fmt.Sprintf("loop mode, %d account(s), interval %s", len(a.cfg.Accounts), interval))
	}

	svc := a.buildCycleService(deps)

	var lastDatasetDay string
	pass := func() {
		a.runAllAccounts(ctx, deps, svc)
		// The public dataset only changes daily; archive it once per day.
		if day := time.Now().Format("2006_01_02"); day != lastDatasetDay {
			if err := a.archiveDataset(ctx, deps); err != nil {
				a.logger.WarnContext(ctx, "public dataset archive failed",
					slog.String("error", err.Error()))
			} else {
				lastDatasetDay = day
			}
		}
	}

	pass()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pass()
		}
	}
}

// OnceMode runs a single reconciliation pass over all accounts and returns.
// The pass fails if any account's cycle failed.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting once mode")

	svc := a.buildCycleService(deps)

	g, gctx := errgroup.WithContext(ctx)
	for _, acc := range a.cfg.Accounts {
		spec := accountSpec(acc)
		g.Go(func() error {
			a.logFunds(gctx, deps, spec)
			_, err := svc.RunCycle(gctx, spec)
			if errors.Is(err, domain.ErrLockHeld) {
				a.logger.WarnContext(gctx, "cycle skipped, lock held",
					slog.String("account", spec.Account.Name))
				return nil
			}
			if err != nil {
				return fmt.Errorf("account %s: %w", spec.Account.Name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := a.archiveDataset(ctx, deps); err != nil {
		a.logger.WarnContext(ctx, "public dataset archive failed",
			slog.String("error", err.Error()))
	}
	return nil
}

// recentReportCount bounds how many past cycles ReportMode dumps per account.
const recentReportCount = 10

// ReportMode dumps the most recent persisted cycle reports per account,
// with their listing events, and exits. Requires the Postgres stores.
func (a *App) ReportMode(ctx context.Context, deps *Dependencies) error {
	if deps.CycleReportStore == nil {
		return fmt.Errorf("app: report mode requires postgres")
	}

	for _, acc := range a.cfg.Accounts {
		reports, err := deps.CycleReportStore.ListRecent(ctx, acc.Name, recentReportCount)
		if err != nil {
			return fmt.Errorf("app: list cycle reports for %s: %w", acc.Name, err)
		}
		if len(reports) == 0 {
			a.logger.InfoContext(ctx, "no cycle reports recorded",
				slog.String("account", acc.Name))
			continue
		}

		for _, r := range reports {
			a.logCycleReport(ctx, "cycle report", r)

			if deps.ListingEventStore == nil {
				continue
			}
			events, err := deps.ListingEventStore.ListByCycle(ctx, r.ID)
			if err != nil {
				return fmt.Errorf("app: list listing events for cycle %s: %w", r.ID, err)
			}
			for _, e := range events {
				a.logger.InfoContext(ctx, "listing event",
					slog.String("cycle_id", e.CycleID),
					slog.String("action", string(e.Action)),
					slog.String("part_id", e.PartID),
					slog.String("offer_id", e.OfferID),
					slog.Int("gain", e.Gain))
			}
		}
	}
	return nil
}

// watchReplayCount bounds the stream history replayed when watch mode starts.
const watchReplayCount = 20

// WatchMode tails cycle reports as an observer: it replays the durable
// report stream and then follows live publications until the context ends.
// Useful for watching a deployment from a second shell without touching its
// locks or throttle windows.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting watch mode")

	msgs, err := deps.SignalBus.StreamRead(ctx, service.CycleStream, "0", watchReplayCount)
	if err != nil {
		return fmt.Errorf("app: replay cycle stream: %w", err)
	}
	for _, m := range msgs {
		a.logRawCycleReport(ctx, "replayed cycle report", m.Payload)
	}

	live, err := deps.SignalBus.Subscribe(ctx, service.CycleChannel)
	if err != nil {
		return fmt.Errorf("app: subscribe to cycle reports: %w", err)
	}
	for payload := range live {
		a.logRawCycleReport(ctx, "cycle report", payload)
	}
	return ctx.Err()
}

// logCycleReport logs one cycle report's operational counts.
func (a *App) logCycleReport(ctx context.Context, msg string, r domain.CycleReport) {
	a.logger.InfoContext(ctx, msg,
		slog.String("cycle_id", r.ID),
		slog.String("account", r.Account),
		slog.Int("holdings", r.Holdings),
		slog.Int("candidates", r.Candidates),
		slog.Int("created", r.Created),
		slog.Int("cancelled", r.Cancelled),
		slog.Int("held", r.Held),
		slog.Int("unsellable", r.Unsellable),
		slog.Time("started_at", r.StartedAt))
}

// logRawCycleReport decodes a bus payload and logs it as a cycle report.
func (a *App) logRawCycleReport(ctx context.Context, msg string, payload []byte) {
	var r domain.CycleReport
	if err := json.Unmarshal(payload, &r); err != nil {
		a.logger.WarnContext(ctx, "undecodable cycle report on bus",
			slog.String("error", err.Error()))
		return
	}
	a.logCycleReport(ctx, msg, r)
}

// runAllAccounts runs one cycle per configured account concurrently.
// Failures are logged; the loop keeps going.
func (a *App) runAllAccounts(ctx context.Context, deps *Dependencies, svc *service.CycleService) {
	g, gctx := errgroup.WithContext(ctx)
	for _, acc := range a.cfg.Accounts {
		spec := accountSpec(acc)
		g.Go(func() error {
			a.logFunds(gctx, deps, spec)
			_, err := svc.RunCycle(gctx, spec)
			switch {
			case errors.Is(err, domain.ErrLockHeld):
				a.logger.WarnContext(gctx, "cycle skipped, lock held",
					slog.String("account", spec.Account.Name))
			case err != nil:
				a.logger.ErrorContext(gctx, "cycle failed",
					slog.String("account", spec.Account.Name),
					slog.String("error", err.Error()))
			}
			// Never propagate: one account must not cancel the others.
			return nil
		})
	}
	_ = g.Wait()
}

// logFunds records the account's available funds before its cycle. Best
// effort; a failed balance read never blocks the cycle.
func (a *App) logFunds(ctx context.Context, deps *Dependencies, spec service.AccountSpec) {
	bal, err := deps.Gateway.Balance(ctx, spec.Account)
	if err != nil {
		a.logger.WarnContext(ctx, "balance fetch failed",
			slog.String("account", spec.Account.Name),
			slog.String("error", err.Error()))
		return
	}
	a.logger.InfoContext(ctx, "account funds",
		slog.String("account", spec.Account.Name),
		slog.Float64("total_available", bal.TotalAvailable),
		slog.Float64("reserved", bal.Reserved))
}

// archiveDataset downloads the public loan dataset and uploads the daily
// archive. A no-op unless snapshot storage is wired.
func (a *App) archiveDataset(ctx context.Context, deps *Dependencies) error {
	if deps.Snapshots == nil || len(a.cfg.Accounts) == 0 {
		return nil
	}

	// The dataset is public; any configured account's token works.
	acc := a.cfg.Accounts[0]
	account := domain.Account{Name: acc.Name, Token: acc.Token}

	rows, err := deps.Gateway.PublicDataset(ctx, account)
	if err != nil {
		return fmt.Errorf("download public dataset: %w", err)
	}

	if err := deps.Snapshots.ArchiveDataset(ctx, time.Now(), rows); err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "public dataset archived", slog.Int("rows", len(rows)))
	return nil
}

// buildCycleService assembles the cycle service from the wired dependencies.
func (a *App) buildCycleService(deps *Dependencies) *service.CycleService {
	reconciler := sales.NewReconciler(deps.Gateway, sales.Config{
		StaleAfter:         a.cfg.Sales.StaleAfter.Duration,
		GainStep:           a.cfg.Sales.GainStep,
		BatchSize:          a.cfg.Sales.BatchSize,
		MaxConflictRetries: a.cfg.Sales.MaxConflictRetries,
	}, a.logger)

	// A nil *SnapshotArchiver must not end up as a non-nil interface value.
	var archiver service.HoldingsArchiver
	if deps.Snapshots != nil {
		archiver = deps.Snapshots
	}

	return service.NewCycleService(
		deps.Gateway,
		deps.Scorer,
		deps.Scorer,
		reconciler,
		deps.LockManager,
		deps.CycleReportStore,
		deps.ListingEventStore,
		archiver,
		deps.SignalBus,
		deps.Notifier,
		service.CycleConfig{
			MaxAdjustedInterest: a.cfg.Sales.MaxAdjustedInterest,
			LockTTL:             a.cfg.Scheduler.Interval.Duration,
		},
		a.logger,
	)
}

// accountSpec converts a config account into the service's account spec.
func accountSpec(acc config.AccountConfig) service.AccountSpec {
	return service.AccountSpec{
		Account: domain.Account{
			Name:  acc.Name,
			Token: acc.Token,
		},
		SellStart:   acc.SellStart,
		InitialGain: acc.InitialGain,
	}
}
