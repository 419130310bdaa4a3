package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/CaoKaiK/bondora/internal/blob/s3"
	"github.com/CaoKaiK/bondora/internal/cache/redis"
	"github.com/CaoKaiK/bondora/internal/config"
	"github.com/CaoKaiK/bondora/internal/domain"
	"github.com/CaoKaiK/bondora/internal/notify"
	"github.com/CaoKaiK/bondora/internal/platform/bondora"
	"github.com/CaoKaiK/bondora/internal/platform/scorer"
	"github.com/CaoKaiK/bondora/internal/store/postgres"
)

// Dependencies bundles every concrete collaborator the application modes need.
// It is constructed by Wire and torn down by the returned cleanup function.
// The store and snapshot fields stay nil when their backing service is not
// configured; the cycle service skips the corresponding side effects.
type Dependencies struct {
	// Marketplace and scoring
	Gateway *bondora.Client
	Scorer  *scorer.Client

	// Redis-backed coordination
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Persistence
	CycleReportStore  domain.CycleReportStore
	ListingEventStore domain.ListingEventStore

	// Blob storage
	BlobWriter domain.BlobWriter
	Snapshots  *s3blob.SnapshotArchiver

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that must
// be called on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Redis (required: cool-down limiter, account locks, signal bus) ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- Marketplace gateway and scoring client ---
	deps.Gateway = bondora.NewClient(bondora.Config{
		BaseURL:         cfg.Bondora.BaseURL,
		PageSize:        cfg.Bondora.PageSize,
		Timeout:         cfg.Bondora.Timeout.Duration,
		RequestCooldown: cfg.Bondora.RequestCooldown.Duration,
	}, deps.RateLimiter, logger)

	deps.Scorer = scorer.NewClient(scorer.Config{
		BaseURL: cfg.Scoring.ServiceURL,
		Timeout: cfg.Scoring.Timeout.Duration,
	})

	// --- PostgreSQL (optional; set postgres.host = "" to run without it) ---
	if cfg.Postgres.DSN != "" || cfg.Postgres.Host != "" {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.CycleReportStore = postgres.NewCycleReportStore(pool)
		deps.ListingEventStore = postgres.NewListingEventStore(pool)
	}

	// --- S3 blob storage (optional; gated by snapshots_enabled) ---
	if cfg.S3.SnapshotsEnabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Snapshots = s3blob.NewSnapshotArchiver(deps.BlobWriter)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
