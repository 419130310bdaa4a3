package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CaoKaiK/bondora/internal/domain"
)

// ListingEventStore implements domain.ListingEventStore using PostgreSQL.
type ListingEventStore struct {
	pool *pgxpool.Pool
}

// NewListingEventStore creates a new ListingEventStore.
func NewListingEventStore(pool *pgxpool.Pool) *ListingEventStore {
	return &ListingEventStore{pool: pool}
}

// InsertBatch persists the given listing events in one batch round trip.
func (s *ListingEventStore) InsertBatch(ctx context.Context, events []domain.ListingEvent) error {
	if len(events) == 0 {
		return nil
	}

	const query = `
		INSERT INTO listing_events (id, cycle_id, account, action, part_id, offer_id, gain, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(query, e.ID, e.CycleID, e.Account, string(e.Action), e.PartID, e.OfferID, e.Gain, e.CreatedAt)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert listing_events: %w", err)
		}
	}
	return nil
}

// ListByCycle returns all events recorded for one cycle, oldest first.
func (s *ListingEventStore) ListByCycle(ctx context.Context, cycleID string) ([]domain.ListingEvent, error) {
	const query = `
		SELECT id, cycle_id, account, action, part_id, offer_id, gain, created_at
		FROM listing_events WHERE cycle_id = $1 ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, cycleID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list listing_events for %s: %w", cycleID, err)
	}
	defer rows.Close()

	var list []domain.ListingEvent
	for rows.Next() {
		var e domain.ListingEvent
		var action string
		if err := rows.Scan(&e.ID, &e.CycleID, &e.Account, &action, &e.PartID, &e.OfferID, &e.Gain, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan listing_event: %w", err)
		}
		e.Action = domain.ListingAction(action)
		list = append(list, e)
	}
	return list, rows.Err()
}

// Compile-time interface check.
var _ domain.ListingEventStore = (*ListingEventStore)(nil)
