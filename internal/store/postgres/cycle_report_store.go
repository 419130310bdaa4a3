package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CaoKaiK/bondora/internal/domain"
)

// CycleReportStore implements domain.CycleReportStore using PostgreSQL.
type CycleReportStore struct {
	pool *pgxpool.Pool
}

// NewCycleReportStore creates a new CycleReportStore.
func NewCycleReportStore(pool *pgxpool.Pool) *CycleReportStore {
	return &CycleReportStore{pool: pool}
}

// Insert persists one cycle report.
func (s *CycleReportStore) Insert(ctx context.Context, report domain.CycleReport) error {
	const query = `
		INSERT INTO cycle_reports (id, account, holdings, candidates, live_offers, held, cancelled, created, unsellable, duplicates_dropped, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := s.pool.Exec(ctx, query,
		report.ID, report.Account, report.Holdings, report.Candidates, report.LiveOffers,
		report.Held, report.Cancelled, report.Created, report.Unsellable, report.DuplicatesDropped,
		report.StartedAt, report.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert cycle_report %s: %w", report.ID, err)
	}
	return nil
}

// ListRecent returns the most recent reports for the account, newest first.
func (s *CycleReportStore) ListRecent(ctx context.Context, account string, limit int) ([]domain.CycleReport, error) {
	const query = `
		SELECT id, account, holdings, candidates, live_offers, held, cancelled, created, unsellable, duplicates_dropped, started_at, finished_at
		FROM cycle_reports WHERE account = $1 ORDER BY started_at DESC LIMIT $2`

	rows, err := s.pool.Query(ctx, query, account, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list cycle_reports for %s: %w", account, err)
	}
	defer rows.Close()

	var list []domain.CycleReport
	for rows.Next() {
		var r domain.CycleReport
		if err := rows.Scan(
			&r.ID, &r.Account, &r.Holdings, &r.Candidates, &r.LiveOffers,
			&r.Held, &r.Cancelled, &r.Created, &r.Unsellable, &r.DuplicatesDropped,
			&r.StartedAt, &r.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan cycle_report: %w", err)
		}
		list = append(list, r)
	}
	return list, rows.Err()
}

// Compile-time interface check.
var _ domain.CycleReportStore = (*CycleReportStore)(nil)
