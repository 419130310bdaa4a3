package domain

import (
	"context"
	"io"
)

// CycleReportStore persists per-cycle operational counts.
type CycleReportStore interface {
	Insert(ctx context.Context, report CycleReport) error
	ListRecent(ctx context.Context, account string, limit int) ([]CycleReport, error)
}

// ListingEventStore persists an append-only log of listings created and
// offers cancelled.
type ListingEventStore interface {
	InsertBatch(ctx context.Context, events []ListingEvent) error
	ListByCycle(ctx context.Context, cycleID string) ([]ListingEvent, error)
}

// BlobWriter uploads objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}
