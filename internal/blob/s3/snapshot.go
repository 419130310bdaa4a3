package s3blob

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/CaoKaiK/bondora/internal/domain"
)

// datasetPartSize is the multipart chunk size used for public dataset
// archives, which run to hundreds of megabytes uncompressed.
const datasetPartSize int64 = 8 * 1024 * 1024

// SnapshotArchiver uploads per-cycle holding snapshots and the daily public
// loan dataset as gzipped JSON objects. Snapshots are keyed by account and
// date so one object per account per day is kept; later cycles on the same
// day overwrite the earlier snapshot.
type SnapshotArchiver struct {
	writer domain.BlobWriter
}

// NewSnapshotArchiver creates a new SnapshotArchiver on top of the given
// blob writer.
func NewSnapshotArchiver(writer domain.BlobWriter) *SnapshotArchiver {
	return &SnapshotArchiver{writer: writer}
}

// holdingRecord is the serialised form of one holding in a snapshot.
type holdingRecord struct {
	PartID           string     `json:"part_id"`
	LoanID           string     `json:"loan_id"`
	Interest         float64    `json:"interest"`
	NextPaymentNr    int        `json:"next_payment_nr"`
	BiddingStartedAt time.Time  `json:"bidding_started_at"`
	DefaultProb      float64    `json:"default_prob"`
	AdjustedInterest float64    `json:"adjusted_interest"`
	ListedSince      *time.Time `json:"listed_since,omitempty"`
}

// ArchiveHoldings uploads the scored holdings of one account as a gzipped
// JSON snapshot at snapshots/<account>/<yyyy_mm_dd>.json.gz.
func (a *SnapshotArchiver) ArchiveHoldings(ctx context.Context, account string, day time.Time, holdings []domain.Holding) error {
	records := make([]holdingRecord, 0, len(holdings))
	for _, h := range holdings {
		records = append(records, holdingRecord{
			PartID:           h.PartID,
			LoanID:           h.LoanID,
			Interest:         h.Interest,
			NextPaymentNr:    h.NextPaymentNr,
			BiddingStartedAt: h.BiddingStartedAt,
			DefaultProb:      h.DefaultProb,
			AdjustedInterest: h.AdjustedInterest,
			ListedSince:      h.ListedSince,
		})
	}

	buf, err := marshalGzippedJSON(records)
	if err != nil {
		return fmt.Errorf("s3blob: snapshot holdings marshal: %w", err)
	}

	path := snapshotPath(account, day)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/gzip"); err != nil {
		return fmt.Errorf("s3blob: snapshot holdings upload: %w", err)
	}

	return nil
}

// ArchiveDataset uploads the daily public loan dataset as gzipped JSON rows
// at datasets/<yyyy_mm_dd>.json.gz using a multipart upload.
func (a *SnapshotArchiver) ArchiveDataset(ctx context.Context, day time.Time, rows []json.RawMessage) error {
	buf, err := marshalGzippedJSON(rows)
	if err != nil {
		return fmt.Errorf("s3blob: dataset marshal: %w", err)
	}

	path := datasetPath(day)
	if err := a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), datasetPartSize); err != nil {
		return fmt.Errorf("s3blob: dataset upload: %w", err)
	}

	return nil
}

// snapshotPath builds the object key for a holdings snapshot.
//
//	snapshots/main/2021_05_01.json.gz
func snapshotPath(account string, day time.Time) string {
	return fmt.Sprintf("snapshots/%s/%s.json.gz", account, day.Format("2006_01_02"))
}

// datasetPath builds the object key for a public dataset archive.
//
//	datasets/2021_05_01.json.gz
func datasetPath(day time.Time) string {
	return fmt.Sprintf("datasets/%s.json.gz", day.Format("2006_01_02"))
}

// marshalGzippedJSON serialises v as compact JSON and gzips the result.
func marshalGzippedJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)

	enc := json.NewEncoder(gz)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("json encode: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}

	return buf.Bytes(), nil
}
