// Package domain defines the core entities of the Bondora sales manager and
// the interfaces through which the rest of the application reaches external
// systems (marketplace, scoring service, Postgres, Redis, blob storage).
package domain

import "time"

// Holding is a loan part owned by the account, snapshotted once per cycle.
type Holding struct {
	// PartID is the marketplace identifier of the loan part (LoanPartId).
	PartID string
	// LoanID identifies the parent loan.
	LoanID string
	// Interest is the nominal annual interest rate in percent.
	Interest float64
	// NextPaymentNr is the position in the payment schedule; 1 means the
	// first scheduled payment has not been made yet.
	NextPaymentNr int
	// BiddingStartedAt is when the original bid on the loan part was placed.
	BiddingStartedAt time.Time
	// DefaultProb is the calibrated default probability in [0,1], assigned
	// by the scoring collaborator each cycle.
	DefaultProb float64
	// AdjustedInterest is the risk-adjusted yield in percent, derived from
	// Interest and DefaultProb. It is recomputed every cycle and never set
	// directly.
	AdjustedInterest float64
	// ListedSince is set iff the part is currently offered on the secondary
	// market.
	ListedSince *time.Time
}

// Listed reports whether the holding currently has a live sale offer.
func (h Holding) Listed() bool {
	return h.ListedSince != nil
}
