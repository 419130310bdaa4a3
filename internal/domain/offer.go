package domain

import "time"

// Offer is a live sale listing on the secondary market. Offers are immutable
// once placed; a gain change is always a cancel followed by a fresh listing.
type Offer struct {
	// ID is the marketplace-assigned offer identifier.
	ID string
	// PartID references the listed loan part. The marketplace enforces at
	// most one live offer per part.
	PartID string
	// ListedAt is when the offer went live.
	ListedAt time.Time
	// Gain is the discount/premium percentage currently requested.
	Gain int
}

// SaleItem is one outgoing sell request: list the part at the given gain.
type SaleItem struct {
	PartID string
	Gain   int
}

// CreateStatus classifies the outcome of a create-offers call.
type CreateStatus string

const (
	// CreateAccepted means the whole batch was listed.
	CreateAccepted CreateStatus = "accepted"
	// CreateConflict means the marketplace rejected the batch because one
	// named part is unavailable; the batch can be resubmitted without it.
	CreateConflict CreateStatus = "conflict"
	// CreateFailed means the call failed for any other reason.
	CreateFailed CreateStatus = "failed"
)

// CreateOutcome is the typed result of MarketplaceGateway.CreateOffers. It
// replaces status-code branching so callers can switch on Status directly.
type CreateOutcome struct {
	Status CreateStatus
	// ConflictPartID names the offending part when Status is CreateConflict.
	ConflictPartID string
	// Detail carries the marketplace error text when Status is CreateFailed.
	Detail string
}

// CycleReport summarises one reconciliation cycle for one account. It is the
// operational record persisted per cycle and published on the signal bus.
type CycleReport struct {
	ID         string
	Account    string
	Holdings   int
	Candidates int
	LiveOffers int
	Held       int
	Cancelled  int
	Created    int
	Unsellable int
	// DuplicatesDropped counts merged entries removed by de-duplication.
	DuplicatesDropped int
	StartedAt         time.Time
	FinishedAt        time.Time
}

// ListingAction distinguishes listing-event rows.
type ListingAction string

const (
	ListingCreated   ListingAction = "created"
	ListingCancelled ListingAction = "cancelled"
)

// ListingEvent is one append-only audit row: a part was listed or an offer
// was cancelled during a cycle.
type ListingEvent struct {
	ID      string
	CycleID string
	Account string
	Action  ListingAction
	// PartID is set for created listings, OfferID for cancellations.
	PartID    string
	OfferID   string
	Gain      int
	CreatedAt time.Time
}
