package domain

import "context"

// Account identifies one Bondora investment account and the parameters that
// vary per deployment.
type Account struct {
	// Name is a short operator-chosen label used in logs, lock keys and
	// storage paths.
	Name string
	// Token is the bearer token for the marketplace API.
	Token string
}

// MarketplaceGateway is the boundary to the remote marketplace. The gateway
// owns authentication, pagination and request throttling; callers only
// interpret the typed results. An empty slice is a valid, common response for
// the read calls.
type MarketplaceGateway interface {
	// Holdings returns the account's current loan parts, both listed and
	// unlisted.
	Holdings(ctx context.Context, account Account) ([]Holding, error)

	// LiveOffers returns all currently active sale listings for the account.
	LiveOffers(ctx context.Context, account Account) ([]Offer, error)

	// CancelOffers removes the given live offers. The marketplace rejects
	// oversized batches; callers must split at the configured batch size.
	CancelOffers(ctx context.Context, account Account, offerIDs []string) error

	// CreateOffers lists the given parts for sale. A conflict outcome names
	// exactly one offending part; the returned error is non-nil only for
	// transport-level failures.
	CreateOffers(ctx context.Context, account Account, items []SaleItem) (CreateOutcome, error)
}

// Scorer produces a raw default-probability estimate per holding. The
// statistical model behind it is an external collaborator; this interface is
// all the reconciliation core knows about it.
type Scorer interface {
	// Score returns one probability in [0,1] per holding, in input order.
	Score(ctx context.Context, holdings []Holding) ([]float64, error)
}
