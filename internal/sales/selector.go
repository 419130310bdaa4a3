// Package sales holds the secondary-market core: the candidate selector that
// decides which holdings are eligible for sale, and the reconciler that syncs
// the decided state against the live offers on the marketplace.
package sales

import (
	"time"

	"github.com/CaoKaiK/bondora/internal/domain"
)

// SelectorConfig holds the per-account eligibility parameters.
type SelectorConfig struct {
	// SellStart excludes holdings bid before this instant (cutover marker:
	// older parts were bought under a different policy and are kept).
	SellStart time.Time
	// MaxAdjustedInterest is the percent ceiling; only holdings whose
	// risk-adjusted yield falls below it are worth selling.
	MaxAdjustedInterest float64
}

// SelectCandidates filters holdings down to those eligible for sale: not
// already listed, bid after the cutover, exactly one payment into the
// schedule (freshly originated, not yet amortizing), and with an adjusted
// interest below the ceiling. Output preserves input order.
func SelectCandidates(holdings []domain.Holding, cfg SelectorConfig) []domain.Holding {
	var out []domain.Holding
	for _, h := range holdings {
		if h.Listed() {
			continue
		}
		if !h.BiddingStartedAt.After(cfg.SellStart) {
			continue
		}
		if h.NextPaymentNr != 1 {
			continue
		}
		if h.AdjustedInterest >= cfg.MaxAdjustedInterest {
			continue
		}
		out = append(out, h)
	}
	return out
}
