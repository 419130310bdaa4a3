package sales

import (
	"time"

	"github.com/CaoKaiK/bondora/internal/domain"
)

// adjustment pairs a stale offer with its stepped-down gain.
type adjustment struct {
	OfferID string
	Item    domain.SaleItem
}

// adjustGains walks the live offers and steps the gain down by gainStep for
// every offer listed longer than staleAfter, flooring at zero. Only offers
// whose gain strictly decreased are returned for cancel-and-relist; a stale
// offer already at gain zero steps to max(0,-1)=0, never changes, and so is
// left on the market indefinitely. Offers under the age threshold are counted
// as held and excluded from both the cancel and create sets.
func adjustGains(offers []domain.Offer, now time.Time, staleAfter time.Duration, gainStep int) (adjusted []adjustment, held int) {
	for _, o := range offers {
		if now.Sub(o.ListedAt) <= staleAfter {
			held++
			continue
		}
		newGain := o.Gain - gainStep
		if newGain < 0 {
			newGain = 0
		}
		if newGain == o.Gain {
			held++
			continue
		}
		adjusted = append(adjusted, adjustment{
			OfferID: o.ID,
			Item:    domain.SaleItem{PartID: o.PartID, Gain: newGain},
		})
	}
	return adjusted, held
}

// mergeCandidates appends fresh candidates (at the initial gain) to the
// adjusted items. A candidate whose part is already among the adjusted set is
// dropped: the existing offer's decremented gain wins over treating the part
// as a brand-new listing.
func mergeCandidates(adjusted []adjustment, candidates []domain.Holding, initialGain int) []domain.SaleItem {
	items := make([]domain.SaleItem, 0, len(adjusted)+len(candidates))
	inAdjusted := make(map[string]bool, len(adjusted))
	for _, a := range adjusted {
		items = append(items, a.Item)
		inAdjusted[a.Item.PartID] = true
	}
	for _, c := range candidates {
		if inAdjusted[c.PartID] {
			continue
		}
		items = append(items, domain.SaleItem{PartID: c.PartID, Gain: initialGain})
	}
	return items
}

// dedupe removes duplicate part ids from the merged set, keeping the first
// occurrence, and reports how many entries were dropped.
func dedupe(items []domain.SaleItem) ([]domain.SaleItem, int) {
	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, it := range items {
		if seen[it.PartID] {
			continue
		}
		seen[it.PartID] = true
		out = append(out, it)
	}
	return out, len(items) - len(out)
}

// chunk splits items into consecutive slices of at most size elements.
func chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
