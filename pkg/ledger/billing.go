package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Billing priorities per event type. The legacy unprefixed names are accepted
// as aliases.
var eventPriorities = map[string]int{
	"cpx_exposure":   0,
	"exposure":       0,
	"cpc_click":      1,
	"click":          1,
	"cpa_conversion": 2,
	"conversion":     2,
}

// EventPriority returns the billing priority of an event type.
func EventPriority(eventType string) (int, bool) {
	p, ok := eventPriorities[eventType]

	return p, ok
}

// MaxRecordedPriority returns the highest priority among recorded events, or
// -1 when none are recorded.
func MaxRecordedPriority(events []map[string]any) int {
	maxPriority := -1

	for _, event := range events {
		eventType, _ := event["event_type"].(string)
		if p, ok := EventPriority(eventType); ok && p > maxPriority {
			maxPriority = p
		}
	}

	return maxPriority
}

// ClearingPrice computes what the winner pays: the second-highest price when
// two or more bids were received, the winner's own price for a lone bid, and
// zero when there is no winner.
func ClearingPrice(bids []BidResponse, winner *BidResponse) decimal.Decimal {
	if winner == nil {
		return decimal.Zero
	}

	if len(bids) < 2 {
		return winner.Price
	}

	sorted := make([]BidResponse, len(bids))
	copy(sorted, bids)

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Price.GreaterThan(sorted[j].Price)
	})

	return sorted[1].Price
}

// FormatPrice renders a price in the fixed 4-decimal wire form.
func FormatPrice(price decimal.Decimal) string {
	return price.StringFixed(4)
}
