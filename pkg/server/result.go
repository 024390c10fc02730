package server

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/adweave/aip-coordinator/pkg/ledger"
)

const (
	defaultTTLMS = 60000
	minTTLMS     = 1000
)

// BuildAuctionResult renders the wire AuctionResult for a settled record.
func BuildAuctionResult(record *ledger.Record) map[string]any {
	result := map[string]any{
		"auction_id":  record.AuctionID,
		"serve_token": record.ServeToken,
		"ttl_ms":      defaultTTLMS,
	}

	if record.NoBid || record.Winner == nil {
		result["no_bid"] = true

		return result
	}

	bid := winningBid(record.Winner)

	result["ttl_ms"] = ttlMS(bid)
	result["winner"] = winnerBlock(record, bid)

	if render := renderBlock(bid); render != nil {
		result["render"] = render
	}

	return result
}

// winningBid unwraps the bid object from the stored winner payload,
// tolerating both full envelopes and bare bids.
func winningBid(winner map[string]any) map[string]any {
	if bid, ok := winner["bid"].(map[string]any); ok {
		return bid
	}

	return winner
}

func winnerBlock(record *ledger.Record, bid map[string]any) map[string]any {
	block := map[string]any{
		"brand_agent_id":        bidderName(bid),
		"preferred_unit":        preferredUnit(bid),
		"reserved_amount_cents": reservedCents(record.ClearingPrice),
	}

	if id, _ := bid["campaign_id"].(string); id != "" {
		block["campaign_id"] = id
	}

	if id, _ := bid["product_id"].(string); id != "" {
		block["product_id"] = id
	}

	return block
}

func bidderName(bid map[string]any) string {
	for _, key := range []string{"brand_agent_id", "bidder_id", "agent_id"} {
		if name, _ := bid[key].(string); name != "" {
			return name
		}
	}

	return ""
}

// preferredUnit reports the billing unit of the price the bid led with,
// matching the derivation order used at submission.
func preferredUnit(bid map[string]any) string {
	if pricing, ok := bid["pricing"].(map[string]any); ok {
		lowered := make(map[string]any, len(pricing))
		for key, value := range pricing {
			lowered[strings.ToLower(key)] = value
		}

		for _, key := range []string{"cpa", "cpc", "cpx"} {
			if value, present := lowered[key]; present && value != nil {
				return strings.ToUpper(key)
			}
		}
	}

	return "CPX"
}

func reservedCents(clearingPrice string) int64 {
	price, err := decimal.NewFromString(clearingPrice)
	if err != nil {
		return 0
	}

	return price.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func ttlMS(bid map[string]any) int {
	ttl := defaultTTLMS

	switch v := bid["ttl_ms"].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			ttl = int(n)
		}
	case float64:
		ttl = int(v)
	case int:
		ttl = v
	}

	if ttl < minTTLMS {
		ttl = minTTLMS
	}

	return ttl
}

// renderBlock shapes the winner's creative for display.
func renderBlock(bid map[string]any) map[string]any {
	offer, ok := bid["offer"].(map[string]any)
	if !ok {
		return nil
	}

	creative, ok := offer["creative_input"].(map[string]any)
	if !ok {
		return nil
	}

	render := map[string]any{"label": "[Ad]"}

	if title, _ := creative["product_name"].(string); title != "" {
		render["title"] = title
	} else if brand, _ := creative["brand_name"].(string); brand != "" {
		render["title"] = brand
	}

	if body := firstString(creative["descriptions"]); body != "" {
		render["body"] = body
	}

	if cta, _ := creative["cta"].(string); cta != "" {
		render["cta"] = cta
	}

	if url, _ := creative["deeplink"].(string); url != "" {
		render["url"] = url
	} else if url := firstString(creative["resource_urls"]); url != "" {
		render["url"] = url
	}

	return render
}

func firstString(v any) string {
	switch list := v.(type) {
	case []any:
		if len(list) > 0 {
			s, _ := list[0].(string)

			return s
		}
	case []string:
		if len(list) > 0 {
			return list[0]
		}
	}

	return ""
}
