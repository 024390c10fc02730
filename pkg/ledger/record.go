// Package ledger maintains the tamper-evident auction ledger: record
// lifecycle, state transitions, event recording under the single-charge rule,
// and clearing-price computation.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/adweave/aip-coordinator/pkg/platform"
)

// State is the lifecycle state of a ledger record.
type State string

const (
	// StateCreated is the initial state of every record.
	StateCreated State = "created"
	// StateAuctionCompleted means the auction settled with a winner.
	StateAuctionCompleted State = "auction_completed"
	// StateNoBid means the window closed with no responses. Terminal.
	StateNoBid State = "no_bid"
	// StateEventRecorded means at least one billing event has been appended.
	StateEventRecorded State = "event_recorded"
)

// Record is the ledger document keyed by serve token.
type Record struct {
	ServeToken      string                   `json:"serve_token"`
	AuctionID       string                   `json:"auction_id"`
	State           State                    `json:"state"`
	Context         *platform.ContextRequest `json:"context"`
	Pools           []string                 `json:"pools"`
	EligibleBidders []string                 `json:"eligible_bidders"`
	PublishedPools  []string                 `json:"published_pools,omitempty"`
	Bids            []map[string]any         `json:"bids"`
	Winner          map[string]any           `json:"winner"`
	ClearingPrice   string                   `json:"clearing_price,omitempty"`
	NoBid           bool                     `json:"no_bid"`
	Events          []map[string]any         `json:"events"`
	CreatedAt       time.Time                `json:"created_at"`
	UpdatedAt       time.Time                `json:"updated_at"`
}

// BidResponse is an in-flight bid: the verified envelope plus the price
// derived from it.
type BidResponse struct {
	Bidder  string
	Payload map[string]any
	Price   decimal.Decimal
}
