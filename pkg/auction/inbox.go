// Package auction implements the bid distribution and collection engine:
// the per-auction response inbox, pool classification, the signed submission
// pipeline, second-price winner selection, and the runner that ties them to
// the ledger.
package auction

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/adweave/aip-coordinator/pkg/fault"
	"github.com/adweave/aip-coordinator/pkg/ledger"
)

// Inbox gates bid responses per auction: an allow-list set at registration
// and a FIFO of accepted responses, both behind one mutex. The collection
// sleep happens outside the lock so submissions are never blocked by the
// runner.
type Inbox struct {
	log logrus.FieldLogger

	mu      sync.Mutex
	allowed map[string]map[string]struct{}
	pending map[string][]ledger.BidResponse
}

// NewInbox creates an empty inbox.
func NewInbox(log logrus.FieldLogger) *Inbox {
	return &Inbox{
		log:     log.WithField("component", "inbox"),
		allowed: make(map[string]map[string]struct{}),
		pending: make(map[string][]ledger.BidResponse),
	}
}

// Register opens the auction: only the named bidders may add responses until
// Collect drains it.
func (i *Inbox) Register(auctionID string, bidders []string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	allowed := make(map[string]struct{}, len(bidders))
	for _, name := range bidders {
		allowed[name] = struct{}{}
	}

	i.allowed[auctionID] = allowed
	i.pending[auctionID] = nil
}

// Add appends a response to an open auction. Closed auctions and bidders
// outside the allow-list are rejected.
func (i *Inbox) Add(auctionID string, response ledger.BidResponse) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	allowed, open := i.allowed[auctionID]
	if !open {
		return fault.New(fault.KindAuctionNotActive, "auction %q is not accepting responses", auctionID)
	}

	if _, ok := allowed[response.Bidder]; !ok {
		return fault.New(fault.KindNotSubscribed, "bidder %q is not subscribed to auction %q", response.Bidder, auctionID)
	}

	i.pending[auctionID] = append(i.pending[auctionID], response)

	return nil
}

// Collect sleeps for the auction window, then atomically drains the response
// list and discards the allow-list. Concurrent Adds during the window are
// accepted; Adds after Collect returns get AuctionNotActive. A canceled
// context closes the auction early and returns the context error.
func (i *Inbox) Collect(ctx context.Context, auctionID string, window time.Duration) ([]ledger.BidResponse, error) {
	timer := time.NewTimer(window)
	defer timer.Stop()

	var canceled error

	select {
	case <-timer.C:
	case <-ctx.Done():
		canceled = ctx.Err()
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	responses := i.pending[auctionID]
	delete(i.pending, auctionID)
	delete(i.allowed, auctionID)

	if canceled != nil {
		return nil, canceled
	}

	return responses, nil
}

// Active reports whether the auction is still accepting responses.
func (i *Inbox) Active(auctionID string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	_, open := i.allowed[auctionID]

	return open
}
