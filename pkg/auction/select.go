package auction

import (
	"github.com/adweave/aip-coordinator/pkg/ledger"
)

// SelectWinner picks the highest-priced response. Ties break toward the
// response accepted first, so selection is deterministic for any inbox
// ordering. An empty slate yields no winner.
func SelectWinner(bids []ledger.BidResponse) *ledger.BidResponse {
	if len(bids) == 0 {
		return nil
	}

	winner := bids[0]

	for _, bid := range bids[1:] {
		if bid.Price.GreaterThan(winner.Price) {
			winner = bid
		}
	}

	return &winner
}
