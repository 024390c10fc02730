package ledger

import (
	"github.com/adweave/aip-coordinator/pkg/fault"
)

// Event drives a ledger state transition.
type Event string

const (
	// EventAuctionSettled closes an auction with at least one bid.
	EventAuctionSettled Event = "auction_settled"
	// EventNoBidRecorded closes an auction with no bids.
	EventNoBidRecorded Event = "no_bid_recorded"
	// EventEventIngested appends a billing event.
	EventEventIngested Event = "event_ingested"
)

var transitions = map[State]map[Event]State{
	StateCreated: {
		EventAuctionSettled: StateAuctionCompleted,
		EventNoBidRecorded:  StateNoBid,
	},
	StateAuctionCompleted: {
		EventEventIngested: StateEventRecorded,
	},
	StateEventRecorded: {
		EventEventIngested: StateEventRecorded,
	},
}

// Transition returns the state that follows current on event. Every pair not
// in the table is rejected.
func Transition(current State, event Event) (State, error) {
	if next, ok := transitions[current][event]; ok {
		return next, nil
	}

	return "", fault.New(fault.KindInvalidTransition, "invalid transition from %s via %s", current, event)
}
