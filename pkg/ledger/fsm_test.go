package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adweave/aip-coordinator/pkg/fault"
)

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from  State
		event Event
		to    State
	}{
		{StateCreated, EventAuctionSettled, StateAuctionCompleted},
		{StateCreated, EventNoBidRecorded, StateNoBid},
		{StateAuctionCompleted, EventEventIngested, StateEventRecorded},
		{StateEventRecorded, EventEventIngested, StateEventRecorded},
	}

	for _, tc := range cases {
		next, err := Transition(tc.from, tc.event)
		require.NoError(t, err)
		assert.Equal(t, tc.to, next)
	}
}

func TestTransitionRejectsEverythingElse(t *testing.T) {
	states := []State{StateCreated, StateAuctionCompleted, StateNoBid, StateEventRecorded}
	events := []Event{EventAuctionSettled, EventNoBidRecorded, EventEventIngested}

	legal := map[State]map[Event]bool{
		StateCreated:          {EventAuctionSettled: true, EventNoBidRecorded: true},
		StateAuctionCompleted: {EventEventIngested: true},
		StateEventRecorded:    {EventEventIngested: true},
	}

	for _, state := range states {
		for _, event := range events {
			if legal[state][event] {
				continue
			}

			_, err := Transition(state, event)
			assert.True(t, fault.IsKind(err, fault.KindInvalidTransition),
				"expected invalid transition from %s via %s", state, event)
		}
	}
}
