package auction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adweave/aip-coordinator/pkg/ledger"
)

func TestSelectWinner(t *testing.T) {
	t.Run("empty slate has no winner", func(t *testing.T) {
		assert.Nil(t, SelectWinner(nil))
	})

	t.Run("highest price wins", func(t *testing.T) {
		bids := []ledger.BidResponse{
			response("agent-a", "1.75"),
			response("agent-b", "2.50"),
			response("agent-c", "0.10"),
		}

		winner := SelectWinner(bids)
		require.NotNil(t, winner)
		assert.Equal(t, "agent-b", winner.Bidder)
	})

	t.Run("tie breaks toward first accepted", func(t *testing.T) {
		bids := []ledger.BidResponse{
			response("agent-a", "2.50"),
			response("agent-b", "2.50"),
		}

		winner := SelectWinner(bids)
		require.NotNil(t, winner)
		assert.Equal(t, "agent-a", winner.Bidder)
	})
}
