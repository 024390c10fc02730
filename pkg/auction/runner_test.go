package auction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adweave/aip-coordinator/pkg/distribution"
	"github.com/adweave/aip-coordinator/pkg/ledger"
	"github.com/adweave/aip-coordinator/pkg/platform"
	"github.com/adweave/aip-coordinator/pkg/storage"
)

type runnerFixture struct {
	runner    *Runner
	inbox     *Inbox
	store     *storage.MemoryStore
	publisher *distribution.LocalPublisher
}

func newRunnerFixture(t *testing.T, window time.Duration) *runnerFixture {
	t.Helper()

	f := newSubmitFixture(t, "agent-a", "agent-b")
	log := testLogger()
	store := storage.NewMemoryStore(log)
	publisher := distribution.NewLocalPublisher(log)
	ledgerSvc := ledger.NewService(store, log)

	registry := f.service.registry

	return &runnerFixture{
		runner:    NewRunner(ledgerSvc, registry, f.inbox, publisher, window, log),
		inbox:     f.inbox,
		store:     store,
		publisher: publisher,
	}
}

// awaitServeToken polls the store until the runner has created the record.
func (f *runnerFixture) awaitServeToken(t *testing.T) string {
	t.Helper()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		records, err := f.store.ListRecords(context.Background())
		require.NoError(t, err)

		if len(records) > 0 {
			return records[0].ServeToken
		}

		time.Sleep(time.Millisecond)
	}

	t.Fatal("runner never created a ledger record")

	return ""
}

func TestRunnerSettlesSecondPrice(t *testing.T) {
	f := newRunnerFixture(t, 50*time.Millisecond)

	go func() {
		token := f.awaitServeToken(t)

		deadline := time.Now().Add(time.Second)
		for !f.inbox.Active(token) && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}

		_ = f.inbox.Add(token, response("agent-a", "2.50"))
		_ = f.inbox.Add(token, response("agent-b", "1.75"))
	}()

	cr := &platform.ContextRequest{
		RequestID:  "req-1",
		SessionID:  "s1",
		QueryText:  "laptops",
		Categories: []any{"electronics"},
	}

	record, err := f.runner.Run(context.Background(), cr)
	require.NoError(t, err)

	assert.Equal(t, ledger.StateAuctionCompleted, record.State)
	assert.Equal(t, "req-1", record.AuctionID)
	assert.Equal(t, []string{"electronics"}, record.Pools)
	assert.Equal(t, []string{"agent-a", "agent-b"}, record.EligibleBidders)
	assert.Equal(t, "1.7500", record.ClearingPrice)
	assert.Len(t, record.Bids, 2)
	require.NotNil(t, record.Winner)

	// One publish per distinct pool, recorded for audit.
	assert.Equal(t, int64(1), f.publisher.Published())
	assert.Equal(t, []string{"electronics"}, record.PublishedPools)
}

func TestRunnerRecordsNoBid(t *testing.T) {
	f := newRunnerFixture(t, 10*time.Millisecond)

	record, err := f.runner.Run(context.Background(), &platform.ContextRequest{
		SessionID: "s1",
		QueryText: "anything",
	})
	require.NoError(t, err)

	assert.Equal(t, ledger.StateNoBid, record.State)
	assert.True(t, record.NoBid)
	assert.Equal(t, "0.0000", record.ClearingPrice)
	assert.Empty(t, record.Bids)
	assert.Nil(t, record.Winner)
	assert.Equal(t, []string{"default"}, record.Pools)
}

func TestRunnerAbandonedOnCancel(t *testing.T) {
	f := newRunnerFixture(t, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		f.awaitServeToken(t)
		cancel()
	}()

	_, err := f.runner.Run(ctx, &platform.ContextRequest{SessionID: "s1"})
	require.Error(t, err)

	// The record stays CREATED.
	records, listErr := f.store.ListRecords(context.Background())
	require.NoError(t, listErr)
	require.Len(t, records, 1)
	assert.Equal(t, ledger.StateCreated, records[0].State)
}
