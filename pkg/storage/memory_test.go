package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adweave/aip-coordinator/pkg/ledger"
	"github.com/adweave/aip-coordinator/pkg/weave"
)

func newTestMemoryStore() *MemoryStore {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	return NewMemoryStore(log)
}

func TestMemoryStoreRecordLifecycle(t *testing.T) {
	store := newTestMemoryStore()
	ctx := context.Background()

	record := &ledger.Record{ServeToken: "stk_1", AuctionID: "a1", State: ledger.StateCreated}
	require.NoError(t, store.CreateRecord(ctx, record))

	// Duplicate token is rejected.
	require.Error(t, store.CreateRecord(ctx, record))

	got, err := store.GetRecord(ctx, "stk_1")
	require.NoError(t, err)
	assert.Equal(t, "a1", got.AuctionID)

	// Mutating the returned copy does not touch the store.
	got.AuctionID = "mutated"
	again, err := store.GetRecord(ctx, "stk_1")
	require.NoError(t, err)
	assert.Equal(t, "a1", again.AuctionID)

	_, err = store.GetRecord(ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	updated, err := store.UpdateRecord(ctx, "stk_1", func(r *ledger.Record) error {
		r.State = ledger.StateNoBid
		r.NoBid = true

		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.StateNoBid, updated.State)

	// A failing mutator leaves the record untouched.
	_, err = store.UpdateRecord(ctx, "stk_1", func(*ledger.Record) error {
		return errors.New("boom")
	})
	require.Error(t, err)

	final, err := store.GetRecord(ctx, "stk_1")
	require.NoError(t, err)
	assert.True(t, final.NoBid)

	records, err := store.ListRecords(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestMemoryStoreRecommendationConditionalInsert(t *testing.T) {
	store := newTestMemoryStore()
	ctx := context.Background()

	rec := &weave.Recommendation{SessionID: "s", MessageID: "m", Status: weave.StatusInProgress}
	require.NoError(t, store.CreateRecommendation(ctx, rec))

	err := store.CreateRecommendation(ctx, rec)
	assert.ErrorIs(t, err, weave.ErrAlreadyExists)

	_, err = store.GetRecommendation(ctx, "s", "other")
	assert.ErrorIs(t, err, weave.ErrNotFound)

	updated, err := store.UpdateRecommendation(ctx, "s", "m", func(r *weave.Recommendation) error {
		r.Status = weave.StatusCompleted
		r.WeaveContent = "[Ad] Widget"

		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, weave.StatusCompleted, updated.Status)

	got, err := store.GetRecommendation(ctx, "s", "m")
	require.NoError(t, err)
	assert.Equal(t, "[Ad] Widget", got.WeaveContent)
}
