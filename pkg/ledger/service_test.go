package ledger

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adweave/aip-coordinator/pkg/fault"
	"github.com/adweave/aip-coordinator/pkg/platform"
)

// fakeStore is a minimal in-process Store for service tests.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*Record)}
}

func (s *fakeStore) clone(record *Record) *Record {
	raw, _ := json.Marshal(record)

	var out Record

	_ = json.Unmarshal(raw, &out)

	return &out
}

func (s *fakeStore) CreateRecord(_ context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[record.ServeToken] = s.clone(record)

	return nil
}

func (s *fakeStore) GetRecord(_ context.Context, serveToken string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[serveToken]
	if !ok {
		return nil, ErrNotFound
	}

	return s.clone(record), nil
}

func (s *fakeStore) UpdateRecord(_ context.Context, serveToken string, mutate func(*Record) error) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[serveToken]
	if !ok {
		return nil, ErrNotFound
	}

	working := s.clone(record)
	if err := mutate(working); err != nil {
		return nil, err
	}

	s.records[serveToken] = working

	return s.clone(working), nil
}

func (s *fakeStore) ListRecords(_ context.Context) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Record, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, s.clone(record))
	}

	return out, nil
}

func newTestService() (*Service, *fakeStore) {
	store := newFakeStore()

	return NewService(store, logrus.New()), store
}

func testContext() *platform.ContextRequest {
	return &platform.ContextRequest{
		RequestID: "req-1",
		SessionID: "sess-1",
		QueryText: "lamp",
	}
}

func TestCreateRecordDefaults(t *testing.T) {
	svc, _ := newTestService()

	record, err := svc.Create(context.Background(), testContext())
	require.NoError(t, err)

	assert.Equal(t, "req-1", record.AuctionID)
	assert.Equal(t, StateCreated, record.State)
	assert.True(t, strings.HasPrefix(record.ServeToken, "stk_"))
	assert.Len(t, record.ServeToken, 4+32)
	assert.Empty(t, record.Bids)
	assert.Empty(t, record.Events)
	assert.False(t, record.NoBid)
}

func TestCreateRecordUsesTokenHint(t *testing.T) {
	svc, _ := newTestService()

	cr := testContext()
	cr.ServeTokenHint = "hint"

	record, err := svc.Create(context.Background(), cr)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(record.ServeToken, "hint-"))
	assert.Len(t, record.ServeToken, len("hint-")+8)
}

func TestCreateRecordGeneratesAuctionID(t *testing.T) {
	svc, _ := newTestService()

	cr := testContext()
	cr.RequestID = ""

	record, err := svc.Create(context.Background(), cr)
	require.NoError(t, err)
	assert.NotEmpty(t, record.AuctionID)
}

func TestSettleComputesSecondPrice(t *testing.T) {
	svc, _ := newTestService()

	record, err := svc.Create(context.Background(), testContext())
	require.NoError(t, err)

	bids := []BidResponse{bid("a", "2.50"), bid("b", "1.75")}

	settled, err := svc.Settle(context.Background(), record.ServeToken, bids, &bids[0])
	require.NoError(t, err)

	assert.Equal(t, StateAuctionCompleted, settled.State)
	assert.Equal(t, "1.7500", settled.ClearingPrice)
	assert.Len(t, settled.Bids, 2)
	assert.Equal(t, bids[0].Payload, settled.Winner)
}

func TestSettleTwiceFails(t *testing.T) {
	svc, _ := newTestService()

	record, err := svc.Create(context.Background(), testContext())
	require.NoError(t, err)

	bids := []BidResponse{bid("a", "2.50")}

	_, err = svc.Settle(context.Background(), record.ServeToken, bids, &bids[0])
	require.NoError(t, err)

	_, err = svc.Settle(context.Background(), record.ServeToken, bids, &bids[0])
	assert.True(t, fault.IsKind(err, fault.KindInvalidTransition))
}

func TestRecordNoBidTerminal(t *testing.T) {
	svc, _ := newTestService()

	record, err := svc.Create(context.Background(), testContext())
	require.NoError(t, err)

	closed, err := svc.RecordNoBid(context.Background(), record.ServeToken)
	require.NoError(t, err)

	assert.Equal(t, StateNoBid, closed.State)
	assert.True(t, closed.NoBid)
	assert.Equal(t, "0.0000", closed.ClearingPrice)

	_, err = svc.RecordEvent(context.Background(), record.ServeToken,
		map[string]any{"event_type": "cpx_exposure"})
	assert.True(t, fault.IsKind(err, fault.KindNoBidNoEvents))
}

func TestRecordEventSingleCharge(t *testing.T) {
	svc, _ := newTestService()

	record, err := svc.Create(context.Background(), testContext())
	require.NoError(t, err)

	bids := []BidResponse{bid("a", "2.50")}
	_, err = svc.Settle(context.Background(), record.ServeToken, bids, &bids[0])
	require.NoError(t, err)

	updated, err := svc.RecordEvent(context.Background(), record.ServeToken,
		map[string]any{"event_type": "cpc_click", "event_id": "e1"})
	require.NoError(t, err)
	assert.Equal(t, StateEventRecorded, updated.State)

	// Lower priority after a click violates single-charge.
	_, err = svc.RecordEvent(context.Background(), record.ServeToken,
		map[string]any{"event_type": "cpx_exposure", "event_id": "e2"})
	assert.True(t, fault.IsKind(err, fault.KindSingleChargeViolation))

	// Same priority is also rejected.
	_, err = svc.RecordEvent(context.Background(), record.ServeToken,
		map[string]any{"event_type": "cpc_click", "event_id": "e3"})
	assert.True(t, fault.IsKind(err, fault.KindSingleChargeViolation))

	// Escalation to conversion is accepted.
	final, err := svc.RecordEvent(context.Background(), record.ServeToken,
		map[string]any{"event_type": "cpa_conversion", "conversion_id": "c1"})
	require.NoError(t, err)
	assert.Len(t, final.Events, 2)
}

func TestRecordEventOnCreatedRecordFails(t *testing.T) {
	svc, _ := newTestService()

	record, err := svc.Create(context.Background(), testContext())
	require.NoError(t, err)

	_, err = svc.RecordEvent(context.Background(), record.ServeToken,
		map[string]any{"event_type": "cpx_exposure"})
	assert.True(t, fault.IsKind(err, fault.KindInvalidTransition))
}

func TestRecordEventUnknownType(t *testing.T) {
	svc, _ := newTestService()

	record, err := svc.Create(context.Background(), testContext())
	require.NoError(t, err)

	bids := []BidResponse{bid("a", "1.00")}
	_, err = svc.Settle(context.Background(), record.ServeToken, bids, &bids[0])
	require.NoError(t, err)

	_, err = svc.RecordEvent(context.Background(), record.ServeToken,
		map[string]any{"event_type": "cpm_impression"})
	assert.True(t, fault.IsKind(err, fault.KindSchemaInvalid))
}

func TestGetUnknownToken(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Get(context.Background(), "stk_missing")
	assert.True(t, fault.IsKind(err, fault.KindUnknownServeToken))
}

func TestAnnotateAndMarkPublished(t *testing.T) {
	svc, _ := newTestService()

	record, err := svc.Create(context.Background(), testContext())
	require.NoError(t, err)

	annotated, err := svc.Annotate(context.Background(), record.ServeToken,
		[]string{"electronics"}, []string{"acme", "globex"})
	require.NoError(t, err)
	assert.Equal(t, []string{"electronics"}, annotated.Pools)
	assert.Equal(t, StateCreated, annotated.State)

	published, err := svc.MarkPublished(context.Background(), record.ServeToken, []string{"electronics"})
	require.NoError(t, err)
	assert.Equal(t, []string{"electronics"}, published.PublishedPools)
}
