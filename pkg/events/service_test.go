package events

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/adweave/aip-coordinator/pkg/bidder"
	"github.com/adweave/aip-coordinator/pkg/fault"
	"github.com/adweave/aip-coordinator/pkg/ledger"
	"github.com/adweave/aip-coordinator/pkg/platform"
	"github.com/adweave/aip-coordinator/pkg/schema"
	"github.com/adweave/aip-coordinator/pkg/storage"
	"github.com/adweave/aip-coordinator/pkg/transport"
)

type fixture struct {
	service *Service
	ledger  *ledger.Service
	privPEM string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	pubPEM, privPEM, err := transport.GenerateKeyPair()
	require.NoError(t, err)

	raw, err := yaml.Marshal(map[string]any{"bidders": []bidder.Config{
		{Name: "agent-a", Endpoint: "https://a.example", PublicKey: pubPEM},
	}})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "bidders.yaml")
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	registry, err := bidder.NewRegistry(path, log)
	require.NoError(t, err)

	store := storage.NewMemoryStore(log)
	ledgerSvc := ledger.NewService(store, log)
	nonces := transport.NewNonceCache(time.Minute)
	service := NewService(ledgerSvc, registry, nonces, schema.NewRuleValidator(), 500*time.Millisecond, log)

	return &fixture{service: service, ledger: ledgerSvc, privPEM: privPEM}
}

// settledToken creates a record and settles it with agent-a winning.
func (f *fixture) settledToken(t *testing.T) string {
	t.Helper()

	record, err := f.ledger.Create(context.Background(), &platform.ContextRequest{SessionID: "s1"})
	require.NoError(t, err)

	winner := ledger.BidResponse{
		Bidder: "agent-a",
		Payload: map[string]any{
			"bid": map[string]any{"brand_agent_id": "agent-a"},
		},
		Price: decimal.RequireFromString("2.50"),
	}

	_, err = f.ledger.Settle(context.Background(), record.ServeToken, []ledger.BidResponse{winner}, &winner)
	require.NoError(t, err)

	return record.ServeToken
}

func eventEnvelope(serveToken, eventType, eventID string) map[string]any {
	envelope := map[string]any{
		"serve_token": serveToken,
		"event_type":  eventType,
		"timestamp":   time.Now().UTC().Format(time.RFC3339Nano),
	}

	if eventID != "" {
		envelope["event_id"] = eventID
	}

	return envelope
}

func TestIngestHappyPath(t *testing.T) {
	f := newFixture(t)
	token := f.settledToken(t)

	result, err := f.service.Ingest(context.Background(), eventEnvelope(token, "cpx_exposure", "e1"))
	require.NoError(t, err)

	assert.Equal(t, "cpx_exposure", result.EventType)
	assert.Equal(t, ledger.StateEventRecorded, result.Record.State)
	assert.Len(t, result.Record.Events, 1)
}

func TestIngestNormalizesLegacyAliases(t *testing.T) {
	f := newFixture(t)
	token := f.settledToken(t)

	result, err := f.service.Ingest(context.Background(), eventEnvelope(token, "exposure", "e1"))
	require.NoError(t, err)
	assert.Equal(t, "cpx_exposure", result.EventType)
	assert.Equal(t, "cpx_exposure", result.Record.Events[0]["event_type"])
}

func TestIngestSingleChargeEscalation(t *testing.T) {
	f := newFixture(t)
	token := f.settledToken(t)
	ctx := context.Background()

	_, err := f.service.Ingest(ctx, eventEnvelope(token, "cpc_click", "e1"))
	require.NoError(t, err)

	// Lower priority after a click is a violation.
	_, err = f.service.Ingest(ctx, eventEnvelope(token, "cpx_exposure", "e2"))
	assert.True(t, fault.IsKind(err, fault.KindSingleChargeViolation))

	// Same priority again is a violation too.
	_, err = f.service.Ingest(ctx, eventEnvelope(token, "cpc_click", "e3"))
	assert.True(t, fault.IsKind(err, fault.KindSingleChargeViolation))

	// Escalation to conversion is allowed.
	result, err := f.service.Ingest(ctx, eventEnvelope(token, "cpa_conversion", "e4"))
	require.NoError(t, err)
	assert.Len(t, result.Record.Events, 2)
}

func TestIngestReplayRejected(t *testing.T) {
	f := newFixture(t)
	token := f.settledToken(t)
	ctx := context.Background()

	_, err := f.service.Ingest(ctx, eventEnvelope(token, "cpx_exposure", "e1"))
	require.NoError(t, err)

	// Same event id replays regardless of the single-charge outcome.
	_, err = f.service.Ingest(ctx, eventEnvelope(token, "cpx_exposure", "e1"))
	assert.True(t, fault.IsKind(err, fault.KindNonceReplay))
}

func TestIngestNoBidRecordRejectsEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	record, err := f.ledger.Create(ctx, &platform.ContextRequest{SessionID: "s1"})
	require.NoError(t, err)

	_, err = f.ledger.RecordNoBid(ctx, record.ServeToken)
	require.NoError(t, err)

	_, err = f.service.Ingest(ctx, eventEnvelope(record.ServeToken, "cpx_exposure", "e1"))
	assert.True(t, fault.IsKind(err, fault.KindNoBidNoEvents))
}

func TestIngestUnknownServeToken(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Ingest(context.Background(), eventEnvelope("stk_missing", "cpx_exposure", "e1"))
	assert.True(t, fault.IsKind(err, fault.KindUnknownServeToken))
}

func TestIngestUnknownEventType(t *testing.T) {
	f := newFixture(t)
	token := f.settledToken(t)

	_, err := f.service.Ingest(context.Background(), eventEnvelope(token, "cpm_impression", "e1"))
	assert.True(t, fault.IsKind(err, fault.KindSchemaInvalid))
}

func TestIngestVerifiesSignatureWhenPresent(t *testing.T) {
	f := newFixture(t)
	token := f.settledToken(t)
	ctx := context.Background()

	envelope := eventEnvelope(token, "cpx_exposure", "e1")

	sig, err := transport.Sign(envelope, f.privPEM)
	require.NoError(t, err)

	envelope["signature"] = sig

	// Signer resolves through the record's winner.
	_, err = f.service.Ingest(ctx, envelope)
	require.NoError(t, err)

	// A tampered envelope fails verification.
	tampered := eventEnvelope(token, "cpc_click", "e2")
	sig, err = transport.Sign(tampered, f.privPEM)
	require.NoError(t, err)

	tampered["signature"] = sig
	tampered["event_id"] = "e2-tampered"

	_, err = f.service.Ingest(ctx, tampered)
	assert.True(t, fault.IsKind(err, fault.KindSignatureInvalid))
}

func TestIngestSkewRejected(t *testing.T) {
	f := newFixture(t)
	token := f.settledToken(t)

	envelope := eventEnvelope(token, "cpx_exposure", "e1")
	envelope["timestamp"] = time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)

	_, err := f.service.Ingest(context.Background(), envelope)
	assert.True(t, fault.IsKind(err, fault.KindTimestampSkew))
}
