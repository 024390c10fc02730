package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/adweave/aip-coordinator/pkg/auction"
	"github.com/adweave/aip-coordinator/pkg/bidder"
	"github.com/adweave/aip-coordinator/pkg/config"
	"github.com/adweave/aip-coordinator/pkg/distribution"
	"github.com/adweave/aip-coordinator/pkg/events"
	"github.com/adweave/aip-coordinator/pkg/ledger"
	"github.com/adweave/aip-coordinator/pkg/schema"
	"github.com/adweave/aip-coordinator/pkg/storage"
	"github.com/adweave/aip-coordinator/pkg/transport"
	"github.com/adweave/aip-coordinator/pkg/weave"
)

type serverFixture struct {
	server  *Server
	handler http.Handler
	store   *storage.MemoryStore
	keys    map[string]string
	cfg     *config.Config
}

func newServerFixture(t *testing.T, mutateCfg func(*config.Config)) *serverFixture {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	cfg := config.DefaultConfig()
	cfg.Auction.WindowMS = 40

	if mutateCfg != nil {
		mutateCfg(cfg)
	}

	keys := make(map[string]string)

	var inventory []bidder.Config

	for _, name := range []string{"agent-a", "agent-b"} {
		pubPEM, privPEM, err := transport.GenerateKeyPair()
		require.NoError(t, err)

		keys[name] = privPEM
		inventory = append(inventory, bidder.Config{
			Name:      name,
			Endpoint:  "https://" + name + ".example",
			PublicKey: pubPEM,
			Pools:     []string{"default", "electronics"},
		})
	}

	raw, err := yaml.Marshal(map[string]any{"bidders": inventory})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "bidders.yaml")
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	registry, err := bidder.NewRegistry(path, log)
	require.NoError(t, err)

	store := storage.NewMemoryStore(log)
	ledgerSvc := ledger.NewService(store, log)
	nonces := transport.NewNonceCache(time.Duration(cfg.Transport.NonceTTLSeconds) * time.Second)
	maxSkew := time.Duration(cfg.Transport.MaxClockSkewMS) * time.Millisecond
	inbox := auction.NewInbox(log)
	publisher := distribution.NewLocalPublisher(log)
	validator := schema.NewRuleValidator()

	runner := auction.NewRunner(ledgerSvc, registry, inbox, publisher,
		time.Duration(cfg.Auction.WindowMS)*time.Millisecond, log)
	submissions := auction.NewSubmissionService(registry, nonces, inbox, maxSkew, log)
	eventsSvc := events.NewService(ledgerSvc, registry, nonces, validator, maxSkew, log)

	coordinator := weave.NewCoordinator(store, runner, cfg.Weave, cfg.Operator, log)
	require.NoError(t, coordinator.Start(context.Background()))
	t.Cleanup(coordinator.Stop)

	srv := NewServer(cfg, registry, runner, submissions, eventsSvc, coordinator, ledgerSvc, validator, log)

	return &serverFixture{
		server:  srv,
		handler: srv.Handler(),
		store:   store,
		keys:    keys,
		cfg:     cfg,
	}
}

func (f *serverFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader

	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	return body
}

func platformRequest(requestID string) map[string]any {
	return map[string]any{
		"request_id":  requestID,
		"session_id":  "s1",
		"platform_id": "acme-chat",
		"query_text":  "best laptops",
		"locale":      "en-US",
		"geo":         map[string]any{"country": "US"},
		"timestamp":   time.Now().UTC().Format(time.RFC3339Nano),
		"auth":        map[string]any{"token": "opaque"},
		"categories":  []any{"electronics"},
	}
}

// submitBid signs and posts a bid response for the named bidder.
func (f *serverFixture) submitBid(t *testing.T, serveToken, name, nonce, cpx string) *httptest.ResponseRecorder {
	t.Helper()

	bid := map[string]any{
		"brand_agent_id": name,
		"pricing":        map[string]any{"cpx": cpx},
		"auth":           map[string]any{"nonce": nonce},
		"offer": map[string]any{
			"creative_input": map[string]any{
				"product_name":  "UltraBook",
				"brand_name":    "Acme",
				"descriptions":  []any{"A very fast laptop."},
				"resource_urls": []any{"https://acme.example/ultrabook"},
			},
		},
	}

	sig, err := transport.Sign(bid, f.keys[name])
	require.NoError(t, err)

	return f.do(t, http.MethodPost, "/aip/bid-response", map[string]any{
		"serve_token": serveToken,
		"timestamp":   time.Now().UTC().Format(time.RFC3339Nano),
		"signature":   sig,
		"bid":         bid,
	})
}

// mustSubmitBid retries the submission until the auction window opens. Each
// attempt uses a fresh nonce because a rejected Add still burns its nonce.
func (f *serverFixture) mustSubmitBid(t *testing.T, serveToken, name, noncePrefix, cpx string) {
	t.Helper()

	deadline := time.Now().Add(time.Second)

	for i := 0; time.Now().Before(deadline); i++ {
		rec := f.submitBid(t, serveToken, name, fmt.Sprintf("%s-%d", noncePrefix, i), cpx)
		if rec.Code == http.StatusAccepted {
			return
		}

		time.Sleep(time.Millisecond)
	}

	t.Errorf("bid from %s never accepted", name)
}

// awaitServeToken polls the store for the record the runner creates.
func (f *serverFixture) awaitServeToken(t *testing.T) string {
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

	t.Fatal("no ledger record appeared")

	return ""
}

func TestPing(t *testing.T) {
	f := newServerFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/aip/ping", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, Version, body["version"])
}

func TestContextAuctionHappyPath(t *testing.T) {
	f := newServerFixture(t, nil)

	go func() {
		token := f.awaitServeToken(t)
		f.mustSubmitBid(t, token, "agent-a", "n1", "2.50")
		f.mustSubmitBid(t, token, "agent-b", "n2", "1.75")
	}()

	rec := f.do(t, http.MethodPost, "/aip/context", platformRequest("req-1"))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "req-1", body["auction_id"])
	assert.NotEmpty(t, body["serve_token"])
	assert.Nil(t, body["no_bid"])

	winner, ok := body["winner"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "agent-a", winner["brand_agent_id"])
	assert.Equal(t, "CPX", winner["preferred_unit"])
	// Second-price clearing: 1.7500 -> 175 cents.
	assert.EqualValues(t, 175, winner["reserved_amount_cents"])

	render, ok := body["render"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "[Ad]", render["label"])
	assert.Equal(t, "UltraBook", render["title"])
	assert.Equal(t, "https://acme.example/ultrabook", render["url"])
}

func TestContextNoBid(t *testing.T) {
	f := newServerFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/aip/context", platformRequest("req-1"))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, true, body["no_bid"])
	assert.EqualValues(t, 60000, body["ttl_ms"])

	// Events on a no-bid record are rejected.
	token := body["serve_token"].(string)
	eventRec := f.do(t, http.MethodPost, "/aip/events", map[string]any{
		"serve_token": token,
		"event_type":  "cpx_exposure",
		"timestamp":   time.Now().UTC().Format(time.RFC3339Nano),
		"event_id":    "e1",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, eventRec.Code)
}

func TestContextMissingFieldIs400(t *testing.T) {
	f := newServerFixture(t, nil)

	payload := platformRequest("req-1")
	delete(payload, "session_id")

	rec := f.do(t, http.MethodPost, "/aip/context", payload)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code) // schema catches it first

	// Bypassing the schema (field present but empty) hits the coordinator's
	// own requirement check via the weave endpoint instead.
	weaveRec := f.do(t, http.MethodPost, "/v1/weave/recommendations", map[string]any{"message_id": "m1"})
	assert.Equal(t, http.StatusBadRequest, weaveRec.Code)
}

func TestEventFlowAfterSettlement(t *testing.T) {
	f := newServerFixture(t, nil)

	go func() {
		token := f.awaitServeToken(t)
		f.mustSubmitBid(t, token, "agent-a", "n1", "2.50")
	}()

	rec := f.do(t, http.MethodPost, "/aip/context", platformRequest("req-1"))
	require.Equal(t, http.StatusOK, rec.Code)

	token := decode(t, rec)["serve_token"].(string)

	eventRec := f.do(t, http.MethodPost, "/aip/events", map[string]any{
		"serve_token": token,
		"event_type":  "exposure",
		"timestamp":   time.Now().UTC().Format(time.RFC3339Nano),
		"event_id":    "e1",
	})
	require.Equal(t, http.StatusAccepted, eventRec.Code)

	body := decode(t, eventRec)
	assert.Equal(t, "accepted", body["status"])
	assert.Equal(t, token, body["serve_token"])
	assert.Equal(t, "cpx_exposure", body["event_type"])

	// Replay of the same event id.
	replay := f.do(t, http.MethodPost, "/aip/events", map[string]any{
		"serve_token": token,
		"event_type":  "exposure",
		"timestamp":   time.Now().UTC().Format(time.RFC3339Nano),
		"event_id":    "e1",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, replay.Code)
}

func TestBidResponseRejectionIs422(t *testing.T) {
	f := newServerFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/aip/bid-response", map[string]any{
		"serve_token": "stk_closed",
		"timestamp":   time.Now().UTC().Format(time.RFC3339Nano),
		"signature":   "x",
		"bid": map[string]any{
			"brand_agent_id": "agent-a",
			"pricing":        map[string]any{"cpx": "1.00"},
			"auth":           map[string]any{"nonce": "n1"},
		},
	})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["detail"])
}

func TestRecommendationLifecycle(t *testing.T) {
	f := newServerFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/v1/weave/recommendations", map[string]any{
		"message_id": "m1",
		"session_id": "s1",
		"query":      "laptops",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "in_progress", body["status"])
	assert.EqualValues(t, 150, body["retry_after_ms"])

	// Poll until the background auction finishes (no bidders respond, so it
	// completes with empty weave content).
	deadline := time.Now().Add(2 * time.Second)

	for time.Now().Before(deadline) {
		rec = f.do(t, http.MethodPost, "/v1/weave/recommendations", map[string]any{
			"message_id": "m1",
			"session_id": "s1",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		body = decode(t, rec)
		if body["status"] != "in_progress" {
			break
		}

		time.Sleep(10 * time.Millisecond)
	}

	assert.Equal(t, "completed", body["status"])
	assert.NotEmpty(t, body["serve_token"])
}

func TestAdminEndpoints(t *testing.T) {
	f := newServerFixture(t, nil)

	for _, path := range []string{"/admin/health", "/admin/stats", "/admin/config", "/admin/bidders"} {
		rec := f.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	body := decode(t, f.do(t, http.MethodGet, "/admin/bidders", nil))
	bidders, ok := body["bidders"].([]any)
	require.True(t, ok)
	assert.Len(t, bidders, 2)
}

func TestAdminAuth(t *testing.T) {
	f := newServerFixture(t, func(cfg *config.Config) {
		cfg.Admin.AuthSecret = "test-secret"
	})

	rec := f.do(t, http.MethodGet, "/admin/health", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/admin/health", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusOK, recorder.Code)
}

func TestRootBanner(t *testing.T) {
	f := newServerFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "aip-coordinator", body["service"])
}
