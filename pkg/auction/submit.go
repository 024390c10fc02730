package auction

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/adweave/aip-coordinator/pkg/bidder"
	"github.com/adweave/aip-coordinator/pkg/fault"
	"github.com/adweave/aip-coordinator/pkg/ledger"
	"github.com/adweave/aip-coordinator/pkg/metrics"
	"github.com/adweave/aip-coordinator/pkg/transport"
)

// bidderKeys are consulted in order when resolving the submitting bidder
// from the bid sub-object.
var bidderKeys = []string{"brand_agent_id", "bidder_id", "agent_id"}

// pricingKeys are consulted in order when deriving the scalar price. Matching
// is case-insensitive.
var pricingKeys = []string{"cpa", "cpc", "cpx"}

// SubmissionService runs the guard pipeline for inbound bid responses:
// identity, freshness, skew, signature, pricing, then inbox admission.
type SubmissionService struct {
	registry *bidder.Registry
	nonces   *transport.NonceCache
	inbox    *Inbox
	maxSkew  time.Duration
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewSubmissionService wires the guards for bid submission.
func NewSubmissionService(registry *bidder.Registry, nonces *transport.NonceCache, inbox *Inbox, maxSkew time.Duration, log logrus.FieldLogger) *SubmissionService {
	return &SubmissionService{
		registry: registry,
		nonces:   nonces,
		inbox:    inbox,
		maxSkew:  maxSkew,
		log:      log.WithField("component", "submission"),
		now:      time.Now,
	}
}

// Submit validates a signed bid envelope and admits it to the auction inbox.
func (s *SubmissionService) Submit(envelope map[string]any) error {
	if err := s.submit(envelope); err != nil {
		metrics.BidsRejected.WithLabelValues(string(fault.KindOf(err))).Inc()

		return err
	}

	metrics.BidsAccepted.Inc()

	return nil
}

func (s *SubmissionService) submit(envelope map[string]any) error {
	serveToken := stringField(envelope, "serve_token")
	if serveToken == "" {
		// Legacy envelopes carry the token under auction_id.
		serveToken = stringField(envelope, "auction_id")
	}

	if serveToken == "" {
		return fault.New(fault.KindSchemaInvalid, "bid envelope is missing serve_token")
	}

	bid, ok := envelope["bid"].(map[string]any)
	if !ok || len(bid) == 0 {
		return fault.New(fault.KindSchemaInvalid, "bid envelope is missing the bid object")
	}

	name := resolveBidder(bid)
	if name == "" {
		return fault.New(fault.KindSchemaInvalid, "bid is missing the bidder identity")
	}

	cfg := s.registry.Get(name)
	if cfg == nil {
		return fault.New(fault.KindUnknownBidder, "bidder %q is not in the registry", name)
	}

	timestamp := stringField(envelope, "timestamp")
	if timestamp == "" {
		return fault.New(fault.KindTimestampMissing, "bid envelope is missing timestamp")
	}

	nonce := bidNonce(envelope, bid)
	if nonce == "" {
		return fault.New(fault.KindNonceMissing, "bid envelope is missing nonce")
	}

	if err := s.nonces.AssertFresh(transport.BidNonceKey(serveToken, nonce, name)); err != nil {
		return err
	}

	if err := transport.AssertWithinSkew(timestamp, s.maxSkew, s.now()); err != nil {
		return err
	}

	if err := transport.Verify(bid, stringField(envelope, "signature"), cfg.PublicKey); err != nil {
		return err
	}

	price, err := derivePrice(bid)
	if err != nil {
		return err
	}

	if err := s.inbox.Add(serveToken, ledger.BidResponse{
		Bidder:  name,
		Payload: envelope,
		Price:   price,
	}); err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"serve_token": serveToken,
		"bidder":      name,
		"price":       price.String(),
	}).Debug("Accepted bid response")

	return nil
}

// resolveBidder finds the submitting bidder's name in the bid object.
func resolveBidder(bid map[string]any) string {
	for _, key := range bidderKeys {
		if name := stringField(bid, key); name != "" {
			return name
		}
	}

	return ""
}

// bidNonce reads the nonce from bid.auth.nonce, falling back to the
// envelope's top level.
func bidNonce(envelope, bid map[string]any) string {
	if auth, ok := bid["auth"].(map[string]any); ok {
		if nonce := stringField(auth, "nonce"); nonce != "" {
			return nonce
		}
	}

	return stringField(envelope, "nonce")
}

// derivePrice extracts the scalar bid price: the first defined value among
// pricing.cpa, cpc, cpx (case-insensitive), else the top-level price field.
func derivePrice(bid map[string]any) (decimal.Decimal, error) {
	if pricing, ok := bid["pricing"].(map[string]any); ok {
		lowered := make(map[string]any, len(pricing))
		for key, value := range pricing {
			lowered[strings.ToLower(key)] = value
		}

		for _, key := range pricingKeys {
			if value, present := lowered[key]; present && value != nil {
				return parsePrice(value)
			}
		}
	}

	if value, present := bid["price"]; present && value != nil {
		return parsePrice(value)
	}

	return decimal.Zero, fault.New(fault.KindPricingInvalid, "bid carries no parseable price")
}

func parsePrice(value any) (decimal.Decimal, error) {
	switch v := value.(type) {
	case json.Number:
		if d, err := decimal.NewFromString(v.String()); err == nil {
			return d, nil
		}
	case string:
		if d, err := decimal.NewFromString(v); err == nil {
			return d, nil
		}
	case float64:
		return decimal.NewFromFloat(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	}

	return decimal.Zero, fault.New(fault.KindPricingInvalid, "bid price %v is not parseable", value)
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)

	return s
}
