// Package events ingests signed billing events (exposure, click, conversion)
// and reconciles them against the winning ledger record under the
// single-charge rule.
package events

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/adweave/aip-coordinator/pkg/bidder"
	"github.com/adweave/aip-coordinator/pkg/fault"
	"github.com/adweave/aip-coordinator/pkg/ledger"
	"github.com/adweave/aip-coordinator/pkg/metrics"
	"github.com/adweave/aip-coordinator/pkg/schema"
	"github.com/adweave/aip-coordinator/pkg/transport"
)

// canonicalTypes maps legacy unprefixed event names onto the billing types.
var canonicalTypes = map[string]string{
	"cpx_exposure":   "cpx_exposure",
	"exposure":       "cpx_exposure",
	"cpc_click":      "cpc_click",
	"click":          "cpc_click",
	"cpa_conversion": "cpa_conversion",
	"conversion":     "cpa_conversion",
}

// Service validates event envelopes and appends them to the ledger.
type Service struct {
	ledger    *ledger.Service
	registry  *bidder.Registry
	nonces    *transport.NonceCache
	validator schema.Validator
	maxSkew   time.Duration
	log       logrus.FieldLogger
	now       func() time.Time
}

// NewService wires the event ingestion pipeline.
func NewService(ledgerSvc *ledger.Service, registry *bidder.Registry, nonces *transport.NonceCache, validator schema.Validator, maxSkew time.Duration, log logrus.FieldLogger) *Service {
	return &Service{
		ledger:    ledgerSvc,
		registry:  registry,
		nonces:    nonces,
		validator: validator,
		maxSkew:   maxSkew,
		log:       log.WithField("component", "events"),
		now:       time.Now,
	}
}

// Result reports an accepted event.
type Result struct {
	Record    *ledger.Record
	EventType string
}

// Ingest validates a signed event envelope, checks replay, and appends the
// event to the winning record.
func (s *Service) Ingest(ctx context.Context, envelope map[string]any) (*Result, error) {
	result, err := s.ingest(ctx, envelope)
	if err != nil {
		metrics.EventsRejected.WithLabelValues(string(fault.KindOf(err))).Inc()

		return nil, err
	}

	metrics.EventsAccepted.WithLabelValues(result.EventType).Inc()

	return result, nil
}

func (s *Service) ingest(ctx context.Context, envelope map[string]any) (*Result, error) {
	rawType, _ := envelope["event_type"].(string)

	schemaName, known := schema.EventSchemaFor(rawType)
	if !known {
		return nil, fault.New(fault.KindSchemaInvalid, "unknown event type %q", rawType)
	}

	if err := s.validator.Validate(schemaName, envelope); err != nil {
		return nil, err
	}

	eventType := canonicalTypes[rawType]

	serveToken, _ := envelope["serve_token"].(string)
	if serveToken == "" {
		return nil, fault.New(fault.KindSchemaInvalid, "event is missing serve_token")
	}

	record, err := s.ledger.Get(ctx, serveToken)
	if err != nil {
		return nil, err
	}

	timestamp, _ := envelope["timestamp"].(string)
	if err := transport.AssertWithinSkew(timestamp, s.maxSkew, s.now()); err != nil {
		return nil, err
	}

	replayKey := transport.EventReplayKey(serveToken, eventType, discriminator(envelope, timestamp))
	if err := s.nonces.AssertFresh(replayKey); err != nil {
		return nil, err
	}

	if err := s.verifySignature(record, envelope); err != nil {
		return nil, err
	}

	stored := make(map[string]any, len(envelope))
	for k, v := range envelope {
		stored[k] = v
	}

	stored["event_type"] = eventType

	record, err = s.ledger.RecordEvent(ctx, serveToken, stored)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"serve_token": serveToken,
		"event_type":  eventType,
	}).Info("Recorded billing event")

	return &Result{Record: record, EventType: eventType}, nil
}

// discriminator picks the most specific replay discriminator the envelope
// offers: event_id, then conversion_id, then the timestamp itself.
func discriminator(envelope map[string]any, timestamp string) string {
	if id, _ := envelope["event_id"].(string); id != "" {
		return id
	}

	if id, _ := envelope["conversion_id"].(string); id != "" {
		return id
	}

	return timestamp
}

// verifySignature checks the envelope's Ed25519 signature when a signer can
// be resolved: the envelope's named bidder, falling back to the record's
// winner. Envelopes without a signature pass; the platform's opaque auth
// already vouched for the transport.
func (s *Service) verifySignature(record *ledger.Record, envelope map[string]any) error {
	sig, _ := envelope["signature"].(string)
	if sig == "" {
		return nil
	}

	name, _ := envelope["bidder"].(string)
	if name == "" {
		name = winnerName(record)
	}

	if name == "" {
		return nil
	}

	cfg := s.registry.Get(name)
	if cfg == nil {
		return fault.New(fault.KindUnknownBidder, "event signer %q is not in the registry", name)
	}

	payload := make(map[string]any, len(envelope))

	for k, v := range envelope {
		if k == "signature" {
			continue
		}

		payload[k] = v
	}

	return transport.Verify(payload, sig, cfg.PublicKey)
}

// winnerName digs the winning bidder's identity out of the settled payload.
func winnerName(record *ledger.Record) string {
	if record.Winner == nil {
		return ""
	}

	if bid, ok := record.Winner["bid"].(map[string]any); ok {
		for _, key := range []string{"brand_agent_id", "bidder_id", "agent_id"} {
			if name, _ := bid[key].(string); name != "" {
				return name
			}
		}
	}

	return ""
}
