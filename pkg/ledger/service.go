package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/adweave/aip-coordinator/pkg/fault"
	"github.com/adweave/aip-coordinator/pkg/platform"
)

// Service persists context, bids, winners, and events through the FSM.
type Service struct {
	store Store
	log   logrus.FieldLogger
	now   func() time.Time
}

// NewService creates a ledger service on top of a record store.
func NewService(store Store, log logrus.FieldLogger) *Service {
	return &Service{
		store: store,
		log:   log.WithField("component", "ledger"),
		now:   time.Now,
	}
}

// NewServeToken mints an opaque serve token. A platform-supplied hint becomes
// a prefix before the random suffix.
func NewServeToken(hint string) string {
	if hint != "" {
		suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]

		return fmt.Sprintf("%s-%s", hint, suffix)
	}

	return "stk_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Create opens a new record in CREATED state with a fresh serve token.
func (s *Service) Create(ctx context.Context, contextRequest *platform.ContextRequest) (*Record, error) {
	auctionID := contextRequest.RequestID
	if auctionID == "" {
		auctionID = uuid.NewString()
	}

	now := s.now().UTC()
	record := &Record{
		ServeToken:      NewServeToken(contextRequest.ServeTokenHint),
		AuctionID:       auctionID,
		State:           StateCreated,
		Context:         contextRequest,
		Pools:           []string{},
		EligibleBidders: []string{},
		Bids:            []map[string]any{},
		Events:          []map[string]any{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.store.CreateRecord(ctx, record); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"serve_token": record.ServeToken,
		"auction_id":  record.AuctionID,
	}).Debug("Created ledger record")

	return record, nil
}

// Settle closes the auction with the received bids and the chosen winner and
// computes the clearing price.
func (s *Service) Settle(ctx context.Context, serveToken string, bids []BidResponse, winner *BidResponse) (*Record, error) {
	return s.update(ctx, serveToken, func(record *Record) error {
		next, err := Transition(record.State, EventAuctionSettled)
		if err != nil {
			return err
		}

		payloads := make([]map[string]any, len(bids))
		for i, bid := range bids {
			payloads[i] = bid.Payload
		}

		record.State = next
		record.Bids = payloads
		record.ClearingPrice = FormatPrice(ClearingPrice(bids, winner))

		if winner != nil {
			record.Winner = winner.Payload
		}

		return nil
	})
}

// RecordNoBid closes the auction with no responses. The record becomes
// terminal.
func (s *Service) RecordNoBid(ctx context.Context, serveToken string) (*Record, error) {
	return s.update(ctx, serveToken, func(record *Record) error {
		next, err := Transition(record.State, EventNoBidRecorded)
		if err != nil {
			return err
		}

		record.State = next
		record.NoBid = true
		record.Bids = []map[string]any{}
		record.Winner = nil
		record.ClearingPrice = FormatPrice(ClearingPrice(nil, nil))

		return nil
	})
}

// RecordEvent appends a billing event under the single-charge rule: recorded
// priorities must strictly increase.
func (s *Service) RecordEvent(ctx context.Context, serveToken string, event map[string]any) (*Record, error) {
	return s.update(ctx, serveToken, func(record *Record) error {
		if record.State == StateNoBid {
			return fault.New(fault.KindNoBidNoEvents, "record %s closed with no bids", serveToken)
		}

		next, err := Transition(record.State, EventEventIngested)
		if err != nil {
			return err
		}

		eventType, _ := event["event_type"].(string)

		priority, ok := EventPriority(eventType)
		if !ok {
			return fault.New(fault.KindSchemaInvalid, "unknown event type %q", eventType)
		}

		if maxRecorded := MaxRecordedPriority(record.Events); priority <= maxRecorded {
			return fault.New(fault.KindSingleChargeViolation,
				"event priority %d does not exceed recorded maximum %d", priority, maxRecorded)
		}

		record.State = next
		record.Events = append(record.Events, event)

		return nil
	})
}

// Annotate attaches classification results without a state transition.
func (s *Service) Annotate(ctx context.Context, serveToken string, pools, eligibleBidders []string) (*Record, error) {
	return s.update(ctx, serveToken, func(record *Record) error {
		record.Pools = pools
		record.EligibleBidders = eligibleBidders

		return nil
	})
}

// MarkPublished records the pools whose distribution publish succeeded.
func (s *Service) MarkPublished(ctx context.Context, serveToken string, pools []string) (*Record, error) {
	return s.update(ctx, serveToken, func(record *Record) error {
		record.PublishedPools = pools

		return nil
	})
}

// Get fetches a record; a missing token is an UnknownServeToken fault.
func (s *Service) Get(ctx context.Context, serveToken string) (*Record, error) {
	record, err := s.store.GetRecord(ctx, serveToken)
	if err != nil {
		return nil, s.translate(serveToken, err)
	}

	return record, nil
}

// List returns every record in the store.
func (s *Service) List(ctx context.Context) ([]*Record, error) {
	return s.store.ListRecords(ctx)
}

func (s *Service) update(ctx context.Context, serveToken string, mutate func(*Record) error) (*Record, error) {
	record, err := s.store.UpdateRecord(ctx, serveToken, func(record *Record) error {
		if err := mutate(record); err != nil {
			return err
		}

		record.UpdatedAt = s.now().UTC()

		return nil
	})
	if err != nil {
		return nil, s.translate(serveToken, err)
	}

	return record, nil
}

func (s *Service) translate(serveToken string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return fault.New(fault.KindUnknownServeToken, "no record for serve token %q", serveToken)
	}

	return err
}
