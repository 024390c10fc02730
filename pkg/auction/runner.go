package auction

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/adweave/aip-coordinator/pkg/bidder"
	"github.com/adweave/aip-coordinator/pkg/distribution"
	"github.com/adweave/aip-coordinator/pkg/ledger"
	"github.com/adweave/aip-coordinator/pkg/metrics"
	"github.com/adweave/aip-coordinator/pkg/platform"
)

// Runner orchestrates one auction end to end: ledger record creation, pool
// classification, inbox registration, distribution fanout, the collection
// window, and settlement.
type Runner struct {
	ledger    *ledger.Service
	registry  *bidder.Registry
	inbox     *Inbox
	publisher distribution.Publisher
	window    time.Duration
	log       logrus.FieldLogger
}

// NewRunner wires the auction orchestrator.
func NewRunner(ledgerSvc *ledger.Service, registry *bidder.Registry, inbox *Inbox, publisher distribution.Publisher, window time.Duration, log logrus.FieldLogger) *Runner {
	return &Runner{
		ledger:    ledgerSvc,
		registry:  registry,
		inbox:     inbox,
		publisher: publisher,
		window:    window,
		log:       log.WithField("component", "auction_runner"),
	}
}

// Window reports the configured auction window.
func (r *Runner) Window() time.Duration {
	return r.window
}

// Run executes one auction for the given context request and returns the
// settled ledger record. The window opens when the inbox registers the
// eligible bidders and is not extended by publish latency.
func (r *Runner) Run(ctx context.Context, cr *platform.ContextRequest) (*ledger.Record, error) {
	record, err := r.ledger.Create(ctx, cr)
	if err != nil {
		metrics.AuctionsTotal.WithLabelValues("error").Inc()

		return nil, err
	}

	metrics.AuctionsInFlight.Inc()
	defer metrics.AuctionsInFlight.Dec()

	log := r.log.WithFields(logrus.Fields{
		"serve_token": record.ServeToken,
		"auction_id":  record.AuctionID,
	})

	pools := Classify(cr)
	eligible := r.registry.FilterByPools(pools)
	names := bidder.Names(eligible)

	if _, err := r.ledger.Annotate(ctx, record.ServeToken, pools, names); err != nil {
		metrics.AuctionsTotal.WithLabelValues("error").Inc()

		return nil, err
	}

	// The window opens here.
	r.inbox.Register(record.ServeToken, names)
	opened := time.Now()

	published := r.publish(ctx, record, cr, pools, eligible)
	if len(published) > 0 {
		if _, err := r.ledger.MarkPublished(ctx, record.ServeToken, published); err != nil {
			log.WithError(err).Warn("Failed to record published pools")
		}
	}

	remaining := r.window - time.Since(opened)
	if remaining < 0 {
		remaining = 0
	}

	bids, err := r.inbox.Collect(ctx, record.ServeToken, remaining)
	if err != nil {
		// Caller cancellation abandons the auction; the record stays CREATED.
		metrics.AuctionsTotal.WithLabelValues("abandoned").Inc()

		return nil, err
	}

	metrics.BidsPerAuction.Observe(float64(len(bids)))

	if len(bids) == 0 {
		log.Info("Auction closed with no bids")
		metrics.AuctionsTotal.WithLabelValues("no_bid").Inc()

		return r.ledger.RecordNoBid(ctx, record.ServeToken)
	}

	winner := SelectWinner(bids)

	settled, err := r.ledger.Settle(ctx, record.ServeToken, bids, winner)
	if err != nil {
		metrics.AuctionsTotal.WithLabelValues("error").Inc()

		return nil, err
	}

	log.WithFields(logrus.Fields{
		"bids":           len(bids),
		"winner":         winner.Bidder,
		"clearing_price": settled.ClearingPrice,
	}).Info("Auction settled")
	metrics.AuctionsTotal.WithLabelValues("settled").Inc()

	return settled, nil
}

// publish fans the context out to every distinct pool. Pool failures are
// isolated: one failed publish abandons that pool only, and the pools that
// succeeded are returned for the ledger audit trail.
func (r *Runner) publish(ctx context.Context, record *ledger.Record, cr *platform.ContextRequest, pools []string, eligible []bidder.Config) []string {
	payload := map[string]any{
		"auction_id":      record.AuctionID,
		"serve_token":     record.ServeToken,
		"pools":           pools,
		"context_request": cr,
		"bidders":         bidder.Names(eligible),
	}

	var published []string

	for _, pool := range pools {
		if err := r.publisher.Publish(ctx, record.AuctionID, pool, payload); err != nil {
			metrics.PublishesTotal.WithLabelValues(r.publisher.Backend(), "error").Inc()
			r.log.WithError(err).WithFields(logrus.Fields{
				"serve_token": record.ServeToken,
				"pool":        pool,
			}).Error("Publish failed, abandoning pool")

			continue
		}

		metrics.PublishesTotal.WithLabelValues(r.publisher.Backend(), "ok").Inc()

		published = append(published, pool)
	}

	return published
}
