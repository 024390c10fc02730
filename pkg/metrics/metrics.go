// Package metrics defines the Prometheus collectors for the coordinator.
// Collectors register on the default registry and are exported through the
// HTTP server's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuctionsTotal counts finished auctions by outcome (settled, no_bid,
	// abandoned, error).
	AuctionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aip_auctions_total",
		Help: "Finished auctions by outcome",
	}, []string{"outcome"})

	// AuctionsInFlight tracks auctions between creation and settlement.
	AuctionsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aip_auctions_in_flight",
		Help: "Auctions currently inside their window",
	})

	// BidsPerAuction observes how many responses each auction collected.
	BidsPerAuction = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "aip_bids_per_auction",
		Help:    "Bid responses collected per auction",
		Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
	})

	// BidsAccepted counts bid submissions that passed every guard.
	BidsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aip_bids_accepted_total",
		Help: "Bid submissions accepted into an auction inbox",
	})

	// BidsRejected counts bid submissions by rejection reason.
	BidsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aip_bids_rejected_total",
		Help: "Bid submissions rejected, by fault kind",
	}, []string{"reason"})

	// EventsAccepted counts billing events appended to the ledger.
	EventsAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aip_events_accepted_total",
		Help: "Billing events recorded, by event type",
	}, []string{"event_type"})

	// EventsRejected counts billing events by rejection reason.
	EventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aip_events_rejected_total",
		Help: "Billing events rejected, by fault kind",
	}, []string{"reason"})

	// PublishesTotal counts distribution publishes by backend and result.
	PublishesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aip_publishes_total",
		Help: "Distribution publishes by backend and result",
	}, []string{"backend", "result"})

	// RecommendationsTotal counts coordinator lookups by path taken.
	RecommendationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aip_recommendations_total",
		Help: "Recommendation lookups by path (completed, in_progress, failed, created)",
	}, []string{"path"})
)
