package distribution

import (
	"context"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// LocalPublisher logs deliveries without a network hop. Used by tests and by
// single-process deployments where bidders poll the coordinator directly.
type LocalPublisher struct {
	log       logrus.FieldLogger
	published atomic.Int64
}

// NewLocalPublisher creates the no-network publisher.
func NewLocalPublisher(log logrus.FieldLogger) *LocalPublisher {
	return &LocalPublisher{
		log: log.WithField("component", "distribution_local"),
	}
}

// Publish logs the delivery and returns immediately.
func (p *LocalPublisher) Publish(_ context.Context, auctionID, pool string, payload map[string]any) error {
	p.published.Add(1)

	p.log.WithFields(logrus.Fields{
		"auction_id": auctionID,
		"pool":       pool,
		"keys":       len(payload),
	}).Info("Local delivery of auction context")

	return nil
}

// Backend names the variant.
func (p *LocalPublisher) Backend() string {
	return "local"
}

// Published reports how many payloads have been delivered.
func (p *LocalPublisher) Published() int64 {
	return p.published.Load()
}

// Close is a no-op for the local publisher.
func (p *LocalPublisher) Close() error {
	return nil
}
