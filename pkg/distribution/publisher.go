// Package distribution publishes auction context to pool-keyed topics.
// Bidders subscribe to pools out-of-band; delivery is at-most-once from the
// coordinator's perspective.
package distribution

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/adweave/aip-coordinator/pkg/config"
)

// Publisher delivers one auction payload to one pool.
type Publisher interface {
	// Publish sends the payload to the pool's topic and waits for the
	// backend to accept it. A failure abandons that pool only.
	Publish(ctx context.Context, auctionID, pool string, payload map[string]any) error

	// Backend names the concrete variant for logs and metrics.
	Backend() string

	// Close releases backend resources.
	Close() error
}

// Build constructs the publisher selected by configuration.
func Build(ctx context.Context, cfg config.DistributionConfig, log logrus.FieldLogger) (Publisher, error) {
	switch cfg.Backend {
	case config.DistributionLocal:
		return NewLocalPublisher(log), nil
	case config.DistributionManagedTopic:
		return NewPubSubPublisher(ctx, cfg.Options, log)
	case config.DistributionGossip:
		return NewGossipPublisher(ctx, cfg.Options, log)
	default:
		return nil, fmt.Errorf("unknown distribution backend %q", cfg.Backend)
	}
}

// TopicName derives the topic for a pool as <prefix>-<pool>. A prefix that
// already carries the pool as a path suffix is used verbatim.
func TopicName(prefix, pool string) string {
	if strings.HasSuffix(prefix, "/"+pool) {
		return prefix
	}

	return prefix + "-" + pool
}
