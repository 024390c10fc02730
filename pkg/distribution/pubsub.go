package distribution

import (
	"context"
	"sync"

	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"github.com/adweave/aip-coordinator/pkg/config"
	"github.com/adweave/aip-coordinator/pkg/fault"
	"github.com/adweave/aip-coordinator/pkg/transport"
)

// PubSubPublisher publishes to one managed topic per pool. The payload is
// canonical JSON; pool and auction id travel as message attributes.
type PubSubPublisher struct {
	client *pubsub.Client
	prefix string
	log    logrus.FieldLogger

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// NewPubSubPublisher connects to the Pub/Sub project from configuration.
func NewPubSubPublisher(ctx context.Context, opts config.DistributionOptions, log logrus.FieldLogger) (*PubSubPublisher, error) {
	var clientOpts []option.ClientOption
	if opts.PubSub.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.PubSub.CredentialsFile))
	}

	client, err := pubsub.NewClient(ctx, opts.PubSub.ProjectID, clientOpts...)
	if err != nil {
		return nil, fault.Wrap(fault.KindPublishFailed, err, "failed to create pubsub client")
	}

	log = log.WithField("component", "distribution_pubsub")
	log.WithField("project", opts.PubSub.ProjectID).Info("Connected to pubsub")

	return &PubSubPublisher{
		client: client,
		prefix: opts.TopicPrefix,
		log:    log,
		topics: make(map[string]*pubsub.Topic),
	}, nil
}

func (p *PubSubPublisher) topic(pool string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()

	name := TopicName(p.prefix, pool)
	if topic, ok := p.topics[name]; ok {
		return topic
	}

	topic := p.client.Topic(name)
	p.topics[name] = topic

	return topic
}

// Publish sends the canonical payload and awaits the server's ack.
func (p *PubSubPublisher) Publish(ctx context.Context, auctionID, pool string, payload map[string]any) error {
	data, err := transport.Marshal(payload)
	if err != nil {
		return fault.Wrap(fault.KindPublishFailed, err, "failed to encode auction payload")
	}

	result := p.topic(pool).Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"pool":       pool,
			"auction_id": auctionID,
		},
	})

	id, err := result.Get(ctx)
	if err != nil {
		return fault.Wrap(fault.KindPublishFailed, err, "publish to pool %q failed", pool)
	}

	p.log.WithFields(logrus.Fields{
		"auction_id": auctionID,
		"pool":       pool,
		"message_id": id,
	}).Debug("Published auction context")

	return nil
}

// Backend names the variant.
func (p *PubSubPublisher) Backend() string {
	return "managed_topic"
}

// Close flushes pending publishes and releases the client.
func (p *PubSubPublisher) Close() error {
	p.mu.Lock()
	for _, topic := range p.topics {
		topic.Stop()
	}
	p.mu.Unlock()

	return p.client.Close()
}
