package distribution

import (
	"context"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p"
	libp2ppubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"

	"github.com/adweave/aip-coordinator/pkg/config"
	"github.com/adweave/aip-coordinator/pkg/fault"
	"github.com/adweave/aip-coordinator/pkg/transport"
)

// GossipPublisher distributes auction context over libp2p gossipsub, one
// joined topic per pool. Gossip messages carry no attributes, so pool and
// auction id are folded into the canonical payload itself.
type GossipPublisher struct {
	host   host.Host
	pubsub *libp2ppubsub.PubSub
	prefix string
	log    logrus.FieldLogger

	mu     sync.Mutex
	topics map[string]*libp2ppubsub.Topic
}

// NewGossipPublisher starts a libp2p host and joins the gossip mesh.
func NewGossipPublisher(ctx context.Context, opts config.DistributionOptions, log logrus.FieldLogger) (*GossipPublisher, error) {
	h, err := libp2p.New(libp2p.ListenAddrStrings(opts.Gossip.ListenAddrs...))
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	ps, err := libp2ppubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = h.Close()

		return nil, fmt.Errorf("failed to create gossipsub: %w", err)
	}

	log = log.WithField("component", "distribution_gossip")

	p := &GossipPublisher{
		host:   h,
		pubsub: ps,
		prefix: opts.TopicPrefix,
		log:    log,
		topics: make(map[string]*libp2ppubsub.Topic),
	}

	for _, addr := range opts.Gossip.BootstrapPeers {
		if err := p.connectPeer(ctx, addr); err != nil {
			log.WithError(err).WithField("peer", addr).Warn("Failed to connect bootstrap peer")
		}
	}

	log.WithField("peer_id", h.ID().String()).Info("Gossip publisher started")

	return p, nil
}

func (p *GossipPublisher) connectPeer(ctx context.Context, addr string) error {
	maddr, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return fmt.Errorf("invalid multiaddr %q: %w", addr, err)
	}

	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return fmt.Errorf("multiaddr %q has no peer id: %w", addr, err)
	}

	return p.host.Connect(ctx, *info)
}

func (p *GossipPublisher) topic(pool string) (*libp2ppubsub.Topic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	name := TopicName(p.prefix, pool)
	if topic, ok := p.topics[name]; ok {
		return topic, nil
	}

	topic, err := p.pubsub.Join(name)
	if err != nil {
		return nil, fmt.Errorf("failed to join topic %q: %w", name, err)
	}

	p.topics[name] = topic

	return topic, nil
}

// Publish sends the canonical payload to the pool's gossip topic.
func (p *GossipPublisher) Publish(ctx context.Context, auctionID, pool string, payload map[string]any) error {
	body := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		body[k] = v
	}

	body["pool"] = pool
	body["auction_id"] = auctionID

	data, err := transport.Marshal(body)
	if err != nil {
		return fault.Wrap(fault.KindPublishFailed, err, "failed to encode auction payload")
	}

	topic, err := p.topic(pool)
	if err != nil {
		return fault.Wrap(fault.KindPublishFailed, err, "publish to pool %q failed", pool)
	}

	if err := topic.Publish(ctx, data); err != nil {
		return fault.Wrap(fault.KindPublishFailed, err, "publish to pool %q failed", pool)
	}

	p.log.WithFields(logrus.Fields{
		"auction_id": auctionID,
		"pool":       pool,
	}).Debug("Published auction context to gossip mesh")

	return nil
}

// Backend names the variant.
func (p *GossipPublisher) Backend() string {
	return "gossip"
}

// Close leaves every topic and shuts the host down.
func (p *GossipPublisher) Close() error {
	p.mu.Lock()
	for _, topic := range p.topics {
		_ = topic.Close()
	}
	p.mu.Unlock()

	return p.host.Close()
}
