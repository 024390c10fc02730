package transport

import (
	"strings"
	"sync"
	"time"

	"github.com/adweave/aip-coordinator/pkg/fault"
)

type nonceEntry struct {
	value     string
	expiresAt time.Time
}

// NonceCache tracks recently seen nonce values for replay protection. Entries
// expire after a fixed TTL; the cache is process-local.
type NonceCache struct {
	ttl time.Duration

	mu    sync.Mutex
	queue []nonceEntry
	live  map[string]struct{}

	now func() time.Time
}

// NewNonceCache creates a nonce cache with the given TTL.
func NewNonceCache(ttl time.Duration) *NonceCache {
	return &NonceCache{
		ttl:  ttl,
		live: make(map[string]struct{}),
		now:  time.Now,
	}
}

// AssertFresh rejects empty or previously seen values and records fresh ones.
// Expired entries are evicted before every check.
func (c *NonceCache) AssertFresh(value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.evict(now)

	if value == "" {
		return fault.New(fault.KindNonceMissing, "nonce is required")
	}

	if _, seen := c.live[value]; seen {
		return fault.New(fault.KindNonceReplay, "nonce already used")
	}

	c.queue = append(c.queue, nonceEntry{value: value, expiresAt: now.Add(c.ttl)})
	c.live[value] = struct{}{}

	return nil
}

// Len reports the number of live entries after eviction.
func (c *NonceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evict(c.now())

	return len(c.live)
}

// evict drops entries whose expiry has passed. The TTL is uniform, so the
// queue is already ordered by expiry. Caller must hold the lock.
func (c *NonceCache) evict(now time.Time) {
	idx := 0
	for idx < len(c.queue) && !c.queue[idx].expiresAt.After(now) {
		delete(c.live, c.queue[idx].value)
		idx++
	}

	if idx > 0 {
		c.queue = append(c.queue[:0], c.queue[idx:]...)
	}
}

// BidNonceKey scopes a bid nonce so distinct bidders reusing the same random
// value do not collide.
func BidNonceKey(serveToken, nonce, bidder string) string {
	return strings.Join([]string{serveToken, nonce, bidder}, ":")
}

// EventReplayKey derives the replay key for an event from its most specific
// available discriminator.
func EventReplayKey(serveToken, eventType, discriminator string) string {
	return strings.Join([]string{serveToken, eventType, discriminator}, ":")
}
