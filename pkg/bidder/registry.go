// Package bidder maintains the registry of bidding agents loaded from the
// YAML inventory file.
package bidder

import (
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config describes one bidding agent.
type Config struct {
	Name      string   `yaml:"name" json:"name"`
	Endpoint  string   `yaml:"endpoint" json:"endpoint"`
	PublicKey string   `yaml:"public_key" json:"public_key"`
	TimeoutMS int      `yaml:"timeout_ms" json:"timeout_ms"`
	Pools     []string `yaml:"pools" json:"pools"`
}

// SubscribesTo reports whether the bidder belongs to any of the given pools.
func (c *Config) SubscribesTo(pools []string) bool {
	for _, want := range pools {
		for _, have := range c.Pools {
			if want == have {
				return true
			}
		}
	}

	return false
}

type inventory struct {
	Bidders []Config `yaml:"bidders"`
}

type snapshot struct {
	order   []string
	byName  map[string]*Config
	entries []Config
}

// Registry holds an immutable snapshot of bidder identities. Reload swaps the
// whole snapshot atomically; readers never observe a partial inventory.
type Registry struct {
	path string
	log  logrus.FieldLogger

	mu   sync.RWMutex
	snap *snapshot
}

// NewRegistry loads the bidder inventory from the given path.
func NewRegistry(path string, log logrus.FieldLogger) (*Registry, error) {
	r := &Registry{
		path: path,
		log:  log.WithField("component", "bidder_registry"),
	}

	if err := r.Reload(); err != nil {
		return nil, err
	}

	return r, nil
}

// Reload re-reads the inventory file and atomically replaces the snapshot.
func (r *Registry) Reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("failed to read bidder inventory: %w", err)
	}

	var inv inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return fmt.Errorf("failed to parse bidder inventory: %w", err)
	}

	snap := &snapshot{
		byName:  make(map[string]*Config, len(inv.Bidders)),
		entries: make([]Config, 0, len(inv.Bidders)),
	}

	for i := range inv.Bidders {
		cfg := inv.Bidders[i]
		if cfg.Name == "" {
			return fmt.Errorf("bidder inventory entry %d has no name", i)
		}

		if cfg.TimeoutMS == 0 {
			cfg.TimeoutMS = 200
		}

		if len(cfg.Pools) == 0 {
			cfg.Pools = []string{"default"}
		}

		if _, dup := snap.byName[cfg.Name]; dup {
			return fmt.Errorf("bidder inventory has duplicate name %q", cfg.Name)
		}

		snap.entries = append(snap.entries, cfg)
		snap.order = append(snap.order, cfg.Name)
		snap.byName[cfg.Name] = &snap.entries[len(snap.entries)-1]
	}

	r.mu.Lock()
	r.snap = snap
	r.mu.Unlock()

	r.log.WithField("bidders", len(snap.entries)).Info("Loaded bidder inventory")

	return nil
}

func (r *Registry) snapshot() *snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.snap
}

// All returns every bidder in inventory order.
func (r *Registry) All() []Config {
	snap := r.snapshot()

	out := make([]Config, len(snap.entries))
	copy(out, snap.entries)

	return out
}

// Get returns the bidder with the given name, or nil.
func (r *Registry) Get(name string) *Config {
	snap := r.snapshot()

	cfg, ok := snap.byName[name]
	if !ok {
		return nil
	}

	out := *cfg

	return &out
}

// FilterByPools returns every bidder whose pools intersect the given set,
// preserving inventory order.
func (r *Registry) FilterByPools(pools []string) []Config {
	snap := r.snapshot()

	var out []Config

	for _, cfg := range snap.entries {
		if cfg.SubscribesTo(pools) {
			out = append(out, cfg)
		}
	}

	return out
}

// Names extracts the bidder names from a filtered list.
func Names(bidders []Config) []string {
	names := make([]string, len(bidders))
	for i, b := range bidders {
		names[i] = b.Name
	}

	return names
}
