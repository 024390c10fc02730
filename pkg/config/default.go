package config

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen: ListenConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Transport: TransportConfig{
			NonceTTLSeconds: 60,
			MaxClockSkewMS:  500,
		},
		Ledger: LedgerConfig{
			Backend: BackendInMemory,
			Options: StorageOptions{
				KeyPrefix: "aip",
				Redis: RedisOptions{
					URL: "redis://localhost:6379/0",
				},
				Firestore: FirestoreOptions{
					LedgerCollection:         "ledger_records",
					RecommendationCollection: "recommendations",
				},
			},
		},
		Auction: AuctionConfig{
			WindowMS: 50,
			Distribution: DistributionConfig{
				Backend: DistributionLocal,
				Options: DistributionOptions{
					TopicPrefix: "aip-auction",
					Gossip: GossipOptions{
						ListenAddrs: []string{"/ip4/0.0.0.0/tcp/0"},
					},
				},
			},
		},
		Weave: WeaveConfig{
			Workers:      4,
			QueueSize:    64,
			RetryAfterMS: 150,
		},
		Operator: OperatorConfig{
			ID:             "operator",
			AllowedFormats: []string{"weave"},
		},
	}
}
