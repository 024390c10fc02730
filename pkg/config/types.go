// Package config handles configuration loading and validation for the
// auction coordinator.
package config

// Config represents the complete server configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen" json:"listen"`
	Transport TransportConfig `yaml:"transport" json:"transport"`
	Ledger    LedgerConfig    `yaml:"ledger" json:"ledger"`
	Auction   AuctionConfig   `yaml:"auction" json:"auction"`
	Weave     WeaveConfig     `yaml:"weave" json:"weave"`
	Operator  OperatorConfig  `yaml:"operator" json:"operator"`
	Admin     AdminConfig     `yaml:"admin" json:"admin"`
	Debug     bool            `yaml:"debug" json:"debug"`
}

// ListenConfig defines the HTTP listener address.
type ListenConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// TransportConfig tunes the signed-envelope guards.
type TransportConfig struct {
	NonceTTLSeconds int `yaml:"nonce_ttl_seconds" json:"nonce_ttl_seconds"`
	MaxClockSkewMS  int `yaml:"max_clock_skew_ms" json:"max_clock_skew_ms"`
}

// StorageBackend selects a record store driver.
type StorageBackend string

const (
	// BackendInMemory keeps records in process memory.
	BackendInMemory StorageBackend = "in_memory"
	// BackendRedis keeps records in Redis.
	BackendRedis StorageBackend = "redis"
	// BackendPostgres keeps records in PostgreSQL JSONB tables.
	BackendPostgres StorageBackend = "postgres"
	// BackendDocumentStore keeps records in Cloud Firestore.
	BackendDocumentStore StorageBackend = "document_store"
)

// LedgerConfig selects and tunes the record store.
type LedgerConfig struct {
	Backend StorageBackend `yaml:"backend" json:"backend"`
	Options StorageOptions `yaml:"options" json:"options"`
}

// StorageOptions carries driver-specific settings. Only the section matching
// the selected backend is consulted.
type StorageOptions struct {
	KeyPrefix string           `yaml:"key_prefix" json:"key_prefix"`
	Redis     RedisOptions     `yaml:"redis" json:"redis"`
	Postgres  PostgresOptions  `yaml:"postgres" json:"postgres"`
	Firestore FirestoreOptions `yaml:"firestore" json:"firestore"`
}

// RedisOptions configures the Redis driver.
type RedisOptions struct {
	URL string `yaml:"url" json:"url"`
}

// PostgresOptions configures the PostgreSQL driver.
type PostgresOptions struct {
	DSN string `yaml:"dsn" json:"dsn,omitempty"`
}

// FirestoreOptions configures the Cloud Firestore driver.
type FirestoreOptions struct {
	ProjectID                string `yaml:"project_id" json:"project_id"`
	CredentialsFile          string `yaml:"credentials_file" json:"-"`
	LedgerCollection         string `yaml:"ledger_collection" json:"ledger_collection"`
	RecommendationCollection string `yaml:"recommendation_collection" json:"recommendation_collection"`
}

// DistributionBackend selects a bid distribution publisher.
type DistributionBackend string

const (
	// DistributionLocal logs deliveries without a network hop.
	DistributionLocal DistributionBackend = "local"
	// DistributionManagedTopic publishes to a managed pub/sub topic per pool.
	DistributionManagedTopic DistributionBackend = "managed_topic"
	// DistributionGossip publishes over libp2p gossipsub, one topic per pool.
	DistributionGossip DistributionBackend = "gossip"
)

// AuctionConfig tunes the auction runner.
type AuctionConfig struct {
	WindowMS     int                `yaml:"window_ms" json:"window_ms"`
	Distribution DistributionConfig `yaml:"distribution" json:"distribution"`
}

// DistributionConfig selects and tunes the publisher.
type DistributionConfig struct {
	Backend DistributionBackend `yaml:"backend" json:"backend"`
	Options DistributionOptions `yaml:"options" json:"options"`
}

// DistributionOptions carries publisher-specific settings.
type DistributionOptions struct {
	TopicPrefix string        `yaml:"topic_prefix" json:"topic_prefix"`
	PubSub      PubSubOptions `yaml:"pubsub" json:"pubsub"`
	Gossip      GossipOptions `yaml:"gossip" json:"gossip"`
}

// PubSubOptions configures the managed-topic publisher.
type PubSubOptions struct {
	ProjectID       string `yaml:"project_id" json:"project_id"`
	CredentialsFile string `yaml:"credentials_file" json:"-"`
}

// GossipOptions configures the gossipsub publisher.
type GossipOptions struct {
	ListenAddrs    []string `yaml:"listen_addrs" json:"listen_addrs"`
	BootstrapPeers []string `yaml:"bootstrap_peers" json:"bootstrap_peers"`
}

// WeaveConfig tunes the recommendation coordinator.
type WeaveConfig struct {
	Workers      int `yaml:"workers" json:"workers"`
	QueueSize    int `yaml:"queue_size" json:"queue_size"`
	RetryAfterMS int `yaml:"retry_after_ms" json:"retry_after_ms"`
}

// OperatorConfig identifies the coordinator operator.
type OperatorConfig struct {
	ID             string   `yaml:"id" json:"id"`
	AllowedFormats []string `yaml:"allowed_formats" json:"allowed_formats"`
}

// AdminConfig tunes the admin surface. An empty AuthSecret leaves the admin
// endpoints open; otherwise requests must carry a bearer JWT signed with it.
type AdminConfig struct {
	AuthSecret string `yaml:"auth_secret" json:"-"`
}
