package config

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Environment pointers naming the server and bidder inventory files.
const (
	EnvConfigPath  = "AIP_CONFIG_PATH"
	EnvBiddersPath = "AIP_BIDDERS_PATH"
)

// Loader handles configuration loading from files and flags.
type Loader struct {
	log logrus.FieldLogger
}

// NewLoader creates a new configuration loader.
func NewLoader(log logrus.FieldLogger) *Loader {
	return &Loader{
		log: log.WithField("component", "config"),
	}
}

// LoadConfig loads configuration from a YAML file.
func (l *Loader) LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// LoadConfigFromFlags loads configuration overrides from viper flags.
func (l *Loader) LoadConfigFromFlags(v *viper.Viper) (*Config, error) {
	cfg := &Config{}

	if val := v.GetString("listen-host"); val != "" {
		cfg.Listen.Host = val
	}

	if val := v.GetInt("listen-port"); val != 0 {
		cfg.Listen.Port = val
	}

	if val := v.GetInt("nonce-ttl-seconds"); val != 0 {
		cfg.Transport.NonceTTLSeconds = val
	}

	if val := v.GetInt("max-clock-skew-ms"); val != 0 {
		cfg.Transport.MaxClockSkewMS = val
	}

	if val := v.GetString("ledger-backend"); val != "" {
		cfg.Ledger.Backend = StorageBackend(val)
	}

	if val := v.GetInt("window-ms"); val != 0 {
		cfg.Auction.WindowMS = val
	}

	if val := v.GetString("distribution-backend"); val != "" {
		cfg.Auction.Distribution.Backend = DistributionBackend(val)
	}

	if val := v.GetString("operator-id"); val != "" {
		cfg.Operator.ID = val
	}

	cfg.Debug = v.GetBool("debug")

	return cfg, nil
}

// ServerConfigPath resolves the server config file path: an explicit flag
// wins, then the environment pointer.
func ServerConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}

	return os.Getenv(EnvConfigPath)
}

// BiddersPath resolves the bidder inventory file path: an explicit flag
// wins, then the environment pointer.
func BiddersPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}

	return os.Getenv(EnvBiddersPath)
}

// ValidateConfig validates the configuration for consistency and completeness.
func ValidateConfig(cfg *Config) error {
	if cfg.Listen.Port <= 0 || cfg.Listen.Port > 65535 {
		return fmt.Errorf("listen.port: invalid port %d", cfg.Listen.Port)
	}

	if cfg.Transport.NonceTTLSeconds <= 0 {
		return fmt.Errorf("transport.nonce_ttl_seconds must be > 0")
	}

	if cfg.Transport.MaxClockSkewMS <= 0 {
		return fmt.Errorf("transport.max_clock_skew_ms must be > 0")
	}

	if cfg.Auction.WindowMS <= 0 {
		return fmt.Errorf("auction.window_ms must be > 0")
	}

	switch cfg.Ledger.Backend {
	case BackendInMemory:
	case BackendRedis:
		if cfg.Ledger.Options.Redis.URL == "" {
			return fmt.Errorf("ledger.options.redis.url is required for the redis backend")
		}
	case BackendPostgres:
		if cfg.Ledger.Options.Postgres.DSN == "" {
			return fmt.Errorf("ledger.options.postgres.dsn is required for the postgres backend")
		}
	case BackendDocumentStore:
		if cfg.Ledger.Options.Firestore.ProjectID == "" {
			return fmt.Errorf("ledger.options.firestore.project_id is required for the document_store backend")
		}
	default:
		return fmt.Errorf("ledger.backend: invalid value %q (must be in_memory, redis, postgres, or document_store)",
			cfg.Ledger.Backend)
	}

	switch cfg.Auction.Distribution.Backend {
	case DistributionLocal:
	case DistributionManagedTopic:
		if cfg.Auction.Distribution.Options.PubSub.ProjectID == "" {
			return fmt.Errorf("auction.distribution.options.pubsub.project_id is required for the managed_topic backend")
		}
	case DistributionGossip:
		if len(cfg.Auction.Distribution.Options.Gossip.ListenAddrs) == 0 {
			return fmt.Errorf("auction.distribution.options.gossip.listen_addrs is required for the gossip backend")
		}
	default:
		return fmt.Errorf("auction.distribution.backend: invalid value %q (must be local, managed_topic, or gossip)",
			cfg.Auction.Distribution.Backend)
	}

	if cfg.Weave.Workers <= 0 {
		return fmt.Errorf("weave.workers must be > 0")
	}

	if cfg.Weave.RetryAfterMS <= 0 {
		return fmt.Errorf("weave.retry_after_ms must be > 0")
	}

	if cfg.Operator.ID == "" {
		return fmt.Errorf("operator.id must not be empty")
	}

	return nil
}

// MergeConfigs merges override config values into the base config.
// Non-zero values in override replace values in base.
func MergeConfigs(base, override *Config) *Config {
	result := *base

	if override.Listen.Host != "" {
		result.Listen.Host = override.Listen.Host
	}

	if override.Listen.Port != 0 {
		result.Listen.Port = override.Listen.Port
	}

	if override.Transport.NonceTTLSeconds != 0 {
		result.Transport.NonceTTLSeconds = override.Transport.NonceTTLSeconds
	}

	if override.Transport.MaxClockSkewMS != 0 {
		result.Transport.MaxClockSkewMS = override.Transport.MaxClockSkewMS
	}

	if override.Ledger.Backend != "" {
		result.Ledger.Backend = override.Ledger.Backend
	}

	if override.Auction.WindowMS != 0 {
		result.Auction.WindowMS = override.Auction.WindowMS
	}

	if override.Auction.Distribution.Backend != "" {
		result.Auction.Distribution.Backend = override.Auction.Distribution.Backend
	}

	if override.Operator.ID != "" {
		result.Operator.ID = override.Operator.ID
	}

	if override.Debug {
		result.Debug = true
	}

	return &result
}
