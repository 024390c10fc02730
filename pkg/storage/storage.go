// Package storage provides the record store drivers behind the ledger and
// recommendation services. One driver is selected from configuration; all
// drivers guarantee per-record atomic updates and conditional recommendation
// inserts.
package storage

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/adweave/aip-coordinator/pkg/config"
	"github.com/adweave/aip-coordinator/pkg/ledger"
	"github.com/adweave/aip-coordinator/pkg/weave"
)

// Store combines the ledger and recommendation persistence contracts.
type Store interface {
	ledger.Store
	weave.Store

	// Close releases driver resources. Safe to call once after Stop.
	Close() error
}

// Build constructs the store selected by the ledger configuration.
func Build(ctx context.Context, cfg config.LedgerConfig, log logrus.FieldLogger) (Store, error) {
	switch cfg.Backend {
	case config.BackendInMemory:
		return NewMemoryStore(log), nil
	case config.BackendRedis:
		return NewRedisStore(ctx, cfg.Options, log)
	case config.BackendPostgres:
		return NewPostgresStore(ctx, cfg.Options, log)
	case config.BackendDocumentStore:
		return NewFirestoreStore(ctx, cfg.Options, log)
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
	}
}
