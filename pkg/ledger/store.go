package ledger

import (
	"context"
	"errors"
)

// ErrNotFound is returned by stores when no record exists for a key.
var ErrNotFound = errors.New("record not found")

// Store is the persistence contract for ledger records. Implementations must
// apply the mutate callback atomically per record; an error from the callback
// aborts the update and is returned unchanged.
type Store interface {
	CreateRecord(ctx context.Context, record *Record) error
	GetRecord(ctx context.Context, serveToken string) (*Record, error)
	UpdateRecord(ctx context.Context, serveToken string, mutate func(*Record) error) (*Record, error)
	ListRecords(ctx context.Context) ([]*Record, error)
}
