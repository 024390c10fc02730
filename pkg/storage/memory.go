package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/adweave/aip-coordinator/pkg/ledger"
	"github.com/adweave/aip-coordinator/pkg/weave"
)

// MemoryStore keeps records in process memory. It is the default backend and
// the one used by tests. Records are deep-copied on the way in and out so
// callers never share state with the store.
type MemoryStore struct {
	log logrus.FieldLogger

	mu      sync.RWMutex
	records map[string]*ledger.Record
	recs    map[string]*weave.Recommendation
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(log logrus.FieldLogger) *MemoryStore {
	return &MemoryStore{
		log:     log.WithField("component", "storage_memory"),
		records: make(map[string]*ledger.Record),
		recs:    make(map[string]*weave.Recommendation),
	}
}

// CreateRecord stores a new ledger record.
func (s *MemoryStore) CreateRecord(_ context.Context, record *ledger.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.ServeToken]; exists {
		return fmt.Errorf("record %q already exists", record.ServeToken)
	}

	s.records[record.ServeToken] = cloneRecord(record)

	return nil
}

// GetRecord fetches a ledger record by serve token.
func (s *MemoryStore) GetRecord(_ context.Context, serveToken string) (*ledger.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[serveToken]
	if !ok {
		return nil, ledger.ErrNotFound
	}

	return cloneRecord(record), nil
}

// UpdateRecord applies mutate atomically to the stored record.
func (s *MemoryStore) UpdateRecord(_ context.Context, serveToken string, mutate func(*ledger.Record) error) (*ledger.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[serveToken]
	if !ok {
		return nil, ledger.ErrNotFound
	}

	updated := cloneRecord(record)
	if err := mutate(updated); err != nil {
		return nil, err
	}

	s.records[serveToken] = updated

	return cloneRecord(updated), nil
}

// ListRecords returns every ledger record.
func (s *MemoryStore) ListRecords(_ context.Context) ([]*ledger.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*ledger.Record, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, cloneRecord(record))
	}

	return out, nil
}

// GetRecommendation fetches a recommendation by (session, message).
func (s *MemoryStore) GetRecommendation(_ context.Context, sessionID, messageID string) (*weave.Recommendation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.recs[recommendationKey(sessionID, messageID)]
	if !ok {
		return nil, weave.ErrNotFound
	}

	return cloneRecommendation(rec), nil
}

// CreateRecommendation inserts a recommendation, failing when the key is
// already present. The coordinator relies on this for single-flight.
func (s *MemoryStore) CreateRecommendation(_ context.Context, rec *weave.Recommendation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recommendationKey(rec.SessionID, rec.MessageID)
	if _, exists := s.recs[key]; exists {
		return weave.ErrAlreadyExists
	}

	s.recs[key] = cloneRecommendation(rec)

	return nil
}

// UpdateRecommendation applies mutate atomically to the stored recommendation.
func (s *MemoryStore) UpdateRecommendation(_ context.Context, sessionID, messageID string, mutate func(*weave.Recommendation) error) (*weave.Recommendation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recommendationKey(sessionID, messageID)

	rec, ok := s.recs[key]
	if !ok {
		return nil, weave.ErrNotFound
	}

	updated := cloneRecommendation(rec)
	if err := mutate(updated); err != nil {
		return nil, err
	}

	s.recs[key] = updated

	return cloneRecommendation(updated), nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// recommendationKey flattens the composite key. Session and message ids come
// from the platform and never contain the separator.
func recommendationKey(sessionID, messageID string) string {
	return sessionID + "|" + messageID
}

func cloneRecord(record *ledger.Record) *ledger.Record {
	raw, _ := json.Marshal(record)

	var out ledger.Record

	_ = json.Unmarshal(raw, &out)

	return &out
}

func cloneRecommendation(rec *weave.Recommendation) *weave.Recommendation {
	raw, _ := json.Marshal(rec)

	var out weave.Recommendation

	_ = json.Unmarshal(raw, &out)

	return &out
}
