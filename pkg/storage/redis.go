package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/adweave/aip-coordinator/pkg/config"
	"github.com/adweave/aip-coordinator/pkg/ledger"
	"github.com/adweave/aip-coordinator/pkg/weave"
)

// RedisStore keeps records as JSON documents in Redis. Updates run inside a
// WATCH/MULTI optimistic transaction so concurrent mutators of the same
// record retry instead of clobbering each other.
type RedisStore struct {
	client *redis.Client
	prefix string
	log    logrus.FieldLogger
}

const redisUpdateAttempts = 5

// NewRedisStore connects to Redis using the configured URL.
func NewRedisStore(ctx context.Context, opts config.StorageOptions, log logrus.FieldLogger) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(opts.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "aip"
	}

	log = log.WithField("component", "storage_redis")
	log.WithField("addr", redisOpts.Addr).Info("Connected to redis")

	return &RedisStore{client: client, prefix: prefix, log: log}, nil
}

func (s *RedisStore) recordKey(serveToken string) string {
	return fmt.Sprintf("%s:record:%s", s.prefix, serveToken)
}

func (s *RedisStore) recommendationKey(sessionID, messageID string) string {
	return fmt.Sprintf("%s:rec:%s:%s", s.prefix, sessionID, messageID)
}

// CreateRecord stores a new ledger record.
func (s *RedisStore) CreateRecord(ctx context.Context, record *ledger.Record) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.recordKey(record.ServeToken), raw, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to store record: %w", err)
	}

	if !ok {
		return fmt.Errorf("record %q already exists", record.ServeToken)
	}

	return nil
}

// GetRecord fetches a ledger record by serve token.
func (s *RedisStore) GetRecord(ctx context.Context, serveToken string) (*ledger.Record, error) {
	raw, err := s.client.Get(ctx, s.recordKey(serveToken)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ledger.ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to fetch record: %w", err)
	}

	var record ledger.Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}

	return &record, nil
}

// UpdateRecord applies mutate under an optimistic WATCH transaction.
func (s *RedisStore) UpdateRecord(ctx context.Context, serveToken string, mutate func(*ledger.Record) error) (*ledger.Record, error) {
	key := s.recordKey(serveToken)

	var updated *ledger.Record

	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ledger.ErrNotFound
		}

		if err != nil {
			return err
		}

		var record ledger.Record
		if err := json.Unmarshal(raw, &record); err != nil {
			return fmt.Errorf("failed to decode record: %w", err)
		}

		if err := mutate(&record); err != nil {
			return err
		}

		encoded, err := json.Marshal(&record)
		if err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)

			return nil
		})
		if err != nil {
			return err
		}

		updated = &record

		return nil
	}

	for attempt := 0; attempt < redisUpdateAttempts; attempt++ {
		err := s.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}

		if err != nil {
			return nil, err
		}

		return updated, nil
	}

	return nil, fmt.Errorf("record %q update contended after %d attempts", serveToken, redisUpdateAttempts)
}

// ListRecords scans every ledger record under the prefix.
func (s *RedisStore) ListRecords(ctx context.Context) ([]*ledger.Record, error) {
	var (
		out    []*ledger.Record
		cursor uint64
	)

	match := fmt.Sprintf("%s:record:*", s.prefix)

	for {
		keys, next, err := s.client.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan records: %w", err)
		}

		for _, key := range keys {
			raw, err := s.client.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				continue
			}

			if err != nil {
				return nil, fmt.Errorf("failed to fetch record %q: %w", key, err)
			}

			var record ledger.Record
			if err := json.Unmarshal(raw, &record); err != nil {
				return nil, fmt.Errorf("failed to decode record %q: %w", key, err)
			}

			out = append(out, &record)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return out, nil
}

// GetRecommendation fetches a recommendation by (session, message).
func (s *RedisStore) GetRecommendation(ctx context.Context, sessionID, messageID string) (*weave.Recommendation, error) {
	raw, err := s.client.Get(ctx, s.recommendationKey(sessionID, messageID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, weave.ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to fetch recommendation: %w", err)
	}

	var rec weave.Recommendation
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode recommendation: %w", err)
	}

	return &rec, nil
}

// CreateRecommendation inserts conditionally via SETNX.
func (s *RedisStore) CreateRecommendation(ctx context.Context, rec *weave.Recommendation) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode recommendation: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.recommendationKey(rec.SessionID, rec.MessageID), raw, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to store recommendation: %w", err)
	}

	if !ok {
		return weave.ErrAlreadyExists
	}

	return nil
}

// UpdateRecommendation applies mutate under an optimistic WATCH transaction.
func (s *RedisStore) UpdateRecommendation(ctx context.Context, sessionID, messageID string, mutate func(*weave.Recommendation) error) (*weave.Recommendation, error) {
	key := s.recommendationKey(sessionID, messageID)

	var updated *weave.Recommendation

	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return weave.ErrNotFound
		}

		if err != nil {
			return err
		}

		var rec weave.Recommendation
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("failed to decode recommendation: %w", err)
		}

		if err := mutate(&rec); err != nil {
			return err
		}

		encoded, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("failed to encode recommendation: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)

			return nil
		})
		if err != nil {
			return err
		}

		updated = &rec

		return nil
	}

	for attempt := 0; attempt < redisUpdateAttempts; attempt++ {
		err := s.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}

		if err != nil {
			return nil, err
		}

		return updated, nil
	}

	return nil, fmt.Errorf("recommendation %s/%s update contended after %d attempts", sessionID, messageID, redisUpdateAttempts)
}

// Close releases the client connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
