package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/adweave/aip-coordinator/pkg/config"
	"github.com/adweave/aip-coordinator/pkg/ledger"
	"github.com/adweave/aip-coordinator/pkg/weave"
)

// PostgresStore keeps records as JSONB documents. Updates lock the row with
// SELECT ... FOR UPDATE inside a transaction, which gives the per-record
// atomicity the ledger service depends on.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  logrus.FieldLogger
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS ledger_records (
	serve_token TEXT PRIMARY KEY,
	data JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS recommendations (
	session_id TEXT NOT NULL,
	message_id TEXT NOT NULL,
	data JSONB NOT NULL,
	PRIMARY KEY (session_id, message_id)
);`

// NewPostgresStore connects to PostgreSQL and ensures the schema exists.
func NewPostgresStore(ctx context.Context, opts config.StorageOptions, log logrus.FieldLogger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, opts.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres dsn: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()

		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()

		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	log = log.WithField("component", "storage_postgres")
	log.Info("Connected to postgres")

	return &PostgresStore{pool: pool, log: log}, nil
}

// CreateRecord stores a new ledger record.
func (s *PostgresStore) CreateRecord(ctx context.Context, record *ledger.Record) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO ledger_records (serve_token, data) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		record.ServeToken, raw)
	if err != nil {
		return fmt.Errorf("failed to store record: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record %q already exists", record.ServeToken)
	}

	return nil
}

// GetRecord fetches a ledger record by serve token.
func (s *PostgresStore) GetRecord(ctx context.Context, serveToken string) (*ledger.Record, error) {
	var raw []byte

	err := s.pool.QueryRow(ctx,
		`SELECT data FROM ledger_records WHERE serve_token = $1`, serveToken).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
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

// UpdateRecord applies mutate with the row locked.
func (s *PostgresStore) UpdateRecord(ctx context.Context, serveToken string, mutate func(*ledger.Record) error) (*ledger.Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var raw []byte

	err = tx.QueryRow(ctx,
		`SELECT data FROM ledger_records WHERE serve_token = $1 FOR UPDATE`, serveToken).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to fetch record: %w", err)
	}

	var record ledger.Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}

	if err := mutate(&record); err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(&record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE ledger_records SET data = $2 WHERE serve_token = $1`, serveToken, encoded); err != nil {
		return nil, fmt.Errorf("failed to update record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit update: %w", err)
	}

	return &record, nil
}

// ListRecords returns every ledger record.
func (s *PostgresStore) ListRecords(ctx context.Context) ([]*ledger.Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM ledger_records`)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var out []*ledger.Record

	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		var record ledger.Record
		if err := json.Unmarshal(raw, &record); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}

		out = append(out, &record)
	}

	return out, rows.Err()
}

// GetRecommendation fetches a recommendation by (session, message).
func (s *PostgresStore) GetRecommendation(ctx context.Context, sessionID, messageID string) (*weave.Recommendation, error) {
	var raw []byte

	err := s.pool.QueryRow(ctx,
		`SELECT data FROM recommendations WHERE session_id = $1 AND message_id = $2`,
		sessionID, messageID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
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

// CreateRecommendation inserts conditionally via ON CONFLICT DO NOTHING.
func (s *PostgresStore) CreateRecommendation(ctx context.Context, rec *weave.Recommendation) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode recommendation: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO recommendations (session_id, message_id, data) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		rec.SessionID, rec.MessageID, raw)
	if err != nil {
		return fmt.Errorf("failed to store recommendation: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return weave.ErrAlreadyExists
	}

	return nil
}

// UpdateRecommendation applies mutate with the row locked.
func (s *PostgresStore) UpdateRecommendation(ctx context.Context, sessionID, messageID string, mutate func(*weave.Recommendation) error) (*weave.Recommendation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var raw []byte

	err = tx.QueryRow(ctx,
		`SELECT data FROM recommendations WHERE session_id = $1 AND message_id = $2 FOR UPDATE`,
		sessionID, messageID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, weave.ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to fetch recommendation: %w", err)
	}

	var rec weave.Recommendation
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode recommendation: %w", err)
	}

	if err := mutate(&rec); err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode recommendation: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE recommendations SET data = $3 WHERE session_id = $1 AND message_id = $2`,
		sessionID, messageID, encoded); err != nil {
		return nil, fmt.Errorf("failed to update recommendation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit update: %w", err)
	}

	return &rec, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()

	return nil
}
