package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/adweave/aip-coordinator/pkg/config"
	"github.com/adweave/aip-coordinator/pkg/ledger"
	"github.com/adweave/aip-coordinator/pkg/weave"
)

// FirestoreStore keeps records as Firestore documents. Conditional inserts
// use document Create (fails on AlreadyExists); updates run inside a
// Firestore transaction.
type FirestoreStore struct {
	client  *firestore.Client
	ledgers string
	recs    string
	log     logrus.FieldLogger
}

// NewFirestoreStore connects to Cloud Firestore.
func NewFirestoreStore(ctx context.Context, opts config.StorageOptions, log logrus.FieldLogger) (*FirestoreStore, error) {
	var clientOpts []option.ClientOption
	if opts.Firestore.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.Firestore.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, opts.Firestore.ProjectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	ledgers := opts.Firestore.LedgerCollection
	if ledgers == "" {
		ledgers = "ledger_records"
	}

	recs := opts.Firestore.RecommendationCollection
	if recs == "" {
		recs = "recommendations"
	}

	log = log.WithField("component", "storage_firestore")
	log.WithField("project", opts.Firestore.ProjectID).Info("Connected to firestore")

	return &FirestoreStore{client: client, ledgers: ledgers, recs: recs, log: log}, nil
}

// toDocument round-trips a struct through JSON so the stored document keeps
// the wire field names rather than Go field names.
func toDocument(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to shape document: %w", err)
	}

	return doc, nil
}

func fromDocument(doc map[string]any, out any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}

	return nil
}

// CreateRecord stores a new ledger record.
func (s *FirestoreStore) CreateRecord(ctx context.Context, record *ledger.Record) error {
	doc, err := toDocument(record)
	if err != nil {
		return err
	}

	if _, err := s.client.Collection(s.ledgers).Doc(record.ServeToken).Create(ctx, doc); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return fmt.Errorf("record %q already exists", record.ServeToken)
		}

		return fmt.Errorf("failed to store record: %w", err)
	}

	return nil
}

// GetRecord fetches a ledger record by serve token.
func (s *FirestoreStore) GetRecord(ctx context.Context, serveToken string) (*ledger.Record, error) {
	snap, err := s.client.Collection(s.ledgers).Doc(serveToken).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ledger.ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to fetch record: %w", err)
	}

	var record ledger.Record
	if err := fromDocument(snap.Data(), &record); err != nil {
		return nil, err
	}

	return &record, nil
}

// UpdateRecord applies mutate inside a Firestore transaction.
func (s *FirestoreStore) UpdateRecord(ctx context.Context, serveToken string, mutate func(*ledger.Record) error) (*ledger.Record, error) {
	ref := s.client.Collection(s.ledgers).Doc(serveToken)

	var updated *ledger.Record

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return ledger.ErrNotFound
		}

		if err != nil {
			return fmt.Errorf("failed to fetch record: %w", err)
		}

		var record ledger.Record
		if err := fromDocument(snap.Data(), &record); err != nil {
			return err
		}

		if err := mutate(&record); err != nil {
			return err
		}

		doc, err := toDocument(&record)
		if err != nil {
			return err
		}

		updated = &record

		return tx.Set(ref, doc)
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// ListRecords returns every ledger record.
func (s *FirestoreStore) ListRecords(ctx context.Context) ([]*ledger.Record, error) {
	snaps, err := s.client.Collection(s.ledgers).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	out := make([]*ledger.Record, 0, len(snaps))

	for _, snap := range snaps {
		var record ledger.Record
		if err := fromDocument(snap.Data(), &record); err != nil {
			return nil, err
		}

		out = append(out, &record)
	}

	return out, nil
}

// GetRecommendation fetches a recommendation by (session, message).
func (s *FirestoreStore) GetRecommendation(ctx context.Context, sessionID, messageID string) (*weave.Recommendation, error) {
	snap, err := s.client.Collection(s.recs).Doc(recommendationKey(sessionID, messageID)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, weave.ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to fetch recommendation: %w", err)
	}

	var rec weave.Recommendation
	if err := fromDocument(snap.Data(), &rec); err != nil {
		return nil, err
	}

	return &rec, nil
}

// CreateRecommendation inserts conditionally via document Create.
func (s *FirestoreStore) CreateRecommendation(ctx context.Context, rec *weave.Recommendation) error {
	doc, err := toDocument(rec)
	if err != nil {
		return err
	}

	ref := s.client.Collection(s.recs).Doc(recommendationKey(rec.SessionID, rec.MessageID))

	if _, err := ref.Create(ctx, doc); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return weave.ErrAlreadyExists
		}

		return fmt.Errorf("failed to store recommendation: %w", err)
	}

	return nil
}

// UpdateRecommendation applies mutate inside a Firestore transaction.
func (s *FirestoreStore) UpdateRecommendation(ctx context.Context, sessionID, messageID string, mutate func(*weave.Recommendation) error) (*weave.Recommendation, error) {
	ref := s.client.Collection(s.recs).Doc(recommendationKey(sessionID, messageID))

	var updated *weave.Recommendation

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return weave.ErrNotFound
		}

		if err != nil {
			return fmt.Errorf("failed to fetch recommendation: %w", err)
		}

		var rec weave.Recommendation
		if err := fromDocument(snap.Data(), &rec); err != nil {
			return err
		}

		if err := mutate(&rec); err != nil {
			return err
		}

		doc, err := toDocument(&rec)
		if err != nil {
			return err
		}

		updated = &rec

		return tx.Set(ref, doc)
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// Close releases the Firestore client.
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}
