package weave

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/adweave/aip-coordinator/pkg/config"
	"github.com/adweave/aip-coordinator/pkg/ledger"
	"github.com/adweave/aip-coordinator/pkg/metrics"
	"github.com/adweave/aip-coordinator/pkg/platform"
)

// AuctionRunner is the slice of the auction runner the coordinator needs.
type AuctionRunner interface {
	Run(ctx context.Context, cr *platform.ContextRequest) (*ledger.Record, error)
}

// Result is what a caller gets back from GetOrCreate.
type Result struct {
	Status           Status         `json:"status"`
	RetryAfterMS     int            `json:"retry_after_ms,omitempty"`
	WeaveContent     string         `json:"weave_content,omitempty"`
	ServeToken       string         `json:"serve_token,omitempty"`
	CreativeMetadata map[string]any `json:"creative_metadata,omitempty"`
	Error            string         `json:"error,omitempty"`
}

type job struct {
	sessionID string
	messageID string
	query     string
}

// Coordinator multiplexes concurrent recommendation requests for the same
// (session, message) onto one background auction. Background jobs run on a
// worker pool owned by the process, so a canceled HTTP caller never kills an
// in-flight auction.
type Coordinator struct {
	store      Store
	runner     AuctionRunner
	operator   config.OperatorConfig
	retryAfter int
	log        logrus.FieldLogger

	jobs    chan job
	workers int
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	now     func() time.Time
}

// NewCoordinator creates the recommendation coordinator.
func NewCoordinator(store Store, runner AuctionRunner, cfg config.WeaveConfig, operator config.OperatorConfig, log logrus.FieldLogger) *Coordinator {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}

	retryAfter := cfg.RetryAfterMS
	if retryAfter <= 0 {
		retryAfter = 150
	}

	return &Coordinator{
		store:      store,
		runner:     runner,
		operator:   operator,
		retryAfter: retryAfter,
		log:        log.WithField("component", "weave"),
		jobs:       make(chan job, queueSize),
		workers:    workers,
		now:        time.Now,
	}
}

// Start spins up the worker pool. The pool's context derives from the
// process context passed here, not from any request.
func (c *Coordinator) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)

		go c.worker()
	}

	c.log.WithField("workers", c.workers).Info("Recommendation coordinator started")

	return nil
}

// Stop drains the workers and waits for in-flight jobs.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}

	c.wg.Wait()
}

func (c *Coordinator) worker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case j := <-c.jobs:
			c.runJob(j)
		}
	}
}

// GetOrCreate implements the cache-first three-path logic. The first caller
// for a (session, message) creates the record and dispatches a background
// auction; everyone else reads the record's current status.
func (c *Coordinator) GetOrCreate(ctx context.Context, sessionID, messageID, query string) (*Result, error) {
	rec, err := c.store.GetRecommendation(ctx, sessionID, messageID)

	switch {
	case err == nil:
		return c.resultFor(rec), nil
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	now := c.now().UTC()
	rec = &Recommendation{
		SessionID: sessionID,
		MessageID: messageID,
		Query:     query,
		Status:    StatusInProgress,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := c.store.CreateRecommendation(ctx, rec); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			// Lost the race; the other caller owns the auction.
			existing, getErr := c.store.GetRecommendation(ctx, sessionID, messageID)
			if getErr != nil {
				return nil, getErr
			}

			return c.resultFor(existing), nil
		}

		return nil, err
	}

	metrics.RecommendationsTotal.WithLabelValues("created").Inc()

	select {
	case c.jobs <- job{sessionID: sessionID, messageID: messageID, query: query}:
	case <-c.ctx.Done():
		return nil, c.ctx.Err()
	}

	return &Result{Status: StatusInProgress, RetryAfterMS: c.retryAfter}, nil
}

func (c *Coordinator) resultFor(rec *Recommendation) *Result {
	metrics.RecommendationsTotal.WithLabelValues(string(rec.Status)).Inc()

	switch rec.Status {
	case StatusCompleted:
		return &Result{
			Status:           StatusCompleted,
			WeaveContent:     rec.WeaveContent,
			ServeToken:       rec.ServeToken,
			CreativeMetadata: rec.CreativeMetadata,
		}
	case StatusFailed:
		return &Result{Status: StatusFailed, Error: rec.Error}
	default:
		return &Result{Status: StatusInProgress, RetryAfterMS: c.retryAfter}
	}
}

// runJob executes the background auction and transitions the record exactly
// once, to completed or failed. Failures are recorded, never surfaced to the
// caller that triggered the job.
func (c *Coordinator) runJob(j job) {
	log := c.log.WithFields(logrus.Fields{
		"session_id": j.sessionID,
		"message_id": j.messageID,
	})

	record, err := c.runner.Run(c.ctx, c.contextRequest(j))
	if err != nil {
		log.WithError(err).Warn("Background auction failed")
		c.fail(j, err)

		return
	}

	content, creative := WeaveCreative(record.Winner)

	_, err = c.store.UpdateRecommendation(c.ctx, j.sessionID, j.messageID, func(rec *Recommendation) error {
		rec.Status = StatusCompleted
		rec.WeaveContent = content
		rec.ServeToken = record.ServeToken
		rec.CreativeMetadata = creative
		rec.AuctionResult = auctionSummary(record)
		rec.UpdatedAt = c.now().UTC()

		return nil
	})
	if err != nil {
		log.WithError(err).Error("Failed to store completed recommendation")

		return
	}

	log.WithField("serve_token", record.ServeToken).Info("Recommendation completed")
}

func (c *Coordinator) fail(j job, cause error) {
	_, err := c.store.UpdateRecommendation(c.ctx, j.sessionID, j.messageID, func(rec *Recommendation) error {
		rec.Status = StatusFailed
		rec.Error = cause.Error()
		rec.UpdatedAt = c.now().UTC()

		return nil
	})
	if err != nil {
		c.log.WithError(err).Error("Failed to store failed recommendation")
	}
}

// contextRequest builds the minimal auction context for a recommendation.
func (c *Coordinator) contextRequest(j job) *platform.ContextRequest {
	requestID := uuid.NewString()

	return &platform.ContextRequest{
		ContextID:      "ctx_" + requestID,
		RequestID:      requestID,
		SessionID:      j.sessionID,
		OperatorID:     c.operator.ID,
		QueryText:      j.query,
		Timestamp:      c.now().UTC().Format(time.RFC3339),
		AllowedFormats: []string{"weave"},
		Surface:        "weave",
		Context: map[string]any{
			"message_id": j.messageID,
		},
	}
}

// WeaveCreative renders the winning bid's creative as weave content:
// "[Ad] <product> - <description> Learn more: <url>". No winner means empty
// content.
func WeaveCreative(winner map[string]any) (string, map[string]any) {
	if winner == nil {
		return "", nil
	}

	creative := creativeInput(winner)
	if creative == nil {
		return "", nil
	}

	product, _ := creative["product_name"].(string)
	if product == "" {
		product, _ = creative["brand_name"].(string)
	}

	description := firstString(creative["descriptions"])
	url := firstString(creative["resource_urls"])

	content := fmt.Sprintf("[Ad] %s - %s Learn more: %s", product, description, url)

	return content, creative
}

// creativeInput digs offer.creative_input out of the winning payload,
// tolerating both bare bids and full envelopes.
func creativeInput(winner map[string]any) map[string]any {
	bid := winner
	if nested, ok := winner["bid"].(map[string]any); ok {
		bid = nested
	}

	offer, ok := bid["offer"].(map[string]any)
	if !ok {
		return nil
	}

	creative, ok := offer["creative_input"].(map[string]any)
	if !ok {
		return nil
	}

	return creative
}

func firstString(v any) string {
	switch list := v.(type) {
	case []any:
		if len(list) > 0 {
			s, _ := list[0].(string)

			return s
		}
	case []string:
		if len(list) > 0 {
			return list[0]
		}
	}

	return ""
}

func auctionSummary(record *ledger.Record) map[string]any {
	return map[string]any{
		"auction_id":     record.AuctionID,
		"serve_token":    record.ServeToken,
		"state":          string(record.State),
		"no_bid":         record.NoBid,
		"clearing_price": record.ClearingPrice,
		"bids":           len(record.Bids),
	}
}
