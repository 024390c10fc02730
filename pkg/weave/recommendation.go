// Package weave implements the cache-first recommendation coordinator: one
// background auction per (session, message), multiplexed across concurrent
// callers.
package weave

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a recommendation.
type Status string

const (
	// StatusInProgress means the background auction has not finished.
	StatusInProgress Status = "in_progress"
	// StatusCompleted means the weave payload is ready.
	StatusCompleted Status = "completed"
	// StatusFailed means the background auction errored.
	StatusFailed Status = "failed"
)

// Recommendation is the record keyed by (session_id, message_id).
type Recommendation struct {
	SessionID        string         `json:"session_id"`
	MessageID        string         `json:"message_id"`
	Query            string         `json:"query,omitempty"`
	Status           Status         `json:"status"`
	WeaveContent     string         `json:"weave_content,omitempty"`
	ServeToken       string         `json:"serve_token,omitempty"`
	CreativeMetadata map[string]any `json:"creative_metadata,omitempty"`
	AuctionResult    map[string]any `json:"auction_result,omitempty"`
	Error            string         `json:"error,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Store errors.
var (
	// ErrNotFound is returned when no recommendation exists for the key.
	ErrNotFound = errors.New("recommendation not found")
	// ErrAlreadyExists is returned by conditional creates on conflict. The
	// coordinator relies on it for the single-flight guarantee.
	ErrAlreadyExists = errors.New("recommendation already exists")
)

// Store is the persistence contract for recommendations. CreateRecommendation
// must be a conditional insert that fails with ErrAlreadyExists when the key
// is already present.
type Store interface {
	GetRecommendation(ctx context.Context, sessionID, messageID string) (*Recommendation, error)
	CreateRecommendation(ctx context.Context, rec *Recommendation) error
	UpdateRecommendation(ctx context.Context, sessionID, messageID string, mutate func(*Recommendation) error) (*Recommendation, error)
}
