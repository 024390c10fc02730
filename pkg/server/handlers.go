package server

import (
	"encoding/json"
	"net/http"

	"github.com/adweave/aip-coordinator/pkg/fault"
	"github.com/adweave/aip-coordinator/pkg/platform"
	"github.com/adweave/aip-coordinator/pkg/schema"
)

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"service": "aip-coordinator",
		"version": Version,
		"transport": map[string]any{
			"nonce_ttl_seconds": s.cfg.Transport.NonceTTLSeconds,
			"max_clock_skew_ms": s.cfg.Transport.MaxClockSkewMS,
		},
		"auction": map[string]any{
			"window_ms":    s.cfg.Auction.WindowMS,
			"distribution": string(s.cfg.Auction.Distribution.Backend),
		},
	})
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": Version,
	})
}

// handleContext runs a full auction for a platform request and returns the
// AuctionResult.
func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	payload, err := decodeBody(r)
	if err != nil {
		s.writeFault(w, err)

		return
	}

	if err := s.validator.Validate(schema.PlatformRequest, payload); err != nil {
		s.writeFault(w, err)

		return
	}

	cr, err := platform.BuildContextRequest(payload, s.cfg.Operator)
	if err != nil {
		s.writeFault(w, err)

		return
	}

	record, err := s.runner.Run(r.Context(), cr)
	if err != nil {
		s.writeFault(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, BuildAuctionResult(record))
}

// handleBidResponse admits a signed bid envelope into its auction inbox.
func (s *Server) handleBidResponse(w http.ResponseWriter, r *http.Request) {
	payload, err := decodeBody(r)
	if err != nil {
		s.writeFault(w, err)

		return
	}

	if err := s.submissions.Submit(payload); err != nil {
		s.writeFault(w, err)

		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}

// handleEvents ingests a signed billing event.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	payload, err := decodeBody(r)
	if err != nil {
		s.writeFault(w, err)

		return
	}

	result, err := s.events.Ingest(r.Context(), payload)
	if err != nil {
		s.writeFault(w, err)

		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"status":      "accepted",
		"serve_token": result.Record.ServeToken,
		"event_type":  result.EventType,
	})
}

type recommendationRequest struct {
	MessageID string `json:"message_id"`
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

// handleRecommendations serves the cache-first weave recommendation path.
func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	var req recommendationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeFault(w, fault.Wrap(fault.KindSchemaInvalid, err, "request body is not a JSON object"))

		return
	}

	if req.MessageID == "" {
		s.writeFault(w, fault.New(fault.KindMissingRequiredField, "message_id is required"))

		return
	}

	if req.SessionID == "" {
		s.writeFault(w, fault.New(fault.KindMissingRequiredField, "session_id is required"))

		return
	}

	result, err := s.weave.GetOrCreate(r.Context(), req.SessionID, req.MessageID, req.Query)
	if err != nil {
		s.writeFault(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, result)
}
