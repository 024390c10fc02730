// Package server exposes the coordinator's HTTP surface: the AIP auction
// endpoints, the weave recommendation endpoint, the admin surface, and
// Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/urfave/negroni"

	"github.com/adweave/aip-coordinator/pkg/auction"
	"github.com/adweave/aip-coordinator/pkg/bidder"
	"github.com/adweave/aip-coordinator/pkg/config"
	"github.com/adweave/aip-coordinator/pkg/events"
	"github.com/adweave/aip-coordinator/pkg/fault"
	"github.com/adweave/aip-coordinator/pkg/ledger"
	"github.com/adweave/aip-coordinator/pkg/schema"
	"github.com/adweave/aip-coordinator/pkg/weave"
)

// Version is the coordinator release reported by ping and admin endpoints.
const Version = "0.3.0"

// Server is the coordinator's HTTP front end.
type Server struct {
	cfg         *config.Config
	log         logrus.FieldLogger
	registry    *bidder.Registry
	runner      *auction.Runner
	submissions *auction.SubmissionService
	events      *events.Service
	weave       *weave.Coordinator
	ledger      *ledger.Service
	validator   schema.Validator

	router    *mux.Router
	server    *http.Server
	startedAt time.Time
}

// NewServer wires the HTTP surface over the coordinator services.
func NewServer(
	cfg *config.Config,
	registry *bidder.Registry,
	runner *auction.Runner,
	submissions *auction.SubmissionService,
	eventsSvc *events.Service,
	weaveSvc *weave.Coordinator,
	ledgerSvc *ledger.Service,
	validator schema.Validator,
	log logrus.FieldLogger,
) *Server {
	s := &Server{
		cfg:         cfg,
		log:         log.WithField("component", "server"),
		registry:    registry,
		runner:      runner,
		submissions: submissions,
		events:      eventsSvc,
		weave:       weaveSvc,
		ledger:      ledgerSvc,
		validator:   validator,
		router:      mux.NewRouter(),
		startedAt:   time.Now(),
	}

	s.registerRoutes()

	return s
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)

	aip := s.router.PathPrefix("/aip").Subrouter()
	aip.HandleFunc("/ping", s.handlePing).Methods(http.MethodGet)
	aip.HandleFunc("/context", s.handleContext).Methods(http.MethodPost)
	aip.HandleFunc("/bid-response", s.handleBidResponse).Methods(http.MethodPost)
	aip.HandleFunc("/events", s.handleEvents).Methods(http.MethodPost)

	s.router.HandleFunc("/v1/weave/recommendations", s.handleRecommendations).Methods(http.MethodPost)

	admin := s.router.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	admin.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	admin.HandleFunc("/config", s.handleConfig).Methods(http.MethodGet)
	admin.HandleFunc("/bidders", s.handleBidders).Methods(http.MethodGet)

	if s.cfg.Admin.AuthSecret != "" {
		admin.Use(s.adminAuth)
	}

	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

// Handler returns the full middleware stack, for tests and for Start.
func (s *Server) Handler() http.Handler {
	recovery := negroni.NewRecovery()
	recovery.PrintStack = false

	n := negroni.New(recovery)
	n.Use(negroni.HandlerFunc(s.logRequests))
	n.UseHandler(s.router)

	return n
}

func (s *Server) logRequests(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	start := time.Now()
	next(w, r)

	s.log.WithFields(logrus.Fields{
		"method":   r.Method,
		"path":     r.URL.Path,
		"duration": time.Since(start).String(),
	}).Debug("Handled request")
}

// Start begins serving on the configured listener.
func (s *Server) Start(_ context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Listen.Host, s.cfg.Listen.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.WithField("addr", addr).Info("Starting HTTP server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	s.log.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// writeJSON renders a response body with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.WithError(err).Error("Failed to encode response")
	}
}

// writeFault maps a domain error onto its HTTP status and a {detail} body.
func (s *Server) writeFault(w http.ResponseWriter, err error) {
	kind := fault.KindOf(err)
	status := statusFor(kind)

	detail := err.Error()

	var fe *fault.Error
	if errors.As(err, &fe) {
		detail = fe.Detail()
	}

	if status >= http.StatusInternalServerError {
		s.log.WithError(err).Error("Request failed")
	}

	s.writeJSON(w, status, map[string]any{"detail": detail})
}

func statusFor(kind fault.Kind) int {
	switch kind {
	case fault.KindMissingRequiredField:
		return http.StatusBadRequest
	case fault.KindStorageUnavailable, fault.KindPublishFailed, fault.KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

// decodeBody parses a JSON object with numeric fidelity preserved.
func decodeBody(r *http.Request) (map[string]any, error) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, fault.Wrap(fault.KindSchemaInvalid, err, "request body is not a JSON object")
	}

	return payload, nil
}
