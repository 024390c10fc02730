package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/adweave/aip-coordinator/pkg/ledger"
)

// adminAuth requires a bearer JWT signed with the configured admin secret.
func (s *Server) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")

		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			s.writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "missing bearer token"})

			return
		}

		_, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}

			return []byte(s.cfg.Admin.AuthSecret), nil
		})
		if err != nil {
			s.writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "invalid bearer token"})

			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"version":        Version,
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"ledger_backend": string(s.cfg.Ledger.Backend),
		"distribution":   string(s.cfg.Auction.Distribution.Backend),
		"bidders":        len(s.registry.All()),
	})
}

// bidderStats accumulates per-bidder participation rollups.
type bidderStats struct {
	Eligible  int `json:"eligible"`
	Responses int `json:"responses"`
	Wins      int `json:"wins"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	records, err := s.ledger.List(r.Context())
	if err != nil {
		s.writeFault(w, err)

		return
	}

	var (
		auctions   = len(records)
		noBids     int
		settled    int
		events     int
		totalBids  int
		poolCounts = map[string]int{}
		perBidder  = map[string]*bidderStats{}
	)

	statsFor := func(name string) *bidderStats {
		if st, ok := perBidder[name]; ok {
			return st
		}

		st := &bidderStats{}
		perBidder[name] = st

		return st
	}

	for _, record := range records {
		if record.NoBid {
			noBids++
		}

		if record.State == ledger.StateAuctionCompleted || record.State == ledger.StateEventRecorded {
			settled++
		}

		events += len(record.Events)
		totalBids += len(record.Bids)

		for _, pool := range record.Pools {
			poolCounts[pool]++
		}

		for _, name := range record.EligibleBidders {
			statsFor(name).Eligible++
		}

		for _, payload := range record.Bids {
			if name := bidderName(winningBid(payload)); name != "" {
				statsFor(name).Responses++
			}
		}

		if record.Winner != nil {
			if name := bidderName(winningBid(record.Winner)); name != "" {
				statsFor(name).Wins++
			}
		}
	}

	noBidRate := 0.0
	if auctions > 0 {
		noBidRate = float64(noBids) / float64(auctions)
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"auctions":    auctions,
		"settled":     settled,
		"no_bids":     noBids,
		"no_bid_rate": noBidRate,
		"events":      events,
		"bids":        totalBids,
		"pools":       poolCounts,
		"bidders":     perBidder,
	})
}

// handleConfig echoes the settings that are safe to expose.
func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	pools := map[string][]string{}
	for _, cfg := range s.registry.All() {
		for _, pool := range cfg.Pools {
			pools[pool] = append(pools[pool], cfg.Name)
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"version": Version,
		"transport": map[string]any{
			"nonce_ttl_seconds": s.cfg.Transport.NonceTTLSeconds,
			"max_clock_skew_ms": s.cfg.Transport.MaxClockSkewMS,
		},
		"auction": map[string]any{
			"window_ms":    s.cfg.Auction.WindowMS,
			"distribution": string(s.cfg.Auction.Distribution.Backend),
		},
		"ledger": map[string]any{
			"backend": string(s.cfg.Ledger.Backend),
		},
		"operator": map[string]any{
			"id":              s.cfg.Operator.ID,
			"allowed_formats": s.cfg.Operator.AllowedFormats,
		},
		"pools": pools,
	})
}

func (s *Server) handleBidders(w http.ResponseWriter, _ *http.Request) {
	all := s.registry.All()
	inventory := make([]map[string]any, 0, len(all))

	for _, cfg := range all {
		inventory = append(inventory, map[string]any{
			"name":       cfg.Name,
			"endpoint":   cfg.Endpoint,
			"pools":      cfg.Pools,
			"timeout_ms": cfg.TimeoutMS,
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"bidders": inventory})
}
