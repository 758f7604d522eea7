// Package api exposes the read-side HTTP API: open positions, recent
// signals, session performance, and a config reload trigger.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"signal-systemv1/internal/configstore"
	"signal-systemv1/internal/execution"
	"signal-systemv1/internal/markethours"
	"signal-systemv1/internal/portfolio"
)

const defaultSignalLimit = 100

// Server holds the handler dependencies.
type Server struct {
	Ledger  *execution.Ledger
	Tracker *portfolio.Tracker
	Journal *execution.Journal
	Config  *configstore.Store
}

// NewRouter sets up HTTP routes for the API server.
func (s *Server) NewRouter() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/positions", s.handlePositions)
	mux.HandleFunc("/api/v1/signals", s.handleSignals)
	mux.HandleFunc("/api/v1/performance", s.handlePerformance)
	mux.HandleFunc("/api/v1/reload-config", s.handleReloadConfig)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := time.Now().In(markethours.IST)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"session":     markethours.SessionDate(now),
		"market_open": markethours.IsMarketOpen(now),
	})
}

// handlePositions returns open positions and, with ?closed=1, the
// session's closed positions as well.
func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := map[string]interface{}{
		"open": s.Ledger.OpenPositions(),
	}
	if r.URL.Query().Get("closed") == "1" {
		resp["closed"] = s.Ledger.ClosedPositions()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSignals returns the most recent journaled signals.
// Query: ?limit=N (default 100).
func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := defaultSignalLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	signals, err := s.Journal.GetSignals(limit)
	if err != nil {
		log.Printf("[api] read signals: %v", err)
		http.Error(w, "journal read failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"signals": signals})
}

// handlePerformance returns the session P&L summary including
// unrealized P&L of open positions.
func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.Tracker.Summarize(s.Ledger.OpenPositions()))
}

// handleReloadConfig marks the strategy config dirty. The new config
// takes effect at the next signal-timeframe close, never mid-candle.
func (s *Server) handleReloadConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.Config.ForceReload()
	log.Printf("[api] config reload requested")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reload scheduled"})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}
