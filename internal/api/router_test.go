package api

import (
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"signal-systemv1/internal/configstore"
	"signal-systemv1/internal/execution"
	"signal-systemv1/internal/markethours"
	"signal-systemv1/internal/model"
	"signal-systemv1/internal/portfolio"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	journal, err := execution.NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { journal.Close() })

	return &Server{
		Ledger:  execution.NewLedger(),
		Tracker: portfolio.NewTracker(),
		Journal: journal,
		Config:  configstore.New(configstore.StaticLoader{Cfg: configstore.Default()}, nil),
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	mux := srv.NewRouter()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/health", nil))

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body["status"])
	}
}

func TestPositionsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, markethours.IST)

	sig := model.Signal{
		ID: "orb-26000-20260825-1000", Strategy: "orb",
		Token: "26000", Exchange: "NSE", Index: "NIFTY",
		Direction: model.DirLong, Price: 2450000,
		RefSymbol: "NIFTY26SEP24500CE", RefPrice: 15000,
		TS: now, Status: model.SignalActive,
	}
	if _, err := srv.Ledger.Open(sig, 50, now); err != nil {
		t.Fatalf("open position: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.NewRouter().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/positions", nil))

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Open []model.Position `json:"open"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(body.Open) != 1 {
		t.Fatalf("expected 1 open position, got %d", len(body.Open))
	}
	if body.Open[0].RefSymbol != "NIFTY26SEP24500CE" {
		t.Errorf("unexpected position: %+v", body.Open[0])
	}
}

func TestSignalsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, markethours.IST)

	err := srv.Journal.RecordSignal(model.Signal{
		ID: "vwapx-26009-20260825-1000", Strategy: "vwapx",
		Token: "26009", Exchange: "NSE", Index: "BANKNIFTY",
		Direction: model.DirShort, Price: 5100000,
		TS: now, Status: model.SignalActive,
	})
	if err != nil {
		t.Fatalf("record signal: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.NewRouter().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/signals?limit=10", nil))

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Signals []model.Signal `json:"signals"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(body.Signals) != 1 || body.Signals[0].ID != "vwapx-26009-20260825-1000" {
		t.Errorf("unexpected signals: %+v", body.Signals)
	}
}

func TestSignalsEndpoint_InvalidLimit(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.NewRouter().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/signals?limit=abc", nil))

	if rec.Code != 400 {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestPerformanceEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.NewRouter().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/performance", nil))

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var sum portfolio.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &sum); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if sum.Trades != 0 {
		t.Errorf("expected 0 trades, got %d", sum.Trades)
	}
}

func TestReloadConfigEndpoint(t *testing.T) {
	srv := newTestServer(t)
	mux := srv.NewRouter()

	// GET is rejected
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/reload-config", nil))
	if rec.Code != 405 {
		t.Fatalf("expected 405 for GET, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/reload-config", nil))
	if rec.Code != 202 {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
}
