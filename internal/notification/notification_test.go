package notification

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"signal-systemv1/internal/model"
)

func fieldValue(fields []Field, key string) string {
	for _, f := range fields {
		if f.Key == key {
			return f.Value
		}
	}
	return ""
}

func TestSignalAlertCarriesStructuredFields(t *testing.T) {
	s := model.Signal{
		ID:        "orb-26000-20260825-0945",
		Strategy:  "orb",
		Index:     "NIFTY",
		Direction: model.DirLong,
		Price:     2501050,
		Status:    model.SignalActive,
		Reason:    "break above opening range high",
	}
	a := SignalAlert(s)

	if a.Level != AlertInfo {
		t.Errorf("level = %s, want INFO", a.Level)
	}
	if got := fieldValue(a.Fields, "signal"); got != s.ID {
		t.Errorf("signal field = %q, want %q", got, s.ID)
	}
	if got := fieldValue(a.Fields, "strategy"); got != "orb" {
		t.Errorf("strategy field = %q", got)
	}
	if !strings.Contains(a.Message, "25010.50") {
		t.Errorf("message %q missing rupee price", a.Message)
	}
}

func TestSuppressedSignalAlertIsWarning(t *testing.T) {
	a := SignalAlert(model.Signal{Status: model.SignalSuppressed})
	if a.Level != AlertWarning {
		t.Errorf("level = %s, want WARNING", a.Level)
	}
	if got := fieldValue(a.Fields, "status"); got != model.SignalSuppressed {
		t.Errorf("status field = %q", got)
	}
}

func TestExitAlertCarriesReasonAndPnL(t *testing.T) {
	a := ExitAlert(model.Trade{
		TradeID:    "T-7",
		Strategy:   "vwap_crossover",
		Index:      "BANKNIFTY",
		Direction:  model.DirShort,
		Qty:        15,
		Entry:      5200000,
		Exit:       5185000,
		PnL:        225000,
		ExitReason: "trailing_stop",
	})
	if a.Level != AlertInfo {
		t.Errorf("level = %s, want INFO", a.Level)
	}
	if got := fieldValue(a.Fields, "exit_reason"); got != "trailing_stop" {
		t.Errorf("exit_reason field = %q", got)
	}
	if got := fieldValue(a.Fields, "pnl"); got != "2250.00" {
		t.Errorf("pnl field = %q, want 2250.00", got)
	}
}

func TestExitAlertLossIsWarning(t *testing.T) {
	a := ExitAlert(model.Trade{PnL: -5000})
	if a.Level != AlertWarning {
		t.Errorf("level = %s, want WARNING", a.Level)
	}
	if got := fieldValue(a.Fields, "pnl"); got != "-50.00" {
		t.Errorf("pnl field = %q, want -50.00", got)
	}
}

func TestTelegramTextRendersFieldsAsCodeLines(t *testing.T) {
	text := telegramText(Alert{
		Level:   AlertCritical,
		Title:   "Candle gap: NSE:26009",
		Message: "signal window restarted after a missing base candle",
		Fields: []Field{
			{Key: "instrument", Value: "NSE:26009"},
			{Key: "missed_ts", Value: "1774410300"},
		},
	})
	if !strings.HasPrefix(text, "🚨 *") {
		t.Errorf("text %q missing critical badge headline", text)
	}
	if !strings.Contains(text, "`instrument: NSE:26009`") {
		t.Errorf("text %q missing instrument code line", text)
	}
	if !strings.Contains(text, "`missed_ts: 1774410300`") {
		t.Errorf("text %q missing missed_ts code line", text)
	}
}

func TestEscapeMarkdown(t *testing.T) {
	got := escapeMarkdown("Exit T-7 (trailing_stop)")
	want := `Exit T\-7 \(trailing\_stop\)`
	if got != want {
		t.Errorf("escapeMarkdown = %q, want %q", got, want)
	}
}

func TestTelegramSendPostsMarkdownPayload(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/bottok123/sendMessage") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("bad payload: %v", err)
		}
	}))
	defer srv.Close()

	n := NewTelegramNotifier("tok123", "-100200")
	n.baseURL = srv.URL
	err := n.Send(context.Background(), Alert{
		Level:   AlertWarning,
		Title:   "Exit NIFTY",
		Message: "orb LONG qty=50",
		Fields:  []Field{{Key: "exit_reason", Value: "vwap_recross"}},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got["chat_id"] != "-100200" {
		t.Errorf("chat_id = %v", got["chat_id"])
	}
	if got["parse_mode"] != "MarkdownV2" {
		t.Errorf("parse_mode = %v", got["parse_mode"])
	}
	text, _ := got["text"].(string)
	if !strings.Contains(text, "`exit_reason: vwap_recross`") {
		t.Errorf("text %q missing exit_reason line", text)
	}
}

func TestWebhookDeliversFullAlert(t *testing.T) {
	var got webhookEnvelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	err := n.Send(context.Background(), Alert{
		Level:   AlertInfo,
		Title:   "Signal NIFTY",
		Message: "orb BUY NIFTY @ 25010.50",
		Fields:  []Field{{Key: "signal", Value: "orb-26000-20260825-0945"}},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.Source != "signal-engine" {
		t.Errorf("source = %q", got.Source)
	}
	if got.Alert.Title != "Signal NIFTY" {
		t.Errorf("title = %q", got.Alert.Title)
	}
	if fieldValue(got.Alert.Fields, "signal") == "" {
		t.Error("structured fields not delivered")
	}
	if _, err := time.Parse(time.RFC3339Nano, got.SentAt); err != nil {
		t.Errorf("sent_at %q not RFC3339: %v", got.SentAt, err)
	}
}

func TestWebhookRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	if err := n.Send(context.Background(), Alert{Title: "x"}); err == nil {
		t.Fatal("expected error on 502")
	}
}
