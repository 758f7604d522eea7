package indicator

import (
	"math"
	"testing"
	"time"

	"signal-systemv1/internal/markethours"
	"signal-systemv1/internal/model"
)

func sessionCandle(hour, min int, close, vol int64) model.Candle {
	return model.Candle{
		Token:    "26000",
		Exchange: "NSE",
		TF:       60,
		TS:       time.Date(2026, time.August, 25, hour, min, 0, 0, markethours.IST),
		Open:     close, High: close, Low: close, Close: close,
		Volume: vol,
		Count:  1,
	}
}

func TestVWAPCumulative(t *testing.T) {
	v := NewVWAP()
	if v.Ready() {
		t.Fatal("empty VWAP reports ready")
	}

	v.Update(sessionCandle(9, 15, 10000, 100))
	v.Update(sessionCandle(9, 16, 10200, 300))

	// (10000*100 + 10200*300) / 400 = 10150
	if got := v.Value(); math.Abs(got-10150) > 1e-9 {
		t.Errorf("vwap = %f, want 10150", got)
	}

	// zero-volume candle leaves the value unchanged and still defined
	v.Update(sessionCandle(9, 17, 99999, 0))
	if got := v.Value(); math.Abs(got-10150) > 1e-9 {
		t.Errorf("vwap after zero-volume candle = %f, want 10150", got)
	}
}

func TestVWAPUndefinedAtZeroVolume(t *testing.T) {
	v := NewVWAP()
	v.Update(sessionCandle(9, 15, 10000, 0))
	if v.Ready() {
		t.Error("vwap ready with zero cumulative volume")
	}
	if v.Value() != 0 {
		t.Errorf("undefined vwap value = %f, want 0", v.Value())
	}
}

func TestOpeningRangeFinalizesAtWindowEnd(t *testing.T) {
	day := time.Date(2026, time.August, 25, 0, 0, 0, 0, markethours.IST)
	or := NewOpeningRange(day, 0)

	mk := func(hour, min int, high, low int64) model.Candle {
		c := sessionCandle(hour, min, high, 1)
		c.High, c.Low = high, low
		return c
	}

	or.Update(mk(9, 15, 10300, 10000))
	or.Update(mk(9, 30, 10500, 9700))
	if or.Final() {
		t.Fatal("range finalized before window end")
	}
	if or.High() != 10500 || or.Low() != 9700 {
		t.Errorf("provisional range = (%d,%d), want (10500,9700)", or.High(), or.Low())
	}

	// candle starting 9:44 closes exactly at 9:45 and is the final constituent
	or.Update(mk(9, 44, 10600, 9600))
	if !or.Final() {
		t.Fatal("range not finalized by the 9:45 close")
	}
	if or.High() != 10600 || or.Low() != 9600 {
		t.Errorf("final range = (%d,%d), want (10600,9600)", or.High(), or.Low())
	}

	// later candles must not move the frozen range
	or.Update(mk(10, 0, 11000, 9000))
	if or.High() != 10600 || or.Low() != 9600 {
		t.Errorf("frozen range moved to (%d,%d)", or.High(), or.Low())
	}
}

func TestOpeningRangeFreezesWhenClosingCandleMissed(t *testing.T) {
	day := time.Date(2026, time.August, 25, 0, 0, 0, 0, markethours.IST)
	or := NewOpeningRange(day, 0)

	or.Update(sessionCandle(9, 20, 10000, 1))
	// the 9:44 candle never arrives; a post-window candle freezes the range
	post := sessionCandle(9, 50, 10800, 1)
	or.Update(post)
	if !or.Final() {
		t.Error("range not frozen after window elapsed")
	}
	if or.High() != 10000 {
		t.Errorf("frozen high = %d, want 10000", or.High())
	}
}

func TestOpeningRangeCustomWindowLength(t *testing.T) {
	day := time.Date(2026, time.August, 25, 0, 0, 0, 0, markethours.IST)
	or := NewOpeningRange(day, 15)

	or.Update(sessionCandle(9, 20, 10000, 1))
	if or.Final() {
		t.Fatal("15m range finalized before 9:30")
	}
	// candle starting 9:29 closes at 9:30, the shortened window end
	or.Update(sessionCandle(9, 29, 10100, 1))
	if !or.Final() {
		t.Error("15m range not finalized by the 9:30 close")
	}
	or.Update(sessionCandle(9, 35, 12000, 1))
	if or.High() != 10100 {
		t.Errorf("frozen 15m high = %d, want 10100", or.High())
	}
}

func TestEngineSessionRollover(t *testing.T) {
	e := NewEngine()
	e.Update(sessionCandle(10, 0, 10000, 50))
	if v := e.View("NSE:26000"); !v.VWAPOK {
		t.Fatal("vwap not ready after first candle")
	}

	next := sessionCandle(10, 0, 20000, 10)
	next.TS = next.TS.AddDate(0, 0, 1)
	e.Update(next)

	v := e.View("NSE:26000")
	if math.Abs(v.VWAP-20000) > 1e-9 {
		t.Errorf("post-rollover vwap = %f, want 20000 (old session leaked)", v.VWAP)
	}
	if e.Session() != "2026-08-26" {
		t.Errorf("session = %s, want 2026-08-26", e.Session())
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	e := NewEngine()
	e.Update(sessionCandle(9, 15, 10000, 100))
	e.Update(sessionCandle(9, 16, 10200, 300))

	data := e.SnapshotJSON()
	if data == nil {
		t.Fatal("nil snapshot from warm engine")
	}

	now := time.Date(2026, time.August, 25, 10, 0, 0, 0, markethours.IST)
	restored := NewEngine()
	if err := restored.RestoreJSON(data, now); err != nil {
		t.Fatalf("restore: %v", err)
	}
	v := restored.View("NSE:26000")
	if !v.VWAPOK || math.Abs(v.VWAP-10150) > 1e-9 {
		t.Errorf("restored vwap = %f ok=%v, want 10150", v.VWAP, v.VWAPOK)
	}

	// a snapshot from yesterday must be rejected
	tomorrow := now.AddDate(0, 0, 1)
	if err := NewEngine().RestoreJSON(data, tomorrow); err == nil {
		t.Error("stale snapshot accepted")
	}
}
