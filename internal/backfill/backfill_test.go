package backfill

import (
	"math"
	"testing"
	"time"

	"signal-systemv1/internal/indicator"
	"signal-systemv1/internal/markethours"
	"signal-systemv1/internal/model"
)

type fakeSource struct {
	candles []model.Candle
	afterTS int64
}

func (f *fakeSource) ReadCandles(exchange, token string, tf int, afterTS int64) ([]model.Candle, error) {
	f.afterTS = afterTS
	var out []model.Candle
	for _, c := range f.candles {
		if c.Exchange == exchange && c.Token == token && c.TF == tf && c.TS.Unix() > afterTS {
			out = append(out, c)
		}
	}
	return out, nil
}

func histCandle(hour, min int, close, vol int64) model.Candle {
	return model.Candle{
		Token:    "26000",
		Exchange: "NSE",
		TF:       60,
		TS:       time.Date(2026, time.August, 25, hour, min, 0, 0, markethours.IST),
		Open:     close, High: close, Low: close, Close: close,
		Volume: vol,
	}
}

func TestSeededEngineMatchesLiveEngine(t *testing.T) {
	candles := []model.Candle{
		histCandle(9, 15, 10000, 100),
		histCandle(9, 16, 10200, 300),
		histCandle(9, 17, 10100, 100),
	}

	live := indicator.NewEngine()
	for _, c := range candles {
		live.Update(c)
	}

	seeded := indicator.NewEngine()
	src := &fakeSource{candles: candles}
	now := time.Date(2026, time.August, 25, 9, 30, 0, 0, markethours.IST)
	n, err := New(src, 60).Seed(seeded, []model.Instrument{{Token: "26000", Exchange: "NSE"}}, now)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if n != 3 {
		t.Errorf("applied = %d, want 3", n)
	}

	lv, sv := live.View("NSE:26000"), seeded.View("NSE:26000")
	if math.Abs(lv.VWAP-sv.VWAP) > 1e-9 || lv.VWAPOK != sv.VWAPOK {
		t.Errorf("seeded vwap %f != live vwap %f", sv.VWAP, lv.VWAP)
	}
	if lv.ORHigh != sv.ORHigh || lv.ORLow != sv.ORLow {
		t.Errorf("seeded OR (%d,%d) != live OR (%d,%d)", sv.ORHigh, sv.ORLow, lv.ORHigh, lv.ORLow)
	}
}

func TestSeedSkipsFormingCandle(t *testing.T) {
	now := time.Date(2026, time.August, 25, 9, 16, 30, 0, markethours.IST)
	src := &fakeSource{candles: []model.Candle{
		histCandle(9, 15, 10000, 100),
		histCandle(9, 16, 10500, 50), // closes 9:17, after now
	}}

	eng := indicator.NewEngine()
	n, err := New(src, 60).Seed(eng, []model.Instrument{{Token: "26000", Exchange: "NSE"}}, now)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if n != 1 {
		t.Errorf("applied = %d, want 1", n)
	}
	if v := eng.View("NSE:26000"); math.Abs(v.VWAP-10000) > 1e-9 {
		t.Errorf("vwap = %f, want 10000", v.VWAP)
	}
}
