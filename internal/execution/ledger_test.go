package execution

import (
	"testing"
	"time"

	"signal-systemv1/internal/model"
)

func testSignal(direction string) model.Signal {
	return model.Signal{
		ID:        "orb-26000-20260825-1010",
		Strategy:  "orb",
		Token:     "26000",
		Exchange:  "NSE",
		Index:     "NIFTY",
		Direction: direction,
		Price:     2500000,
		RefSymbol: "NIFTY26AUG25000CE",
		RefPrice:  15000,
		Status:    model.SignalActive,
	}
}

func TestOpenRejectsDuplicateDirection(t *testing.T) {
	l := NewLedger()
	now := time.Now()

	p, err := l.Open(testSignal(model.DirLong), 50, now)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if p.Entry != 15000 || p.BestMark != 15000 || p.Status != model.PosOpen {
		t.Errorf("opened position = %+v", p)
	}

	if _, err := l.Open(testSignal(model.DirLong), 50, now); err == nil {
		t.Error("duplicate LONG open accepted")
	}

	// opposite direction is a different ledger slot
	if _, err := l.Open(testSignal(model.DirShort), 50, now); err != nil {
		t.Errorf("SHORT open rejected: %v", err)
	}
}

func TestOpenWithoutRefPriceDropsRefSymbol(t *testing.T) {
	l := NewLedger()
	sig := testSignal(model.DirLong)
	sig.RefPrice = 0 // option never quoted before emission

	p, err := l.Open(sig, 50, time.Now())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if p.Entry != 2500000 || p.BestMark != 2500000 {
		t.Errorf("entry/best = %d/%d, want underlying 2500000", p.Entry, p.BestMark)
	}
	if p.RefSymbol != "" {
		t.Errorf("ref symbol kept with underlying entry: %s", p.RefSymbol)
	}
}

func TestMarkTracksFavorableExtreme(t *testing.T) {
	l := NewLedger()
	p, _ := l.Open(testSignal(model.DirLong), 50, time.Now())
	key := p.Key()

	l.UpdateMark(key, 18000)
	l.UpdateMark(key, 16000)

	open := l.OpenPositions()
	if len(open) != 1 {
		t.Fatalf("open positions = %d", len(open))
	}
	if open[0].Mark != 16000 || open[0].BestMark != 18000 {
		t.Errorf("mark/best = %d/%d, want 16000/18000", open[0].Mark, open[0].BestMark)
	}
}

func TestShortBestMarkIsMinimum(t *testing.T) {
	l := NewLedger()
	p, _ := l.Open(testSignal(model.DirShort), 50, time.Now())
	key := p.Key()

	l.UpdateMark(key, 12000)
	l.UpdateMark(key, 14000)

	open := l.OpenPositions()
	if open[0].BestMark != 12000 {
		t.Errorf("short best mark = %d, want 12000", open[0].BestMark)
	}
}

func TestCloseFreezesSignedPnL(t *testing.T) {
	l := NewLedger()
	var closedEvents []model.Position
	l.OnClose = func(p model.Position) { closedEvents = append(closedEvents, p) }

	now := time.Now()
	p, _ := l.Open(testSignal(model.DirLong), 50, now)
	key := p.Key()
	l.UpdateMark(key, 17000)

	if _, err := l.Close(key, now); err == nil {
		t.Fatal("close succeeded without exit request")
	}
	if !l.RequestExit(key, model.ExitTrailing) {
		t.Fatal("exit request refused")
	}
	closed, err := l.Close(key, now)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.PnL != (17000-15000)*50 {
		t.Errorf("pnl = %d, want %d", closed.PnL, (17000-15000)*50)
	}
	if closed.Status != model.PosClosed || closed.ExitReason != model.ExitTrailing {
		t.Errorf("closed = %+v", closed)
	}
	if len(l.OpenPositions()) != 0 {
		t.Error("closed position still open")
	}
	if len(closedEvents) != 1 {
		t.Errorf("OnClose fired %d times", len(closedEvents))
	}

	// key is free again after close
	if _, err := l.Open(testSignal(model.DirLong), 50, now); err != nil {
		t.Errorf("reopen after close rejected: %v", err)
	}
}

func TestShortPnLSign(t *testing.T) {
	l := NewLedger()
	now := time.Now()
	p, _ := l.Open(testSignal(model.DirShort), 25, now)
	key := p.Key()

	l.UpdateMark(key, 16000) // mark moved against the short
	l.RequestExit(key, model.ExitVWAPRecross)
	closed, _ := l.Close(key, now)
	if closed.PnL != (15000-16000)*25 {
		t.Errorf("short pnl = %d, want %d", closed.PnL, (15000-16000)*25)
	}
}

func TestMarkIgnoredAfterExitRequest(t *testing.T) {
	l := NewLedger()
	p, _ := l.Open(testSignal(model.DirLong), 50, time.Now())
	key := p.Key()
	l.RequestExit(key, model.ExitTimeCutoff)
	l.UpdateMark(key, 99999)

	l.mu.RLock()
	mark := l.positions[key].Mark
	l.mu.RUnlock()
	if mark != 15000 {
		t.Errorf("mark mutated after exit request: %d", mark)
	}
}
