package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"signal-systemv1/internal/configstore"
	"signal-systemv1/internal/execution"
	"signal-systemv1/internal/indicator"
	"signal-systemv1/internal/markethours"
	"signal-systemv1/internal/model"
	"signal-systemv1/internal/portfolio"
	"signal-systemv1/internal/risk"
	"signal-systemv1/internal/strategy"
)

var niftyFut = model.Instrument{
	Token: "26000", Exchange: "NSE", TradingSymbol: "NIFTY26AUGFUT",
	Index: "NIFTY", InstrumentType: "FUT", StrikeStep: 5000,
}

// threshLong emits a LONG signal whenever the close is above 10000 paise.
type threshLong struct{}

func (threshLong) Name() string { return "thresh_long" }
func (threshLong) Evaluate(c model.Candle, _ *model.Candle, _ indicator.View) *model.Signal {
	if c.Close <= 10000 {
		return nil
	}
	return &model.Signal{
		ID: "thresh-" + c.Token, Strategy: "thresh_long",
		Token: c.Token, Exchange: c.Exchange,
		Direction: model.DirLong, Price: c.Close, TS: c.CloseTime(),
		Reason: "test",
	}
}

// fakeResolver always resolves the same contract symbol.
type fakeResolver struct{ symbol string }

func (f fakeResolver) ResolveOption(model.Instrument, string, int64) (string, bool) {
	return f.symbol, true
}

// memJournal records calls in memory.
type memJournal struct {
	signals []model.Signal
	trades  []model.Trade
}

func (m *memJournal) RecordSignal(s model.Signal) error { m.signals = append(m.signals, s); return nil }
func (m *memJournal) RecordTrade(t model.Trade) error   { m.trades = append(m.trades, t); return nil }

func minuteCandle(hour, min int, close, vol int64) model.Candle {
	return model.Candle{
		Token: "26000", Exchange: "NSE", TF: 60,
		TS:   time.Date(2026, time.August, 25, hour, min, 0, 0, markethours.IST),
		Open: close, High: close, Low: close, Close: close,
		Volume: vol, Count: 1,
	}
}

func testPipeline(t *testing.T, cfg configstore.Config) (*Pipeline, *execution.Ledger, *execution.QuoteCache, *portfolio.Tracker, *memJournal) {
	t.Helper()
	router := strategy.NewRouter()
	router.Register(threshLong{})
	ledger := execution.NewLedger()
	quotes := execution.NewQuoteCache()
	tracker := portfolio.NewTracker()
	journal := &memJournal{}

	store := configstore.New(configstore.StaticLoader{Cfg: cfg}, nil)
	if err := store.Refresh(context.Background(), minuteCandle(9, 15, 0, 0).TS); err != nil {
		t.Fatalf("config refresh: %v", err)
	}
	deps := Deps{
		Store:    store,
		Ledger:   ledger,
		Quotes:   quotes,
		Tracker:  tracker,
		Router:   router,
		Risk:     risk.New(),
		Resolver: fakeResolver{symbol: "NIFTY26AUG25000CE"},
		Journal:  journal,
	}
	p := New(Config{SignalTF: 300}, deps, []model.Instrument{niftyFut})
	return p, ledger, quotes, tracker, journal
}

func TestCandleCloseUnitOpensPosition(t *testing.T) {
	cfg := configstore.Default()
	cfg.Qty = 50
	p, ledger, quotes, _, journal := testPipeline(t, cfg)
	quotes.Set("NIFTY26AUG25000CE", 15000)
	w := p.workers["NSE:26000"]

	for i := 0; i < 5; i++ {
		p.onBaseClose(w, minuteCandle(10, i, 10100, 10))
	}

	open := ledger.OpenPositions()
	if len(open) != 1 {
		t.Fatalf("open positions = %d, want 1", len(open))
	}
	pos := open[0]
	if pos.RefSymbol != "NIFTY26AUG25000CE" || pos.Entry != 15000 || pos.Qty != 50 {
		t.Errorf("position = %+v", pos)
	}
	if len(journal.signals) != 1 || journal.signals[0].Status != model.SignalActive {
		t.Fatalf("journaled signals = %+v", journal.signals)
	}
	if journal.signals[0].RefPrice != 15000 {
		t.Errorf("signal ref price = %d, want 15000", journal.signals[0].RefPrice)
	}
}

func TestColdQuoteCacheMarksOffUnderlying(t *testing.T) {
	cfg := configstore.Default()
	cfg.Qty = 50
	p, ledger, quotes, _, _ := testPipeline(t, cfg)
	w := p.workers["NSE:26000"]

	// no option quote yet: entry and marks stay in the underlying frame
	for i := 0; i < 5; i++ {
		p.onBaseClose(w, minuteCandle(10, i, 10100, 10))
	}
	open := ledger.OpenPositions()
	if len(open) != 1 {
		t.Fatalf("open positions = %d, want 1", len(open))
	}
	if open[0].RefSymbol != "" || open[0].Entry != 10100 {
		t.Fatalf("position = %+v, want underlying-frame entry with no ref symbol", open[0])
	}

	// the resolved contract is still registered for the quote poller
	syms := quotes.Symbols()
	if len(syms) != 1 || syms[0] != "NIFTY26AUG25000CE" {
		t.Errorf("tracked symbols = %v", syms)
	}

	// a late option quote must not leak into the underlying-frame marks
	quotes.Set("NIFTY26AUG25000CE", 15000)
	for i := 5; i < 10; i++ {
		p.onBaseClose(w, minuteCandle(10, i, 10200, 10))
	}
	open = ledger.OpenPositions()
	if len(open) != 1 {
		t.Fatalf("position closed unexpectedly: %+v", ledger.ClosedPositions())
	}
	if open[0].Mark != 10200 || open[0].BestMark != 10200 {
		t.Errorf("mark = %d best = %d, want 10200 (underlying)", open[0].Mark, open[0].BestMark)
	}
}

func TestVWAPRecrossExitClosesAndJournals(t *testing.T) {
	cfg := configstore.Default()
	cfg.Qty = 50
	p, ledger, quotes, tracker, journal := testPipeline(t, cfg)
	quotes.Set("NIFTY26AUG25000CE", 15000)
	w := p.workers["NSE:26000"]

	for i := 0; i < 5; i++ {
		p.onBaseClose(w, minuteCandle(10, i, 10100, 10))
	}
	if len(ledger.OpenPositions()) != 1 {
		t.Fatal("position not opened")
	}

	// option decays while the underlying drops through VWAP
	quotes.Set("NIFTY26AUG25000CE", 13000)
	for i := 5; i < 10; i++ {
		p.onBaseClose(w, minuteCandle(10, i, 9000, 10))
	}

	if n := len(ledger.OpenPositions()); n != 0 {
		t.Fatalf("open positions after recross = %d, want 0", n)
	}
	closed := ledger.ClosedPositions()
	if len(closed) != 1 {
		t.Fatalf("closed positions = %d, want 1", len(closed))
	}
	if closed[0].ExitReason != model.ExitVWAPRecross {
		t.Errorf("exit reason = %s, want %s", closed[0].ExitReason, model.ExitVWAPRecross)
	}
	if closed[0].PnL != (13000-15000)*50 {
		t.Errorf("pnl = %d, want %d", closed[0].PnL, (13000-15000)*50)
	}
	if len(journal.trades) != 1 || journal.trades[0].PnL != closed[0].PnL {
		t.Errorf("journaled trades = %+v", journal.trades)
	}
	if s := tracker.Summarize(nil); s.RealizedPnL != closed[0].PnL {
		t.Errorf("tracker realized = %d", s.RealizedPnL)
	}
}

func TestNoLoaderCallsInsideCloseUnit(t *testing.T) {
	var calls int32
	loader := countingLoader{&calls}
	deps := Deps{
		Store:   configstore.New(loader, nil),
		Ledger:  execution.NewLedger(),
		Quotes:  execution.NewQuoteCache(),
		Tracker: portfolio.NewTracker(),
		Router:  strategy.NewRouter(),
		Risk:    risk.New(),
	}
	p := New(Config{SignalTF: 300}, deps, []model.Instrument{niftyFut})
	w := p.workers["NSE:26000"]

	// without the store's background refresher, any loader call here would
	// have run synchronously inside the candle-close unit
	for i := 0; i < 10; i++ {
		p.onBaseClose(w, minuteCandle(10, i, 9000, 10))
	}
	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Fatalf("loader ran inside the close unit: calls = %d", n)
	}
}

func TestForcedReloadAppliedAtLaterBoundary(t *testing.T) {
	var calls int32
	loader := countingLoader{&calls} // serves Qty=50
	store := configstore.New(loader, nil)
	router := strategy.NewRouter()
	router.Register(threshLong{})
	ledger := execution.NewLedger()
	deps := Deps{
		Store:   store,
		Ledger:  ledger,
		Quotes:  execution.NewQuoteCache(),
		Tracker: portfolio.NewTracker(),
		Router:  router,
		Risk:    risk.New(),
	}
	p := New(Config{SignalTF: 300}, deps, []model.Instrument{niftyFut})
	w := p.workers["NSE:26000"]

	// first boundary runs on the built-in defaults, no signal emitted
	for i := 0; i < 5; i++ {
		p.onBaseClose(w, minuteCandle(10, i, 9000, 10))
	}
	if n := len(ledger.OpenPositions()); n != 0 {
		t.Fatalf("unexpected positions = %d", n)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.Start(ctx)
	store.ForceReload()
	deadline := time.Now().Add(2 * time.Second)
	for store.Snapshot().Qty != 50 {
		if time.Now().After(deadline) {
			t.Fatalf("reload never applied, loader calls = %d", atomic.LoadInt32(&calls))
		}
		time.Sleep(5 * time.Millisecond)
	}

	// the reloaded config governs the next boundary's signal
	for i := 5; i < 10; i++ {
		p.onBaseClose(w, minuteCandle(10, i, 10100, 10))
	}
	open := ledger.OpenPositions()
	if len(open) != 1 {
		t.Fatalf("open positions = %d, want 1", len(open))
	}
	if open[0].Qty != 50 {
		t.Errorf("qty = %d, want 50 from the reloaded config", open[0].Qty)
	}
}

func TestSubmitPathProducesCandles(t *testing.T) {
	cfg := configstore.Default()
	candleCh := make(chan model.Candle, 64)
	deps := Deps{
		Store:   configstore.New(configstore.StaticLoader{Cfg: cfg}, nil),
		Ledger:  execution.NewLedger(),
		Quotes:  execution.NewQuoteCache(),
		Tracker: portfolio.NewTracker(),
		Router:  strategy.NewRouter(),
		Risk:    risk.New(),
		Candles: candleCh,
	}
	p := New(Config{SignalTF: 300}, deps, []model.Instrument{niftyFut})

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	cum := int64(0)
	for min := 0; min < 3; min++ {
		cum += 100
		ok := p.Submit(model.RawTick{
			Token: "26000", Exchange: "NSE", Price: 10000, CumVolume: cum,
			TickTS: time.Date(2026, time.August, 25, 10, min, 1, 0, markethours.IST),
		})
		if !ok {
			t.Fatalf("submit refused at minute %d", min)
		}
	}
	// unknown instruments are dropped at the dispatcher
	if p.Submit(model.RawTick{Token: "99999", Exchange: "NSE"}) {
		t.Error("tick for unknown instrument accepted")
	}

	deadline := time.After(2 * time.Second)
	var got []model.Candle
	for len(got) < 2 {
		select {
		case c := <-candleCh:
			got = append(got, c)
		case <-deadline:
			t.Fatalf("timed out with %d candles", len(got))
		}
	}
	cancel()
	p.Wait()

	if got[0].TS.In(markethours.IST).Minute() != 0 || got[1].TS.In(markethours.IST).Minute() != 1 {
		t.Errorf("candle minutes = %v, %v", got[0].TS, got[1].TS)
	}
}

type countingLoader struct{ calls *int32 }

func (c countingLoader) Load(ctx context.Context) (configstore.Config, error) {
	atomic.AddInt32(c.calls, 1)
	cfg := configstore.Default()
	cfg.Qty = 50
	return cfg, nil
}
