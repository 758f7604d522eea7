// cmd/replay feeds stored 1m candles from SQLite back through the full
// tick-to-signal pipeline: each candle is expanded into synthetic ticks, so
// normalization, aggregation, rollup, indicators, strategies and exits all
// run exactly as they do live.
//
// Usage:
//
//	go run ./cmd/replay --db=data/candles.db --speed=0 \
//	    --instruments=NFO:53001:NIFTY,NFO:53002:BANKNIFTY
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"signal-systemv1/config"
	"signal-systemv1/internal/configstore"
	"signal-systemv1/internal/engine"
	"signal-systemv1/internal/execution"
	"signal-systemv1/internal/marketdata/replay"
	"signal-systemv1/internal/model"
	"signal-systemv1/internal/portfolio"
	"signal-systemv1/internal/risk"
	sqlitestore "signal-systemv1/internal/store/sqlite"
	"signal-systemv1/internal/strategy"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	dbPath := flag.String("db", "data/candles.db", "Path to SQLite candle database")
	speed := flag.Float64("speed", 0, "Playback speed multiplier (0=max, 1=realtime, 100=100x)")
	fromTS := flag.Int64("from", 0, "Unix timestamp to start replay from (0=all)")
	instStr := flag.String("instruments", "", "Instruments as exchange:token:index triples, comma separated")
	signalTF := flag.Int("signal-tf", 300, "Signal timeframe in seconds")
	qty := flag.Int64("qty", 0, "Paper quantity per trade (0=config default)")
	flag.Parse()

	if *instStr == "" {
		log.Fatal("[replay] --instruments is required (exchange:token:index,...)")
	}
	instruments := (&config.Config{Instruments: *instStr}).ParseInstruments()
	if len(instruments) == 0 {
		log.Fatal("[replay] no valid instruments parsed")
	}

	reader, err := sqlitestore.NewReader(*dbPath)
	if err != nil {
		log.Fatalf("[replay] sqlite open failed: %v", err)
	}
	defer reader.Close()

	// Pipeline with a fixed config: no broker, no redis, no journal DB.
	staticCfg := configstore.Default()
	if *qty > 0 {
		staticCfg.Qty = *qty
	}
	confStore := configstore.New(configstore.StaticLoader{Cfg: staticCfg}, nil)
	if err := confStore.Refresh(context.Background(), time.Now()); err != nil {
		log.Fatalf("[replay] config load failed: %v", err)
	}

	router := strategy.NewRouter()
	router.Register(strategy.NewORB())
	router.Register(strategy.NewVWAPCrossover())

	ledger := execution.NewLedger()
	tracker := portfolio.NewTracker()
	tape := &tape{}

	candleCh := make(chan model.Candle, 10000)
	pipe := engine.New(engine.Config{SignalTF: *signalTF}, engine.Deps{
		Store:   confStore,
		Ledger:  ledger,
		Quotes:  execution.NewQuoteCache(),
		Tracker: tracker,
		Router:  router,
		Risk:    risk.New(),
		Journal: tape,
		Candles: candleCh,
	}, instruments)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	candles := 0
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for range candleCh {
			candles++
		}
	}()

	pipe.Start(ctx)

	replayer := replay.New(reader, 60)
	start := time.Now()
	if err := replayer.Run(ctx, instruments, *fromTS, *speed, pipe.Submit); err != nil {
		log.Fatalf("[replay] replay failed: %v", err)
	}

	// Let the workers drain their queues, then flush forming candles.
	time.Sleep(200 * time.Millisecond)
	cancel()
	pipe.Wait()
	close(candleCh)
	<-drained

	summary := tracker.Summarize(ledger.OpenPositions())
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════╗")
	fmt.Println("║            REPLAY COMPLETE               ║")
	fmt.Println("╠══════════════════════════════════════════╣")
	fmt.Printf("║  Wall time:         %-20v ║\n", time.Since(start).Truncate(time.Millisecond))
	fmt.Printf("║  Candles emitted:   %-20d ║\n", candles)
	fmt.Printf("║  Signals routed:    %-20d ║\n", tape.signals)
	fmt.Printf("║  Trades closed:     %-20d ║\n", tape.trades)
	fmt.Printf("║  Last session:      %-20s ║\n", summary.Session)
	fmt.Printf("║  Realized P&L:      %-20s ║\n", paiseString(tape.pnl))
	fmt.Printf("║  Open at end:       %-20d ║\n", summary.OpenPositions)
	fmt.Println("╚══════════════════════════════════════════╝")
}

// tape prints signals and trades as the pipeline produces them and keeps
// running totals across session rollovers.
type tape struct {
	signals int
	trades  int
	pnl     int64
}

func (t *tape) RecordSignal(s model.Signal) error {
	t.signals++
	fmt.Printf("  [%s] SIGNAL %-14s %-5s %-9s @ %s (%s)\n",
		s.TS.Format("2006-01-02 15:04"), s.Strategy, s.Direction, s.Index,
		paiseString(s.Price), s.Status)
	return nil
}

func (t *tape) RecordTrade(tr model.Trade) error {
	t.trades++
	t.pnl += tr.PnL
	fmt.Printf("  [%s] EXIT   %-14s %-5s %-9s pnl=%s (%s)\n",
		tr.ClosedAt.Format("2006-01-02 15:04"), tr.Strategy, tr.Direction, tr.Index,
		paiseString(tr.PnL), tr.ExitReason)
	return nil
}

func paiseString(p int64) string {
	sign := ""
	if p < 0 {
		sign = "-"
		p = -p
	}
	return fmt.Sprintf("%s%d.%02d", sign, p/100, p%100)
}
