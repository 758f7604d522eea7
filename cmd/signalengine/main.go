package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"signal-systemv1/config"
	"signal-systemv1/internal/api"
	"signal-systemv1/internal/backfill"
	"signal-systemv1/internal/configstore"
	"signal-systemv1/internal/engine"
	"signal-systemv1/internal/execution"
	"signal-systemv1/internal/logger"
	"signal-systemv1/internal/markethours"
	"signal-systemv1/internal/marketdata/bus"
	"signal-systemv1/internal/marketdata/closedetector"
	"signal-systemv1/internal/marketdata/feed"
	"signal-systemv1/internal/metrics"
	"signal-systemv1/internal/model"
	"signal-systemv1/internal/notification"
	"signal-systemv1/internal/portfolio"
	"signal-systemv1/internal/risk"
	redisstore "signal-systemv1/internal/store/redis"
	sqlitestore "signal-systemv1/internal/store/sqlite"
	"signal-systemv1/internal/strategy"
	"signal-systemv1/pkg/broker"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[sigengine] starting...")

	// ---- Load config from env ----
	cfg := config.Load()
	logger.Init("signalengine", logger.ParseLevel(cfg.LogLevel))

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Context for graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- SQLite store (candles, snapshots) ----
	os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
	sqlWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[sigengine] sqlite init failed: %v", err)
	}
	defer sqlWriter.Close()
	sqlWriter.OnCommit = func(d time.Duration) {
		prom.SQLiteCommitDur.Observe(d.Seconds())
	}
	health.SetSQLiteOK(true)
	log.Println("[sigengine] sqlite store ready")

	// ---- Redis store behind a circuit breaker ----
	// Redis is the read-side fan-out; the engine keeps running without it.
	var buffered *redisstore.BufferedWriter
	redisWriter, err := redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Printf("[sigengine] WARNING: redis init failed: %v (continuing without redis)", err)
		health.SetRedisConnected(false)
		redisWriter = nil
	} else {
		health.SetRedisConnected(true)
		cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
		cb.OnStateChange = func(from, to redisstore.State) {
			prom.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.RedisCircuitBreakerTrips.Inc()
			}
			log.Printf("[sigengine] redis circuit breaker: %s -> %s", from, to)
		}
		redisWriter.OnWrite = func(d time.Duration) {
			prom.RedisWriteDur.Observe(d.Seconds())
		}
		buffered = redisstore.NewBufferedWriter(ctx, redisWriter, cb, 10000)
		buffered.OnBuffer = func() {
			prom.RedisBufferedWrites.Inc()
		}
		log.Println("[sigengine] redis store ready")
	}

	// ---- Periodic liveness checks ----
	if redisWriter != nil {
		health.StartLivenessChecker(ctx, redisWriter.Client(), sqlWriter.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, sqlWriter.DB(), 10*time.Second)
	}

	// ---- Strategy config store ----
	var loader configstore.Loader
	if cfg.StrategyConfigPath != "" {
		loader = configstore.FileLoader{Path: cfg.StrategyConfigPath}
		log.Printf("[sigengine] strategy config file: %s", cfg.StrategyConfigPath)
	}
	var confStore *configstore.Store
	if redisWriter != nil {
		confStore = configstore.New(loader, redisWriter.Client())
	} else {
		confStore = configstore.New(loader, nil)
	}
	confStore.Restore(ctx)
	if err := confStore.Refresh(ctx, time.Now()); err != nil {
		log.Printf("[sigengine] WARNING: initial config load failed, keeping restored/default config: %v", err)
	}
	confStore.Start(ctx)

	// ---- Execution, journal, portfolio ----
	ledger := execution.NewLedger()
	journal, err := execution.NewJournal(cfg.JournalPath)
	if err != nil {
		log.Fatalf("[sigengine] journal init failed: %v", err)
	}
	defer journal.Close()
	quotes := execution.NewQuoteCache()
	tracker := portfolio.NewTracker()

	// ---- Notifications ----
	backends := []notification.Notifier{notification.NewLogNotifier()}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		backends = append(backends, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
		log.Println("[sigengine] telegram alerts enabled")
	}
	if cfg.AlertWebhookURL != "" {
		backends = append(backends, notification.NewWebhookNotifier(cfg.AlertWebhookURL))
		log.Println("[sigengine] webhook alerts enabled")
	}
	notify := notification.NewFanout(backends...)

	// ---- Strategies ----
	router := strategy.NewRouter()
	router.Register(strategy.NewORB())
	router.Register(strategy.NewVWAPCrossover())

	// ---- Broker client & instrument resolution ----
	bk := broker.NewClient(broker.Config{
		APIKey:     cfg.AngelAPIKey,
		ClientCode: cfg.AngelClientCode,
		PIN:        cfg.AngelPIN,
		TOTPSecret: cfg.AngelTOTPSecret,
	})
	master := broker.NewInstrumentMaster()
	if err := master.Refresh(ctx); err != nil {
		log.Fatalf("[sigengine] scrip master load failed: %v", err)
	}

	now := time.Now().In(markethours.IST)
	var instruments []model.Instrument
	for _, spot := range cfg.ParseInstruments() {
		fut, err := master.CurrentFuture(spot.Index, now)
		if err != nil {
			log.Printf("[sigengine] WARNING: %v, skipping %s", err, spot.Index)
			continue
		}
		log.Printf("[sigengine] %s -> %s (token %s, lot %d)",
			spot.Index, fut.TradingSymbol, fut.Token, fut.LotSize)
		instruments = append(instruments, fut)
	}
	if len(instruments) == 0 {
		log.Fatalf("[sigengine] no tradeable instruments resolved")
	}

	// ---- Pipeline ----
	candleCh := make(chan model.Candle, 5000)
	deps := engine.Deps{
		Store:    confStore,
		Ledger:   ledger,
		Quotes:   quotes,
		Tracker:  tracker,
		Router:   router,
		Risk:     risk.New(),
		Resolver: master,
		Journal:  &journalHooks{inner: journal, notify: notify, prom: prom},
		Candles:  candleCh,
	}
	if buffered != nil {
		deps.Publisher = buffered
	}
	pipe := engine.New(engine.Config{
		SignalTF:      cfg.SignalTF,
		LateTolerance: time.Duration(cfg.LateToleranceSec) * time.Second,
	}, deps, instruments)

	pipe.OnTickQueued = func() {
		prom.TicksTotal.Inc()
		health.SetLastTickTime(time.Now())
	}
	pipe.OnTickDropped = func() { prom.DroppedTicks.Inc() }
	pipe.OnTickRejected = func(reason string) { prom.TicksRejected.WithLabelValues(reason).Inc() }
	pipe.OnVolumeReset = func() { prom.VolumeResets.Inc() }
	pipe.OnCandleClose = func(tf int) { prom.CandlesTotal.WithLabelValues(strconv.Itoa(tf)).Inc() }
	pipe.OnSignal = func(status string) { prom.SignalsTotal.WithLabelValues(status).Inc() }
	pipe.OnPanic = func(name string) { prom.StrategyPanics.WithLabelValues(name).Inc() }
	pipe.OnGap = func(key string, missedTS int64) {
		prom.RollupGaps.Inc()
		notify.Send(ctx, notification.GapAlert(key, missedTS))
	}

	// ---- Indicator session state restore (crash recovery) ----
	data, err := sqlWriter.ReadLatestSnapshotJSON()
	if err != nil {
		log.Printf("[sigengine] WARNING: snapshot read failed: %v", err)
	}
	if data == nil && redisWriter != nil {
		if data, err = redisWriter.ReadLatestSnapshotJSON(); err != nil {
			log.Printf("[sigengine] WARNING: redis snapshot read failed: %v", err)
		}
	}
	if data != nil {
		for _, inst := range instruments {
			eng := pipe.Indicators(inst.Key())
			if eng == nil {
				continue
			}
			if err := eng.RestoreJSON(data, now); err != nil {
				log.Printf("[sigengine] snapshot not restored for %s: %v", inst.Key(), err)
				break
			}
		}
	}

	pipe.Start(ctx)
	health.SetPipelineOK(true)

	snapStores := []model.SnapshotStore{sqlWriter}
	if redisWriter != nil {
		snapStores = append(snapStores, redisWriter)
	}

	// ---- Fan candles out to SQLite + Redis (off hot path) ----
	fanout := bus.New(5000)
	sqliteCh := fanout.Subscribe()
	var redisCh <-chan model.Candle
	if buffered != nil {
		redisCh = fanout.Subscribe()
	}
	go fanout.Run(ctx, candleCh)
	go sqlWriter.Run(ctx, sqliteCh)
	if buffered != nil && redisCh != nil {
		go buffered.Run(ctx, redisCh)
	}

	// ---- HTTP API ----
	apiSrv := &api.Server{Ledger: ledger, Tracker: tracker, Journal: journal, Config: confStore}
	httpSrv := &http.Server{Addr: cfg.APIAddr, Handler: apiSrv.NewRouter()}
	go func() {
		log.Printf("[sigengine] api listening on %s", cfg.APIAddr)
		if err := httpSrv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[sigengine] api server error: %v", err)
		}
	}()

	// ---- Option quote poller ----
	if cfg.QuotePollSec > 0 {
		go pollQuotes(ctx, bk, master, ledger, quotes, prom,
			time.Duration(cfg.QuotePollSec)*time.Second)
	}

	// ---- Periodic snapshot persistence ----
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				saveSnapshot(pipe, snapStores...)
			}
		}
	}()

	// ---- Gauges: open positions, market state ----
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				prom.OpenPositions.Set(float64(len(ledger.OpenPositions())))
				if markethours.IsMarketOpen(time.Now()) {
					prom.MarketState.Set(1)
				} else {
					prom.MarketState.Set(0)
				}
			}
		}
	}()

	// ---- Market-hours-gated feed session loop ----
	go func() {
		for {
			// --- Wait for the next connect window ---
			now := time.Now()
			if !markethours.IsMarketOpen(now) {
				next := markethours.NextOpen(now)
				connectAt := markethours.WSConnectTime(next)
				wait := connectAt.Sub(now)
				if wait < 0 {
					wait = 0
				}
				log.Printf("[sigengine] market closed. %s", markethours.StatusString(now))
				log.Printf("[sigengine] sleeping %v until connect window %s",
					wait.Truncate(time.Second), connectAt.In(markethours.IST).Format("Mon 15:04"))
				health.SetWSConnected(false)

				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
				}
			}

			// --- Fresh login (new TOTP + session) ---
			log.Println("[sigengine] opening broker session...")
			lctx, lcancel := context.WithTimeout(ctx, 15*time.Second)
			err := bk.Login(lctx)
			lcancel()
			if err != nil {
				log.Printf("[sigengine] login failed: %v, retrying in 30s", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(30 * time.Second):
				}
				continue
			}

			// --- Backfill cold indicator state from broker history ---
			seedIndicators(pipe, instruments, bk)

			// --- Connect WS with a deadline just past market close ---
			// The close detector lets the session linger after 15:30
			// until the closing price stops moving, up to its grace cap.
			closeTime := markethours.TodayClose(time.Now())
			det := closedetector.ForDay(time.Now())
			wsCtx, wsCancel := context.WithDeadline(ctx, closeTime.Add(det.MaxGrace))

			ingest, err := feed.New(feed.Config{
				AuthToken:   bk.AccessToken(),
				APIKey:      cfg.AngelAPIKey,
				ClientCode:  cfg.AngelClientCode,
				FeedToken:   bk.FeedToken(),
				Instruments: instruments,
			})
			if err != nil {
				log.Printf("[sigengine] feed init failed: %v, retrying in 30s", err)
				wsCancel()
				select {
				case <-ctx.Done():
					return
				case <-time.After(30 * time.Second):
				}
				continue
			}
			ingest.OnReconnect = func() {
				prom.WSReconnects.Inc()
				prom.SessionTransitions.WithLabelValues("ws_disconnect").Inc()
			}
			ingest.OnOverflow = func() { prom.RingBufOverflow.Inc() }

			health.SetWSConnected(true)
			prom.SessionTransitions.WithLabelValues("open").Inc()
			log.Printf("[sigengine] feed connected, will disconnect at %s",
				closeTime.In(markethours.IST).Format("15:04:05"))

			// Blocks until the closing price settles, the deadline
			// passes, or shutdown. The detector watches the first
			// instrument; index futures close together.
			primary := instruments[0].Token
			submit := func(raw model.RawTick) bool {
				ok := pipe.Submit(raw)
				if raw.Token == primary && det.Observe(raw.Price, raw.TickTS) {
					wsCancel()
				}
				return ok
			}
			if err := ingest.Start(wsCtx, submit); err != nil {
				log.Printf("[sigengine] feed session ended: %v", err)
			}
			wsCancel()
			health.SetWSConnected(false)
			prom.SessionTransitions.WithLabelValues("close").Inc()
			log.Println("[sigengine] feed disconnected, market close")

			// End-of-day snapshot before waiting for the next open.
			saveSnapshot(pipe, snapStores...)

			if ctx.Err() != nil {
				return
			}
		}
	}()

	log.Printf("[sigengine] signal engine running: %d instruments, signal TF %ds", len(instruments), cfg.SignalTF)
	log.Printf("[sigengine] %s", markethours.StatusString(time.Now()))

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[sigengine] shutdown signal received, cleaning up...")
	cancel()
	pipe.Wait()
	saveSnapshot(pipe, snapStores...)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)

	if buffered != nil {
		buffered.Close()
	}

	log.Println("[sigengine] shutdown complete.")
}

// journalHooks wraps the journal so every recorded signal and trade also
// feeds alerts and metrics before it is persisted.
type journalHooks struct {
	inner  *execution.Journal
	notify *notification.Fanout
	prom   *metrics.Metrics
}

func (j *journalHooks) RecordSignal(s model.Signal) error {
	j.notify.Send(context.Background(), notification.SignalAlert(s))
	return j.inner.RecordSignal(s)
}

func (j *journalHooks) RecordTrade(t model.Trade) error {
	j.prom.ExitsTotal.WithLabelValues(t.ExitReason).Inc()
	j.notify.Send(context.Background(), notification.ExitAlert(t))
	return j.inner.RecordTrade(t)
}

// saveSnapshot persists the pipeline's indicator session state to every
// configured store. Nothing is written while every engine is still cold.
func saveSnapshot(pipe *engine.Pipeline, stores ...model.SnapshotStore) {
	data := pipe.SnapshotJSON()
	if data == nil {
		return
	}
	for _, st := range stores {
		if err := st.SaveSnapshotJSON(data); err != nil {
			log.Printf("[sigengine] WARNING: snapshot save failed: %v", err)
		}
	}
}

// seedIndicators backfills cold indicator engines from the broker's
// historical 1m candles, so a mid-session start holds the same VWAP and
// opening-range state as a process running since open.
func seedIndicators(pipe *engine.Pipeline, instruments []model.Instrument, src backfill.CandleSource) {
	seeder := backfill.New(src, 60)
	now := time.Now().In(markethours.IST)
	for _, inst := range instruments {
		eng := pipe.Indicators(inst.Key())
		if eng == nil || eng.Session() != "" {
			continue
		}
		if _, err := seeder.Seed(eng, []model.Instrument{inst}, now); err != nil {
			log.Printf("[sigengine] WARNING: backfill %s: %v", inst.Key(), err)
		}
	}
}

// pollQuotes periodically refreshes option LTPs used for signal reference
// prices and position marking. Symbols come from the quote cache and from
// open positions; tokens are resolved through the scrip master.
func pollQuotes(ctx context.Context, bk *broker.Client, master *broker.InstrumentMaster,
	ledger *execution.Ledger, quotes *execution.QuoteCache, prom *metrics.Metrics,
	interval time.Duration) {

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var lastRefresh time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !lastRefresh.IsZero() {
			prom.QuoteAge.Set(time.Since(lastRefresh).Seconds())
		}
		if bk.AccessToken() == "" {
			continue
		}

		want := make(map[string]bool)
		for _, sym := range quotes.Symbols() {
			want[sym] = true
		}
		for _, pos := range ledger.OpenPositions() {
			if pos.RefSymbol != "" {
				want[pos.RefSymbol] = true
			}
		}
		if len(want) == 0 {
			continue
		}

		tokens := make([]string, 0, len(want))
		tokenSym := make(map[string]string, len(want))
		for sym := range want {
			tok, ok := master.TokenFor(sym)
			if !ok {
				continue
			}
			tokens = append(tokens, tok)
			tokenSym["NFO:"+tok] = sym
		}
		if len(tokens) == 0 {
			continue
		}

		qctx, qcancel := context.WithTimeout(ctx, 5*time.Second)
		ltps, err := bk.Quotes(qctx, map[string][]string{"NFO": tokens})
		qcancel()
		if err != nil {
			log.Printf("[sigengine] quote poll failed: %v", err)
			continue
		}
		for key, ltp := range ltps {
			if sym, ok := tokenSym[key]; ok {
				quotes.Set(sym, ltp)
			}
		}
		lastRefresh = time.Now()
		prom.QuoteAge.Set(0)
	}
}
