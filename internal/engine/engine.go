// Package engine wires the tick-to-signal pipeline: normalization, candle
// aggregation, rollup, indicators, strategy routing, exit evaluation and the
// paper ledger. Each instrument is owned by a single worker goroutine; every
// candle close is processed as one ordered unit, so strategies, exits and
// config refreshes all observe the same consistent state.
package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"signal-systemv1/internal/configstore"
	"signal-systemv1/internal/execution"
	"signal-systemv1/internal/indicator"
	"signal-systemv1/internal/markethours"
	"signal-systemv1/internal/marketdata/agg"
	"signal-systemv1/internal/marketdata/normalizer"
	"signal-systemv1/internal/marketdata/rollup"
	"signal-systemv1/internal/model"
	"signal-systemv1/internal/portfolio"
	"signal-systemv1/internal/risk"
	"signal-systemv1/internal/strategy"
)

// ContractResolver maps an underlying and direction to the ATM option
// contract used for marking. Implemented by the broker client; nil disables
// option marking and positions mark off the underlying close.
type ContractResolver interface {
	ResolveOption(inst model.Instrument, direction string, underlying int64) (symbol string, ok bool)
}

// Journal records routed signals and completed trades.
type Journal interface {
	RecordSignal(s model.Signal) error
	RecordTrade(t model.Trade) error
}

// Config holds pipeline tuning.
type Config struct {
	SignalTF      int           // higher timeframe in seconds (300)
	QueueSize     int           // per-instrument tick queue depth
	LateTolerance time.Duration // aggregator late-tick tolerance
}

// Deps are the pipeline's collaborators. Store, Ledger, Quotes, Tracker,
// Router and Risk are required; the rest are optional.
type Deps struct {
	Store   *configstore.Store
	Ledger  *execution.Ledger
	Quotes  *execution.QuoteCache
	Tracker *portfolio.Tracker
	Router  *strategy.Router
	Risk    *risk.Evaluator

	Resolver  ContractResolver
	Journal   Journal
	Publisher model.EventPublisher
	Candles   chan<- model.Candle // completed 1m and signal-TF candles
}

// Pipeline fans raw ticks out to per-instrument workers.
type Pipeline struct {
	cfg  Config
	deps Deps

	workers map[string]*worker
	wg      sync.WaitGroup

	// decision serializes the route/exit unit across workers so shared
	// state (router caps, ledger, tracker) sees candle closes one at a time
	decision sync.Mutex
	session  string

	// Metrics hooks (optional, must be non-blocking). Set before Start.
	OnTickQueued   func()
	OnTickDropped  func()
	OnTickRejected func(reason string)
	OnVolumeReset  func()
	OnCandleClose  func(tf int)
	OnSignal       func(status string)
	OnGap          func(key string, missedTS int64)
	OnPanic        func(strategy string)
}

// worker owns the full per-instrument state.
type worker struct {
	inst model.Instrument
	in   chan model.RawTick

	norm *normalizer.Normalizer
	agg  *agg.Aggregator
	roll *rollup.Rollup
	ind  *indicator.Engine

	prev    *model.Candle // previous completed signal-TF candle
	session string
}

// New creates a Pipeline for the given instruments.
func New(cfg Config, deps Deps, instruments []model.Instrument) *Pipeline {
	if cfg.SignalTF == 0 {
		cfg.SignalTF = 300
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 1024
	}
	p := &Pipeline{cfg: cfg, deps: deps, workers: make(map[string]*worker, len(instruments))}
	for _, inst := range instruments {
		w := &worker{
			inst: inst,
			in:   make(chan model.RawTick, cfg.QueueSize),
			norm: normalizer.New(),
			agg:  agg.New(),
			roll: rollup.New(agg.BaseTF, cfg.SignalTF),
			ind:  indicator.NewEngine(),
		}
		w.agg.LateTolerance = cfg.LateTolerance
		if deps.Store != nil {
			w.ind.ORMinutes = deps.Store.Snapshot().ORWindowMinutes
		}
		p.workers[inst.Key()] = w
	}
	return p
}

// Indicators returns the indicator engine owning an instrument's session
// state, for backfill seeding and snapshot restore before Start.
func (p *Pipeline) Indicators(key string) *indicator.Engine {
	if w, ok := p.workers[key]; ok {
		return w.ind
	}
	return nil
}

// SnapshotJSON captures every worker's indicator session state as one
// document for periodic persistence and crash recovery.
func (p *Pipeline) SnapshotJSON() []byte {
	engines := make([]*indicator.Engine, 0, len(p.workers))
	for _, w := range p.workers {
		engines = append(engines, w.ind)
	}
	p.decision.Lock()
	defer p.decision.Unlock()
	return indicator.MergeSnapshotJSON(engines...)
}

// Instruments returns the configured instruments.
func (p *Pipeline) Instruments() []model.Instrument {
	out := make([]model.Instrument, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, w.inst)
	}
	return out
}

// Start launches one worker goroutine per instrument.
func (p *Pipeline) Start(ctx context.Context) {
	p.deps.Router.OnPanic = p.OnPanic
	for _, w := range p.workers {
		w.norm.OnRejected = p.OnTickRejected
		w.norm.OnReset = p.OnVolumeReset
		w.roll.OnGap = p.gapHook
		p.wg.Add(1)
		go p.run(ctx, w)
	}
	log.Printf("[engine] started %d instrument workers (signal TF %ds)", len(p.workers), p.cfg.SignalTF)
}

// Wait blocks until all workers have drained after ctx cancellation.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Submit dispatches a raw tick to its instrument's worker queue without
// blocking. Ticks for unknown instruments or full queues are dropped.
func (p *Pipeline) Submit(raw model.RawTick) bool {
	w, ok := p.workers[raw.Key()]
	if !ok {
		return false
	}
	select {
	case w.in <- raw:
		if p.OnTickQueued != nil {
			p.OnTickQueued()
		}
		return true
	default:
		if p.OnTickDropped != nil {
			p.OnTickDropped()
		}
		return false
	}
}

func (p *Pipeline) run(ctx context.Context, w *worker) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			for _, c := range w.agg.Flush() {
				p.onBaseClose(w, c)
			}
			return
		case raw, ok := <-w.in:
			if !ok {
				return
			}
			tick, valid := w.norm.Normalize(raw)
			if !valid {
				continue
			}
			for _, c := range w.agg.Ingest(tick) {
				p.onBaseClose(w, c)
			}
		}
	}
}

// onBaseClose handles a completed 1-minute candle: session rollover,
// indicator update, persistence, rollup.
func (p *Pipeline) onBaseClose(w *worker, c model.Candle) {
	session := markethours.SessionDate(c.TS)
	if w.session != session {
		if w.session != "" {
			w.roll.ResetSession()
			w.prev = nil
		}
		w.session = session
		if p.deps.Store != nil {
			// pick up a new opening-range window length before the
			// session's first indicator update creates the state
			w.ind.ORMinutes = p.deps.Store.Get(c.TS).ORWindowMinutes
		}
		p.rollSession(session)
	}

	// indicator updates share the decision lock so SnapshotJSON sees a
	// consistent view across workers
	p.decision.Lock()
	w.ind.Update(c)
	p.decision.Unlock()

	p.emitCandle(c)
	if p.OnCandleClose != nil {
		p.OnCandleClose(c.TF)
	}

	if tfc := w.roll.Ingest(c); tfc != nil {
		p.onSignalClose(w, *tfc)
	}
}

// onSignalClose is the ordered candle-close unit: config refresh, strategy
// routing, reference-price marking and exit evaluation under one lock.
func (p *Pipeline) onSignalClose(w *worker, tfc model.Candle) {
	p.emitCandle(tfc)
	if p.OnCandleClose != nil {
		p.OnCandleClose(tfc.TF)
	}

	closeTime := tfc.CloseTime()
	view := w.ind.View(tfc.Key())

	p.decision.Lock()
	defer p.decision.Unlock()

	// config edits only take effect here, at the close boundary
	cfg := p.deps.Store.Get(closeTime)

	signals := p.deps.Router.Route(tfc, w.prev, view, cfg, w.inst)
	for i := range signals {
		p.handleSignal(w, &signals[i], cfg, closeTime)
	}

	p.markAndExit(w, tfc, view, cfg, closeTime)
	w.prev = &tfc
}

// handleSignal resolves the reference contract, records the signal and
// opens a paper position for ACTIVE ones.
func (p *Pipeline) handleSignal(w *worker, sig *model.Signal, cfg configstore.Config, now time.Time) {
	if p.deps.Resolver != nil {
		if symbol, ok := p.deps.Resolver.ResolveOption(w.inst, sig.Direction, sig.Price); ok {
			sig.RefSymbol = symbol
			if ltp, ok := p.deps.Quotes.Get(symbol); ok {
				sig.RefPrice = ltp
			} else {
				// unresolved at emission; the ledger marks this position
				// off the underlying, but the poller should start
				// quoting the contract for later signals
				p.deps.Quotes.Track(symbol)
			}
		}
	}

	if p.OnSignal != nil {
		p.OnSignal(sig.Status)
	}
	if p.deps.Journal != nil {
		if err := p.deps.Journal.RecordSignal(*sig); err != nil {
			log.Printf("[engine] WARNING: journal signal %s: %v", sig.ID, err)
		}
	}
	if p.deps.Publisher != nil {
		p.deps.Publisher.PublishSignal(context.Background(), *sig)
	}
	if sig.Status != model.SignalActive {
		return
	}

	pos, err := p.deps.Ledger.Open(*sig, cfg.Qty, now)
	if err != nil {
		log.Printf("[engine] signal %s not opened: %v", sig.ID, err)
		return
	}
	if p.deps.Publisher != nil {
		p.deps.Publisher.PublishPosition(context.Background(), pos)
	}
}

// markAndExit marks this instrument's open positions to the latest
// reference price and applies the exit rules.
func (p *Pipeline) markAndExit(w *worker, tfc model.Candle, view indicator.View,
	cfg configstore.Config, now time.Time) {

	for _, pos := range p.deps.Ledger.OpenPositions() {
		if pos.Exchange != tfc.Exchange || pos.Token != tfc.Token {
			continue
		}
		mark := tfc.Close
		if pos.RefSymbol != "" {
			if ltp, ok := p.deps.Quotes.Get(pos.RefSymbol); ok {
				mark = ltp
			}
		}
		p.deps.Ledger.UpdateMark(pos.Key(), mark)
	}

	for _, pos := range p.deps.Ledger.OpenPositions() {
		if pos.Exchange != tfc.Exchange || pos.Token != tfc.Token {
			continue
		}
		reason := p.deps.Risk.Evaluate(&pos, view, tfc.Close, cfg, now)
		if reason == "" {
			continue
		}
		if !p.deps.Ledger.RequestExit(pos.Key(), reason) {
			continue
		}
		closed, err := p.deps.Ledger.Close(pos.Key(), now)
		if err != nil {
			log.Printf("[engine] WARNING: close %s: %v", pos.Key(), err)
			continue
		}
		p.deps.Tracker.RecordClose(closed)
		if p.deps.Journal != nil {
			if err := p.deps.Journal.RecordTrade(tradeFrom(closed)); err != nil {
				log.Printf("[engine] WARNING: journal trade %s: %v", closed.TradeID, err)
			}
		}
		if p.deps.Publisher != nil {
			p.deps.Publisher.PublishPosition(context.Background(), closed)
		}
	}
}

// rollSession resets shared session state exactly once per new date.
func (p *Pipeline) rollSession(session string) {
	p.decision.Lock()
	defer p.decision.Unlock()
	if p.session == session {
		return
	}
	p.session = session
	p.deps.Tracker.ResetSession(session)
	log.Printf("[engine] session rolled to %s", session)
}

func (p *Pipeline) gapHook(key string, missedTS int64) {
	log.Printf("[engine] rollup gap on %s at minute %d", key, missedTS)
	if p.OnGap != nil {
		p.OnGap(key, missedTS)
	}
	if p.deps.Publisher != nil {
		p.deps.Publisher.PublishGap(context.Background(), key, missedTS)
	}
}

func (p *Pipeline) emitCandle(c model.Candle) {
	if p.deps.Candles == nil {
		return
	}
	select {
	case p.deps.Candles <- c:
	default:
		log.Printf("[engine] candle channel full, dropping %s tf=%d ts=%v", c.Key(), c.TF, c.TS)
	}
}

func tradeFrom(p model.Position) model.Trade {
	return model.Trade{
		TradeID:    p.TradeID,
		Strategy:   p.Strategy,
		Token:      p.Token,
		Exchange:   p.Exchange,
		Index:      p.Index,
		Direction:  p.Direction,
		RefSymbol:  p.RefSymbol,
		Qty:        p.Qty,
		Entry:      p.Entry,
		Exit:       p.Mark,
		PnL:        p.PnL,
		ExitReason: p.ExitReason,
		OpenedAt:   p.OpenedAt,
		ClosedAt:   p.ClosedAt,
	}
}
