package strategy

import (
	"log"
	"time"

	"signal-systemv1/internal/configstore"
	"signal-systemv1/internal/indicator"
	"signal-systemv1/internal/markethours"
	"signal-systemv1/internal/model"
)

// Router runs registered strategies on completed candles and applies the
// runtime config: strategy toggles, the trade window and per-(index,
// direction) daily caps. Suppressed signals are returned with their status
// set but never count against caps. A panicking strategy is isolated; the
// others still run. Owned by a single pipeline worker.
type Router struct {
	strategies []Strategy

	session string         // IST date the counts belong to
	counts  map[string]int // "index:direction" → ACTIVE signals today

	// Metrics hook (optional, must be non-blocking).
	OnPanic func(strategy string)
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{counts: make(map[string]int)}
}

// Register adds a strategy to the router.
func (r *Router) Register(s Strategy) {
	r.strategies = append(r.strategies, s)
}

// Route evaluates every enabled strategy against a completed candle and
// returns the resulting signals, each stamped ACTIVE or SUPPRESSED.
func (r *Router) Route(c model.Candle, prev *model.Candle, ind indicator.View,
	cfg configstore.Config, inst model.Instrument) []model.Signal {

	r.rollSession(c.TS)

	var out []model.Signal
	for _, s := range r.strategies {
		if !cfg.StrategyEnabled(s.Name()) {
			continue
		}
		sig := r.evaluate(s, c, prev, ind)
		if sig == nil {
			continue
		}
		sig.Index = inst.Index
		r.applyStatus(sig, cfg)
		out = append(out, *sig)
	}
	return out
}

// evaluate runs one strategy with panic isolation.
func (r *Router) evaluate(s Strategy, c model.Candle, prev *model.Candle, ind indicator.View) (sig *model.Signal) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[router] strategy %s panicked on %s @ %v: %v", s.Name(), c.Key(), c.TS, rec)
			if r.OnPanic != nil {
				r.OnPanic(s.Name())
			}
			sig = nil
		}
	}()
	return s.Evaluate(c, prev, ind)
}

// applyStatus stamps the signal ACTIVE or SUPPRESSED and updates counts.
func (r *Router) applyStatus(sig *model.Signal, cfg configstore.Config) {
	if !inTradeWindow(sig.TS, cfg) {
		sig.Status = model.SignalSuppressed
		sig.Reason += " (outside trade window)"
		return
	}
	key := sig.Index + ":" + sig.Direction
	if r.counts[key] >= cfg.MaxFor(sig.Index) {
		sig.Status = model.SignalSuppressed
		sig.Reason += " (daily cap reached)"
		return
	}
	sig.Status = model.SignalActive
	r.counts[key]++
}

// rollSession resets the daily counts when the session date changes.
func (r *Router) rollSession(ts time.Time) {
	session := markethours.SessionDate(ts)
	if r.session != session {
		r.session = session
		r.counts = make(map[string]int)
	}
}

// inTradeWindow reports whether ts falls inside [TradeAfter, TradeBefore].
// Unparseable bounds are treated as absent.
func inTradeWindow(ts time.Time, cfg configstore.Config) bool {
	hm := ts.In(markethours.IST).Hour()*60 + ts.In(markethours.IST).Minute()
	if after, ok := parseHM(cfg.TradeAfter); ok && hm < after {
		return false
	}
	if before, ok := parseHM(cfg.TradeBefore); ok && hm > before {
		return false
	}
	return true
}

func parseHM(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
