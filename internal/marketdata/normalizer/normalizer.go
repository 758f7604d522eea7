package normalizer

import (
	"log"
	"time"

	"signal-systemv1/internal/markethours"
	"signal-systemv1/internal/model"
)

// Normalizer converts raw broker ticks into clean pipeline ticks:
// timestamps in IST, cumulative session volume replaced by the differential
// volume since the previous tick. It tracks per-instrument state and is NOT
// safe for concurrent use; each pipeline worker owns one Normalizer.
type Normalizer struct {
	// ResetThreshold is the cumulative-volume drop (as a fraction of the
	// previous cumulative) treated as a session reset rather than a data
	// anomaly. A drop below prev*ResetThreshold reseeds the baseline.
	ResetThreshold float64

	// CloseGrace admits ticks arriving up to this long after session close.
	CloseGrace time.Duration

	state map[string]*instState

	// Metrics hooks (optional, must be non-blocking).
	OnRejected func(reason string)
	OnAnomaly  func()
	OnReset    func()
}

type instState struct {
	lastCum int64
	lastTS  time.Time
	session string // IST session date the baseline belongs to
}

// Reject reasons reported via OnRejected.
const (
	RejectBeforeOpen  = "before_open"
	RejectAfterClose  = "after_close"
	RejectNonTradeDay = "non_trading_day"
	RejectOutOfOrder  = "out_of_order"
)

// New creates a Normalizer with default thresholds.
func New() *Normalizer {
	return &Normalizer{
		ResetThreshold: 0.5,
		CloseGrace:     2 * time.Minute,
		state:          make(map[string]*instState),
	}
}

// Normalize validates raw and, when valid, returns the normalized tick.
// Invalid ticks (outside the session window, or timestamped before the
// instrument's previous tick) return ok=false and are counted via OnRejected.
func (n *Normalizer) Normalize(raw model.RawTick) (model.Tick, bool) {
	ts := raw.TickTS.In(markethours.IST)

	if !markethours.IsTradingDay(ts) {
		n.reject(RejectNonTradeDay)
		return model.Tick{}, false
	}
	if ts.Before(markethours.SessionOpen(ts)) {
		n.reject(RejectBeforeOpen)
		return model.Tick{}, false
	}
	if ts.After(markethours.TodayClose(ts).Add(n.CloseGrace)) {
		n.reject(RejectAfterClose)
		return model.Tick{}, false
	}

	key := raw.Key()
	session := markethours.SessionDate(ts)
	st, seen := n.state[key]

	if seen && st.session == session {
		// exchange timestamps have second granularity and bursts deliver
		// several ticks per second; only going backwards is out of order
		if ts.Before(st.lastTS) {
			n.reject(RejectOutOfOrder)
			return model.Tick{}, false
		}
	}

	diff := n.diffVolume(key, st, seen, session, raw.CumVolume)

	if st == nil {
		st = &instState{}
		n.state[key] = st
	}
	st.lastCum = raw.CumVolume
	st.lastTS = ts
	st.session = session

	return model.Tick{
		Token:    raw.Token,
		Exchange: raw.Exchange,
		Price:    raw.Price,
		Volume:   diff,
		TickTS:   ts,
	}, true
}

// diffVolume derives the differential volume from the cumulative counter.
// First tick of a session seeds the baseline with the full cumulative value;
// a large mid-session drop means the counter restarted (new session) and the
// baseline reseeds with zero differential; a small drop is a feed anomaly
// clamped to zero.
func (n *Normalizer) diffVolume(key string, st *instState, seen bool, session string, cum int64) int64 {
	if !seen || st.session != session {
		return cum
	}
	d := cum - st.lastCum
	if d >= 0 {
		return d
	}
	if st.lastCum > 0 && float64(cum) < float64(st.lastCum)*n.ResetThreshold {
		log.Printf("[normalizer] session reset detected for %s: cum %d -> %d", key, st.lastCum, cum)
		if n.OnReset != nil {
			n.OnReset()
		}
		return 0
	}
	log.Printf("[normalizer] negative volume delta for %s: cum %d -> %d, clamping", key, st.lastCum, cum)
	if n.OnAnomaly != nil {
		n.OnAnomaly()
	}
	return 0
}

// ResetSession drops all per-instrument baselines. Called by the pipeline
// at session rollover.
func (n *Normalizer) ResetSession() {
	n.state = make(map[string]*instState)
}

func (n *Normalizer) reject(reason string) {
	if n.OnRejected != nil {
		n.OnRejected(reason)
	}
}
