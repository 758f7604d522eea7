package agg

import (
	"sort"
	"time"

	"signal-systemv1/internal/model"
)

// BaseTF is the base candle timeframe in seconds.
const BaseTF = 60

// instState holds the open minute windows for one instrument. Windows are
// keyed by bucket start (Unix second, minute-aligned). With a zero late
// tolerance at most one window is open; a positive tolerance keeps the
// previous window pending while the next one fills.
type instState struct {
	windows   map[int64]*model.Candle
	watermark int64 // highest tick timestamp seen (Unix second)
	maxClosed int64 // highest bucket already emitted
}

// Aggregator builds 1-minute OHLC candles from normalized ticks using event
// time. A window [b, b+60) closes once the instrument's watermark reaches
// b+60+LateTolerance; ticks for already-closed windows are dropped. It is
// owned by a single pipeline worker and is not safe for concurrent use.
type Aggregator struct {
	// LateTolerance delays window close to admit slightly delayed ticks.
	LateTolerance time.Duration

	states map[string]*instState

	// Metrics hook (optional, must be non-blocking).
	OnDroppedTick func()
}

// New creates a new Aggregator.
func New() *Aggregator {
	return &Aggregator{states: make(map[string]*instState)}
}

// Ingest incorporates one tick and returns any minute candles completed by
// it, in bucket order.
func (a *Aggregator) Ingest(tick model.Tick) []model.Candle {
	ts := tick.TickTS.Unix()
	bucket := ts - ts%BaseTF
	key := tick.Key()

	st, ok := a.states[key]
	if !ok {
		st = &instState{windows: make(map[int64]*model.Candle), maxClosed: -1}
		a.states[key] = st
	}

	if bucket <= st.maxClosed {
		if a.OnDroppedTick != nil {
			a.OnDroppedTick()
		}
		return nil
	}

	c, open := st.windows[bucket]
	if !open {
		st.windows[bucket] = &model.Candle{
			Token:    tick.Token,
			Exchange: tick.Exchange,
			TF:       BaseTF,
			TS:       time.Unix(bucket, 0).In(tick.TickTS.Location()),
			Open:     tick.Price,
			High:     tick.Price,
			Low:      tick.Price,
			Close:    tick.Price,
			Volume:   tick.Volume,
			Count:    1,
		}
	} else {
		if tick.Price > c.High {
			c.High = tick.Price
		}
		if tick.Price < c.Low {
			c.Low = tick.Price
		}
		c.Close = tick.Price
		c.Volume += tick.Volume
		c.Count++
	}

	if ts > st.watermark {
		st.watermark = ts
	}
	return a.closeReady(st)
}

// closeReady emits, in bucket order, every window whose close instant plus
// the late tolerance has been passed by the watermark.
func (a *Aggregator) closeReady(st *instState) []model.Candle {
	tol := int64(a.LateTolerance / time.Second)

	var ready []int64
	for b := range st.windows {
		if st.watermark >= b+BaseTF+tol {
			ready = append(ready, b)
		}
	}
	if len(ready) == 0 {
		return nil
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })

	out := make([]model.Candle, 0, len(ready))
	for _, b := range ready {
		out = append(out, *st.windows[b])
		delete(st.windows, b)
		if b > st.maxClosed {
			st.maxClosed = b
		}
	}
	return out
}

// Flush emits every open window for every instrument, in bucket order per
// instrument. Called at session end.
func (a *Aggregator) Flush() []model.Candle {
	var out []model.Candle
	for _, st := range a.states {
		var buckets []int64
		for b := range st.windows {
			buckets = append(buckets, b)
		}
		sort.Slice(buckets, func(i, j int) bool { return buckets[i] < buckets[j] })
		for _, b := range buckets {
			out = append(out, *st.windows[b])
			delete(st.windows, b)
			if b > st.maxClosed {
				st.maxClosed = b
			}
		}
	}
	return out
}

// ResetSession clears all per-instrument window state.
func (a *Aggregator) ResetSession() {
	a.states = make(map[string]*instState)
}
