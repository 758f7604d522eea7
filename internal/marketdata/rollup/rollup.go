package rollup

import (
	"log"
	"time"

	"signal-systemv1/internal/model"
)

// instState tracks the in-progress higher-TF bucket for one instrument.
type instState struct {
	bucket   int64 // TF-aligned bucket start (Unix second), -1 when idle
	nextTS   int64 // expected start of the next constituent minute
	candle   model.Candle
	gathered int
}

// Rollup combines K consecutive contiguous base candles into one higher-TF
// candle (open = first, close = last, high = max, low = min, volume = sum).
// A missing minute stalls the current bucket: the partial run is discarded,
// OnGap fires, and accumulation restarts at the next aligned contiguous run.
// Owned by a single pipeline worker; not safe for concurrent use.
type Rollup struct {
	tf     int // target timeframe in seconds
	baseTF int
	k      int
	states map[string]*instState

	// Metrics hooks (optional, must be non-blocking).
	OnGap func(key string, missedTS int64)
}

// New creates a Rollup from baseTF-second candles to tf-second candles.
// tf must be a multiple of baseTF.
func New(baseTF, tf int) *Rollup {
	return &Rollup{
		tf:     tf,
		baseTF: baseTF,
		k:      tf / baseTF,
		states: make(map[string]*instState),
	}
}

// TF returns the target timeframe in seconds.
func (r *Rollup) TF() int { return r.tf }

// Ingest incorporates one completed base candle and returns the completed
// higher-TF candle when c is the bucket's final constituent, else nil.
func (r *Rollup) Ingest(c model.Candle) *model.Candle {
	key := c.Key()
	st, ok := r.states[key]
	if !ok {
		st = &instState{bucket: -1}
		r.states[key] = st
	}

	ts := c.TS.Unix()
	bucket := ts - ts%int64(r.tf)

	if st.bucket >= 0 && ts != st.nextTS {
		// a minute is missing; the partial bucket can never complete
		log.Printf("[rollup] gap for %s: expected minute %d, got %d, discarding partial bucket %d",
			key, st.nextTS, ts, st.bucket)
		if r.OnGap != nil {
			r.OnGap(key, st.nextTS)
		}
		st.bucket = -1
	}

	if st.bucket < 0 {
		// only start a bucket at its aligned first minute
		if ts != bucket {
			return nil
		}
		st.bucket = bucket
		st.nextTS = ts + int64(r.baseTF)
		st.gathered = 1
		st.candle = model.Candle{
			Token:    c.Token,
			Exchange: c.Exchange,
			TF:       r.tf,
			TS:       time.Unix(bucket, 0).In(c.TS.Location()),
			Open:     c.Open,
			High:     c.High,
			Low:      c.Low,
			Close:    c.Close,
			Volume:   c.Volume,
			Count:    1,
		}
	} else {
		agg := &st.candle
		if c.High > agg.High {
			agg.High = c.High
		}
		if c.Low < agg.Low {
			agg.Low = c.Low
		}
		agg.Close = c.Close
		agg.Volume += c.Volume
		agg.Count++
		st.gathered++
		st.nextTS = ts + int64(r.baseTF)
	}

	if st.gathered < r.k {
		return nil
	}
	out := st.candle
	st.bucket = -1
	return &out
}

// ResetSession clears all per-instrument bucket state.
func (r *Rollup) ResetSession() {
	r.states = make(map[string]*instState)
}
