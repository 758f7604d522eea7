package indicator

import (
	"time"

	"signal-systemv1/internal/markethours"
	"signal-systemv1/internal/model"
)

// OpeningRange tracks the high/low of the session's opening window
// (9:15–9:45 IST). A candle contributes when its close time lies in
// (start, end]; the candle whose close time reaches the window end is the
// final constituent and freezes the range. Provisional values are readable
// before finalization.
type OpeningRange struct {
	start, end time.Time
	high, low  int64
	seen       bool
	finalized  bool
}

// NewOpeningRange creates an opening range for the session containing day.
// minutes is the window length from session open; <= 0 uses the default.
func NewOpeningRange(day time.Time, minutes int) *OpeningRange {
	start, end := markethours.ORWindowFor(day, minutes)
	return &OpeningRange{start: start, end: end}
}

// Update feeds one completed candle. Candles closing after the window has
// finalized are ignored.
func (o *OpeningRange) Update(c model.Candle) {
	if o.finalized {
		return
	}
	ct := c.CloseTime()
	if ct.After(o.end) {
		// the closing candle was missed; freeze whatever accumulated
		o.finalized = true
		return
	}
	if !ct.After(o.start) {
		return
	}
	if !o.seen || c.High > o.high {
		o.high = c.High
	}
	if !o.seen || c.Low < o.low {
		o.low = c.Low
	}
	o.seen = true
	if ct.Equal(o.end) {
		o.finalized = true
	}
}

// High returns the range high in paise. Valid only when Ready.
func (o *OpeningRange) High() int64 { return o.high }

// Low returns the range low in paise. Valid only when Ready.
func (o *OpeningRange) Low() int64 { return o.low }

// Ready returns true once at least one candle has contributed.
func (o *OpeningRange) Ready() bool { return o.seen }

// Final returns true once the window is frozen.
func (o *OpeningRange) Final() bool { return o.finalized }
