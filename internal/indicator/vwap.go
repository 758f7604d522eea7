// Package indicator provides session-scoped indicator calculations over
// candle data: cumulative VWAP and the opening range. All state resets at
// session rollover; both indicators can be seeded from backfilled candles.
package indicator

import "signal-systemv1/internal/model"

// VWAP accumulates the session volume-weighted average price:
// Σ(close·volume) / Σ(volume) over all completed base candles since open.
// Undefined (Ready() == false) until the first candle with nonzero volume.
type VWAP struct {
	cumPV  float64 // Σ close·volume, paise
	cumVol int64
}

// NewVWAP creates an empty session VWAP.
func NewVWAP() *VWAP {
	return &VWAP{}
}

// Update feeds one completed candle.
func (v *VWAP) Update(c model.Candle) {
	v.cumPV += float64(c.Close) * float64(c.Volume)
	v.cumVol += c.Volume
}

// Value returns the current VWAP in paise. Returns 0 if not ready.
func (v *VWAP) Value() float64 {
	if v.cumVol == 0 {
		return 0
	}
	return v.cumPV / float64(v.cumVol)
}

// Ready returns true once any volume has accumulated.
func (v *VWAP) Ready() bool {
	return v.cumVol > 0
}
