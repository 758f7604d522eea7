// Package replay reads a stored session's minute candles from SQLite
// and turns them back into synthetic ticks, so the full pipeline
// (normalizer through strategies and exits) can be dry-run offline.
package replay

import (
	"context"
	"log"
	"time"

	"signal-systemv1/internal/model"
)

// CandleSource supplies stored candles, normally the SQLite reader.
type CandleSource interface {
	ReadCandles(exchange, token string, tf int, afterTS int64) ([]model.Candle, error)
}

// Replayer converts stored 1m candles into raw tick streams.
type Replayer struct {
	source CandleSource
	tf     int
}

// New creates a Replayer over tf-second stored candles.
func New(source CandleSource, tf int) *Replayer {
	return &Replayer{source: source, tf: tf}
}

// Run replays all candles for the given instruments after fromTS,
// merged in time order, emitting synthetic ticks through submit.
// speed controls playback: 1.0 = real-time, 10.0 = 10x, 0 = unthrottled.
func (r *Replayer) Run(ctx context.Context, instruments []model.Instrument, fromTS int64, speed float64, submit func(model.RawTick) bool) error {
	var all []model.Candle
	cumVol := make(map[string]int64)

	for _, inst := range instruments {
		candles, err := r.source.ReadCandles(inst.Exchange, inst.Token, r.tf, fromTS)
		if err != nil {
			return err
		}
		all = append(all, candles...)
	}

	if len(all) == 0 {
		log.Println("[replay] no candles found")
		return nil
	}
	sortCandles(all)

	log.Printf("[replay] loaded %d candles for %d instruments, speed=%.1fx",
		len(all), len(instruments), speed)

	var prevTS time.Time
	emitted := 0

	for _, c := range all {
		select {
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d candles", emitted)
			return ctx.Err()
		default:
		}

		// Simulate time gaps between candles
		if speed > 0 && !prevTS.IsZero() {
			gap := c.TS.Sub(prevTS)
			if gap > 0 {
				scaledGap := time.Duration(float64(gap) / speed)
				// Cap max sleep to avoid very long waits
				if scaledGap > 5*time.Second {
					scaledGap = 5 * time.Second
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(scaledGap):
				}
			}
		}
		prevTS = c.TS

		for _, raw := range r.ticksFor(c, cumVol) {
			submit(raw)
		}
		emitted++
	}

	log.Printf("[replay] completed: %d candles replayed", emitted)
	return nil
}

// ticksFor expands one candle into four synthetic ticks (open, high,
// low, close) spread across the candle window, with the candle's volume
// folded back into the session-cumulative counter the normalizer expects.
func (r *Replayer) ticksFor(c model.Candle, cumVol map[string]int64) []model.RawTick {
	key := c.Key()
	quarter := time.Duration(c.TF) * time.Second / 4

	prices := [4]int64{c.Open, c.High, c.Low, c.Close}
	shares := [4]int64{c.Volume / 4, c.Volume / 4, c.Volume / 4, c.Volume - 3*(c.Volume/4)}

	out := make([]model.RawTick, 0, 4)
	for i := 0; i < 4; i++ {
		cumVol[key] += shares[i]
		out = append(out, model.RawTick{
			Token:     c.Token,
			Exchange:  c.Exchange,
			Price:     prices[i],
			CumVolume: cumVol[key],
			TickTS:    c.TS.Add(time.Duration(i) * quarter),
		})
	}
	return out
}

// sortCandles sorts candles by timestamp (insertion sort, stable and
// fine for replay sizes).
func sortCandles(candles []model.Candle) {
	for i := 1; i < len(candles); i++ {
		for j := i; j > 0 && candles[j].TS.Before(candles[j-1].TS); j-- {
			candles[j], candles[j-1] = candles[j-1], candles[j]
		}
	}
}
