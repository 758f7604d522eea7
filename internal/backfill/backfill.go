// Package backfill seeds session indicator state from historical candles
// after a mid-session start or restart, so VWAP and the opening range match
// what a process running since open would hold.
package backfill

import (
	"fmt"
	"log"
	"time"

	"signal-systemv1/internal/indicator"
	"signal-systemv1/internal/markethours"
	"signal-systemv1/internal/model"
)

// CandleSource supplies completed candles for seeding. Satisfied by the
// SQLite reader and by the broker historical-candle client.
type CandleSource interface {
	ReadCandles(exchange, token string, tf int, afterTS int64) ([]model.Candle, error)
}

// Seeder replays today's candles from a CandleSource into an indicator
// engine before live processing starts.
type Seeder struct {
	Source CandleSource
	TF     int // timeframe of the stored candles, seconds
}

// New creates a Seeder reading tf-second candles from src.
func New(src CandleSource, tf int) *Seeder {
	return &Seeder{Source: src, TF: tf}
}

// Seed replays all candles from session open up to now for each instrument.
// Candles still forming at now are skipped. Returns the number of candles
// applied.
func (s *Seeder) Seed(eng *indicator.Engine, instruments []model.Instrument, now time.Time) (int, error) {
	open := markethours.SessionOpen(now)
	applied := 0

	for _, inst := range instruments {
		candles, err := s.Source.ReadCandles(inst.Exchange, inst.Token, s.TF, open.Unix()-1)
		if err != nil {
			return applied, fmt.Errorf("backfill %s: %w", inst.Key(), err)
		}
		n := 0
		for _, c := range candles {
			if c.CloseTime().After(now) {
				continue
			}
			eng.Update(c)
			n++
		}
		applied += n
		log.Printf("[backfill] seeded %s with %d candles since %s",
			inst.Key(), n, open.Format("15:04"))
	}
	return applied, nil
}
