package strategy

import (
	"signal-systemv1/internal/indicator"
	"signal-systemv1/internal/model"
)

// VWAPCrossover signals when price crosses the session VWAP.
//
// Long: previous close at or below VWAP, current close above it.
// Short: previous close at or above VWAP, current close below it.
//
// The previous candle must be contiguous (prev close time == candle start),
// so a rollup gap never fakes a cross. Candles closing before the opening
// range finalizes are ignored; the early session chops across VWAP too
// often to be meaningful.
type VWAPCrossover struct{}

// NewVWAPCrossover creates the VWAP crossover strategy.
func NewVWAPCrossover() *VWAPCrossover { return &VWAPCrossover{} }

func (s *VWAPCrossover) Name() string { return "vwap_crossover" }

func (s *VWAPCrossover) Evaluate(c model.Candle, prev *model.Candle, ind indicator.View) *model.Signal {
	if !ind.VWAPOK || !ind.ORFinal || prev == nil {
		return nil
	}
	if !prev.CloseTime().Equal(c.TS) {
		return nil // gap between candles; cross direction is unknowable
	}

	vwap := int64(ind.VWAP)

	if prev.Close <= vwap && c.Close > vwap {
		return s.signal(c, model.DirLong, "close crossed above session VWAP")
	}
	if prev.Close >= vwap && c.Close < vwap {
		return s.signal(c, model.DirShort, "close crossed below session VWAP")
	}
	return nil
}

func (s *VWAPCrossover) signal(c model.Candle, direction, reason string) *model.Signal {
	return &model.Signal{
		ID:        signalID(s.Name(), c),
		Strategy:  s.Name(),
		Token:     c.Token,
		Exchange:  c.Exchange,
		Direction: direction,
		Price:     c.Close,
		TS:        c.CloseTime(),
		Reason:    reason,
	}
}
