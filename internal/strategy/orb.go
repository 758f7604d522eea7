package strategy

import (
	"signal-systemv1/internal/indicator"
	"signal-systemv1/internal/model"
)

// ORB implements an opening-range breakout with VWAP confirmation.
//
// Long: close breaks above the finalized opening-range high while above VWAP.
// Short: close breaks below the opening-range low while below VWAP.
// The breakout is edge-detected against the previous candle so a sustained
// move outside the range fires once, not on every candle.
type ORB struct{}

// NewORB creates the ORB strategy.
func NewORB() *ORB { return &ORB{} }

func (s *ORB) Name() string { return "orb" }

func (s *ORB) Evaluate(c model.Candle, prev *model.Candle, ind indicator.View) *model.Signal {
	if !ind.ORFinal || !ind.OROK || !ind.VWAPOK || prev == nil {
		return nil
	}

	vwap := int64(ind.VWAP)

	if c.Close > ind.ORHigh && prev.Close <= ind.ORHigh && c.Close > vwap {
		return s.signal(c, model.DirLong, "close above OR high with VWAP confirmation")
	}
	if c.Close < ind.ORLow && prev.Close >= ind.ORLow && c.Close < vwap {
		return s.signal(c, model.DirShort, "close below OR low with VWAP confirmation")
	}
	return nil
}

func (s *ORB) signal(c model.Candle, direction, reason string) *model.Signal {
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
