// Package strategy provides signal strategies and the router that runs them.
//
// A Strategy inspects a completed candle together with the previous candle
// and the session indicator values, and may emit a directional Signal. The
// Router manages strategy lifecycle: registration, evaluation with panic
// isolation, trade-window filtering and per-direction daily caps.
package strategy

import (
	"signal-systemv1/internal/indicator"
	"signal-systemv1/internal/model"
)

// Strategy is the interface all signal strategies implement.
type Strategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// Evaluate is called for each completed signal-TF candle. prev is the
	// previous candle for the same instrument and TF, nil when none exists.
	// Return a Signal to act, or nil to skip.
	Evaluate(c model.Candle, prev *model.Candle, ind indicator.View) *model.Signal
}

// signalID builds the stable trade identifier "{strategy}-{token}-{YYYYMMDD}-{HHMM}".
func signalID(strategy string, c model.Candle) string {
	ct := c.CloseTime()
	return strategy + "-" + c.Token + "-" + ct.Format("20060102") + "-" + ct.Format("1504")
}
