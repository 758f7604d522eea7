// Package risk evaluates exit rules for open paper positions. It only
// proposes exits; the execution ledger commits the state transitions.
package risk

import (
	"time"

	"signal-systemv1/internal/configstore"
	"signal-systemv1/internal/indicator"
	"signal-systemv1/internal/markethours"
	"signal-systemv1/internal/model"
)

// Evaluator applies the exit rules to open positions on every completed
// signal-TF candle. Rules run in strict precedence order; the first match
// wins:
//
//  1. hard time cutoff (HardExitTime, default 3:20 PM IST)
//  2. VWAP recross against the position
//  3. trailing stop on the mark's retrace from its favorable extreme
type Evaluator struct{}

// New creates an Evaluator.
func New() *Evaluator { return &Evaluator{} }

// Evaluate returns the exit reason for a position, or "" to keep holding.
// underlyingClose is the close of the triggering candle; the cutoff time
// and the per-index trailing distance come from the active config (a zero
// trail disables the trailing stop).
func (e *Evaluator) Evaluate(p *model.Position, ind indicator.View,
	underlyingClose int64, cfg configstore.Config, now time.Time) string {

	if p.Status != model.PosOpen {
		return ""
	}

	if markethours.PastCutoffAt(now, cfg.HardExitTime) {
		return model.ExitTimeCutoff
	}

	if ind.VWAPOK {
		vwap := int64(ind.VWAP)
		if p.Direction == model.DirLong && underlyingClose < vwap {
			return model.ExitVWAPRecross
		}
		if p.Direction == model.DirShort && underlyingClose > vwap {
			return model.ExitVWAPRecross
		}
	}

	trail := cfg.TrailFor(p.Index)
	if trail > 0 {
		if p.Direction == model.DirLong && p.BestMark-p.Mark >= trail {
			return model.ExitTrailing
		}
		if p.Direction == model.DirShort && p.Mark-p.BestMark >= trail {
			return model.ExitTrailing
		}
	}

	return ""
}
