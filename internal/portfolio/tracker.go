// Package portfolio summarizes session performance over the paper ledger:
// realized P&L from closed trades and unrealized P&L from open marks.
package portfolio

import (
	"sync"

	"signal-systemv1/internal/model"
)

// Summary is the session performance snapshot served by the control API.
type Summary struct {
	Session       string           `json:"session"`
	Trades        int              `json:"trades"`
	Wins          int              `json:"wins"`
	Losses        int              `json:"losses"`
	RealizedPnL   int64            `json:"realized_pnl"`   // paise
	UnrealizedPnL int64            `json:"unrealized_pnl"` // paise
	ByStrategy    map[string]int64 `json:"by_strategy"`    // realized paise
	OpenPositions int              `json:"open_positions"`
}

// Tracker accumulates per-session performance from ledger events.
type Tracker struct {
	mu         sync.RWMutex
	session    string
	trades     []model.Trade
	realized   int64
	byStrategy map[string]int64
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{byStrategy: make(map[string]int64)}
}

// RecordClose folds one closed position into the session totals.
func (t *Tracker) RecordClose(p model.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trades = append(t.trades, model.Trade{
		TradeID:    p.TradeID,
		Strategy:   p.Strategy,
		Token:      p.Token,
		Exchange:   p.Exchange,
		Index:      p.Index,
		Direction:  p.Direction,
		RefSymbol:  p.RefSymbol,
		Qty:        p.Qty,
		Entry:      p.Entry,
		Exit:       p.Mark,
		PnL:        p.PnL,
		ExitReason: p.ExitReason,
		OpenedAt:   p.OpenedAt,
		ClosedAt:   p.ClosedAt,
	})
	t.realized += p.PnL
	t.byStrategy[p.Strategy] += p.PnL
}

// ResetSession clears the totals at session rollover.
func (t *Tracker) ResetSession(session string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.session = session
	t.trades = nil
	t.realized = 0
	t.byStrategy = make(map[string]int64)
}

// Summarize builds a Summary, folding in unrealized P&L from open positions.
func (t *Tracker) Summarize(open []model.Position) Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Summary{
		Session:       t.session,
		Trades:        len(t.trades),
		RealizedPnL:   t.realized,
		ByStrategy:    make(map[string]int64, len(t.byStrategy)),
		OpenPositions: len(open),
	}
	for k, v := range t.byStrategy {
		s.ByStrategy[k] = v
	}
	for _, tr := range t.trades {
		if tr.PnL >= 0 {
			s.Wins++
		} else {
			s.Losses++
		}
	}
	for _, p := range open {
		s.UnrealizedPnL += p.UnrealizedPnL()
	}
	return s
}

// Trades returns a snapshot of the session's closed trades.
func (t *Tracker) Trades() []model.Trade {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.Trade, len(t.trades))
	copy(out, t.trades)
	return out
}
