// Package execution holds the paper trading ledger: position lifecycle,
// mark-to-market bookkeeping, the option quote cache and the SQLite journal.
// No real broker orders are ever placed.
package execution

import (
	"fmt"
	"log"
	"sync"
	"time"

	"signal-systemv1/internal/model"
)

// Ledger tracks paper positions. At most one open position may exist per
// instrument and direction. State transitions are OPEN → EXIT_REQUESTED →
// CLOSED; the risk evaluator proposes exits, the ledger commits them.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]*model.Position // key = "exchange:token:direction"
	closed    []model.Position

	// Hooks (optional, must be non-blocking). Called outside the lock.
	OnOpen  func(p model.Position)
	OnClose func(p model.Position)
}

// NewLedger creates an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{positions: make(map[string]*model.Position)}
}

// Open creates a position from an ACTIVE signal. The entry price is the
// signal's reference price when resolved; when no option quote was
// available at emission the position enters at the underlying price and
// drops the reference symbol, so entry, mark and best-mark all stay in the
// same price frame. Returns an error if a position is already open for the
// same instrument and direction.
func (l *Ledger) Open(sig model.Signal, qty int64, now time.Time) (model.Position, error) {
	entry := sig.RefPrice
	refSymbol := sig.RefSymbol
	if entry == 0 {
		entry = sig.Price
		refSymbol = ""
	}
	p := &model.Position{
		TradeID:   sig.ID,
		Strategy:  sig.Strategy,
		Token:     sig.Token,
		Exchange:  sig.Exchange,
		Index:     sig.Index,
		Direction: sig.Direction,
		RefSymbol: refSymbol,
		Qty:       qty,
		Entry:     entry,
		Mark:      entry,
		BestMark:  entry,
		Status:    model.PosOpen,
		OpenedAt:  now,
	}

	l.mu.Lock()
	if existing, ok := l.positions[p.Key()]; ok {
		l.mu.Unlock()
		return model.Position{}, fmt.Errorf("position already open for %s (trade %s)", p.Key(), existing.TradeID)
	}
	l.positions[p.Key()] = p
	snap := *p
	l.mu.Unlock()

	log.Printf("[ledger] OPEN %s %s %s qty=%d entry=%d trade=%s",
		p.Direction, p.Key(), p.RefSymbol, qty, entry, p.TradeID)
	if l.OnOpen != nil {
		l.OnOpen(snap)
	}
	return snap, nil
}

// UpdateMark sets the latest reference price for an open position and
// advances the favorable extreme. No-op for unknown keys.
func (l *Ledger) UpdateMark(key string, mark int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[key]
	if !ok || p.Status != model.PosOpen {
		return
	}
	p.Mark = mark
	if p.Direction == model.DirLong && mark > p.BestMark {
		p.BestMark = mark
	}
	if p.Direction == model.DirShort && mark < p.BestMark {
		p.BestMark = mark
	}
}

// RequestExit moves an open position to EXIT_REQUESTED with the reason.
func (l *Ledger) RequestExit(key, reason string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[key]
	if !ok || p.Status != model.PosOpen {
		return false
	}
	p.Status = model.PosExitRequested
	p.ExitReason = reason
	return true
}

// Close settles an EXIT_REQUESTED position at its current mark, freezing
// P&L = (mark − entry) · qty signed by direction, and removes it from the
// open set.
func (l *Ledger) Close(key string, now time.Time) (model.Position, error) {
	l.mu.Lock()
	p, ok := l.positions[key]
	if !ok {
		l.mu.Unlock()
		return model.Position{}, fmt.Errorf("no position for %s", key)
	}
	if p.Status != model.PosExitRequested {
		l.mu.Unlock()
		return model.Position{}, fmt.Errorf("position %s not exit-requested (status %s)", key, p.Status)
	}
	p.Status = model.PosClosed
	p.ClosedAt = now
	p.PnL = frozenPnL(p)
	delete(l.positions, key)
	snap := *p
	l.closed = append(l.closed, snap)
	l.mu.Unlock()

	log.Printf("[ledger] CLOSE %s %s exit=%d pnl=%d reason=%s trade=%s",
		snap.Direction, key, snap.Mark, snap.PnL, snap.ExitReason, snap.TradeID)
	if l.OnClose != nil {
		l.OnClose(snap)
	}
	return snap, nil
}

func frozenPnL(p *model.Position) int64 {
	d := p.Mark - p.Entry
	if p.Direction == model.DirShort {
		d = -d
	}
	return d * p.Qty
}

// OpenPositions returns a snapshot of all open and exit-requested positions.
func (l *Ledger) OpenPositions() []model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	return out
}

// ClosedPositions returns a snapshot of all positions closed this run.
func (l *Ledger) ClosedPositions() []model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Position, len(l.closed))
	copy(out, l.closed)
	return out
}
