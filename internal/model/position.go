package model

import (
	"encoding/json"
	"time"
)

// Position lifecycle states.
const (
	PosOpen          = "OPEN"
	PosExitRequested = "EXIT_REQUESTED"
	PosClosed        = "CLOSED"
)

// Exit reasons, in evaluation precedence order.
const (
	ExitTimeCutoff  = "TIME_CUTOFF"
	ExitVWAPRecross = "VWAP_RECROSS"
	ExitTrailing    = "TRAILING_STOP"
)

// Position is a paper position tracked from signal entry to exit.
// Mark is the latest reference price; BestMark is the running favorable
// extreme (max for LONG, min for SHORT) used by the trailing stop.
type Position struct {
	TradeID    string    `json:"trade_id"`
	Strategy   string    `json:"strategy"`
	Token      string    `json:"token"`
	Exchange   string    `json:"exchange"`
	Index      string    `json:"index"`
	Direction  string    `json:"direction"`
	RefSymbol  string    `json:"ref_symbol,omitempty"`
	Qty        int64     `json:"qty"`
	Entry      int64     `json:"entry"` // paise
	Mark       int64     `json:"mark"`  // paise
	BestMark   int64     `json:"best_mark"`
	Status     string    `json:"status"`
	ExitReason string    `json:"exit_reason,omitempty"`
	PnL        int64     `json:"pnl"` // paise, frozen at close
	OpenedAt   time.Time `json:"opened_at"`
	ClosedAt   time.Time `json:"closed_at,omitempty"`
}

// UnrealizedPnL computes the mark-to-market P&L in paise, signed by direction.
func (p *Position) UnrealizedPnL() int64 {
	d := p.Mark - p.Entry
	if p.Direction == DirShort {
		d = -d
	}
	return d * p.Qty
}

// Key returns the ledger key: "exchange:token:direction". At most one open
// position may exist per key.
func (p *Position) Key() string {
	return p.Exchange + ":" + p.Token + ":" + p.Direction
}

// JSON returns the JSON-encoded position.
func (p *Position) JSON() []byte {
	b, _ := json.Marshal(p)
	return b
}
