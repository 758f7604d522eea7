package model

import "time"

// Trade is a completed round trip recorded in the journal.
type Trade struct {
	TradeID    string    `json:"trade_id"`
	Strategy   string    `json:"strategy"`
	Token      string    `json:"token"`
	Exchange   string    `json:"exchange"`
	Index      string    `json:"index"`
	Direction  string    `json:"direction"`
	RefSymbol  string    `json:"ref_symbol,omitempty"`
	Qty        int64     `json:"qty"`
	Entry      int64     `json:"entry"` // paise
	Exit       int64     `json:"exit"`  // paise
	PnL        int64     `json:"pnl"`   // paise
	ExitReason string    `json:"exit_reason"`
	OpenedAt   time.Time `json:"opened_at"`
	ClosedAt   time.Time `json:"closed_at"`
}
