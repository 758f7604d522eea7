package model

import (
	"encoding/json"
	"time"
)

// Trade directions.
const (
	DirLong  = "LONG"
	DirShort = "SHORT"
)

// Signal statuses.
const (
	SignalActive     = "ACTIVE"
	SignalSuppressed = "SUPPRESSED"
)

// Signal is a strategy's intent to take a directional position, emitted on a
// candle close. Price is the underlying's close; RefSymbol/RefPrice carry the
// resolved ATM option contract used for marking, when available.
type Signal struct {
	ID        string    `json:"id"` // "{strategy}-{token}-{YYYYMMDD}-{HHMM}"
	Strategy  string    `json:"strategy"`
	Token     string    `json:"token"`
	Exchange  string    `json:"exchange"`
	Index     string    `json:"index"` // NIFTY, BANKNIFTY
	Direction string    `json:"direction"`
	Price     int64     `json:"price"` // underlying close in paise
	RefSymbol string    `json:"ref_symbol,omitempty"`
	RefPrice  int64     `json:"ref_price,omitempty"` // option LTP in paise
	TS        time.Time `json:"ts"`                  // close time of the triggering candle
	Reason    string    `json:"reason"`
	Status    string    `json:"status"`
}

// Key returns "exchange:token".
func (s *Signal) Key() string {
	return s.Exchange + ":" + s.Token
}

// StreamKey returns the Redis stream key: "signal:{exchange}:{token}".
func (s *Signal) StreamKey() string {
	return "signal:" + s.Exchange + ":" + s.Token
}

// JSON returns the JSON-encoded signal.
func (s *Signal) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
